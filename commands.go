package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/dawgdevv/identity-reconciliation/internal/config"
	"github.com/dawgdevv/identity-reconciliation/internal/database"
	"github.com/dawgdevv/identity-reconciliation/internal/handlers"
	"github.com/dawgdevv/identity-reconciliation/internal/models"
	"github.com/dawgdevv/identity-reconciliation/internal/service"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the HTTP server (default)",
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	db, err := database.New(cfg.Database.URL, dbOptions(cfg, logger))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	svc := service.NewReconciliationService(db, service.WithLogger(logger))

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handlers.NewRouter(svc, db, logger),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "addr", srv.Addr, "dialect", db.Dialect())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down", "timeout", cfg.Server.ShutdownTimeout.Duration)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending schema migrations, or roll back the latest one",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "down",
				Usage: "Roll back the most recent migration",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}

			db, err := database.Open(cfg.Database.URL, dbOptions(cfg, logger))
			if err != nil {
				return err
			}
			defer db.Close()

			w := output(cmd)
			if cmd.Bool("down") {
				version, err := db.Rollback()
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "rolled back migration %d\n", version)
				return nil
			}

			applied, err := db.MigrateUp()
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(w, "schema is up to date")
				return nil
			}
			fmt.Fprintf(w, "applied migrations %v\n", applied)
			return nil
		},
	}
}

func identifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "identify",
		Usage: "Reconcile one email/phone observation against the local database",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Usage: "Email address"},
			&cli.StringFlag{Name: "phone", Aliases: []string{"p"}, Usage: "Phone number"},
			&cli.BoolFlag{Name: "json", Usage: "Print the response body as JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}

			db, err := database.New(cfg.Database.URL, dbOptions(cfg, logger))
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer db.Close()

			svc := service.NewReconciliationService(db, service.WithLogger(logger))
			result, err := svc.Reconcile(ctx, optional(cmd.String("email")), optional(cmd.String("phone")))
			if err != nil {
				return err
			}

			w := output(cmd)
			if cmd.Bool("json") {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(models.IdentifyResponse{Contact: result.Contact})
			}

			printSummary(w, result)
			return nil
		},
	}
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Write an example configuration file",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.String("config")
			if err := config.CreateConfigFile(path); err != nil {
				return err
			}
			fmt.Fprintf(output(cmd), "wrote %s\n", path)
			return nil
		},
	}
}

func printSummary(w io.Writer, result *service.Result) {
	header := color.New(color.Bold)
	label := color.New(color.FgCyan)
	created := color.New(color.FgGreen)

	c := result.Contact
	header.Fprintf(w, "primary contact %d\n", c.PrimaryContactID)
	label.Fprint(w, "  emails:      ")
	fmt.Fprintln(w, strings.Join(c.Emails, ", "))
	label.Fprint(w, "  phones:      ")
	fmt.Fprintln(w, strings.Join(c.PhoneNumbers, ", "))
	label.Fprint(w, "  secondaries: ")
	fmt.Fprintln(w, joinIDs(c.SecondaryContactIDs))

	if result.Created {
		created.Fprintln(w, "  recorded new contact")
	}
	if result.Relinked > 0 {
		fmt.Fprintf(w, "  relinked %d contact(s)\n", result.Relinked)
	}
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
