package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dawgdevv/identity-reconciliation/internal/database"
	"github.com/dawgdevv/identity-reconciliation/internal/logging"
	"github.com/dawgdevv/identity-reconciliation/internal/models"
	"github.com/dawgdevv/identity-reconciliation/internal/service"
)

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := logging.Discard()
	db, err := database.New(":memory:", database.Options{Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc := service.NewReconciliationService(db, service.WithLogger(logger))
	srv := httptest.NewServer(NewRouter(svc, db, logger))
	t.Cleanup(srv.Close)
	return srv
}

func postIdentify(t *testing.T, srv *httptest.Server, body string) (*http.Response, map[string]any) {
	t.Helper()

	resp, err := http.Post(srv.URL+"/identify", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func decodeContact(t *testing.T, raw map[string]any) models.ContactResponse {
	t.Helper()

	contact, ok := raw["contact"].(map[string]any)
	require.True(t, ok, "response has no contact object: %v", raw)
	require.Contains(t, contact, "primaryContatctId", "field name is part of the contract")

	data, err := json.Marshal(contact)
	require.NoError(t, err)

	var c models.ContactResponse
	require.NoError(t, json.Unmarshal(data, &c))
	return c
}

func TestIdentifyEndpoint(t *testing.T) {
	srv := setupServer(t)

	resp, raw := postIdentify(t, srv, `{"email":"lorraine@hillvalley.edu","phoneNumber":"123456"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	first := decodeContact(t, raw)
	assert.Equal(t, []string{"lorraine@hillvalley.edu"}, first.Emails)
	assert.Equal(t, []string{"123456"}, first.PhoneNumbers)
	assert.Empty(t, first.SecondaryContactIDs)

	resp, raw = postIdentify(t, srv, `{"email":"mcfly@hillvalley.edu","phoneNumber":"123456"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decodeContact(t, raw)
	assert.Equal(t, first.PrimaryContactID, second.PrimaryContactID)
	assert.Equal(t, []string{"lorraine@hillvalley.edu", "mcfly@hillvalley.edu"}, second.Emails)
	assert.Equal(t, []string{"123456"}, second.PhoneNumbers)
	require.Len(t, second.SecondaryContactIDs, 1)

	t.Run("numeric phone number", func(t *testing.T) {
		resp, raw := postIdentify(t, srv, `{"email":null,"phoneNumber":123456}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		c := decodeContact(t, raw)
		assert.Equal(t, second, c)
	})

	t.Run("lookup by secondary id", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/contacts/" + jsonInt(second.SecondaryContactIDs[0]))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var raw map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
		assert.Equal(t, second, decodeContact(t, raw))
	})
}

func TestIdentifyEndpoint_Merge(t *testing.T) {
	srv := setupServer(t)

	_, raw := postIdentify(t, srv, `{"email":"george@hillvalley.edu","phoneNumber":"919191"}`)
	george := decodeContact(t, raw)
	_, raw = postIdentify(t, srv, `{"email":"biffsucks@hillvalley.edu","phoneNumber":"717171"}`)
	biff := decodeContact(t, raw)
	require.NotEqual(t, george.PrimaryContactID, biff.PrimaryContactID)

	resp, raw := postIdentify(t, srv, `{"email":"george@hillvalley.edu","phoneNumber":"717171"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	merged := decodeContact(t, raw)

	assert.Equal(t, george.PrimaryContactID, merged.PrimaryContactID)
	assert.Equal(t, []string{"george@hillvalley.edu", "biffsucks@hillvalley.edu"}, merged.Emails)
	assert.Equal(t, []string{"919191", "717171"}, merged.PhoneNumbers)
	assert.Contains(t, merged.SecondaryContactIDs, biff.PrimaryContactID)
}

func TestIdentifyEndpoint_Errors(t *testing.T) {
	srv := setupServer(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "empty object", body: `{}`, status: http.StatusBadRequest},
		{name: "nulls", body: `{"email":null,"phoneNumber":null}`, status: http.StatusBadRequest},
		{name: "empty strings", body: `{"email":"","phoneNumber":""}`, status: http.StatusBadRequest},
		{name: "malformed", body: `{"email":`, status: http.StatusBadRequest},
		{name: "wrong type", body: `{"phoneNumber":true}`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := postIdentify(t, srv, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, raw["error"])
		})
	}

	t.Run("method not allowed", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/identify")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("bad contact id", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/contacts/abc")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown contact", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/contacts/999")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestHealth(t *testing.T) {
	srv := setupServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type stubReconciler struct {
	err   error
	panic bool
}

func (s stubReconciler) Identify(ctx context.Context, req models.IdentifyRequest) (*models.IdentifyResponse, error) {
	if s.panic {
		panic("boom")
	}
	return nil, s.err
}

func (s stubReconciler) Lookup(ctx context.Context, id int64) (*models.IdentifyResponse, error) {
	return nil, s.err
}

func TestHandlers_WithStubs(t *testing.T) {
	logger := logging.Discard()

	t.Run("storage error maps to 500", func(t *testing.T) {
		storageErr := &service.StorageError{Op: "reconcile", Err: errors.New("disk full")}
		router := NewRouter(stubReconciler{err: storageErr}, failingPinger{}, logger)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/identify", strings.NewReader(`{"email":"a@b.c"}`))
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "disk full", "internal details stay in the logs")
	})

	t.Run("panic is recovered", func(t *testing.T) {
		router := NewRouter(stubReconciler{panic: true}, failingPinger{}, logger)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/identify", strings.NewReader(`{"email":"a@b.c"}`))
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("unhealthy store", func(t *testing.T) {
		router := NewRouter(stubReconciler{}, failingPinger{}, logger)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("request id", func(t *testing.T) {
		router := NewRouter(stubReconciler{}, failingPinger{}, logger)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		router.ServeHTTP(rec, req)
		assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Len(t, rec.Header().Get(RequestIDHeader), 36, "generated ids are UUIDs")
	})

	t.Run("unmatched routes pass through middleware", func(t *testing.T) {
		var logs bytes.Buffer
		accessLogger, err := logging.New(&logs, "info", "logfmt")
		require.NoError(t, err)
		router := NewRouter(stubReconciler{}, failingPinger{}, accessLogger)

		tests := []struct {
			method string
			path   string
			status int
			id     string
		}{
			{method: http.MethodGet, path: "/nowhere", status: http.StatusNotFound, id: "req-404"},
			{method: http.MethodDelete, path: "/identify", status: http.StatusMethodNotAllowed, id: "req-405"},
		}

		for _, tt := range tests {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set(RequestIDHeader, tt.id)
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.id, rec.Header().Get(RequestIDHeader))
			assert.Contains(t, logs.String(), "request_id="+tt.id)
			assert.Contains(t, logs.String(), "status="+strconv.Itoa(tt.status))
		}
	})
}

func jsonInt(n int64) string {
	data, _ := json.Marshal(n)
	return string(data)
}
