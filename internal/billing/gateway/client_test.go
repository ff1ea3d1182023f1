package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSubmission() Submission {
	return Submission{
		XML:         []byte("<Invoice/>"),
		TypeCode:    "03",
		Series:      "B001",
		Number:      "00000007",
		Correlative: "B001-00000007",
		IssuerRUC:   "20100070970",
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		code    string
		outcome Outcome
	}{
		{"2000", OutcomeAccepted},
		{"2001", OutcomeAccepted},
		{"4000", OutcomeRejected},
		{"4002", OutcomeRejected},
		{"5000", OutcomeError},
		{"5002", OutcomeError},
		{"9999", OutcomeError},
		{"", OutcomeError},
	}
	for _, tc := range cases {
		outcome, reason := Classify(tc.code)
		assert.Equal(t, tc.outcome, outcome, "code %q", tc.code)
		assert.NotEmpty(t, reason)
	}
}

func TestSubmitAccepted(t *testing.T) {
	var captured submitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/invoices/send", r.URL.Path)
		require.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		resp := submitResponse{}
		resp.CDR.Code = "2000"
		resp.CDR.Description = "Aceptado"
		resp.CDR.Content = base64.StdEncoding.EncodeToString([]byte("cdr-zip-bytes"))
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Token: "secret-token"}, testLogger())
	result, err := client.Submit(context.Background(), testSubmission())
	require.NoError(t, err)

	assert.Equal(t, OutcomeAccepted, result.Outcome)
	assert.Equal(t, "2000", result.Code)
	assert.Equal(t, "Aceptado", result.Message)
	assert.Equal(t, []byte("cdr-zip-bytes"), result.Acknowledgment)

	assert.Equal(t, "03", captured.DocumentType)
	assert.Equal(t, "B001", captured.Serie)
	assert.Equal(t, "00000007", captured.Numero)
	assert.Equal(t, "20100070970", captured.RUC)
	decoded, err := base64.StdEncoding.DecodeString(captured.XMLContent)
	require.NoError(t, err)
	assert.Equal(t, []byte("<Invoice/>"), decoded)
}

func TestSubmitRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := submitResponse{SunatCode: "4001", SunatMessage: "RUC del emisor inválido"}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, testLogger())
	result, err := client.Submit(context.Background(), testSubmission())
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, result.Outcome)
	assert.Equal(t, "4001", result.Code)
	assert.Equal(t, "RUC del emisor inválido", result.Message)
	assert.Empty(t, result.Acknowledgment)
}

func TestSubmitUnknownCodeFailsClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := submitResponse{SunatCode: "7777"}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, testLogger())
	result, err := client.Submit(context.Background(), testSubmission())
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, result.Outcome, "an unknown code must never count as acceptance")
	assert.Equal(t, "7777", result.Code)
}

func TestSubmitHTTPFailureClassifiesTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, testLogger())
	result, err := client.Submit(context.Background(), testSubmission())
	require.NoError(t, err, "transport-level failures are results, not errors")
	assert.Equal(t, OutcomeError, result.Outcome)
	assert.Equal(t, "HTTP_500", result.Code)
}

func TestSubmitMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, testLogger())
	result, err := client.Submit(context.Background(), testSubmission())
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, result.Outcome)
	assert.Equal(t, "BAD_RESPONSE", result.Code)
}

func TestSubmitTimeoutClassifiesTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}, testLogger())
	result, err := client.Submit(context.Background(), testSubmission())
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, result.Outcome)
	assert.Equal(t, "TIMEOUT", result.Code)
}

func TestSubmitConnectionRefused(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}, testLogger())
	result, err := client.Submit(context.Background(), testSubmission())
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, result.Outcome)
	assert.Equal(t, "CONNECTION_ERROR", result.Code)
}

func TestSubmitSandboxShortCircuits(t *testing.T) {
	client := NewClient(Config{Sandbox: true}, testLogger())
	result, err := client.Submit(context.Background(), testSubmission())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, result.Outcome)
	assert.Equal(t, "2000", result.Code)
	assert.Equal(t, []byte("SANDBOX-ACK B001-00000007"), result.Acknowledgment)
}

func TestFetchAcknowledgment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cdr/B001-00000007", r.URL.Path)
		_, _ = w.Write([]byte("stored-cdr"))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, testLogger())
	data, err := client.FetchAcknowledgment(context.Background(), "B001-00000007")
	require.NoError(t, err)
	assert.Equal(t, []byte("stored-cdr"), data)
}
