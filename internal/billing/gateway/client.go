package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Config carries the gateway connection settings.
type Config struct {
	BaseURL string
	Token   string
	Sandbox bool
	Timeout time.Duration
}

// Client submits composed documents to the PSE over HTTP. Calls for
// different sales may run fully in parallel; the client holds no state
// beyond the connection pool.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient builds a gateway client with a bounded request timeout.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Submission is one document dispatch.
type Submission struct {
	XML         []byte
	TypeCode    string
	Series      string
	Number      string
	Correlative string
	IssuerRUC   string
}

// Result is the classified gateway response.
type Result struct {
	Outcome        Outcome
	Code           string
	Message        string
	Acknowledgment []byte
}

type submitRequest struct {
	XMLContent   string `json:"xml_content"`
	DocumentType string `json:"document_type"`
	Serie        string `json:"serie"`
	Numero       string `json:"numero"`
	Correlative  string `json:"correlative"`
	RUC          string `json:"ruc"`
}

type submitResponse struct {
	CDR struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		Content     string `json:"content"`
	} `json:"cdr"`
	SunatCode    string `json:"sunat_code"`
	SunatMessage string `json:"sunat_message"`
}

// Submit dispatches the encoded document and classifies the acknowledgment.
// Transport failures and timeouts are not errors: they classify as a
// transient OutcomeError so the retry layer owns them.
func (c *Client) Submit(ctx context.Context, sub Submission) (*Result, error) {
	if c.cfg.Sandbox {
		c.logger.Warn("sandbox mode active, simulating acceptance",
			slog.String("correlative", sub.Correlative))
		return &Result{
			Outcome:        OutcomeAccepted,
			Code:           "2000",
			Message:        "Aceptado (sandbox)",
			Acknowledgment: []byte("SANDBOX-ACK " + sub.Correlative),
		}, nil
	}

	payload := submitRequest{
		XMLContent:   base64.StdEncoding.EncodeToString(sub.XML),
		DocumentType: sub.TypeCode,
		Serie:        sub.Series,
		Numero:       sub.Number,
		Correlative:  sub.Correlative,
		RUC:          sub.IssuerRUC,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal submission %s: %w", sub.Correlative, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/invoices/send", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gateway: build request %s: %w", sub.Correlative, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportFailure(sub.Correlative, err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("gateway rejected transport",
			slog.String("correlative", sub.Correlative),
			slog.Int("status", resp.StatusCode))
		return &Result{
			Outcome: OutcomeError,
			Code:    fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message: fmt.Sprintf("gateway returned status %d", resp.StatusCode),
		}, nil
	}

	var decoded submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return &Result{
			Outcome: OutcomeError,
			Code:    "BAD_RESPONSE",
			Message: "gateway response could not be decoded",
		}, nil
	}

	code := decoded.CDR.Code
	if code == "" {
		code = decoded.SunatCode
	}
	outcome, reason := Classify(code)
	message := decoded.CDR.Description
	if message == "" {
		message = decoded.SunatMessage
	}
	if message == "" {
		message = reason
	}

	var ack []byte
	if decoded.CDR.Content != "" {
		if raw, decErr := base64.StdEncoding.DecodeString(decoded.CDR.Content); decErr == nil {
			ack = raw
		}
	}

	return &Result{Outcome: outcome, Code: code, Message: message, Acknowledgment: ack}, nil
}

// FetchAcknowledgment downloads the acknowledgment artifact for a document
// when it was not returned inline or the local copy is gone.
func (c *Client) FetchAcknowledgment(ctx context.Context, correlative string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/cdr/"+correlative, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: build ack request %s: %w", correlative, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: fetch ack %s: %w", correlative, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway: fetch ack %s: status %d", correlative, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) transportFailure(correlative string, err error) *Result {
	code := "CONNECTION_ERROR"
	message := "could not reach the gateway"
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		code = "TIMEOUT"
		message = "gateway call timed out"
	} else if errors.Is(err, context.DeadlineExceeded) {
		code = "TIMEOUT"
		message = "gateway call timed out"
	}
	c.logger.Error("gateway transport failure",
		slog.String("correlative", correlative),
		slog.String("code", code),
		slog.Any("error", err))
	return &Result{Outcome: OutcomeError, Code: code, Message: message}
}
