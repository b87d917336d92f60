package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/kiosk/internal/config"
	"github.com/Additional-Code/kiosk/pkg/errorbank"
)

// Invoice is a payable QR invoice created at the provider.
type Invoice struct {
	ID          string    `json:"id"`
	ExternalID  string    `json:"external_id"`
	InvoiceURL  string    `json:"invoice_url"`
	QRCodeImage string    `json:"qr_code_image"`
	Amount      int64     `json:"amount"`
	Status      string    `json:"status"`
	ExpiryDate  time.Time `json:"expiry_date"`
}

// Paid reports whether the provider considers the invoice settled.
func (i Invoice) Paid() bool {
	switch i.Status {
	case "PAID", "SETTLED", "COMPLETED":
		return true
	}
	return false
}

// Client talks to the cashless payment provider.
type Client interface {
	CreateInvoice(ctx context.Context, externalID string, amount int64, expiry time.Duration) (*Invoice, error)
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	// VerifyCallbackToken checks the shared-secret header on webhooks.
	VerifyCallbackToken(token string) bool
}

// Module wires the gateway client.
var Module = fx.Provide(NewClient)

// NewClient builds a gateway client based on configuration.
func NewClient(cfg config.Config, logger *zap.Logger) (Client, error) {
	switch cfg.Gateway.Driver {
	case "noop":
		logger.Info("payment gateway disabled; using noop client")

		return noopClient{}, nil
	case "http":
		return &httpClient{
			baseURL:       cfg.Gateway.BaseURL,
			apiKey:        cfg.Gateway.APIKey,
			callbackToken: cfg.Gateway.CallbackToken,
			http: &http.Client{
				Timeout: cfg.Gateway.RequestTimeout,
			},
			logger: logger,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported gateway driver: %s", cfg.Gateway.Driver)
	}
}

// noopClient accepts every invoice instantly; used in tests and local dev.
type noopClient struct{}

func (noopClient) CreateInvoice(_ context.Context, externalID string, amount int64, expiry time.Duration) (*Invoice, error) {
	return &Invoice{
		ID:         fmt.Sprintf("noop-%s", externalID),
		ExternalID: externalID,
		Amount:     amount,
		Status:     "PENDING",
		ExpiryDate: time.Now().UTC().Add(expiry),
	}, nil
}

func (noopClient) GetInvoice(_ context.Context, invoiceID string) (*Invoice, error) {
	return &Invoice{ID: invoiceID, Status: "PENDING"}, nil
}

func (noopClient) VerifyCallbackToken(string) bool { return true }

type httpClient struct {
	baseURL       string
	apiKey        string
	callbackToken string
	http          *http.Client
	logger        *zap.Logger
}

func (c *httpClient) CreateInvoice(ctx context.Context, externalID string, amount int64, expiry time.Duration) (*Invoice, error) {
	body := map[string]any{
		"external_id":      externalID,
		"amount":           amount,
		"expiry_seconds":   int(expiry.Seconds()),
		"payment_channels": []string{"QRPH"},
	}
	invoice := new(Invoice)
	if err := c.do(ctx, http.MethodPost, "/v2/invoices", body, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

func (c *httpClient) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	invoice := new(Invoice)
	if err := c.do(ctx, http.MethodGet, "/v2/invoices/"+invoiceID, nil, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

func (c *httpClient) VerifyCallbackToken(token string) bool {
	return c.callbackToken != "" && token == c.callbackToken
}

func (c *httpClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errorbank.Internal("encode gateway request", errorbank.WithCause(err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errorbank.Internal("build gateway request", errorbank.WithCause(err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errorbank.Gateway("payment provider unreachable", errorbank.WithCause(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if c.logger != nil {
			c.logger.Warn("gateway request failed",
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
				zap.ByteString("body", raw),
			)
		}
		return errorbank.Gateway(fmt.Sprintf("payment provider returned %d", resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errorbank.Gateway("malformed payment provider response", errorbank.WithCause(err))
	}
	return nil
}
