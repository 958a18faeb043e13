// Package gateway is the payment provider client: banking billet charges with
// an OAuth client-credentials token kept in an in-process cache.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTimeout bounds every gateway request.
	DefaultTimeout = 30 * time.Second
	tokenKey       = "gateway:access_token"
	tokenMargin    = 300 * time.Second
)

// Config configures the client.
type Config struct {
	BaseURL         string
	ClientID        string
	ClientSecret    string
	NotificationURL string
	Timeout         time.Duration
}

// Client talks to the payment provider API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     *ristretto.Cache[string, string]
	flight     singleflight.Group
	logger     *slog.Logger
}

// NewClient builds the client. Close releases the token cache.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("gateway: base url required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	tokens, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 100,
		MaxCost:     10,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: token cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tokens:     tokens,
		logger:     logger,
	}, nil
}

// Close shuts down the token cache.
func (c *Client) Close() {
	c.tokens.Close()
}

// CreateCharge issues a one-step banking billet charge.
func (c *Client) CreateCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if len(req.Items) == 0 {
		return ChargeResult{}, errors.New("gateway: charge needs at least one item")
	}
	payload := wireCharge{}
	for _, item := range req.Items {
		qty := item.Qty
		if qty <= 0 {
			qty = 1
		}
		payload.Items = append(payload.Items, wireItem{Name: item.Name, Value: cents(item.Amount), Amount: qty})
	}
	payload.Payment.BankingBillet = wireBillet{
		Customer: req.Customer,
		ExpireAt: req.DueDate.Format("2006-01-02"),
		Message:  req.Message,
	}
	if req.Config != nil {
		payload.Payment.BankingBillet.Configurations = &wireBilletConfig{
			Fine:     cents(req.Config.Fine),
			Interest: cents(req.Config.Interest),
		}
	}
	if c.cfg.NotificationURL != "" {
		payload.Metadata = &wireMetadata{NotificationURL: c.cfg.NotificationURL}
	}

	var resp wireChargeResponse
	if err := c.call(ctx, http.MethodPost, "/charge/one-step", payload, &resp); err != nil {
		return ChargeResult{}, fmt.Errorf("gateway: create charge: %w", err)
	}
	return ChargeResult{
		ChargeID: strconv.FormatInt(resp.Data.ChargeID, 10),
		Barcode:  resp.Data.Barcode,
		Link:     resp.Data.Link,
		QRCode:   resp.Data.Pix.QRCode,
		Status:   resp.Data.Status,
		Total:    fromCents(resp.Data.Total),
	}, nil
}

// QueryCharge fetches the current status of a charge.
func (c *Client) QueryCharge(ctx context.Context, chargeID string) (ChargeStatus, error) {
	if chargeID == "" {
		return ChargeStatus{}, errors.New("gateway: charge id required")
	}
	var resp wireChargeResponse
	if err := c.call(ctx, http.MethodGet, "/charge/"+chargeID, nil, &resp); err != nil {
		return ChargeStatus{}, fmt.Errorf("gateway: query charge %s: %w", chargeID, err)
	}
	return ChargeStatus{
		ChargeID:      chargeID,
		Status:        resp.Data.Status,
		Total:         fromCents(resp.Data.Total),
		PaymentMethod: resp.Data.Payment,
	}, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	if token, ok := c.tokens.Get(tokenKey); ok {
		return token, nil
	}
	// Concurrent misses share one authorize round trip.
	v, err, _ := c.flight.Do(tokenKey, func() (any, error) {
		if token, ok := c.tokens.Get(tokenKey); ok {
			return token, nil
		}
		return c.authorize(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) authorize(ctx context.Context) (string, error) {
	body := bytes.NewBufferString(`{"grant_type":"client_credentials"}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/authorize", body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/json")

	var tok tokenResponse
	if err := c.do(req, &tok); err != nil {
		return "", fmt.Errorf("authorize: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrGatewayUnavailable)
	}
	if ttl := time.Duration(tok.ExpiresIn)*time.Second - tokenMargin; ttl > 0 {
		c.tokens.SetWithTTL(tokenKey, tok.AccessToken, 1, ttl)
		c.tokens.Wait()
	}
	return tok.AccessToken, nil
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	err = c.do(req, out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		c.tokens.Del(tokenKey)
	}
	return err
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("gateway request failed", slog.String("path", req.URL.Path), slog.Any("error", err))
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrGatewayUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}
