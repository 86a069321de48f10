package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shiftwatch/fieldagent/internal/config"
	"github.com/shiftwatch/fieldagent/internal/models"
)

// Client talks to the authoritative ShiftWatch server. It is the only piece
// of the engine that crosses the network boundary for queue, cache and
// message data; the push transport shares the same server but speaks
// websocket separately.
type Client struct {
	baseURL      string
	deviceID     string
	deviceSecret string
	userAgent    string
	httpClient   *http.Client
}

// NewClient creates a remote API client
func NewClient(cfg config.RemoteConfig, deviceID string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		deviceID:     deviceID,
		deviceSecret: cfg.DeviceSecret,
		userAgent:    cfg.UserAgent,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    8,
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}
}

// BaseURL returns the configured server base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health checks the server health endpoint; used by the network monitor
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// FetchContacts pulls the current reference records. Malformed entries are
// skipped with a warning rather than failing the whole refresh.
func (c *Client) FetchContacts(ctx context.Context) ([]models.EmergencyContact, error) {
	var dtos []contactDTO
	if err := c.getJSON(ctx, "/reference-data", &dtos); err != nil {
		return nil, err
	}

	contacts := make([]models.EmergencyContact, 0, len(dtos))
	for _, dto := range dtos {
		contact, err := dto.toModel()
		if err != nil {
			log.Printf("⚠️  Skipping malformed reference record: %v", err)
			continue
		}
		contacts = append(contacts, contact)
	}
	return contacts, nil
}

// SubmitReport delivers one queued report. The client report ID travels in a
// header for log correlation only; the server does not dedupe on it, so a
// retry after a lost response can double-write (accepted at-least-once
// semantics).
func (c *Client) SubmitReport(ctx context.Context, report *models.QueuedReport) error {
	payload, err := report.Payload()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteRejected, err)
	}

	body := reportDTO{
		Severity:   payload.Severity,
		Message:    payload.Message,
		Location:   payload.Location,
		ShiftRef:   payload.ShiftRef,
		IsOffShift: payload.IsOffShift,
	}

	resp, err := c.do(ctx, http.MethodPost, "/reports", body, map[string]string{
		"X-Client-Report-ID": report.ID,
	})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// FetchMessages pulls the server-authoritative message list
func (c *Client) FetchMessages(ctx context.Context) ([]models.IncomingMessage, error) {
	var dtos []messageDTO
	if err := c.getJSON(ctx, "/messages", &dtos); err != nil {
		return nil, err
	}

	messages := make([]models.IncomingMessage, 0, len(dtos))
	for _, dto := range dtos {
		msg, err := dto.toModel()
		if err != nil {
			log.Printf("⚠️  Skipping malformed message: %v", err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// FetchPushKey retrieves the server's current public push key
func (c *Client) FetchPushKey(ctx context.Context) (string, error) {
	var dto pushKeyDTO
	if err := c.getJSON(ctx, "/push/public-key", &dto); err != nil {
		return "", err
	}
	if dto.PublicKey == "" {
		return "", fmt.Errorf("%w: empty public key in response", ErrRemoteRejected)
	}
	return dto.PublicKey, nil
}

// RegisterPushSubscription registers a subscription descriptor with the
// server. Re-sending the same descriptor is idempotent, so a caller may
// retry after a partial success.
func (c *Client) RegisterPushSubscription(ctx context.Context, sub models.PushSubscription) error {
	resp, err := c.do(ctx, http.MethodPost, "/push/subscriptions", sub, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// UnregisterPushSubscription removes the subscription for an endpoint. A 404
// means the server already has no subscription for this device, which is the
// end state we wanted, so it counts as success.
func (c *Client) UnregisterPushSubscription(ctx context.Context, endpoint string) error {
	path := "/push/subscriptions/" + url.PathEscape(endpoint)
	req, err := c.newRequest(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return statusToErr(resp)
}

// getJSON issues a GET and decodes the body into out
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: bad response body for %s: %v", ErrRemoteRejected, path, err)
	}
	return nil
}

// do issues a request and maps the outcome onto the error taxonomy. A
// returned response is always 2xx; the caller owns closing its body.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, body, headers)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnreachable, err)
	}

	if err := statusToErr(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}, headers map[string]string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if c.deviceSecret != "" {
		token, err := c.deviceToken()
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// deviceToken mints a short-lived identity token for the device
func (c *Client) deviceToken() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": c.deviceID,
		"iat": now.Unix(),
		"exp": now.Add(time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.deviceSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign device token: %w", err)
	}
	return signed, nil
}

// statusToErr maps an HTTP status onto the error taxonomy
func statusToErr(resp *http.Response) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: HTTP %d: %s", ErrRemoteRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	default:
		return fmt.Errorf("%w: HTTP %d", ErrRemoteUnavailable, resp.StatusCode)
	}
}
