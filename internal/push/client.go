// Package push dispatches device notifications through the Expo push API.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/koinonia/teamchat/internal/logging"
	"github.com/koinonia/teamchat/internal/models"
)

// DefaultBaseURL is the public Expo push endpoint host.
const DefaultBaseURL = "https://exp.host"

// ErrNoRecipients is returned for a message without destination tokens.
var ErrNoRecipients = errors.New("push message has no recipients")

// TicketError reports a per-token rejection from the push service.
type TicketError struct {
	Token   string
	Message string
	Code    string
}

func (e *TicketError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("push rejected for %s: %s (%s)", e.Token, e.Message, e.Code)
	}
	return fmt.Sprintf("push rejected for %s: %s", e.Token, e.Message)
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	AccessToken string

	// RatePerSec caps outbound requests; zero disables limiting
	RatePerSec float64

	HTTPClient *http.Client
}

// Client is a wrapper around the Expo push HTTP API.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      zerolog.Logger
}

// NewClient creates a push client.
func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	c := &Client{
		baseURL:     base,
		accessToken: opts.AccessToken,
		httpClient:  hc,
		logger:      logging.Component("push"),
	}
	if opts.RatePerSec > 0 {
		burst := int(opts.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	return c
}

type expoMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
	Sound string            `json:"sound,omitempty"`
}

type expoTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

type expoResponse struct {
	Data   []expoTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// doRequest posts body to the push API and returns the raw response.
func (c *Client) doRequest(ctx context.Context, endpoint string, body interface{}) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("push rate limiter: %w", err)
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	url := fmt.Sprintf("%s/--/api/v2/%s", c.baseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("push error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// Send dispatches msg to every token in msg.To. Per-token rejections are
// joined into the returned error.
func (c *Client) Send(ctx context.Context, msg models.PushMessage) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}

	batch := make([]expoMessage, 0, len(msg.To))
	for _, to := range msg.To {
		batch = append(batch, expoMessage{
			To:    to,
			Title: msg.Title,
			Body:  msg.Body,
			Data:  msg.Data,
			Sound: "default",
		})
	}

	respBody, err := c.doRequest(ctx, "push/send", batch)
	if err != nil {
		return err
	}

	var parsed expoResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("failed to parse push response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return fmt.Errorf("push error: %s", parsed.Errors[0].Message)
	}

	var errs []error
	for i, t := range parsed.Data {
		if t.Status == "ok" {
			continue
		}
		token := ""
		if i < len(batch) {
			token = batch[i].To
		}
		errs = append(errs, &TicketError{Token: token, Message: t.Message, Code: t.Details.Error})
	}
	if len(errs) > 0 {
		c.logger.Warn().Int("rejected", len(errs)).Int("sent", len(batch)).Msg("push tickets rejected")
		return errors.Join(errs...)
	}

	c.logger.Debug().Int("tokens", len(batch)).Str("title", msg.Title).Msg("push sent")
	return nil
}
