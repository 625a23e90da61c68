// Package restapi is the console's request/response client for the admin
// backend. Every call carries the operator's bearer token.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/chat"
	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/notify"
	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/quotes"
	"github.com/BlackOSSoftware/mspk-console/pkg/models"
)

// Compile-time checks that Client serves every reconciler
var (
	_ quotes.WatchlistAPI    = (*Client)(nil)
	_ chat.TicketAPI         = (*Client)(nil)
	_ notify.NotificationAPI = (*Client)(nil)
)

// APIError is returned for any non-2xx response.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Status, e.Body)
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// New builds a client for baseURL (e.g. http://localhost:5000/api). An empty
// token sends unauthenticated requests.
func New(baseURL, token string, logger *zap.Logger) *Client {
	hc := &http.Client{Timeout: 15 * time.Second}
	if token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
		hc = oauth2.NewClient(context.Background(), src)
		hc.Timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		logger:  logger,
	}
}

func (c *Client) FetchWatchlist(ctx context.Context, symbols []string) ([]models.Instrument, error) {
	path := "/watchlist"
	if len(symbols) > 0 {
		path += "?symbols=" + url.QueryEscape(strings.Join(symbols, ","))
	}
	var out []models.Instrument
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) FetchConversation(ctx context.Context, ticketID string) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	err := c.do(ctx, http.MethodGet, "/tickets/"+url.PathEscape(ticketID)+"/messages", nil, &out)
	return out, err
}

// PostReply sends an operator reply and returns the conversation as stored
// after it.
func (c *Client) PostReply(ctx context.Context, ticketID, body string) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	err := c.do(ctx, http.MethodPost, "/tickets/"+url.PathEscape(ticketID)+"/reply", messageBody{Message: body}, &out)
	return out, err
}

func (c *Client) EditMessage(ctx context.Context, ticketID, messageID, body string) error {
	return c.do(ctx, http.MethodPatch, messagePath(ticketID, messageID), messageBody{Message: body}, nil)
}

func (c *Client) DeleteMessage(ctx context.Context, ticketID, messageID string) error {
	return c.do(ctx, http.MethodDelete, messagePath(ticketID, messageID), nil, nil)
}

func (c *Client) FetchNotifications(ctx context.Context) ([]models.Notification, error) {
	var out []models.Notification
	err := c.do(ctx, http.MethodGet, "/notifications", nil, &out)
	return out, err
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPatch, "/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPatch, "/notifications/read-all", nil, nil)
}

type messageBody struct {
	Message string `json:"message"`
}

func messagePath(ticketID, messageID string) string {
	return "/tickets/" + url.PathEscape(ticketID) + "/messages/" + url.PathEscape(messageID)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Debug("API request rejected",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
