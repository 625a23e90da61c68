package restapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/restapi"
	"github.com/BlackOSSoftware/mspk-console/pkg/models"
)

const token = "operator-token"

// backend is a minimal in-memory admin API.
type backend struct {
	mu            sync.Mutex
	messages      []models.ChatMessage
	notifications []models.Notification
	lastSymbols   string
	readAll       bool
}

func (b *backend) router(t *testing.T) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("Authorization") != "Bearer "+token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	r.Get("/api/watchlist", func(w http.ResponseWriter, req *http.Request) {
		b.mu.Lock()
		b.lastSymbols = req.URL.Query().Get("symbols")
		b.mu.Unlock()
		prev := 48000.0
		writeJSON(w, []models.Instrument{
			{Symbol: "BANKNIFTY", Category: "index", LastPrice: 48123.5, PrevClose: &prev},
			{Symbol: "EURUSD", Category: "forex", LastPrice: 1.0823},
		})
	})

	r.Route("/api/tickets/{ticketID}", func(r chi.Router) {
		r.Get("/messages", func(w http.ResponseWriter, req *http.Request) {
			b.mu.Lock()
			defer b.mu.Unlock()
			writeJSON(w, b.messages)
		})
		r.Post("/reply", func(w http.ResponseWriter, req *http.Request) {
			var in struct {
				Message string `json:"message"`
			}
			assert.NoError(t, json.NewDecoder(req.Body).Decode(&in))
			b.mu.Lock()
			defer b.mu.Unlock()
			b.messages = append(b.messages, models.ChatMessage{
				ID:        "m2",
				TicketID:  chi.URLParam(req, "ticketID"),
				Sender:    models.RoleOperator,
				Body:      in.Message,
				Timestamp: time.Unix(1700000100, 0).UTC(),
			})
			writeJSON(w, b.messages)
		})
		r.Patch("/messages/{messageID}", func(w http.ResponseWriter, req *http.Request) {
			var in struct {
				Message string `json:"message"`
			}
			assert.NoError(t, json.NewDecoder(req.Body).Decode(&in))
			b.mu.Lock()
			defer b.mu.Unlock()
			for i := range b.messages {
				if b.messages[i].ID == chi.URLParam(req, "messageID") {
					b.messages[i].Body = in.Message
					b.messages[i].Edited = true
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			http.Error(w, "message not found", http.StatusNotFound)
		})
		r.Delete("/messages/{messageID}", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	r.Get("/api/notifications", func(w http.ResponseWriter, req *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		writeJSON(w, b.notifications)
	})
	r.Patch("/api/notifications/read-all", func(w http.ResponseWriter, req *http.Request) {
		b.mu.Lock()
		b.readAll = true
		b.mu.Unlock()
		writeJSON(w, map[string]bool{"success": true})
	})
	r.Patch("/api/notifications/{id}/read", func(w http.ResponseWriter, req *http.Request) {
		if chi.URLParam(req, "id") == "broken" {
			http.Error(w, "database down", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func (b *backend) snapshot() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSymbols, b.readAll
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func setup(t *testing.T) (*restapi.Client, *backend) {
	b := &backend{
		messages: []models.ChatMessage{
			{ID: "m1", TicketID: "42", Sender: models.RoleRequester, Body: "Help", Timestamp: time.Unix(1700000000, 0).UTC()},
		},
		notifications: []models.Notification{{ID: "n1", Title: "Signal"}},
	}
	srv := httptest.NewServer(b.router(t))
	t.Cleanup(srv.Close)
	return restapi.New(srv.URL+"/api/", token, zap.NewNop()), b
}

func TestClient_FetchWatchlist(t *testing.T) {
	c, b := setup(t)

	got, err := c.FetchWatchlist(context.Background(), []string{"BANKNIFTY", "EURUSD"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	symbols, _ := b.snapshot()
	assert.Equal(t, "BANKNIFTY,EURUSD", symbols)
	require.NotNil(t, got[0].PrevClose)
	assert.Equal(t, 48000.0, *got[0].PrevClose)
	assert.Nil(t, got[1].PrevClose)
}

func TestClient_Conversation(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	msgs, err := c.FetchConversation(ctx, "42")
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	msgs, err = c.PostReply(ctx, "42", "Hello")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleOperator, msgs[1].Sender)
	assert.Equal(t, "Hello", msgs[1].Body)

	require.NoError(t, c.EditMessage(ctx, "42", "m2", "Hello again"))
	require.NoError(t, c.DeleteMessage(ctx, "42", "m2"))

	err = c.EditMessage(ctx, "42", "missing", "x")
	var apiErr *restapi.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "message not found", apiErr.Body)
}

func TestClient_Notifications(t *testing.T) {
	c, b := setup(t)
	ctx := context.Background()

	items, err := c.FetchNotifications(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	require.NoError(t, c.MarkNotificationRead(ctx, "n1"))
	require.NoError(t, c.MarkAllNotificationsRead(ctx))
	_, readAll := b.snapshot()
	assert.True(t, readAll)

	var apiErr *restapi.APIError
	require.ErrorAs(t, c.MarkNotificationRead(ctx, "broken"), &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
}

func TestClient_Unauthorized(t *testing.T) {
	_, b := setup(t)
	srv := httptest.NewServer(b.router(t))
	defer srv.Close()

	c := restapi.New(srv.URL+"/api", "", zap.NewNop())
	_, err := c.FetchNotifications(context.Background())
	var apiErr *restapi.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}
