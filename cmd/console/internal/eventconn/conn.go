// Package eventconn is the console's single push connection to the gateway.
// It sends channel join/leave frames and hands every event frame to a
// Dispatcher, normally the channel registry.
package eventconn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/channel"
	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/metrics"
	"github.com/BlackOSSoftware/mspk-console/pkg/models"
	"github.com/BlackOSSoftware/mspk-console/pkg/protocol"
)

const (
	writeWait   = 5 * time.Second
	pingPeriod  = 45 * time.Second
	baseBackoff = time.Second
	maxBackoff  = 30 * time.Second
)

// Dispatcher consumes connection state and incoming events.
type Dispatcher interface {
	Dispatch(name string, ev models.Event)
	SetReady(ready bool)
	Reject(name string)
}

var _ channel.Transport = (*Conn)(nil)

type Conn struct {
	url    string
	header http.Header
	logger *zap.Logger

	mu      sync.Mutex // guards ws and serialises writes
	ws      *websocket.Conn
	reqSeq  atomic.Uint64
	backoff time.Duration
}

// New prepares a connection to url. token, when set, is sent as a bearer header.
func New(url, token string, logger *zap.Logger) *Conn {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &Conn{url: url, header: header, logger: logger, backoff: baseBackoff}
}

// Join sends a subscribe frame. It returns channel.ErrNotReady when disconnected.
func (c *Conn) Join(name string) error {
	return c.send(protocol.ActionSubscribe, name)
}

// Leave sends an unsubscribe frame. It returns channel.ErrNotReady when disconnected.
func (c *Conn) Leave(name string) error {
	return c.send(protocol.ActionUnsubscribe, name)
}

func (c *Conn) send(action, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ws == nil {
		return channel.ErrNotReady
	}
	req := protocol.WSRequest{
		Action:  action,
		Payload: protocol.RequestPayload{Channels: []string{name}},
		ID:      strconv.FormatUint(c.reqSeq.Add(1), 10),
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(req); err != nil {
		return fmt.Errorf("write %s %s: %w", action, name, err)
	}
	return nil
}

// Connected reports whether a socket is currently open.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// Run keeps the connection up until ctx is cancelled, reconnecting with
// exponential backoff. Events missed while down are not replayed.
func (c *Conn) Run(ctx context.Context, d Dispatcher) error {
	first := true
	for {
		if !first {
			metrics.Reconnects.Inc()
		}
		first = false

		if err := c.runOnce(ctx, d); err != nil && ctx.Err() == nil {
			c.logger.Warn("Event connection lost", zap.Error(err), zap.Duration("retry_in", c.backoff))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff):
			if c.backoff < maxBackoff {
				c.backoff *= 2
				if c.backoff > maxBackoff {
					c.backoff = maxBackoff
				}
			}
		}
	}
}

func (c *Conn) runOnce(ctx context.Context, d Dispatcher) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.ws = ws
	c.backoff = baseBackoff
	c.mu.Unlock()
	c.logger.Info("Event connection established", zap.String("url", c.url))

	defer func() {
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		d.SetReady(false)
		ws.Close()
	}()

	d.SetReady(true)

	errCh := make(chan error, 1)
	go func() {
		for {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			c.handleFrame(d, raw)
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return ctx.Err()
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		case err := <-errCh:
			return err
		}
	}
}

// handleFrame never lets a bad frame escape into the read loop.
func (c *Conn) handleFrame(d Dispatcher, raw []byte) {
	var frame protocol.WSResponse
	if err := json.Unmarshal(raw, &frame); err != nil {
		metrics.MalformedPayloads.WithLabelValues("frame").Inc()
		c.logger.Warn("Discarding malformed frame", zap.Error(err))
		return
	}

	for _, name := range frame.Rejected {
		d.Reject(name)
	}

	switch frame.Type {
	case protocol.TypeAck:
		c.logger.Debug("Gateway ack", zap.String("id", frame.ID), zap.String("message", frame.Message))
	case protocol.TypeError:
		c.logger.Warn("Gateway error", zap.String("id", frame.ID), zap.String("message", frame.Message))
	case models.EventTick, models.EventNewTicketMessage:
		if frame.Channel == "" {
			metrics.MalformedPayloads.WithLabelValues(frame.Type).Inc()
			c.logger.Warn("Discarding event without channel", zap.String("type", frame.Type))
			return
		}
		d.Dispatch(frame.Channel, models.Event{
			Type:    frame.Type,
			Channel: frame.Channel,
			SeqID:   frame.SeqID,
			Data:    frame.Data,
		})
	default:
		c.logger.Debug("Ignoring frame", zap.String("type", frame.Type))
	}
}
