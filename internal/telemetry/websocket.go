// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Control message types exchanged with the gateway.
const (
	TypeConnectionAck = "connection_ack"
)

// Control is a non-event message on the websocket.
type Control struct {
	Type string `json:"type"`
	SID  string `json:"sid,omitempty"`
}

// WSOptions tunes reconnect and heartbeat.
type WSOptions struct {
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongWait         time.Duration
	WriteWait        time.Duration
	Outbox           int
}

// DefaultWSOptions mirrors the frontend's socket settings: retry quickly,
// back off to 3s, never give up.
func DefaultWSOptions() WSOptions {
	return WSOptions{
		MinBackoff:       500 * time.Millisecond,
		MaxBackoff:       3 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		PingInterval:     10 * time.Second,
		PongWait:         25 * time.Second,
		WriteWait:        2 * time.Second,
		Outbox:           4,
	}
}

var errHandshake = errors.New("websocket: no connection_ack from server")

// WSChannel sends events to the gateway over a websocket. It is ready only
// after the gateway's connection_ack, not merely after the TCP/HTTP upgrade.
type WSChannel struct {
	url    string
	opts   WSOptions
	dialer *websocket.Dialer

	ready  atomic.Bool
	sid    atomic.Value // string
	outbox chan Event

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWSChannel creates the channel. Call Start to begin connecting.
func NewWSChannel(url string, opts WSOptions) *WSChannel {
	return &WSChannel{
		url:    url,
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		outbox: make(chan Event, opts.Outbox),
		done:   make(chan struct{}),
	}
}

// Start runs the connect loop until ctx is cancelled or Close is called.
func (c *WSChannel) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

// Ready reports whether a session is established.
func (c *WSChannel) Ready() bool { return c.ready.Load() }

// SessionID returns the id assigned by the gateway, "" when not connected.
func (c *WSChannel) SessionID() string {
	if v, ok := c.sid.Load().(string); ok && c.Ready() {
		return v
	}
	return ""
}

// Send queues the event for the writer; it drops when the writer is behind.
func (c *WSChannel) Send(ev Event) {
	select {
	case c.outbox <- ev:
	default:
		log.Printf("websocket: writer busy, dropping %s event", ev.State)
	}
}

// Close stops the connect loop and waits for it to exit. Events already
// queued on a live session are written first.
func (c *WSChannel) Close() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

func (c *WSChannel) run(ctx context.Context) {
	defer close(c.done)

	backoff := c.opts.MinBackoff
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err == nil {
			backoff = c.opts.MinBackoff
			err = c.session(ctx, conn)
			c.ready.Store(false)
			c.drain()
		}
		if ctx.Err() != nil {
			return
		}
		log.Printf("websocket: %s: %v (retry in %s)", c.url, err, backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.opts.MaxBackoff)
	}
}

// drain discards events queued for a session that is gone; they are not
// replayed.
func (c *WSChannel) drain() {
	for {
		select {
		case <-c.outbox:
		default:
			return
		}
	}
}

// flush writes whatever is still queued before a clean close.
func (c *WSChannel) flush(conn *websocket.Conn) {
	for {
		select {
		case ev := <-c.outbox:
			conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *WSChannel) session(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	var ack Control
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("%w: %v", errHandshake, err)
	}
	if ack.Type != TypeConnectionAck {
		return fmt.Errorf("%w: got %q", errHandshake, ack.Type)
	}
	c.sid.Store(ack.SID)
	c.ready.Store(true)
	log.Printf("websocket: session %s established with %s", ack.SID, c.url)

	conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			var msg Control
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Printf("websocket: ignoring malformed message: %v", err)
				continue
			}
			// nothing inbound drives the counter
		}
	}()

	ping := time.NewTicker(c.opts.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			c.flush(conn)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.opts.WriteWait))
			return ctx.Err()

		case err := <-readErr:
			return err

		case ev := <-c.outbox:
			conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return fmt.Errorf("write: %w", err)
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}
