// Package realtime keeps the per-device notification socket open. The socket
// only carries terse "something changed" events; every event triggers a pull,
// and losing the socket only delays updates until the next periodic pull.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/backoff"
	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/logging"
	"github.com/dmitrijs2005/entrysync/internal/syncproto"
	"github.com/gorilla/websocket"
)

type Settings struct {
	URL              string
	DeviceID         string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	BackoffMin       time.Duration
	BackoffMax       time.Duration
}

func DefaultSettings() *Settings {
	return &Settings{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     25 * time.Second,
		BackoffMin:       backoff.DefaultMin,
		BackoffMax:       backoff.DefaultMax,
	}
}

// TokenSource returns the current access token.
type TokenSource func() string

type Client struct {
	settings *Settings
	token    TokenSource
	onChange func(syncproto.EntityChanged)
	dialer   *websocket.Dialer
	backoff  *backoff.Calculator
	log      logging.Logger

	connected atomic.Bool
}

func New(settings *Settings, token TokenSource, onChange func(syncproto.EntityChanged), log logging.Logger) *Client {
	return &Client{
		settings: settings,
		token:    token,
		onChange: onChange,
		dialer:   &websocket.Dialer{HandshakeTimeout: settings.HandshakeTimeout},
		backoff:  backoff.New(settings.BackoffMin, settings.BackoffMax),
		log:      log.With("module", "realtime", "device", settings.DeviceID),
	}
}

// Connected reports whether the socket is currently up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Run keeps the socket connected until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	for {
		ws, ready, err := c.connect(ctx)
		if err == nil {
			c.backoff.Reset()
			c.connected.Store(true)
			c.log.Info(ctx, "realtime connected", "user", ready.UserID)
			err = c.serve(ctx, ws)
			c.connected.Store(false)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn(ctx, "realtime connection lost", "error", err)
		if werr := c.backoff.Wait(ctx); werr != nil {
			return werr
		}
	}
}

// connect dials, sends the handshake keyed by device id and waits for the
// server to confirm it.
func (c *Client) connect(ctx context.Context) (*websocket.Conn, *syncproto.Ready, error) {
	header := http.Header{}
	header.Set(common.AccessTokenHeaderName, c.token())

	ws, resp, err := c.dialer.DialContext(ctx, c.settings.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, nil, fmt.Errorf("dial realtime: %w", common.ErrUnauthorized)
		}
		return nil, nil, fmt.Errorf("dial realtime: %w", err)
	}

	success := false
	defer func() {
		if !success {
			ws.Close()
		}
	}()

	hello, err := syncproto.NewMessage(syncproto.TypeHandshake, syncproto.Handshake{DeviceID: c.settings.DeviceID})
	if err != nil {
		return nil, nil, err
	}
	ws.SetWriteDeadline(time.Now().Add(c.settings.HandshakeTimeout))
	if err := ws.WriteJSON(hello); err != nil {
		return nil, nil, fmt.Errorf("send handshake: %w", err)
	}

	ws.SetReadDeadline(time.Now().Add(c.settings.HandshakeTimeout))
	var msg syncproto.Message
	if err := ws.ReadJSON(&msg); err != nil {
		return nil, nil, fmt.Errorf("read handshake reply: %w", err)
	}
	if msg.Type != syncproto.TypeReady {
		return nil, nil, fmt.Errorf("unexpected handshake reply %q", msg.Type)
	}
	var ready syncproto.Ready
	if err := msg.Decode(&ready); err != nil {
		return nil, nil, err
	}
	if ready.DeviceID != c.settings.DeviceID {
		return nil, nil, errors.New("handshake reply for another device")
	}

	success = true
	return ws, &ready, nil
}

// serve reads events until the socket fails or ctx is done. A writer
// goroutine keeps the connection alive with ping frames.
func (c *Client) serve(ctx context.Context, ws *websocket.Conn) error {
	defer ws.Close()

	handleCtx, handleCancel := context.WithCancel(ctx)
	defer handleCancel()

	ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
	})

	go func() {
		defer handleCancel()
		ticker := time.NewTicker(c.settings.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-handleCtx.Done():
				// unblock the reader
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(c.settings.WriteTimeout))
				_ = ws.Close()
				return
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.settings.WriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg syncproto.Message
		if err := ws.ReadJSON(&msg); err != nil {
			if handleCtx.Err() != nil {
				return handleCtx.Err()
			}
			return err
		}
		ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))

		switch msg.Type {
		case syncproto.TypeEntityChanged:
			var ev syncproto.EntityChanged
			if err := msg.Decode(&ev); err != nil {
				c.log.Warn(ctx, "dropping malformed event", "error", err)
				continue
			}
			if c.onChange != nil {
				c.onChange(ev)
			}
		default:
			c.log.Debug(ctx, "ignoring realtime message", "type", msg.Type)
		}
	}
}
