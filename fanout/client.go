package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"botstore/models"

	"github.com/gorilla/websocket"
)

type ClientState string

const (
	StateConnecting   ClientState = "connecting"
	StateConnected    ClientState = "connected"
	StateReconnecting ClientState = "reconnecting"
	StateClosed       ClientState = "closed"
)

// Client is the operator side of the channel. It reconnects with exponential
// backoff and calls Refresh after every successful connect, so events missed
// while disconnected are covered by a full reload.
type Client struct {
	URL    string
	Header http.Header

	Refresh func(ctx context.Context) error
	OnEvent func(models.Event)
	OnState func(ClientState)

	MinBackoff time.Duration
	MaxBackoff time.Duration
	// ReadyTimeout bounds the wait for the ready frame after dialing.
	// IdleTimeout bounds the silence between server pings once connected.
	// Both default to the server's pong window.
	ReadyTimeout time.Duration
	IdleTimeout  time.Duration
	Dialer       *websocket.Dialer
	Logger       *slog.Logger
}

// Run blocks until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	log := c.Logger
	if log == nil {
		log = slog.Default()
	}
	minB, maxB := c.MinBackoff, c.MaxBackoff
	if minB <= 0 {
		minB = 500 * time.Millisecond
	}
	if maxB < minB {
		maxB = 30 * time.Second
	}

	backoff := minB
	c.setState(StateConnecting)
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			c.setState(StateClosed)
			return ctx.Err()
		}
		if connected {
			backoff = minB
		}
		log.Warn("operator channel lost", "err", err, "retry_in", backoff)
		c.setState(StateReconnecting)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			c.setState(StateClosed)
			return ctx.Err()
		case <-t.C:
		}
		backoff *= 2
		if backoff > maxB {
			backoff = maxB
		}
	}
}

// session runs one connection. connected reports whether the ready frame
// arrived, which resets the backoff.
func (c *Client) session(ctx context.Context) (connected bool, err error) {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, c.URL, c.Header)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	readyWait, idleWait := c.ReadyTimeout, c.IdleTimeout
	if readyWait <= 0 {
		readyWait = pongWait
	}
	if idleWait <= 0 {
		idleWait = pongWait
	}

	var f Frame
	_ = conn.SetReadDeadline(time.Now().Add(readyWait))
	if err := conn.ReadJSON(&f); err != nil {
		return false, fmt.Errorf("read ready: %w", err)
	}
	if f.Type != FrameReady {
		return false, errors.New("expected ready frame, got " + f.Type)
	}
	c.setState(StateConnected)

	// a half-open connection shows up as missing pings
	_ = conn.SetReadDeadline(time.Now().Add(idleWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(idleWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	if c.Refresh != nil {
		if err := c.Refresh(ctx); err != nil {
			return true, fmt.Errorf("refresh: %w", err)
		}
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		if f.Type == FrameEvent && f.Event != nil && c.OnEvent != nil {
			c.OnEvent(*f.Event)
		}
		f = Frame{}
	}
}

func (c *Client) setState(s ClientState) {
	if c.OnState != nil {
		c.OnState(s)
	}
}
