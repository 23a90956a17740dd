package shelf

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"
)

// ChannelState is a state of the push channel state machine.
type ChannelState string

const (
	ChannelConnecting ChannelState = "connecting"
	ChannelOpen       ChannelState = "open"
	ChannelClosed     ChannelState = "closed"
)

// Push message types.
const (
	MessageBooks = "books"
	MessagePing  = "ping"
)

const (
	backoffFactor   = 1.5
	pushReadTimeout = 90 * time.Second
	pushWriteWait   = 10 * time.Second
)

// PushMessage is a server-initiated message. Data is kept verbatim.
type PushMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// PushChannel keeps a websocket connection to the push endpoint open and
// delivers book snapshots to subscribers. It reconnects forever with
// exponential backoff; connection errors never reach consumers.
type PushChannel struct {
	url     string
	dialer  *websocket.Dialer
	floor   time.Duration
	ceiling time.Duration
	logger  *slog.Logger

	mu          sync.RWMutex
	state       ChannelState
	conn        *websocket.Conn
	lastMessage *PushMessage
	retryCount  int
	delay       time.Duration
	handlers    []func([]Book)

	// observeDelay, when set, sees every scheduled reconnect delay.
	observeDelay func(time.Duration)
}

// NewPushChannel creates a channel for url. floor is the reconnect delay
// after a successful open; ceiling caps the delay growth.
func NewPushChannel(url string, floor, ceiling time.Duration, logger *slog.Logger) *PushChannel {
	if logger == nil {
		logger = slog.Default()
	}
	if ceiling < floor {
		ceiling = floor
	}
	return &PushChannel{
		url:     url,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		floor:   floor,
		ceiling: ceiling,
		logger:  logger,
		state:   ChannelClosed,
		delay:   floor,
	}
}

// newReconnectBackoff returns the reconnect schedule: each call grows the
// delay by backoffFactor, starting from floor, capped at ceiling.
func newReconnectBackoff(floor, ceiling time.Duration) retry.Backoff {
	delay := floor
	next := retry.BackoffFunc(func() (time.Duration, bool) {
		if delay < ceiling {
			delay = time.Duration(float64(delay) * backoffFactor)
		}
		return delay, false
	})
	return retry.WithCappedDuration(ceiling, next)
}

// IsConnected reports whether the connection is open.
func (p *PushChannel) IsConnected() bool {
	return p.State() == ChannelOpen
}

// State returns the current state machine state.
func (p *PushChannel) State() ChannelState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// LastMessage returns the latest well-formed message, or nil.
func (p *PushChannel) LastMessage() *PushMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastMessage == nil {
		return nil
	}
	msg := *p.lastMessage
	return &msg
}

// RetryCount returns the number of closes since the last successful open.
func (p *PushChannel) RetryCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.retryCount
}

// Delay returns the most recently scheduled reconnect delay.
func (p *PushChannel) Delay() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.delay
}

// OnSnapshot registers fn to receive every books snapshot.
func (p *PushChannel) OnSnapshot(fn func([]Book)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, fn)
}

// Run drives the connecting → open → closed → connecting cycle until ctx is
// cancelled.
func (p *PushChannel) Run(ctx context.Context) {
	backoff := newReconnectBackoff(p.floor, p.ceiling)

	for {
		if ctx.Err() != nil {
			p.setClosed(false)
			return
		}

		if conn := p.connect(ctx); conn != nil {
			backoff = newReconnectBackoff(p.floor, p.ceiling)
			p.readLoop(ctx, conn)
		}
		if ctx.Err() != nil {
			p.setClosed(false)
			return
		}
		p.setClosed(true)

		delay, _ := backoff.Next()
		p.mu.Lock()
		p.delay = delay
		retries := p.retryCount
		observe := p.observeDelay
		p.mu.Unlock()
		if observe != nil {
			observe(delay)
		}

		p.logger.Info("push channel reconnect scheduled",
			"component", "push",
			"delay_ms", delay.Milliseconds(),
			"retry_count", retries,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.setClosed(false)
			return
		case <-timer.C:
		}
	}
}

// connect dials the push endpoint. It returns nil on failure, and is
// suppressed while a connection is already open.
func (p *PushChannel) connect(ctx context.Context) *websocket.Conn {
	p.mu.Lock()
	if p.state == ChannelOpen {
		p.mu.Unlock()
		return nil
	}
	p.state = ChannelConnecting
	p.mu.Unlock()

	conn, resp, err := p.dialer.DialContext(ctx, p.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		p.logger.Debug("push channel connect failed",
			"component", "push",
			"url", p.url,
			"error", err,
		)
		return nil
	}

	p.mu.Lock()
	p.state = ChannelOpen
	p.conn = conn
	p.retryCount = 0
	p.delay = p.floor
	p.mu.Unlock()

	p.logger.Info("push channel connected",
		"component", "push",
		"url", p.url,
	)
	return conn
}

// readLoop consumes messages until the connection fails or ctx ends.
func (p *PushChannel) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pushReadTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pushReadTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(pushWriteWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Info("push channel disconnected",
					"component", "push",
					"error", err,
				)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pushReadTimeout))
		p.handleMessage(data)
	}
}

func (p *PushChannel) handleMessage(data []byte) {
	var msg PushMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		p.logger.Warn("push channel dropped malformed message",
			"component", "push",
			"error", err,
			"bytes", len(data),
		)
		return
	}

	var books []Book
	if msg.Type == MessageBooks {
		if err := decodeSnapshot(msg.Data, &books); err != nil {
			p.logger.Warn("push channel dropped malformed books snapshot",
				"component", "push",
				"error", err,
			)
			return
		}
	}

	p.mu.Lock()
	p.lastMessage = &msg
	handlers := append([]func([]Book){}, p.handlers...)
	p.mu.Unlock()

	if msg.Type != MessageBooks {
		return
	}
	for _, fn := range handlers {
		fn(books)
	}
}

// decodeSnapshot decodes a books payload. A missing or null payload is an
// error; only an explicit array replaces the catalog.
func decodeSnapshot(data json.RawMessage, books *[]Book) error {
	if err := json.Unmarshal(data, books); err != nil {
		return err
	}
	if *books == nil {
		return errors.New("books snapshot has no data")
	}
	return nil
}

// setClosed moves to the closed state; counted closes bump the retry count.
func (p *PushChannel) setClosed(count bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = ChannelClosed
	p.conn = nil
	if count {
		p.retryCount++
	}
}
