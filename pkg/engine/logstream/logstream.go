// Package logstream subscribes to the engine's execution log feed. The
// connection auto-retries with bounded backoff and must be closed when the
// session ends so no socket leaks past teardown.
package logstream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
)

type Config struct {
	URL      string
	APIKey   string
	Logger   *slog.Logger
	ChanSize int

	// MaxAttempts bounds consecutive failed reconnects before the stream
	// gives up. Zero means DefaultMaxAttempts.
	MaxAttempts int
}

const (
	DefaultMaxAttempts = 5
	baseBackoff        = 500 * time.Millisecond
	maxBackoff         = 10 * time.Second
)

type Record struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	RunID     string    `json:"runId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Stream struct {
	c      chan Record
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
}

// C delivers log records until the stream is closed or gives up.
func (s *Stream) C() <-chan Record {
	return s.c
}

// Close tears the subscription down. It is safe to call more than once; it
// returns after the reader goroutine has exited.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
	})
	<-s.done
}

func Subscribe(ctx context.Context, cfg Config) (*Stream, error) {
	if cfg.URL == "" {
		return nil, errors.New("logstream url is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ChanSize <= 0 {
		cfg.ChanSize = 64
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		c:      make(chan Record, cfg.ChanSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(ctx, cfg)
	return s, nil
}

func (s *Stream) run(ctx context.Context, cfg Config) {
	defer close(s.done)
	defer close(s.c)

	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := dial(ctx, cfg)
		if err != nil {
			attempts++
			if attempts >= cfg.MaxAttempts {
				cfg.Logger.Error("log stream gave up", "attempts", attempts, "error", err)
				return
			}
			if !sleep(ctx, backoff(attempts)) {
				return
			}
			continue
		}
		attempts = 0

		err = s.read(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		if ctx.Err() != nil {
			return
		}
		cfg.Logger.Warn("log stream disconnected, retrying", "error", err)
		attempts++
		if !sleep(ctx, backoff(attempts)) {
			return
		}
	}
}

func dial(ctx context.Context, cfg Config) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	opts := &websocket.DialOptions{}
	if cfg.APIKey != "" {
		opts.HTTPHeader = map[string][]string{
			"Authorization": {"Bearer " + cfg.APIKey},
		}
	}
	conn, _, err := websocket.Dial(dialCtx, cfg.URL, opts)
	return conn, err
}

func (s *Stream) read(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			// Malformed frames are dropped, not fatal.
			continue
		}
		select {
		case s.c <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func backoff(attempt int) time.Duration {
	d := baseBackoff << uint(attempt-1)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
