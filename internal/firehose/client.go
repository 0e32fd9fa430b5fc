// Package firehose consumes the com.atproto.sync.subscribeRepos event stream
// and surfaces newly created posts.
package firehose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Priya8975/firehose-webhooks/internal/domain"
	"github.com/Priya8975/firehose-webhooks/internal/metrics"
	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

const DefaultURL = "wss://bsky.network/xrpc/com.atproto.sync.subscribeRepos"

// Config controls the upstream connection.
type Config struct {
	URL            string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// ReadTimeout drops a session that has been silent for this long.
	ReadTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = time.Minute
	}
}

// Client maintains a firehose session and reconnects with capped exponential backoff.
type Client struct {
	cfg       Config
	dialer    *websocket.Dialer
	cursor    Cursor
	malformed atomic.Int64
	logger    *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
			ReadBufferSize:   64 * 1024,
		},
		logger: logger,
	}
}

// Cursor returns the last consumed sequence number.
func (c *Client) Cursor() int64 {
	return c.cursor.Load()
}

// ResumeFrom seeds the cursor used by the next connection.
func (c *Client) ResumeFrom(seq int64) {
	c.cursor.Advance(seq)
}

// Malformed returns the number of frames discarded since start.
func (c *Client) Malformed() int64 {
	return c.malformed.Load()
}

// Run streams decoded posts into out until ctx is cancelled. A full channel
// blocks the reader. Run only returns an error for an unusable upstream URL.
func (c *Client) Run(ctx context.Context, out chan<- domain.Post) error {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("parsing firehose url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("firehose url scheme %q is not ws or wss", u.Scheme)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialBackoff
	bo.MaxInterval = c.cfg.MaxBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2

	attempt := 0
	for {
		frames, err := c.session(ctx, *u, out)
		if ctx.Err() != nil {
			return nil
		}
		if frames > 0 {
			bo.Reset()
			attempt = 0
		}
		attempt++
		wait := bo.NextBackOff()
		metrics.Reconnects.Inc()
		c.logger.Warn("firehose disconnected, reconnecting",
			"error", err,
			"attempt", attempt,
			"backoff", wait.String(),
			"cursor", c.cursor.Load(),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// session runs one connection and returns the number of frames it read.
func (c *Client) session(ctx context.Context, u url.URL, out chan<- domain.Post) (int, error) {
	if seq := c.cursor.Load(); seq > 0 {
		q := u.Query()
		q.Set("cursor", strconv.FormatInt(seq, 10))
		u.RawQuery = q.Encode()
	}

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("dialing firehose: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c.logger.Info("connected to firehose", "host", u.Host, "cursor", c.cursor.Load())

	frames := 0
	for {
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return frames, fmt.Errorf("reading firehose: %w", err)
		}
		frames++
		metrics.FramesRead.Inc()

		if msgType != websocket.BinaryMessage {
			c.discard(fmt.Errorf("%w: unexpected message type %d", ErrMalformedFrame, msgType))
			continue
		}
		frame, err := DecodeFrame(msg)
		if err != nil {
			c.discard(err)
			continue
		}
		if frame.Skipped > 0 {
			c.malformed.Add(int64(frame.Skipped))
			metrics.MalformedFrames.Add(float64(frame.Skipped))
		}
		if c.cursor.Advance(frame.Seq) {
			metrics.Cursor.Set(float64(frame.Seq))
		}

		for _, post := range frame.Posts {
			select {
			case out <- post:
				metrics.PostsDecoded.Inc()
			case <-ctx.Done():
				return frames, ctx.Err()
			}
		}
	}
}

func (c *Client) discard(err error) {
	c.malformed.Add(1)
	metrics.MalformedFrames.Inc()
	if errors.Is(err, ErrMalformedFrame) {
		c.logger.Debug("discarding firehose frame", "error", err)
		return
	}
	c.logger.Warn("discarding firehose frame", "error", err)
}
