// Package realtime keeps a long-lived subscription to incremental risk zone
// updates and reconnects after retryable failures.
package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-hazard-watch/internal/models"
	"github.com/mr1hm/go-hazard-watch/internal/observability"
	"github.com/mr1hm/go-hazard-watch/internal/wire"
)

const (
	DefaultBackoff     = 5 * time.Second
	DefaultMaxAttempts = 3
)

type Config struct {
	URL string
	// Backoff is the fixed wait between a retryable failure and the next
	// connection attempt.
	Backoff time.Duration
	// MaxAttempts bounds consecutive connection attempts. The count resets
	// once a connection is established.
	MaxAttempts int
}

// RiskZoneUpdate is one well-formed zone received from the channel.
type RiskZoneUpdate struct {
	Zone       models.RiskZone
	ReceivedAt time.Time
}

// Handlers receive channel output on the channel's goroutine. Either may be nil.
type Handlers struct {
	OnUpdate func(RiskZoneUpdate)
	OnState  func(models.ChannelState)
}

type Channel struct {
	cfg      Config
	dialer   Dialer
	clock    clockwork.Clock
	handlers Handlers
	metrics  *observability.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	state   models.ChannelState
	conn    Conn
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	closed  bool
}

func NewChannel(cfg Config, dialer Dialer, clock clockwork.Clock, handlers Handlers, metrics *observability.Metrics, logger *slog.Logger) *Channel {
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Channel{
		cfg:      cfg,
		dialer:   dialer,
		clock:    clock,
		handlers: handlers,
		metrics:  metrics,
		logger:   logger,
		state:    models.ChannelDisconnected,
	}
}

func (c *Channel) State() models.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start launches the connection loop. It is a no-op once started or closed.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx)
}

// Close cancels any pending retry, closes the live connection and waits for
// the connection loop to exit. Safe to call in any state and more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	cancel, done, conn := c.cancel, c.done, c.conn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.Backoff), uint64(c.cfg.MaxAttempts-1))
	attempt := 0

	for {
		attempt++
		c.setState(models.ChannelConnecting)
		c.logger.Debug("realtime connecting", "url", c.cfg.URL, "attempt", attempt)

		connected, err := c.connectAndRead(ctx)
		if ctx.Err() != nil {
			c.setState(models.ChannelDisconnected)
			return
		}

		if !Retryable(err) {
			c.logger.Warn("realtime closed permanently", "error", err)
			c.setState(models.ChannelPermanentlyClosed)
			return
		}

		// A dropped connection starts a fresh run of attempts; only failed
		// attempts consume the retry budget.
		wait := c.cfg.Backoff
		if connected {
			policy.Reset()
			attempt = 0
		} else if wait = policy.NextBackOff(); wait == backoff.Stop {
			c.logger.Warn("realtime giving up", "attempts", attempt, "error", err)
			c.setState(models.ChannelPermanentlyClosed)
			return
		}

		c.logger.Info("realtime disconnected, retrying", "in", wait, "attempt", attempt, "error", err)
		c.setState(models.ChannelDisconnected)
		c.metrics.RealtimeReconnects.Inc()

		timer := c.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.setState(models.ChannelDisconnected)
			return
		case <-timer.Chan():
		}
	}
}

// connectAndRead dials once and reads until the connection fails. connected
// reports whether the dial succeeded.
func (c *Channel) connectAndRead(ctx context.Context) (connected bool, err error) {
	conn, err := c.dialer.Dial(ctx, c.cfg.URL)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return false, context.Canceled
	}
	c.conn = conn
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	c.setState(models.ChannelConnected)
	c.logger.Info("realtime connected", "url", c.cfg.URL)

	return true, c.readLoop(conn)
}

func (c *Channel) readLoop(conn Conn) error {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.TextMessage {
			continue
		}

		zone, err := wire.DecodeRiskZone(data)
		if err != nil {
			c.metrics.RealtimeMessages.WithLabelValues("dropped").Inc()
			c.logger.Debug("dropping malformed realtime frame", "error", err)
			continue
		}
		c.metrics.RealtimeMessages.WithLabelValues("applied").Inc()
		if c.handlers.OnUpdate != nil {
			c.handlers.OnUpdate(RiskZoneUpdate{Zone: zone, ReceivedAt: c.clock.Now()})
		}
	}
}

func (c *Channel) setState(s models.ChannelState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	c.metrics.RealtimeState.Set(float64(s))
	if c.handlers.OnState != nil {
		c.handlers.OnState(s)
	}
}
