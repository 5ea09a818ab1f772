// Package notify forwards banner transitions to external sinks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-hazard-watch/internal/models"
	"github.com/mr1hm/go-hazard-watch/internal/observability"
	"github.com/mr1hm/go-hazard-watch/internal/state"
	"github.com/mr1hm/go-hazard-watch/internal/worker"
)

// Transition is one change of the banner state.
type Transition struct {
	Previous models.BannerState `json:"previous"`
	Current  models.BannerState `json:"current"`
	ZoneID   string             `json:"zone_id,omitempty"`
	ZoneName string             `json:"zone_name,omitempty"`
	Position *models.Coordinate `json:"position,omitempty"`
	At       time.Time          `json:"at"`
	Version  uint64             `json:"version"`
}

type Publisher interface {
	Name() string
	Publish(ctx context.Context, t Transition) error
	Close() error
}

// Notifier watches committed states and publishes banner transitions to every
// publisher, in order, off the committing goroutine.
type Notifier struct {
	publishers []Publisher
	pool       *worker.Pool[Transition]
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger

	mu       sync.Mutex
	last     models.BannerState
	observed bool
}

func NewNotifier(publishers []Publisher, bufferSize int, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Notifier {
	n := &Notifier{
		publishers: publishers,
		clock:      clock,
		metrics:    metrics,
		logger:     logger,
	}
	n.pool = worker.NewPool("notify", 1, bufferSize, n.publish, logger)
	return n
}

func (n *Notifier) Start(ctx context.Context) {
	n.pool.Start(ctx)
}

// Observe is a state subscriber. The first state it sees sets the baseline
// and is not published.
func (n *Notifier) Observe(st state.UIState) {
	n.mu.Lock()
	prev, observed := n.last, n.observed
	n.last, n.observed = st.Banner, true
	n.mu.Unlock()

	if !observed || prev == st.Banner {
		return
	}

	t := Transition{
		Previous: prev,
		Current:  st.Banner,
		At:       n.clock.Now(),
		Version:  st.Version,
	}
	if st.ActiveZone != nil {
		t.ZoneID = st.ActiveZone.ID
		t.ZoneName = st.ActiveZone.Name
	}
	if st.Position != nil {
		c := st.Position.Coordinate
		t.Position = &c
	}

	if !n.pool.TrySubmit(t) {
		n.metrics.NotificationsPublished.WithLabelValues("queue", "error").Inc()
		n.logger.Warn("notification dropped, queue full", "banner", t.Current)
	}
}

func (n *Notifier) publish(ctx context.Context, t Transition) error {
	var errs []error
	for _, p := range n.publishers {
		if err := p.Publish(ctx, t); err != nil {
			n.metrics.NotificationsPublished.WithLabelValues(p.Name(), "error").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		n.metrics.NotificationsPublished.WithLabelValues(p.Name(), "success").Inc()
	}
	return errors.Join(errs...)
}

// Stop drains queued transitions and closes every publisher.
func (n *Notifier) Stop() error {
	n.pool.Stop()
	var errs []error
	for _, p := range n.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
