// Package engine composes the sync coordinator, the realtime channel, the
// geofence evaluator and the state store behind the interface the UI layer
// consumes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-hazard-watch/internal/geocode"
	"github.com/mr1hm/go-hazard-watch/internal/geofence"
	"github.com/mr1hm/go-hazard-watch/internal/ingestion"
	"github.com/mr1hm/go-hazard-watch/internal/models"
	"github.com/mr1hm/go-hazard-watch/internal/observability"
	"github.com/mr1hm/go-hazard-watch/internal/realtime"
	"github.com/mr1hm/go-hazard-watch/internal/search"
	"github.com/mr1hm/go-hazard-watch/internal/state"
	"github.com/mr1hm/go-hazard-watch/internal/worker"
)

var (
	ErrStopped       = errors.New("engine stopped")
	ErrInvalidReport = errors.New("invalid report")

	// ErrSyncInProgress is returned when a sync is requested while another
	// one is still running.
	ErrSyncInProgress = errors.New("sync already in progress")
)

type Options struct {
	Evaluator geofence.Evaluator
	// Dialer enables the realtime channel when set.
	Dialer   realtime.Dialer
	Realtime realtime.Config
	// Labeler resolves missing position labels when set.
	Labeler         geocode.Labeler
	LabelTimeout    time.Duration
	RefreshInterval time.Duration
	WorkerBuffer    int
}

type Engine struct {
	coord   *ingestion.Coordinator
	source  ingestion.RemoteSource
	store   *state.Store
	channel *realtime.Channel
	opts    Options
	clock   clockwork.Clock
	metrics *observability.Metrics
	logger  *slog.Logger

	// zoneWrites serializes realtime cache write-through in arrival order.
	zoneWrites *worker.Pool[realtime.RiskZoneUpdate]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	stopped   bool
	refreshOn bool
}

func New(coord *ingestion.Coordinator, source ingestion.RemoteSource, opts Options, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	if opts.LabelTimeout <= 0 {
		opts.LabelTimeout = 5 * time.Second
	}
	if opts.WorkerBuffer < 1 {
		opts.WorkerBuffer = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		coord:   coord,
		source:  source,
		store:   state.NewStore(state.UIState{Banner: models.BannerSafe, Realtime: models.ChannelDisconnected}),
		opts:    opts,
		clock:   clock,
		metrics: metrics,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	e.zoneWrites = worker.NewPool("zone-writes", 1, opts.WorkerBuffer, e.writeZone, logger)
	e.zoneWrites.Start(ctx)

	if opts.Dialer != nil {
		e.channel = realtime.NewChannel(opts.Realtime, opts.Dialer, clock, realtime.Handlers{
			OnUpdate: e.onZoneUpdate,
			OnState:  e.onChannelState,
		}, metrics, logger.With("component", "realtime"))
	}
	return e
}

// StartSync runs the initial synchronization and, when configured, starts the
// periodic refresh. The error is the initial sync's; refresh keeps running
// either way.
func (e *Engine) StartSync(ctx context.Context) error {
	if e.isStopped() {
		return ErrStopped
	}
	err := e.sync(ctx)

	e.mu.Lock()
	startRefresh := !e.refreshOn && !e.stopped && e.opts.RefreshInterval > 0
	e.refreshOn = e.refreshOn || startRefresh
	e.mu.Unlock()
	if startRefresh {
		e.coord.StartRefresh(e.ctx, e.opts.RefreshInterval, e.refresh)
	}
	return err
}

// Retry re-runs synchronization on demand.
func (e *Engine) Retry(ctx context.Context) error {
	if e.isStopped() {
		return ErrStopped
	}
	return e.sync(ctx)
}

// sync runs one cycle. At most one runs at a time; the Syncing flag is the
// guard, so it is only cleared by the cycle that set it.
func (e *Engine) sync(ctx context.Context) error {
	_, started := e.store.UpdateIf(func(cur state.UIState) (state.UIState, bool) {
		if cur.Syncing {
			return cur, false
		}
		cur.Syncing = true
		return cur, true
	})
	if !started {
		return ErrSyncInProgress
	}
	snap, err := e.coord.FetchAll(ctx)
	e.applySyncResult(snap, err)
	return err
}

func (e *Engine) refresh(ctx context.Context) {
	if err := e.sync(ctx); errors.Is(err, ErrSyncInProgress) {
		e.logger.Debug("refresh skipped, sync in progress")
	}
}

func (e *Engine) applySyncResult(snap models.Snapshot, err error) {
	if err != nil {
		e.store.Update(func(cur state.UIState) state.UIState {
			return applySyncFailure(cur, err)
		})
		return
	}
	e.commit("snapshot", func(cur state.UIState) (state.UIState, bool) {
		return applySnapshot(cur, snap, e.opts.Evaluator)
	})
}

// StartRealtime connects the realtime channel in the background. It is a
// no-op when no dialer is configured.
func (e *Engine) StartRealtime(ctx context.Context) {
	if e.channel == nil {
		e.logger.Info("realtime disabled")
		return
	}
	if e.isStopped() {
		return
	}
	e.channel.Start(ctx)
}

func (e *Engine) onZoneUpdate(u realtime.RiskZoneUpdate) {
	e.commit("realtime", func(cur state.UIState) (state.UIState, bool) {
		return applyZoneUpdate(cur, u, e.opts.Evaluator)
	})
	if err := e.zoneWrites.Submit(e.ctx, u); err != nil {
		e.logger.Warn("zone write-through skipped", "zone_id", u.Zone.ID, "error", err)
	}
}

func (e *Engine) writeZone(ctx context.Context, u realtime.RiskZoneUpdate) error {
	return e.coord.RecordZoneUpdate(ctx, u.Zone, u.ReceivedAt)
}

func (e *Engine) onChannelState(s models.ChannelState) {
	e.store.UpdateIf(func(cur state.UIState) (state.UIState, bool) {
		if cur.Realtime == s {
			return cur, false
		}
		cur.Realtime = s
		return cur, true
	})
}

// commit applies a banner-computing reducer as one store write.
func (e *Engine) commit(cause string, reduce func(state.UIState) (state.UIState, bool)) {
	var changed bool
	next := e.store.Update(func(cur state.UIState) state.UIState {
		var n state.UIState
		n, changed = reduce(cur)
		return n
	})
	if changed {
		e.metrics.BannerTransitions.WithLabelValues(next.Banner.String()).Inc()
		zoneID := ""
		if next.ActiveZone != nil {
			zoneID = next.ActiveZone.ID
		}
		e.logger.Info("banner changed", "banner", next.Banner, "zone_id", zoneID, "cause", cause)
	}
}

// ReportPosition records the latest position. Without a label the
// placeholder is committed at once and, if a labeler is configured, the
// resolved label replaces it later provided the position has not moved on.
func (e *Engine) ReportPosition(c models.Coordinate, label string) {
	pos := models.Position{Coordinate: c, Label: label, ReportedAt: e.clock.Now()}
	if pos.Label == "" {
		pos.Label = models.PlaceholderLabel
	}
	e.commit("position", func(cur state.UIState) (state.UIState, bool) {
		return applyPosition(cur, pos, e.opts.Evaluator)
	})

	if label != "" || e.opts.Labeler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.wg.Add(1)
	go e.resolveLabel(pos)
}

func (e *Engine) resolveLabel(pos models.Position) {
	defer e.wg.Done()

	ctx, cancel := context.WithTimeout(e.ctx, e.opts.LabelTimeout)
	defer cancel()

	label, err := e.opts.Labeler.Label(ctx, pos.Coordinate)
	if err != nil || label == "" {
		e.logger.Debug("position label unresolved", "error", err)
		return
	}

	e.store.UpdateIf(func(cur state.UIState) (state.UIState, bool) {
		if cur.Position == nil || cur.Position.Coordinate != pos.Coordinate || !cur.Position.ReportedAt.Equal(pos.ReportedAt) {
			return cur, false
		}
		p := *cur.Position
		p.Label = label
		cur.Position = &p
		return cur, true
	})
}

func (e *Engine) Subscribe(fn func(state.UIState)) (unsubscribe func()) {
	return e.store.Subscribe(fn)
}

func (e *Engine) State() state.UIState {
	return e.store.Get()
}

// Search filters an index built from the current snapshot.
func (e *Engine) Search(query string) []search.Entry {
	return search.Filter(search.BuildIndex(e.store.Get().Snapshot), query)
}

// NearestShelters ranks open shelters by distance from the last position.
// It returns nil until a position has been reported.
func (e *Engine) NearestShelters(limit int) []search.ShelterDistance {
	st := e.store.Get()
	if st.Position == nil {
		return nil
	}
	return search.NearestShelters(st.Position.Coordinate, st.Snapshot.Shelters, limit)
}

// SubmitReport sends an incident report. Missing ids and timestamps are
// filled in; the remote call is not retried.
func (e *Engine) SubmitReport(ctx context.Context, r models.Report) (models.ReportReceipt, error) {
	if r.Category == "" {
		return models.ReportReceipt{}, fmt.Errorf("%w: category is required", ErrInvalidReport)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = e.clock.Now()
	}
	receipt, err := e.source.SubmitReport(ctx, r)
	if err != nil {
		e.logger.Warn("report submission failed", "report_id", r.ID, "error", err)
		return models.ReportReceipt{}, fmt.Errorf("submit report %s: %w", r.ID, err)
	}
	e.logger.Info("report submitted", "report_id", receipt.ID, "category", r.Category)
	return receipt, nil
}

// PruneCache drops cache entries older than maxAge.
func (e *Engine) PruneCache(ctx context.Context, maxAge time.Duration) (map[models.EntityKind]int64, error) {
	return e.coord.PruneOlderThan(ctx, maxAge)
}

// Stop closes the realtime channel, stops the refresh loop, drains pending
// cache writes and waits for label lookups. Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	if e.channel != nil {
		e.channel.Close()
	}
	// Drain realtime cache writes before cancelling the shared context.
	e.zoneWrites.Stop()
	e.cancel()
	e.coord.Wait()
	e.wg.Wait()
	e.logger.Info("engine stopped")
}

func (e *Engine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}
