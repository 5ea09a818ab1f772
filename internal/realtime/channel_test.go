package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mr1hm/go-hazard-watch/internal/apperr"
	"github.com/mr1hm/go-hazard-watch/internal/models"
	"github.com/mr1hm/go-hazard-watch/internal/observability"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errReset = &apperr.NetworkError{Reason: apperr.NetworkNoConnection, Err: errors.New("connection refused")}

type frame struct {
	mt   int
	data []byte
}

// fakeConn replays frames, then blocks until closed or fails with end.
type fakeConn struct {
	frames chan frame
	end    error
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(end error, frames ...frame) *fakeConn {
	c := &fakeConn{frames: make(chan frame, len(frames)), end: end, closed: make(chan struct{})}
	for _, f := range frames {
		c.frames <- f
	}
	return c
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.frames:
		return f.mt, f.data, nil
	default:
	}
	if c.end != nil {
		return 0, nil, c.end
	}
	<-c.closed
	return 0, nil, errors.New("use of closed connection")
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type dialResult struct {
	conn Conn
	err  error
}

// fakeDialer hands out results in order and repeats the last one.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	dials   atomic.Int64
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.results[0]
	if len(d.results) > 1 {
		d.results = d.results[1:]
	}
	return r.conn, r.err
}

type recorder struct {
	states  chan models.ChannelState
	updates chan RiskZoneUpdate
}

func newRecorder() *recorder {
	return &recorder{
		states:  make(chan models.ChannelState, 64),
		updates: make(chan RiskZoneUpdate, 64),
	}
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnUpdate: func(u RiskZoneUpdate) { r.updates <- u },
		OnState:  func(s models.ChannelState) { r.states <- s },
	}
}

func (r *recorder) waitState(t *testing.T, want models.ChannelState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-r.states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func newTestChannel(d Dialer, clock clockwork.Clock, r *recorder) *Channel {
	return NewChannel(Config{URL: "ws://test/realtime", Backoff: 5 * time.Second, MaxAttempts: 3},
		d, clock, r.handlers(), observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func advanceAfterTimer(t *testing.T, clock *clockwork.FakeClock, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(d)
}

const zoneJSON = `{"id":"z9","name":"Zona Sur","riskLevel":"MEDIO","area":[{"lat":1,"lng":1},{"lat":1,"lng":2},{"lat":2,"lng":2}]}`

func TestChannel_TwoTransientFailuresThenConnect(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := &fakeDialer{results: []dialResult{
		{err: errReset},
		{err: errReset},
		{conn: newFakeConn(nil)},
	}}
	rec := newRecorder()
	ch := newTestChannel(d, clock, rec)

	ch.Start(context.Background())
	defer ch.Close()

	advanceAfterTimer(t, clock, 5*time.Second)
	advanceAfterTimer(t, clock, 5*time.Second)

	rec.waitState(t, models.ChannelConnected)
	assert.EqualValues(t, 3, d.dials.Load())
	assert.Equal(t, models.ChannelConnected, ch.State())
}

func TestChannel_NonRetryableClosesWithoutRetry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := &fakeDialer{results: []dialResult{
		{err: &apperr.ClientError{StatusCode: 401, Message: "unauthorized"}},
	}}
	rec := newRecorder()
	ch := newTestChannel(d, clock, rec)

	ch.Start(context.Background())
	rec.waitState(t, models.ChannelPermanentlyClosed)
	ch.Close()

	assert.EqualValues(t, 1, d.dials.Load())
	assert.Equal(t, models.ChannelPermanentlyClosed, ch.State())
}

func TestChannel_GivesUpAfterMaxAttempts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := &fakeDialer{results: []dialResult{{err: errReset}}}
	rec := newRecorder()
	ch := newTestChannel(d, clock, rec)

	ch.Start(context.Background())
	defer ch.Close()

	advanceAfterTimer(t, clock, 5*time.Second)
	advanceAfterTimer(t, clock, 5*time.Second)

	rec.waitState(t, models.ChannelPermanentlyClosed)
	assert.EqualValues(t, 3, d.dials.Load())
}

func TestChannel_BackoffIsFixed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := &fakeDialer{results: []dialResult{{err: errReset}, {conn: newFakeConn(nil)}}}
	rec := newRecorder()
	ch := newTestChannel(d, clock, rec)

	ch.Start(context.Background())
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(5*time.Second - time.Millisecond)
	assert.EqualValues(t, 1, d.dials.Load(), "must not redial before the backoff elapses")

	clock.Advance(time.Millisecond)
	rec.waitState(t, models.ChannelConnected)
	assert.EqualValues(t, 2, d.dials.Load())
}

func TestChannel_DeliversWellFormedAndDropsMalformed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := newFakeConn(nil,
		frame{mt: websocket.TextMessage, data: []byte(`{not json`)},
		frame{mt: websocket.BinaryMessage, data: []byte(zoneJSON)},
		frame{mt: websocket.TextMessage, data: []byte(`{"name":"no id"}`)},
		frame{mt: websocket.TextMessage, data: []byte(zoneJSON)},
	)
	d := &fakeDialer{results: []dialResult{{conn: conn}}}
	rec := newRecorder()
	ch := newTestChannel(d, clock, rec)

	ch.Start(context.Background())
	defer ch.Close()

	select {
	case u := <-rec.updates:
		assert.Equal(t, "z9", u.Zone.ID)
		assert.Equal(t, models.SeverityMedium, u.Zone.Severity)
		assert.Equal(t, clock.Now(), u.ReceivedAt)
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered")
	}

	select {
	case u := <-rec.updates:
		t.Fatalf("unexpected extra update %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannel_ReconnectsAfterDropAndResetsAttempts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dropped := &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	d := &fakeDialer{results: []dialResult{
		{err: errReset},
		{err: errReset},
		{conn: newFakeConn(dropped)},
		{err: errReset},
		{err: errReset},
		{conn: newFakeConn(nil)},
	}}
	rec := newRecorder()
	ch := newTestChannel(d, clock, rec)

	ch.Start(context.Background())
	defer ch.Close()

	advanceAfterTimer(t, clock, 5*time.Second)
	advanceAfterTimer(t, clock, 5*time.Second)
	rec.waitState(t, models.ChannelConnected)

	// The drop starts a fresh run of three attempts.
	advanceAfterTimer(t, clock, 5*time.Second)
	advanceAfterTimer(t, clock, 5*time.Second)
	advanceAfterTimer(t, clock, 5*time.Second)
	rec.waitState(t, models.ChannelConnected)
	assert.EqualValues(t, 6, d.dials.Load())
}

func TestChannel_ProtocolCloseIsPermanent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := &fakeDialer{results: []dialResult{
		{conn: newFakeConn(&websocket.CloseError{Code: websocket.CloseProtocolError})},
	}}
	rec := newRecorder()
	ch := newTestChannel(d, clock, rec)

	ch.Start(context.Background())
	rec.waitState(t, models.ChannelPermanentlyClosed)
	ch.Close()
	assert.EqualValues(t, 1, d.dials.Load())
}

func TestChannel_CloseCancelsPendingRetry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := &fakeDialer{results: []dialResult{{err: errReset}}}
	rec := newRecorder()
	ch := newTestChannel(d, clock, rec)

	ch.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	ch.Close()
	assert.Equal(t, models.ChannelDisconnected, ch.State())

	clock.Advance(time.Minute)
	assert.EqualValues(t, 1, d.dials.Load())
}

func TestChannel_CloseReleasesLiveConnection(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := newFakeConn(nil)
	d := &fakeDialer{results: []dialResult{{conn: conn}}}
	rec := newRecorder()
	ch := newTestChannel(d, clock, rec)

	ch.Start(context.Background())
	rec.waitState(t, models.ChannelConnected)

	ch.Close()
	select {
	case <-conn.closed:
	default:
		t.Fatal("connection still open after Close")
	}
	assert.Equal(t, models.ChannelDisconnected, ch.State())
}

func TestChannel_CloseBeforeStart(t *testing.T) {
	d := &fakeDialer{results: []dialResult{{err: errReset}}}
	ch := newTestChannel(d, clockwork.NewFakeClock(), newRecorder())

	ch.Close()
	ch.Start(context.Background())
	ch.Close()

	assert.Zero(t, d.dials.Load())
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", errReset, true},
		{"server", &apperr.ServerError{StatusCode: 503}, true},
		{"eof", io.EOF, true},
		{"abnormal close", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, true},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, true},
		{"try again later", &websocket.CloseError{Code: websocket.CloseTryAgainLater}, true},
		{"protocol error", &websocket.CloseError{Code: websocket.CloseProtocolError}, false},
		{"policy violation", &websocket.CloseError{Code: websocket.ClosePolicyViolation}, false},
		{"invalid payload", &websocket.CloseError{Code: websocket.CloseInvalidFramePayloadData}, false},
		{"client", &apperr.ClientError{StatusCode: 403}, false},
		{"parse", &apperr.ParseError{What: "frame", Err: errors.New("bad")}, false},
		{"bad handshake", websocket.ErrBadHandshake, false},
		{"unknown", errors.New("something odd"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}
