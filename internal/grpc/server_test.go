package grpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mr1hm/go-hazard-watch/internal/apperr"
	"github.com/mr1hm/go-hazard-watch/internal/engine"
	"github.com/mr1hm/go-hazard-watch/internal/logging"
	"github.com/mr1hm/go-hazard-watch/internal/models"
	"github.com/mr1hm/go-hazard-watch/internal/state"
)

type storeSource struct {
	*state.Store

	mu        sync.Mutex
	positions []models.Position
	retryErr  error
}

func (s *storeSource) State() state.UIState { return s.Get() }

func (s *storeSource) ReportPosition(c models.Coordinate, label string) {
	s.mu.Lock()
	s.positions = append(s.positions, models.Position{Coordinate: c, Label: label})
	s.mu.Unlock()
	s.Update(func(st state.UIState) state.UIState {
		st.Position = &models.Position{Coordinate: c, Label: label}
		return st
	})
}

func (s *storeSource) Retry(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryErr
}

type harness struct {
	source *storeSource
	conn   *grpc.ClientConn
}

func startServer(t *testing.T) *harness {
	t.Helper()

	src := &storeSource{Store: state.NewStore(state.UIState{})}
	b := newTestBroadcaster(8)
	unsubscribe := src.Subscribe(b.Broadcast)

	srv := NewServer(src, b, logging.Discard())
	lis := bufconn.Listen(1 << 20)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		srv.Stop()
		<-served
		unsubscribe()
	})
	return &harness{source: src, conn: conn}
}

func TestServer_GetState(t *testing.T) {
	h := startServer(t)
	h.source.Update(func(s state.UIState) state.UIState {
		s.Banner = models.BannerWarning
		s.SyncError = "offline"
		return s
	})

	out := new(structpb.Struct)
	err := h.conn.Invoke(context.Background(), MethodGetState, &emptypb.Empty{}, out)
	require.NoError(t, err)

	fields := out.GetFields()
	assert.Equal(t, "WARNING", fields["banner"].GetStringValue())
	assert.Equal(t, "offline", fields["sync_error"].GetStringValue())
	assert.Equal(t, 1.0, fields["version"].GetNumberValue())
}

func TestServer_StreamState(t *testing.T) {
	h := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := h.conn.NewStream(ctx, StreamStateDesc, MethodStreamState)
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(&emptypb.Empty{}))
	require.NoError(t, stream.CloseSend())

	first := new(structpb.Struct)
	require.NoError(t, stream.RecvMsg(first))
	assert.Equal(t, 0.0, first.GetFields()["version"].GetNumberValue())

	h.source.Update(func(s state.UIState) state.UIState {
		s.Banner = models.BannerDanger
		return s
	})

	next := new(structpb.Struct)
	require.NoError(t, stream.RecvMsg(next))
	assert.Equal(t, 1.0, next.GetFields()["version"].GetNumberValue())
	assert.Equal(t, "DANGER", next.GetFields()["banner"].GetStringValue())
}

func TestServer_ReportPosition(t *testing.T) {
	h := startServer(t)

	req, err := structpb.NewStruct(map[string]any{"latitude": -33.45, "longitude": -70.66, "label": "Plaza"})
	require.NoError(t, err)
	require.NoError(t, h.conn.Invoke(context.Background(), MethodReportPosition, req, new(emptypb.Empty)))

	h.source.mu.Lock()
	defer h.source.mu.Unlock()
	require.Len(t, h.source.positions, 1)
	assert.Equal(t, models.Coordinate{Latitude: -33.45, Longitude: -70.66}, h.source.positions[0].Coordinate)
	assert.Equal(t, "Plaza", h.source.positions[0].Label)
}

func TestServer_ReportPositionInvalid(t *testing.T) {
	h := startServer(t)

	tests := []struct {
		name   string
		fields map[string]any
	}{
		{"missing longitude", map[string]any{"latitude": 1.0}},
		{"latitude as string", map[string]any{"latitude": "1", "longitude": 2.0}},
		{"out of range", map[string]any{"latitude": 91.0, "longitude": 0.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := structpb.NewStruct(tt.fields)
			require.NoError(t, err)
			err = h.conn.Invoke(context.Background(), MethodReportPosition, req, new(emptypb.Empty))
			assert.Equal(t, codes.InvalidArgument, status.Code(err))
		})
	}
}

func TestServer_RetrySync(t *testing.T) {
	h := startServer(t)

	require.NoError(t, h.conn.Invoke(context.Background(), MethodRetrySync, &emptypb.Empty{}, new(emptypb.Empty)))

	h.source.mu.Lock()
	h.source.retryErr = &apperr.DataUnavailableError{Kinds: []models.EntityKind{models.KindShelter}}
	h.source.mu.Unlock()
	err := h.conn.Invoke(context.Background(), MethodRetrySync, &emptypb.Empty{}, new(emptypb.Empty))
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{engine.ErrStopped, codes.Unavailable},
		{engine.ErrSyncInProgress, codes.Aborted},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{context.Canceled, codes.Canceled},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, status.Code(toStatus(tt.err)), tt.err.Error())
	}
}
