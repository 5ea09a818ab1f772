package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mr1hm/go-hazard-watch/internal/apperr"
	"github.com/mr1hm/go-hazard-watch/internal/engine"
	"github.com/mr1hm/go-hazard-watch/internal/models"
	"github.com/mr1hm/go-hazard-watch/internal/state"
)

// StateSource is the part of the engine the gRPC surface needs.
type StateSource interface {
	State() state.UIState
	ReportPosition(c models.Coordinate, label string)
	Retry(ctx context.Context) error
}

type Server struct {
	source      StateSource
	broadcaster *Broadcaster
	logger      *slog.Logger
	grpcServer  *grpc.Server
}

func NewServer(source StateSource, broadcaster *Broadcaster, logger *slog.Logger) *Server {
	s := &Server{
		source:      source,
		broadcaster: broadcaster,
		logger:      logger,
		grpcServer:  grpc.NewServer(),
	}
	s.grpcServer.RegisterService(&stateServiceDesc, s)
	return s
}

func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("gRPC server listening", "addr", addr)
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop closes open streams through the broadcaster before the graceful stop,
// which would otherwise wait on them forever.
func (s *Server) Stop() {
	s.broadcaster.Close()
	s.grpcServer.GracefulStop()
}

func (s *Server) GetState(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.source.State())
}

// StreamState sends the current state, then every newer committed state
// until the client goes away or the server stops.
func (s *Server) StreamState(_ *emptypb.Empty, stream grpc.ServerStream) error {
	id, ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)

	s.logger.Info("client subscribed to state stream", "subscriber_id", id)

	cur := s.source.State()
	if err := sendState(stream, cur); err != nil {
		return err
	}
	last := cur.Version

	for {
		select {
		case <-stream.Context().Done():
			s.logger.Info("client disconnected from state stream", "subscriber_id", id)
			return nil
		case st, ok := <-ch:
			if !ok {
				return nil
			}
			if st.Version <= last {
				continue
			}
			if err := sendState(stream, st); err != nil {
				s.logger.Error("failed to send state to stream", "error", err, "subscriber_id", id)
				return err
			}
			last = st.Version
		}
	}
}

// ReportPosition expects latitude and longitude numbers and an optional label.
func (s *Server) ReportPosition(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	fields := req.GetFields()
	lat, okLat := fields["latitude"].GetKind().(*structpb.Value_NumberValue)
	lng, okLng := fields["longitude"].GetKind().(*structpb.Value_NumberValue)
	if !okLat || !okLng {
		return nil, status.Error(codes.InvalidArgument, "latitude and longitude are required")
	}
	c := models.Coordinate{Latitude: lat.NumberValue, Longitude: lng.NumberValue}
	if !c.Valid() {
		return nil, status.Errorf(codes.InvalidArgument, "coordinate out of range: %v,%v", c.Latitude, c.Longitude)
	}
	s.source.ReportPosition(c, fields["label"].GetStringValue())
	return &emptypb.Empty{}, nil
}

func (s *Server) RetrySync(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.source.Retry(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func toStatus(err error) error {
	var unavailable *apperr.DataUnavailableError
	switch {
	case errors.Is(err, engine.ErrStopped):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, engine.ErrSyncInProgress):
		return status.Error(codes.Aborted, err.Error())
	case errors.As(err, &unavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Errorf(codes.Internal, "sync failed: %v", err)
	}
}

func sendState(stream grpc.ServerStream, st state.UIState) error {
	msg, err := toStruct(st)
	if err != nil {
		return err
	}
	return stream.SendMsg(msg)
}

// toStruct carries the state as its JSON form, the same shape the HTTP API
// serves.
func toStruct(st state.UIState) (*structpb.Struct, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode state: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode state: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode state: %v", err))
	}
	return out, nil
}
