package remote

import (
	"context"
	"errors"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yooozz3/target-assign-rl/internal/alloc"
)

// Decider is any local decision maker that can be served remotely.
type Decider interface {
	Predict(state []float64, mask []bool) (int, error)
	Reset()
}

// Server exposes a Decider as a PolicyService. Calls are serialized because
// deciders keep per-episode state.
type Server struct {
	mu      sync.Mutex
	decider Decider
}

// NewServer wraps d.
func NewServer(d Decider) *Server {
	return &Server{decider: d}
}

func (s *Server) Predict(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	state, mask, err := decodeRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s.mu.Lock()
	action, err := s.decider.Predict(state, mask)
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, alloc.ErrStateShape) || errors.Is(err, alloc.ErrMaskShape) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, decisionStatus(err)
	}
	return encodeResponse(action), nil
}

func (s *Server) Reset(_ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	s.mu.Lock()
	s.decider.Reset()
	s.mu.Unlock()
	return &emptypb.Empty{}, nil
}
