// Package extproctest provides an in-process ext_proc server for tests.
package extproctest

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// Behavior selects how the server answers a stream.
type Behavior int

const (
	// Echo answers every request with an empty response until the client half-closes.
	Echo Behavior = iota
	// CloseAfterFirst reads one request and ends the stream without answering.
	CloseAfterFirst
	// FailAfterFirst reads one request and fails the stream with codes.Internal.
	FailAfterFirst
)

// Server records what it receives. The zero value echoes.
type Server struct {
	extprocv3.UnimplementedExternalProcessorServer

	Behavior Behavior
	Delay    time.Duration // applied before each response

	streams atomic.Int64
	mu      sync.Mutex
	reqs    []*extprocv3.ProcessingRequest
	md      []metadata.MD
}

func (s *Server) Process(stream extprocv3.ExternalProcessor_ProcessServer) error {
	s.streams.Add(1)
	if md, ok := metadata.FromIncomingContext(stream.Context()); ok {
		s.mu.Lock()
		s.md = append(s.md, md)
		s.mu.Unlock()
	}

	for {
		req, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.reqs = append(s.reqs, req)
		s.mu.Unlock()

		switch s.Behavior {
		case CloseAfterFirst:
			return nil
		case FailAfterFirst:
			return status.Error(codes.Internal, "processing failed")
		}

		if s.Delay > 0 {
			select {
			case <-time.After(s.Delay):
			case <-stream.Context().Done():
				return stream.Context().Err()
			}
		}
		if err := stream.Send(&extprocv3.ProcessingResponse{}); err != nil {
			return err
		}
	}
}

// Streams is the number of Process calls served.
func (s *Server) Streams() int64 {
	return s.streams.Load()
}

// Requests returns a copy of every request received.
func (s *Server) Requests() []*extprocv3.ProcessingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*extprocv3.ProcessingRequest(nil), s.reqs...)
}

// Metadata returns the incoming metadata of every stream.
func (s *Server) Metadata() []metadata.MD {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]metadata.MD(nil), s.md...)
}

// ServeBufconn serves srv on an in-memory listener. The returned dial option
// connects a client to it; use it with the target "passthrough:///bufnet".
func ServeBufconn(srv *Server) (dial grpc.DialOption, stop func()) {
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	extprocv3.RegisterExternalProcessorServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()

	dial = grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	return dial, gs.Stop
}

// ServeTCP serves srv on a loopback port and returns its address.
func ServeTCP(srv *Server) (addr string, stop func(), err error) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, err
	}
	gs := grpc.NewServer()
	extprocv3.RegisterExternalProcessorServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	return lis.Addr().String(), gs.Stop, nil
}
