package extproc_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/torosent/extproc-bench/internal/clientmetrics"
	"github.com/torosent/extproc-bench/internal/extproc"
	"github.com/torosent/extproc-bench/internal/extproc/extproctest"
)

func dialServer(t *testing.T, srv *extproctest.Server) *grpc.ClientConn {
	t.Helper()
	dial, stop := extproctest.ServeBufconn(srv)
	t.Cleanup(stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		dial,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWorkerRunExchangesBothMessages(t *testing.T) {
	srv := &extproctest.Server{}
	metrics := clientmetrics.New()
	w := extproc.NewWorker(dialServer(t, srv), extproc.Options{Metrics: metrics})

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	reqs := srv.Requests()
	if len(reqs) != 2 {
		t.Fatalf("server received %d messages, want 2", len(reqs))
	}
	if reqs[0].GetRequestHeaders() == nil {
		t.Errorf("first message should carry request headers, got %T", reqs[0].GetRequest())
	}
	if reqs[1].GetResponseHeaders() == nil {
		t.Errorf("second message should carry response headers, got %T", reqs[1].GetRequest())
	}
	hdr := reqs[0].GetRequestHeaders().GetHeaders().GetHeaders()
	if len(hdr) != 1 || hdr[0].GetKey() != "test" || len(hdr[0].GetRawValue()) != 0 {
		t.Errorf("unexpected sample headers: %v", hdr)
	}

	s := metrics.Snapshot()
	if s.StreamsOpened != 1 || s.MessagesSent != 2 || s.MessagesReceived != 2 || s.Errors != 0 {
		t.Errorf("unexpected metrics: %+v", s)
	}
}

func TestWorkerRunConcurrent(t *testing.T) {
	srv := &extproctest.Server{Delay: 5 * time.Millisecond}
	w := extproc.NewWorker(dialServer(t, srv), extproc.Options{})

	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func() { errs <- w.Run(context.Background()) }()
	}
	for i := 0; i < 20; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	}
	if got := srv.Streams(); got != 20 {
		t.Errorf("server saw %d streams, want 20", got)
	}
}

func TestWorkerRunEarlyCloseIsSuccess(t *testing.T) {
	srv := &extproctest.Server{Behavior: extproctest.CloseAfterFirst}
	metrics := clientmetrics.New()
	w := extproc.NewWorker(dialServer(t, srv), extproc.Options{Metrics: metrics})

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v, want nil for early close", err)
	}
	if got := metrics.Snapshot().EarlyCloses; got != 1 {
		t.Errorf("EarlyCloses = %d, want 1", got)
	}
}

func TestWorkerRunServerError(t *testing.T) {
	srv := &extproctest.Server{Behavior: extproctest.FailAfterFirst}
	metrics := clientmetrics.New()
	w := extproc.NewWorker(dialServer(t, srv), extproc.Options{Metrics: metrics})

	err := w.Run(context.Background())
	if !errors.Is(err, extproc.ErrReceive) {
		t.Fatalf("Run() error = %v, want ErrReceive", err)
	}
	if got := metrics.Snapshot().Errors; got != 1 {
		t.Errorf("Errors = %d, want 1", got)
	}
}

func TestWorkerRunUnimplemented(t *testing.T) {
	dial, stop := extproctest.ServeBufconn(&extproctest.Server{})
	t.Cleanup(stop)
	// A server without the ext_proc service registered.
	conn, err := grpc.NewClient("passthrough:///bufnet", dial,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	w := extproc.NewWorker(&wrongMethodConn{conn}, extproc.Options{})
	err = w.Run(context.Background())
	if !errors.Is(err, extproc.ErrReceive) && !errors.Is(err, extproc.ErrOpenStream) {
		t.Fatalf("Run() error = %v, want ErrReceive or ErrOpenStream", err)
	}
}

// wrongMethodConn routes the stream to a method the server does not implement.
type wrongMethodConn struct {
	*grpc.ClientConn
}

func (c *wrongMethodConn) NewStream(ctx context.Context, desc *grpc.StreamDesc, _ string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return c.ClientConn.NewStream(ctx, desc, "/envoy.service.ext_proc.v3.ExternalProcessor/Missing", opts...)
}

func TestWorkerRunCancelledContext(t *testing.T) {
	srv := &extproctest.Server{Delay: time.Minute}
	w := extproc.NewWorker(dialServer(t, srv), extproc.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); err == nil {
		t.Fatal("Run() should fail when the context ends before the response")
	}
}

func TestWorkerRunCallTimeout(t *testing.T) {
	srv := &extproctest.Server{Delay: time.Minute}
	w := extproc.NewWorker(dialServer(t, srv), extproc.Options{Timeout: 50 * time.Millisecond})

	if err := w.Run(context.Background()); !errors.Is(err, extproc.ErrReceive) {
		t.Fatalf("Run() error = %v, want ErrReceive", err)
	}
}

func TestWorkerRunSendsMetadata(t *testing.T) {
	srv := &extproctest.Server{}
	w := extproc.NewWorker(dialServer(t, srv), extproc.Options{
		Metadata: map[string]string{"X-Tenant": "blue"},
	})

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	md := srv.Metadata()
	if len(md) != 1 || len(md[0].Get("x-tenant")) == 0 || md[0].Get("x-tenant")[0] != "blue" {
		t.Fatalf("metadata = %v, want x-tenant=blue", md)
	}
}

func TestWorkerRunPropagatesTraceContext(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	otel.SetTextMapPropagator(propagation.TraceContext{})

	srv := &extproctest.Server{}
	w := extproc.NewWorker(dialServer(t, srv), extproc.Options{
		Tracer:    tp.Tracer("test"),
		Propagate: true,
		Target:    "bufnet",
	})
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	md := srv.Metadata()
	if len(md) != 1 || len(md[0].Get("traceparent")) == 0 {
		t.Fatalf("traceparent not propagated: %v", md)
	}
	if spans := exporter.GetSpans(); len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
}

func TestWorkerRunWithFixture(t *testing.T) {
	fixture, err := extproc.ParseFixture([]byte(`{
		"response_headers": {"headers": {"headers": [{"key": ":status", "raw_value": "MjAw"}]}}
	}`))
	if err != nil {
		t.Fatalf("ParseFixture() error = %v", err)
	}
	msgs, err := extproc.DefaultMessages().WithFixture(fixture)
	if err != nil {
		t.Fatalf("WithFixture() error = %v", err)
	}

	srv := &extproctest.Server{}
	w := extproc.NewWorker(dialServer(t, srv), extproc.Options{Messages: msgs})
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	reqs := srv.Requests()
	if len(reqs) != 2 {
		t.Fatalf("server received %d messages, want 2", len(reqs))
	}
	got := reqs[1].GetResponseHeaders().GetHeaders().GetHeaders()
	if len(got) != 1 || got[0].GetKey() != ":status" || string(got[0].GetRawValue()) != "200" {
		t.Errorf("fixture not sent as second message: %v", got)
	}
}

var _ extprocv3.ExternalProcessorServer = (*extproctest.Server)(nil)

// endedCallConn hands out streams whose call the server already ended: every Send
// reports io.EOF and Recv returns recvErr.
type endedCallConn struct {
	recvErr error
}

func (c *endedCallConn) Invoke(context.Context, string, any, any, ...grpc.CallOption) error {
	return status.Error(codes.Unimplemented, "unary calls are not used")
}

func (c *endedCallConn) NewStream(ctx context.Context, _ *grpc.StreamDesc, _ string, _ ...grpc.CallOption) (grpc.ClientStream, error) {
	return &endedStream{ctx: ctx, recvErr: c.recvErr}, nil
}

type endedStream struct {
	ctx     context.Context
	recvErr error
}

func (s *endedStream) Header() (metadata.MD, error) { return metadata.MD{}, nil }
func (s *endedStream) Trailer() metadata.MD         { return metadata.MD{} }
func (s *endedStream) CloseSend() error             { return nil }
func (s *endedStream) Context() context.Context     { return s.ctx }
func (s *endedStream) SendMsg(any) error            { return io.EOF }
func (s *endedStream) RecvMsg(any) error            { return s.recvErr }

func TestWorkerRunCallEndedBeforeFirstSend(t *testing.T) {
	tests := []struct {
		name           string
		recvErr        error
		wantErr        error
		wantEarlyClose int64
	}{
		{name: "clean end", recvErr: io.EOF, wantEarlyClose: 1},
		{name: "answer then end", recvErr: nil, wantEarlyClose: 1},
		{name: "failed status", recvErr: status.Error(codes.Unavailable, "shutting down"), wantErr: extproc.ErrOpenStream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := clientmetrics.New()
			w := extproc.NewWorker(&endedCallConn{recvErr: tt.recvErr}, extproc.Options{Metrics: metrics})

			err := w.Run(context.Background())
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Run() error = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run() error = %v, want %v", err, tt.wantErr)
			}
			if errors.Is(err, extproc.ErrSend) {
				t.Errorf("Run() error = %v, must not be a send failure", err)
			}

			snap := metrics.Snapshot()
			if snap.EarlyCloses != tt.wantEarlyClose {
				t.Errorf("EarlyCloses = %d, want %d", snap.EarlyCloses, tt.wantEarlyClose)
			}
			if snap.MessagesSent != 0 {
				t.Errorf("MessagesSent = %d, want 0", snap.MessagesSent)
			}
		})
	}
}
