// Package extproc drives Envoy ext_proc v3 Process streams as load test workers.
package extproc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"

	"github.com/torosent/extproc-bench/internal/clientmetrics"
	"github.com/torosent/extproc-bench/internal/tracing"
)

var (
	ErrOpenStream = errors.New("failed to call ext_proc")
	ErrSend       = errors.New("cannot send request to ext_proc")
	ErrReceive    = errors.New("failed to receive ext_proc response")
)

// Options configures a Worker.
type Options struct {
	Messages  Messages
	Metadata  map[string]string
	Timeout   time.Duration // per call, 0 disables
	Tracer    trace.Tracer
	Propagate bool // inject W3C trace context into metadata
	Metrics   *clientmetrics.ClientMetrics
	Target    string // span attribute only
}

// Worker performs one ext_proc exchange per Run. It is safe for concurrent use;
// overlapping calls are multiplexed on the shared connection.
type Worker struct {
	client    extprocv3.ExternalProcessorClient
	messages  Messages
	md        metadata.MD
	timeout   time.Duration
	tracer    trace.Tracer
	propagate bool
	metrics   *clientmetrics.ClientMetrics
	target    string
}

// NewWorker creates a worker bound to conn.
func NewWorker(conn grpc.ClientConnInterface, opts Options) *Worker {
	if opts.Messages.RequestHeaders == nil || opts.Messages.ResponseHeaders == nil {
		defaults := DefaultMessages()
		if opts.Messages.RequestHeaders == nil {
			opts.Messages.RequestHeaders = defaults.RequestHeaders
		}
		if opts.Messages.ResponseHeaders == nil {
			opts.Messages.ResponseHeaders = defaults.ResponseHeaders
		}
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("extproc-bench")
	}

	md := metadata.MD{}
	for k, v := range opts.Metadata {
		md.Set(strings.ToLower(k), v)
	}

	return &Worker{
		client:    extprocv3.NewExternalProcessorClient(conn),
		messages:  opts.Messages,
		md:        md,
		timeout:   opts.Timeout,
		tracer:    opts.Tracer,
		propagate: opts.Propagate,
		metrics:   opts.Metrics,
		target:    opts.Target,
	}
}

// Run opens a Process stream, sends request headers, waits for the answer, sends
// response headers, waits for the answer and closes the send side. A stream the
// server ends early counts as a successful call.
func (w *Worker) Run(ctx context.Context) (err error) {
	ctx, span := tracing.StartCallSpan(ctx, w.tracer, w.target)
	defer func() {
		if err != nil {
			w.metrics.IncrementErrors()
		}
		tracing.EndSpan(span, err)
	}()

	var cancel context.CancelFunc
	if w.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	// Cancelling releases the stream even when the server never half-closes.
	defer cancel()

	if len(w.md) > 0 || w.propagate {
		md := w.md.Copy()
		if w.propagate {
			tracing.InjectGRPCMetadata(ctx, md)
		}
		ctx = metadata.NewOutgoingContext(ctx, md)
	}

	stream, err := w.client.Process(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenStream, err)
	}
	w.metrics.StreamOpened()

	if err := stream.Send(w.messages.RequestHeaders); err != nil {
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %w", ErrSend, err)
		}
		// Send reports io.EOF when the server already ended the call. The real
		// status is only available from Recv; a clean end is an early close.
		if _, rerr := stream.Recv(); rerr != nil && !errors.Is(rerr, io.EOF) {
			return fmt.Errorf("%w: %w", ErrOpenStream, rerr)
		}
		w.metrics.EarlyClose()
		return nil
	}
	w.metrics.IncrementSent(proto.Size(w.messages.RequestHeaders))

	if done, err := w.receive(stream); done || err != nil {
		return err
	}

	if err := stream.Send(w.messages.ResponseHeaders); err != nil {
		// The server closed the stream after answering the first message.
		w.metrics.EarlyClose()
		return nil
	}
	w.metrics.IncrementSent(proto.Size(w.messages.ResponseHeaders))

	if done, err := w.receive(stream); done || err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	return nil
}

// receive reads one response. done is true when the server already ended the stream.
func (w *Worker) receive(stream extprocv3.ExternalProcessor_ProcessClient) (done bool, err error) {
	if _, err := stream.Recv(); err != nil {
		if errors.Is(err, io.EOF) {
			w.metrics.EarlyClose()
			return true, nil
		}
		return true, fmt.Errorf("%w: %w", ErrReceive, err)
	}
	w.metrics.IncrementReceived()
	return false, nil
}
