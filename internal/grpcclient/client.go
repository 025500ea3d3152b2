package grpcclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/torosent/extproc-bench/internal/clientmetrics"
)

var (
	// ErrInvalidTarget reports a URI that cannot be turned into a gRPC target.
	ErrInvalidTarget = errors.New("invalid target uri")
	// ErrDial reports a failure to build the client connection.
	ErrDial = errors.New("create endpoint")
	// ErrConnect reports a connection that never became ready.
	ErrConnect = errors.New("connect")
)

// DefaultConnectTimeout bounds how long Connect waits for a ready transport.
const DefaultConnectTimeout = 10 * time.Second

// Config holds configuration for one gRPC connection.
type Config struct {
	Target         string
	UseTLS         bool
	Insecure       bool // Skip TLS verification
	ConnectTimeout time.Duration
	DialOptions    []grpc.DialOption
}

// ParseTarget converts a user supplied URI into a gRPC target. The http and https
// schemes are stripped, https selecting TLS. Resolver schemes such as dns, unix or
// passthrough are passed through untouched, as are bare host:port targets.
func ParseTarget(uri string) (target string, useTLS bool, err error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return "", false, fmt.Errorf("%w: empty", ErrInvalidTarget)
	}
	if !strings.Contains(uri, "://") {
		return uri, false, nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return "", false, fmt.Errorf("%w: %q has no host", ErrInvalidTarget, uri)
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("%w: %q must not carry a path", ErrInvalidTarget, uri)
		}
		host := u.Host
		if u.Port() == "" {
			if strings.EqualFold(u.Scheme, "https") {
				host += ":443"
			} else {
				host += ":80"
			}
		}
		return host, strings.EqualFold(u.Scheme, "https"), nil
	default:
		return uri, false, nil
	}
}

// Dial builds a client connection without waiting for the transport.
func Dial(cfg Config) (*grpc.ClientConn, error) {
	var opts []grpc.DialOption
	if cfg.UseTLS {
		if cfg.Insecure {
			// Use TLS but skip certificate verification
			creds := credentials.NewTLS(&tls.Config{InsecureSkipVerify: true})
			opts = append(opts, grpc.WithTransportCredentials(creds))
		} else {
			creds := credentials.NewClientTLSFromCert(nil, "")
			opts = append(opts, grpc.WithTransportCredentials(creds))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Target, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDial, err)
	}
	return conn, nil
}

// WaitReady forces conn out of idle and blocks until it is ready. A transient
// failure is reported immediately instead of waiting for reconnect backoff.
func WaitReady(ctx context.Context, conn *grpc.ClientConn) error {
	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure, connectivity.Shutdown:
			return fmt.Errorf("%w: %s is %s", ErrConnect, conn.Target(), state)
		}
		if !conn.WaitForStateChange(ctx, state) {
			return fmt.Errorf("%w: %s: %w", ErrConnect, conn.Target(), ctx.Err())
		}
	}
}

// Client owns one connection to the ext_proc server.
type Client struct {
	cfg     Config
	mu      sync.Mutex
	conn    *grpc.ClientConn
	metrics *clientmetrics.ClientMetrics
}

// NewClient creates an unconnected client. metrics may be nil.
func NewClient(cfg Config, metrics *clientmetrics.ClientMetrics) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	return &Client{cfg: cfg, metrics: metrics}
}

// Connect dials and waits until the connection is ready.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return fmt.Errorf("client already connected")
	}

	conn, err := Dial(c.cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	if err := WaitReady(ctx, conn); err != nil {
		_ = conn.Close()
		return err
	}

	c.metrics.MarkConnected()
	c.conn = conn
	return nil
}

// Conn returns the underlying connection, nil before Connect.
func (c *Client) Conn() *grpc.ClientConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// ConnectAll connects n clients sharing cfg. On failure every client opened so far
// is closed.
func ConnectAll(ctx context.Context, cfg Config, n int, metrics *clientmetrics.ClientMetrics) ([]*Client, error) {
	clients := make([]*Client, 0, n)
	for i := 0; i < n; i++ {
		c := NewClient(cfg, metrics)
		if err := c.Connect(ctx); err != nil {
			CloseAll(clients)
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, nil
}

// CloseAll closes every client, ignoring errors.
func CloseAll(clients []*Client) {
	for _, c := range clients {
		_ = c.Close()
	}
}
