package upstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"ammscope/internal/model"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultProbeTimeout   = 5 * time.Second
)

// DialFunc opens the raw transport to addr.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// Connector establishes probed connections to upstream price feeds.
type Connector struct {
	connectTimeout time.Duration
	probeTimeout   time.Duration
	dial           DialFunc
	logger         *zap.Logger
}

// Option configures a Connector.
type Option func(*Connector)

// WithConnectTimeout bounds the transport dial.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Connector) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithProbeTimeout bounds the liveness probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Connector) {
		if d > 0 {
			c.probeTimeout = d
		}
	}
}

// WithDialer replaces the TCP dialer.
func WithDialer(dial DialFunc) Option {
	return func(c *Connector) {
		if dial != nil {
			c.dial = dial
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Connector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewConnector(opts ...Option) *Connector {
	var d net.Dialer
	c := &Connector{
		connectTimeout: DefaultConnectTimeout,
		probeTimeout:   DefaultProbeTimeout,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the pool endpoint and probes it. The returned Connection is
// ready for Subscribe.
func (c *Connector) Connect(ctx context.Context, pool model.PoolProgram) (*Connection, error) {
	target, creds, err := parseEndpoint(pool.Endpoint)
	if err != nil {
		return nil, &ConnectError{Program: pool.ID, Endpoint: pool.Endpoint, Reason: ReasonInvalid, Err: err}
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	var rec dialRecorder
	conn, err := grpc.DialContext(dialCtx, target,
		grpc.WithTransportCredentials(creds),
		grpc.WithContextDialer(rec.wrap(c.dial)),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
		grpc.WithBlock(),
		grpc.FailOnNonTempDialError(true),
		grpc.WithReturnConnectionError(),
	)
	if err != nil {
		return nil, &ConnectError{
			Program:  pool.ID,
			Endpoint: pool.Endpoint,
			Reason:   classify(ctx, dialCtx, rec.last()),
			Err:      err,
		}
	}

	start := time.Now()
	probeCtx, cancelProbe := context.WithTimeout(ctx, c.probeTimeout)
	defer cancelProbe()

	var resp PingResponse
	if err := conn.Invoke(probeCtx, pingMethod, &PingRequest{}, &resp); err != nil {
		_ = conn.Close()
		return nil, &ProbeError{Program: pool.ID, Err: err}
	}

	c.logger.Debug("upstream probed",
		zap.String("program", pool.ID),
		zap.String("endpoint", pool.Endpoint),
		zap.Duration("rtt", time.Since(start)),
	)

	return &Connection{pool: pool, conn: conn, serverTime: resp.ServerTime}, nil
}

// Connection is a probed upstream transport.
type Connection struct {
	pool       model.PoolProgram
	conn       *grpc.ClientConn
	serverTime int64
}

// ServerTime returns the upstream clock reported by the probe, in unix millis.
func (c *Connection) ServerTime() int64 {
	return c.serverTime
}

func (c *Connection) Close() error {
	return c.conn.Close()
}

// Subscribe opens the price stream. It returns once the upstream has accepted
// the request and sent response headers.
func (c *Connection) Subscribe(ctx context.Context, filter model.FilterConfig) (*Subscription, error) {
	stream, err := c.conn.NewStream(ctx, &subscribeStreamDesc, subscribeMethod)
	if err != nil {
		return nil, &SubscribeSetupError{Program: c.pool.ID, Err: err}
	}
	req := &SubscribeRequest{Filter: filter, ProgramIDs: []string{c.pool.ID}}
	if err := stream.SendMsg(req); err != nil {
		return nil, &SubscribeSetupError{Program: c.pool.ID, Err: err}
	}
	if err := stream.CloseSend(); err != nil {
		return nil, &SubscribeSetupError{Program: c.pool.ID, Err: err}
	}
	md, err := stream.Header()
	if err != nil {
		return nil, &SubscribeSetupError{Program: c.pool.ID, Err: err}
	}
	if md == nil {
		// Trailers-only response: the call was rejected before any update.
		err := stream.RecvMsg(new(model.PriceUpdate))
		if err == nil || errors.Is(err, io.EOF) {
			err = errors.New("stream closed before headers")
		}
		return nil, &SubscribeSetupError{Program: c.pool.ID, Err: err}
	}
	return &Subscription{program: c.pool.ID, stream: stream}, nil
}

// Subscription is an open server-streamed price feed.
type Subscription struct {
	program  string
	stream   grpc.ClientStream
	received uint64
}

// Recv blocks for the next update. Any termination is a *StreamError.
func (s *Subscription) Recv() (model.PriceUpdate, error) {
	var update model.PriceUpdate
	if err := s.stream.RecvMsg(&update); err != nil {
		return model.PriceUpdate{}, &StreamError{Program: s.program, Received: s.received, Err: err}
	}
	s.received++
	return update, nil
}

func parseEndpoint(endpoint string) (string, credentials.TransportCredentials, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", nil, errors.New("empty endpoint")
	}
	if !strings.Contains(endpoint, "://") {
		if _, _, err := net.SplitHostPort(endpoint); err != nil {
			return "", nil, fmt.Errorf("parse endpoint %q: %w", endpoint, err)
		}
		return endpoint, insecure.NewCredentials(), nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", nil, fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", nil, fmt.Errorf("endpoint %q has no host", endpoint)
	}
	switch u.Scheme {
	case "http", "grpc":
		return u.Host, insecure.NewCredentials(), nil
	case "https", "grpcs":
		return u.Host, credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}), nil
	default:
		return "", nil, fmt.Errorf("endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}
}

func classify(parent, dialCtx context.Context, dialErr error) ConnectReason {
	switch {
	case errors.Is(dialErr, syscall.ECONNREFUSED):
		return ReasonRefused
	case parent.Err() != nil:
		return ReasonCancelled
	case errors.Is(dialCtx.Err(), context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return ReasonOther
	}
}

// dialRecorder keeps the most recent raw dial error, which grpc otherwise
// folds into a generic connection error.
type dialRecorder struct {
	mu  sync.Mutex
	err error
}

func (r *dialRecorder) wrap(dial DialFunc) func(context.Context, string) (net.Conn, error) {
	return func(ctx context.Context, addr string) (net.Conn, error) {
		conn, err := dial(ctx, addr)
		if err != nil {
			r.mu.Lock()
			r.err = err
			r.mu.Unlock()
		}
		return conn, err
	}
}

func (r *dialRecorder) last() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
