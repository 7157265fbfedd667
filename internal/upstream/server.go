package upstream

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"ammscope/internal/model"
	"ammscope/internal/rate"
	"ammscope/internal/synthetic"
)

// Server is a reference upstream serving synthetic quotes for a fixed set of
// pool programs.
type Server struct {
	pools    map[string]model.PoolProgram
	order    []string
	engine   *rate.Engine
	interval time.Duration
	logger   *zap.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerInterval sets the emission cadence.
func WithServerInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithServerEngine sets the rate engine used by the generators.
func WithServerEngine(e *rate.Engine) ServerOption {
	return func(s *Server) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithServerLogger sets the logger.
func WithServerLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewServer(pools []model.PoolProgram, opts ...ServerOption) *Server {
	s := &Server{
		pools:    make(map[string]model.PoolProgram, len(pools)),
		engine:   rate.NewEngine(),
		interval: synthetic.DefaultInterval,
		logger:   zap.NewNop(),
	}
	for _, p := range pools {
		if _, ok := s.pools[p.ID]; ok {
			continue
		}
		s.pools[p.ID] = p
		s.order = append(s.order, p.ID)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Ping(context.Context, *PingRequest) (*PingResponse, error) {
	return &PingResponse{ServerTime: time.Now().UnixMilli()}, nil
}

// SubscribePrices streams one update per requested program per tick. Updates
// that fail the request thresholds are not sent.
func (s *Server) SubscribePrices(req *SubscribeRequest, stream SubscribePricesServer) error {
	programs := s.selectPrograms(req.ProgramIDs)
	if len(programs) == 0 {
		return status.Error(codes.NotFound, "no requested program is served here")
	}
	if err := stream.SendHeader(metadata.Pairs("ammscope-programs", joinIDs(programs))); err != nil {
		return err
	}

	generators := make([]*synthetic.Generator, 0, len(programs))
	for _, p := range programs {
		generators = append(generators, synthetic.New(p, s.engine, synthetic.WithInterval(s.interval)))
	}

	logger := s.logger.With(zap.String("programs", joinIDs(programs)))
	logger.Info("subscription opened")

	ctx := stream.Context()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var sent uint64
	for {
		select {
		case <-ctx.Done():
			logger.Info("subscription closed", zap.Uint64("sent", sent))
			return nil
		case <-ticker.C:
		}

		for _, g := range generators {
			update := g.Next()
			update.MeetsLiquidityFilter, update.MeetsVolumeFilter = s.engine.Evaluate(update.MarketRate, req.Filter)
			if !update.Accepted() {
				continue
			}
			if err := stream.Send(&update); err != nil {
				return err
			}
			sent++
		}
	}
}

// Serve registers s on a new gRPC server and serves lis until ctx is done or
// the listener fails.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	gs := grpc.NewServer()
	RegisterPriceFeedServer(gs, s)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		<-ctx.Done()
		gs.Stop()
		return nil
	})
	g.Go(func() error {
		defer cancel()
		s.logger.Info("upstream listening", zap.String("addr", lis.Addr().String()), zap.Int("programs", len(s.order)))
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	return g.Wait()
}

func (s *Server) selectPrograms(ids []string) []model.PoolProgram {
	if len(ids) == 0 {
		ids = s.order
	}
	out := make([]model.PoolProgram, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.pools[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

func joinIDs(programs []model.PoolProgram) string {
	ids := make([]string, 0, len(programs))
	for _, p := range programs {
		ids = append(ids, p.ShortID())
	}
	return strings.Join(ids, ",")
}
