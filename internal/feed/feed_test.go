package feed

import (
	"context"
	"errors"
	"math"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	"ammscope/internal/model"
	"ammscope/internal/rate"
	"ammscope/internal/upstream"
)

const liveEndpoint = "live.test:10101"

func livePool() model.PoolProgram {
	return model.PoolProgram{ID: model.PumpFunAMM, Name: "Pump.fun AMM", Endpoint: liveEndpoint}
}

func deadPool(id string) model.PoolProgram {
	return model.PoolProgram{ID: id, Name: "down", Endpoint: "down.test:10101"}
}

// startUpstream serves srv in memory for liveEndpoint and refuses every other
// address.
func startUpstream(t *testing.T, srv upstream.PriceFeedServer) (*upstream.Connector, *grpc.Server) {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	upstream.RegisterPriceFeedServer(gs, srv)
	go func() {
		_ = gs.Serve(lis)
	}()
	t.Cleanup(gs.Stop)

	dial := func(ctx context.Context, addr string) (net.Conn, error) {
		if addr == liveEndpoint {
			return lis.DialContext(ctx)
		}
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	}
	return upstream.NewConnector(upstream.WithDialer(dial), upstream.WithConnectTimeout(2*time.Second)), gs
}

func referenceUpstream() *upstream.Server {
	return upstream.NewServer([]model.PoolProgram{livePool()}, upstream.WithServerInterval(5*time.Millisecond))
}

func newManagerWith(t *testing.T, connector Connector, pools []model.PoolProgram, tick time.Duration) *Manager {
	t.Helper()

	m, err := New(context.Background(), Config{
		Pools:        pools,
		Filter:       model.DefaultFilterConfig(),
		TickInterval: tick,
	}, Deps{
		Connector: connector,
		Logger:    zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func newTestManager(t *testing.T, pools []model.PoolProgram, tick time.Duration) *Manager {
	t.Helper()
	connector, _ := startUpstream(t, referenceUpstream())
	return newManagerWith(t, connector, pools, tick)
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func stateOf(m *Manager, id string) SourceSnapshot {
	for _, s := range m.States() {
		if s.Program.ID == id {
			return s
		}
	}
	return SourceSnapshot{}
}

type collectSink struct {
	mu      sync.Mutex
	updates []model.PriceUpdate
}

func (s *collectSink) Publish(_ context.Context, u model.PriceUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
	return nil
}

func (s *collectSink) byProgram() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int)
	for _, u := range s.updates {
		out[u.MarketRate.ProgramID]++
	}
	return out
}

// skewedUpstream answers pings like the reference upstream but streams a
// fixed update whose derived fields disagree with its reserves.
type skewedUpstream struct {
	*upstream.Server
	update model.PriceUpdate
}

func (s skewedUpstream) SubscribePrices(_ *upstream.SubscribeRequest, stream upstream.SubscribePricesServer) error {
	if err := stream.SendHeader(metadata.Pairs("ammscope-programs", s.update.MarketRate.ProgramID)); err != nil {
		return err
	}
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stream.Context().Done():
			return nil
		case <-ticker.C:
			u := s.update
			if err := stream.Send(&u); err != nil {
				return err
			}
		}
	}
}

func TestNewRequiresPools(t *testing.T) {
	if _, err := New(context.Background(), Config{}, Deps{}); err == nil {
		t.Fatal("New with no pools succeeded")
	}
}

func TestNewSelectsSourcePerPool(t *testing.T) {
	m := newTestManager(t, []model.PoolProgram{livePool(), deadPool(model.MeteoraDLMM)}, 10*time.Millisecond)
	defer m.closeConns()

	states := m.States()
	if len(states) != 2 {
		t.Fatalf("got %d states, want 2", len(states))
	}
	if states[0].Kind != SourceLive || states[0].Phase != PhaseSelected || states[0].FallbackReason != "" {
		t.Fatalf("live source = %+v", states[0])
	}
	if states[1].Kind != SourceSynthetic || !strings.Contains(states[1].FallbackReason, "refused") {
		t.Fatalf("dead source = %+v", states[1])
	}
	if m.RunID() == "" {
		t.Fatal("empty run id")
	}
}

func TestFailingPoolStillContributes(t *testing.T) {
	failing := deadPool(model.MeteoraDLMM)
	m := newTestManager(t, []model.PoolProgram{livePool(), failing}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := NewChannel(16)
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx, ch)
	}()

	seen := map[string]Item{}
	deadline := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case item := <-ch.Items():
			if _, ok := seen[item.Program.ID]; !ok {
				seen[item.Program.ID] = item
			}
		case <-deadline:
			t.Fatalf("only saw %d of 2 programs", len(seen))
		}
	}
	cancel()
	<-done

	synth := seen[failing.ID]
	if synth.Source != SourceSynthetic || synth.Seq != 1 {
		t.Fatalf("synthetic item = source %v seq %d", synth.Source, synth.Seq)
	}
	liq := synth.Update.MarketRate.Liquidity
	if got, want := synth.Update.MarketRate.Rate, liq.QuoteLiquidity/liq.BaseLiquidity; got != want {
		t.Fatalf("synthetic rate = %v, want %v", got, want)
	}

	live := seen[model.PumpFunAMM]
	if live.Source != SourceLive {
		t.Fatalf("live item source = %v", live.Source)
	}
	liq = live.Update.MarketRate.Liquidity
	if got, want := live.Update.MarketRate.Rate, liq.QuoteLiquidity/liq.BaseLiquidity; math.Abs(got-want) > 1e-9 {
		t.Fatalf("live rate = %v, want %v", got, want)
	}
}

func TestLiveUpdatesAreRecomputed(t *testing.T) {
	sent := model.PriceUpdate{
		MarketRate: model.MarketRate{
			ProgramID: model.PumpFunAMM,
			TokenPair: model.SOLUSDC,
			Rate:      5,
			SwapFee:   0.0025,
			Liquidity: model.Liquidity{
				BaseLiquidity:     0,
				QuoteLiquidity:    100,
				TotalLiquidityUSD: -3,
				Volume24h:         700,
				Volume1h:          80,
			},
			Timestamp:            1_700_000_000_000,
			TransactionSignature: "sig-1",
		},
	}
	connector, _ := startUpstream(t, skewedUpstream{Server: referenceUpstream(), update: sent})
	m := newManagerWith(t, connector, []model.PoolProgram{livePool()}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := NewChannel(4)
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx, ch)
	}()

	var item Item
	select {
	case item = <-ch.Items():
	case <-time.After(2 * time.Second):
		t.Fatal("no live item")
	}
	cancel()
	<-done

	if item.Source != SourceLive {
		t.Fatalf("source = %v, want live", item.Source)
	}
	got := item.Update.MarketRate
	if got.Rate != rate.UndefinedRate {
		t.Fatalf("rate = %v, want %v", got.Rate, rate.UndefinedRate)
	}
	if got.Liquidity.TotalLiquidityUSD != 100 {
		t.Fatalf("total liquidity = %v, want 100", got.Liquidity.TotalLiquidityUSD)
	}
	want := sent.MarketRate
	if got.Liquidity.Volume24h != want.Liquidity.Volume24h || got.Liquidity.Volume1h != want.Liquidity.Volume1h {
		t.Fatalf("volumes = %v/%v, want %v/%v", got.Liquidity.Volume24h, got.Liquidity.Volume1h, want.Liquidity.Volume24h, want.Liquidity.Volume1h)
	}
	if got.SwapFee != want.SwapFee || got.Timestamp != want.Timestamp || got.TransactionSignature != want.TransactionSignature {
		t.Fatalf("pass-through fields changed: %+v", got)
	}
}

func TestUpstreamLossLeavesOtherSourcesRunning(t *testing.T) {
	connector, gs := startUpstream(t, referenceUpstream())
	failing := deadPool(model.MeteoraDLMM)
	m := newManagerWith(t, connector, []model.PoolProgram{livePool(), failing}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := NewChannel(16)
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx, ch)
	}()
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range ch.Items() {
		}
	}()

	waitFor(t, "live items", func() bool {
		return stateOf(m, model.PumpFunAMM).Forwarded > 0
	})
	gs.Stop()

	waitFor(t, "live source to stop", func() bool {
		return stateOf(m, model.PumpFunAMM).Phase == PhaseStopped
	})
	live := stateOf(m, model.PumpFunAMM)
	if live.StopReason != stopStreamError && live.StopReason != stopUpstreamClosed {
		t.Fatalf("live stop reason = %q", live.StopReason)
	}

	before := stateOf(m, failing.ID).Forwarded
	waitFor(t, "synthetic source to keep forwarding", func() bool {
		return stateOf(m, failing.ID).Forwarded > before+2
	})
	if phase := stateOf(m, failing.ID).Phase; phase != PhaseStreaming {
		t.Fatalf("synthetic phase = %v, want streaming", phase)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	<-drained
}

func TestSubscribeFailureFallsBack(t *testing.T) {
	// The upstream answers probes but serves no stream for this program.
	unserved := model.PoolProgram{ID: model.Whirlpools, Name: "Whirlpools", Endpoint: liveEndpoint}
	m := newTestManager(t, []model.PoolProgram{unserved}, 5*time.Millisecond)
	if kind := m.States()[0].Kind; kind != SourceLive {
		t.Fatalf("probed kind = %v, want live", kind)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := NewChannel(4)
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx, ch)
	}()

	select {
	case item := <-ch.Items():
		if item.Source != SourceSynthetic {
			t.Fatalf("item source = %v, want synthetic", item.Source)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no synthetic fallback item")
	}
	cancel()
	<-done

	state := m.States()[0]
	if state.Kind != SourceSynthetic || state.FallbackReason == "" {
		t.Fatalf("state = %+v", state)
	}
}

func TestBackpressureKeepsEverySequence(t *testing.T) {
	pools := []model.PoolProgram{
		deadPool(model.MeteoraDLMM),
		deadPool(model.RaydiumCL),
		deadPool(model.Whirlpools),
	}
	m := newTestManager(t, pools, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := NewChannel(1)
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx, ch)
	}()

	last := map[string]uint64{}
	for i := 0; i < 60; i++ {
		item := <-ch.Items()
		if ch.Len() > ch.Cap() {
			t.Fatalf("len %d exceeds cap %d", ch.Len(), ch.Cap())
		}
		if want := last[item.Program.ID] + 1; item.Seq != want {
			t.Fatalf("program %s: seq %d, want %d", item.Program.ID, item.Seq, want)
		}
		last[item.Program.ID] = item.Seq
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	<-done

	for item := range ch.Items() {
		if want := last[item.Program.ID] + 1; item.Seq != want {
			t.Fatalf("program %s: buffered seq %d, want %d", item.Program.ID, item.Seq, want)
		}
		last[item.Program.ID] = item.Seq
	}
	for _, s := range m.States() {
		if s.Forwarded != last[s.Program.ID] {
			t.Fatalf("program %s: forwarded %d, received %d", s.Program.ID, s.Forwarded, last[s.Program.ID])
		}
	}
}

func TestCancelStopsEverySource(t *testing.T) {
	m := newTestManager(t, []model.PoolProgram{livePool(), deadPool(model.MeteoraDLMM)}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	ch := NewChannel(2)
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx, ch)
	}()

	// Let both sources fill the channel and block.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("run did not return after cancel")
	}

	if !ch.Closed() {
		t.Fatal("channel still open")
	}
	if err := ch.Send(context.Background(), Item{}); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("Send after close = %v", err)
	}
	for range ch.Items() {
	}
	for _, s := range m.States() {
		if s.Phase != PhaseStopped || s.StopReason != stopCancelled {
			t.Fatalf("program %s: phase %v reason %q", s.Program.ID, s.Phase, s.StopReason)
		}
	}

	if err := m.Run(context.Background(), NewChannel(1)); err == nil {
		t.Fatal("second Run succeeded")
	}
}

func TestConsumerGoneStopsSources(t *testing.T) {
	m := newTestManager(t, []model.PoolProgram{deadPool(model.MeteoraDLMM), deadPool(model.RaydiumCL)}, time.Millisecond)

	ch := NewChannel(4)
	sink := &collectSink{}
	consumer := NewConsumer(ConsumerConfig{Filter: model.DefaultFilterConfig(), LatencyBudget: time.Second}, nil, nil, zap.NewNop(), sink)

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	consumed := make(chan error, 1)
	go func() {
		consumed <- consumer.Run(consumerCtx, ch)
	}()

	done := make(chan error, 1)
	go func() {
		done <- m.Run(context.Background(), ch)
	}()

	waitFor(t, "both programs to reach the sink", func() bool {
		return len(sink.byProgram()) == 2
	})
	stopConsumer()
	if err := <-consumed; !errors.Is(err, context.Canceled) {
		t.Fatalf("consumer Run = %v, want context.Canceled", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("run did not return after the consumer left")
	}
	for _, s := range m.States() {
		if s.StopReason != stopConsumerGone {
			t.Fatalf("program %s: reason %q", s.Program.ID, s.StopReason)
		}
	}
}
