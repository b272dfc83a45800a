package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/keygate/checkout/pkg/pricefeed"
	"github.com/keygate/checkout/pkg/quote"
	"github.com/keygate/checkout/pkg/route"
	"github.com/keygate/checkout/pkg/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey        = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAddress    = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	ownerPrincipal = "wtzxg-u3qsq-7drpw-3iytd-x4mv2-e53xw-e5xyy-g7577-dc6ky-266ly-qqe"

	waitFor  = 2 * time.Second
	pollTick = 5 * time.Millisecond
)

type fakeResolver struct {
	mu      sync.Mutex
	prices  map[string]decimal.Decimal
	err     error
	calls   int
	sources []string
}

func (r *fakeResolver) Resolve(_ context.Context, source, destination string) (pricefeed.Prices, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.sources = append(r.sources, source)
	if r.err != nil {
		return pricefeed.Prices{}, r.err
	}
	var prices pricefeed.Prices
	if p, ok := r.prices[source]; ok {
		prices.Source = decimal.NewNullDecimal(p)
	}
	if p, ok := r.prices[destination]; ok {
		prices.Destination = decimal.NewNullDecimal(p)
	}
	return prices, nil
}

func (r *fakeResolver) sourcesSeen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sources...)
}

type fakeRouter struct {
	mu      sync.Mutex
	amounts []string
	release chan struct{}
	// hold delays the quote for an amount until the channel is closed
	hold map[string]chan struct{}
}

func (r *fakeRouter) GetContractCallsQuote(_ context.Context, req *route.ContractCallsRequest) (*route.Quote, error) {
	r.mu.Lock()
	amount := req.ContractCalls[0].FromAmount
	r.amounts = append(r.amounts, amount)
	hold := r.hold[amount]
	r.mu.Unlock()

	if hold != nil {
		<-hold
	}
	return &route.Quote{
		ID:   "quote-" + amount,
		Tool: "across",
		Action: route.Action{
			FromChainID: req.FromChain,
			FromAmount:  amount,
			ToChainID:   req.ToChain,
		},
		Estimate: &route.Estimate{ExecutionDuration: 30},
	}, nil
}

func (r *fakeRouter) requested() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.amounts...)
}

func (r *fakeRouter) ConvertQuoteToRoute(q *route.Quote) (*route.Route, error) {
	return &route.Route{ID: "route-" + q.ID, FromChainID: 10, ToChainID: 1, Steps: []route.Step{q.Clone()}}, nil
}

func (r *fakeRouter) ExecuteRoute(_ context.Context, rt *route.Route, onProgress func(*route.Route)) (*route.Route, error) {
	rt.Steps[0].Execution = &route.Execution{Status: route.StatusPending}
	onProgress(rt.Clone())
	<-r.release
	rt.Steps[0].Execution.Status = route.StatusDone
	onProgress(rt.Clone())
	return rt, nil
}

func (r *fakeRouter) GetActiveRoutes() []*route.Route {
	return nil
}

type fixture struct {
	env       *Environment
	resolver  *fakeResolver
	router    *fakeRouter
	wallet    *wallet.KeyWallet
	scheduler *route.ManualScheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	w, err := wallet.NewKeyWallet(testKey, nil)
	require.NoError(t, err)

	f := &fixture{
		resolver: &fakeResolver{prices: map[string]decimal.Decimal{
			"ICP":  decimal.NewFromInt(10),
			"USDC": decimal.NewFromInt(5),
		}},
		router:    &fakeRouter{release: make(chan struct{})},
		wallet:    w,
		scheduler: route.NewManualScheduler(),
	}
	f.env, err = NewEnvironment(Options{
		Resolver:  f.resolver,
		Router:    f.router,
		Wallet:    w,
		Scheduler: f.scheduler,
		Builder: quote.Builder{
			SourceChain:      10,
			DestinationChain: 1,
			SourceToken:      "USDC",
			DestinationToken: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
			HelperContract:   common.HexToAddress("0x18901044688D3756C35Ed2b36D93e6a5B8e00E68"),
			FallbackAddress:  common.HexToAddress("0x1111111111111111111111111111111111111111"),
			Integrator:       "Keygate",
		},
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) start(t *testing.T) *Session {
	t.Helper()
	s, err := f.env.StartPayment(context.Background(), Intent{
		DestinationAmount:    decimal.NewFromInt(1),
		DestinationCurrency:  "icp",
		DestinationAccountID: ownerPrincipal,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func eventually(t *testing.T, s *Session, cond func(Snapshot) bool, msg string) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return cond(s.Snapshot()) }, waitFor, pollTick, msg)
	return s.Snapshot()
}

func hasQuote(snapshot Snapshot) bool {
	return snapshot.Quote != nil
}

func TestPaymentFlow(t *testing.T) {
	t.Run("start connect purchase", func(t *testing.T) {
		f := newFixture(t)
		s := f.start(t)

		snapshot := s.Snapshot()
		assert.Equal(t, StateStart, snapshot.State)
		assert.Equal(t, "ICP", snapshot.Intent.DestinationCurrency)
		assert.Equal(t, "USDC", snapshot.Intent.SourceCurrency)

		require.NoError(t, s.RequestPurchase())
		assert.Equal(t, StateConnect, s.Snapshot().State)
		assert.Empty(t, f.router.requested())

		require.NoError(t, f.wallet.Connect(context.Background()))
		snapshot = eventually(t, s, hasQuote, "quote never arrived")

		assert.Equal(t, StatePurchase, snapshot.State)
		assert.Equal(t, testAddress, snapshot.WalletAddress)
		assert.Equal(t, "2000000", snapshot.RequiredAmount)
		assert.Equal(t, "quote-2000000", snapshot.Quote.ID)
		assert.False(t, snapshot.FetchingQuote)
		assert.Equal(t, []string{"2000000"}, f.router.requested())
	})

	t.Run("connected wallet skips straight to purchase", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.wallet.Connect(context.Background()))
		s := f.start(t)

		snapshot := eventually(t, s, hasQuote, "quote never arrived")
		assert.Equal(t, StatePurchase, snapshot.State)
	})

	t.Run("purchase survives a disconnect", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.wallet.Connect(context.Background()))
		s := f.start(t)
		eventually(t, s, hasQuote, "quote never arrived")

		f.wallet.Disconnect()
		snapshot := eventually(t, s, func(s Snapshot) bool { return s.WalletAddress == "" }, "disconnect not seen")
		assert.Equal(t, StatePurchase, snapshot.State)
		assert.Nil(t, snapshot.Quote)

		require.NoError(t, s.RequestPurchase())
		assert.Equal(t, StatePurchase, s.Snapshot().State)
	})

	t.Run("missing price defers the quote", func(t *testing.T) {
		f := newFixture(t)
		delete(f.resolver.prices, "USDC")
		require.NoError(t, f.wallet.Connect(context.Background()))
		s := f.start(t)

		snapshot := eventually(t, s, func(s Snapshot) bool { return s.DestPrice.Valid }, "prices never resolved")
		assert.False(t, snapshot.SourcePrice.Valid)
		assert.Empty(t, snapshot.RequiredAmount)
		assert.True(t, snapshot.FetchingQuote)
		assert.Empty(t, f.router.requested())
	})

	t.Run("price feed failure", func(t *testing.T) {
		f := newFixture(t)
		f.resolver.err = fmt.Errorf("%w: timeout", pricefeed.ErrPriceUnavailable)
		require.NoError(t, f.wallet.Connect(context.Background()))
		s := f.start(t)

		snapshot := eventually(t, s, func(s Snapshot) bool { return s.PriceError != "" }, "price error not surfaced")
		assert.Contains(t, snapshot.PriceError, "timeout")
		assert.Empty(t, snapshot.RequiredAmount)
		assert.Empty(t, f.router.requested())
	})

	t.Run("intent updates recompute the amount", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.wallet.Connect(context.Background()))
		s := f.start(t)
		eventually(t, s, hasQuote, "quote never arrived")

		two := decimal.NewFromInt(2)
		require.NoError(t, s.UpdateIntent(IntentUpdate{DestinationAmount: &two}))
		snapshot := eventually(t, s, func(s Snapshot) bool {
			return s.Quote != nil && s.Quote.ID == "quote-4000000"
		}, "new quote never arrived")
		assert.Equal(t, "4000000", snapshot.RequiredAmount)

		one := decimal.NewFromInt(1)
		require.NoError(t, s.UpdateIntent(IntentUpdate{DestinationAmount: &one}))
		eventually(t, s, func(s Snapshot) bool {
			return s.Quote != nil && s.Quote.ID == "quote-2000000"
		}, "quote for the original amount not restored")

		assert.Equal(t, []string{"2000000", "4000000", "2000000"}, f.router.requested())

		require.NoError(t, s.UpdateIntent(IntentUpdate{DestinationAmount: &one}))
		eventually(t, s, hasQuote, "quote lost")
		assert.Len(t, f.router.requested(), 3)

		zero := decimal.Zero
		assert.ErrorIs(t, s.UpdateIntent(IntentUpdate{DestinationAmount: &zero}), ErrInvalidIntent)
	})

	t.Run("late quote is kept for its amount", func(t *testing.T) {
		f := newFixture(t)
		release := make(chan struct{})
		f.router.hold = map[string]chan struct{}{"2000000": release}
		require.NoError(t, f.wallet.Connect(context.Background()))
		s := f.start(t)
		require.Eventually(t, func() bool { return len(f.router.requested()) == 1 }, waitFor, pollTick)

		two := decimal.NewFromInt(2)
		require.NoError(t, s.UpdateIntent(IntentUpdate{DestinationAmount: &two}))
		eventually(t, s, func(s Snapshot) bool {
			return s.Quote != nil && s.Quote.ID == "quote-4000000"
		}, "quote for the new amount never arrived")

		close(release)
		require.Eventually(t, func() bool {
			var stashed bool
			_ = s.call(func() error {
				stashed = s.lastQuote != nil && s.lastQuote.ID == "quote-2000000"
				return nil
			})
			return stashed
		}, waitFor, pollTick, "late quote was not kept")
		assert.Equal(t, "quote-4000000", s.Snapshot().Quote.ID)

		one := decimal.NewFromInt(1)
		require.NoError(t, s.UpdateIntent(IntentUpdate{DestinationAmount: &one}))
		snapshot := eventually(t, s, func(s Snapshot) bool {
			return s.Quote != nil && s.Quote.ID == "quote-2000000"
		}, "late quote not reused")
		assert.Equal(t, "2000000", snapshot.RequiredAmount)
		assert.Equal(t, []string{"2000000", "4000000"}, f.router.requested())
	})
}

func TestSourceCurrency(t *testing.T) {
	t.Run("defaults to the spent token", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.wallet.Connect(context.Background()))
		s, err := f.env.StartPayment(context.Background(), Intent{
			DestinationAmount:    decimal.NewFromInt(1),
			DestinationCurrency:  "ICP",
			SourceCurrency:       "usdc",
			DestinationAccountID: ownerPrincipal,
		})
		require.NoError(t, err)
		t.Cleanup(s.Close)

		snapshot := eventually(t, s, hasQuote, "quote never arrived")
		assert.Equal(t, "USDC", snapshot.Intent.SourceCurrency)
		assert.Equal(t, []string{"USDC"}, f.resolver.sourcesSeen())
	})

	t.Run("other currencies are refused", func(t *testing.T) {
		f := newFixture(t)
		f.resolver.prices["ETH"] = decimal.NewFromInt(2000)

		_, err := f.env.StartPayment(context.Background(), Intent{
			DestinationAmount:    decimal.NewFromInt(1),
			DestinationCurrency:  "ICP",
			SourceCurrency:       "ETH",
			DestinationAccountID: ownerPrincipal,
		})
		assert.ErrorIs(t, err, ErrInvalidIntent)

		require.NoError(t, f.wallet.Connect(context.Background()))
		s := f.start(t)
		eventually(t, s, hasQuote, "quote never arrived")

		assert.ErrorIs(t, s.UpdateIntent(IntentUpdate{SourceCurrency: "eth"}), ErrInvalidIntent)
		snapshot := s.Snapshot()
		assert.Equal(t, "USDC", snapshot.Intent.SourceCurrency)
		assert.Equal(t, "2000000", snapshot.RequiredAmount)
		assert.NotContains(t, f.resolver.sourcesSeen(), "ETH")
		assert.Equal(t, []string{"2000000"}, f.router.requested())
	})
}

func TestConfirm(t *testing.T) {
	t.Run("requires purchase state and a quote", func(t *testing.T) {
		f := newFixture(t)
		s := f.start(t)
		assert.ErrorIs(t, s.Confirm(), ErrNotPurchasing)

		f.resolver.err = errors.New("down")
		require.NoError(t, f.wallet.Connect(context.Background()))
		eventually(t, s, func(s Snapshot) bool { return s.PriceError != "" }, "price error not surfaced")
		assert.ErrorIs(t, s.Confirm(), ErrNoQuote)
	})

	t.Run("tracks the route until done", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.wallet.Connect(context.Background()))
		s := f.start(t)
		eventually(t, s, hasQuote, "quote never arrived")

		var mu sync.Mutex
		var seen []bool
		unsubscribe := s.OnStateChange(func(snapshot Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			if len(seen) == 0 || seen[len(seen)-1] != snapshot.Processing {
				seen = append(seen, snapshot.Processing)
			}
		})
		defer unsubscribe()

		require.NoError(t, s.Confirm())
		require.NoError(t, s.Confirm())

		snapshot := eventually(t, s, func(s Snapshot) bool { return s.Processing }, "route never started")
		assert.True(t, s.IsProcessing())
		require.Len(t, snapshot.StepViews, 1)
		assert.Equal(t, route.MessagePending, snapshot.StepViews[0].Message)
		assert.Equal(t, 30, snapshot.StepViews[0].RemainingSeconds)
		assert.Equal(t, 30, snapshot.TotalRemaining)

		one := decimal.NewFromInt(1)
		assert.ErrorIs(t, s.UpdateIntent(IntentUpdate{DestinationAmount: &one}), ErrProcessing)

		f.scheduler.Fire()
		f.scheduler.Fire()
		snapshot = eventually(t, s, func(s Snapshot) bool { return s.TotalRemaining == 28 }, "countdown did not tick")
		assert.Equal(t, 28, snapshot.StepViews[0].RemainingSeconds)

		close(f.router.release)
		snapshot = eventually(t, s, func(s Snapshot) bool {
			return len(s.Steps) == 1 && s.Steps[0].Status() == route.StatusDone
		}, "route never finished")
		assert.False(t, snapshot.Processing)
		assert.Equal(t, route.MessageDone, snapshot.StepViews[0].Message)
		assert.Equal(t, 0, f.scheduler.Active())

		steps := s.CurrentSteps()
		steps[0].ID = "changed"
		assert.NotEqual(t, "changed", s.CurrentSteps()[0].ID)

		mu.Lock()
		assert.Equal(t, []bool{false, true, false}, seen)
		mu.Unlock()
	})

	t.Run("close drops progress", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.wallet.Connect(context.Background()))
		s := f.start(t)
		eventually(t, s, hasQuote, "quote never arrived")

		require.NoError(t, s.Confirm())
		eventually(t, s, func(s Snapshot) bool { return s.Processing }, "route never started")
		require.Equal(t, 1, f.scheduler.Active())

		s.Close()
		s.Close()
		assert.Equal(t, 0, f.scheduler.Active())
		assert.True(t, s.Snapshot().Closed)
		assert.ErrorIs(t, s.Confirm(), ErrSessionClosed)
		assert.ErrorIs(t, s.RequestPurchase(), ErrSessionClosed)

		close(f.router.release)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, route.StatusPending, s.Snapshot().Steps[0].Status())
	})
}

func TestStartPaymentValidation(t *testing.T) {
	f := newFixture(t)
	valid := Intent{
		DestinationAmount:    decimal.NewFromInt(1),
		DestinationCurrency:  "ICP",
		DestinationAccountID: ownerPrincipal,
	}

	tests := []struct {
		name   string
		mutate func(*Intent)
	}{
		{"zero amount", func(i *Intent) { i.DestinationAmount = decimal.Zero }},
		{"negative amount", func(i *Intent) { i.DestinationAmount = decimal.NewFromInt(-3) }},
		{"missing currency", func(i *Intent) { i.DestinationCurrency = "" }},
		{"bad currency", func(i *Intent) { i.DestinationCurrency = "I C P" }},
		{"missing account", func(i *Intent) { i.DestinationAccountID = "" }},
		{"bad account", func(i *Intent) { i.DestinationAccountID = "not-a-principal" }},
		{"canister account", func(i *Intent) { i.DestinationAccountID = "ryjl3-tyaaa-aaaaa-aaaba-cai" }},
		{"other source currency", func(i *Intent) { i.SourceCurrency = "ETH" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := valid
			tt.mutate(&intent)
			_, err := f.env.StartPayment(context.Background(), intent)
			assert.ErrorIs(t, err, ErrInvalidIntent)
		})
	}
}

func TestNewEnvironment(t *testing.T) {
	w, err := wallet.NewKeyWallet(testKey, nil)
	require.NoError(t, err)
	complete := Options{
		Resolver: &fakeResolver{},
		Router:   &fakeRouter{},
		Wallet:   w,
		Builder:  quote.Builder{SourceToken: "USDC"},
	}

	env, err := NewEnvironment(complete)
	require.NoError(t, err)
	assert.Equal(t, route.TickerScheduler{}, env.scheduler)
	assert.Same(t, w, env.Wallet())

	for name, mutate := range map[string]func(*Options){
		"resolver":     func(o *Options) { o.Resolver = nil },
		"router":       func(o *Options) { o.Router = nil },
		"wallet":       func(o *Options) { o.Wallet = nil },
		"source token": func(o *Options) { o.Builder.SourceToken = "" },
	} {
		t.Run("missing "+name, func(t *testing.T) {
			opts := complete
			mutate(&opts)
			_, err := NewEnvironment(opts)
			assert.Error(t, err)
		})
	}
}

func TestRegistry(t *testing.T) {
	f := newFixture(t)
	registry := NewRegistry()

	first := f.start(t)
	second := f.start(t)
	registry.Add(first)
	registry.Add(second)
	assert.Equal(t, 2, registry.Len())

	got, ok := registry.Get(first.ID())
	require.True(t, ok)
	assert.Same(t, first, got)

	first.Close()
	require.Eventually(t, func() bool { return registry.Len() == 1 }, waitFor, pollTick)
	_, ok = registry.Get(first.ID())
	assert.False(t, ok)

	registry.CloseAll()
	require.Eventually(t, func() bool { return registry.Len() == 0 }, waitFor, pollTick)
}

func TestRegistryCloseIdle(t *testing.T) {
	t.Run("closes sessions untouched since the cutoff", func(t *testing.T) {
		f := newFixture(t)
		registry := NewRegistry()
		stale := f.start(t)
		registry.Add(stale)

		cutoff := time.Now()
		time.Sleep(time.Millisecond)
		fresh := f.start(t)
		registry.Add(fresh)
		assert.True(t, fresh.LastActive().After(cutoff))

		assert.Equal(t, 1, registry.CloseIdle(cutoff))
		assert.True(t, stale.Snapshot().Closed)
		assert.False(t, fresh.Snapshot().Closed)
		require.Eventually(t, func() bool { return registry.Len() == 1 }, waitFor, pollTick)

		_, ok := registry.Get(fresh.ID())
		assert.True(t, ok)
	})

	t.Run("calls keep a session alive", func(t *testing.T) {
		f := newFixture(t)
		registry := NewRegistry()
		s := f.start(t)
		registry.Add(s)

		cutoff := time.Now()
		time.Sleep(time.Millisecond)
		require.NoError(t, s.RequestPurchase())
		assert.Equal(t, 0, registry.CloseIdle(cutoff))
		assert.Equal(t, 1, registry.Len())
	})

	t.Run("processing sessions stay open", func(t *testing.T) {
		f := newFixture(t)
		registry := NewRegistry()
		require.NoError(t, f.wallet.Connect(context.Background()))
		s := f.start(t)
		registry.Add(s)
		eventually(t, s, hasQuote, "quote never arrived")
		require.NoError(t, s.Confirm())
		eventually(t, s, func(s Snapshot) bool { return s.Processing }, "route never started")

		assert.Equal(t, 0, registry.CloseIdle(time.Now().Add(time.Hour)))
		assert.False(t, s.Snapshot().Closed)

		close(f.router.release)
		eventually(t, s, func(s Snapshot) bool { return !s.Processing }, "route never finished")
		assert.Equal(t, 1, registry.CloseIdle(time.Now().Add(time.Hour)))
	})

	t.Run("run sweeps until cancelled", func(t *testing.T) {
		f := newFixture(t)
		registry := NewRegistry()
		s := f.start(t)
		registry.Add(s)

		ctx, cancel := context.WithCancel(context.Background())
		stopped := make(chan struct{})
		go func() {
			defer close(stopped)
			registry.Run(ctx, time.Nanosecond, pollTick)
		}()

		require.Eventually(t, func() bool { return registry.Len() == 0 }, waitFor, pollTick)
		assert.True(t, s.Snapshot().Closed)

		cancel()
		select {
		case <-stopped:
		case <-time.After(waitFor):
			t.Fatal("sweeper did not stop")
		}
	})
}
