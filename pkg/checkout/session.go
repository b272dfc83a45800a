package checkout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/keygate/checkout/pkg/logger"
	"github.com/keygate/checkout/pkg/metrics"
	"github.com/keygate/checkout/pkg/pricefeed"
	"github.com/keygate/checkout/pkg/quote"
	"github.com/keygate/checkout/pkg/route"
	"github.com/keygate/checkout/pkg/wallet"
	"github.com/shopspring/decimal"
)

// FlowState is the position of a session in the purchase flow
type FlowState string

const (
	StateStart    FlowState = "START"
	StateConnect  FlowState = "CONNECT"
	StatePurchase FlowState = "PURCHASE"
)

const eventBufferSize = 64

var (
	// ErrSessionClosed is returned by every call on a closed session
	ErrSessionClosed = errors.New("session closed")

	// ErrNotPurchasing is returned when confirming before a wallet is connected
	ErrNotPurchasing = errors.New("session is not in the purchase state")

	// ErrNoQuote is returned when confirming without a usable quote
	ErrNoQuote = errors.New("no quote available")

	// ErrProcessing is returned when the intent changes while a route runs
	ErrProcessing = errors.New("route is processing")
)

type quoteKey struct {
	wallet string
	amount string
}

// Session is one payment attempt. All state is owned by a single event
// loop goroutine; readers get the snapshot published after every event.
type Session struct {
	id        string
	env       *Environment
	ctx       context.Context
	cancel    context.CancelFunc
	requester *quote.Requester
	logger    logger.Logger

	events    chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	// unix nanos of the last caller interaction
	lastActive atomic.Int64

	// owned by the loop
	intent            Intent
	state             FlowState
	walletAddress     string
	prices            pricefeed.Prices
	amount            string
	resolving         bool
	priceErr          error
	generation        uint64
	currentKey        quoteKey
	quote             *route.Quote
	quoteErr          error
	lastKey           quoteKey
	lastQuote         *route.Quote
	tracker           *route.Tracker
	processing        bool
	unsubscribeWallet func()
	replies           []func()

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners map[int]func(Snapshot)
	nextID    int
}

func newSession(ctx context.Context, env *Environment, intent Intent) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:        uuid.NewString(),
		env:       env,
		ctx:       ctx,
		cancel:    cancel,
		requester: quote.NewRequester(env.router, env.logger),
		logger:    env.logger,
		events:    make(chan func(), eventBufferSize),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		intent:    intent,
		state:     StateStart,
		amount:    quote.PlaceholderAmount,
		listeners: make(map[int]func(Snapshot)),
	}
	s.touch()
	s.tracker = route.NewTracker(env.router, env.scheduler, s.dispatch, env.logger)
	s.tracker.OnProcessingChange(s.onProcessingChange)
	s.snapshot = s.buildSnapshot()

	metrics.ActiveSessions.Inc()
	go s.run()

	s.unsubscribeWallet = env.wallet.Subscribe(func(state wallet.State) {
		s.dispatch(func() { s.onWallet(state) })
	})
	s.dispatch(func() { s.onWallet(env.wallet.State()) })

	s.logger.Info("Payment session %s started for %s %s", s.id, intent.DestinationAmount.String(), intent.DestinationCurrency)
	return s
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// Done is closed once the session is closed
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns when a caller last read or changed the session
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case fn := <-s.events:
			fn()
			s.publish()
			for _, reply := range s.replies {
				reply()
			}
			s.replies = s.replies[:0]
		case <-s.done:
			return
		}
	}
}

// dispatch posts fn onto the loop. Posts after Close are dropped.
func (s *Session) dispatch(fn func()) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.events <- fn:
	case <-s.done:
	}
}

// call runs fn on the loop and waits for its result. The result is
// delivered after the snapshot reflecting fn is published.
func (s *Session) call(fn func() error) error {
	result := make(chan error, 1)
	s.dispatch(func() {
		err := fn()
		s.replies = append(s.replies, func() { result <- err })
	})
	select {
	case err := <-result:
		return err
	case <-s.done:
		return ErrSessionClosed
	}
}

// RequestPurchase moves a fresh session on to waiting for a wallet
func (s *Session) RequestPurchase() error {
	s.touch()
	return s.call(func() error {
		if s.state == StateStart {
			s.state = StateConnect
			s.logger.Debug("Session %s waiting for a wallet", s.id)
		}
		return nil
	})
}

// UpdateIntent changes the amount or currencies. Prices and the quote are
// recomputed immediately. Refused while a route is processing.
func (s *Session) UpdateIntent(update IntentUpdate) error {
	s.touch()
	return s.call(func() error {
		if s.busy() {
			return ErrProcessing
		}
		intent, err := s.intent.apply(update, s.env.builder.SourceToken)
		if err != nil {
			return err
		}
		s.intent = intent
		if s.state == StatePurchase {
			s.refresh()
		}
		return nil
	})
}

// Confirm executes the current quote
func (s *Session) Confirm() error {
	s.touch()
	return s.call(func() error {
		if s.state != StatePurchase {
			return ErrNotPurchasing
		}
		if s.busy() {
			return nil
		}
		if s.quote == nil {
			return ErrNoQuote
		}
		return s.tracker.Confirm(context.WithoutCancel(s.ctx), s.quote)
	})
}

// Close stops countdowns and the loop. A running route keeps executing but
// its progress is no longer applied.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		_ = s.call(func() error {
			s.tracker.Close()
			s.unsubscribeWallet()
			if s.processing {
				metrics.ProcessingSessions.Dec()
				s.processing = false
			}
			return nil
		})
		close(s.done)
		s.cancel()
		<-s.stopped

		s.mu.Lock()
		s.snapshot.Closed = true
		snapshot := s.snapshot
		listeners := s.listenersLocked()
		s.mu.Unlock()
		for _, fn := range listeners {
			fn(snapshot)
		}

		metrics.ActiveSessions.Dec()
		s.logger.Info("Payment session %s closed", s.id)
	})
}

func (s *Session) busy() bool {
	return s.tracker.Running() || s.tracker.IsProcessing()
}

func (s *Session) onWallet(state wallet.State) {
	address := ""
	if state.Connected() {
		address = state.Address
	}
	changed := address != s.walletAddress
	s.walletAddress = address

	if state.Connected() && s.state != StatePurchase {
		s.state = StatePurchase
		s.logger.Info("Session %s purchasing with wallet %s", s.id, address)
		s.refresh()
		return
	}
	if changed && s.state == StatePurchase && !s.busy() {
		s.refresh()
	}
}

// refresh resolves fresh prices and drops any quote for the previous inputs
func (s *Session) refresh() {
	s.generation++
	generation := s.generation
	s.resolving = true
	s.priceErr = nil
	s.prices = pricefeed.Prices{}
	s.amount = quote.PlaceholderAmount
	s.currentKey = quoteKey{}
	s.quote = nil
	s.quoteErr = nil

	intent := s.intent
	address := s.walletAddress
	go func() {
		prices, err := s.env.resolver.Resolve(s.ctx, intent.SourceCurrency, intent.DestinationCurrency)
		s.dispatch(func() { s.onPrices(generation, intent, address, prices, err) })
	}()
}

func (s *Session) onPrices(generation uint64, intent Intent, address string, prices pricefeed.Prices, err error) {
	if generation != s.generation {
		return
	}
	s.resolving = false
	s.prices = prices
	if err != nil {
		s.priceErr = err
		s.logger.Error("Session %s price lookup failed: %v", s.id, err)
		return
	}

	amount, ok := pricefeed.RequiredSourceAmount(intent.DestinationAmount, prices)
	if !ok {
		s.logger.Notice("Session %s has no price for %s or %s, deferring quote", s.id, intent.SourceCurrency, intent.DestinationCurrency)
		return
	}
	s.amount = amount.String()

	req, err := s.env.builder.Build(address, s.amount, intent.DestinationAccountID)
	if err != nil {
		if !errors.Is(err, quote.ErrNotReady) {
			s.quoteErr = err
			s.logger.Error("Session %s cannot build quote request: %v", s.id, err)
		}
		return
	}

	key := quoteKey{wallet: address, amount: s.amount}
	s.currentKey = key
	if key == s.lastKey && s.lastQuote != nil {
		s.quote = s.lastQuote
		return
	}

	go func() {
		q, err := s.requester.Request(s.ctx, req)
		s.dispatch(func() { s.onQuote(key, q, err) })
	}()
}

func (s *Session) onQuote(key quoteKey, q *route.Quote, err error) {
	if key != s.currentKey {
		// inputs moved on; keep the quote in case the same pair comes back
		if err == nil {
			s.lastKey = key
			s.lastQuote = q
		}
		return
	}
	switch {
	case errors.Is(err, quote.ErrDuplicateRequest):
		return
	case err != nil:
		s.quoteErr = err
		return
	}
	s.quote = q
	s.quoteErr = nil
	s.lastKey = key
	s.lastQuote = q
	s.logger.Info("Session %s received quote %s for %s", s.id, q.ID, key.amount)
}

func (s *Session) onProcessingChange(processing bool) {
	if processing == s.processing {
		return
	}
	s.processing = processing
	if processing {
		metrics.ProcessingSessions.Inc()
	} else {
		metrics.ProcessingSessions.Dec()
	}
}

// StepView is a step as displayed: its status message and countdown
type StepView struct {
	ID               string       `json:"id"`
	Tool             string       `json:"tool"`
	Status           route.Status `json:"status"`
	Message          string       `json:"message"`
	RemainingSeconds int          `json:"remaining_seconds"`
}

// Snapshot is the published, read-only state of a session
type Snapshot struct {
	ID             string              `json:"id"`
	State          FlowState           `json:"state"`
	Intent         Intent              `json:"intent"`
	WalletAddress  string              `json:"wallet_address,omitempty"`
	SourcePrice    decimal.NullDecimal `json:"source_price_usd"`
	DestPrice      decimal.NullDecimal `json:"destination_price_usd"`
	RequiredAmount string              `json:"required_amount,omitempty"`
	PriceError     string              `json:"price_error,omitempty"`
	FetchingQuote  bool                `json:"fetching_quote"`
	Quote          *route.Quote        `json:"quote,omitempty"`
	QuoteError     string              `json:"quote_error,omitempty"`
	Steps          []route.Step        `json:"steps,omitempty"`
	StepViews      []StepView          `json:"step_views,omitempty"`
	Estimates      route.Estimates     `json:"estimates"`
	TotalRemaining int                 `json:"total_remaining_seconds"`
	Processing     bool                `json:"processing"`
	Closed         bool                `json:"closed"`
}

func (s *Session) buildSnapshot() Snapshot {
	snapshot := Snapshot{
		ID:             s.id,
		State:          s.state,
		Intent:         s.intent,
		WalletAddress:  s.walletAddress,
		SourcePrice:    s.prices.Source,
		DestPrice:      s.prices.Destination,
		Steps:          s.tracker.Steps(),
		Estimates:      s.tracker.Estimates(),
		TotalRemaining: s.tracker.TotalRemaining(),
		Processing:     s.tracker.IsProcessing(),
	}
	if s.amount != quote.PlaceholderAmount {
		snapshot.RequiredAmount = s.amount
	}
	if s.priceErr != nil {
		snapshot.PriceError = s.priceErr.Error()
	}
	if s.quoteErr != nil {
		snapshot.QuoteError = s.quoteErr.Error()
	}
	if s.quote != nil {
		q := s.quote.Clone()
		snapshot.Quote = &q
	}
	snapshot.FetchingQuote = s.state == StatePurchase && s.quote == nil && len(snapshot.Steps) == 0

	for i := range snapshot.Steps {
		step := &snapshot.Steps[i]
		remaining, _ := s.tracker.Remaining(step.ID)
		snapshot.StepViews = append(snapshot.StepViews, StepView{
			ID:               step.ID,
			Tool:             step.Tool,
			Status:           step.Status(),
			Message:          route.StatusMessage(step),
			RemainingSeconds: remaining,
		})
	}
	return snapshot
}

func (s *Session) publish() {
	snapshot := s.buildSnapshot()

	s.mu.Lock()
	s.snapshot = snapshot
	listeners := s.listenersLocked()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

func (s *Session) listenersLocked() []func(Snapshot) {
	listeners := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	return listeners
}

// OnStateChange calls fn with every published snapshot. fn runs on the
// session loop and must not call back into the session.
func (s *Session) OnStateChange(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners, id)
		})
	}
}

// Snapshot returns the last published state
func (s *Session) Snapshot() Snapshot {
	s.touch()
	return s.current()
}

func (s *Session) current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// CurrentSteps returns the latest step snapshot
func (s *Session) CurrentSteps() []route.Step {
	return route.CloneSteps(s.current().Steps)
}

// IsProcessing reports whether a step is pending or waiting on the user
func (s *Session) IsProcessing() bool {
	return s.current().Processing
}
