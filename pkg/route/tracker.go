package route

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/keygate/checkout/pkg/logger"
	"github.com/keygate/checkout/pkg/metrics"
	"github.com/shopspring/decimal"
)

// TickInterval is the countdown resolution
const TickInterval = time.Second

// ErrTrackerClosed is returned by Confirm after Close
var ErrTrackerClosed = errors.New("tracker closed")

const (
	MessageUnstarted      = "Waiting to start."
	MessagePending        = "Waiting for the transaction to complete."
	MessageActionRequired = "Please confirm the transaction in your wallet."
	MessageDone           = "Transaction completed."
	MessageFailed         = "Transaction failed."
	MessageRejected       = "You rejected the transaction."
)

var rejectionPattern = regexp.MustCompile(`(?i)user (rejected|denied)`)

// StatusMessage returns the human readable status of a step. For a failed
// step the first process error is shown, with wallet rejections reworded.
func StatusMessage(step *Step) string {
	switch step.Status() {
	case StatusPending:
		return MessagePending
	case StatusActionRequired:
		return MessageActionRequired
	case StatusDone:
		return MessageDone
	case StatusFailed:
		return failureMessage(step)
	default:
		return MessageUnstarted
	}
}

func failureMessage(step *Step) string {
	if step.Execution == nil {
		return MessageFailed
	}
	for _, process := range step.Execution.Process {
		if process.Error == nil {
			continue
		}
		if rejectionPattern.MatchString(process.Error.Message) {
			return MessageRejected
		}
		if process.Error.Message != "" {
			return process.Error.Message
		}
		return MessageFailed
	}
	return MessageFailed
}

// Estimates are the route totals computed when steps are set
type Estimates struct {
	GasUSD       decimal.Decimal `json:"gas_usd"`
	FeeUSD       decimal.Decimal `json:"fee_usd"`
	TotalSeconds int             `json:"total_seconds"`
}

// ComputeEstimates sums gas and fee costs and durations over all steps.
// Absent entries count as zero.
func ComputeEstimates(steps []Step) Estimates {
	estimates := Estimates{GasUSD: decimal.Zero, FeeUSD: decimal.Zero}
	for i := range steps {
		step := &steps[i]
		estimates.TotalSeconds += step.DurationSeconds()
		if step.Estimate == nil {
			continue
		}
		for _, cost := range step.Estimate.GasCosts {
			if cost.AmountUSD.Valid {
				estimates.GasUSD = estimates.GasUSD.Add(cost.AmountUSD.Decimal)
			}
		}
		for _, cost := range step.Estimate.FeeCosts {
			if cost.AmountUSD.Valid {
				estimates.FeeUSD = estimates.FeeUSD.Add(cost.AmountUSD.Decimal)
			}
		}
	}
	return estimates
}

// IsProcessing reports whether any step is pending or waiting on the user
func IsProcessing(steps []Step) bool {
	for i := range steps {
		if steps[i].Status().Active() {
			return true
		}
	}
	return false
}

func countdownRunning(steps []Step) bool {
	pending := false
	for i := range steps {
		switch steps[i].Status() {
		case StatusActionRequired:
			return false
		case StatusPending:
			pending = true
		}
	}
	return pending
}

// Tracker follows the execution of one route at a time. It is not safe for
// concurrent use: every method must run on the owner's event loop, and
// dispatch must post closures onto that loop.
type Tracker struct {
	router    Router
	scheduler Scheduler
	dispatch  func(func())
	logger    logger.Logger

	steps        []Step
	estimates    Estimates
	remaining    map[string]int
	total        int
	totalSeeded  bool
	processing   bool
	running      bool
	closed       bool
	countdown    func()
	generation   uint64
	onProcessing []func(bool)
}

// NewTracker creates a tracker
func NewTracker(router Router, scheduler Scheduler, dispatch func(func()), log logger.Logger) *Tracker {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Tracker{
		router:    router,
		scheduler: scheduler,
		dispatch:  dispatch,
		logger:    log,
		remaining: make(map[string]int),
	}
}

// OnProcessingChange registers fn to be called when IsProcessing flips
func (t *Tracker) OnProcessingChange(fn func(bool)) {
	t.onProcessing = append(t.onProcessing, fn)
}

// Confirm converts the quote and starts executing it in the background.
// A nil quote or a second confirm while a route is running does nothing.
func (t *Tracker) Confirm(ctx context.Context, quote *Quote) error {
	if quote == nil {
		return nil
	}
	if t.closed {
		return ErrTrackerClosed
	}
	if t.running {
		t.logger.Notice("Route already executing, ignoring confirm of quote %s", quote.ID)
		return nil
	}

	rt, err := t.router.ConvertQuoteToRoute(quote)
	if err != nil {
		return fmt.Errorf("failed to convert quote to route: %w", err)
	}

	t.running = true
	t.resetCounters()
	t.SetSteps(CloneSteps(rt.Steps))

	chainLabel := strconv.Itoa(rt.FromChainID)
	metrics.RoutesStarted.WithLabelValues(chainLabel).Inc()
	t.logger.InfoWithChain(rt.FromChainID, "Executing route %s with %d steps", rt.ID, len(rt.Steps))

	go func() {
		final, err := t.router.ExecuteRoute(ctx, rt, func(snapshot *Route) {
			steps := CloneSteps(snapshot.Steps)
			t.dispatch(func() {
				if t.closed {
					return
				}
				t.SetSteps(steps)
			})
		})

		var finalSteps []Step
		if final != nil {
			finalSteps = CloneSteps(final.Steps)
		}
		t.dispatch(func() {
			t.finish(rt, finalSteps, err)
		})
	}()

	return nil
}

func (t *Tracker) finish(rt *Route, finalSteps []Step, err error) {
	t.running = false

	outcome := "done"
	if err != nil {
		outcome = "failed"
		t.logger.ErrorWithChain(rt.FromChainID, "Route %s stopped: %v", rt.ID, err)
	} else {
		t.logger.InfoWithChain(rt.FromChainID, "Route %s finished", rt.ID)
	}
	metrics.RoutesFinished.WithLabelValues(strconv.Itoa(rt.FromChainID), outcome).Inc()

	if t.closed || finalSteps == nil {
		return
	}
	t.SetSteps(finalSteps)
}

// SetSteps replaces the step snapshot. Estimates are recomputed, counters
// are seeded for step ids not seen before and the countdown is restarted.
func (t *Tracker) SetSteps(steps []Step) {
	previous := make(map[string]Status, len(t.steps))
	for i := range t.steps {
		previous[t.steps[i].ID] = t.steps[i].Status()
	}

	t.steps = steps
	t.estimates = ComputeEstimates(steps)

	for i := range steps {
		step := &steps[i]
		if status, seen := previous[step.ID]; !seen || status != step.Status() {
			if step.Status() != StatusUnstarted {
				metrics.StepTransitions.WithLabelValues(string(step.Status())).Inc()
			}
		}
		if _, ok := t.remaining[step.ID]; !ok {
			t.remaining[step.ID] = step.DurationSeconds()
		}
	}
	if !t.totalSeeded && len(steps) > 0 {
		t.total = t.estimates.TotalSeconds
		t.totalSeeded = true
	}

	t.stopCountdown()
	if !t.closed && countdownRunning(steps) {
		t.startCountdown()
	}

	t.updateProcessing()
}

// Tick advances the countdown by one second. Nothing moves while a step
// waits on the user or when no step is pending.
func (t *Tracker) Tick() {
	if !countdownRunning(t.steps) {
		return
	}
	for i := range t.steps {
		step := &t.steps[i]
		if step.Status() != StatusPending {
			continue
		}
		if t.remaining[step.ID] > 0 {
			t.remaining[step.ID]--
		}
	}
	if t.total > 0 {
		t.total--
	}
}

// Close stops the countdown; progress arriving afterwards is dropped
func (t *Tracker) Close() {
	if t.closed {
		return
	}
	t.closed = true
	t.stopCountdown()
}

// Steps returns a copy of the current snapshot
func (t *Tracker) Steps() []Step {
	return CloneSteps(t.steps)
}

// Estimates returns the totals of the current snapshot
func (t *Tracker) Estimates() Estimates {
	return t.estimates
}

// Remaining returns the countdown of a step
func (t *Tracker) Remaining(stepID string) (int, bool) {
	seconds, ok := t.remaining[stepID]
	return seconds, ok
}

// TotalRemaining returns the aggregate countdown
func (t *Tracker) TotalRemaining() int {
	return t.total
}

// IsProcessing reports whether any step is pending or waiting on the user
func (t *Tracker) IsProcessing() bool {
	return IsProcessing(t.steps)
}

// Running reports whether a route execution has been started and not returned
func (t *Tracker) Running() bool {
	return t.running
}

// CountdownActive reports whether a countdown timer is scheduled
func (t *Tracker) CountdownActive() bool {
	return t.countdown != nil
}

func (t *Tracker) resetCounters() {
	t.remaining = make(map[string]int)
	t.total = 0
	t.totalSeeded = false
}

func (t *Tracker) startCountdown() {
	t.generation++
	generation := t.generation
	t.countdown = t.scheduler.Every(TickInterval, func() {
		t.dispatch(func() {
			// a tick queued before the timer was replaced belongs to a stale snapshot
			if t.closed || generation != t.generation {
				return
			}
			t.Tick()
		})
	})
}

func (t *Tracker) stopCountdown() {
	if t.countdown == nil {
		return
	}
	t.countdown()
	t.countdown = nil
	t.generation++
}

func (t *Tracker) updateProcessing() {
	processing := IsProcessing(t.steps)
	if processing == t.processing {
		return
	}
	t.processing = processing
	for _, fn := range t.onProcessing {
		fn(processing)
	}
}
