package route

import (
	"context"
	"sync"
	"time"
)

// Router is the routing and bridging backend
type Router interface {
	// GetContractCallsQuote prices a bridge transfer followed by a contract call
	GetContractCallsQuote(ctx context.Context, req *ContractCallsRequest) (*Quote, error)

	// ConvertQuoteToRoute turns a quote into an executable route
	ConvertQuoteToRoute(quote *Quote) (*Route, error)

	// ExecuteRoute runs the route to completion, calling onProgress with a
	// fresh snapshot after every change
	ExecuteRoute(ctx context.Context, route *Route, onProgress func(*Route)) (*Route, error)

	// GetActiveRoutes lists routes that are still executing
	GetActiveRoutes() []*Route
}

// Scheduler runs fn every interval until the returned stop func is called
type Scheduler interface {
	Every(interval time.Duration, fn func()) (stop func())
}

// TickerScheduler schedules with a time.Ticker per task
type TickerScheduler struct{}

var _ Scheduler = TickerScheduler{}

// Every starts a ticker goroutine
func (TickerScheduler) Every(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	stopChan := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn()
			case <-stopChan:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stopChan) })
	}
}

// ManualScheduler fires tasks only when told to
type ManualScheduler struct {
	mu     sync.Mutex
	nextID int
	tasks  map[int]func()
}

var _ Scheduler = (*ManualScheduler)(nil)

// NewManualScheduler creates an empty manual scheduler
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{tasks: make(map[int]func())}
}

// Every registers fn; the interval is ignored
func (s *ManualScheduler) Every(_ time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.tasks[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.tasks, id)
	}
}

// Fire runs every registered task once
func (s *ManualScheduler) Fire() {
	s.mu.Lock()
	tasks := make([]func(), 0, len(s.tasks))
	for _, fn := range s.tasks {
		tasks = append(tasks, fn)
	}
	s.mu.Unlock()

	for _, fn := range tasks {
		fn()
	}
}

// Active returns the number of registered tasks
func (s *ManualScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
