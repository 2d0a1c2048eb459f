package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned while the breaker refuses calls to the backend.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is a breaker position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

var stateNames = map[State]string{Closed: "closed", Open: "open", HalfOpen: "half_open"}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Snapshot is a point-in-time view of a breaker, used by readiness output.
type Snapshot struct {
	Target   string    `json:"target"`
	State    string    `json:"state"`
	Failures int       `json:"failures"`
	Samples  int       `json:"samples"`
	OpenedAt time.Time `json:"opened_at,omitempty"`
}

// Breaker trips when the share of failed calls among the most recent outcomes
// reaches failureRatio. The window holds twice minRequests outcomes and is
// only judged once it carries at least minRequests of them.
type Breaker struct {
	mu           sync.Mutex
	state        State
	outcomes     []bool
	next         int
	filled       int
	minRequests  int
	failureRatio float64
	cooldown     time.Duration
	openedAt     time.Time
	trialOut     bool
	target       string
	logger       zerolog.Logger
}

// NewBreaker builds a closed breaker. It stays open for cooldown before one
// trial call is let through.
func NewBreaker(minRequests int, failureRatio float64, cooldown time.Duration) *Breaker {
	minRequests = max(minRequests, 1)
	if failureRatio <= 0 || failureRatio > 1 {
		failureRatio = 0.5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		outcomes:     make([]bool, minRequests*2),
		minRequests:  minRequests,
		failureRatio: failureRatio,
		cooldown:     cooldown,
		logger:       zerolog.Nop(),
	}
}

// WithTarget names the protected backend in metrics and logs.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = strings.TrimSpace(target)
	b.publishStateLocked()
	return b
}

// WithLogger sets the logger used when no request logger is on the context.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
	return b
}

// Allow reports whether a call may go out. A nil breaker always allows.
func (b *Breaker) Allow(ctx context.Context) bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) < b.cooldown {
			return false
		}
		b.moveLocked(ctx, HalfOpen)
	}
	if b.trialOut {
		return false
	}
	b.trialOut = true
	return true
}

// Report feeds the outcome of a call back into the breaker. While half-open
// the trial result alone decides whether it closes or reopens.
func (b *Breaker) Report(ctx context.Context, success bool) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		if success {
			b.moveLocked(ctx, Closed)
		} else {
			b.moveLocked(ctx, Open)
		}
		return
	}

	b.outcomes[b.next] = success
	b.next = (b.next + 1) % len(b.outcomes)
	b.filled = min(b.filled+1, len(b.outcomes))
	if b.filled < b.minRequests {
		return
	}
	if float64(b.failuresLocked())/float64(b.filled) >= b.failureRatio {
		b.moveLocked(ctx, Open)
	}
}

// State returns the current position. A nil breaker is always closed.
func (b *Breaker) State() State {
	if b == nil {
		return Closed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot describes the breaker for health output.
func (b *Breaker) Snapshot() Snapshot {
	if b == nil {
		return Snapshot{Target: "default", State: Closed.String()}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Target:   b.targetLabel(),
		State:    b.state.String(),
		Failures: b.failuresLocked(),
		Samples:  b.filled,
		OpenedAt: b.openedAt,
	}
}

func (b *Breaker) failuresLocked() int {
	failures := 0
	for i := 0; i < b.filled; i++ {
		if !b.outcomes[i] {
			failures++
		}
	}
	return failures
}

func (b *Breaker) moveLocked(ctx context.Context, to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.trialOut = false
	b.filled, b.next = 0, 0
	switch to {
	case Open:
		b.openedAt = time.Now()
	case Closed:
		b.openedAt = time.Time{}
	}
	b.publishStateLocked()

	target := b.targetLabel()
	BreakerTransitions.WithLabelValues(target, from.String(), to.String()).Inc()
	if to == Open {
		BreakerOpenedTotal.WithLabelValues(target).Inc()
	}

	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &b.logger
	}
	evt := logger.Info().Str("target", target).Str("from_state", from.String()).Str("to_state", to.String())
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("breaker_transition")
}

func (b *Breaker) publishStateLocked() {
	BreakerState.WithLabelValues(b.targetLabel()).Set(float64(b.state))
}

func (b *Breaker) targetLabel() string {
	if b.target == "" {
		return "default"
	}
	return b.target
}
