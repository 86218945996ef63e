package rotate

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pricewatch/pricewatch/catalog"
	"go.uber.org/zap"
)

// Scheduler owns the shared egress-identity state. Every fetch goes through
// BeforeRequest, which is a mutual-exclusion gate: the rotate decision, the
// external rotation and its verification all happen under one lock, so no
// request can race an identity change.
type Scheduler struct {
	options

	mu           sync.Mutex
	state        State
	counter      int
	threshold    int
	blockPending bool
	identity     string
	session      *Session
	node         *snowflake.Node
}

type State int32

const (
	Idle State = iota
	Counting
	Rotating
	Verifying
	Halted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Counting:
		return "COUNTING"
	case Rotating:
		return "ROTATING"
	case Verifying:
		return "VERIFYING"
	case Halted:
		return "HALTED"
	}
	return "UNKNOWN"
}

// ErrHalted is sticky: once rotation retries are exhausted the scheduler
// refuses all further requests and the run must stop.
var ErrHalted = errors.New("identity rotation exhausted, scheduler halted")

type Session = catalog.FetchSession

func New(opts ...Option) (*Scheduler, error) {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}

	if options.Enabled && (options.Rotator == nil || options.Checker == nil) {
		return nil, errors.New("rotation enabled but rotator or identity checker missing")
	}
	if options.MinRequests <= 0 || options.MaxRequests < options.MinRequests {
		return nil, fmt.Errorf("bad request range [%d,%d]", options.MinRequests, options.MaxRequests)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("snowflake node:%w", err)
	}

	s := &Scheduler{state: Idle, node: node}
	s.options = options

	return s, nil
}

// Start resolves the initial identity and opens the first session.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Checker != nil {
		vctx, cancel := context.WithTimeout(ctx, s.VerifyTimeout)
		defer cancel()

		identity, err := s.Checker.Current(vctx)
		if err != nil {
			return fmt.Errorf("initial identity check:%w", err)
		}
		s.identity = identity
	}

	if err := s.openSession(ctx); err != nil {
		return err
	}
	s.state = Counting

	return nil
}

// BeforeRequest gates a single fetch against the current identity. It
// rotates first when the randomized request budget is spent or a block
// signal is pending.
func (s *Scheduler) BeforeRequest(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Halted {
		return ErrHalted
	}
	if !s.Enabled {
		return nil
	}

	if s.counter >= s.threshold || s.blockPending {
		if err := s.rotate(ctx); err != nil {
			return err
		}
	}

	return nil
}

// CountRequest increments the session counter for one completed attempt.
// Retries of the same attempt are not counted.
func (s *Scheduler) CountRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	if s.session != nil {
		s.session.RequestCount = s.counter
	}
}

// OnBlock raises the adaptive trigger: the next BeforeRequest rotates
// regardless of how much of the request budget remains.
func (s *Scheduler) OnBlock() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		return
	}
	s.blockPending = true
	s.logger.Warn("block signal raised, forcing rotation",
		zap.Int("counter", s.counter),
		zap.Int("threshold", s.threshold))
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Session returns the active fetch session.
func (s *Scheduler) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Stop closes the active session at the end of a run.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeSession(ctx)
}

// rotate runs the ROTATING/VERIFYING loop under the scheduler lock:
// invoke the rotator, confirm the identity changed, retry with backoff up
// to the attempt bound, then HALT if still on the old identity.
func (s *Scheduler) rotate(ctx context.Context) error {
	prev := s.identity

	for attempt := 1; attempt <= s.MaxAttempts; attempt++ {
		s.state = Rotating

		rctx, cancel := context.WithTimeout(ctx, s.RotateTimeout)
		err := s.Rotator.Rotate(rctx)
		cancel()

		if err == nil {
			s.state = Verifying

			vctx, cancel := context.WithTimeout(ctx, s.VerifyTimeout)
			identity, verr := s.Checker.Current(vctx)
			cancel()

			switch {
			case verr != nil:
				err = fmt.Errorf("verify identity:%w", verr)
			case identity == prev:
				err = fmt.Errorf("identity unchanged after rotation: %s", identity)
			default:
				s.identity = identity
				if serr := s.closeSession(ctx); serr != nil {
					s.logger.Error("close session failed", zap.Error(serr))
				}
				if serr := s.openSession(ctx); serr != nil {
					s.logger.Error("open session failed", zap.Error(serr))
				}
				s.counter = 0
				s.blockPending = false
				s.state = Counting
				s.logger.Info("identity rotated",
					zap.String("identity", identity),
					zap.Int("threshold", s.threshold),
					zap.Int("attempt", attempt))
				return nil
			}
		}

		s.logger.Warn("rotation attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max", s.MaxAttempts),
			zap.Error(err))

		if attempt < s.MaxAttempts {
			select {
			case <-time.After(s.Backoff * time.Duration(1<<(attempt-1))):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	s.state = Halted
	return ErrHalted
}

func (s *Scheduler) openSession(ctx context.Context) error {
	s.threshold = s.MinRequests + rand.Intn(s.MaxRequests-s.MinRequests+1)
	s.counter = 0
	s.session = &Session{
		ID:            s.node.Generate().String(),
		IdentityLabel: s.identity,
		StartedAt:     time.Now(),
	}

	if err := s.Sessions.OpenSession(ctx, s.session); err != nil {
		return fmt.Errorf("open session:%w", err)
	}

	return nil
}

func (s *Scheduler) closeSession(ctx context.Context) error {
	if s.session == nil || s.session.EndedAt != nil {
		return nil
	}

	now := time.Now()
	s.session.EndedAt = &now
	s.session.RequestCount = s.counter

	return s.Sessions.CloseSession(ctx, s.session)
}
