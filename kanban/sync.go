package kanban

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/CrowderSoup/kanban-studio/api"
)

// SyncState is the persistence status of one entity.
type SyncState int

const (
	// Synced means no remote work is queued or failed for the entity.
	Synced SyncState = iota
	// Pending means an operation for the entity is queued or running.
	Pending
	// Failed means the last attempt to persist the entity gave up.
	Failed
	// LocalOnly marks entities that are never sent to the server, such as
	// the cards of the built-in default board.
	LocalOnly
)

func (s SyncState) String() string {
	switch s {
	case Synced:
		return "synced"
	case Pending:
		return "pending"
	case Failed:
		return "failed"
	case LocalOnly:
		return "local"
	default:
		return "unknown"
	}
}

// Op is one queued remote mutation. Ops sharing a Key run one at a time in
// submission order; ops with different keys run concurrently.
//
// Run should read the state it persists when it executes rather than when it
// was queued, so a retried or coalesced op always sends the latest value.
type Op struct {
	Key  string
	Name string
	Run  func(ctx context.Context) error
}

// RetryPolicy bounds the retries of a single op.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used when a zero policy is passed to NewSyncer.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

type queuedOp struct {
	ctx context.Context
	op  Op
}

// Syncer runs remote mutations in the background with retry and tracks a
// SyncState per key.
type Syncer struct {
	policy RetryPolicy
	logger *zap.Logger

	mu      sync.Mutex
	queues  map[string][]queuedOp
	running map[string]bool
	failed  map[string][]Op
	// drains counts running drain goroutines; idle is signalled when it
	// drops to zero.
	drains int
	idle   *sync.Cond
}

// NewSyncer creates a syncer. A zero policy selects DefaultRetryPolicy.
func NewSyncer(policy RetryPolicy, logger *zap.Logger) *Syncer {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Syncer{
		policy:  policy,
		logger:  logger,
		queues:  make(map[string][]queuedOp),
		running: make(map[string]bool),
		failed:  make(map[string][]Op),
	}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Submit queues op. When the newest queued op for the same key has the same
// name and has not started yet, it is replaced instead of queueing both.
func (s *Syncer) Submit(ctx context.Context, op Op) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[op.Key]
	if n := len(q); n > 0 && q[n-1].op.Name == op.Name {
		q[n-1] = queuedOp{ctx: ctx, op: op}
		return
	}
	s.queues[op.Key] = append(q, queuedOp{ctx: ctx, op: op})

	if !s.running[op.Key] {
		s.running[op.Key] = true
		s.drains++
		go s.drain(op.Key)
	}
}

func (s *Syncer) drain(key string) {
	for {
		s.mu.Lock()
		q := s.queues[key]
		if len(q) == 0 {
			delete(s.queues, key)
			delete(s.running, key)
			s.drains--
			if s.drains == 0 {
				s.idle.Broadcast()
			}
			s.mu.Unlock()
			return
		}
		next := q[0]
		s.queues[key] = q[1:]
		s.mu.Unlock()

		err := s.run(next.ctx, next.op)

		s.mu.Lock()
		if err != nil {
			s.failed[key] = append(s.failed[key], next.op)
		} else {
			s.clearFailed(key, next.op.Name)
		}
		s.mu.Unlock()
	}
}

// clearFailed drops failed ops superseded by a successful op of the same
// name. Caller holds s.mu.
func (s *Syncer) clearFailed(key, name string) {
	ops := slices.DeleteFunc(s.failed[key], func(op Op) bool { return op.Name == name })
	if len(ops) == 0 {
		delete(s.failed, key)
		return
	}
	s.failed[key] = ops
}

func (s *Syncer) run(ctx context.Context, op Op) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.policy.InitialInterval
	exp.MaxInterval = s.policy.MaxInterval
	exp.MaxElapsedTime = 0

	retries := uint64(0)
	if s.policy.MaxAttempts > 1 {
		retries = uint64(s.policy.MaxAttempts - 1)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, retries), ctx)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := op.Run(ctx)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		s.logger.Debug("retrying sync op",
			zap.String("op", op.Name),
			zap.String("id", op.Key),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		s.logger.Warn("sync op failed",
			zap.String("op", op.Name),
			zap.String("id", op.Key),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
	}
	return err
}

// retryable treats invalid payloads and errors that report themselves as
// non-temporary (for example a 4xx response) as permanent. Everything else
// is retried.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, api.ErrInvalid) {
		return false
	}
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true
}

// Wait blocks until no op is queued or running. Ops submitted by other
// goroutines while waiting extend the wait. It may be called concurrently
// with Submit and from several goroutines at once.
func (s *Syncer) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.drains > 0 {
		s.idle.Wait()
	}
}

// State reports the status of key. tracked is false when the syncer has
// never seen the key or has nothing outstanding for it.
func (s *Syncer) State(key string) (state SyncState, tracked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.running[key]:
		return Pending, true
	case len(s.failed[key]) > 0:
		return Failed, true
	default:
		return Synced, false
	}
}

// Unsynced returns the sorted keys that are pending or failed.
func (s *Syncer) Unsynced() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.running)+len(s.failed))
	for k := range s.running {
		keys = append(keys, k)
	}
	for k := range s.failed {
		if !s.running[k] {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// Forget drops failed and not yet started ops for key. An op that is already
// running is left to finish.
func (s *Syncer) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.failed, key)
	if _, ok := s.queues[key]; ok {
		s.queues[key] = nil
	}
}

// RetryFailed resubmits every failed op and returns how many were queued.
func (s *Syncer) RetryFailed(ctx context.Context) int {
	s.mu.Lock()
	failed := s.failed
	s.failed = make(map[string][]Op)
	s.mu.Unlock()

	keys := make([]string, 0, len(failed))
	for k := range failed {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	n := 0
	for _, k := range keys {
		for _, op := range failed[k] {
			s.Submit(ctx, op)
			n++
		}
	}
	return n
}
