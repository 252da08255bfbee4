package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/errors"
	"github.com/hpungsan/tcap/internal/metrics"
	"github.com/hpungsan/tcap/internal/ops"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// maxConcurrentOwners bounds how many owners one tick processes at once.
const maxConcurrentOwners = 4

// Result outcomes. OutcomeUnchanged means the content matched the latest
// scheduled capsule; OutcomeAlreadyRun means the period was processed before,
// possibly by another process.
const (
	OutcomeCaptured   = "captured"
	OutcomeUnchanged  = "unchanged"
	OutcomeNotDue     = "not_due"
	OutcomeAlreadyRun = "already_run"
	OutcomeFailed     = "failed"
)

// Result reports one owner's retention cycle.
type Result struct {
	OwnerID   string   `json:"owner_id"`
	Outcome   string   `json:"outcome"`
	CapsuleID string   `json:"capsule_id,omitempty"`
	Period    string   `json:"period,omitempty"`
	Deleted   []string `json:"deleted"`
	Error     string   `json:"error,omitempty"`
}

// Scheduler takes scheduled captures and enforces retention policies.
// Cycles for the same owner never overlap: a cycle requested while one is in
// flight shares that cycle's result.
//
// A cycle is not bound to the context of the caller that started it, so one
// cancelled caller cannot fail the others waiting on the same cycle. Close
// cancels cycles still running.
type Scheduler struct {
	deps   ops.Deps
	store  Store
	clock  Clock
	flight singleflight.Group

	life     context.Context
	stop     context.CancelFunc
	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewScheduler builds a scheduler. A nil clock uses SystemClock.
func NewScheduler(deps ops.Deps, store Store, clock Clock) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	life, stop := context.WithCancel(context.Background())
	return &Scheduler{deps: deps, store: store, clock: clock, life: life, stop: stop}
}

// Close cancels running cycles and waits for them to return. Later cycles
// fail with a cancellation error.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.stop()
	s.mu.Unlock()
	s.inflight.Wait()
}

// begin registers a running cycle. It reports false once Close was called.
func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.inflight.Add(1)
	return true
}

// Now returns the scheduler clock's current time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

func (s *Scheduler) logger() *slog.Logger {
	return loggerOf(s.deps)
}

func loggerOf(d ops.Deps) *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Run ticks once immediately, then on every value from ticks, until ctx ends.
// Failures are logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context, ticks <-chan time.Time) {
	s.logger().Info("retention scheduler started")
	s.Tick(ctx, s.clock.Now())
	for {
		select {
		case <-ctx.Done():
			s.logger().Info("retention scheduler stopped")
			return
		case <-ticks:
			s.Tick(ctx, s.clock.Now())
		}
	}
}

// Tick runs one cycle for every owner with a policy.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []Result {
	policies, err := s.store.ListPolicies(ctx)
	if err != nil {
		s.logger().Error("list retention policies", "error", err)
		return nil
	}

	results := make([]Result, len(policies))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentOwners)
	for i, p := range policies {
		g.Go(func() error {
			res, _ := s.RunOwner(gctx, p.OwnerID, now)
			results[i] = *res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// RunOwner runs one cycle for ownerID, or joins the one already in flight.
// The returned error is also recorded in the result. If ctx ends first,
// RunOwner returns a cancellation error and the cycle carries on.
func (s *Scheduler) RunOwner(ctx context.Context, ownerID string, now time.Time) (*Result, error) {
	ch := s.flight.DoChan(ownerID, func() (any, error) {
		if !s.begin() {
			return cancelledResult(ownerID)
		}
		defer s.inflight.Done()
		cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		defer context.AfterFunc(s.life, cancel)()
		return s.cycle(cctx, ownerID, now)
	})
	select {
	case r := <-ch:
		return r.Val.(*Result), r.Err
	case <-ctx.Done():
		return cancelledResult(ownerID)
	}
}

func cancelledResult(ownerID string) (*Result, error) {
	err := errors.NewCancelled("retention run")
	return &Result{OwnerID: ownerID, Outcome: OutcomeFailed, Deleted: []string{}, Error: err.Error()}, err
}

func (s *Scheduler) cycle(ctx context.Context, ownerID string, now time.Time) (*Result, error) {
	start := time.Now()
	res := &Result{OwnerID: ownerID, Deleted: []string{}}

	fail := func(err error) (*Result, error) {
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		s.deps.Metrics.ObserveRetention(metrics.ResultError, len(res.Deleted), start)
		s.logger().Error("retention cycle failed", "owner", ownerID, "error", err)
		return res, err
	}

	policy, err := s.store.GetPolicy(ctx, ownerID)
	if err != nil {
		return fail(err)
	}

	if err := s.capture(ctx, policy, now, res); err != nil {
		return fail(err)
	}

	if policy.AutoCleanup {
		deleted, err := Enforce(ctx, s.deps, ownerID, policy.MaxCapsules)
		res.Deleted = deleted
		if err != nil {
			return fail(err)
		}
	}

	result := metrics.ResultSuccess
	if res.Outcome != OutcomeCaptured {
		result = metrics.ResultSkipped
	}
	s.deps.Metrics.ObserveRetention(result, len(res.Deleted), start)
	return res, nil
}

// capture takes the period's scheduled capsule if it is due and not yet taken.
func (s *Scheduler) capture(ctx context.Context, policy *Policy, now time.Time, res *Result) error {
	state, err := s.store.GetState(ctx, policy.OwnerID)
	if err != nil {
		return err
	}
	if !state.Due(now) {
		res.Outcome = OutcomeNotDue
		return nil
	}

	period := policy.Frequency.Period(now)
	res.Period = period
	var token int64
	if state != nil {
		token = state.RunToken
		if state.LastPeriod == period {
			res.Outcome = OutcomeAlreadyRun
			return nil
		}
	}

	out, err := ops.Snapshot(ctx, s.deps, ops.SnapshotInput{
		OwnerID:          policy.OwnerID,
		Title:            "Scheduled capsule " + now.UTC().Format("2006-01-02"),
		Trigger:          string(capsule.TriggerScheduled),
		IncludeSettings:  true,
		IncludeAnalytics: true,
	})
	if err != nil {
		return err
	}

	next := State{
		OwnerID:    policy.OwnerID,
		LastRunAt:  now.Unix(),
		NextRunAt:  policy.Frequency.Advance(now).Unix(),
		RunToken:   token + 1,
		LastPeriod: period,
	}
	swapped, err := s.store.CompareAndSwapState(ctx, next, token)
	if err != nil {
		return err
	}
	if !swapped {
		// Another runner recorded this period first; drop our duplicate.
		s.logger().Info("retention period already recorded elsewhere",
			"owner", policy.OwnerID, "period", period)
		if !out.Skipped {
			if _, err := ops.DeleteCapsule(ctx, s.deps, ops.DeleteInput{ID: out.Capsule.ID}); err != nil &&
				!errors.Is(err, errors.ErrCapsuleNotFound) {
				return err
			}
		}
		res.Outcome = OutcomeAlreadyRun
		return nil
	}

	res.CapsuleID = out.Capsule.ID
	if out.Skipped {
		res.Outcome = OutcomeUnchanged
	} else {
		res.Outcome = OutcomeCaptured
	}
	s.logger().Info("retention period processed",
		"owner", policy.OwnerID, "period", period, "capsule", out.Capsule.ID, "outcome", res.Outcome)
	return nil
}

// Enforce deletes the owner's oldest scheduled capsules until at most maxCapsules
// remain. Manual capsules are never touched. Returns the deleted ids, oldest first.
func Enforce(ctx context.Context, d ops.Deps, ownerID string, maxCapsules int) ([]string, error) {
	deleted := []string{}
	if maxCapsules < 1 {
		return deleted, errors.NewValidation("max_capsules must be at least 1")
	}

	list, err := ops.ListCapsules(ctx, d, ops.ListInput{OwnerID: ownerID, Trigger: string(capsule.TriggerScheduled)})
	if err != nil {
		return deleted, err
	}
	excess := len(list.Capsules) - maxCapsules
	for i := 0; i < excess; i++ {
		id := list.Capsules[i].ID
		if _, err := ops.DeleteCapsule(ctx, d, ops.DeleteInput{ID: id}); err != nil {
			if errors.Is(err, errors.ErrCapsuleNotFound) {
				continue
			}
			return deleted, err
		}
		deleted = append(deleted, id)
	}
	if len(deleted) > 0 {
		loggerOf(d).Info("retention cleanup", "owner", ownerID, "deleted", len(deleted), "kept", maxCapsules)
	}
	return deleted, nil
}
