package auth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// Throttle guard defaults.
const (
	// DefaultAccountFailLimit is the consecutive-failure threshold per handle.
	DefaultAccountFailLimit = 6

	// DefaultAddressFailLimit is the failure volume threshold per source address.
	DefaultAddressFailLimit = 20

	// DefaultLockDuration is how long a lock holds once triggered.
	DefaultLockDuration = 15 * time.Minute

	// DefaultAttemptRetention is how long attempt records are kept.
	DefaultAttemptRetention = 48 * time.Hour

	// defaultPruneProbability is the chance any one check also prunes old
	// attempt records. Keeps storage bounded without a scheduler.
	defaultPruneProbability = 0.05
)

// ThrottleError carries the failure count behind a throttle decision.
// It wraps ErrAccountLocked or ErrAddressThrottled, so errors.Is against
// the sentinels keeps working; errors.As recovers the streak.
type ThrottleError struct {
	Scope  string // "account" or "address"
	Streak int
	err    error
}

func (e *ThrottleError) Error() string { return e.err.Error() }

func (e *ThrottleError) Unwrap() error { return e.err }

// GuardConfig holds throttle guard thresholds.
type GuardConfig struct {
	AccountFailLimit int
	AddressFailLimit int
	LockDuration     time.Duration
	AttemptRetention time.Duration
}

// Guard tracks per-account and per-address failure streaks and decides
// whether a login attempt may proceed. State is derived from the attempt
// log at decision time; locks expire by timestamp comparison, with no
// background sweep and no explicit unlock action.
type Guard struct {
	attempts  AttemptRepository
	cfg       GuardConfig
	logger    *slog.Logger
	randFloat func() float64 // overridable for tests
}

// NewGuard creates a throttle guard. Zero config fields get defaults.
func NewGuard(attempts AttemptRepository, cfg GuardConfig, logger *slog.Logger) *Guard {
	if cfg.AccountFailLimit <= 0 {
		cfg.AccountFailLimit = DefaultAccountFailLimit
	}
	if cfg.AddressFailLimit <= 0 {
		cfg.AddressFailLimit = DefaultAddressFailLimit
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = DefaultLockDuration
	}
	if cfg.AttemptRetention <= 0 {
		cfg.AttemptRetention = DefaultAttemptRetention
	}

	return &Guard{
		attempts:  attempts,
		cfg:       cfg,
		logger:    logger,
		randFloat: rand.Float64,
	}
}

// Check decides whether a login attempt for the given handle from the
// given address may proceed. It returns ErrAddressThrottled when the
// source address exceeded its volume threshold, ErrAccountLocked when the
// handle's consecutive-failure streak exceeded its threshold, and nil
// otherwise. The address check runs first: a flooding origin is rejected
// before any per-account bookkeeping.
//
// Each call may also opportunistically prune attempt records older than
// the retention window.
func (g *Guard) Check(ctx context.Context, handle, address string) error {
	g.maybePrune(ctx)

	windowStart := time.Now().UTC().Add(-g.cfg.LockDuration)

	addressFails, err := g.attempts.AddressFailureCount(ctx, address, windowStart)
	if err != nil {
		return err
	}
	if addressFails >= g.cfg.AddressFailLimit {
		g.logger.Warn("address throttled", "address", address, "failures", addressFails)
		return &ThrottleError{Scope: "address", Streak: addressFails, err: ErrAddressThrottled}
	}

	streak, err := g.attempts.AccountFailureStreak(ctx, handle, windowStart)
	if err != nil {
		return err
	}
	if streak >= g.cfg.AccountFailLimit {
		g.logger.Warn("account locked", "handle", handle, "streak", streak)
		return &ThrottleError{Scope: "account", Streak: streak, err: ErrAccountLocked}
	}

	return nil
}

// RecordFailure appends a failed attempt for the handle/address pair.
func (g *Guard) RecordFailure(ctx context.Context, handle, address string) error {
	return g.attempts.Record(ctx, &LoginAttempt{
		Handle:  handle,
		Address: address,
		Success: false,
	})
}

// RecordSuccess appends a successful attempt, which resets the handle's
// streak. Per-address counting is unaffected by a given account's success.
func (g *Guard) RecordSuccess(ctx context.Context, handle, address string) error {
	return g.attempts.Record(ctx, &LoginAttempt{
		Handle:  handle,
		Address: address,
		Success: true,
	})
}

// maybePrune deletes attempt records older than the retention window,
// with low probability per call.
func (g *Guard) maybePrune(ctx context.Context) {
	if g.randFloat() >= defaultPruneProbability {
		return
	}

	cutoff := time.Now().UTC().Add(-g.cfg.AttemptRetention)
	deleted, err := g.attempts.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		g.logger.Warn("pruning login attempts failed", "error", err)
		return
	}
	if deleted > 0 {
		g.logger.Debug("pruned old login attempts", "deleted", deleted)
	}
}
