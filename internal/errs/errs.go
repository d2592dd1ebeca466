// Package errs implements the trimmed error taxonomy carried through the
// host process and the pipeline. The pipeline wraps and logs errors by
// tier; it does not itself retry, and IsRetryable and Backoff have no
// caller there. It is adapted from a general-purpose tiered error package down
// to the tiers this system actually produces (see DESIGN.md for the
// omitted-tier rationale).
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Tier classifies an error by how the pipeline or host should react to
// it.
type Tier int

const (
	// TierTransient errors are retried silently a bounded number of
	// times (e.g. SQLITE_BUSY on a hot store).
	TierTransient Tier = iota
	// TierPermanent errors will not resolve on retry (policy rejection,
	// contract violations).
	TierPermanent
	// TierUserFixable errors require operator action (bad config,
	// missing root directory) and are surfaced to the CLI.
	TierUserFixable
	// TierDegrading errors indicate the store or extractor is failing
	// for this item; the job is dropped but the pipeline continues.
	TierDegrading
	// TierFatal errors mean the process must shut down.
	TierFatal
)

func (t Tier) String() string {
	switch t {
	case TierTransient:
		return "transient"
	case TierPermanent:
		return "permanent"
	case TierUserFixable:
		return "user_fixable"
	case TierDegrading:
		return "degrading"
	case TierFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Behavior is the retry/notify policy attached to a Tier.
type Behavior struct {
	ShouldRetry bool
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	LogLevel    string // "message", "warn", or "critical", per spec §7
}

var behaviors = map[Tier]Behavior{
	TierTransient:   {ShouldRetry: true, MaxRetries: 3, BaseBackoff: 50 * time.Millisecond, MaxBackoff: 2 * time.Second, LogLevel: "warn"},
	TierPermanent:   {ShouldRetry: false, LogLevel: "message"},
	TierUserFixable: {ShouldRetry: false, LogLevel: "critical"},
	TierDegrading:   {ShouldRetry: false, LogLevel: "critical"},
	TierFatal:       {ShouldRetry: false, LogLevel: "critical"},
}

// BehaviorFor returns the configured Behavior for a tier.
func BehaviorFor(t Tier) Behavior {
	return behaviors[t]
}

// TieredError wraps an error with its tier classification.
type TieredError struct {
	Tier       Tier
	Message    string
	Underlying error
}

func (e *TieredError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Tier, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s] %s", e.Tier, e.Message)
}

func (e *TieredError) Unwrap() error { return e.Underlying }

// Wrap classifies err under tier with a message, preserving the tier of
// an already-tiered error if err wraps one.
func Wrap(tier Tier, message string, err error) error {
	if err == nil {
		return nil
	}
	var te *TieredError
	if errors.As(err, &te) {
		tier = te.Tier
	}
	return &TieredError{Tier: tier, Message: message, Underlying: err}
}

// TierOf extracts the Tier from err, defaulting to TierPermanent for
// errors this package didn't classify.
func TierOf(err error) Tier {
	var te *TieredError
	if errors.As(err, &te) {
		return te.Tier
	}
	return TierPermanent
}

// IsRetryable reports whether err's tier calls for a retry.
func IsRetryable(err error) bool {
	return BehaviorFor(TierOf(err)).ShouldRetry
}

// Sentinel errors named after the rows in spec §7.
var (
	ErrPolicyRejected            = &TieredError{Tier: TierPermanent, Message: "rejected by indexing policy"}
	ErrFileLocked                = &TieredError{Tier: TierTransient, Message: "file locked by host"}
	ErrExtractNotFound           = &TieredError{Tier: TierDegrading, Message: "file not found during extraction"}
	ErrStoreQuery                = &TieredError{Tier: TierDegrading, Message: "store query failed"}
	ErrStoreUpdate               = &TieredError{Tier: TierDegrading, Message: "store update failed"}
	ErrExtractorContractViolated = &TieredError{Tier: TierPermanent, Message: "extractor contract violated"}
	ErrCancelled                 = &TieredError{Tier: TierPermanent, Message: "job cancelled"}
)

// Backoff computes the delay before the (1-indexed) attempt-th retry of
// an error under tier, capped at the tier's MaxBackoff.
func Backoff(tier Tier, attempt int) time.Duration {
	b := BehaviorFor(tier)
	if attempt <= 0 {
		return 0
	}
	d := b.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > b.MaxBackoff {
			return b.MaxBackoff
		}
	}
	return d
}
