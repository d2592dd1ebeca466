package errs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWrap_PreservesUnderlyingTieredErrorTier(t *testing.T) {
	inner := Wrap(TierTransient, "hot store", errors.New("busy"))
	outer := Wrap(TierPermanent, "batch update failed", inner)

	assert.Equal(t, TierTransient, TierOf(outer), "wrapping a tiered error must keep its original tier")
}

func TestWrap_NilErrorReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(TierFatal, "unreachable", nil))
}

func TestTierOf_UnclassifiedErrorDefaultsToPermanent(t *testing.T) {
	assert.Equal(t, TierPermanent, TierOf(errors.New("plain")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrFileLocked))
	assert.False(t, IsRetryable(ErrPolicyRejected))
}

func TestBackoff_DoublesUntilCap(t *testing.T) {
	d1 := Backoff(TierTransient, 1)
	d2 := Backoff(TierTransient, 2)
	d3 := Backoff(TierTransient, 3)

	assert.Equal(t, BehaviorFor(TierTransient).BaseBackoff, d1)
	assert.Equal(t, d1*2, d2)
	assert.Equal(t, d2*2, d3)
}

func TestBackoff_ZeroAttemptIsZero(t *testing.T) {
	assert.Equal(t, time.Duration(0), Backoff(TierTransient, 0))
}
