// Package exposure enforces short-notional limits that account for
// correlation between nearby maturities.
//
// Shorts maturing in the same checkpoint window settle together, and shorts
// in adjacent windows carry nearly identical term-structure risk. A trader
// spreading shorts across five consecutive weekly maturities is one bet on
// rates, not five. This package buckets outstanding exposure by maturity
// and enforces both a per-bucket cap and an aggregate cap across a window
// of adjacent buckets.
package exposure

import (
	"errors"

	"github.com/fixedrate/fee-engine/internal/fixedpoint"
)

var (
	// ErrPerBucketLimitExceeded is returned when a quote would push the
	// trader's exposure in a single maturity bucket past its cap.
	ErrPerBucketLimitExceeded = errors.New("exposure: per-maturity position limit exceeded")

	// ErrCorrelatedLimitExceeded is returned when a quote would push the
	// aggregate exposure across adjacent maturity buckets past its cap.
	ErrCorrelatedLimitExceeded = errors.New("exposure: correlated maturity exposure limit exceeded")
)

// Limiter enforces bucketed short-exposure limits.
type Limiter struct {
	// MaxPerBucket caps outstanding bond notional in one maturity bucket.
	MaxPerBucket fixedpoint.FP

	// MaxCorrelated caps aggregate notional across the correlation window.
	MaxCorrelated fixedpoint.FP

	// BucketSeconds is the bucket width; maturities are floored to it.
	BucketSeconds uint64

	// WindowBuckets is how many buckets on each side of the target count
	// as correlated. 0 restricts the aggregate check to the target bucket.
	WindowBuckets uint64
}

// NewLimiter creates a limiter. A zero bucket width is coerced to one
// second so Bucket never divides by zero.
func NewLimiter(maxPerBucket, maxCorrelated fixedpoint.FP, bucketSeconds, windowBuckets uint64) *Limiter {
	if bucketSeconds == 0 {
		bucketSeconds = 1
	}
	return &Limiter{
		MaxPerBucket:  maxPerBucket,
		MaxCorrelated: maxCorrelated,
		BucketSeconds: bucketSeconds,
		WindowBuckets: windowBuckets,
	}
}

// Bucket floors a maturity timestamp to its bucket start.
func (l *Limiter) Bucket(maturityTime uint64) uint64 {
	return maturityTime - maturityTime%l.BucketSeconds
}

// CheckLimit validates whether opening delta more bond notional at the
// given maturity respects both limits.
//
// existing maps bucket start -> trader's current outstanding notional.
// Returns nil when the quote is within limits.
func (l *Limiter) CheckLimit(
	maturityTime uint64,
	delta fixedpoint.FP,
	existing map[uint64]fixedpoint.FP,
) error {
	target := l.Bucket(maturityTime)

	newInBucket, err := existing[target].Add(delta)
	if err != nil {
		return ErrPerBucketLimitExceeded
	}
	if newInBucket.Gt(l.MaxPerBucket) {
		return ErrPerBucketLimitExceeded
	}

	// Aggregate across the correlation window around the target bucket.
	span := l.WindowBuckets * l.BucketSeconds
	lo := target - min64(target, span)
	hi := target + span

	total := newInBucket
	for bucket, amount := range existing {
		if bucket == target {
			continue // already counted via newInBucket
		}
		if bucket < lo || bucket > hi {
			continue
		}
		total, err = total.Add(amount)
		if err != nil {
			return ErrCorrelatedLimitExceeded
		}
	}

	if total.Gt(l.MaxCorrelated) {
		return ErrCorrelatedLimitExceeded
	}
	return nil
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
