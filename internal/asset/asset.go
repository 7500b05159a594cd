// Package asset handles short position asset IDs: encoding, parsing, and
// alignment of maturities to checkpoint boundaries.
package asset

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// Prefix for short position asset IDs. Long and LP positions live in
// sibling systems and are not quoted by this engine.
const PrefixShort = "SHORT"

// idRegex matches: SHORT-{poolID}-{maturity unix seconds}
// Example: SHORT-2f1c9a7e-0b7d-4c8e-9a52-df1f0e6a3b11-1767225600
var idRegex = regexp.MustCompile(`^SHORT-([0-9a-fA-F-]+)-(\d+)$`)

var (
	ErrInvalidID       = errors.New("asset: invalid position id format")
	ErrInvalidMaturity = errors.New("asset: maturity must be positive")
)

// ShortKey identifies one short position class: all shorts in a pool that
// mature at the same checkpoint share a key.
type ShortKey struct {
	PoolID       string `json:"pool_id"`
	MaturityTime uint64 `json:"maturity_time"`
}

// Encode renders a ShortKey as its canonical asset ID string.
func (k ShortKey) Encode() string {
	return fmt.Sprintf("%s-%s-%d", PrefixShort, k.PoolID, k.MaturityTime)
}

// Parse parses and validates a short position asset ID.
// Format: SHORT-{poolID}-{maturity unix seconds}
func Parse(id string) (*ShortKey, error) {
	matches := idRegex.FindStringSubmatch(id)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected SHORT-{poolID}-{maturity})", ErrInvalidID, id)
	}

	maturity, err := strconv.ParseUint(matches[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: maturity %s", ErrInvalidID, matches[2])
	}
	if maturity == 0 {
		return nil, ErrInvalidMaturity
	}

	return &ShortKey{
		PoolID:       matches[1],
		MaturityTime: maturity,
	}, nil
}

// AlignMaturity rounds a raw maturity up to the next checkpoint boundary.
// Positions opened within one checkpoint window settle together, which is
// what makes their term risk correlated for exposure accounting.
func AlignMaturity(maturity, checkpointDuration uint64) uint64 {
	if checkpointDuration == 0 {
		return maturity
	}
	rem := maturity % checkpointDuration
	if rem == 0 {
		return maturity
	}
	return maturity + (checkpointDuration - rem)
}
