// Package burst aligns the azimuth bursts of two Sentinel-1 acquisitions so
// that only their common footprint is processed.
package burst

import (
	"errors"
	"fmt"
	"math"
)

// DefaultTolerance is the maximum azimuth-anchor time difference, in
// seconds, for two bursts to be considered the same ground footprint.
const DefaultTolerance = 0.20

var (
	// ErrNoBurstOverlap is returned when neither scan direction finds a
	// matching burst in automatic mode.
	ErrNoBurstOverlap = errors.New("no burst overlap")

	// ErrBurstNotFound is returned in directed mode when an acquisition has
	// no burst near the requested time.
	ErrBurstNotFound = errors.New("burst not found")

	// ErrInvalidSequence is returned when a burst sequence contradicts its
	// declared total.
	ErrInvalidSequence = errors.New("invalid burst sequence")
)

// Sequence is the burst timing of one sub-swath of one acquisition.
type Sequence struct {
	Times []float64
	Total int
}

// Range is an inclusive, 1-based burst index range.
type Range struct {
	Start int
	End   int
}

// Len returns the number of bursts in the range.
func (r Range) Len() int {
	return r.End - r.Start + 1
}

// Overlap pairs the corresponding burst ranges of the two acquisitions.
type Overlap struct {
	Reference Range
	Secondary Range
}

// Resolve computes the common burst ranges of a sub-swath.
//
// The first reference time is looked up in the secondary sequence; only if
// that yields nothing is the first secondary time looked up in the reference
// sequence. The first entry within tolerance wins. The overlap length is
// limited by whichever acquisition has fewer bursts past the match.
func Resolve(ref, sec Sequence, tolerance float64) (Overlap, error) {
	if err := ref.validate(); err != nil {
		return Overlap{}, fmt.Errorf("reference: %w", err)
	}
	if err := sec.validate(); err != nil {
		return Overlap{}, fmt.Errorf("secondary: %w", err)
	}
	if len(ref.Times) == 0 || len(sec.Times) == 0 {
		return Overlap{}, fmt.Errorf("%w: empty burst sequence", ErrNoBurstOverlap)
	}

	startRef, startSec := 0, 0
	if idx := indexNear(sec.Times, ref.Times[0], tolerance); idx > 0 {
		startRef, startSec = 1, idx
	} else if idx := indexNear(ref.Times, sec.Times[0], tolerance); idx > 0 {
		startRef, startSec = idx, 1
	} else {
		return Overlap{}, fmt.Errorf("%w: first bursts %.6f and %.6f have no counterpart within %.2fs",
			ErrNoBurstOverlap, ref.Times[0], sec.Times[0], tolerance)
	}

	remainingRef := ref.Total - startRef + 1
	remainingSec := sec.Total - startSec + 1
	length := min(remainingRef, remainingSec)

	return Overlap{
		Reference: Range{Start: startRef, End: startRef + length - 1},
		Secondary: Range{Start: startSec, End: startSec + length - 1},
	}, nil
}

// ResolveAt anchors both acquisitions at the burst nearest a caller-supplied
// azimuth-anchor time and emits ranges of a fixed length.
func ResolveAt(ref, sec Sequence, target float64, length int, tolerance float64) (Overlap, error) {
	if length < 1 {
		return Overlap{}, fmt.Errorf("burst length must be at least 1, got %d", length)
	}
	if err := ref.validate(); err != nil {
		return Overlap{}, fmt.Errorf("reference: %w", err)
	}
	if err := sec.validate(); err != nil {
		return Overlap{}, fmt.Errorf("secondary: %w", err)
	}

	startRef := indexNear(ref.Times, target, tolerance)
	if startRef == 0 {
		return Overlap{}, fmt.Errorf("%w: reference has no burst within %.2fs of %.6f", ErrBurstNotFound, tolerance, target)
	}
	startSec := indexNear(sec.Times, target, tolerance)
	if startSec == 0 {
		return Overlap{}, fmt.Errorf("%w: secondary has no burst within %.2fs of %.6f", ErrBurstNotFound, tolerance, target)
	}

	return Overlap{
		Reference: Range{Start: startRef, End: startRef + length - 1},
		Secondary: Range{Start: startSec, End: startSec + length - 1},
	}, nil
}

// indexNear returns the 1-based index of the first time within tolerance of
// target, or 0 when there is none.
func indexNear(times []float64, target, tolerance float64) int {
	for i, t := range times {
		if math.Abs(target-t) < tolerance {
			return i + 1
		}
	}
	return 0
}

func (s Sequence) validate() error {
	if s.Total != len(s.Times) {
		return fmt.Errorf("%w: total %d but %d burst times", ErrInvalidSequence, s.Total, len(s.Times))
	}
	return nil
}
