// Package bucket assigns visitors to experience variants.
//
// Assignment is a pure function of a distribution table, a traffic fraction,
// and a per-visitor draw in [0,1). The draw is derived deterministically from
// the profile ID and experience ID (see Draw), so a visitor lands in the same
// variant on every evaluation, on every server and client, until the profile
// resets.
package bucket

import (
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// epsilon absorbs float rounding when checking cumulative boundaries.
const epsilon = 1e-9

// ErrInvalidDistribution indicates a malformed distribution table.
var ErrInvalidDistribution = errors.New("invalid distribution")

// DistributionError describes why a distribution table was rejected.
type DistributionError struct {
	// ExperienceID is the experience that owns the table, if known.
	ExperienceID string
	// Reason explains the defect.
	Reason string
}

// Error implements the error interface.
func (e *DistributionError) Error() string {
	if e.ExperienceID != "" {
		return fmt.Sprintf("experience %s: invalid distribution: %s", e.ExperienceID, e.Reason)
	}
	return fmt.Sprintf("invalid distribution: %s", e.Reason)
}

// Unwrap returns ErrInvalidDistribution for errors.Is support.
func (e *DistributionError) Unwrap() error {
	return ErrInvalidDistribution
}

// Allocation is one half-open slice [Start, End) of the unit interval.
type Allocation struct {
	Index int     `json:"index" yaml:"index"`
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
}

// Contains reports whether draw falls inside [Start, End).
func (a Allocation) Contains(draw float64) bool {
	return a.Start <= draw && draw < a.End
}

// Distribution is an ordered partition of [0, total) with total <= 1.
type Distribution []Allocation

// NewDistribution builds a distribution from per-variant percentages
// expressed as fractions. Entry i gets Index i and starts at the cumulative
// sum of the percentages before it.
//
// Example:
//
//	d, _ := bucket.NewDistribution(0.5, 0.5)
//	// [{0 0 0.5} {1 0.5 1}]
func NewDistribution(percentages ...float64) (Distribution, error) {
	d := make(Distribution, 0, len(percentages))
	cumulative := 0.0
	for i, p := range percentages {
		if !(p >= 0) {
			return nil, &DistributionError{Reason: fmt.Sprintf("entry %d has invalid percentage %v", i, p)}
		}
		d = append(d, Allocation{Index: i, Start: cumulative, End: cumulative + p})
		cumulative += p
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks that entries are finite, contiguous from 0, non-negative
// in width, and end at or below 1.
func (d Distribution) Validate() error {
	prevEnd := 0.0
	for i, a := range d {
		if !finite(a.Start) || !finite(a.End) {
			return &DistributionError{Reason: fmt.Sprintf("entry %d has a non-finite bound", i)}
		}
		if math.Abs(a.Start-prevEnd) > epsilon {
			return &DistributionError{Reason: fmt.Sprintf("entry %d starts at %v, expected %v", i, a.Start, prevEnd)}
		}
		if a.End < a.Start {
			return &DistributionError{Reason: fmt.Sprintf("entry %d ends before it starts", i)}
		}
		prevEnd = a.End
	}
	if prevEnd > 1+epsilon {
		return &DistributionError{Reason: fmt.Sprintf("total %v exceeds 1", prevEnd)}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Total returns the end of the last entry, or 0 for an empty table.
func (d Distribution) Total() float64 {
	if len(d) == 0 {
		return 0
	}
	return d[len(d)-1].End
}

// Assign maps a draw to a variant index.
//
// It returns ok=false when the visitor is outside the experience
// (draw >= traffic), when the table is empty, or when the draw lies beyond
// the last entry. Otherwise it returns the Index of the first entry with
// Start <= draw < End; boundaries belong to the upper entry's Start, so a
// draw equal to an End goes to the next entry.
func Assign(d Distribution, traffic, draw float64) (index int, ok bool) {
	if draw >= traffic {
		return 0, false
	}
	for _, a := range d {
		if a.Contains(draw) {
			return a.Index, true
		}
	}
	return 0, false
}

// Draw derives the stable per-visitor draw for an experience.
//
// The value is the top 53 bits of xxhash64(profileID + ":" + experienceID)
// divided by 2^53, giving a uniformly distributed float64 in [0,1). Any
// server or client that implements the same derivation buckets the visitor
// identically.
func Draw(profileID, experienceID string) float64 {
	h := xxhash.Sum64String(profileID + ":" + experienceID)
	return float64(h>>11) / float64(uint64(1)<<53)
}
