package paytable

// Package paytable provides data models and stateless functions for splitting
// a prize pool between ranked winners.

import (
	"errors"
	"fmt"
)

const (
	// BasisPoints is 100%.
	BasisPoints = 10000
)

var ErrUnsupportedWinnerCount = errors.New("unsupported number of winners")

// Row defines the payout weights for one winner count.
// Weights are in basis points of what the winners share (10000 = 100%).
type Row struct {
	Winners int   // Number of winners this row applies to
	Weights []int // Weights in basis points, index 0 = 1st place
}

// Paytable is a lookup table of weight curves, one per supported winner count.
type Paytable struct {
	Name string // Name of the curve (e.g., "Cycle Prize Curve")
	Rows []Row
}

// Shares computes the basis-point share of each winner once the operator fee
// has been taken.  Every share is floored; the last winner absorbs the
// residual, so the shares always sum to exactly BasisPoints-feeBasisPoints.
func (pt *Paytable) Shares(numWinners int, feeBasisPoints int) ([]int, error) {
	weights := pt.findRow(numWinners)
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedWinnerCount, numWinners)
	}
	if feeBasisPoints < 0 || feeBasisPoints > BasisPoints {
		return nil, fmt.Errorf("fee of %d basis points out of range", feeBasisPoints)
	}

	total := BasisPoints - feeBasisPoints
	shares := make([]int, len(weights))
	allocated := 0

	for i, w := range weights {
		shares[i] = (total * w) / BasisPoints
		allocated += shares[i]
	}

	shares[len(shares)-1] += total - allocated
	return shares, nil
}

// findRow finds the weights for the winner count, or nil if there isn't one.
func (pt *Paytable) findRow(numWinners int) []int {
	for _, row := range pt.Rows {
		if row.Winners == numWinners {
			return row.Weights
		}
	}
	return nil
}

// MaxWinners is the largest winner count the table can split for.
func (pt *Paytable) MaxWinners() int {
	m := 0
	for _, row := range pt.Rows {
		m = max(m, row.Winners)
	}
	return m
}

// Validate checks that every row is well formed: one weight per winner,
// weights summing to BasisPoints, and first place never smaller than
// any other place.
func (pt *Paytable) Validate() error {
	for _, row := range pt.Rows {
		if len(row.Weights) != row.Winners {
			return fmt.Errorf("row for %d winners has %d weights", row.Winners, len(row.Weights))
		}
		sum := 0
		for i, w := range row.Weights {
			if w > row.Weights[0] {
				return fmt.Errorf("row for %d winners: place %d outweighs first place", row.Winners, i+1)
			}
			sum += w
		}
		if sum != BasisPoints {
			return fmt.Errorf("row for %d winners sums to %d, want %d", row.Winners, sum, BasisPoints)
		}
	}
	return nil
}

func (pt *Paytable) Clone() *Paytable {
	clone := &Paytable{
		Name: pt.Name,
		Rows: make([]Row, len(pt.Rows)),
	}
	for i, row := range pt.Rows {
		clone.Rows[i] = row
		clone.Rows[i].Weights = make([]int, len(row.Weights))
		copy(clone.Rows[i].Weights, row.Weights)
	}
	return clone
}
