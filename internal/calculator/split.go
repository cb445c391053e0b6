// Package calculator implements the purchase split algorithm.
package calculator

import (
	pkgerrors "github.com/beansplit/beansplit/pkg/errors"
)

// Split divides total (minor currency units) into n shares that sum to
// total exactly. Every share is total/n; the first total%n shares carry
// one extra minor unit, in the order the caller supplies participants.
// The caller is responsible for a deterministic participant order.
func Split(total int64, n int) ([]int64, error) {
	if n < 1 {
		return nil, pkgerrors.ErrInvalidParticipantCount
	}
	if total < 0 {
		return nil, pkgerrors.ErrNegativeAmount
	}

	base := total / int64(n)
	remainder := total % int64(n)

	shares := make([]int64, n)
	for i := range shares {
		shares[i] = base
		if int64(i) < remainder {
			shares[i]++
		}
	}
	return shares, nil
}

// Sum adds up share amounts. Used by callers to verify the
// sum-preservation invariant before committing a purchase.
func Sum(shares []int64) int64 {
	var total int64
	for _, s := range shares {
		total += s
	}
	return total
}
