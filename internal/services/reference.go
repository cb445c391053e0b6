package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/beansplit/beansplit/internal/repository"
)

// Payment references are 10-digit numeric tokens so they fit a bank
// transfer variable symbol. Uniqueness is pre-checked against the
// store; the unique constraint on payment_shares is the backstop.
const (
	referenceMin = 1_000_000_000
	referenceMax = 9_999_999_999

	maxReferenceAttempts = 5
)

func randomReference() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(referenceMax-referenceMin+1))
	if err != nil {
		return "", fmt.Errorf("failed to generate payment reference: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+referenceMin), nil
}

// newPaymentReference allocates a reference not yet present in the
// share store, retrying a bounded number of times on collision.
func newPaymentReference(ctx context.Context, shares repository.ShareRepository) (string, error) {
	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		ref, err := randomReference()
		if err != nil {
			return "", err
		}
		exists, err := shares.ReferenceExists(ctx, ref)
		if err != nil {
			return "", err
		}
		if !exists {
			return ref, nil
		}
	}
	return "", fmt.Errorf("failed to allocate a unique payment reference after %d attempts", maxReferenceAttempts)
}
