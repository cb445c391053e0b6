package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	statuses := []ShareStatus{StatusUnpaid, StatusPaid, StatusFailed, StatusRefunded}

	allowed := map[[2]ShareStatus]bool{
		{StatusUnpaid, StatusPaid}:   true,
		{StatusFailed, StatusPaid}:   true,
		{StatusPaid, StatusRefunded}: true,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			got := CanTransition(from, to)
			want := allowed[[2]ShareStatus{from, to}]
			assert.Equal(t, want, got, "transition %s -> %s", from, to)
		}
	}
}

func TestShareStatusValid(t *testing.T) {
	assert.True(t, StatusUnpaid.Valid())
	assert.True(t, StatusPaid.Valid())
	assert.True(t, StatusFailed.Valid())
	assert.True(t, StatusRefunded.Valid())
	assert.False(t, ShareStatus("PENDING").Valid())
	assert.False(t, ShareStatus("").Valid())
}
