package stream

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_AdvanceByUsesMinimumAndSubtractsFromEvery(t *testing.T) {
	l := NewLedger()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	l.Set(a, 100)
	l.Set(b, 40)
	l.Set(c, 70)

	min, ok := l.AdvanceBy()
	require.True(t, ok)
	assert.Equal(t, 40, min)

	assert.Equal(t, 60, l.entries[a])
	assert.Equal(t, 0, l.entries[b])
	assert.Equal(t, 30, l.entries[c])
}

func TestLedger_AdvanceByEmptyReturnsFalse(t *testing.T) {
	l := NewLedger()
	_, ok := l.AdvanceBy()
	assert.False(t, ok)
}

func TestLedger_DropRemovesStream(t *testing.T) {
	l := NewLedger()
	s := uuid.New()
	l.Set(s, 10)
	require.Equal(t, 1, l.Len())
	l.Drop(s)
	assert.Equal(t, 0, l.Len())
}

func TestLedger_InvariantNeverNegative(t *testing.T) {
	l := NewLedger()
	a := uuid.New()
	l.Set(a, 5)
	_, ok := l.AdvanceBy()
	require.True(t, ok)
	assert.GreaterOrEqual(t, l.entries[a], 0)
}
