package common

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestLogAppendOnly(t *testing.T) {
	var l Log

	l1, err := l.Append(true, Preparing)
	assert.NoError(t, err)
	l2, err := l1.Append(true, Prepared)
	assert.NoError(t, err)
	l3, err := l2.Append(true, Committed)
	assert.NoError(t, err)

	// Earlier values are untouched, later logs are prefix extensions.
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, 1, l1.Len())
	assert.True(t, l.ExtendedBy(l1))
	assert.True(t, l1.ExtendedBy(l2))
	assert.True(t, l2.ExtendedBy(l3))
	assert.True(t, l1.ExtendedBy(l3))
	assert.False(t, l3.ExtendedBy(l2), "a longer log never extends into a shorter one")

	expected := []LogEntry{
		{Seq: 0, Phase: Preparing},
		{Seq: 1, Phase: Prepared},
		{Seq: 2, Phase: Committed},
	}
	assert.Truef(t, cmp.Equal(expected, l3.ReadAll()), "Expected %v but got %v", expected, l3.ReadAll())
}

func TestLogAppendCrashInterrupted(t *testing.T) {
	l, err := Log{}.Append(true, Preparing)
	assert.NoError(t, err)

	// The party crashed before the write completed: the entry is dropped
	// and the log is unchanged.
	l2, err := l.Append(false, Prepared)
	assert.ErrorIs(t, err, ErrCrashInterrupted)
	assert.Truef(t, cmp.Equal(l, l2), "Expected %v but got %v", l, l2)
	assert.Equal(t, Preparing, l2.Fold())
}

func TestLogFoldAndDecision(t *testing.T) {
	assert.Equal(t, Init, Log{}.Fold())
	assert.Equal(t, DecisionNone, Log{}.Decision())

	l, _ := Log{}.Append(true, Preparing)
	l, _ = l.Append(true, Committing)
	assert.Equal(t, Committing, l.Fold())
	assert.Equal(t, DecisionCommit, l.Decision())
	assert.True(t, l.Contains(Preparing))
	assert.False(t, l.Contains(Aborting))

	a, _ := Log{}.Append(true, Preparing)
	a, _ = a.Append(true, Aborting)
	assert.Equal(t, DecisionAbort, a.Decision())
}

func TestLogExtendedByRejectsRewrite(t *testing.T) {
	l, _ := Log{}.Append(true, Preparing)
	l, _ = l.Append(true, Prepared)

	rewritten := Log{Entries: []LogEntry{
		{Seq: 0, Phase: Preparing},
		{Seq: 1, Phase: Aborting},
	}}
	assert.False(t, l.ExtendedBy(rewritten))
}
