package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob_StartsQueuedWithUniqueIDs(t *testing.T) {
	a := NewJob("a.mp4", Settings{Mode: ModeDub})
	b := NewJob("b.mp4", Settings{Mode: ModeDub})

	assert.Equal(t, StatusQueued, a.Status)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.Terminal())
}

func TestJob_TerminalStates(t *testing.T) {
	job := NewJob("a.mp4", Settings{})
	for status, terminal := range map[Status]bool{
		StatusQueued:    false,
		StatusRunning:   false,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	} {
		job.Status = status
		assert.Equal(t, terminal, job.Terminal(), string(status))
	}
}

func TestJob_AppendLogTruncatesLongMessages(t *testing.T) {
	job := NewJob("a.mp4", Settings{})
	job.AppendLog("info", strings.Repeat("x", 600))

	require.Len(t, job.Logs, 1)
	assert.Len(t, job.Logs[0].Message, 500)
}

func TestCancellationSet_MarkClearIsCancelled(t *testing.T) {
	s := NewCancellationSet()
	assert.False(t, s.IsCancelled("a"))

	s.Mark("a")
	assert.True(t, s.IsCancelled("a"))
	assert.False(t, s.IsCancelled("b"))

	s.Clear("a")
	assert.False(t, s.IsCancelled("a"))
}
