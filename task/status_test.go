package task_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/corewire/taskqueue/task"
)

func TestCanTransitionLegalPaths(t *testing.T) {
	cases := []struct {
		from, to task.Status
	}{
		{task.Pending, task.Queued},
		{task.Pending, task.Cancelled},
		{task.Pending, task.Completed},
		{task.Pending, task.Failed},
		{task.Queued, task.Running},
		{task.Queued, task.Cancelled},
		{task.Running, task.Completed},
		{task.Running, task.Failed},
		{task.Running, task.Timeout},
		{task.Running, task.Cancelled},
		{task.Failed, task.Retrying},
		{task.Failed, task.Cancelled},
		{task.Retrying, task.Queued},
		{task.Retrying, task.Cancelled},
		{task.Timeout, task.Retrying},
		{task.Timeout, task.Cancelled},
	}
	for _, c := range cases {
		assert.True(t, task.CanTransition(c.from, c.to), "%s -> %s should be legal", c.from, c.to)
	}
}

func TestCanTransitionIllegalPaths(t *testing.T) {
	cases := []struct {
		from, to task.Status
	}{
		{task.Pending, task.Running},
		{task.Pending, task.Timeout},
		{task.Pending, task.Retrying},
		{task.Queued, task.Completed},
		{task.Queued, task.Failed},
		{task.Running, task.Queued},
		{task.Failed, task.Queued},
		{task.Failed, task.Completed},
		{task.Retrying, task.Running},
		{task.Completed, task.Cancelled},
		{task.Cancelled, task.Pending},
	}
	for _, c := range cases {
		assert.False(t, task.CanTransition(c.from, c.to), "%s -> %s should be illegal", c.from, c.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, task.Completed.Terminal())
	assert.True(t, task.Cancelled.Terminal())
	assert.False(t, task.Pending.Terminal())
	assert.False(t, task.Queued.Terminal())
	assert.False(t, task.Running.Terminal())
	assert.False(t, task.Failed.Terminal())
	assert.False(t, task.Timeout.Terminal())
	assert.False(t, task.Retrying.Terminal())
}

func TestValidateTransitionWrapsErrInvalidTransition(t *testing.T) {
	err := task.ValidateTransition(task.Completed, task.Running)
	assert.ErrorIs(t, err, task.ErrInvalidTransition)
}

func TestStatusStringRoundTrip(t *testing.T) {
	statuses := []task.Status{
		task.Pending, task.Queued, task.Running, task.Completed,
		task.Failed, task.Timeout, task.Retrying, task.Cancelled, task.Unknown,
	}
	for _, s := range statuses {
		parsed, err := task.ParseStatus(s.String())
		assert.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
}

func TestParseStatusRejectsUnknownString(t *testing.T) {
	_, err := task.ParseStatus("NOT_A_STATUS")
	assert.Error(t, err)
}

func TestStatusMarshalTextRoundTrip(t *testing.T) {
	text, err := task.Running.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "RUNNING", string(text))

	var s task.Status
	assert.NoError(t, s.UnmarshalText(text))
	assert.Equal(t, task.Running, s)
}
