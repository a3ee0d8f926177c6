package questions

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnqueuePendingAnswerDrain(t *testing.T) {
	dir := t.TempDir()
	q := NewQueue(50)

	question := Question{ID: "q1", Content: "Use REST or gRPC?", Options: []Option{{Label: "REST"}, {Label: "gRPC"}}}
	require.NoError(t, q.Enqueue(dir, "wf-1", question))

	pending, err := q.Pending(dir)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "q1", pending[0].ID)

	require.NoError(t, q.Answer(dir, "q1", "REST"))

	pending, err = q.Pending(dir)
	require.NoError(t, err)
	require.Empty(t, pending)

	answers, err := q.Drain(dir, "wf-1")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"q1": "REST"}, answers)

	// Drained answers are gone; draining again yields nothing.
	answers, err = q.Drain(dir, "wf-1")
	require.NoError(t, err)
	require.Empty(t, answers)
}

func TestEnqueueIsIdempotentOnID(t *testing.T) {
	dir := t.TempDir()
	q := NewQueue(50)

	question := Question{ID: "q1", Content: "first"}
	require.NoError(t, q.Enqueue(dir, "wf-1", question))
	require.NoError(t, q.Enqueue(dir, "wf-1", Question{ID: "q1", Content: "different content, same id"}))

	pending, err := q.Pending(dir)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "first", pending[0].Content)
}

func TestAnswerUnknownAndAlreadyAnswered(t *testing.T) {
	dir := t.TempDir()
	q := NewQueue(50)

	err := q.Answer(dir, "missing", "x")
	require.ErrorIs(t, err, ErrUnknownQuestion)

	require.NoError(t, q.Enqueue(dir, "wf-1", Question{ID: "q1", Content: "c"}))
	require.NoError(t, q.Answer(dir, "q1", "a"))
	err = q.Answer(dir, "q1", "b")
	require.ErrorIs(t, err, ErrAlreadyAnswered)
}

func TestEnqueueEnforcesPerWorkflowCap(t *testing.T) {
	dir := t.TempDir()
	q := NewQueue(2)

	require.NoError(t, q.Enqueue(dir, "wf-1", Question{ID: "q1"}))
	require.NoError(t, q.Enqueue(dir, "wf-1", Question{ID: "q2"}))
	err := q.Enqueue(dir, "wf-1", Question{ID: "q3"})
	require.ErrorIs(t, err, ErrQueueFull)
}
