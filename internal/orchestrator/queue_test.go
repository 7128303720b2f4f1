package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/crawl"
)

func queuedJob(id string, priority int, seq uint64) *job {
	return &job{
		id:      id,
		request: crawl.Request{URL: "https://example.test/" + id, Priority: priority},
		seq:     seq,
	}
}

func TestQueueOrdersByPriorityThenSequence(t *testing.T) {
	t.Parallel()

	var q jobQueue
	q.push(queuedJob("a", 0, 1))
	q.push(queuedJob("b", 5, 2))
	q.push(queuedJob("c", 5, 3))
	q.push(queuedJob("d", 1, 4))

	var got []string
	for j := q.pop(); j != nil; j = q.pop() {
		got = append(got, j.id)
	}
	require.Equal(t, []string{"b", "c", "d", "a"}, got)
}

func TestQueuePopEmpty(t *testing.T) {
	t.Parallel()

	var q jobQueue
	require.Nil(t, q.pop())
}
