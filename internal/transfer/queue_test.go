package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pascal-fb-martin/housedvr-go/internal/eventlog"
)

func newTestQueue(t *testing.T, capacity int) *Queue {
	t.Helper()
	root := t.TempDir()
	return New(capacity, func() string { return root }, eventlog.NewStdSink())
}

func TestNewClampsCapacity(t *testing.T) {
	q := newTestQueue(t, 4)
	assert.Equal(t, MinCapacity, q.cap)
}

func TestNotifyEnqueuesNewPath(t *testing.T) {
	q := newTestQueue(t, 16)
	enqueued := q.Notify("http://p1", "2024/01/02/10-00-00-cam.mkv", 1024)
	require.True(t, enqueued)
	assert.Equal(t, 1, q.Depth())

	status := q.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "IDLE", status[0].State)
	assert.Equal(t, int64(1024), status[0].Size)
}

func TestNotifyIdempotentOnIdleSameSize(t *testing.T) {
	q := newTestQueue(t, 16)
	path := "2024/01/02/10-00-00-cam.mkv"
	require.True(t, q.Notify("http://p1", path, 1024))
	again := q.Notify("http://p1", path, 1024)
	assert.False(t, again, "re-notifying an IDLE slot at the same size should not enqueue again")
	assert.Equal(t, 1, q.Depth())
}

func TestNotifyFoldsSizeChangeIntoIdleSlot(t *testing.T) {
	q := newTestQueue(t, 16)
	path := "2024/01/02/10-00-00-cam.mkv"
	require.True(t, q.Notify("http://p1", path, 1024))
	q.Notify("http://p1", path, 2048)

	status := q.Status()
	require.Len(t, status, 1)
	assert.Equal(t, int64(2048), status[0].Size)
}

func TestNotifyDoneSameSizeDrops(t *testing.T) {
	q := newTestQueue(t, 16)
	const idx = 5
	q.items[idx] = Item{State: StateDone, Path: "a/b.mkv", Size: 100}
	q.pathIndex.Add("a/b.mkv", idx)

	enqueued := q.Notify("http://p1", "a/b.mkv", 100)
	assert.False(t, enqueued)
	assert.Equal(t, 0, q.pendingLen())
}

func TestNotifyDoneDifferentSizeReenqueues(t *testing.T) {
	q := newTestQueue(t, 16)
	const idx = 5
	q.items[idx] = Item{State: StateDone, Path: "a/b.mkv", Size: 100}
	q.pathIndex.Add("a/b.mkv", idx)

	enqueued := q.Notify("http://p1", "a/b.mkv", 200)
	require.True(t, enqueued)
	assert.Equal(t, 1, q.pendingLen())
}

func TestNotifyRejectsPathTraversal(t *testing.T) {
	q := newTestQueue(t, 16)
	enqueued := q.Notify("http://p1", "../../etc/passwd", 10)
	assert.False(t, enqueued)
	assert.Equal(t, 0, q.pendingLen())
}

func TestNotifyDropsWhenQueueFull(t *testing.T) {
	q := newTestQueue(t, MinCapacity)
	for i := 0; i < q.cap-1; i++ {
		require.True(t, q.Notify("http://p1", pathFor(i), 10))
	}
	assert.False(t, q.Notify("http://p1", "overflow.mkv", 10))
}

func TestStatusIsFIFOHistoryThenPending(t *testing.T) {
	q := newTestQueue(t, 16)
	q.items[0] = Item{State: StateDone, Path: "old1.mkv"}
	q.items[1] = Item{State: StateFailed, Path: "old2.mkv"}
	q.producer = 2
	q.consumer = 2
	q.items[2] = Item{State: StateIdle, Path: "new1.mkv"}
	q.producer = 3

	status := q.Status()
	require.Len(t, status, 3)
	assert.Equal(t, "old1.mkv", status[0].Path)
	assert.Equal(t, "old2.mkv", status[1].Path)
	assert.Equal(t, "new1.mkv", status[2].Path)
}

func pathFor(i int) string {
	return "2024/01/02/10-00-00-cam" + string(rune('a'+i)) + ".mkv"
}
