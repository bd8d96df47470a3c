package transfer

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pascal-fb-martin/housedvr-go/internal/eventlog"
	"github.com/pascal-fb-martin/housedvr-go/internal/metrics"
)

// MinCapacity is the floor -dvr-queue is clamped to.
const MinCapacity = 16

// Queue is the fixed-size circular transfer queue. The array is the sole
// source of truth; pathIndex is a bounded LRU accelerator over it so a
// notify() for a path already tracked doesn't need an O(n) scan. It is
// never trusted blindly, only used to short-circuit the fallback scan.
type Queue struct {
	mu       sync.Mutex
	items    []Item
	cap      int
	producer int
	consumer int

	pathIndex *lru.Cache[string, int]
	root      func() string
	client    *http.Client
	sink      eventlog.Sink
}

// New builds a queue of the given capacity (clamped to MinCapacity).
// root returns the archive root directory; it is a func rather than a
// plain string so the queue always sees the Storage Manager's current
// root even if it's configured after the queue is constructed.
func New(capacity int, root func() string, sink eventlog.Sink) *Queue {
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	idx, _ := lru.New[string, int](capacity)
	return &Queue{
		items:     make([]Item, capacity),
		cap:       capacity,
		pathIndex: idx,
		root:      root,
		sink:      sink,
		client:    &http.Client{},
	}
}

func (q *Queue) next(i int) int { return (i + 1) % q.cap }

// pendingLen returns the number of slots in [consumer, producer), the
// future-work region (IDLE/ACTIVE). The rest of the array is the history
// region (DONE/FAILED/EMPTY).
func (q *Queue) pendingLen() int {
	return (q.producer - q.consumer + q.cap) % q.cap
}

// findByPath looks up the one slot (if any) currently holding path,
// trying the LRU accelerator first and falling back to a full scan if
// the cache missed or went stale (the slot it pointed at was since
// recycled for a different path).
func (q *Queue) findByPath(path string) (int, bool) {
	if idx, ok := q.pathIndex.Get(path); ok {
		if idx >= 0 && idx < q.cap && q.items[idx].State != StateEmpty && q.items[idx].Path == path {
			return idx, true
		}
	}
	for i := 0; i < q.cap; i++ {
		if q.items[i].State != StateEmpty && q.items[i].Path == path {
			q.pathIndex.Add(path, i)
			return i, true
		}
	}
	return 0, false
}

// ensureDirTree mkdir -p's every "/"-separated prefix of path under the
// archive root, one directory level at a time.
func (q *Queue) ensureDirTree(path string) error {
	root := q.root()
	segments := strings.Split(path, "/")
	for i := 0; i < len(segments)-1; i++ {
		dir := filepath.Join(append([]string{root}, segments[:i+1]...)...)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return err
		}
	}
	return nil
}

// Notify is the idempotent enqueue operation. It returns true when the
// path was newly queued for transfer; the registry uses that hint to
// rush the next full discovery scan.
func (q *Queue) Notify(feed, path string, size int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if strings.Contains(path, "..") {
		return false
	}
	if err := q.ensureDirTree(path); err != nil {
		q.sink.Trace(eventlog.LevelWarning, path, "mkdir: %v", err)
		return false
	}

	cachedAnywhere := false
	offset := int64(0)

	if idx, ok := q.findByPath(path); ok {
		cachedAnywhere = true
		it := &q.items[idx]
		switch it.State {
		case StateDone:
			if it.Size == size {
				return false // already transferred
			}
			if it.Size < size {
				offset = it.Size // file grew on the peer: pick up the tail
			}
		case StateFailed:
			// retry from scratch
		case StateActive:
			if it.Size == size {
				return false // already in flight
			}
			if it.Size < size {
				offset = it.Size
			}
		case StateIdle:
			it.Size = size // folded into the pending request
			return false
		}
	}

	if !cachedAnywhere {
		fullPath := filepath.Join(q.root(), filepath.FromSlash(path))
		if info, err := os.Stat(fullPath); err == nil {
			if info.Size() == size {
				return false // already on disk, whole
			}
			if info.Size() < size {
				offset = info.Size()
			}
		}
	}

	return q.enqueue(feed, path, size, offset)
}

// enqueue appends a new IDLE slot at producer. Silently drops the
// request if the queue is full; the next discovery round retries it.
func (q *Queue) enqueue(feed, path string, size, offset int64) bool {
	if q.next(q.producer) == q.consumer {
		q.sink.Trace(eventlog.LevelWarning, path, "transfer queue full, dropping")
		metrics.TransfersTotal.WithLabelValues("dropped_full").Inc()
		return false
	}
	idx := q.producer
	q.items[idx] = Item{State: StateIdle, Feed: feed, Path: path, Size: size, Offset: offset}
	q.pathIndex.Add(path, idx)
	q.producer = q.next(q.producer)
	metrics.TransferQueueDepth.Set(float64(q.pendingLen()))
	q.assertInvariantsLocked()
	return true
}

// assertInvariantsLocked is called after every mutation under q.mu. A
// violation here is a programming error in the queue itself, not a
// peer/environment fault: crash so a supervisor captures state, rather
// than limping on with corrupted cursors.
func (q *Queue) assertInvariantsLocked() {
	activeCount := 0
	pendingLen := q.pendingLen()
	for i := 0; i < pendingLen; i++ {
		idx := (q.consumer + i) % q.cap
		switch q.items[idx].State {
		case StateIdle, StateActive:
			if q.items[idx].State == StateActive {
				activeCount++
				if idx != q.consumer {
					panic(fmt.Sprintf("transfer: ACTIVE slot %d is not at consumer %d", idx, q.consumer))
				}
			}
		default:
			panic(fmt.Sprintf("transfer: pending slot %d has history state %s", idx, q.items[idx].State))
		}
	}
	if activeCount > 1 {
		panic(fmt.Sprintf("transfer: %d ACTIVE slots, want at most 1", activeCount))
	}
	for i := pendingLen; i < q.cap; i++ {
		idx := (q.consumer + i) % q.cap
		switch q.items[idx].State {
		case StateEmpty, StateDone, StateFailed:
		default:
			panic(fmt.Sprintf("transfer: history slot %d has pending state %s", idx, q.items[idx].State))
		}
	}
}
