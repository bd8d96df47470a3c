package transfer

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pascal-fb-martin/housedvr-go/internal/eventlog"
	"github.com/pascal-fb-martin/housedvr-go/internal/metrics"
)

// slowTransferThreshold governs the slow-transfer trace: a recording
// that takes longer to fetch than it took to record means the feed is
// falling behind.
const slowTransferThreshold = 120 * time.Second

// Tick drains at most one pending slot per call, so the core's ticker
// goroutine drives the "one ACTIVE transfer at a time" invariant without
// needing a dedicated worker goroutine of its own.
func (q *Queue) Tick() {
	q.mu.Lock()
	if q.pendingLen() == 0 {
		q.mu.Unlock()
		return
	}
	idx := q.consumer
	if q.items[idx].State != StateIdle {
		q.mu.Unlock()
		return // already ACTIVE, or the consumer region is momentarily empty
	}
	q.items[idx].State = StateActive
	q.items[idx].InitiatedAt = time.Now()
	item := q.items[idx]
	q.mu.Unlock()

	metrics.TransferActive.Set(1)
	ok, statusCode := q.runTransfer(idx, item)
	metrics.TransferActive.Set(0)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[idx].StatusCode = statusCode
	q.items[idx].FinishedAt = time.Now()
	if ok {
		q.items[idx].State = StateDone
		metrics.TransfersTotal.WithLabelValues("done").Inc()
	} else {
		q.items[idx].State = StateFailed
		metrics.TransfersTotal.WithLabelValues("failed").Inc()
	}
	q.consumer = q.next(q.consumer)
	metrics.TransferQueueDepth.Set(float64(q.pendingLen()))

	elapsed := q.items[idx].FinishedAt.Sub(item.InitiatedAt)
	if elapsed > slowTransferThreshold {
		q.sink.Trace(eventlog.LevelWarning, item.Path, "slow transfer: %s took %s", item.Path, elapsed)
	}
	q.assertInvariantsLocked()
}

// runTransfer performs the GET, issuing a Range header when offset > 0,
// and streams the response body to the archive file. It returns whether
// the transfer completed and the HTTP status observed (0 if the request
// itself never got a response).
func (q *Queue) runTransfer(idx int, item Item) (bool, int) {
	url := item.Feed + "/recording/" + item.Path

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		q.sink.Trace(eventlog.LevelFailure, item.Path, "build request: %v", err)
		return false, 0
	}
	if item.Offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", item.Offset))
	}

	resp, err := q.client.Do(req)
	if err != nil {
		q.sink.Trace(eventlog.LevelWarning, item.Path, "fetch %s: %v", url, err)
		return false, 0
	}
	defer resp.Body.Close()

	fullPath := filepath.Join(q.root(), filepath.FromSlash(item.Path))

	var (
		f       *os.File
		openErr error
	)
	switch resp.StatusCode {
	case http.StatusOK:
		// Server ignored or refused the Range request: start from scratch.
		f, openErr = os.OpenFile(fullPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640)
	case http.StatusPartialContent:
		f, openErr = os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY, 0640)
		if openErr == nil {
			_, openErr = f.Seek(item.Offset, io.SeekStart)
		}
	default:
		q.sink.Trace(eventlog.LevelWarning, item.Path, "fetch %s: status %d", url, resp.StatusCode)
		return false, resp.StatusCode
	}
	if openErr != nil {
		q.sink.Trace(eventlog.LevelFailure, item.Path, "open %s: %v", fullPath, openErr)
		return false, resp.StatusCode
	}
	defer f.Close()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		q.sink.Trace(eventlog.LevelWarning, item.Path, "copy %s: %v", item.Path, err)
		return false, resp.StatusCode
	}

	metrics.TransferBytesTotal.Add(float64(n))
	q.sink.Event("transfer", item.Path, "complete", "", map[string]any{"bytes": n})
	return true, resp.StatusCode
}
