/*
 *  MIT License
 *
 *  Copyright (c) 2020 Nicolas JUHEL
 *
 *  Permission is hereby granted, free of charge, to any person obtaining a copy
 *  of this software and associated documentation files (the "Software"), to deal
 *  in the Software without restriction, including without limitation the rights
 *  to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 *  copies of the Software, and to permit persons to whom the Software is
 *  furnished to do so, subject to the following conditions:
 *
 *  The above copyright notice and this permission notice shall be included in all
 *  copies or substantial portions of the Software.
 *
 *  THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 *  IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 *  FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 *  AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 *  LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 *  OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 *  SOFTWARE.
 *
 */

// Package metarequest defines the MetaRequest base contract the work
// loop drives (spec.md §4.3) and the ordered body-delivery heap shared
// by every variant (auto-ranged GET, auto-ranged PUT, default
// passthrough). Variants embed Base and implement NextRequest /
// OnRequestFinished on top of it.
package metarequest

import (
	"container/heap"
	"sync"

	"github.com/sabouaram/s3xfer/transfer/request"
)

// Yield is the result of asking a meta-request for its next sub-request.
type Yield uint8

const (
	YieldWaiting Yield = iota
	YieldReady
	YieldFinished
)

// Outcome is reported to OnRequestFinished by the work loop after a
// Request's pipeline terminates (success or exhausted retries).
type Outcome struct {
	Req   *request.Request
	Class request.Class
	Err   error
}

// FinishResult is delivered to the user's finish callback exactly once
// per meta-request (spec.md §4.3 invariant).
type FinishResult struct {
	Err         error
	Status      int
	Diagnostics []request.Diagnostic
}

// MetaRequest is the interface the work loop schedules against.
type MetaRequest interface {
	// NextRequest must be non-blocking and idempotent while waiting.
	NextRequest() (Yield, *request.Request)
	// OnRequestFinished updates completion accounting for req.
	OnRequestFinished(Outcome)
	// StreamReadyBodies delivers any contiguous completed bodies to the
	// user, in strict ascending part order.
	StreamReadyBodies()
	// Cancel marks the meta-request cancelling with err; outstanding
	// part preparation stops, in-flight requests are allowed to
	// complete, and the finish callback fires once they drain.
	Cancel(err error)
	// Finished reports whether this meta-request has completed and can
	// be dropped from the work loop's active list.
	Finished() bool
}

// bodyItem is one entry in the ordered-delivery min-heap, keyed by part
// index (spec.md §4.3 "stream_ready_bodies").
type bodyItem struct {
	partIndex int64
	body      []byte
}

type bodyHeap []bodyItem

func (h bodyHeap) Len() int            { return len(h) }
func (h bodyHeap) Less(i, j int) bool  { return h[i].partIndex < h[j].partIndex }
func (h bodyHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *bodyHeap) Push(x interface{}) { *h = append(*h, x.(bodyItem)) }
func (h *bodyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Base holds the state shared by every meta-request variant: the
// ordered-delivery heap, next-expected cursor, aggregate error,
// diagnostics, finish bookkeeping, and the user callbacks. It is not
// itself a MetaRequest — variants embed it and supply NextRequest /
// OnRequestFinished.
type Base struct {
	mtx sync.Mutex

	heap        bodyHeap
	nextExpect  int64
	finished    bool
	finishOnce  sync.Once
	cancelErr   error
	reportedErr error
	reportedAt  int
	diagnostics []request.Diagnostic

	OnHeaders  func(headers map[string][]string)
	OnBody     func(partIndex int64, body []byte)
	OnProgress func(bytesTransferred, totalBytes int64)
	OnFinish   func(FinishResult)
}

// NewBase constructs a zero-valued Base ready to accumulate bodies
// starting from part index 0.
func NewBase() *Base {
	b := &Base{}
	heap.Init(&b.heap)
	return b
}

// PushBody enqueues a completed part's body keyed by partIndex and then
// immediately drains whatever is now contiguous, invoking OnBody for
// each in ascending order (spec.md §4.3, §9 "ordered-delivery heap").
func (b *Base) PushBody(partIndex int64, body []byte) {
	b.mtx.Lock()
	heap.Push(&b.heap, bodyItem{partIndex: partIndex, body: body})
	ready := b.drainLocked()
	b.mtx.Unlock()

	for _, it := range ready {
		if b.OnBody != nil {
			b.OnBody(it.partIndex, it.body)
		}
	}
}

// drainLocked pops every heap entry whose key equals nextExpect,
// advancing the cursor, and returns them in delivery order. Must be
// called with mtx held.
func (b *Base) drainLocked() []bodyItem {
	var out []bodyItem
	for b.heap.Len() > 0 && b.heap[0].partIndex == b.nextExpect {
		item := heap.Pop(&b.heap).(bodyItem)
		out = append(out, item)
		b.nextExpect++
	}
	return out
}

// RecordError records a terminal sub-request error. The first call wins
// the reported error (spec.md §7); later calls are appended to
// diagnostics instead of overwriting it.
func (b *Base) RecordError(partIndex int64, status int, err error, retryable bool) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.reportedErr == nil {
		b.reportedErr = err
		b.reportedAt = status
		return
	}

	b.diagnostics = append(b.diagnostics, request.Diagnostic{
		PartIndex:  partIndex,
		HTTPStatus: status,
		Err:        err,
		Retryable:  retryable,
	})
}

// ReportedError returns the first terminal error recorded, or nil.
func (b *Base) ReportedError() (error, int) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.reportedErr, b.reportedAt
}

// Cancel marks the meta-request cancelling; the first caller's error
// wins, matching ReportedError's "first wins" rule.
func (b *Base) Cancel(err error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if b.cancelErr == nil {
		b.cancelErr = err
	}
	if b.reportedErr == nil {
		b.reportedErr = err
	}
}

// Cancelled reports whether Cancel has been called.
func (b *Base) Cancelled() bool {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.cancelErr != nil
}

// Finish fires the user's finish callback exactly once, regardless of
// how many code paths call it (work loop drain, cancellation, last
// part completing) — the finishOnce guard is the enforcement point for
// spec.md §4.3's "fires exactly once" invariant.
func (b *Base) Finish() {
	b.finishOnce.Do(func() {
		b.mtx.Lock()
		b.finished = true
		res := FinishResult{
			Err:         b.reportedErr,
			Status:      b.reportedAt,
			Diagnostics: append([]request.Diagnostic(nil), b.diagnostics...),
		}
		cb := b.OnFinish
		b.mtx.Unlock()

		if cb != nil {
			cb(res)
		}
	})
}

// Finished reports whether Finish has already run.
func (b *Base) Finished() bool {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.finished
}

// NextExpected returns the next part index the delivery heap is waiting
// on — exposed so variants can decide whether to keep preparing parts
// under the soft pending_request_count backpressure cap.
func (b *Base) NextExpected() int64 {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.nextExpect
}
