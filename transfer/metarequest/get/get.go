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

// Package get implements the auto-ranged GET state machine from
// spec.md §4.4: probe → stream_parts → finishing. The first part
// doubles as a size probe via Content-Range; once TOTAL is known the
// remaining parts are yielded in order and delivered through the base
// ordered-delivery heap.
package get

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/sabouaram/s3xfer/transfer/metarequest"
	"github.com/sabouaram/s3xfer/transfer/request"
)

type phase uint8

const (
	phaseProbe phase = iota
	phaseStreaming
	phaseFinishing
	phaseDone
)

// Definition is the immutable description of one auto-ranged GET,
// mirroring spec.md §3 "Meta Request" essential state for this variant.
type Definition struct {
	Bucket   string
	Key      string
	PartSize int64
}

// Get is one auto-ranged GET meta-request.
type Get struct {
	*metarequest.Base

	mtx sync.Mutex

	def Definition

	ph          phase
	total       int64
	numParts    int64
	nextToIssue int64 // next part index not yet yielded (0-based)
	outstanding int64
	partsDone   int64
}

// New constructs a Get meta-request ready to yield its probe request.
func New(def Definition) *Get {
	if def.PartSize <= 0 {
		def.PartSize = 8 << 20
	}
	return &Get{Base: metarequest.NewBase(), def: def, ph: phaseProbe}
}

// NextRequest implements metarequest.MetaRequest.
func (g *Get) NextRequest() (metarequest.Yield, *request.Request) {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	if g.Cancelled() {
		if g.outstanding == 0 {
			g.Finish()
			return metarequest.YieldFinished, nil
		}
		return metarequest.YieldWaiting, nil
	}

	switch g.ph {
	case phaseProbe:
		if g.outstanding > 0 {
			return metarequest.YieldWaiting, nil
		}
		g.outstanding++
		r := request.New("GET", "/"+g.def.Key).WithRange(0, g.def.PartSize-1)
		r.PartIndex = 0
		return metarequest.YieldReady, r

	case phaseStreaming:
		if g.nextToIssue >= g.numParts {
			if g.outstanding == 0 {
				g.ph = phaseFinishing
				return metarequest.YieldFinished, nil
			}
			return metarequest.YieldWaiting, nil
		}

		idx := g.nextToIssue
		start := idx * g.def.PartSize
		end := start + g.def.PartSize - 1
		if end > g.total-1 {
			end = g.total - 1
		}

		g.nextToIssue++
		g.outstanding++

		r := request.New("GET", "/"+g.def.Key).WithRange(start, end)
		r.PartIndex = idx
		return metarequest.YieldReady, r

	case phaseFinishing, phaseDone:
		return metarequest.YieldFinished, nil
	}

	return metarequest.YieldWaiting, nil
}

// OnRequestFinished implements metarequest.MetaRequest.
func (g *Get) OnRequestFinished(o metarequest.Outcome) {
	g.mtx.Lock()

	g.outstanding--

	if o.Err != nil {
		if g.ph == phaseProbe {
			// Without a probe there is no total size to range over.
			g.ph = phaseFinishing
		}
		g.RecordError(o.Req.PartIndex, o.Req.ResponseStatus(), o.Err, o.Class.Retryable())
		g.mtx.Unlock()
		g.maybeFinish()
		return
	}

	wasProbe := o.Req.PartIndex == 0 && g.ph == phaseProbe
	skipBody := false

	if wasProbe {
		if err := g.consumeProbeLocked(o.Req); err != nil {
			g.ph = phaseFinishing
			g.mtx.Unlock()
			g.RecordError(0, o.Req.ResponseStatus(), err, false)
			g.maybeFinish()
			return
		}
		// Zero-length objects finish after the probe with no body
		// callback at all (spec.md §4.4 edge policy).
		skipBody = g.total == 0
	} else {
		g.partsDone++
	}

	body := o.Req.ResponseBody()
	g.mtx.Unlock()

	if !skipBody {
		g.PushBody(o.Req.PartIndex, body)
	}

	if g.OnProgress != nil {
		g.OnProgress(int64(len(body)), g.totalSnapshot())
	}

	g.maybeFinish()
}

// consumeProbeLocked parses Content-Range from the probe response and
// transitions phase, per spec.md §4.4. Must be called with mtx held.
func (g *Get) consumeProbeLocked(r *request.Request) error {
	status := r.ResponseStatus()

	if status == 200 {
		// Non-206 success: object is single-part (spec.md §4.4 edge policy).
		g.total = int64(len(r.ResponseBody()))
		g.numParts = 1
		g.nextToIssue = 1
		g.ph = phaseStreaming
		return nil
	}

	if status != 206 {
		return fmt.Errorf("unexpected probe status %d", status)
	}

	total, err := parseContentRangeTotal(r.ResponseHeaders().Get("Content-Range"))
	if err != nil {
		return err
	}

	g.total = total

	if total == 0 {
		g.numParts = 0
		g.nextToIssue = 0
		g.ph = phaseFinishing
		return nil
	}

	if total <= g.def.PartSize {
		// The probe is the whole object.
		g.numParts = 1
		g.nextToIssue = 1
	} else {
		g.numParts = (total + g.def.PartSize - 1) / g.def.PartSize
		g.nextToIssue = 1
	}

	g.ph = phaseStreaming
	return nil
}

func (g *Get) totalSnapshot() int64 {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return g.total
}

func (g *Get) maybeFinish() {
	g.mtx.Lock()
	done := (g.ph == phaseFinishing || g.ph == phaseStreaming && g.nextToIssue >= g.numParts) && g.outstanding == 0
	if done {
		g.ph = phaseDone
	}
	g.mtx.Unlock()

	if done || g.Cancelled() && g.outstandingSnapshot() == 0 {
		g.Finish()
	}
}

func (g *Get) outstandingSnapshot() int64 {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return g.outstanding
}

// StreamReadyBodies is a no-op: Base.PushBody already delivers every
// contiguous body eagerly as soon as it is pushed, so there is nothing
// left to drain on a separate pass.
func (g *Get) StreamReadyBodies() {}

// parseContentRangeTotal parses "bytes X-Y/TOTAL" and returns TOTAL.
func parseContentRangeTotal(v string) (int64, error) {
	i := strings.LastIndexByte(v, '/')
	if i < 0 || i+1 >= len(v) {
		return 0, fmt.Errorf("malformed Content-Range %q", v)
	}
	tot := v[i+1:]
	if tot == "*" {
		return 0, fmt.Errorf("unknown total size in Content-Range %q", v)
	}
	n, err := strconv.ParseInt(tot, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed Content-Range total %q: %w", tot, err)
	}
	return n, nil
}
