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

// Package passthrough implements the default meta-request (spec.md
// §4.6): the caller's HTTP message goes out verbatim on a single
// acquired connection, subject to the same signing and retry pipeline
// as every other meta-request, but with no ranging or part-splitting.
package passthrough

import (
	"sync"

	"github.com/sabouaram/s3xfer/transfer/metarequest"
	"github.com/sabouaram/s3xfer/transfer/request"
)

type phase uint8

const (
	phasePending phase = iota
	phaseInFlight
	phaseDone
)

// Passthrough is a one-shot meta-request wrapping a single Request.
type Passthrough struct {
	*metarequest.Base

	mtx sync.Mutex
	req *request.Request
	ph  phase
}

// New wraps req as a one-shot meta-request. req.PartIndex is forced to
// 0 so a single OnBody callback, if any, carries ordinary ascending
// semantics identical to every other variant.
func New(req *request.Request) *Passthrough {
	req.PartIndex = 0
	return &Passthrough{Base: metarequest.NewBase(), req: req, ph: phasePending}
}

// NextRequest implements metarequest.MetaRequest.
func (p *Passthrough) NextRequest() (metarequest.Yield, *request.Request) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	switch p.ph {
	case phasePending:
		if p.Cancelled() {
			p.ph = phaseDone
			p.Finish()
			return metarequest.YieldFinished, nil
		}
		p.ph = phaseInFlight
		return metarequest.YieldReady, p.req
	case phaseInFlight:
		return metarequest.YieldWaiting, nil
	default:
		return metarequest.YieldFinished, nil
	}
}

// OnRequestFinished implements metarequest.MetaRequest.
func (p *Passthrough) OnRequestFinished(o metarequest.Outcome) {
	p.mtx.Lock()
	p.ph = phaseDone
	p.mtx.Unlock()

	if o.Err != nil {
		p.RecordError(0, o.Req.ResponseStatus(), o.Err, o.Class.Retryable())
	} else if p.OnHeaders != nil {
		p.OnHeaders(o.Req.ResponseHeaders())
	}

	if o.Err == nil {
		p.PushBody(0, o.Req.ResponseBody())
	}

	p.Finish()
}

// StreamReadyBodies is a no-op: Base.PushBody already delivered the
// single body eagerly in OnRequestFinished.
func (p *Passthrough) StreamReadyBodies() {}
