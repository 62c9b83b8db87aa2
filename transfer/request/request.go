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

// Package request describes one HTTP exchange: a part-range GET, a
// part PUT, or a control call (create/complete/abort MPU, a default
// passthrough). A Request is immutable once built except for its
// response buffers and retry bookkeeping, which the work loop and the
// retry driver mutate under the owning meta-request's discipline.
package request

import (
	"bytes"
	"net/http"
	"strconv"
	"time"
)

// Class classifies a finished Request for retry/propagation purposes.
type Class uint8

const (
	ClassNone Class = iota
	ClassTransport
	ClassServerTransient
	ClassThrottling
	ClassServerPermanent
	ClassAuth
	ClassUserCancelled
	ClassInternal
)

// Retryable reports whether a Class is ever worth resubmitting.
func (c Class) Retryable() bool {
	switch c {
	case ClassTransport, ClassServerTransient, ClassThrottling:
		return true
	case ClassAuth:
		// auth is reported retryable unconditionally; neither transfer/retry
		// nor the client checks whether the credentials were refreshed.
		return true
	default:
		return false
	}
}

func (c Class) String() string {
	switch c {
	case ClassTransport:
		return "transport"
	case ClassServerTransient:
		return "server-transient"
	case ClassThrottling:
		return "throttling"
	case ClassServerPermanent:
		return "server-permanent"
	case ClassAuth:
		return "auth"
	case ClassUserCancelled:
		return "user-cancelled"
	case ClassInternal:
		return "internal"
	default:
		return "none"
	}
}

// Diagnostic records one finished attempt's outcome for a part that did
// not become the meta-request's reported error (see spec §7 / SPEC_FULL §13).
type Diagnostic struct {
	PartIndex  int64
	HTTPStatus int
	Err        error
	Retryable  bool
}

// Request is one HTTP exchange belonging to a meta-request's part
// sequence, or a control call with no part index (PartIndex < 0).
type Request struct {
	Method  string
	Path    string
	Query   map[string]string
	Headers http.Header
	Body    []byte // nil for GET / control calls with no payload

	PartIndex int64 // 0-based for GET delivery order; -1 for control calls
	PartNum   int32 // 1-based S3 wire part number; 0 for non-MPU requests

	RangeStart int64
	RangeEnd   int64 // inclusive; -1 means "no range requested"

	respHeaders  http.Header
	respBody     bytes.Buffer
	respStatus   int
	attempt      int
	lastErr      error
	lastClass    Class
	finishedAt   time.Time
	finishResult error
}

// New builds an immutable Request descriptor. Callers fill Headers/Body
// after construction only before the Request is first bound to a
// connection; once sent, the pipeline in transfer.(*Client).runPipeline treats
// it as read-only apart from the response fields.
func New(method, path string) *Request {
	return &Request{
		Method:     method,
		Path:       path,
		Query:      make(map[string]string),
		Headers:    make(http.Header),
		PartIndex:  -1,
		RangeEnd:   -1,
	}
}

// WithRange sets an inclusive byte range and returns the receiver for
// chaining, mirroring the builder-ish shape of the teacher's request
// construction helpers.
func (r *Request) WithRange(start, end int64) *Request {
	r.RangeStart = start
	r.RangeEnd = end
	if end >= start {
		r.Headers.Set("Range", rangeHeader(start, end))
	}
	return r
}

func rangeHeader(start, end int64) string {
	return "bytes=" + strconv.FormatInt(start, 10) + "-" + strconv.FormatInt(end, 10)
}

// Attempt returns the number of send attempts made so far (0 before the
// first send).
func (r *Request) Attempt() int {
	return r.attempt
}

// BumpAttempt increments the attempt counter; called by the client's
// per-request pipeline at the start of every attempt, the first included.
func (r *Request) BumpAttempt() {
	r.attempt++
}

// ResponseHeaders returns the headers captured from the last response,
// or nil if the request never completed a send.
func (r *Request) ResponseHeaders() http.Header {
	return r.respHeaders
}

// SetResponse stores the classified outcome of one send attempt.
func (r *Request) SetResponse(status int, headers http.Header, body []byte) {
	r.respStatus = status
	r.respHeaders = headers
	r.respBody.Reset()
	r.respBody.Write(body)
}

// ResponseStatus returns the last HTTP status observed, or 0.
func (r *Request) ResponseStatus() int {
	return r.respStatus
}

// ResponseBody returns the accumulated response body bytes.
func (r *Request) ResponseBody() []byte {
	return r.respBody.Bytes()
}

// Finish records the terminal outcome of this Request: its classified
// error (nil on success) and error class. Idempotent by convention —
// callers must only call it once per Request.
func (r *Request) Finish(class Class, err error) {
	r.lastClass = class
	r.lastErr = err
	r.finishResult = err
	r.finishedAt = time.Now()
}

// LastError returns the error recorded by the most recent Finish call.
func (r *Request) LastError() error {
	return r.lastErr
}

// LastClass returns the error class recorded by the most recent Finish call.
func (r *Request) LastClass() Class {
	return r.lastClass
}

// ETag returns the ETag response header with surrounding quotes
// stripped, following the same trim the teacher's multipart pusher
// applies before storing a part's ETag.
func (r *Request) ETag() string {
	if r.respHeaders == nil {
		return ""
	}
	v := r.respHeaders.Get("ETag")
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}

// CopyHeaders merges src into dst, preserving every value of a repeated
// header name (append, not overwrite) — the explicit resolution of the
// "copy_http_headers duplicate header" open question.
func CopyHeaders(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
