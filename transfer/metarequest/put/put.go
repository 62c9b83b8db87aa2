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

// Package put implements the auto-ranged PUT / multipart-upload state
// machine from spec.md §4.5: create-mpu → uploading → (complete-mpu |
// abort-mpu) → done. The input body is read strictly sequentially in
// part-size chunks; parts may complete out of order but ETags are
// placed by index so completion recovers ascending order.
package put

import (
	/* #nosec */
	// #nosec nolint -- MD5 here is S3's part-integrity checksum, not a security primitive.
	"crypto/md5"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/sabouaram/s3xfer/transfer/metarequest"
	"github.com/sabouaram/s3xfer/transfer/request"
	"github.com/sabouaram/s3xfer/transfer/xmlutil"
)

type phase uint8

const (
	phaseCreate phase = iota
	phaseUploading
	phaseCompleting
	phaseAborting
	phaseDone
)

// Definition is the immutable description of one auto-ranged PUT.
type Definition struct {
	Bucket   string
	Key      string
	PartSize int64
	Source   io.Reader // read strictly sequentially, never concurrently
}

// completedPart mirrors the wire shape of one <Part> entry in the
// CompleteMultipartUpload XML payload (spec.md §4.5).
type completedPart struct {
	PartNumber int32  `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
}

type completeMultipartUpload struct {
	XMLName xml.Name        `xml:"CompleteMultipartUpload"`
	Part    []completedPart `xml:"Part"`
}

// Put is one auto-ranged multipart-upload meta-request.
type Put struct {
	*metarequest.Base

	mtx sync.Mutex

	def      Definition
	uploadID string

	ph phase

	nextPartNum int32
	outstanding int32
	eof         bool
	totalParts  int32 // valid once eof observed

	etags  []string // index i holds ETag for part i+1
	failed bool
}

// New constructs a Put meta-request ready to yield its create-mpu request.
func New(def Definition) *Put {
	if def.PartSize <= 0 {
		def.PartSize = 8 << 20
	}
	return &Put{Base: metarequest.NewBase(), def: def, ph: phaseCreate}
}

// NextRequest implements metarequest.MetaRequest.
func (p *Put) NextRequest() (metarequest.Yield, *request.Request) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	// Looped rather than recursive: a phase transition with nothing left
	// to wait on (e.g. uploading -> aborting with zero outstanding parts)
	// falls straight through to the new phase's own yield decision.
	for {
		switch p.ph {
		case phaseCreate:
			if p.outstanding > 0 {
				return metarequest.YieldWaiting, nil
			}
			p.outstanding++
			r := request.New("POST", "/"+p.def.Key)
			r.Query["uploads"] = ""
			return metarequest.YieldReady, r

		case phaseUploading:
			if p.Cancelled() || p.failed {
				if p.outstanding > 0 {
					return metarequest.YieldWaiting, nil
				}
				if p.uploadID == "" {
					p.ph = phaseDone
					return metarequest.YieldFinished, nil
				}
				p.ph = phaseAborting
				continue
			}

			if !p.eof {
				chunk, err := p.readChunkLocked()
				if err != nil {
					p.failed = true
					p.RecordError(-1, 0, err, false)
					continue
				}
				if chunk != nil {
					partNum := p.nextPartNum
					p.nextPartNum++
					p.outstanding++

					r := request.New("PUT", "/"+p.def.Key)
					r.PartNum = partNum
					r.PartIndex = -1
					r.Query["partNumber"] = strconv.Itoa(int(partNum))
					r.Query["uploadId"] = p.uploadID
					r.Body = chunk
					r.Headers.Set("Content-MD5", md5Base64(chunk))
					return metarequest.YieldReady, r
				}
			}

			if p.eof && p.outstanding == 0 {
				p.totalParts = p.nextPartNum - 1
				p.ph = phaseCompleting
				continue
			}

			return metarequest.YieldWaiting, nil

		case phaseCompleting:
			if p.outstanding > 0 {
				return metarequest.YieldWaiting, nil
			}
			p.outstanding++
			r := request.New("POST", "/"+p.def.Key)
			r.Query["uploadId"] = p.uploadID
			r.Body = p.buildCompleteXMLLocked()
			return metarequest.YieldReady, r

		case phaseAborting:
			if p.outstanding > 0 {
				return metarequest.YieldWaiting, nil
			}
			p.outstanding++
			r := request.New("DELETE", "/"+p.def.Key)
			r.Query["uploadId"] = p.uploadID
			return metarequest.YieldReady, r

		case phaseDone:
			return metarequest.YieldFinished, nil
		}
	}
}

// readChunkLocked reads up to PartSize bytes from the source. A nil,
// nil return with p.eof set to true means the stream is exhausted.
func (p *Put) readChunkLocked() ([]byte, error) {
	buf := make([]byte, p.def.PartSize)
	n, err := io.ReadFull(p.def.Source, buf)

	switch {
	case err == nil:
		return buf, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		p.eof = true
		if n == 0 {
			return nil, nil
		}
		return buf[:n], nil
	case errors.Is(err, io.EOF):
		p.eof = true
		return nil, nil
	default:
		return nil, err
	}
}

// OnRequestFinished implements metarequest.MetaRequest.
func (p *Put) OnRequestFinished(o metarequest.Outcome) {
	p.mtx.Lock()
	p.outstanding--
	ph := p.ph
	p.mtx.Unlock()

	switch ph {
	case phaseCreate:
		p.onCreateFinished(o)
	case phaseUploading:
		p.onPartFinished(o)
	case phaseCompleting:
		p.onCompleteFinished(o)
	case phaseAborting:
		p.onAbortFinished(o)
	}
}

func (p *Put) onCreateFinished(o metarequest.Outcome) {
	if o.Err != nil {
		p.RecordError(-1, o.Req.ResponseStatus(), o.Err, o.Class.Retryable())
		p.mtx.Lock()
		p.ph = phaseDone
		p.mtx.Unlock()
		p.Finish()
		return
	}

	id, ok := xmlutil.FirstTopLevelTag(o.Req.ResponseBody(), "UploadId")
	if !ok || id == "" {
		p.RecordError(-1, o.Req.ResponseStatus(), fmt.Errorf("create-mpu response missing UploadId"), false)
		p.mtx.Lock()
		p.ph = phaseDone
		p.mtx.Unlock()
		p.Finish()
		return
	}

	p.mtx.Lock()
	p.uploadID = id
	p.nextPartNum = 1
	p.ph = phaseUploading
	p.mtx.Unlock()
}

func (p *Put) onPartFinished(o metarequest.Outcome) {
	if o.Err != nil {
		p.RecordError(int64(o.Req.PartNum), o.Req.ResponseStatus(), o.Err, o.Class.Retryable())
		p.mtx.Lock()
		p.failed = true
		p.mtx.Unlock()
		return
	}

	etag := o.Req.ETag()
	p.mtx.Lock()
	idx := int(o.Req.PartNum) - 1
	for len(p.etags) <= idx {
		p.etags = append(p.etags, "")
	}
	p.etags[idx] = etag
	p.mtx.Unlock()

	if p.OnProgress != nil {
		p.OnProgress(int64(len(o.Req.Body)), -1)
	}
}

func (p *Put) onCompleteFinished(o metarequest.Outcome) {
	if o.Err != nil {
		p.RecordError(-1, o.Req.ResponseStatus(), o.Err, o.Class.Retryable())
	}
	p.mtx.Lock()
	p.ph = phaseDone
	p.mtx.Unlock()
	p.Finish()
}

func (p *Put) onAbortFinished(o metarequest.Outcome) {
	// Abort errors never overwrite the original failure (spec.md §7):
	// RecordError's first-call-wins rule already gives us this, since the
	// original failure was recorded before we ever reached phaseAborting.
	if o.Err != nil {
		p.RecordError(-1, o.Req.ResponseStatus(), fmt.Errorf("abort-mpu: %w", o.Err), false)
	}
	p.mtx.Lock()
	p.ph = phaseDone
	p.mtx.Unlock()
	p.Finish()
}

// buildCompleteXMLLocked renders the CompleteMultipartUpload payload in
// ascending part order. Must be called with mtx held.
func (p *Put) buildCompleteXMLLocked() []byte {
	body := completeMultipartUpload{}
	for i, tag := range p.etags {
		body.Part = append(body.Part, completedPart{PartNumber: int32(i + 1), ETag: tag})
	}
	out, _ := xml.Marshal(body)
	return out
}

// StreamReadyBodies is a no-op: PUT has no response bodies to deliver
// to the caller, only ETags consumed internally.
func (p *Put) StreamReadyBodies() {}

func md5Base64(body []byte) string {
	/* #nosec */
	// #nosec nolint
	sum := md5.Sum(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}
