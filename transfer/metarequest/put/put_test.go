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

package put_test

import (
	"fmt"
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/s3xfer/transfer/metarequest"
	"github.com/sabouaram/s3xfer/transfer/metarequest/put"
	"github.com/sabouaram/s3xfer/transfer/request"
)

func etagHeader(v string) http.Header {
	h := make(http.Header)
	h.Set("ETag", v)
	return h
}

var _ = Describe("Put", func() {
	It("runs create before any upload, and complete after every part, placing out-of-order ETags correctly", func() {
		p := put.New(put.Definition{Key: "obj", PartSize: 4, Source: strings.NewReader("ABCDEFGH")})

		_, createReq := p.NextRequest()
		Expect(createReq.Method).To(Equal("POST"))
		Expect(createReq.Query).To(HaveKey("uploads"))
		createReq.SetResponse(200, make(http.Header),
			[]byte(`<InitiateMultipartUploadResult><UploadId>UP1</UploadId></InitiateMultipartUploadResult>`))
		p.OnRequestFinished(metarequest.Outcome{Req: createReq})

		_, r1 := p.NextRequest()
		Expect(r1.Method).To(Equal("PUT"))
		Expect(r1.PartNum).To(Equal(int32(1)))
		Expect(string(r1.Body)).To(Equal("ABCD"))

		_, r2 := p.NextRequest()
		Expect(r2.PartNum).To(Equal(int32(2)))
		Expect(string(r2.Body)).To(Equal("EFGH"))

		y, _ := p.NextRequest()
		Expect(y).To(Equal(metarequest.YieldWaiting))

		// complete part 2 before part 1: ETags must still land at the
		// correct index-based slot (spec.md §4.5).
		r2.SetResponse(200, etagHeader("etag2"), nil)
		p.OnRequestFinished(metarequest.Outcome{Req: r2})

		r1.SetResponse(200, etagHeader("etag1"), nil)
		p.OnRequestFinished(metarequest.Outcome{Req: r1})

		_, completeReq := p.NextRequest()
		Expect(completeReq.Method).To(Equal("POST"))
		Expect(completeReq.Query).To(HaveKeyWithValue("uploadId", "UP1"))

		body := string(completeReq.Body)
		Expect(body).To(ContainSubstring("<PartNumber>1</PartNumber><ETag>etag1</ETag>"))
		Expect(body).To(ContainSubstring("<PartNumber>2</PartNumber><ETag>etag2</ETag>"))
		Expect(strings.Index(body, "etag1")).To(BeNumerically("<", strings.Index(body, "etag2")))

		completeReq.SetResponse(200, make(http.Header), nil)
		p.OnRequestFinished(metarequest.Outcome{Req: completeReq})

		Expect(p.Finished()).To(BeTrue())
		err, _ := p.ReportedError()
		Expect(err).To(BeNil())

		y, _ = p.NextRequest()
		Expect(y).To(Equal(metarequest.YieldFinished))
	})

	It("aborts on a permanent part failure and preserves the original error over the abort outcome", func() {
		p := put.New(put.Definition{Key: "obj", PartSize: 4, Source: strings.NewReader("ABCDEFGH")})

		_, createReq := p.NextRequest()
		createReq.SetResponse(200, make(http.Header),
			[]byte(`<InitiateMultipartUploadResult><UploadId>UP1</UploadId></InitiateMultipartUploadResult>`))
		p.OnRequestFinished(metarequest.Outcome{Req: createReq})

		_, r1 := p.NextRequest()
		r1.SetResponse(500, make(http.Header), nil)
		p.OnRequestFinished(metarequest.Outcome{
			Req:   r1,
			Err:   fmt.Errorf("boom"),
			Class: request.ClassServerPermanent,
		})

		_, abortReq := p.NextRequest()
		Expect(abortReq.Method).To(Equal("DELETE"))
		Expect(abortReq.Query).To(HaveKeyWithValue("uploadId", "UP1"))

		abortReq.SetResponse(204, make(http.Header), nil)
		p.OnRequestFinished(metarequest.Outcome{
			Req: abortReq,
			Err: fmt.Errorf("network blip during abort"),
		})

		Expect(p.Finished()).To(BeTrue())
		err, _ := p.ReportedError()
		Expect(err).To(MatchError("boom"))
	})
})
