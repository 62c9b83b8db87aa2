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

package passthrough_test

import (
	"fmt"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/s3xfer/transfer/metarequest"
	"github.com/sabouaram/s3xfer/transfer/metarequest/passthrough"
	"github.com/sabouaram/s3xfer/transfer/request"
)

var _ = Describe("Passthrough", func() {
	It("yields the wrapped request exactly once and finishes on success", func() {
		req := request.New("HEAD", "/obj")
		p := passthrough.New(req)

		var delivered []byte
		p.OnBody = func(_ int64, body []byte) { delivered = body }

		y, r := p.NextRequest()
		Expect(y).To(Equal(metarequest.YieldReady))
		Expect(r).To(BeIdenticalTo(req))

		y, _ = p.NextRequest()
		Expect(y).To(Equal(metarequest.YieldWaiting))

		r.SetResponse(200, make(http.Header), []byte("ok"))
		p.OnRequestFinished(metarequest.Outcome{Req: r})

		Expect(p.Finished()).To(BeTrue())
		Expect(string(delivered)).To(Equal("ok"))

		y, _ = p.NextRequest()
		Expect(y).To(Equal(metarequest.YieldFinished))
	})

	It("records the error and finishes without a body callback on failure", func() {
		req := request.New("DELETE", "/obj")
		p := passthrough.New(req)

		called := false
		p.OnBody = func(int64, []byte) { called = true }

		_, r := p.NextRequest()
		r.SetResponse(500, make(http.Header), nil)
		p.OnRequestFinished(metarequest.Outcome{
			Req:   r,
			Err:   fmt.Errorf("server error"),
			Class: request.ClassServerPermanent,
		})

		Expect(called).To(BeFalse())
		Expect(p.Finished()).To(BeTrue())

		err, status := p.ReportedError()
		Expect(err).To(MatchError("server error"))
		Expect(status).To(Equal(500))
	})
})
