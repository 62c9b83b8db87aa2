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

package request_test

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/s3xfer/transfer/request"
)

var _ = Describe("Request", func() {
	It("builds a Range header from WithRange", func() {
		r := request.New(http.MethodGet, "/key").WithRange(8, 15)
		Expect(r.Headers.Get("Range")).To(Equal("bytes=8-15"))
	})

	It("strips quotes from the ETag response header", func() {
		r := request.New(http.MethodPut, "/key")
		h := make(http.Header)
		h.Set("ETag", `"abc123"`)
		r.SetResponse(200, h, nil)
		Expect(r.ETag()).To(Equal("abc123"))
	})

	It("preserves all values of a repeated header on copy", func() {
		src := make(http.Header)
		src.Add("X-Amz-Meta", "a")
		src.Add("X-Amz-Meta", "b")
		dst := make(http.Header)
		request.CopyHeaders(dst, src)
		Expect(dst.Values("X-Amz-Meta")).To(Equal([]string{"a", "b"}))
	})

	It("records finish class and error exactly as given", func() {
		r := request.New(http.MethodGet, "/key")
		r.Finish(request.ClassServerTransient, nil)
		Expect(r.LastClass()).To(Equal(request.ClassServerTransient))
		Expect(r.LastError()).To(BeNil())
	})

	It("classifies retryable classes correctly", func() {
		Expect(request.ClassTransport.Retryable()).To(BeTrue())
		Expect(request.ClassThrottling.Retryable()).To(BeTrue())
		Expect(request.ClassServerPermanent.Retryable()).To(BeFalse())
		Expect(request.ClassUserCancelled.Retryable()).To(BeFalse())
		Expect(request.ClassInternal.Retryable()).To(BeFalse())
	})
})
