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

package metarequest_test

import (
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/s3xfer/transfer/metarequest"
)

var _ = Describe("Base", func() {
	It("delivers out-of-order pushes in strict ascending part order", func() {
		b := metarequest.NewBase()

		var delivered []int64
		b.OnBody = func(partIndex int64, body []byte) {
			delivered = append(delivered, partIndex)
		}

		b.PushBody(2, []byte("c"))
		b.PushBody(0, []byte("a"))
		b.PushBody(1, []byte("b"))

		Expect(delivered).To(Equal([]int64{0, 1, 2}))
	})

	It("withholds delivery until the gap closes", func() {
		b := metarequest.NewBase()

		var delivered []int64
		b.OnBody = func(partIndex int64, body []byte) {
			delivered = append(delivered, partIndex)
		}

		b.PushBody(1, []byte("b"))
		Expect(delivered).To(BeEmpty())

		b.PushBody(0, []byte("a"))
		Expect(delivered).To(Equal([]int64{0, 1}))
	})

	It("fires the finish callback exactly once under concurrent callers", func() {
		b := metarequest.NewBase()

		var n int
		var mtx sync.Mutex
		b.OnFinish = func(metarequest.FinishResult) {
			mtx.Lock()
			n++
			mtx.Unlock()
		}

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.Finish()
			}()
		}
		wg.Wait()

		Expect(n).To(Equal(1))
		Expect(b.Finished()).To(BeTrue())
	})

	It("keeps the first terminal error and records later ones as diagnostics", func() {
		b := metarequest.NewBase()

		b.RecordError(0, 500, fmt.Errorf("first"), true)
		b.RecordError(1, 403, fmt.Errorf("second"), false)

		err, status := b.ReportedError()
		Expect(err).To(MatchError("first"))
		Expect(status).To(Equal(500))

		var res metarequest.FinishResult
		b.OnFinish = func(r metarequest.FinishResult) { res = r }
		b.Finish()
		Expect(res.Diagnostics).To(HaveLen(1))
		Expect(res.Diagnostics[0].PartIndex).To(Equal(int64(1)))
		Expect(res.Diagnostics[0].HTTPStatus).To(Equal(403))
		Expect(res.Diagnostics[0].Err).To(MatchError("second"))
	})

	It("Cancel sets the reported error if none was set yet", func() {
		b := metarequest.NewBase()
		b.Cancel(fmt.Errorf("shutdown"))

		Expect(b.Cancelled()).To(BeTrue())
		err, _ := b.ReportedError()
		Expect(err).To(MatchError("shutdown"))
	})
})
