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

package hostlistener_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/s3xfer/transfer/hostlistener"
)

var _ = Describe("dnsPoll", func() {
	It("resolves localhost and reports at least one added address", func() {
		l := hostlistener.NewDNSPoll(time.Hour)

		added := make(chan string, 4)
		err := l.Start(context.Background(), "localhost", func(ip string) {
			added <- ip
		}, func(ip string) {})
		Expect(err).ToNot(HaveOccurred())
		defer l.Stop()

		select {
		case ip := <-added:
			Expect(ip).ToNot(BeEmpty())
		case <-time.After(2 * time.Second):
			Fail("expected at least one onAdd callback for localhost")
		}
	})

	It("stops cleanly without a prior Start", func() {
		l := hostlistener.NewDNSPoll(time.Minute)
		Expect(l.Stop()).ToNot(HaveOccurred())
	})
})
