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

package endpoint_test

import (
	"context"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/s3xfer/transfer/endpoint"
)

type fakeManager struct {
	released []bool
}

func (f *fakeManager) Acquire(_ context.Context) (endpoint.Channel, error) {
	return fakeChannel{}, nil
}

func (f *fakeManager) Release(_ endpoint.Channel, retire bool) {
	f.released = append(f.released, retire)
}

type fakeChannel struct{}

func (fakeChannel) RoundTrip(_ *http.Request) (*http.Response, error) { return nil, nil }

var _ = Describe("VIP and Conn", func() {
	It("creates the requested number of idle connection slots", func() {
		mgr := &fakeManager{}
		v := endpoint.New("10.0.0.1:443", mgr, 4)
		Expect(v.Connections()).To(HaveLen(4))
		Expect(v.RefCount()).To(Equal(4))
	})

	It("retires a connection past the per-connection request cap and removes it from the VIP", func() {
		mgr := &fakeManager{}
		v := endpoint.New("10.0.0.1:443", mgr, 1)
		c := v.Connections()[0]

		_, err := c.Acquire(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(c.Finalize(1)).To(BeFalse())

		_, err = c.Acquire(context.Background())
		Expect(err).ToNot(HaveOccurred())

		retired := c.Finalize(1)
		Expect(retired).To(BeTrue())
		Expect(v.Connections()).To(BeEmpty())
		Expect(v.RefCount()).To(Equal(0))
	})

	It("returns a connection to idle under the cap", func() {
		mgr := &fakeManager{}
		v := endpoint.New("10.0.0.1:443", mgr, 1)
		c := v.Connections()[0]

		_, _ = c.Acquire(context.Background())
		retired := c.Finalize(5)

		Expect(retired).To(BeFalse())
		Expect(c.State()).To(Equal(endpoint.StateIdle))
		Expect(v.Connections()).To(HaveLen(1))
	})

	It("marks a VIP inactive without destroying its connections immediately", func() {
		mgr := &fakeManager{}
		v := endpoint.New("10.0.0.1:443", mgr, 2)
		v.Deactivate()
		Expect(v.Active()).To(BeFalse())
		Expect(v.Connections()).To(HaveLen(2))
	})
})
