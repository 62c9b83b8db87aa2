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

package retry_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/s3xfer/transfer/request"
	"github.com/sabouaram/s3xfer/transfer/retry"
)

var _ = Describe("exponential Strategy", func() {
	It("refuses to schedule a retry for a non-retryable class", func() {
		s := retry.NewExponential(retry.ExponentialConfig{
			MinBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, MaxAttempts: 3,
		})
		tok, err := s.AcquireToken(context.Background(), "part-0")
		Expect(err).ToNot(HaveOccurred())

		err = s.ScheduleRetry(context.Background(), tok, request.ClassServerPermanent)
		Expect(err).To(HaveOccurred())
	})

	It("grants a retryable class within MaxAttempts", func() {
		s := retry.NewExponential(retry.ExponentialConfig{
			MinBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, MaxAttempts: 3,
		})
		tok, _ := s.AcquireToken(context.Background(), "part-0")

		err := s.ScheduleRetry(context.Background(), tok, request.ClassTransport)
		Expect(err).ToNot(HaveOccurred())
	})

	It("honors context cancellation while waiting on backoff", func() {
		s := retry.NewExponential(retry.ExponentialConfig{
			MinBackoff: time.Second, MaxBackoff: time.Second, MaxAttempts: 3,
		})
		tok, _ := s.AcquireToken(context.Background(), "part-0")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := s.ScheduleRetry(ctx, tok, request.ClassTransport)
		Expect(err).To(Equal(context.Canceled))
	})
})
