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

package transfer

import (
	"fmt"
	"math"
	"net/http"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	sdksv4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	libval "github.com/go-playground/validator/v10"
	libtls "github.com/nabbar/golib/certificates"
	liberr "github.com/nabbar/golib/errors"
	liblog "github.com/nabbar/golib/logger"
	libsiz "github.com/nabbar/golib/size"

	"github.com/sabouaram/s3xfer/transfer/hostlistener"
	"github.com/sabouaram/s3xfer/transfer/metrics"
	"github.com/sabouaram/s3xfer/transfer/retry"
)

// perVIPGbps is the compile-time constant spec.md §4.1's VIP pool
// sizing formula divides the throughput target by. 2.5 Gbps/VIP is the
// conservative modeled per-endpoint ceiling observed for S3 front-ends.
const perVIPGbps = 2.5

// defaultNumConnectionsPerVIP mirrors g_num_connections_per_vip.
const defaultNumConnectionsPerVIP = 10

// defaultMaxRequestsInFlight mirrors g_max_requests_in_flight.
const defaultMaxRequestsInFlight = 256

// defaultMaxRequestsPerConnection mirrors g_max_requests_per_connection,
// the soft per-connection recycle cap (spec.md §4.2 step 6).
const defaultMaxRequestsPerConnection = 100

// defaultPendingRequestSoftCap bounds pending_request_count independent
// of connection count (spec.md §4.1 "Cap & backpressure").
const defaultPendingRequestSoftCap = 1024

// Config describes one client's target bucket, endpoint, throughput
// goal, and every pluggable collaborator from spec.md §6. It is a
// plain validator-tagged struct, the same shape
// httpcli/dns-mapper/config.go uses for its own Config — no
// Viper/Cobra wrapper is added since transfer/ carries no CLI surface.
type Config struct {
	Bucket string `validate:"required"`
	Region string `validate:"required"`

	// Endpoint is the bucket's service host:port, resolved by the
	// HostListener into VIP addresses.
	Endpoint string `validate:"required"`
	UseTLS   bool

	PartSize    libsiz.Size `validate:"omitempty,gt=0"`
	MaxPartSize libsiz.Size `validate:"omitempty,gt=0"`

	// ThroughputTargetGbps drives VIP pool sizing (spec.md §4.1
	// "ideal_vip_count = ceil(throughput_target_gbps / per_vip_gbps)").
	ThroughputTargetGbps float64 `validate:"required,gt=0"`

	NumConnectionsPerVIP     int
	MaxRequestsInFlight      int
	MaxRequestsPerConnection int
	PendingRequestSoftCap    int

	TLSConfig *libtls.Config

	Credentials         sdkaws.Credentials
	CredentialsProvider sdkaws.CredentialsProvider
	SignedBodyHeader    sdksv4.SignedBodyHeaderType
	SignedBodyValue     string

	// HTTPClientFactory supplies the transport for every VIP connection
	// manager: only the returned client's Transport is used
	// (http.DefaultTransport when it is nil), requests go through it to
	// Endpoint rather than being dialed to the VIP address, and the
	// client's other settings are not applied. nil uses the package
	// default transport construction (transfer/endpoint.NewDefaultConnManager).
	HTTPClientFactory func(tlsConfig *libtls.Config) *http.Client

	// RetryStrategy overrides the default exponential backoff.
	RetryStrategy retry.Strategy

	// HostListener overrides the default poll-DNS implementation.
	HostListener hostlistener.Listener

	Metrics *metrics.Collectors
	Logger  liblog.FuncLog

	// OnShutdown fires once, after every active meta-request has drained
	// and the host listener and VIP pool have torn down (spec.md §4.1's
	// dual-refcount teardown).
	OnShutdown func()
}

// Validate checks Config against its struct-tag constraints, following
// httpcli/dns-mapper/config.go's go-playground/validator pattern.
func (c Config) Validate() liberr.Error {
	e := ErrorConfigInvalid.Error(nil)

	if err := libval.New().Struct(c); err != nil {
		if er, ok := err.(*libval.InvalidValidationError); ok {
			e.Add(er)
		}
		if ves, ok := err.(libval.ValidationErrors); ok {
			for _, ve := range ves {
				e.Add(fmt.Errorf("config field '%s' failed constraint '%s'", ve.Namespace(), ve.ActualTag()))
			}
		}
	}

	if !e.HasParent() {
		return nil
	}
	return e
}

// idealVIPCount implements spec.md §4.1's VIP pool sizing formula.
func (c Config) idealVIPCount() int {
	n := int(math.Ceil(c.ThroughputTargetGbps / perVIPGbps))
	if n < 1 {
		n = 1
	}
	return n
}

func (c Config) numConnectionsPerVIP() int {
	if c.NumConnectionsPerVIP > 0 {
		return c.NumConnectionsPerVIP
	}
	return defaultNumConnectionsPerVIP
}

func (c Config) maxRequestsInFlight() int {
	if c.MaxRequestsInFlight > 0 {
		return c.MaxRequestsInFlight
	}
	return defaultMaxRequestsInFlight
}

func (c Config) maxRequestsPerConnection() int {
	if c.MaxRequestsPerConnection > 0 {
		return c.MaxRequestsPerConnection
	}
	return defaultMaxRequestsPerConnection
}

func (c Config) pendingRequestSoftCap() int {
	if c.PendingRequestSoftCap > 0 {
		return c.PendingRequestSoftCap
	}
	return defaultPendingRequestSoftCap
}

func (c Config) partSize() int64 {
	if c.PartSize > 0 {
		return c.PartSize.Int64()
	}
	return 8 << 20
}
