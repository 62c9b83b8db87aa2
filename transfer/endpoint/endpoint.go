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

// Package endpoint models one resolved Virtual IP (VIP) for the S3
// service endpoint and the pool of reusable HTTP connections ("VIP
// connections") opened against it, per spec.md §3/§4.1. A VIP owns a
// ConnectionManager, the consumed abstraction from spec.md §6 that
// performs the actual async acquire/release of a transport channel.
package endpoint

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"
)

// Channel is one live HTTP transport channel handed out by a
// ConnectionManager. It is opaque to the work loop beyond RoundTrip.
type Channel interface {
	RoundTrip(req *http.Request) (*http.Response, error)
}

// ConnectionManager is the consumed abstraction from spec.md §6:
// asynchronous acquire/release, enforcing its own per-VIP concurrency.
type ConnectionManager interface {
	Acquire(ctx context.Context) (Channel, error)
	Release(ch Channel, retire bool)
}

// State mirrors the VIP-Connection lifecycle in spec.md §3.
type State uint8

const (
	StateIdle State = iota
	StateAcquiringHTTP
	StateSigning
	StateInFlight
	StateRetryWaiting
	StateRetired
)

// Conn is one reusable HTTP connection slot bound to a VIP.
type Conn struct {
	mtx sync.Mutex

	vip          *VIP
	state        State
	requestCount int
	channel      Channel
}

// NewConn creates an idle connection slot owned by vip. VIPs create
// exactly g_num_connections_per_vip of these on arrival (spec.md §4.1).
func NewConn(vip *VIP) *Conn {
	return &Conn{vip: vip, state: StateIdle}
}

func (c *Conn) State() State {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.state = s
}

// RequestCount returns how many requests have completed on this slot
// since it was last (re)created, used for the soft per-connection recycle
// cap in spec.md §4.2 step 6.
func (c *Conn) RequestCount() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.requestCount
}

func (c *Conn) bumpRequestCount() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.requestCount++
	return c.requestCount
}

// VIP returns the owning VIP.
func (c *Conn) VIP() *VIP {
	return c.vip
}

// Acquire asks the owning VIP's connection manager for a live channel,
// transitioning through acquiring-http. On failure the caller classifies
// this as a transport error (retryable, spec.md §4.2 step 1).
func (c *Conn) Acquire(ctx context.Context) (Channel, error) {
	c.setState(StateAcquiringHTTP)

	ch, err := c.vip.manager.Acquire(ctx)
	if err != nil {
		c.setState(StateIdle)
		return nil, err
	}

	c.mtx.Lock()
	c.channel = ch
	c.state = StateInFlight
	c.mtx.Unlock()

	return ch, nil
}

// ReleaseChannel releases the currently bound channel back to the
// owning VIP's connection manager without retiring the connection slot
// itself — used between retry attempts bound to the same
// VIP-connection (spec.md §4.2 step 4's "on grant ... re-enter step 1").
func (c *Conn) ReleaseChannel(retire bool) {
	c.mtx.Lock()
	ch := c.channel
	c.channel = nil
	c.state = StateIdle
	c.mtx.Unlock()

	if ch != nil {
		c.vip.manager.Release(ch, retire)
	}
}

// Finalize returns the connection to idle, bumping its request count; if
// the count exceeds maxRequestsPerConn it is retired instead and its slot
// is not replaced on the VIP (spec.md §4.2 step 6, §3 VIP-Connection).
func (c *Conn) Finalize(maxRequestsPerConn int) (retired bool) {
	n := c.bumpRequestCount()

	c.mtx.Lock()
	ch := c.channel
	c.channel = nil
	c.mtx.Unlock()

	if maxRequestsPerConn > 0 && n > maxRequestsPerConn {
		c.setState(StateRetired)
		if ch != nil {
			c.vip.manager.Release(ch, true)
		}
		c.vip.forgetConn(c)
		return true
	}

	c.setState(StateIdle)
	if ch != nil {
		c.vip.manager.Release(ch, false)
	}
	return false
}

// VIP is one resolved IP address for the bucket endpoint, owning a
// ConnectionManager and a fixed-size pool of connection slots.
type VIP struct {
	mtx sync.RWMutex

	addr    string
	manager ConnectionManager
	conns   []*Conn
	active  bool

	refInt int // internal ref count: connection slots still held
}

// New creates a VIP bound to addr with n freshly idle connection slots,
// mirroring spec.md §4.1's "for each new VIP create
// g_num_connections_per_vip VIP-connections" step.
func New(addr string, mgr ConnectionManager, n int) *VIP {
	v := &VIP{addr: addr, manager: mgr, active: true}
	v.conns = make([]*Conn, 0, n)
	for i := 0; i < n; i++ {
		c := NewConn(v)
		v.conns = append(v.conns, c)
	}
	v.refInt = len(v.conns)
	return v
}

// Addr returns the VIP's resolved address.
func (v *VIP) Addr() string {
	v.mtx.RLock()
	defer v.mtx.RUnlock()
	return v.addr
}

// Active reports whether this VIP is still serving requests.
func (v *VIP) Active() bool {
	v.mtx.RLock()
	defer v.mtx.RUnlock()
	return v.active
}

// Connections returns a snapshot of this VIP's connection slots.
func (v *VIP) Connections() []*Conn {
	v.mtx.RLock()
	defer v.mtx.RUnlock()
	out := make([]*Conn, len(v.conns))
	copy(out, v.conns)
	return out
}

// Deactivate marks this VIP inactive on removal from the host listener;
// existing connections finish their in-flight work but are not reused.
func (v *VIP) Deactivate() {
	v.mtx.Lock()
	defer v.mtx.Unlock()
	v.active = false
}

func (v *VIP) forgetConn(c *Conn) {
	v.mtx.Lock()
	defer v.mtx.Unlock()
	for i, e := range v.conns {
		if e == c {
			v.conns = append(v.conns[:i], v.conns[i+1:]...)
			break
		}
	}
	v.refInt--
}

// RefCount returns the VIP's internal reference count — the number of
// connection slots it still holds. Only a slot retired by Finalize
// lowers it; nothing tears the VIP down when it reaches zero.
func (v *VIP) RefCount() int {
	v.mtx.RLock()
	defer v.mtx.RUnlock()
	return v.refInt
}

// defaultConnManager is the production ConnectionManager backed by a
// pooled *http.Transport dialing addr directly, grounded on the
// teacher's httpcli/dns-mapper transport-construction idiom (custom
// DialContext, MaxConnsPerHost, TLS config injection).
type defaultConnManager struct {
	mtx       sync.Mutex
	addr      string
	transport *http.Transport
	tlsConfig *tls.Config
	maxConns  int
	inFlight  int
}

// NewDefaultConnManager builds the production ConnectionManager for one
// VIP address, dialing addr directly instead of resolving hostname again
// (DNS resolution already happened in the host-listener).
func NewDefaultConnManager(addr string, tlsConfig *tls.Config, maxConnsPerVIP int) ConnectionManager {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 15 * time.Second}

	t := &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		TLSClientConfig:     tlsConfig,
		MaxConnsPerHost:     maxConnsPerVIP,
		MaxIdleConnsPerHost: maxConnsPerVIP,
		IdleConnTimeout:     90 * time.Second,
	}

	return &defaultConnManager{addr: addr, transport: t, tlsConfig: tlsConfig, maxConns: maxConnsPerVIP}
}

func (d *defaultConnManager) Acquire(ctx context.Context) (Channel, error) {
	d.mtx.Lock()
	if d.maxConns > 0 && d.inFlight >= d.maxConns {
		d.mtx.Unlock()
		return nil, errConnManagerSaturated
	}
	d.inFlight++
	d.mtx.Unlock()

	return roundTripperChannel{rt: d.transport}, nil
}

func (d *defaultConnManager) Release(_ Channel, retire bool) {
	d.mtx.Lock()
	if d.inFlight > 0 {
		d.inFlight--
	}
	d.mtx.Unlock()

	if retire {
		d.transport.CloseIdleConnections()
	}
}

// Close releases idle transport connections. It is not part of
// ConnectionManager, and neither this package nor the client calls it.
func (d *defaultConnManager) Close() {
	d.transport.CloseIdleConnections()
}

type roundTripperChannel struct {
	rt http.RoundTripper
}

func (r roundTripperChannel) RoundTrip(req *http.Request) (*http.Response, error) {
	return r.rt.RoundTrip(req)
}
