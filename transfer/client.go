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

// Package transfer is the top-level client: it owns the VIP/connection
// pool, the single-threaded work loop that schedules bound HTTP
// exchanges across every active meta-request (spec.md §4.1), and the
// per-request acquire/sign/send/retry/deliver pipeline (spec.md §4.2).
package transfer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	liblog "github.com/nabbar/golib/logger"

	"github.com/sabouaram/s3xfer/transfer/endpoint"
	"github.com/sabouaram/s3xfer/transfer/hostlistener"
	"github.com/sabouaram/s3xfer/transfer/metarequest"
	"github.com/sabouaram/s3xfer/transfer/metarequest/get"
	"github.com/sabouaram/s3xfer/transfer/metarequest/passthrough"
	"github.com/sabouaram/s3xfer/transfer/metarequest/put"
	"github.com/sabouaram/s3xfer/transfer/metrics"
	"github.com/sabouaram/s3xfer/transfer/request"
	"github.com/sabouaram/s3xfer/transfer/retry"
	"github.com/sabouaram/s3xfer/transfer/signing"
)

// trackedMeta pairs a scheduled meta-request with the label its
// outcomes get reported under (metrics, logging).
type trackedMeta struct {
	mr   metarequest.MetaRequest
	kind string
}

// Handle is the caller-facing handle to one submitted meta-request: it
// exposes only cancellation and completion polling, not the scheduling
// surface the work loop drives (NextRequest/OnRequestFinished).
type Handle struct {
	mr metarequest.MetaRequest
}

// Cancel stops future part preparation on this meta-request; work
// already in flight is allowed to finish (spec.md §4.3).
func (h Handle) Cancel(err error) {
	if h.mr != nil {
		h.mr.Cancel(err)
	}
}

// Finished reports whether the meta-request's finish callback has
// already fired.
func (h Handle) Finished() bool {
	return h.mr != nil && h.mr.Finished()
}

// Client is one bucket-endpoint transfer orchestrator: a VIP pool sized
// off a throughput target, a single work-loop goroutine that binds idle
// connections to meta-requests round-robin, and per-request pipelines
// that acquire/sign/send/retry/deliver independently.
//
// Fields below split the same way spec.md §3/§4.1 describes: a synced
// partition guarded by mtx (drained once per loop iteration) and a
// threaded partition touched only by the work-loop goroutine. Counters
// shared with pipeline goroutines (inFlight, pendingReqCount, extRef)
// are plain int64s mutated with sync/atomic instead of a second mutex,
// since they are simple counters rather than compound state.
type Client struct {
	cfg    Config
	logger liblog.FuncLog

	sign  *signing.Cache
	rty   retry.Strategy
	hostL hostlistener.Listener
	mtr   *metrics.Collectors

	ctx    context.Context
	cancel context.CancelFunc

	wake       chan struct{}
	stopped    chan struct{}
	shutdownCh chan struct{}
	shutOnce   sync.Once

	extRef          int64 // atomic: external handles (Acquire/Release)
	inFlight        int64 // atomic: requests currently bound to a connection
	pendingReqCount int64 // atomic: soft backpressure cap (spec.md §4.1)

	// synced partition
	mtx          sync.Mutex
	active       bool
	vipByAddr    map[string]*endpoint.VIP
	pendingConns []*endpoint.Conn
	pendingMeta  []trackedMeta

	// threaded partition — touched only from workLoop's goroutine
	idle       []*endpoint.Conn
	activeMeta []trackedMeta
	cursor     int
}

// New validates cfg, builds every collaborator spec.md §6 describes
// (falling back to the package defaults where cfg leaves one nil),
// starts the host listener, and launches the work loop. The returned
// Client holds one external reference; call Release when done with it.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if verr := cfg.Validate(); verr != nil {
		return nil, verr
	}

	strategy := cfg.RetryStrategy
	if strategy == nil {
		strategy = retry.NewExponential(retry.DefaultExponentialConfig())
	}

	listener := cfg.HostListener
	if listener == nil {
		listener = hostlistener.NewDNSPoll(30 * time.Second)
	}

	signCfg := signing.Config{
		Region:           cfg.Region,
		Service:          "s3",
		SignedBodyHeader: cfg.SignedBodyHeader,
		SignedBodyValue:  cfg.SignedBodyValue,
		Credentials:      cfg.Credentials,
		Provider:         cfg.CredentialsProvider,
	}

	cctx, cancel := context.WithCancel(ctx)

	c := &Client{
		cfg:        cfg,
		logger:     cfg.Logger,
		sign:       signing.New(signCfg),
		rty:        strategy,
		hostL:      listener,
		mtr:        cfg.Metrics,
		ctx:        cctx,
		cancel:     cancel,
		wake:       make(chan struct{}, 1),
		stopped:    make(chan struct{}),
		shutdownCh: make(chan struct{}),
		active:     true,
		vipByAddr:  make(map[string]*endpoint.VIP),
	}
	atomic.StoreInt64(&c.extRef, 1)

	host := cfg.Endpoint
	if h, _, err := net.SplitHostPort(cfg.Endpoint); err == nil {
		host = h
	}

	if err := listener.Start(cctx, host, c.onVIPAdded, c.onVIPRemoved); err != nil {
		cancel()
		return nil, fmt.Errorf("starting host listener: %w", err)
	}

	go c.workLoop()

	return c, nil
}

// Acquire increments the external reference count; pair with Release.
func (c *Client) Acquire() {
	atomic.AddInt64(&c.extRef, 1)
}

// Release decrements the external reference count. Once it reaches
// zero the client stops accepting new meta-requests and begins
// draining: already-bound requests finish, meta-requests still waiting
// to yield their next part are cancelled with ErrorClientShutdown, and
// Config.OnShutdown fires once nothing is left outstanding.
func (c *Client) Release() {
	if atomic.AddInt64(&c.extRef, -1) > 0 {
		return
	}

	c.mtx.Lock()
	c.active = false
	c.mtx.Unlock()

	c.scheduleWork()
}

// WaitForShutdown blocks until the client has fully drained and torn
// down, or ctx is cancelled first.
func (c *Client) WaitForShutdown(ctx context.Context) error {
	select {
	case <-c.shutdownCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetOptions describes one auto-ranged GET (spec.md §4.4).
type GetOptions struct {
	Key        string
	PartSize   int64
	OnHeaders  func(http.Header)
	OnBody     func(partIndex int64, body []byte)
	OnProgress func(bytesTransferred, totalBytes int64)
	OnFinish   func(metarequest.FinishResult)
}

// GetObject submits an auto-ranged GET meta-request.
func (c *Client) GetObject(opts GetOptions) (Handle, error) {
	if opts.Key == "" {
		return Handle{}, ErrorMetaRequestParams.Error(nil)
	}

	partSize := opts.PartSize
	if partSize <= 0 {
		partSize = c.cfg.partSize()
	}
	if err := c.checkPartSize(partSize); err != nil {
		return Handle{}, err
	}

	g := get.New(get.Definition{Bucket: c.cfg.Bucket, Key: opts.Key, PartSize: partSize})
	g.OnHeaders = func(h map[string][]string) {
		if opts.OnHeaders != nil {
			opts.OnHeaders(http.Header(h))
		}
	}
	g.OnBody = opts.OnBody
	g.OnProgress = opts.OnProgress
	g.OnFinish = func(res metarequest.FinishResult) {
		c.onMetaRequestFinished("get", res.Err == nil)
		if opts.OnFinish != nil {
			opts.OnFinish(res)
		}
	}

	if err := c.enqueueMetaRequest(trackedMeta{mr: g, kind: "get"}); err != nil {
		return Handle{}, err
	}
	return Handle{mr: g}, nil
}

// PutOptions describes one auto-ranged, streamed multipart PUT
// (spec.md §4.5). Source is read strictly sequentially; the caller
// must not read it concurrently.
type PutOptions struct {
	Key        string
	PartSize   int64
	Source     io.Reader
	OnProgress func(bytesTransferred, totalBytes int64)
	OnFinish   func(metarequest.FinishResult)
}

// PutObject submits an auto-ranged multipart-upload meta-request.
func (c *Client) PutObject(opts PutOptions) (Handle, error) {
	if opts.Key == "" || opts.Source == nil {
		return Handle{}, ErrorMetaRequestParams.Error(nil)
	}

	partSize := opts.PartSize
	if partSize <= 0 {
		partSize = c.cfg.partSize()
	}
	if err := c.checkPartSize(partSize); err != nil {
		return Handle{}, err
	}

	p := put.New(put.Definition{Bucket: c.cfg.Bucket, Key: opts.Key, PartSize: partSize, Source: opts.Source})
	p.OnProgress = opts.OnProgress
	p.OnFinish = func(res metarequest.FinishResult) {
		c.onMetaRequestFinished("put", res.Err == nil)
		if opts.OnFinish != nil {
			opts.OnFinish(res)
		}
	}

	if err := c.enqueueMetaRequest(trackedMeta{mr: p, kind: "put"}); err != nil {
		return Handle{}, err
	}
	return Handle{mr: p}, nil
}

// PassthroughOptions describes one default, unranged HTTP exchange
// (spec.md §4.6) — still signed, pooled, and retried like every other
// meta-request, just without part-splitting.
type PassthroughOptions struct {
	Method    string
	Path      string
	Query     map[string]string
	Headers   http.Header
	Body      []byte
	OnHeaders func(http.Header)
	OnBody    func(body []byte)
	OnFinish  func(metarequest.FinishResult)
}

// Do submits a single passthrough request.
func (c *Client) Do(opts PassthroughOptions) (Handle, error) {
	if opts.Method == "" || opts.Path == "" {
		return Handle{}, ErrorMetaRequestParams.Error(nil)
	}

	r := request.New(opts.Method, opts.Path)
	for k, v := range opts.Query {
		r.Query[k] = v
	}
	if opts.Headers != nil {
		request.CopyHeaders(r.Headers, opts.Headers)
	}
	r.Body = opts.Body

	pt := passthrough.New(r)
	pt.OnHeaders = func(h map[string][]string) {
		if opts.OnHeaders != nil {
			opts.OnHeaders(http.Header(h))
		}
	}
	pt.OnBody = func(_ int64, body []byte) {
		if opts.OnBody != nil {
			opts.OnBody(body)
		}
	}
	pt.OnFinish = func(res metarequest.FinishResult) {
		c.onMetaRequestFinished("passthrough", res.Err == nil)
		if opts.OnFinish != nil {
			opts.OnFinish(res)
		}
	}

	if err := c.enqueueMetaRequest(trackedMeta{mr: pt, kind: "passthrough"}); err != nil {
		return Handle{}, err
	}
	return Handle{mr: pt}, nil
}

func (c *Client) checkPartSize(n int64) error {
	if n <= 0 {
		return ErrorMetaRequestParams.Error(nil)
	}
	if c.cfg.MaxPartSize > 0 && n > c.cfg.MaxPartSize.Int64() {
		return ErrorMetaRequestParams.Error(nil)
	}
	return nil
}

func (c *Client) enqueueMetaRequest(tm trackedMeta) error {
	c.mtx.Lock()
	if !c.active {
		c.mtx.Unlock()
		return ErrorClientShutdown.Error(nil)
	}
	c.pendingMeta = append(c.pendingMeta, tm)
	c.mtx.Unlock()

	c.scheduleWork()
	return nil
}

func (c *Client) scheduleWork() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// onVIPAdded is the HostListener callback: it creates a VIP (and its
// g_num_connections_per_vip connection slots) only while the pool is
// below idealVIPCount and the address isn't already known (spec.md
// §4.1 "on host-listener callback").
func (c *Client) onVIPAdded(ip string) {
	c.mtx.Lock()
	if !c.active {
		c.mtx.Unlock()
		return
	}
	if _, ok := c.vipByAddr[ip]; ok {
		c.mtx.Unlock()
		return
	}
	if len(c.vipByAddr) >= c.cfg.idealVIPCount() {
		c.mtx.Unlock()
		return
	}

	addr := c.vipAddr(ip)
	vip := endpoint.New(addr, c.newConnManager(addr), c.cfg.numConnectionsPerVIP())
	c.vipByAddr[ip] = vip
	c.pendingConns = append(c.pendingConns, vip.Connections()...)
	n := len(c.vipByAddr)
	c.mtx.Unlock()

	if c.mtr != nil {
		c.mtr.SetVIPCount(n)
	}
	c.logDebug("vip added", "addr", addr)
	c.scheduleWork()
}

// onVIPRemoved deactivates a VIP whose address the host listener no
// longer resolves; in-flight connections on it finish but are not
// reused.
func (c *Client) onVIPRemoved(ip string) {
	c.mtx.Lock()
	vip, ok := c.vipByAddr[ip]
	if ok {
		delete(c.vipByAddr, ip)
	}
	n := len(c.vipByAddr)
	c.mtx.Unlock()

	if !ok {
		return
	}
	vip.Deactivate()
	if c.mtr != nil {
		c.mtr.SetVIPCount(n)
	}
	c.logDebug("vip removed", "addr", vip.Addr())
}

func (c *Client) vipAddr(ip string) string {
	if _, port, err := net.SplitHostPort(c.cfg.Endpoint); err == nil {
		return net.JoinHostPort(ip, port)
	}
	return ip
}

// newConnManager honors Config.HTTPClientFactory when set (wrapping its
// Transport in a small saturating ConnectionManager), falling back to
// the package's own dial-direct default otherwise.
func (c *Client) newConnManager(addr string) endpoint.ConnectionManager {
	if c.cfg.HTTPClientFactory != nil {
		if cl := c.cfg.HTTPClientFactory(c.cfg.TLSConfig); cl != nil {
			rt := cl.Transport
			if rt == nil {
				rt = http.DefaultTransport
			}
			return &factoryConnManager{rt: rt, maxConns: c.cfg.numConnectionsPerVIP()}
		}
	}

	var tlsCfg *tls.Config
	switch {
	case c.cfg.TLSConfig != nil:
		tlsCfg = c.cfg.TLSConfig.New().TlsConfig(c.cfg.Region)
	case c.cfg.UseTLS:
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return endpoint.NewDefaultConnManager(addr, tlsCfg, c.cfg.numConnectionsPerVIP())
}

// factoryConnManager wraps a caller-supplied http.RoundTripper (from
// Config.HTTPClientFactory) in the same saturating-acquire discipline
// as the package default connection manager.
type factoryConnManager struct {
	mtx      sync.Mutex
	rt       http.RoundTripper
	maxConns int
	inFlight int
}

func (m *factoryConnManager) Acquire(_ context.Context) (endpoint.Channel, error) {
	m.mtx.Lock()
	if m.maxConns > 0 && m.inFlight >= m.maxConns {
		m.mtx.Unlock()
		return nil, fmt.Errorf("connection manager saturated")
	}
	m.inFlight++
	m.mtx.Unlock()
	return factoryChannel{rt: m.rt}, nil
}

func (m *factoryConnManager) Release(_ endpoint.Channel, _ bool) {
	m.mtx.Lock()
	if m.inFlight > 0 {
		m.inFlight--
	}
	m.mtx.Unlock()
}

type factoryChannel struct {
	rt http.RoundTripper
}

func (f factoryChannel) RoundTrip(req *http.Request) (*http.Response, error) {
	return f.rt.RoundTrip(req)
}

// workLoop is the single scheduling goroutine (spec.md §4.1). It wakes
// on every new submission, completed request, or VIP change, and
// otherwise sits idle — there is no polling.
func (c *Client) workLoop() {
	defer close(c.stopped)
	for {
		select {
		case <-c.wake:
			c.processWork()
		case <-c.ctx.Done():
			c.processWork()
			return
		}
	}
}

// processWork implements spec.md §4.1's six scheduling steps: drain
// pending updates, cancel everything if inactive, admit as much work as
// caps allow, prune finished meta-requests, and finalize shutdown once
// nothing is left outstanding.
func (c *Client) processWork() {
	c.mtx.Lock()
	newConns := c.pendingConns
	c.pendingConns = nil
	newMeta := c.pendingMeta
	c.pendingMeta = nil
	active := c.active
	c.mtx.Unlock()

	c.idle = append(c.idle, newConns...)
	c.activeMeta = append(c.activeMeta, newMeta...)

	if !active {
		for _, tm := range c.activeMeta {
			tm.mr.Cancel(ErrorClientShutdown.Error(nil))
		}
	}
	// Still polled while inactive so cancelled meta-requests can reach
	// their finish (or, for PUT, issue the abort-mpu request).
	c.admitWork()

	kept := c.activeMeta[:0]
	for _, tm := range c.activeMeta {
		if tm.mr.Finished() {
			continue
		}
		kept = append(kept, tm)
	}
	c.activeMeta = kept

	if c.mtr != nil {
		c.mtr.SetRequestsInFlight(int(atomic.LoadInt64(&c.inFlight)))
	}

	if !active && len(c.activeMeta) == 0 && atomic.LoadInt64(&c.inFlight) == 0 {
		c.finalizeShutdown()
	}
}

// admitWork binds idle connections to meta-requests round-robin while
// idle connections exist, the in-flight cap allows it, and the soft
// pending-request cap (backpressure, independent of connection count)
// hasn't been reached.
func (c *Client) admitWork() {
	maxInFlight := int64(c.cfg.maxRequestsInFlight())
	softCap := int64(c.cfg.pendingRequestSoftCap())

	for len(c.idle) > 0 && atomic.LoadInt64(&c.inFlight) < maxInFlight {
		if !c.idle[0].VIP().Active() {
			c.idle = c.idle[1:]
			continue
		}
		if atomic.LoadInt64(&c.pendingReqCount) >= softCap {
			break
		}

		tm, req, ok := c.nextYield()
		if !ok {
			break
		}

		conn := c.idle[0]
		c.idle = c.idle[1:]
		atomic.AddInt64(&c.inFlight, 1)
		atomic.AddInt64(&c.pendingReqCount, 1)

		go c.runPipeline(conn, tm, req)
	}
}

// nextYield advances the round-robin cursor over activeMeta and returns
// the first one ready to yield a request, leaving every meta-request
// still waiting untouched (spec.md §4.1 "round-robin fairness").
func (c *Client) nextYield() (trackedMeta, *request.Request, bool) {
	n := len(c.activeMeta)
	for i := 0; i < n; i++ {
		idx := (c.cursor + i) % n
		y, req := c.activeMeta[idx].mr.NextRequest()
		if y == metarequest.YieldReady {
			c.cursor = (idx + 1) % n
			return c.activeMeta[idx], req, true
		}
	}
	return trackedMeta{}, nil, false
}

// finalizeShutdown stops the host listener, deactivates every VIP,
// cancels the client's context, and fires Config.OnShutdown exactly
// once — the moment the dual-refcount model in spec.md §3/§4.1
// considers the client fully torn down.
func (c *Client) finalizeShutdown() {
	c.shutOnce.Do(func() {
		_ = c.hostL.Stop()
		for _, v := range c.vipByAddr {
			v.Deactivate()
		}
		c.cancel()
		if c.cfg.OnShutdown != nil {
			c.cfg.OnShutdown()
		}
		c.logInfo("client shutdown complete")
		close(c.shutdownCh)
	})
}

// runPipeline implements the per-request pipeline (spec.md §4.2):
// acquire, sign, send, classify, retry-or-finish, deliver. conn is held
// for the full retry sequence — a retry re-enters acquire on the same
// VIP-connection slot rather than returning it to the scheduler, per
// step 4's "re-enter step 1".
func (c *Client) runPipeline(conn *endpoint.Conn, tm trackedMeta, req *request.Request) {
	defer c.finishPipeline(conn)

	tok, _ := c.rty.AcquireToken(c.ctx, fmt.Sprintf("%p", tm.mr))
	defer c.rty.ReleaseToken(tok)

	for {
		req.BumpAttempt()

		ch, err := conn.Acquire(c.ctx)
		if err != nil {
			if c.scheduleRetry(tok, request.ClassTransport) {
				continue
			}
			c.terminate(tm, req, request.ClassTransport, err)
			return
		}

		httpReq, payloadHash, err := c.buildHTTPRequest(req)
		if err != nil {
			conn.ReleaseChannel(false)
			c.terminate(tm, req, request.ClassInternal, err)
			return
		}

		if err := c.sign.Sign(c.ctx, httpReq, payloadHash); err != nil {
			conn.ReleaseChannel(true)
			if c.scheduleRetry(tok, request.ClassAuth) {
				continue
			}
			c.terminate(tm, req, request.ClassAuth, err)
			return
		}

		resp, err := ch.RoundTrip(httpReq)
		if err != nil {
			conn.ReleaseChannel(true)
			if c.scheduleRetry(tok, request.ClassTransport) {
				continue
			}
			c.terminate(tm, req, request.ClassTransport, err)
			return
		}

		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		req.SetResponse(resp.StatusCode, resp.Header, body)

		class := classifyStatus(resp.StatusCode)
		conn.ReleaseChannel(class == request.ClassServerTransient || class == request.ClassThrottling)

		if class != request.ClassNone {
			statusErr := fmt.Errorf("request failed with status %d", resp.StatusCode)
			if c.scheduleRetry(tok, class) {
				continue
			}
			c.terminate(tm, req, class, statusErr)
			return
		}

		c.rty.RecordSuccess(tok)
		req.Finish(request.ClassNone, nil)
		c.deliver(tm, req, request.ClassNone, nil)
		return
	}
}

func (c *Client) scheduleRetry(tok retry.Token, class request.Class) bool {
	if c.mtr != nil {
		c.mtr.ObserveRetry(class.String())
	}
	return c.rty.ScheduleRetry(c.ctx, tok, class) == nil
}

func (c *Client) terminate(tm trackedMeta, req *request.Request, class request.Class, err error) {
	req.Finish(class, err)
	c.logWarn("request failed", "kind", tm.kind, "class", class.String(), "err", err)
	c.deliver(tm, req, class, err)
}

func (c *Client) deliver(tm trackedMeta, req *request.Request, class request.Class, err error) {
	tm.mr.OnRequestFinished(metarequest.Outcome{Req: req, Class: class, Err: err})
	if c.mtr != nil && err == nil {
		n := int64(len(req.ResponseBody()))
		if req.PartNum > 0 {
			// MPU part: count the uploaded body, not the ETag-only response.
			n = int64(len(req.Body))
		}
		c.mtr.ObserveBytes(tm.kind, n)
	}
}

// finishPipeline returns the connection slot to the scheduler (unless
// it was retired under the per-connection recycle cap or its VIP has
// been deactivated), decrements the
// in-flight/pending counters, and wakes the work loop — spec.md §4.2
// step 6.
func (c *Client) finishPipeline(conn *endpoint.Conn) {
	retired := conn.Finalize(c.cfg.maxRequestsPerConnection())
	atomic.AddInt64(&c.pendingReqCount, -1)

	if !retired && conn.VIP().Active() {
		c.mtx.Lock()
		c.pendingConns = append(c.pendingConns, conn)
		c.mtx.Unlock()
	}

	atomic.AddInt64(&c.inFlight, -1)
	c.scheduleWork()
}

// buildHTTPRequest renders req against the bucket/endpoint, computing
// the SigV4 payload hash from the body unless the caller already fixed
// one via Config.SignedBodyValue (spec.md §4.7).
func (c *Client) buildHTTPRequest(req *request.Request) (*http.Request, string, error) {
	scheme := "http"
	if c.cfg.UseTLS {
		scheme = "https"
	}

	u := &url.URL{
		Scheme: scheme,
		Host:   c.cfg.Endpoint,
		Path:   "/" + c.cfg.Bucket + req.Path,
	}
	if len(req.Query) > 0 {
		q := url.Values{}
		for k, v := range req.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(c.ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, "", err
	}
	request.CopyHeaders(httpReq.Header, req.Headers)

	payloadHash := c.cfg.SignedBodyValue
	if payloadHash == "" {
		sum := sha256.Sum256(req.Body)
		payloadHash = hex.EncodeToString(sum[:])
	}

	return httpReq, payloadHash, nil
}

// classifyStatus maps an HTTP status to a retry/propagation Class per
// spec.md §7.
func classifyStatus(status int) request.Class {
	switch {
	case status >= 200 && status < 300:
		return request.ClassNone
	case status == http.StatusTooManyRequests, status == 503:
		return request.ClassThrottling
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return request.ClassAuth
	case status == http.StatusRequestTimeout:
		return request.ClassServerTransient
	case status == http.StatusNotImplemented:
		return request.ClassServerPermanent
	case status >= 500:
		return request.ClassServerTransient
	case status >= 400:
		return request.ClassServerPermanent
	default:
		return request.ClassServerPermanent
	}
}

func (c *Client) onMetaRequestFinished(kind string, ok bool) {
	if c.mtr != nil {
		c.mtr.ObserveMetaRequestFinished(kind, ok)
	}
	c.logInfo("meta-request finished", "kind", kind, "ok", ok)
}

func (c *Client) logDebug(msg string, kv ...interface{}) {
	if c.logger == nil {
		return
	}
	if l := c.logger(); l != nil {
		l.Debug(msg, nil, kv...)
	}
}

func (c *Client) logInfo(msg string, kv ...interface{}) {
	if c.logger == nil {
		return
	}
	if l := c.logger(); l != nil {
		l.Info(msg, nil, kv...)
	}
}

func (c *Client) logWarn(msg string, kv ...interface{}) {
	if c.logger == nil {
		return
	}
	if l := c.logger(); l != nil {
		l.Error(msg, nil, kv...)
	}
}
