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

// Package hostlistener is the consumed abstraction from spec.md §6: push
// notifications of added/removed IP addresses for the bucket endpoint.
// The default implementation polls DNS on a timer, the same
// ticker-driven background goroutine idiom as the teacher's
// httpcli/dns-mapper TimeCleaner.
package hostlistener

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"
)

// Listener is the consumed abstraction: Start begins pushing onAdd/onRemove
// callbacks as addresses appear/disappear; Stop ends delivery.
type Listener interface {
	Start(ctx context.Context, host string, onAdd func(ip string), onRemove func(ip string)) error
	Stop() error
}

// dnsPoll is the default Listener, resolving host on an interval via
// net.Resolver and diffing against the previously observed address set.
type dnsPoll struct {
	mtx      sync.Mutex
	resolver *net.Resolver
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	last     map[string]bool
}

// NewDNSPoll builds the default Listener. interval defaults to 30s, the
// same floor-on-small-values discipline TimeCleaner applies to its own
// cleanup ticker.
func NewDNSPoll(interval time.Duration) Listener {
	if interval < time.Second {
		interval = 30 * time.Second
	}
	return &dnsPoll{resolver: net.DefaultResolver, interval: interval, last: make(map[string]bool)}
}

func (d *dnsPoll) Start(ctx context.Context, host string, onAdd func(ip string), onRemove func(ip string)) error {
	ctx, cancel := context.WithCancel(ctx)

	d.mtx.Lock()
	d.cancel = cancel
	d.done = make(chan struct{})
	d.mtx.Unlock()

	if err := d.poll(ctx, host, onAdd, onRemove); err != nil {
		return err
	}

	go func() {
		defer close(d.done)

		tck := time.NewTicker(d.interval)
		defer tck.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-tck.C:
				_ = d.poll(ctx, host, onAdd, onRemove)
			}
		}
	}()

	return nil
}

func (d *dnsPoll) poll(ctx context.Context, host string, onAdd, onRemove func(ip string)) error {
	addrs, err := d.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return err
	}

	cur := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		cur[a.IP.String()] = true
	}

	d.mtx.Lock()
	prev := d.last
	d.last = cur
	d.mtx.Unlock()

	for _, ip := range sortedSlice(cur) {
		if !prev[ip] {
			onAdd(ip)
		}
	}
	for _, ip := range sortedSlice(prev) {
		if !cur[ip] {
			onRemove(ip)
		}
	}

	return nil
}

func sortedSlice(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (d *dnsPoll) Stop() error {
	d.mtx.Lock()
	cancel := d.cancel
	done := d.done
	d.mtx.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if done != nil {
		<-done
	}
	return nil
}
