// Copyright 2019 The PijulGit Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package proxy provides the trigger surface of the synchronizer: a
// coalescing gate that serializes sync runs, and the webhook receiver
// that feeds it.
package proxy

import "sync"

// A Gate serializes calls to a sync function. At most one run is in
// flight; triggers arriving during a run are coalesced into exactly
// one follow-up run.
type Gate struct {
	fn func()

	mu      sync.Mutex
	running bool
	dirty   bool
	idle    *sync.Cond
}

// NewGate returns a gate over fn.
func NewGate(fn func()) *Gate {
	g := &Gate{fn: fn}
	g.idle = sync.NewCond(&g.mu)
	return g
}

// Trigger requests a sync run and returns immediately. If a run is in
// flight, one more run happens after it completes, no matter how many
// triggers arrived in the meantime.
func (g *Gate) Trigger() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		g.dirty = true
		return
	}
	g.running = true
	go g.loop()
}

// Wait blocks until no run is in flight and no follow-up is pending.
func (g *Gate) Wait() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.running {
		g.idle.Wait()
	}
}

func (g *Gate) loop() {
	for {
		g.fn()
		g.mu.Lock()
		if !g.dirty {
			g.running = false
			g.idle.Broadcast()
			g.mu.Unlock()
			return
		}
		g.dirty = false
		g.mu.Unlock()
	}
}
