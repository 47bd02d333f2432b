// Licensed to the Apache Software Foundation (ASF) under one or more
// contributor license agreements.  See the NOTICE file distributed with
// this work for additional information regarding copyright ownership.
// The ASF licenses this file to You under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance with
// the License.  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package exec

import "context"

// State is an opaque handle to a piece of keyed, windowed state. The core
// never interprets its contents; user code reads and writes through
// whatever concrete type the (out-of-scope) state channel implementation
// returns.
type State any

// StateAccessor is the remote state channel capability consumed by
// ProcessContext.State, per spec.md §6.
type StateAccessor interface {
	Get(stateID string, window Window) (State, error)
	Finalize() error
}

// SideInputAccessor is the side-input capability consumed by
// ProcessContext.SideInput, per spec.md §6.
type SideInputAccessor interface {
	Get(ctx context.Context, view string, window Window) (any, error)
}

// sideInputCacheEntry holds one cached (view, window) -> value lookup.
type sideInputCacheEntry struct {
	view   string
	window Window
	value  any
}

// sideInputCache is a window-keyed cache of side input reads, populated
// lazily the first time a window accesses a view (SPEC_FULL.md's "Side
// input access during process-element" supplemented feature). The
// splittable processing loop drops a window's entries once it moves past
// that window; window-observing ParDo calls and timer firings drop none,
// so their entries stay for the runner's lifetime. Window isn't required to be a
// comparable type (only Equals), so lookups are linear over the small set
// of views actually read in one window -- in practice a handful of
// entries at most.
type sideInputCache struct {
	entries []sideInputCacheEntry
}

func newSideInputCache() *sideInputCache {
	return &sideInputCache{}
}

func (c *sideInputCache) get(ctx context.Context, accessor SideInputAccessor, view string, window Window) (any, error) {
	if accessor == nil {
		return nil, errNoSideInputAccessor
	}
	for _, e := range c.entries {
		if e.view == view && e.window.Equals(window) {
			return e.value, nil
		}
	}
	v, err := accessor.Get(ctx, view, window)
	if err != nil {
		return nil, err
	}
	c.entries = append(c.entries, sideInputCacheEntry{view: view, window: window, value: v})
	return v, nil
}

// invalidateForWindow drops cached entries for a window that has finished
// being processed, bounding cache growth across a multi-window element.
func (c *sideInputCache) invalidateForWindow(window Window) {
	kept := c.entries[:0]
	for _, e := range c.entries {
		if !e.window.Equals(window) {
			kept = append(kept, e)
		}
	}
	c.entries = kept
}

type sideInputAccessorError struct{ msg string }

func (e sideInputAccessorError) Error() string { return e.msg }

var errNoSideInputAccessor = sideInputAccessorError{msg: "exec: no side input accessor configured for this transform"}
