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

import (
	"sort"
	"sync"

	"github.com/svetakvsundhar/beam/sdks/v2/go/pkg/beam/core/graph/mtime"
	"golang.org/x/exp/maps"
)

// TimerBundleTracker buffers timer modifications (sets and clears) produced
// during a single bundle and flushes the final state on finish, per
// spec.md §2.4 and the BundleModifications entity in §3.
//
// The runner only reads or writes this type from the processing thread
// (§5: "shared mutable state"), so no internal locking is required for
// correctness against concurrent split/progress calls; the mutex makes
// every method safe to call from any goroutine regardless.
type TimerBundleTracker struct {
	mu      sync.Mutex
	entries map[TimerKey]TimerRecord
}

// NewTimerBundleTracker returns an empty tracker.
func NewTimerBundleTracker() *TimerBundleTracker {
	return &TimerBundleTracker{entries: map[TimerKey]TimerRecord{}}
}

// setTimer implements timerSettable: later sets overwrite earlier ones for
// the same (family, tag), per spec.md's invariant list.
func (b *TimerBundleTracker) setTimer(t TimerRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[t.key()] = t
	return nil
}

// Peek returns the current buffered record for key, if any.
func (b *TimerBundleTracker) Peek(key TimerKey) (TimerRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.entries[key]
	return t, ok
}

// DrainBefore returns, in ascending fire-ts order, all buffered (non-
// cleared) timers in time domain domain whose fire-ts is <= upTo,
// excluding excludeKey. Each returned timer is immediately overwritten in
// the tracker with a tombstone, per spec.md §4.3: "Before firing, insert a
// tombstone overwrite for that timer so that if the runner independently
// redelivers it, it is recognized as cleared."
func (b *TimerBundleTracker) DrainBefore(domain mtime.TimeDomain, upTo mtime.Time, excludeKey TimerKey) []TimerRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	var drained []TimerRecord
	for key, rec := range b.entries {
		if key == excludeKey || rec.Cleared || rec.Domain != domain {
			continue
		}
		if rec.FireTs <= upTo {
			drained = append(drained, rec)
		}
	}
	sort.Slice(drained, func(i, j int) bool { return drained[i].FireTs < drained[j].FireTs })
	for _, rec := range drained {
		b.entries[rec.key()] = TimerRecord{
			UserKey: rec.UserKey, Family: rec.Family, Tag: rec.Tag,
			Windows: rec.Windows, Domain: rec.Domain, Cleared: true,
		}
	}
	return drained
}

// IsSuperseded reports whether t has been overwritten within the bundle by
// a later modification with the same (family, tag) that differs from it
// (spec.md §4.3: "fire t itself, unless t was itself superseded").
func (b *TimerBundleTracker) IsSuperseded(t TimerRecord) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.entries[t.key()]
	if !ok {
		return false
	}
	return cur.Cleared != t.Cleared || cur.FireTs != t.FireTs
}

// Flush returns the final state of every (family, tag) modified during the
// bundle, in a deterministic order (ascending family id, then tag), for
// delivery to the outgoing timer sink. This is the authoritative "later
// sets overwrite earlier ones" view required by spec.md §3.
func (b *TimerBundleTracker) Flush() []TimerRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := maps.Keys(b.entries)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].FamilyOrID != keys[j].FamilyOrID {
			return keys[i].FamilyOrID < keys[j].FamilyOrID
		}
		return keys[i].Tag < keys[j].Tag
	})
	out := make([]TimerRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, b.entries[k])
	}
	b.entries = map[TimerKey]TimerRecord{}
	return out
}

// Len reports how many distinct (family, tag) keys are currently buffered.
func (b *TimerBundleTracker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
