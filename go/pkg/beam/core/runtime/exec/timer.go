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
	"fmt"
	"time"

	"github.com/svetakvsundhar/beam/sdks/v2/go/pkg/beam/core/graph/mtime"
)

// familyPrefix marks a timer id as belonging to a dynamic-tag timer family,
// as opposed to a single plain timer. Per spec.md §4.3, the distinction is
// by a known prefix on the name.
const familyPrefix = "tf:"

// TimerKey identifies one outstanding timer within a bundle's modification
// set: (family-or-plain-id, dynamic-tag). A plain timer always has an empty
// Tag.
type TimerKey struct {
	FamilyOrID string
	Tag        string
}

func (k TimerKey) isFamily() bool { return len(k.FamilyOrID) >= len(familyPrefix) && k.FamilyOrID[:len(familyPrefix)] == familyPrefix }

// TimerRecord is one timer set/clear/fire event, per spec.md §3.
type TimerRecord struct {
	UserKey   any // opaque, owned by the keyed transform
	Family    string
	Tag       string
	Windows   []Window
	FireTs    mtime.Time
	HoldTs    mtime.Time
	Pane      Pane
	Domain    mtime.TimeDomain
	Cleared   bool
}

func (t TimerRecord) key() TimerKey { return TimerKey{FamilyOrID: t.Family, Tag: t.Tag} }

// timerSettable is the write-side surface Timer/TimerFamily push records
// through; TimerBundleTracker implements it, and ProcessContext hands its
// runner's tracker to every handle it builds.
type timerSettable interface {
	setTimer(t TimerRecord) error
}

// Timer is the handle presented to user code for a single (family, tag)
// timer on the current key/window, per spec.md §4.4.
type Timer struct {
	sink   timerSettable
	family string
	tag    string
	domain mtime.TimeDomain

	// context captured at construction time: the firing/element that owns
	// this handle.
	userKey     any
	windows     []Window
	elementTs   mtime.Time // element timestamp (firing hold-ts when on-timer): event-time skew basis and SetRelative base
	firingHold  mtime.Time // element timestamp, or the firing timer's hold-ts when on-timer: processing-time hold default and skew basis
	pane        Pane
	allowedSkew time.Duration
	windowGC    func(Window) mtime.Time

	fireTs       mtime.Time
	fireSet      bool
	relativeBase mtime.Time
	period       time.Duration
	offset       time.Duration
	useAlign     bool

	hold      mtime.Time
	holdSet   bool
	noHold    bool
}

// newTimer constructs a Timer bound to the given sink and context. Not
// exported: built internally by ProcessContext.Timer and TimerFamily.Tag.
func newTimer(sink timerSettable, family, tag string, domain mtime.TimeDomain, userKey any, windows []Window, elementTs, firingHold mtime.Time, pane Pane, allowedSkew time.Duration, windowGC func(Window) mtime.Time) *Timer {
	return &Timer{
		sink: sink, family: family, tag: tag, domain: domain,
		userKey: userKey, windows: windows, elementTs: elementTs, firingHold: firingHold,
		pane: pane, allowedSkew: allowedSkew, windowGC: windowGC,
		relativeBase: elementTs,
	}
}

// Set schedules the timer to fire at the absolute event/processing
// timestamp ts.
func (t *Timer) Set(ts mtime.Time) *Timer {
	t.fireTs = ts
	t.fireSet = true
	return t
}

// SetRelative schedules the timer relative to the firing/element's
// timestamp, using Offset(o) and, if Align(period) was called, rounding up
// to the next period boundary.
func (t *Timer) SetRelative() *Timer {
	base := t.relativeBase
	target := base.Add(t.offset)
	if t.useAlign && t.period > 0 {
		target = alignUp(target, base, t.period)
	}
	return t.Set(target)
}

// Offset sets the relative offset used by SetRelative.
func (t *Timer) Offset(o time.Duration) *Timer {
	t.offset = o
	return t
}

// Align sets the period boundary SetRelative rounds up to.
func (t *Timer) Align(period time.Duration) *Timer {
	t.period = period
	t.useAlign = true
	return t
}

// WithOutputTimestamp sets the output hold timestamp explicitly.
func (t *Timer) WithOutputTimestamp(ts mtime.Time) *Timer {
	t.hold = ts
	t.holdSet = true
	t.noHold = false
	return t
}

// WithNoOutputTimestamp disables the hold, represented on the wire as
// mtime.NoOutputTimestampSentinel (TIMESTAMP_MAX+1ms).
func (t *Timer) WithNoOutputTimestamp() *Timer {
	t.noHold = true
	t.holdSet = false
	return t
}

func alignUp(ts, base mtime.Time, period time.Duration) mtime.Time {
	periodMs := period.Milliseconds()
	if periodMs <= 0 {
		return ts
	}
	ms := ts.Milliseconds()
	rem := ms % periodMs
	if rem == 0 {
		return ts
	}
	if rem < 0 {
		rem += periodMs
	}
	return mtime.FromMilliseconds(ms + (periodMs - rem))
}

func (t *Timer) defaultHold() mtime.Time {
	if t.domain == mtime.EventTime {
		return t.fireTs
	}
	return t.firingHold
}

// resolve validates and materializes a TimerRecord from the handle's
// accumulated state, per the validation rules in spec.md §4.4.
func (t *Timer) resolve() (TimerRecord, error) {
	if !t.fireSet {
		return TimerRecord{}, fmt.Errorf("timer %s/%s: Set or SetRelative must be called before the timer is committed", t.family, t.tag)
	}
	fireTs := t.fireTs

	gc := mtime.MaxTimestamp
	for _, w := range t.windows {
		if g := t.windowGC(w); g < gc {
			gc = g
		}
	}
	if t.domain == mtime.EventTime && fireTs > gc {
		return TimerRecord{}, fmt.Errorf("timer %s/%s: fire timestamp %v exceeds window garbage-collection time %v", t.family, t.tag, fireTs, gc)
	}

	var hold mtime.Time
	switch {
	case t.noHold:
		hold = mtime.NoOutputTimestampSentinel
	case t.holdSet:
		hold = t.hold
	default:
		hold = t.defaultHold()
	}

	if !t.noHold {
		// output-ts >= hold - allowedSkew, where hold basis is the
		// element/firing timestamp the timer was derived from.
		lowerBound := t.defaultHoldBasis().SubtractSkew(t.allowedSkew)
		if hold < lowerBound {
			return TimerRecord{}, fmt.Errorf("timer %s/%s: output timestamp %v is before hold %v minus allowed skew %v", t.family, t.tag, hold, t.defaultHoldBasis(), t.allowedSkew)
		}
		var upperBound mtime.Time
		if t.domain == mtime.EventTime {
			upperBound = fireTs
		} else {
			upperBound = gc
		}
		if hold > upperBound {
			return TimerRecord{}, fmt.Errorf("timer %s/%s: output timestamp %v exceeds upper bound %v", t.family, t.tag, hold, upperBound)
		}
	}

	return TimerRecord{
		UserKey: t.userKey,
		Family:  t.family,
		Tag:     t.tag,
		Windows: t.windows,
		FireTs:  fireTs,
		HoldTs:  hold,
		Pane:    t.pane,
		Domain:  t.domain,
	}, nil
}

func (t *Timer) defaultHoldBasis() mtime.Time {
	if t.domain == mtime.EventTime {
		return t.elementTs
	}
	return t.firingHold
}

// Commit validates and pushes the timer's current state to the bundle's
// modification tracker.
func (t *Timer) Commit() error {
	rec, err := t.resolve()
	if err != nil {
		return err
	}
	return t.sink.setTimer(rec)
}

// Clear produces a tombstone record for this (family, tag, windows),
// overwriting any prior set within the bundle.
func (t *Timer) Clear() error {
	return t.sink.setTimer(TimerRecord{
		UserKey: t.userKey,
		Family:  t.family,
		Tag:     t.tag,
		Windows: t.windows,
		Domain:  t.domain,
		Cleared: true,
	})
}

// TimerFamily is a factory for per-tag Timer handles sharing a family id
// and the firing/element context, per spec.md §4.4.
type TimerFamily struct {
	sink   timerSettable
	family string
	domain mtime.TimeDomain

	userKey     any
	windows     []Window
	elementTs   mtime.Time
	firingHold  mtime.Time
	pane        Pane
	allowedSkew time.Duration
	windowGC    func(Window) mtime.Time
}

func newTimerFamily(sink timerSettable, family string, domain mtime.TimeDomain, userKey any, windows []Window, elementTs, firingHold mtime.Time, pane Pane, allowedSkew time.Duration, windowGC func(Window) mtime.Time) *TimerFamily {
	return &TimerFamily{
		sink: sink, family: family, domain: domain,
		userKey: userKey, windows: windows, elementTs: elementTs, firingHold: firingHold,
		pane: pane, allowedSkew: allowedSkew, windowGC: windowGC,
	}
}

// Tag returns the Timer handle for the given dynamic tag within this
// family.
func (f *TimerFamily) Tag(tag string) *Timer {
	return newTimer(f.sink, f.family, tag, f.domain, f.userKey, f.windows, f.elementTs, f.firingHold, f.pane, f.allowedSkew, f.windowGC)
}
