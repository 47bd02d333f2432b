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
	"sync"
	"sync/atomic"
	"time"

	"github.com/svetakvsundhar/beam/sdks/v2/go/pkg/beam/core/graph/mtime"
)

// RestrictionTracker is the minimal interactive cursor over a restriction a
// user transform provides, per the GLOSSARY. Restriction and Position are
// both opaque to the core.
type RestrictionTracker interface {
	// TryClaim attempts to claim position. Returns false if position lies
	// outside the restriction's remaining range (processing of this
	// element should stop).
	TryClaim(position any) bool
	// CheckDone returns an error if the restriction was not fully claimed.
	CheckDone() error
	// TrySplit splits the restriction at fractionOfRemainder, returning the
	// (possibly identical) primary and a residual. ok is false if no split
	// occurred (e.g. too little remainder).
	TrySplit(fractionOfRemainder float64) (primary, residual any, ok bool)
	// GetRestriction returns the tracker's current (possibly already
	// partially claimed) restriction.
	GetRestriction() any
}

// HasProgress is an optional RestrictionTracker capability reporting
// fractional work completed/remaining, per spec.md §4.5 and §4.7.
type HasProgress interface {
	GetProgress() (completed, remaining float64)
}

// WatermarkEstimator reports a lower bound on output event-times for a
// splittable element's restriction, per the GLOSSARY.
type WatermarkEstimator interface {
	CurrentWatermark() mtime.Time
	ObserveTimestamp(ts mtime.Time)
	GetEstimatorState() any
}

// ThreadSafeWatermarkEstimator wraps a user-provided WatermarkEstimator so
// that GetWatermarkAndState returns an internally consistent
// (watermark, state) pair even when called off the processing thread by
// the concurrent split path, per spec.md §5 and §9.
type ThreadSafeWatermarkEstimator struct {
	mu   sync.Mutex
	impl WatermarkEstimator
}

// NewThreadSafeWatermarkEstimator wraps impl.
func NewThreadSafeWatermarkEstimator(impl WatermarkEstimator) *ThreadSafeWatermarkEstimator {
	return &ThreadSafeWatermarkEstimator{impl: impl}
}

// ObserveTimestamp forwards to the wrapped estimator under lock. Only
// called from the processing thread, but locked for symmetry with reads.
func (e *ThreadSafeWatermarkEstimator) ObserveTimestamp(ts mtime.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.impl.ObserveTimestamp(ts)
}

// GetWatermarkAndState returns a consistent snapshot of the estimator's
// current watermark and serializable state. Safe to call concurrently with
// ObserveTimestamp from the processing thread.
func (e *ThreadSafeWatermarkEstimator) GetWatermarkAndState() (mtime.Time, any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.impl.CurrentWatermark(), e.impl.GetEstimatorState()
}

// RestrictionTrackerAdapter wraps a user RestrictionTracker to observe
// TryClaim outcomes, exposing a single-writer/single-reader "was ever
// claimed" flag consumed by the checkpoint guard in §4.6.
type RestrictionTrackerAdapter struct {
	RestrictionTracker
	claimed atomic.Bool
}

// NewRestrictionTrackerAdapter wraps tracker.
func NewRestrictionTrackerAdapter(tracker RestrictionTracker) *RestrictionTrackerAdapter {
	return &RestrictionTrackerAdapter{RestrictionTracker: tracker}
}

// TryClaim wraps the underlying tracker's TryClaim, recording whether any
// call so far has ever succeeded. Written only by the processing thread;
// read by the split thread via WasClaimed.
func (a *RestrictionTrackerAdapter) TryClaim(position any) bool {
	ok := a.RestrictionTracker.TryClaim(position)
	if ok {
		a.claimed.Store(true)
	}
	return ok
}

// Underlying returns the wrapped tracker, for capability checks (HasProgress)
// that method promotion through the embedded interface can't see.
func (a *RestrictionTrackerAdapter) Underlying() RestrictionTracker {
	return a.RestrictionTracker
}

// WasClaimed reports whether TryClaim has ever succeeded on this adapter.
// Safe to call from the split thread while the processing thread calls
// TryClaim on the same adapter: the flag is an atomic.Bool.
func (a *RestrictionTrackerAdapter) WasClaimed() bool {
	return a.claimed.Load()
}

// ProcessContinuation is the result of a splittable process-element
// invocation, per spec.md §4.2.
type ProcessContinuation struct {
	ShouldResume bool
	ResumeDelay  time.Duration
}

// StopProcessing is the continuation returned by a process-element call
// that fully consumed the restriction.
var StopProcessing = ProcessContinuation{ShouldResume: false}

// ResumeAfter constructs a continuation requesting the splittable DoFn be
// resumed after delay via a checkpoint self-split.
func ResumeAfter(delay time.Duration) ProcessContinuation {
	return ProcessContinuation{ShouldResume: true, ResumeDelay: delay}
}

// TryCheckpoint attempts a self-checkpoint split at fraction 0 with the
// given resume delay, applying the requireClaim guard from spec.md §4.6:
// a checkpoint on a tracker that has never observed a successful claim
// always returns false (no residual), preventing a zero-work checkpoint
// from shipping the entire restriction back to the runner.
func TryCheckpoint(adapter *RestrictionTrackerAdapter, requireClaim bool) (primary, residual any, ok bool) {
	if requireClaim && !adapter.WasClaimed() {
		return nil, nil, false
	}
	return adapter.TrySplit(0)
}

// validateRestrictionXorSplitDelegate enforces the invariant from spec.md
// §3: "For a splittable element, exactly one of currentTracker or
// splitDelegate is present at any point."
func validateRestrictionXorSplitDelegate(tracker *RestrictionTrackerAdapter, delegate DownstreamSplitter) error {
	if (tracker != nil) == (delegate != nil) {
		return fmt.Errorf("exactly one of restriction tracker or downstream split delegate must be present, got tracker=%v delegate=%v", tracker != nil, delegate != nil)
	}
	return nil
}

// DownstreamSplitter is the cross-component split capability a
// SplittableElement delegates to when the splittable processing isn't
// fused with a primitive restriction tracker (e.g. a Reshuffle boundary).
// It reports numeric progress instead of a typed tracker.
type DownstreamSplitter interface {
	Progress() (completed, remaining float64)
	// Split attempts an element-level split at fractionOfRemainder,
	// returning ok=false if none occurred.
	Split(fractionOfRemainder float64) (ok bool)
}
