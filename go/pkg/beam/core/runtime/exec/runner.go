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
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/svetakvsundhar/beam/sdks/v2/go/pkg/beam/core/graph/coder"
	"github.com/svetakvsundhar/beam/sdks/v2/go/pkg/beam/core/graph/mtime"
)

// notProcessing is the sentinel both window cursors are reset to outside
// of live splittable processing, per spec.md §3's invariant.
const notProcessing = -1

// SplitListener is the capability a runner forwards split roots to
// mid-bundle, per spec.md §6.
type SplitListener interface {
	Split(primaryRoots []BundleApplication, residualRoots []DelayedBundleApplication) error
}

// ProgressSink is the per-bundle callback that fills a map of short-id to
// encoded progress, per spec.md §6.
type ProgressSink interface {
	Report(shortID string, encoded []byte)
}

// OutputConsumer receives a single output tag's WindowedValue stream, the
// "downstream consumer registry" from spec.md §6.
type OutputConsumer interface {
	Consume(WindowedValue) error
}

// RunnerConfig configures a TransformRunner for one user transform
// instance, supplied by the (out-of-scope) bundle orchestrator.
type RunnerConfig struct {
	TransformID string
	InputID     string
	Descriptor  UserFnDescriptor
	Invoker     UserFnInvoker

	Consumers map[string]OutputConsumer
	OutputIDs []string

	States     StateAccessor
	SideInputs SideInputAccessor

	SplitListener SplitListener
	ProgressSink  ProgressSink
	ProgressKeyID string

	WindowedValueCoder coder.WindowedValueCoder
	SizeFn             SizeFn

	AllowedLateness time.Duration
	AllowedSkew     time.Duration

	Logger *slog.Logger
}

// TransformRunner is the top-level orchestrator from spec.md §4.1: it
// drives one user transform instance over a bundle, wiring together
// timers, splits, progress, and process contexts. It exclusively owns
// user-fn state, the timer tracker, and the current element/window
// cursors (spec.md §3's ownership rule); ProcessContext only ever holds a
// borrowed back-reference.
type TransformRunner struct {
	cfg RunnerConfig
	ctx context.Context

	timers *TimerBundleTracker

	sideInputCache *sideInputCache
	sideInputs     SideInputAccessor
	states         StateAccessor

	allowedSkew     time.Duration
	allowedLateness time.Duration

	tornDown bool

	finalizers []func(context.Context) error

	// splitMu is the split lock from spec.md §5: it serializes
	// installation/teardown of per-window processing state against
	// concurrent getProgress/trySplit calls. It is never held while the
	// user's process-element, on-timer, or bundle lifecycle hooks run; it
	// is held while a window's restriction tracker and watermark estimator
	// are constructed, and while GetProgress/TrySplit query them.
	splitMu sync.Mutex

	windowCurrentIndex int
	windowStopIndex    int

	currentElement          any
	currentWindows          []Window
	currentTimestamp        mtime.Time
	currentPane             Pane
	currentOriginalRestr    any
	currentElementWmState   any
	currentTracker          *RestrictionTrackerAdapter
	currentDelegate         DownstreamSplitter
	currentWatermark        *ThreadSafeWatermarkEstimator
	currentInitialWatermark mtime.Time
}

// NewTransformRunner constructs a runner from cfg.
func NewTransformRunner(ctx context.Context, cfg RunnerConfig) *TransformRunner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TransformRunner{
		cfg:                cfg,
		ctx:                ctx,
		timers:             NewTimerBundleTracker(),
		sideInputCache:     newSideInputCache(),
		sideInputs:         cfg.SideInputs,
		states:             cfg.States,
		allowedSkew:        cfg.AllowedSkew,
		allowedLateness:    cfg.AllowedLateness,
		windowCurrentIndex: notProcessing,
		windowStopIndex:    notProcessing,
	}
}

func (r *TransformRunner) windowGC(w Window) mtime.Time {
	return mtime.GarbageCollectionTime(w.MaxTimestamp(), r.allowedLateness)
}

// StartBundle invokes the user start-bundle hook, with no element context.
func (r *TransformRunner) StartBundle() error {
	if !r.cfg.Descriptor.HasStartBundle {
		return nil
	}
	return wrapUserCode("StartBundle", func() error {
		return r.cfg.Invoker.InvokeStartBundle(procContextArgs{pc: &ProcessContext{role: RoleFinishBundle, cap: roleCapabilities[RoleFinishBundle], run: r, finalizers: &r.finalizers}})
	})
}

// ProcessElement dispatches wv to the non-window-observing, window-
// observing, or splittable strategy, per spec.md §4.1.
func (r *TransformRunner) ProcessElement(wv WindowedValue) error {
	if r.cfg.Descriptor.IsSplittable {
		return r.processSplittableElement(wv)
	}
	if r.cfg.Descriptor.IsWindowObserving {
		for _, w := range wv.Windows {
			pc := r.newElementContext(wv, w, true)
			if err := wrapUserCode("ProcessElement", func() error {
				return r.cfg.Invoker.InvokeProcessElement(procContextArgs{pc: pc})
			}); err != nil {
				return err
			}
		}
		return nil
	}
	pc := r.newElementContext(wv, nil, false)
	// emit falls back to currentWindows for a context with no single
	// window, so outputs inherit the element's windows.
	r.splitMu.Lock()
	r.currentWindows = wv.Windows
	r.splitMu.Unlock()
	err := wrapUserCode("ProcessElement", func() error {
		return r.cfg.Invoker.InvokeProcessElement(procContextArgs{pc: pc})
	})
	r.splitMu.Lock()
	r.currentWindows = nil
	r.splitMu.Unlock()
	return err
}

func (r *TransformRunner) newElementContext(wv WindowedValue, window Window, windowObserving bool) *ProcessContext {
	return &ProcessContext{
		role:            RoleElement,
		cap:             roleCapabilities[RoleElement],
		run:             r,
		keyed:           r.cfg.Descriptor.IsKeyed,
		element:         wv.Value,
		timestamp:       wv.Timestamp,
		window:          window,
		pane:            wv.Pane,
		windowObserving: windowObserving,
	}
}

// processSplittableElement runs the loop from spec.md §4.2.
func (r *TransformRunner) processSplittableElement(wv WindowedValue) error {
	se, ok := wv.Value.(SplittableElement)
	if !ok {
		return newValidationError("exec: splittable transform received non-splittable element %T", wv.Value)
	}

	r.splitMu.Lock()
	r.currentElement = se.Value
	r.currentWindows = wv.Windows
	r.currentTimestamp = wv.Timestamp
	r.currentPane = wv.Pane
	r.windowStopIndex = len(wv.Windows)
	r.windowCurrentIndex = notProcessing
	r.splitMu.Unlock()

	for {
		r.splitMu.Lock()
		r.windowCurrentIndex++
		if r.windowCurrentIndex >= r.windowStopIndex {
			r.resetProcessingStateLocked()
			r.splitMu.Unlock()
			return nil
		}
		window := r.currentWindows[r.windowCurrentIndex]

		tracker, err := r.newTrackerLocked(se.Restricted.Restriction)
		if err != nil {
			r.splitMu.Unlock()
			return err
		}
		estimator, err := r.newWatermarkEstimatorLocked(se.Restricted.WatermarkEstimatorState)
		if err != nil {
			r.splitMu.Unlock()
			return err
		}
		r.currentOriginalRestr = se.Restricted.Restriction
		r.currentElementWmState = se.Restricted.WatermarkEstimatorState
		r.currentTracker = tracker
		r.currentDelegate = nil
		r.currentWatermark = estimator
		r.currentInitialWatermark, _ = estimator.GetWatermarkAndState()
		r.splitMu.Unlock()

		pc := &ProcessContext{
			role:               RoleSplittableElement,
			cap:                roleCapabilities[RoleSplittableElement],
			run:                r,
			keyed:              r.cfg.Descriptor.IsKeyed,
			element:            se.Value,
			timestamp:          wv.Timestamp,
			window:             window,
			pane:               wv.Pane,
			windowObserving:    true,
			tracker:            tracker,
			watermarkEstimator: estimator,
		}

		var continuation ProcessContinuation
		if err := wrapUserCode("ProcessElement", func() error {
			var err error
			continuation, err = r.cfg.Invoker.InvokeProcessSizedElement(procContextArgs{pc: pc})
			return err
		}); err != nil {
			return err
		}

		if !continuation.ShouldResume {
			if err := tracker.CheckDone(); err != nil {
				return fmt.Errorf("exec: restriction not fully claimed after process-element returned no-resume: %w", err)
			}
			r.sideInputCache.invalidateForWindow(window)
			continue
		}

		if err := r.selfCheckpoint(tracker, continuation.ResumeDelay); err != nil {
			return err
		}
		r.sideInputCache.invalidateForWindow(window)
	}
}

func (r *TransformRunner) newTrackerLocked(restriction any) (*RestrictionTrackerAdapter, error) {
	t, err := r.cfg.Invoker.InvokeNewTracker(restriction)
	if err != nil {
		return nil, err
	}
	return NewRestrictionTrackerAdapter(t), nil
}

func (r *TransformRunner) newWatermarkEstimatorLocked(state any) (*ThreadSafeWatermarkEstimator, error) {
	e, err := r.cfg.Invoker.InvokeNewWatermarkEstimator(state)
	if err != nil {
		return nil, err
	}
	return NewThreadSafeWatermarkEstimator(e), nil
}

// selfCheckpoint implements §4.2 step 6: attempt a self-checkpoint split
// at fraction 0 with the resume delay; forward roots to the split
// listener if one exists, otherwise treat as done. Takes the split lock
// itself for the duration of the (non-blocking, user-tracker-only) split
// computation, the same discipline TrySplit uses, so it can't race a
// concurrent TrySplit call over the same tracker.
func (r *TransformRunner) selfCheckpoint(tracker *RestrictionTrackerAdapter, resumeDelay time.Duration) error {
	r.splitMu.Lock()
	primary, residual, ok := TryCheckpoint(tracker, true)
	if !ok {
		r.splitMu.Unlock()
		return nil
	}
	in := r.splitInputLocked(tracker, nil, 0)
	r.splitMu.Unlock()

	primaryWv, residualWv := in.elementSplitRoots(primary, residual)
	wsr := WindowedSplitResult{PrimarySplit: primaryWv, ResidualSplit: residualWv}

	result, err := buildSplitResult(wsr, r.cfg.TransformID, r.cfg.InputID, r.cfg.OutputIDs, r.currentInitialWatermark, in.CapturedWatermark, resumeDelay, r.cfg.SizeFn, r.cfg.WindowedValueCoder)
	if err != nil {
		return err
	}
	if r.cfg.SplitListener != nil {
		return r.cfg.SplitListener.Split(result.PrimaryRoots, result.ResidualRoots)
	}
	return nil
}

func (r *TransformRunner) resetProcessingStateLocked() {
	r.windowCurrentIndex = notProcessing
	r.windowStopIndex = notProcessing
	r.currentElement = nil
	r.currentWindows = nil
	r.currentOriginalRestr = nil
	r.currentElementWmState = nil
	r.currentTracker = nil
	r.currentDelegate = nil
	r.currentWatermark = nil
}

// splitInputLocked snapshots the fields ComputeSplit needs. Must be
// called with splitMu held.
func (r *TransformRunner) splitInputLocked(tracker *RestrictionTrackerAdapter, delegate DownstreamSplitter, fraction float64) SplitInput {
	watermark, wmState := mtime.MinTimestamp, any(nil)
	if r.currentWatermark != nil {
		watermark, wmState = r.currentWatermark.GetWatermarkAndState()
	}
	return SplitInput{
		Element:                        r.currentElement,
		Windows:                        r.currentWindows,
		OriginalRestriction:             r.currentOriginalRestr,
		ElementWatermarkEstimatorState:  r.currentElementWmState,
		Fraction:                        fraction,
		Tracker:                         tracker,
		Delegate:                        delegate,
		CapturedWatermark:               watermark,
		CapturedWmState:                 wmState,
		CurrentWindowIndex:              r.windowCurrentIndex,
		StopWindowIndex:                 r.windowStopIndex,
	}
}

// GetProgress implements spec.md §4.7 under the split lock. Returns
// ok=false when no element is currently being processed (concurrency
// misuse returns null, never an error, per §7).
func (r *TransformRunner) GetProgress() (Progress, bool) {
	r.splitMu.Lock()
	defer r.splitMu.Unlock()
	if r.windowCurrentIndex < 0 {
		return Progress{}, false
	}
	if r.currentTracker != nil {
		return ProgressReporter{}.Report(r.currentTracker.Underlying(), r.windowCurrentIndex, r.windowStopIndex), true
	}
	if r.currentDelegate != nil {
		return ProgressReporter{}.ReportDelegate(r.currentDelegate, r.windowCurrentIndex, r.windowStopIndex), true
	}
	return Progress{}, false
}

// EncodedProgress reports progress to the configured ProgressSink as the
// single-element IEEE-754 double sequence from spec.md §4.7.
func (r *TransformRunner) EncodedProgress() {
	if r.cfg.ProgressSink == nil {
		return
	}
	p, ok := r.GetProgress()
	if !ok {
		return
	}
	r.cfg.ProgressSink.Report(r.cfg.ProgressKeyID, EncodeProgress(p.Completed))
}

// TrySplit implements spec.md §4.5/§4.6 under the split lock, releasing it
// before returning (no user process-element hook is invoked here; the
// restriction tracker's or delegate's own split runs under the lock and is
// assumed non-blocking, matching the teacher's treatment of split as a
// pure computation over already-resident state).
func (r *TransformRunner) TrySplit(fraction float64) (*SplitResult, error) {
	r.splitMu.Lock()
	if r.windowCurrentIndex < 0 {
		r.splitMu.Unlock()
		return nil, nil
	}
	in := r.splitInputLocked(r.currentTracker, r.currentDelegate, fraction)
	results, ok := ComputeSplit(in)
	if !ok {
		r.splitMu.Unlock()
		return nil, nil
	}
	r.windowStopIndex = results.NewStopWindowIndex
	r.splitMu.Unlock()

	wire, err := buildSplitResult(results.Windowed, r.cfg.TransformID, r.cfg.InputID, r.cfg.OutputIDs, r.currentInitialWatermark, in.CapturedWatermark, 0, r.cfg.SizeFn, r.cfg.WindowedValueCoder)
	if err != nil {
		return nil, err
	}
	return &wire, nil
}

// ProcessTimer implements spec.md §4.3: it first drains and fires any
// buffered timer in the same time domain with an earlier-or-equal
// fire-ts, tombstoning each as it fires, then fires t itself unless t was
// superseded within the bundle.
func (r *TransformRunner) ProcessTimer(family, tag string, domain mtime.TimeDomain, t TimerRecord) error {
	key := TimerKey{FamilyOrID: family, Tag: tag}
	for _, w := range t.Windows {
		drained := r.timers.DrainBefore(domain, t.FireTs, key)
		for _, queued := range drained {
			for _, qw := range queued.Windows {
				if err := r.fireOne(queued, qw); err != nil {
					return err
				}
			}
		}
		if r.timers.IsSuperseded(t) {
			continue
		}
		if err := r.fireOne(t, w); err != nil {
			return err
		}
	}
	return nil
}

func (r *TransformRunner) fireOne(t TimerRecord, window Window) error {
	pc := &ProcessContext{
		role:            RoleTimer,
		cap:             roleCapabilities[RoleTimer],
		run:             r,
		keyed:           true,
		userKey:         t.UserKey,
		timestamp:       t.HoldTs,
		window:          window,
		pane:            t.Pane,
		windowObserving: true,
		firingFamily:    t.Family,
		firingTag:       t.Tag,
		firingDomain:    t.Domain,
		firingHoldTs:    t.HoldTs,
	}
	return wrapUserCode("OnTimer", func() error {
		return r.cfg.Invoker.InvokeOnTimer(procContextArgs{pc: pc})
	})
}

// ProcessOnWindowExpiration invokes the user on-window-expiration hook
// once per window of t, per spec.md §4.1.
func (r *TransformRunner) ProcessOnWindowExpiration(t TimerRecord) error {
	for _, w := range t.Windows {
		pc := &ProcessContext{
			role:            RoleWindowExpiration,
			cap:             roleCapabilities[RoleWindowExpiration],
			run:             r,
			keyed:           true,
			userKey:         t.UserKey,
			timestamp:       t.HoldTs,
			window:          w,
			pane:            t.Pane,
			windowObserving: true,
			firingHoldTs:    t.HoldTs,
		}
		if err := wrapUserCode("OnWindowExpiration", func() error {
			return r.cfg.Invoker.InvokeOnWindowExpiration(procContextArgs{pc: pc})
		}); err != nil {
			return err
		}
	}
	return nil
}

// FinishBundle flushes buffered timers, invokes the user finish-bundle
// hook, and returns any bundle-finalizer callbacks registered during the
// bundle. Per spec.md §5, timers are flushed after finish-bundle returns
// but before state finalization.
func (r *TransformRunner) FinishBundle() ([]TimerRecord, []func(context.Context) error, error) {
	pc := &ProcessContext{role: RoleFinishBundle, cap: roleCapabilities[RoleFinishBundle], run: r, finalizers: &r.finalizers}
	if r.cfg.Descriptor.HasFinishBundle {
		if err := wrapUserCode("FinishBundle", func() error {
			return r.cfg.Invoker.InvokeFinishBundle(procContextArgs{pc: pc})
		}); err != nil {
			return nil, nil, err
		}
	}
	flushed := r.timers.Flush()
	if r.states != nil {
		if err := r.states.Finalize(); err != nil {
			return flushed, r.finalizers, err
		}
	}
	finalizers := r.finalizers
	r.finalizers = nil
	return flushed, finalizers, nil
}

// TearDown invokes the user teardown hook exactly once.
func (r *TransformRunner) TearDown() error {
	if r.tornDown {
		return TornDownError{}
	}
	r.tornDown = true
	if !r.cfg.Descriptor.HasTeardown {
		return nil
	}
	return wrapUserCode("Teardown", func() error {
		return r.cfg.Invoker.InvokeTeardown()
	})
}

// emit validates and routes a single output, per spec.md §4.1/§7.
func (r *TransformRunner) emit(pc *ProcessContext, tag string, value any, ts mtime.Time) error {
	consumer, ok := r.cfg.Consumers[tag]
	if !ok {
		return newValidationError("exec: unknown output tag %q", tag)
	}
	hold := pc.EventTimestamp()
	if err := validateOutputTimestamp(hold, ts, pc.timestamp, r.allowedSkew); err != nil {
		return err
	}
	var windows []Window
	if pc.window != nil {
		windows = []Window{pc.window}
	} else {
		windows = r.currentWindows
		if windows == nil {
			windows = []Window{GlobalWindow{}}
		}
	}
	if r.currentWatermark != nil {
		r.currentWatermark.ObserveTimestamp(ts)
	}
	wv := WindowedValue{Value: value, Timestamp: ts, Windows: windows, Pane: pc.pane}
	return consumer.Consume(wv)
}
