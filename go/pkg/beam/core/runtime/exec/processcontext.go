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
	"time"

	"github.com/svetakvsundhar/beam/sdks/v2/go/pkg/beam/core/graph/mtime"
)

// Role tags which lifecycle phase a ProcessContext was constructed for.
// Rather than the teacher's deep ProcessContextBase inheritance hierarchy
// (window-observing / non-window-observing / timer / expiration /
// finish-bundle variants), a single ProcessContext struct carries a Role
// and a small capability table: each role selects which operations are
// supported and which fail fast with "unsupported in this phase", per
// spec.md §9's design note.
type Role int

const (
	// RoleElement is process-element for a non-window-observing or
	// window-observing ParDo (one context per window when window-
	// observing).
	RoleElement Role = iota
	// RoleSplittableElement is process-element for a splittable
	// sized-element-and-restriction, adding restriction/tracker/watermark
	// estimator access.
	RoleSplittableElement
	// RoleTimer is an on-timer firing.
	RoleTimer
	// RoleWindowExpiration is an on-window-expiration firing.
	RoleWindowExpiration
	// RoleFinishBundle is the finish-bundle hook (no element in scope).
	RoleFinishBundle
)

func (r Role) String() string {
	switch r {
	case RoleElement:
		return "Element"
	case RoleSplittableElement:
		return "SplittableElement"
	case RoleTimer:
		return "Timer"
	case RoleWindowExpiration:
		return "WindowExpiration"
	case RoleFinishBundle:
		return "FinishBundle"
	default:
		return "UnknownRole"
	}
}

// capability flags what a Role may access. Declared once per role in
// roleCapabilities rather than reimplemented type-by-type.
type capability struct {
	element            bool
	window             bool
	state              bool
	timers             bool
	sideInputs         bool
	restrictionTracker bool
	watermarkEstimator bool
	firingMetadata     bool
	finalizer          bool
}

var roleCapabilities = map[Role]capability{
	RoleElement:           {element: true, window: true, state: true, timers: true, sideInputs: true},
	RoleSplittableElement: {element: true, window: true, state: true, timers: true, sideInputs: true, restrictionTracker: true, watermarkEstimator: true},
	RoleTimer:             {window: true, state: true, timers: true, sideInputs: true, firingMetadata: true},
	RoleWindowExpiration:  {window: true, state: true, timers: true, firingMetadata: true},
	RoleFinishBundle:      {finalizer: true},
}

// unsupported builds the "unsupported in this phase" error spec.md §7
// calls for.
func (pc *ProcessContext) unsupported(op string) error {
	return fmt.Errorf("exec: %s is unsupported in %s phase", op, pc.role)
}

// ProcessContext is the single concrete type backing every role. It holds
// a borrowed reference to the owning TransformRunner (never ownership,
// per spec.md §3's ownership rule) and lends a narrowed, role-appropriate
// surface to user-facing adapters (OutputEmitter, Timer/TimerFamily
// handles, State/SideInput accessors).
type ProcessContext struct {
	role Role
	cap  capability
	run  *TransformRunner

	// Keyed context, set whenever the transform is keyed.
	keyed   bool
	userKey any

	// Element-scoped fields (RoleElement, RoleSplittableElement).
	element   any
	timestamp mtime.Time
	window    Window
	pane      Pane
	// windowObserving narrows window access further than the role's base
	// capability: a RoleElement context is window-observing only if the
	// transform declared itself so (UserFnDescriptor.IsWindowObserving).
	// Per spec.md §9's open question, splittable elements and timer/
	// expiration firings are always window-observing in this build.
	windowObserving bool

	// Splittable-only fields.
	tracker            *RestrictionTrackerAdapter
	delegate           DownstreamSplitter
	watermarkEstimator *ThreadSafeWatermarkEstimator

	// Timer/expiration-only fields.
	firingFamily string
	firingTag    string
	firingDomain mtime.TimeDomain
	firingHoldTs mtime.Time

	finalizers *[]func(context.Context) error
}

// Context is the standard-library context the invoked hook should use for
// cancellation-aware calls (state RPCs, side input fetches). The core
// itself never cancels it; cancellation is the bundle orchestrator's
// concern per spec.md §5.
func (pc *ProcessContext) Context() context.Context {
	return pc.run.ctx
}

// Element returns the current element's value. Fails fast outside an
// element-scoped role.
func (pc *ProcessContext) Element() (any, error) {
	if !pc.cap.element {
		return nil, pc.unsupported("Element()")
	}
	return pc.element, nil
}

// EventTimestamp returns the current element or firing's event timestamp.
func (pc *ProcessContext) EventTimestamp() mtime.Time {
	if pc.cap.element {
		return pc.timestamp
	}
	return pc.firingHoldTs
}

// Window returns the single window the hook is currently scoped to. Fails
// fast if the transform doesn't observe windows (spec.md §7: "accessing
// window/state/timer in a non-window-observing context").
func (pc *ProcessContext) Window() (Window, error) {
	if !pc.cap.window || !pc.windowObserving {
		return nil, pc.unsupported("Window()")
	}
	return pc.window, nil
}

// Pane returns the pane metadata of the current element or firing timer.
func (pc *ProcessContext) Pane() Pane {
	return pc.pane
}

// RestrictionTracker returns the adapter installed for the current
// splittable element. Only valid for RoleSplittableElement.
func (pc *ProcessContext) RestrictionTracker() (*RestrictionTrackerAdapter, error) {
	if !pc.cap.restrictionTracker {
		return nil, pc.unsupported("RestrictionTracker()")
	}
	return pc.tracker, nil
}

// WatermarkEstimator returns the thread-safe estimator wrapper for the
// current splittable element.
func (pc *ProcessContext) WatermarkEstimator() (*ThreadSafeWatermarkEstimator, error) {
	if !pc.cap.watermarkEstimator {
		return nil, pc.unsupported("WatermarkEstimator()")
	}
	return pc.watermarkEstimator, nil
}

// FiringTimerMetadata returns which (family, tag) timer is currently
// firing. Valid for RoleTimer and RoleWindowExpiration; an
// on-window-expiration firing carries no family or tag, so both are empty
// there. Supplements spec.md §4.1's processTimer signature so a user hook
// that handles multiple dynamic tags in one family can discriminate (see
// SPEC_FULL.md supplemented features).
func (pc *ProcessContext) FiringTimerMetadata() (family, tag string, domain mtime.TimeDomain, err error) {
	if !pc.cap.firingMetadata {
		return "", "", 0, pc.unsupported("FiringTimerMetadata()")
	}
	return pc.firingFamily, pc.firingTag, pc.firingDomain, nil
}

// Output emits value downstream on the transform's default output tag, at
// the current element's timestamp and window(s).
func (pc *ProcessContext) Output(value any) error {
	return pc.OutputWithTimestamp(DefaultOutputTag, value, pc.EventTimestamp())
}

// OutputWithTimestamp emits value on the named output tag at an explicit
// event timestamp, validating the bounds from spec.md §3/§7: hold <=
// output <= TIMESTAMP_MAX, and output >= input timestamp - allowed skew.
func (pc *ProcessContext) OutputWithTimestamp(tag string, value any, ts mtime.Time) error {
	return pc.run.emit(pc, tag, value, ts)
}

// State returns the State object backing stateId for the current key and
// window. Fails fast outside a keyed, window-observing context.
func (pc *ProcessContext) State(stateID string) (State, error) {
	if !pc.cap.state {
		return nil, pc.unsupported("State()")
	}
	if !pc.keyed {
		return nil, fmt.Errorf("exec: state access requires a keyed context")
	}
	w, err := pc.Window()
	if err != nil {
		return nil, err
	}
	return pc.run.states.Get(stateID, w)
}

// SideInput fetches the value of view in the current window.
func (pc *ProcessContext) SideInput(view string) (any, error) {
	if !pc.cap.sideInputs {
		return nil, pc.unsupported("SideInput()")
	}
	w, err := pc.Window()
	if err != nil {
		return nil, err
	}
	return pc.run.sideInputCache.get(pc.run.ctx, pc.run.sideInputs, view, w)
}

// Timer returns a Timer handle for a plain (non-family) timer by local
// name.
func (pc *ProcessContext) Timer(localName string, domain mtime.TimeDomain) (*Timer, error) {
	if !pc.cap.timers {
		return nil, pc.unsupported("Timer()")
	}
	if !pc.keyed {
		return nil, fmt.Errorf("exec: timer access requires a keyed context")
	}
	w, err := pc.Window()
	if err != nil {
		return nil, err
	}
	return newTimer(pc.run.timers, localName, "", domain, pc.userKey, []Window{w}, pc.timestamp, pc.EventTimestamp(), pc.pane, pc.run.allowedSkew, pc.run.windowGC), nil
}

// TimerFamily returns a TimerFamily handle for a dynamic-tag timer family
// by local name.
func (pc *ProcessContext) TimerFamily(localName string) (*TimerFamily, error) {
	if !pc.cap.timers {
		return nil, pc.unsupported("TimerFamily()")
	}
	if !pc.keyed {
		return nil, fmt.Errorf("exec: timer access requires a keyed context")
	}
	w, err := pc.Window()
	if err != nil {
		return nil, err
	}
	family := familyPrefix + localName
	return newTimerFamily(pc.run.timers, family, mtime.EventTime, pc.userKey, []Window{w}, pc.timestamp, pc.EventTimestamp(), pc.pane, pc.run.allowedSkew, pc.run.windowGC), nil
}

// RegisterFinalization queues a bundle-finalizer callback, exposed only
// during RoleFinishBundle. Ownership and invocation of the callback stays
// with the (out-of-scope) bundle orchestrator; the core only collects it
// (SPEC_FULL.md supplemented features).
func (pc *ProcessContext) RegisterFinalization(cb func(context.Context) error) error {
	if !pc.cap.finalizer {
		return pc.unsupported("RegisterFinalization()")
	}
	*pc.finalizers = append(*pc.finalizers, cb)
	return nil
}

// DefaultOutputTag is the local name used when user code doesn't specify
// an output tag explicitly.
const DefaultOutputTag = ""

// validateOutputTimestamp enforces the bound from spec.md §3/§7/§8-F:
// hold <= output <= TIMESTAMP_MAX and output >= inputTs - allowedSkew,
// clamped to TIMESTAMP_MIN on arithmetic underflow.
func validateOutputTimestamp(hold, output, inputTs mtime.Time, allowedSkew time.Duration) error {
	if output < hold {
		return fmt.Errorf("exec: output timestamp %v is before hold %v", output, hold)
	}
	if output > mtime.MaxTimestamp {
		return fmt.Errorf("exec: output timestamp %v exceeds TIMESTAMP_MAX %v", output, mtime.MaxTimestamp)
	}
	lowerBound := inputTs.SubtractSkew(allowedSkew)
	if output < lowerBound {
		return fmt.Errorf("exec: output timestamp %v is before element timestamp %v minus allowed skew %v (bound %v, TIMESTAMP_MAX %v)", output, inputTs, allowedSkew, lowerBound, mtime.MaxTimestamp)
	}
	return nil
}
