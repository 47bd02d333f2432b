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

// UserFnDescriptor identifies which lifecycle hooks a user transform
// implements and whether each observes windows, restriction, or watermark
// estimator state, per spec.md §6. Discovered by reflection outside this
// module; the core only ever reads these flags.
type UserFnDescriptor struct {
	HasStartBundle          bool
	HasProcessElement       bool
	HasFinishBundle         bool
	HasTeardown             bool
	HasOnTimer               bool
	HasOnWindowExpiration    bool
	HasNewTracker            bool
	HasNewWatermarkEstimator bool
	HasGetSize               bool

	// IsWindowObserving is true if process-element (or on-timer /
	// on-window-expiration) needs the element's window, requiring the
	// window-observing invocation strategy from spec.md §4.1.
	//
	// Per spec.md §9's open question, the splittable path (IsSplittable)
	// always uses a window-observing context regardless of this flag, as
	// do on-timer and on-window-expiration firings; only plain
	// process-element dispatch honors it.
	IsWindowObserving bool

	// IsSplittable marks a sized-element-and-restriction DoFn, routing
	// through the §4.2 splittable processing loop instead of plain
	// process-element dispatch.
	IsSplittable bool

	// IsKeyed marks a transform with per-key state/timer access.
	IsKeyed bool

	// OutputTags lists every output tag this transform emits to. The core
	// does not read it: Output/OutputWithTimestamp fail fast on an unknown
	// tag (spec.md §7) by looking the tag up in RunnerConfig.Consumers.
	OutputTags []string

	// TimerFamilies lists every timer family/plain-timer local name this
	// transform declares. The core does not read it; Timer and TimerFamily
	// accept any local name.
	TimerFamilies []string

	// AllowedLateness is not read by the core: TransformRunner takes the
	// lateness bound for event-time timers from
	// RunnerConfig.AllowedLateness, and elements get no lateness check.
	AllowedLateness int64 // milliseconds, to avoid importing time here
}

// ArgumentProvider supplies a single hook invocation with whatever
// positional/named arguments the user's reflected signature requires
// (element, window, state, timers, restriction tracker, and so on). The
// core builds one from the active ProcessContext; the invoker interprets
// it according to the UserFnDescriptor, per spec.md §6.
type ArgumentProvider interface {
	ProcessContext() *ProcessContext
}

// procContextArgs is the default ArgumentProvider, a thin wrapper so
// ProcessContext itself doesn't need to implement the interface (which
// would couple it to reflection-invoker concerns).
type procContextArgs struct {
	pc *ProcessContext
}

func (a procContextArgs) ProcessContext() *ProcessContext { return a.pc }

// UserFnInvoker invokes each lifecycle hook given an ArgumentProvider and
// returns whatever the hook returns (nil for hooks with no result, a
// ProcessContinuation for splittable process-element, an error on
// failure). Implementations live outside this module (the "user-code
// reflection and signature discovery" collaborator from spec.md §1); the
// core only calls through this interface.
type UserFnInvoker interface {
	InvokeStartBundle(args ArgumentProvider) error
	InvokeProcessElement(args ArgumentProvider) error
	InvokeProcessSizedElement(args ArgumentProvider) (ProcessContinuation, error)
	InvokeFinishBundle(args ArgumentProvider) error
	InvokeTeardown() error
	InvokeOnTimer(args ArgumentProvider) error
	InvokeOnWindowExpiration(args ArgumentProvider) error
	InvokeNewTracker(restriction any) (RestrictionTracker, error)
	InvokeNewWatermarkEstimator(state any) (WatermarkEstimator, error)
	InvokeGetSize(restriction any) (float64, error)
}
