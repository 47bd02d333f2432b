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
	"errors"
	"testing"
	"time"

	"github.com/svetakvsundhar/beam/sdks/v2/go/pkg/beam/core/graph/mtime"
)

// collectingConsumer records every WindowedValue it's handed, the fake
// downstream used across this package's runner tests.
type collectingConsumer struct {
	values []WindowedValue
}

func (c *collectingConsumer) Consume(wv WindowedValue) error {
	c.values = append(c.values, wv)
	return nil
}

// fakeInvoker is a hand-built UserFnInvoker: each hook defers to a field
// the test sets, so individual tests only wire up the behavior they need.
type fakeInvoker struct {
	processElement       func(ArgumentProvider) error
	processSizedElement  func(ArgumentProvider) (ProcessContinuation, error)
	onTimer              func(ArgumentProvider) error
	onWindowExpiration   func(ArgumentProvider) error
	newTracker           func(restriction any) (RestrictionTracker, error)
	newWatermarkEstimator func(state any) (WatermarkEstimator, error)
	startBundleCalls     int
	finishBundleCalls    int
	teardownCalls        int
}

func (f *fakeInvoker) InvokeStartBundle(ArgumentProvider) error {
	f.startBundleCalls++
	return nil
}
func (f *fakeInvoker) InvokeProcessElement(args ArgumentProvider) error {
	if f.processElement == nil {
		return nil
	}
	return f.processElement(args)
}
func (f *fakeInvoker) InvokeProcessSizedElement(args ArgumentProvider) (ProcessContinuation, error) {
	return f.processSizedElement(args)
}
func (f *fakeInvoker) InvokeFinishBundle(ArgumentProvider) error {
	f.finishBundleCalls++
	return nil
}
func (f *fakeInvoker) InvokeTeardown() error {
	f.teardownCalls++
	return nil
}
func (f *fakeInvoker) InvokeOnTimer(args ArgumentProvider) error {
	if f.onTimer == nil {
		return nil
	}
	return f.onTimer(args)
}
func (f *fakeInvoker) InvokeOnWindowExpiration(args ArgumentProvider) error {
	if f.onWindowExpiration == nil {
		return nil
	}
	return f.onWindowExpiration(args)
}
func (f *fakeInvoker) InvokeNewTracker(restriction any) (RestrictionTracker, error) {
	return f.newTracker(restriction)
}
func (f *fakeInvoker) InvokeNewWatermarkEstimator(state any) (WatermarkEstimator, error) {
	return f.newWatermarkEstimator(state)
}
func (f *fakeInvoker) InvokeGetSize(restriction any) (float64, error) { return 1, nil }

func newTestRunner(inv *fakeInvoker, desc UserFnDescriptor, consumer OutputConsumer) *TransformRunner {
	return NewTransformRunner(context.Background(), RunnerConfig{
		TransformID: "t1",
		InputID:     "i1",
		Descriptor:  desc,
		Invoker:     inv,
		Consumers:   map[string]OutputConsumer{DefaultOutputTag: consumer},
		OutputIDs:   []string{"o1"},
		AllowedSkew: time.Second,
	})
}

func TestProcessElementNonWindowObserving(t *testing.T) {
	consumer := &collectingConsumer{}
	inv := &fakeInvoker{
		processElement: func(args ArgumentProvider) error {
			pc := args.ProcessContext()
			if _, err := pc.Window(); err == nil {
				t.Errorf("expected Window() to fail in a non-window-observing context")
			}
			return pc.Output("out")
		},
	}
	r := newTestRunner(inv, UserFnDescriptor{HasProcessElement: true}, consumer)

	wv := NewWindowedValue("in", mtime.FromMilliseconds(100), GlobalWindow{}, NoFiringPane)
	if err := r.ProcessElement(wv); err != nil {
		t.Fatalf("ProcessElement: %v", err)
	}
	if len(consumer.values) != 1 || consumer.values[0].Value != "out" {
		t.Errorf("consumer.values = %v, want one element \"out\"", consumer.values)
	}
}

func TestProcessElementWindowObservingInvokesOncePerWindow(t *testing.T) {
	consumer := &collectingConsumer{}
	var seen []Window
	inv := &fakeInvoker{
		processElement: func(args ArgumentProvider) error {
			pc := args.ProcessContext()
			w, err := pc.Window()
			if err != nil {
				t.Fatalf("Window(): %v", err)
			}
			seen = append(seen, w)
			return nil
		},
	}
	r := newTestRunner(inv, UserFnDescriptor{HasProcessElement: true, IsWindowObserving: true}, consumer)

	wv := WindowedValue{
		Value:     "in",
		Timestamp: mtime.FromMilliseconds(100),
		Windows:   []Window{fixedWindow{0}, fixedWindow{1}},
		Pane:      NoFiringPane,
	}
	if err := r.ProcessElement(wv); err != nil {
		t.Fatalf("ProcessElement: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("invoked %d times, want once per window (2)", len(seen))
	}
}

func TestOutputOnUnknownTagFails(t *testing.T) {
	consumer := &collectingConsumer{}
	inv := &fakeInvoker{
		processElement: func(args ArgumentProvider) error {
			return args.ProcessContext().OutputWithTimestamp("unknown-tag", "out", mtime.FromMilliseconds(100))
		},
	}
	r := newTestRunner(inv, UserFnDescriptor{HasProcessElement: true}, consumer)
	wv := NewWindowedValue("in", mtime.FromMilliseconds(100), GlobalWindow{}, NoFiringPane)
	if err := r.ProcessElement(wv); err == nil {
		t.Errorf("expected an error emitting to an unregistered output tag")
	}
}

func TestUserCodePanicIsWrapped(t *testing.T) {
	consumer := &collectingConsumer{}
	inv := &fakeInvoker{
		processElement: func(ArgumentProvider) error {
			panic("boom")
		},
	}
	r := newTestRunner(inv, UserFnDescriptor{HasProcessElement: true}, consumer)
	wv := NewWindowedValue("in", mtime.FromMilliseconds(100), GlobalWindow{}, NoFiringPane)

	err := r.ProcessElement(wv)
	var uce *UserCodeException
	if !errors.As(err, &uce) {
		t.Fatalf("expected a *UserCodeException, got %v (%T)", err, err)
	}
	if uce.Hook != "ProcessElement" {
		t.Errorf("Hook = %q, want ProcessElement", uce.Hook)
	}
}

func TestTearDownIsIdempotentlyRejectedOnSecondCall(t *testing.T) {
	consumer := &collectingConsumer{}
	inv := &fakeInvoker{}
	r := newTestRunner(inv, UserFnDescriptor{HasTeardown: true}, consumer)

	if err := r.TearDown(); err != nil {
		t.Fatalf("first TearDown: %v", err)
	}
	if err := r.TearDown(); !errors.As(err, new(TornDownError)) {
		t.Errorf("second TearDown = %v, want TornDownError", err)
	}
	if inv.teardownCalls != 1 {
		t.Errorf("teardown invoked %d times, want exactly 1", inv.teardownCalls)
	}
}

func TestTimerCommitThenFireDeliversFamilyAndTag(t *testing.T) {
	consumer := &collectingConsumer{}
	var firedFamily, firedTag string
	inv := &fakeInvoker{
		processElement: func(args ArgumentProvider) error {
			pc := args.ProcessContext()
			tf, err := pc.TimerFamily("followups")
			if err != nil {
				return err
			}
			return tf.Tag("a").Set(mtime.FromMilliseconds(1000)).Commit()
		},
		onTimer: func(args ArgumentProvider) error {
			pc := args.ProcessContext()
			family, tag, _, err := pc.FiringTimerMetadata()
			if err != nil {
				return err
			}
			firedFamily, firedTag = family, tag
			return nil
		},
	}
	r := newTestRunner(inv, UserFnDescriptor{HasProcessElement: true, IsWindowObserving: true, IsKeyed: true}, consumer)

	wv := NewWindowedValue("in", mtime.FromMilliseconds(0), GlobalWindow{}, NoFiringPane)
	if err := r.ProcessElement(wv); err != nil {
		t.Fatalf("ProcessElement: %v", err)
	}

	flushed, _, err := r.FinishBundle()
	if err != nil {
		t.Fatalf("FinishBundle: %v", err)
	}
	if len(flushed) != 1 {
		t.Fatalf("flushed %d timers, want 1", len(flushed))
	}
	rec := flushed[0]

	if err := r.ProcessTimer(rec.Family, rec.Tag, rec.Domain, rec); err != nil {
		t.Fatalf("ProcessTimer: %v", err)
	}
	if firedFamily != "tf:followups" || firedTag != "a" {
		t.Errorf("fired (family, tag) = (%q, %q), want (tf:followups, a)", firedFamily, firedTag)
	}
}

func TestRegisterFinalizationDuringFinishBundle(t *testing.T) {
	consumer := &collectingConsumer{}
	called := false

	inv := &fakeInvoker{}
	r := NewTransformRunner(context.Background(), RunnerConfig{
		TransformID: "t1", InputID: "i1",
		Descriptor: UserFnDescriptor{HasFinishBundle: true},
		Invoker: &invokerWithFinishBundle{fakeInvoker: inv, onFinish: func(pc *ProcessContext) error {
			return pc.RegisterFinalization(func(context.Context) error {
				called = true
				return nil
			})
		}},
		Consumers: map[string]OutputConsumer{DefaultOutputTag: consumer},
		OutputIDs: []string{"o1"},
	})

	_, finalizers, err := r.FinishBundle()
	if err != nil {
		t.Fatalf("FinishBundle: %v", err)
	}
	if len(finalizers) != 1 {
		t.Fatalf("got %d finalizers, want 1", len(finalizers))
	}
	if err := finalizers[0](context.Background()); err != nil {
		t.Fatalf("finalizer: %v", err)
	}
	if !called {
		t.Errorf("expected the finalizer callback to run")
	}
}

// invokerWithFinishBundle lets TestRegisterFinalizationDuringFinishBundle
// hook InvokeFinishBundle specifically without growing fakeInvoker's field
// list for a single-test need.
type invokerWithFinishBundle struct {
	*fakeInvoker
	onFinish func(pc *ProcessContext) error
}

func (i *invokerWithFinishBundle) InvokeFinishBundle(args ArgumentProvider) error {
	return i.onFinish(args.ProcessContext())
}
