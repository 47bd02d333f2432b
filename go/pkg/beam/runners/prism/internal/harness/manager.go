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

// Package harness drives a fixed set of named TransformRunner instances
// ("stages") over a stream of bundles, the way execute.go's
// executePipeline drove worker bundles over a pipeline graph. Unlike
// execute.go, it has no graph to build: stages and their wiring are
// supplied directly by the caller, so this package stays entirely
// concerned with bundle lifecycle and concurrency, not pipeline
// translation.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/svetakvsundhar/beam/sdks/v2/go/pkg/beam/core/graph/mtime"
	"github.com/svetakvsundhar/beam/sdks/v2/go/pkg/beam/core/runtime/exec"
)

// TimerFiring names which (family, tag, domain) a buffered TimerRecord
// should be delivered against; ProcessTimer needs all three alongside the
// record itself.
type TimerFiring struct {
	Family string
	Tag    string
	Domain mtime.TimeDomain
	Record exec.TimerRecord
}

// Bundle is one unit of dispatchable work against a single stage: zero or
// more elements, zero or more timer firings, and zero or more window
// expirations, matching the three ProcessX entry points TransformRunner
// exposes.
type Bundle struct {
	StageID           string
	InstanceID        string
	Elements          []exec.WindowedValue
	Timers            []TimerFiring
	WindowExpirations []exec.TimerRecord
}

// FinalizeFunc is invoked once per finalizer callback a bundle registered,
// after FinishBundle returns. The harness never inspects the callback; it
// only owns sequencing and error propagation, per spec.md §1's division of
// responsibility.
type FinalizeFunc = func(context.Context) error

// Stage pairs one TransformRunner with the bookkeeping the harness needs
// to run bundles against it: a logger scoped to the stage and a per-bundle
// capture buffer (see bundleCapture).
type Stage struct {
	ID     string
	Runner *exec.TransformRunner
	Logger *slog.Logger

	mu      sync.Mutex
	capture *bundleCapture
}

// NewStage wraps an already-configured TransformRunner. Construction of
// the runner itself (wiring consumers, coders, descriptors) is the
// caller's concern; Stage only sequences calls against it.
func NewStage(id string, runner *exec.TransformRunner, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{ID: id, Runner: runner, Logger: logger.With(slog.String("stage", id))}
}

// Execute runs one bundle against the stage's runner end to end: start
// bundle, every element, every timer firing (draining supersessions
// inline, per spec.md §4.3), every window expiration, then finish bundle
// and flush the capture buffer. It does not call TearDown on the
// runner -- that is a once-per-runner-lifetime operation the caller drives
// explicitly when the stage itself is retired.
func (s *Stage) Execute(ctx context.Context, b *Bundle) ([]exec.TimerRecord, []FinalizeFunc, error) {
	s.mu.Lock()
	capt := newBundleCapture(s.Logger)
	s.capture = capt
	s.mu.Unlock()
	defer capt.flush(ctx)

	s.Logger.Debug("bundle starting", slog.String("instance", b.InstanceID), slog.Int("elements", len(b.Elements)))

	if err := s.Runner.StartBundle(); err != nil {
		return nil, nil, fmt.Errorf("harness: stage %s instance %s: start bundle: %w", s.ID, b.InstanceID, err)
	}

	for _, wv := range b.Elements {
		if err := s.Runner.ProcessElement(wv); err != nil {
			return nil, nil, fmt.Errorf("harness: stage %s instance %s: process element: %w", s.ID, b.InstanceID, err)
		}
	}

	for _, t := range b.Timers {
		if err := s.Runner.ProcessTimer(t.Family, t.Tag, t.Domain, t.Record); err != nil {
			return nil, nil, fmt.Errorf("harness: stage %s instance %s: process timer %s/%s: %w", s.ID, b.InstanceID, t.Family, t.Tag, err)
		}
	}

	for _, t := range b.WindowExpirations {
		if err := s.Runner.ProcessOnWindowExpiration(t); err != nil {
			return nil, nil, fmt.Errorf("harness: stage %s instance %s: window expiration: %w", s.ID, b.InstanceID, err)
		}
	}

	flushedTimers, finalizers, err := s.Runner.FinishBundle()
	if err != nil {
		return nil, nil, fmt.Errorf("harness: stage %s instance %s: finish bundle: %w", s.ID, b.InstanceID, err)
	}

	s.Logger.Debug("bundle done", slog.String("instance", b.InstanceID), slog.Int("flushed_timers", len(flushedTimers)), slog.Int("finalizers", len(finalizers)))
	return flushedTimers, finalizers, nil
}

// Manager owns the set of live stages and the bounded-concurrency bundle
// loop that drives them, the direct counterpart of execute.go's
// errgroup.WithContext(ctx); eg.SetLimit(8) dispatch tail.
type Manager struct {
	Logger      *slog.Logger
	Concurrency int

	mu     sync.RWMutex
	stages map[string]*Stage
}

// NewManager constructs a Manager with no stages registered yet.
// concurrency mirrors execute.go's eg.SetLimit(8); callers that don't care
// can pass 0 and get that same default.
func NewManager(logger *slog.Logger, concurrency int) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Manager{Logger: logger, Concurrency: concurrency, stages: map[string]*Stage{}}
}

// AddStage registers a stage under its ID, replacing any prior stage with
// the same ID.
func (m *Manager) AddStage(s *Stage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[s.ID] = s
}

// NewInstanceID mints a bundle instance identifier. Unlike execute.go's
// fmt.Sprintf("inst%03d", atomic.AddUint64(&instID, 1)) -- unique only for
// the lifetime of one process -- this uses a UUID so finalizer tokens stay
// unique across a worker restart, per SPEC_FULL.md's ambient-stack note.
func NewInstanceID() string {
	return uuid.NewString()
}

// Run drains bundles, dispatching each to its stage through a
// concurrency-limited errgroup and returning the first error encountered,
// or the context's cancellation cause if the caller cancels ctx first.
// onFinalize, if non-nil, is invoked (sequentially, by the calling
// goroutine that produced them) for every finalizer callback a bundle
// registers; passing nil simply drops them, which is a legitimate choice
// since the core never requires them to run (spec.md §1).
func (m *Manager) Run(ctx context.Context, bundles <-chan *Bundle, onFinalize func(stageID string, cb FinalizeFunc)) error {
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(m.Concurrency)

	for {
		select {
		case <-ctx.Done():
			err := context.Cause(ctx)
			m.Logger.Debug("harness context canceled", slog.Any("cause", err))
			return err
		case b, ok := <-bundles:
			if !ok {
				err := eg.Wait()
				m.Logger.Debug("harness bundle stream drained", slog.Any("error", err))
				return err
			}
			m.mu.RLock()
			stage, known := m.stages[b.StageID]
			m.mu.RUnlock()
			if !known {
				return fmt.Errorf("harness: bundle %s references unknown stage %s", b.InstanceID, b.StageID)
			}
			eg.Go(func() error {
				_, finalizers, err := stage.Execute(egctx, b)
				if err != nil {
					return err
				}
				if onFinalize != nil {
					for _, cb := range finalizers {
						onFinalize(stage.ID, cb)
					}
				}
				return nil
			})
		}
	}
}
