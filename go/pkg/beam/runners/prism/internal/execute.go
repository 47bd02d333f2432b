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

// Package internal is the thin driver that wires internal/harness to a
// caller-supplied set of stages and a bundle source. It replaces the
// pipeline-graph translation this package used to do (building stages out
// of a protobuf pipeline, an ElementManager, and a worker pool) -- none of
// which this module implements, since the execution core it drives starts
// from already-built TransformRunner instances, not a wire-format
// pipeline proto.
package internal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/svetakvsundhar/beam/sdks/v2/go/pkg/beam/runners/prism/internal/harness"
)

// Job is the minimal surface RunPipeline needs from a job: somewhere to
// send lifecycle messages and a context whose cancellation ends the run.
// The teacher's jobservices.Job played this role; here it's narrowed to
// exactly what this package consumes so it has no dependency on job
// bookkeeping, job-server RPCs, or worker boot orchestration.
type Job interface {
	SendMsg(msg string)
	Context() context.Context
}

// RunPipeline drives every bundle off bundles through mgr until the
// channel closes or ctx is canceled, the same three-phase shape
// (starting -> running -> terminating) execute.go's RunPipeline used to
// report through a jobservices.Job, now reported through Job directly.
func RunPipeline(job Job, mgr *harness.Manager, bundles <-chan *harness.Bundle, onFinalize func(stageID string, cb harness.FinalizeFunc)) error {
	job.SendMsg("starting pipeline")

	ctx := job.Context()
	job.SendMsg("running pipeline")

	err := mgr.Run(ctx, bundles, onFinalize)
	if err != nil {
		job.SendMsg(fmt.Sprintf("pipeline failed: %v", err))
		return err
	}

	job.SendMsg("pipeline completed")
	return nil
}

// NewLogger returns the slog.Logger a Manager should log through,
// mirroring execute.go's use of j.Logger for every lifecycle line.
func NewLogger(stageID string) *slog.Logger {
	return slog.Default().With(slog.String("component", "prism"), slog.String("stage", stageID))
}
