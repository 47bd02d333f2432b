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

package harness

import (
	"context"
	"log/slog"

	"github.com/svetakvsundhar/beam/sdks/v2/go/container/tools"
)

// bundleCapture holds a stdout and a stderr BufferedLogger per bundle and
// flushes them through the stage's logger once the bundle is done. Nothing
// redirects the process's os.Stdout or os.Stderr into them, so they hold
// only what is written to the buffers themselves.
type bundleCapture struct {
	stdout *tools.BufferedLogger
	stderr *tools.BufferedLogger
}

func newBundleCapture(logger *slog.Logger) *bundleCapture {
	return &bundleCapture{
		stdout: tools.NewBufferedLogger(logger),
		stderr: tools.NewBufferedLogger(logger),
	}
}

// flush drains both buffers: stdout at Debug, stderr at Error, matching
// the severity the captured stream implies.
func (c *bundleCapture) flush(ctx context.Context) {
	c.stdout.FlushAtDebug(ctx)
	c.stderr.FlushAtError(ctx)
}
