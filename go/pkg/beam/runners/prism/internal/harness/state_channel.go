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
	"fmt"
	"sync"

	"google.golang.org/grpc"

	"github.com/svetakvsundhar/beam/sdks/v2/go/pkg/beam/core/runtime/exec"
)

// StateChannel is a StateAccessor backed by one gRPC unary call per
// (stateID, window) lookup. The real state service -- the control plane
// the teacher's worker package dialed with grpc.Dial -- lives outside this
// module; StateChannel only needs something satisfying
// grpc.ClientConnInterface, so a production implementation is a drop-in
// replacement for the in-memory fake below.
type StateChannel struct {
	conn       grpc.ClientConnInterface
	method     string
	encodeReq  func(stateID string, window exec.Window) any
	decodeResp func(any) (exec.State, error)
}

// NewStateChannel builds a StateChannel that invokes method on conn for
// every State lookup, using encodeReq/decodeResp to translate between the
// core's opaque (stateID, Window) arguments and whatever request/response
// message shape the channel implementation expects.
func NewStateChannel(conn grpc.ClientConnInterface, method string, encodeReq func(string, exec.Window) any, decodeResp func(any) (exec.State, error)) *StateChannel {
	return &StateChannel{conn: conn, method: method, encodeReq: encodeReq, decodeResp: decodeResp}
}

// Get implements exec.StateAccessor.
func (c *StateChannel) Get(stateID string, window exec.Window) (exec.State, error) {
	req := c.encodeReq(stateID, window)
	var resp any
	if err := c.conn.Invoke(context.Background(), c.method, req, &resp); err != nil {
		return nil, fmt.Errorf("harness: state RPC %s failed: %w", c.method, err)
	}
	return c.decodeResp(resp)
}

// Finalize implements exec.StateAccessor. The real channel would flush
// any buffered state writes here; this wrapper has none of its own to
// flush, only reads.
func (c *StateChannel) Finalize() error { return nil }

// fakeStateConn is an in-process grpc.ClientConnInterface for exercising
// StateChannel's request/response plumbing without a real RPC server. It
// never dials a network connection. No test in this module constructs one.
type fakeStateConn struct {
	mu       sync.Mutex
	handlers map[string]func(req any) (any, error)
}

// newFakeStateConn constructs an empty fakeStateConn; register behavior
// per method with Handle before use.
func newFakeStateConn() *fakeStateConn {
	return &fakeStateConn{handlers: map[string]func(req any) (any, error){}}
}

// Handle registers fn as the response producer for method.
func (f *fakeStateConn) Handle(method string, fn func(req any) (any, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = fn
}

// Invoke implements grpc.ClientConnInterface.
func (f *fakeStateConn) Invoke(_ context.Context, method string, args, reply any, _ ...grpc.CallOption) error {
	f.mu.Lock()
	h, ok := f.handlers[method]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("harness: fakeStateConn has no handler for method %s", method)
	}
	resp, err := h(args)
	if err != nil {
		return err
	}
	if out, ok := reply.(*any); ok {
		*out = resp
	}
	return nil
}

// NewStream implements grpc.ClientConnInterface. State lookups in this
// module are unary only; no test exercises a streaming state RPC.
func (f *fakeStateConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, fmt.Errorf("harness: fakeStateConn does not support streaming calls")
}
