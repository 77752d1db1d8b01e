/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package queue implements the single-consumer request dispatcher the
cluster layer runs on: any number of client-facing goroutines may enqueue
a Request, but exactly one Worker goroutine drains the channel and feeds
requests into raft, so command ordering against the log is never
ambiguous.

A Request's reply channel models the PENDING_COMMIT state: it stays open
from the moment a command is proposed until the FSM applies it and a
result is sent, so a Request visibly "in flight" is exactly one whose
reply channel has not yet received a value.
*/
package queue

import (
	"context"
)

// Kind distinguishes the handler a Request should be routed to.
type Kind int

const (
	// KindCommand is a client-submitted interpreter command bound for
	// raft.Raft.Apply.
	KindCommand Kind = iota
	// KindCfgChange is a membership change bound for raft.Raft.AddNonvoter
	// or RemoveServer.
	KindCfgChange
	// KindInfo is a read-only status query answered from already
	// maintained raft/registry state, without proposing a log entry.
	KindInfo
)

// Flags records request state that would otherwise need a separate
// boolean per state; PendingCommit exists mainly so log lines and
// debugging tools have a named constant to point at instead of an
// inferred "reply channel still open" check.
type Flags uint8

const (
	// PendingCommit marks a request that has not yet been resolved:
	// NewRequest sets it and resolve clears it.
	PendingCommit Flags = 1 << iota
)

// Reply is what a Worker sends back once a Request is resolved, whether
// by successful apply, rejection, or error.
type Reply struct {
	Result interface{}
	Err    error
}

// Request is one unit of work submitted to a Worker.
type Request struct {
	Kind    Kind
	Argv    [][]byte
	Flags   Flags
	replyCh chan Reply
}

// NewRequest constructs a Request with its reply channel already open.
func NewRequest(kind Kind, argv [][]byte) *Request {
	return &Request{
		Kind:    kind,
		Argv:    argv,
		Flags:   PendingCommit,
		replyCh: make(chan Reply, 1),
	}
}

// Await blocks for the Worker's Reply or ctx cancellation.
func (r *Request) Await(ctx context.Context) (Reply, error) {
	select {
	case reply := <-r.replyCh:
		return reply, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// resolve delivers reply and clears PendingCommit. It must be called at
// most once per Request.
func (r *Request) resolve(reply Reply) {
	r.Flags &^= PendingCommit
	r.replyCh <- reply
	close(r.replyCh)
}

// Sender is the handle client-facing goroutines use to submit work; it
// is safe to share across goroutines and to clone into interpreter-side
// code that needs to enqueue follow-up work.
type Sender struct {
	ch chan *Request
}

// Send enqueues req, blocking if the queue is full or returning
// ctx.Err() if ctx is cancelled first.
func (s Sender) Send(ctx context.Context, req *Request) error {
	select {
	case s.ch <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler applies one Request and returns the Reply to deliver.
type Handler func(*Request) Reply

// Worker drains a single channel with one consumer goroutine, in
// submission order, dispatching each Request to a Handler keyed by Kind.
type Worker struct {
	ch       chan *Request
	handlers map[Kind]Handler
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWorker returns a Worker with the given buffered channel capacity.
func NewWorker(capacity int) *Worker {
	return &Worker{
		ch:       make(chan *Request, capacity),
		handlers: make(map[Kind]Handler),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Sender returns a handle for submitting requests to this Worker.
func (w *Worker) Sender() Sender {
	return Sender{ch: w.ch}
}

// Handle registers the Handler invoked for requests of the given Kind.
// Must be called before Run.
func (w *Worker) Handle(kind Kind, h Handler) {
	w.handlers[kind] = h
}

// Run drains the queue on the calling goroutine until Stop is called or
// ctx is cancelled. It is the single consumer: callers must not run Run
// concurrently from more than one goroutine.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case req := <-w.ch:
			w.dispatch(req)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) dispatch(req *Request) {
	h, ok := w.handlers[req.Kind]
	if !ok {
		req.resolve(Reply{Err: errUnhandledKind(req.Kind)})
		return
	}
	req.resolve(h(req))
}

// Stop signals Run to return and waits for it to exit.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

type errUnhandledKind Kind

func (e errUnhandledKind) Error() string {
	return "queue: no handler registered for request kind"
}
