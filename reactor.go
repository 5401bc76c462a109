// Copyright (c) 2024 The spserver Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package spserver

import (
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/tzzxqsz/spserver/internal/iocp"
	"github.com/tzzxqsz/spserver/internal/queue"
	"github.com/tzzxqsz/spserver/pkg/logging"
	"github.com/tzzxqsz/spserver/pkg/metrics"
)

// reactor is the event loop, it is the only goroutine touching session state
// and the only producer of the two result queues.
type reactor struct {
	srv        *Server
	opts       *Options
	logger     logging.Logger
	stats      *metrics.Stats
	port       *iocp.Port
	work       *executor
	act        *executor
	acceptor   *acceptor
	input      *queue.TaskQueue
	output     *queue.TaskQueue
	factory    HandlerFactory
	completion CompletionHandler
	sessions   map[uint64]*session
	lastSweep  time.Time
}

func newReactor(srv *Server, port *iocp.Port, work, act *executor) *reactor {
	r := &reactor{
		srv:        srv,
		opts:       srv.opts,
		logger:     srv.logger,
		stats:      srv.stats,
		port:       port,
		work:       work,
		act:        act,
		input:      queue.NewTaskQueue(),
		output:     queue.NewTaskQueue(),
		factory:    srv.factory,
		completion: nopCompletionHandler{},
		sessions:   make(map[uint64]*session),
		lastSweep:  time.Now(),
	}
	if f, ok := srv.factory.(CompletionHandlerFactory); ok {
		if ch := f.CreateCompletionHandler(); ch != nil {
			r.completion = ch
		}
	}
	return r
}

// run loops until the shutdown flag is observed, then drains and stops the executors.
func (r *reactor) run() {
	for !r.srv.isInShutdown() {
		r.poll()
		r.sweepIdle(time.Now())
		r.drain()
	}
	r.stop()
}

// poll waits for the next completion and handles it along with those already queued,
// at most MaxCompletionsPerLoop of them.
func (r *reactor) poll() {
	c, ok := r.port.Wait(r.opts.PollTimeout)
	for n := 1; ok; n++ {
		r.handle(c)
		if n >= r.opts.MaxCompletionsPerLoop {
			return
		}
		c, ok = r.port.TryGet()
	}
}

func (r *reactor) handle(c iocp.Completion) {
	switch c.Kind {
	case iocp.KindAccept:
		r.onAccept(c)
	case iocp.KindRead:
		r.onRead(c)
	case iocp.KindWrite:
		r.onWrite(c)
	case iocp.KindNotify:
		r.onHookDone(c)
	default:
		r.logger.Warnf("unexpected completion kind %v for session %d", c.Kind, c.Key)
	}
}

// drain hands every task queued when it starts over to the executors, the
// snapshot keeps one iteration bounded.
func (r *reactor) drain() {
	r.dispatchTo(r.input, r.work)
	r.dispatchTo(r.output, r.act)
}

func (r *reactor) dispatchTo(q *queue.TaskQueue, e *executor) {
	for n := q.Len(); n > 0; n-- {
		task := q.Dequeue()
		if task == nil {
			return
		}
		if err := e.Execute(task); err != nil {
			r.logger.Errorf("failed to hand a task over to %v: %v", e, err)
			queue.PutTask(task)
		}
	}
}

func (r *reactor) enqueue(q *queue.TaskQueue, run queue.TaskFunc, arg interface{}) {
	task := queue.GetTask()
	task.Run, task.Arg = run, arg
	q.Enqueue(task)
}

// dispatch schedules one hook task of s on the work executor.
func (r *reactor) dispatch(s *session, run queue.TaskFunc) {
	s.busy = true
	r.enqueue(r.input, run, s)
}

func (r *reactor) onAccept(c iocp.Completion) {
	if r.srv.isInShutdown() {
		_ = c.Conn.Close()
		r.srv.releaseSlot()
		return
	}
	s := newSession(c.Key, c.Conn, r.factory.Create(), r.port, r.stats)
	r.sessions[s.key] = s
	r.logger.Debugf("session %d opened for %v", s.key, s.request.remoteAddr)
	r.dispatch(s, startTask)
}

func (r *reactor) onRead(c iocp.Completion) {
	s := r.sessions[c.Key]
	if s == nil {
		iocp.PutBuffer(c.Buf)
		return
	}
	s.reading = false
	if s.state != sessionActive {
		iocp.PutBuffer(c.Buf)
		r.tryRelease(s)
		return
	}

	if c.N == 0 {
		iocp.PutBuffer(c.Buf)
		if c.Err == nil || errors.Is(c.Err, io.EOF) {
			r.logger.Debugf("session %d closed by peer", s.key)
			r.closeGracefully(s)
		} else {
			r.fail(s, c.Err)
		}
		return
	}

	s.lastActive = time.Now()
	err := s.decode(c.Buf[:c.N])
	iocp.PutBuffer(c.Buf)
	if err != nil {
		r.logger.Warnf("session %d: decoder cannot make progress: %v", s.key, err)
		r.closeGracefully(s)
		return
	}
	r.schedule(s)
}

func (r *reactor) onWrite(c iocp.Completion) {
	s := r.sessions[c.Key]
	if s == nil {
		return
	}
	msg := s.writing
	s.writing = nil
	if c.Err != nil {
		if msg != nil {
			msg.release()
		}
		r.fail(s, c.Err)
		return
	}

	s.sent++
	r.stats.MessagesSent.Inc()
	if msg != nil {
		r.enqueue(r.output, r.completeMessage, msg)
	}
	r.flush(s)
	r.tryRelease(s)
}

// completeMessage runs on the act executor.
func (r *reactor) completeMessage(arg interface{}) error {
	msg := arg.(*Message)
	defer msg.release()
	r.completion.Completed(msg)
	return nil
}

func (r *reactor) onHookDone(c iocp.Completion) {
	s := r.sessions[c.Key]
	if s == nil {
		return
	}
	res, _ := c.Payload.(hookResult)
	s.busy = false
	if res.err != nil {
		r.logger.Errorf("session %d: %v", s.key, res.err)
	}

	if msg := s.response.detach(); msg != nil {
		if s.ioFailed || s.shut {
			msg.release()
		} else {
			s.outbox = append(s.outbox, msg)
		}
	}

	if s.errorDue {
		s.errorDue = false
		r.dispatch(s, errorTask)
		return
	}
	if res.close && s.state == sessionActive {
		s.state = sessionClosing
	}

	r.flush(s)
	r.schedule(s)
	r.tryRelease(s)
}

// schedule either hands decoded messages to the handler or asks for more bytes.
func (r *reactor) schedule(s *session) {
	if s.busy || s.state != sessionActive {
		return
	}
	if s.request.decoder.Len() > 0 {
		r.dispatch(s, processTask)
		return
	}
	r.postRead(s)
}

func (r *reactor) postRead(s *session) {
	if s.reading || s.shut {
		return
	}
	buf := iocp.GetBuffer(r.opts.ReadBufferCap)
	if err := r.port.PostRead(s.key, s.conn, buf); err != nil {
		iocp.PutBuffer(buf)
		r.fail(s, err)
		return
	}
	s.reading = true
}

// flush posts the oldest queued reply when the write slot is free.
func (r *reactor) flush(s *session) {
	if s.writing != nil || s.shut || len(s.outbox) == 0 {
		return
	}
	msg := s.outbox[0]
	s.outbox[0] = nil
	s.outbox = s.outbox[1:]
	if err := r.port.PostWrite(s.key, s.conn, msg.Bytes()); err != nil {
		msg.release()
		r.fail(s, err)
		return
	}
	s.writing = msg
}

func (r *reactor) closeGracefully(s *session) {
	if s.state == sessionActive {
		s.state = sessionClosing
	}
	r.tryRelease(s)
}

// fail tears s down after an I/O failure, the Error hook runs once before Close.
func (r *reactor) fail(s *session, err error) {
	if s.state == sessionClosed {
		return
	}
	r.logger.Debugf("session %d: I/O failure: %v", s.key, err)
	if !s.ioFailed {
		s.ioFailed = true
		s.errorDue = true
	}
	s.state = sessionClosing
	r.discardOutbox(s)
	r.shut(s)
	if s.errorDue && !s.busy {
		s.errorDue = false
		r.dispatch(s, errorTask)
	}
	r.tryRelease(s)
}

// abort closes s without flushing, it is used on shutdown.
func (r *reactor) abort(s *session) {
	if s.state == sessionClosed {
		return
	}
	s.state = sessionClosing
	r.discardOutbox(s)
	r.shut(s)
	r.tryRelease(s)
}

func (r *reactor) discardOutbox(s *session) {
	for i, msg := range s.outbox {
		msg.release()
		s.outbox[i] = nil
	}
	s.outbox = s.outbox[:0]
}

func (r *reactor) shut(s *session) {
	if s.shut {
		return
	}
	s.shut = true
	if err := s.conn.Close(); err != nil {
		r.logger.Debugf("session %d: close: %v", s.key, err)
	}
}

// tryRelease moves a closing session forward: once its output is flushed the
// connection is closed, which cancels the outstanding read, and once nothing is
// outstanding the session is released.
func (r *reactor) tryRelease(s *session) {
	if s.state != sessionClosing {
		return
	}
	if !s.shut && !s.busy && s.writing == nil && len(s.outbox) == 0 {
		r.shut(s)
	}
	if s.shut && !s.busy && !s.reading && s.writing == nil {
		r.release(s)
	}
}

func (r *reactor) release(s *session) {
	s.state = sessionClosed
	r.discardOutbox(s)
	delete(r.sessions, s.key)
	r.srv.releaseSlot()
	r.stats.Closed.Inc()
	r.logger.Debugf("session %d released, %d messages received, %d sent",
		s.key, atomic.LoadUint64(&s.received), s.sent)
	r.enqueue(r.input, closeTask, s)
}

func (r *reactor) sweepInterval() time.Duration {
	interval := r.opts.IdleTimeout / 4
	if interval > time.Second {
		interval = time.Second
	}
	return interval
}

// sweepIdle dispatches the Timeout hook of every session idle past the deadline.
func (r *reactor) sweepIdle(now time.Time) {
	if r.opts.IdleTimeout <= 0 || now.Sub(r.lastSweep) < r.sweepInterval() {
		return
	}
	r.lastSweep = now
	for _, s := range r.sessions {
		if s.state != sessionActive || s.busy || s.timedOut {
			continue
		}
		if now.Sub(s.lastActive) >= r.opts.IdleTimeout {
			s.timedOut = true
			r.logger.Debugf("session %d timed out after %v", s.key, now.Sub(s.lastActive))
			r.dispatch(s, timeoutTask)
		}
	}
}

// stop closes the listener, aborts every session, keeps the loop turning until they
// are all released or ShutdownTimeout elapsed, then stops the executors.
func (r *reactor) stop() {
	r.acceptor.close()

	for _, s := range r.sessions {
		r.abort(s)
	}
	deadline := time.Now().Add(r.opts.ShutdownTimeout)
	for (len(r.sessions) > 0 || r.port.Len() > 0) && time.Now().Before(deadline) {
		r.poll()
		r.drain()
	}
	if n := len(r.sessions); n > 0 {
		r.logger.Warnf("%d sessions still busy after %v, giving up on them", n, r.opts.ShutdownTimeout)
	}
	r.drain()

	r.work.Stop()
	r.act.Stop()
	r.port.Close(r.opts.ShutdownTimeout)

	// Hooks that outlived ShutdownTimeout have finished by now, their results are gone with the port.
	for _, s := range r.sessions {
		r.abandon(s)
	}
}

// abandon releases s once nothing runs anymore and calls its Close hook inline.
func (r *reactor) abandon(s *session) {
	s.busy, s.reading = false, false
	r.shut(s)
	if s.writing != nil {
		s.writing.release()
		s.writing = nil
	}
	s.state = sessionClosed
	r.discardOutbox(s)
	delete(r.sessions, s.key)
	r.srv.releaseSlot()
	r.stats.Closed.Inc()
	if err := closeTask(s); err != nil {
		r.logger.Errorf("session %d: %v", s.key, err)
	}
}
