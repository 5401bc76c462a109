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
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/tzzxqsz/spserver/internal/iocp"
	"github.com/tzzxqsz/spserver/pkg/errors"
	"github.com/tzzxqsz/spserver/pkg/metrics"
)

type sessionState int32

const (
	sessionActive sessionState = iota
	sessionClosing
	sessionClosed
)

func (s sessionState) String() string {
	switch s {
	case sessionActive:
		return "active"
	case sessionClosing:
		return "closing"
	case sessionClosed:
		return "closed"
	}
	return "unknown"
}

// hookResult travels from a finished hook task back to the event loop.
type hookResult struct {
	close bool
	err   error
}

// session owns one connection, every field but the handler-facing ones is
// confined to the event loop goroutine.
//
// At most one hook task runs for a session at any time (busy), no read is
// posted while it runs unless it is a Timeout task, and the request and
// response are only handed back to the event loop through the port.
type session struct {
	key      uint64
	conn     net.Conn
	port     *iocp.Port
	stats    *metrics.Stats
	handler  Handler
	request  *Request
	response *Response

	state      sessionState
	reading    bool
	writing    *Message
	outbox     []*Message
	busy       bool
	shut       bool
	ioFailed   bool
	errorDue   bool
	timedOut   bool
	lastActive time.Time

	received uint64
	sent     uint64
}

func newSession(key uint64, conn net.Conn, handler Handler, port *iocp.Port, stats *metrics.Stats) *session {
	return &session{
		key:     key,
		conn:    conn,
		port:    port,
		stats:   stats,
		handler: handler,
		request: &Request{
			key:        key,
			remoteAddr: conn.RemoteAddr(),
			decoder:    NewDefaultDecoder(),
		},
		response: &Response{
			key:   key,
			reply: newMessage(key),
		},
		lastActive: time.Now(),
	}
}

// invoke runs one hook and converts a panic into a close request.
func (s *session) invoke(hook func() Action) (res hookResult) {
	defer func() {
		if r := recover(); r != nil {
			res = hookResult{close: true, err: fmt.Errorf("%w: %v", errors.ErrHandlerPanic, r)}
		}
	}()
	return hookResult{close: hook() == Close}
}

// decode feeds data to the decoder, a panic comes back as an error.
func (s *session) decode(data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errors.ErrDecoderPanic, r)
		}
	}()
	return s.request.decoder.Decode(data)
}

func (s *session) complete(res hookResult) error {
	if err := s.port.Notify(s.key, res); err != nil {
		return fmt.Errorf("session %d lost the result of its hook: %w", s.key, err)
	}
	return res.err
}

func startTask(arg interface{}) error {
	s := arg.(*session)
	return s.complete(s.invoke(func() Action {
		return s.handler.Start(s.request, s.response)
	}))
}

func processTask(arg interface{}) error {
	s := arg.(*session)
	res := s.invoke(func() Action {
		for {
			msg, ok := s.request.decoder.Pop()
			if !ok {
				return None
			}
			s.request.message = msg
			atomic.AddUint64(&s.received, 1)
			s.stats.MessagesReceived.Inc()
			if s.handler.Handle(s.request, s.response) == Close {
				return Close
			}
		}
	})
	s.request.message = nil
	return s.complete(res)
}

func timeoutTask(arg interface{}) error {
	s := arg.(*session)
	res := s.invoke(func() Action {
		s.handler.Timeout(s.response)
		return Close
	})
	return s.complete(res)
}

func errorTask(arg interface{}) error {
	s := arg.(*session)
	res := s.invoke(func() Action {
		s.handler.Error(s.response)
		return Close
	})
	return s.complete(res)
}

// closeTask is the last task of a session, nothing else references it afterwards.
func closeTask(arg interface{}) error {
	s := arg.(*session)
	res := s.invoke(func() Action {
		s.handler.Close()
		return None
	})
	if rel, ok := s.request.decoder.(releaser); ok {
		rel.Release()
	}
	s.response.release()
	return res.err
}
