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
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tzzxqsz/spserver/internal/iocp"
	"github.com/tzzxqsz/spserver/internal/socket"
	errorx "github.com/tzzxqsz/spserver/pkg/errors"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
	refuseDeadline   = time.Second
)

// acceptor runs the accept loop, admits or refuses every new connection and
// associates the admitted ones with the completion port.
type acceptor struct {
	srv  *Server
	ln   net.Listener
	port *iocp.Port
	work *executor
	wg   sync.WaitGroup
	once sync.Once
}

func newAcceptor(srv *Server, ln net.Listener, port *iocp.Port, work *executor) *acceptor {
	return &acceptor{srv: srv, ln: ln, port: port, work: work}
}

func (a *acceptor) start() {
	a.wg.Add(1)
	go a.loop()
}

// close stops accepting and waits for the loop to return.
func (a *acceptor) close() {
	a.once.Do(func() {
		if err := a.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			a.srv.logger.Warnf("failed to close listener %v: %v", a.ln.Addr(), err)
		}
	})
	a.wg.Wait()
}

func (a *acceptor) loop() {
	defer a.wg.Done()

	var backoff time.Duration
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if a.srv.isInShutdown() || errors.Is(err, net.ErrClosed) {
				return
			}
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else if backoff *= 2; backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			a.srv.logger.Errorf("%v: %v, retrying in %v", errorx.ErrAcceptSocket, err, backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		a.register(conn)
	}
}

func (a *acceptor) register(conn net.Conn) {
	if err := socket.SetConnNoDelay(conn, a.srv.opts.TCPNoDelay); err != nil {
		a.srv.logger.Warnf("failed to set TCP_NODELAY on %v: %v", conn.RemoteAddr(), err)
	}
	if err := a.admit(); err != nil {
		a.refuse(conn, err)
		return
	}
	key := a.port.NewKey()
	if err := a.port.Associate(key, conn); err != nil {
		a.srv.logger.Errorf("failed to associate %v: %v", conn.RemoteAddr(), err)
		_ = conn.Close()
		a.srv.releaseSlot()
	}
}

// admit reserves a connection slot unless the server is saturated.
func (a *acceptor) admit() error {
	opts := a.srv.opts
	if a.work.Pending() >= opts.ReqQueueSize {
		return errorx.ErrQueueFull
	}
	for {
		n := atomic.LoadInt32(&a.srv.connCount)
		if int(n) >= opts.MaxConnections {
			return errorx.ErrTooManyConnections
		}
		if atomic.CompareAndSwapInt32(&a.srv.connCount, n, n+1) {
			a.srv.stats.ActiveConnections.Inc()
			a.srv.stats.Accepted.Inc()
			return nil
		}
	}
}

// refuse writes the refusal message and closes conn without creating a session.
func (a *acceptor) refuse(conn net.Conn, reason error) {
	label := "queue_full"
	if errors.Is(reason, errorx.ErrTooManyConnections) {
		label = "max_connections"
	}
	a.srv.stats.Refused.WithLabelValues(label).Inc()
	a.srv.logger.Warnf("refused %v: %v", conn.RemoteAddr(), reason)

	msg := a.srv.opts.RefusedMsg
	err := a.port.Go(func() {
		_ = conn.SetWriteDeadline(time.Now().Add(refuseDeadline))
		if _, err := conn.Write([]byte(msg)); err != nil {
			a.srv.logger.Debugf("failed to write refusal to %v: %v", conn.RemoteAddr(), err)
		}
		_ = conn.Close()
	})
	if err != nil {
		_ = conn.Close()
	}
}
