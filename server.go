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
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/tzzxqsz/spserver/internal/iocp"
	"github.com/tzzxqsz/spserver/internal/socket"
	"github.com/tzzxqsz/spserver/pkg/errors"
	"github.com/tzzxqsz/spserver/pkg/logging"
	"github.com/tzzxqsz/spserver/pkg/metrics"
)

const (
	actExecutorName  = "act"
	workExecutorName = "work"
)

// Server is a TCP server driven by completions: the event loop posts reads and
// writes, the handler hooks run on the work executor and completion callbacks
// run one by one on the act executor.
//
// A Server runs once, it cannot be restarted after Shutdown.
type Server struct {
	bindIP  string
	port    int
	factory HandlerFactory
	opts    *Options
	logger  logging.Logger
	flush   logging.Flusher
	stats   *metrics.Stats

	ln        net.Listener
	connCount int32
	started   int32
	running   int32
	inShut    int32
	done      chan struct{}
}

// NewServer creates a Server listening on bindIP:port once it runs, an empty
// bindIP binds all interfaces and port 0 picks an ephemeral port.
func NewServer(bindIP string, port int, factory HandlerFactory, opts ...Option) (*Server, error) {
	if factory == nil {
		return nil, errors.ErrNilHandlerFactory
	}
	if port < 0 || port > 65535 {
		return nil, errors.ErrInvalidPort
	}

	options := loadOptions(opts...)
	s := &Server{
		bindIP:  bindIP,
		port:    port,
		factory: factory,
		opts:    options,
		done:    make(chan struct{}),
	}

	logging.Debugf("default logging level is %s", logging.LogLevel())
	if options.Logger == nil {
		if options.LogPath != "" {
			logger, flush, err := logging.CreateLoggerAsLocalFile(options.LogPath, options.LogLevel)
			if err != nil {
				return nil, err
			}
			options.Logger, s.flush = logger, flush
		} else {
			options.Logger = logging.GetDefaultLogger()
		}
	}
	s.logger = options.Logger

	s.stats = metrics.NewStats(nil)
	if options.Registerer != nil {
		if err := options.Registerer.Register(s.stats); err != nil {
			s.closeLogger()
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return s, nil
}

// Run binds the listening socket and starts serving in the background.
// A bind failure is returned before anything is started.
func (s *Server) Run() error {
	if s.isInShutdown() {
		return errors.ErrServerShutdown
	}
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return errors.ErrServerStarted
	}

	ln, err := socket.Listen(context.Background(), socket.Config{
		IP:        s.bindIP,
		Port:      s.port,
		ReuseAddr: true,
		ReusePort: s.opts.ReusePort,
	})
	if err != nil {
		s.logger.Errorf("failed to listen on %s: %v", net.JoinHostPort(s.bindIP, fmt.Sprint(s.port)), err)
		s.finish()
		return fmt.Errorf("%w: %v", errors.ErrBindSocket, err)
	}
	s.ln = ln

	act, err := newExecutor(actExecutorName, 1, s.logger, s.stats)
	if err != nil {
		_ = ln.Close()
		s.finish()
		return err
	}
	work, err := newExecutor(workExecutorName, s.opts.MaxThreads, s.logger, s.stats)
	if err != nil {
		act.Stop()
		_ = ln.Close()
		s.finish()
		return err
	}

	port := iocp.NewPort(nil)
	r := newReactor(s, port, work, act)
	r.acceptor = newAcceptor(s, ln, port, work)

	atomic.StoreInt32(&s.running, 1)
	r.acceptor.start()
	go s.serve(r)

	s.logger.Infof("spserver is listening on %v, %d work threads, at most %d connections",
		ln.Addr(), s.opts.MaxThreads, s.opts.MaxConnections)
	return nil
}

// RunForever runs the server and blocks until it has been shut down.
func (s *Server) RunForever() error {
	if err := s.Run(); err != nil {
		return err
	}
	<-s.done
	return nil
}

func (s *Server) serve(r *reactor) {
	defer s.finish()
	r.run()
	s.logger.Infof("spserver on %v stopped", s.ln.Addr())
}

func (s *Server) finish() {
	atomic.StoreInt32(&s.running, 0)
	s.closeLogger()
	close(s.done)
}

func (s *Server) closeLogger() {
	if s.flush != nil {
		_ = s.flush()
	}
}

// Shutdown asks the server to stop, it returns at once and may be called any number of times.
// Use Done to wait for the server to finish.
func (s *Server) Shutdown() {
	if atomic.CompareAndSwapInt32(&s.inShut, 0, 1) {
		s.logger.Debugf("spserver shutdown requested")
	}
}

// IsRunning tells whether the event loop is alive.
func (s *Server) IsRunning() bool {
	return atomic.LoadInt32(&s.running) == 1
}

// Done is closed once the server stopped or failed to start.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Addr returns the bound address, it is nil until Run succeeded.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// CountConnections returns the number of admitted connections not yet released.
func (s *Server) CountConnections() int {
	return int(atomic.LoadInt32(&s.connCount))
}

// Stats returns the server's metrics collector.
func (s *Server) Stats() *metrics.Stats {
	return s.stats
}

func (s *Server) releaseSlot() {
	atomic.AddInt32(&s.connCount, -1)
	s.stats.ActiveConnections.Dec()
}

func (s *Server) isInShutdown() bool {
	return atomic.LoadInt32(&s.inShut) == 1
}
