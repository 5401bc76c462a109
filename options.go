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
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tzzxqsz/spserver/internal/math"
	"github.com/tzzxqsz/spserver/pkg/logging"
)

const (
	// DefaultIdleTimeout is the idle timeout applied when none is configured.
	DefaultIdleTimeout = 600 * time.Second
	// DefaultMaxThreads is the default size of the work executor.
	DefaultMaxThreads = 64
	// DefaultMaxConnections is the default cap on concurrent connections.
	DefaultMaxConnections = 256
	// DefaultReqQueueSize is the default backlog of the work executor before connections get refused.
	DefaultReqQueueSize = 128
	// DefaultRefusedMsg is sent to refused clients when no message is configured.
	DefaultRefusedMsg = "System busy, try again later."
	// DefaultReadBufferCap is the default size of the buffer of a read operation.
	DefaultReadBufferCap = 4096
	// DefaultPollTimeout bounds one wait of the event loop.
	DefaultPollTimeout = 100 * time.Millisecond
	// DefaultMaxCompletionsPerLoop bounds the completions handled in one iteration of the event loop.
	DefaultMaxCompletionsPerLoop = 256
	// DefaultShutdownTimeout bounds how long in-flight operations may drain on shutdown.
	DefaultShutdownTimeout = 5 * time.Second
)

// Option is a function that will set up option.
type Option func(opts *Options)

func loadOptions(options ...Option) *Options {
	opts := &Options{
		IdleTimeout: DefaultIdleTimeout,
		TCPNoDelay:  true,
	}
	for _, option := range options {
		option(opts)
	}
	opts.normalize()
	return opts
}

// Options are configurations for the server.
type Options struct {
	// IdleTimeout closes a connection that has been idle for that long, 0 disables the check.
	IdleTimeout time.Duration

	// MaxThreads is the number of workers running handler hooks.
	MaxThreads int

	// MaxConnections caps the number of concurrent connections, further ones are refused.
	MaxConnections int

	// ReqQueueSize caps the backlog of the work executor, connections arriving while
	// the backlog is full are refused.
	ReqQueueSize int

	// RefusedMsg is written verbatim to refused connections before they are closed.
	RefusedMsg string

	// ReusePort indicates whether to set up the SO_REUSEPORT socket option.
	ReusePort bool

	// TCPNoDelay controls TCP_NODELAY on accepted connections, it's on by default.
	TCPNoDelay bool

	// ReadBufferCap is the size of the buffer owned by one read operation.
	ReadBufferCap int

	// PollTimeout bounds one wait of the event loop and thereby the shutdown latency.
	PollTimeout time.Duration

	// MaxCompletionsPerLoop bounds the completions handled before the result queues are drained.
	MaxCompletionsPerLoop int

	// ShutdownTimeout bounds how long outstanding operations may drain on shutdown.
	ShutdownTimeout time.Duration

	// LogPath the local path where logs will be written, this is the easiest way to set up logging,
	// spserver instantiates a default uber-go/zap logger with this given log path, you are also allowed to employ
	// you own logger during the lifetime by implementing the following log.Logger interface.
	//
	// Note that this option can be overridden by the option Logger.
	LogPath string

	// LogLevel indicates the logging level, it should be used along with LogPath.
	LogLevel logging.Level

	// Logger is the customized logger for logging info, if it is not set,
	// then spserver will use the default logger powered by go.uber.org/zap.
	Logger logging.Logger

	// Registerer receives the server's metrics collector when set.
	Registerer prometheus.Registerer
}

func (opts *Options) normalize() {
	if opts.IdleTimeout < 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.MaxThreads <= 0 {
		opts.MaxThreads = DefaultMaxThreads
	}
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = DefaultMaxConnections
	}
	if opts.ReqQueueSize <= 0 {
		opts.ReqQueueSize = DefaultReqQueueSize
	}
	if opts.RefusedMsg == "" {
		opts.RefusedMsg = DefaultRefusedMsg
	}
	if opts.ReadBufferCap <= 0 {
		opts.ReadBufferCap = DefaultReadBufferCap
	} else {
		opts.ReadBufferCap = math.CeilToPowerOfTwo(opts.ReadBufferCap)
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.MaxCompletionsPerLoop <= 0 {
		opts.MaxCompletionsPerLoop = DefaultMaxCompletionsPerLoop
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// WithOptions sets up all options.
func WithOptions(options Options) Option {
	return func(opts *Options) {
		*opts = options
	}
}

// WithIdleTimeout sets up the idle timeout, 0 disables it.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.IdleTimeout = timeout
	}
}

// WithTimeout sets up the idle timeout in seconds, 0 disables it.
func WithTimeout(seconds int) Option {
	return WithIdleTimeout(time.Duration(seconds) * time.Second)
}

// WithMaxThreads sets up the number of workers running handler hooks.
func WithMaxThreads(maxThreads int) Option {
	return func(opts *Options) {
		opts.MaxThreads = maxThreads
	}
}

// WithMaxConnections sets up the cap on concurrent connections.
func WithMaxConnections(maxConnections int) Option {
	return func(opts *Options) {
		opts.MaxConnections = maxConnections
	}
}

// WithReqQueueSize sets up the backlog cap of the work executor and the message sent to refused clients.
func WithReqQueueSize(reqQueueSize int, refusedMsg string) Option {
	return func(opts *Options) {
		opts.ReqQueueSize = reqQueueSize
		opts.RefusedMsg = refusedMsg
	}
}

// WithReusePort sets up SO_REUSEPORT socket option.
func WithReusePort(reusePort bool) Option {
	return func(opts *Options) {
		opts.ReusePort = reusePort
	}
}

// WithTCPNoDelay enable/disable the TCP_NODELAY socket option.
func WithTCPNoDelay(noDelay bool) Option {
	return func(opts *Options) {
		opts.TCPNoDelay = noDelay
	}
}

// WithReadBufferCap sets up the size of the buffer of a read operation.
func WithReadBufferCap(readBufferCap int) Option {
	return func(opts *Options) {
		opts.ReadBufferCap = readBufferCap
	}
}

// WithPollTimeout sets up the bound of one wait of the event loop.
func WithPollTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.PollTimeout = timeout
	}
}

// WithMaxCompletionsPerLoop sets up how many completions one iteration of the event loop may handle.
func WithMaxCompletionsPerLoop(n int) Option {
	return func(opts *Options) {
		opts.MaxCompletionsPerLoop = n
	}
}

// WithShutdownTimeout sets up how long outstanding operations may drain on shutdown.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.ShutdownTimeout = timeout
	}
}

// WithLogPath is an option to set up the local path of log file.
func WithLogPath(fileName string) Option {
	return func(opts *Options) {
		opts.LogPath = fileName
	}
}

// WithLogLevel is an option to set up the logging level.
func WithLogLevel(lvl logging.Level) Option {
	return func(opts *Options) {
		opts.LogLevel = lvl
	}
}

// WithLogger sets up a customized logger.
func WithLogger(logger logging.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithRegisterer registers the server's metrics collector on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(opts *Options) {
		opts.Registerer = reg
	}
}
