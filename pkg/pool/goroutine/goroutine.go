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

// Package goroutine wraps github.com/panjf2000/ants/v2 into the two kinds of
// pools the server needs: a large non-blocking pool for outstanding I/O operations
// and small fixed-size blocking pools backing the executors.
package goroutine

import (
	"time"

	"github.com/panjf2000/ants/v2"
)

const (
	// DefaultAntsPoolSize sets up the capacity of the I/O pool, 256 * 1024.
	DefaultAntsPoolSize = 1 << 18

	// ExpiryDuration is the interval time to clean up those expired workers.
	ExpiryDuration = 10 * time.Second

	// Nonblocking decides what to do when submitting a new task to a full I/O pool:
	// waiting for an available worker or returning ants.ErrPoolOverload directly.
	Nonblocking = true
)

func init() {
	// It releases the default pool from ants.
	ants.Release()
}

// Pool is the alias of ants.Pool.
type Pool = ants.Pool

// PanicHandler is invoked with the recovered value when a submitted func panics.
type PanicHandler = func(interface{})

// Default instantiates a non-blocking *Pool with the capacity of DefaultAntsPoolSize.
func Default() *Pool {
	options := ants.Options{ExpiryDuration: ExpiryDuration, Nonblocking: Nonblocking}
	defaultAntsPool, _ := ants.NewPool(DefaultAntsPoolSize, ants.WithOptions(options))
	return defaultAntsPool
}

// NewFixed instantiates a blocking *Pool with exactly size workers, submitting to a full
// pool waits until a worker is returned, which keeps a single-worker pool strictly serial.
func NewFixed(size int, panicHandler PanicHandler) (*Pool, error) {
	if size <= 0 {
		size = 1
	}
	return ants.NewPool(size,
		ants.WithPreAlloc(true),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(ExpiryDuration),
		ants.WithPanicHandler(panicHandler))
}
