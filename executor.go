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
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/tzzxqsz/spserver/internal/queue"
	"github.com/tzzxqsz/spserver/pkg/errors"
	"github.com/tzzxqsz/spserver/pkg/logging"
	"github.com/tzzxqsz/spserver/pkg/metrics"
	"github.com/tzzxqsz/spserver/pkg/pool/goroutine"
)

// executor is a fixed-size pool of workers draining one task queue.
//
// Execute only enqueues, a dispatcher goroutine moves tasks in FIFO order into
// an ants pool of exactly size workers and blocks while all of them are busy,
// so a single-worker executor runs its tasks one after another in order.
type executor struct {
	name    string
	tasks   *queue.TaskQueue
	pool    *goroutine.Pool
	logger  logging.Logger
	stats   *metrics.Stats
	done    chan struct{}
	stopped int32

	dispatcher sync.WaitGroup
	inflight   sync.WaitGroup
}

func newExecutor(name string, size int, logger logging.Logger, stats *metrics.Stats) (*executor, error) {
	e := &executor{
		name:   name,
		tasks:  queue.NewTaskQueue(),
		logger: logger,
		stats:  stats,
		done:   make(chan struct{}),
	}
	pool, err := goroutine.NewFixed(size, func(v interface{}) {
		logger.Errorf("worker of executor %q exits from panic: %v", name, v)
	})
	if err != nil {
		return nil, err
	}
	e.pool = pool
	e.dispatcher.Add(1)
	go e.dispatch()
	return e, nil
}

// Execute enqueues task and returns at once.
func (e *executor) Execute(task *queue.Task) error {
	if task == nil || task.Run == nil {
		return errors.ErrNilRunnable
	}
	if atomic.LoadInt32(&e.stopped) == 1 {
		return errors.ErrExecutorStopped
	}
	e.tasks.Enqueue(task)
	return nil
}

// Pending returns the number of tasks waiting for a worker.
func (e *executor) Pending() int {
	return e.tasks.Len()
}

// Size returns the number of workers.
func (e *executor) Size() int {
	return e.pool.Cap()
}

func (e *executor) dispatch() {
	defer e.dispatcher.Done()
	for {
		task := e.tasks.Dequeue()
		if task == nil {
			select {
			case <-e.tasks.Wake():
				continue
			case <-e.done:
				if e.tasks.Empty() {
					return
				}
				continue
			}
		}

		e.inflight.Add(1)
		if err := e.pool.Submit(func() { e.run(task) }); err != nil {
			e.logger.Warnf("executor %q failed to submit task, running it inline: %v", e.name, err)
			e.run(task)
		}
	}
}

func (e *executor) run(task *queue.Task) {
	defer e.inflight.Done()
	defer queue.PutTask(task)
	defer func() {
		if r := recover(); r != nil {
			e.stats.TaskPanics.WithLabelValues(e.name).Inc()
			e.logger.Errorf("task of executor %q panicked: %v\n%s", e.name, r, debug.Stack())
		}
	}()

	e.stats.TasksExecuted.WithLabelValues(e.name).Inc()
	if err := task.Run(task.Arg); err != nil {
		e.logger.Debugf("task of executor %q returned error: %v", e.name, err)
	}
}

// Stop refuses new tasks, runs every task already queued, waits for them and releases the workers.
func (e *executor) Stop() {
	if !atomic.CompareAndSwapInt32(&e.stopped, 0, 1) {
		return
	}
	close(e.done)
	e.dispatcher.Wait()
	for task := e.tasks.Dequeue(); task != nil; task = e.tasks.Dequeue() {
		e.inflight.Add(1)
		e.run(task)
	}
	e.inflight.Wait()
	e.pool.Release()
}

func (e *executor) String() string {
	return fmt.Sprintf("executor(%s, workers=%d, pending=%d)", e.name, e.Size(), e.Pending())
}
