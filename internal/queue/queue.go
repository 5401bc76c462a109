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

// Package queue provides the task type handed between the reactor and the executors
// and the unbounded FIFO that carries it.
package queue

import (
	"sync"

	"github.com/eapache/queue"
)

// TaskFunc is the callback function executed by an executor worker.
type TaskFunc func(interface{}) error

// Task is a wrapper that contains function and its argument.
type Task struct {
	Run TaskFunc
	Arg interface{}
}

var taskPool = sync.Pool{New: func() interface{} { return new(Task) }}

// GetTask gets a cached Task from pool.
func GetTask() *Task {
	return taskPool.Get().(*Task)
}

// PutTask puts the trashy Task back in pool.
func PutTask(task *Task) {
	task.Run, task.Arg = nil, nil
	taskPool.Put(task)
}

// TaskQueue is an unbounded FIFO of tasks guarded by a mutex, producers never block
// and every Enqueue leaves a wake-up signal for a consumer waiting on Wake.
type TaskQueue struct {
	mu    sync.Mutex
	tasks *queue.Queue
	wake  chan struct{}
}

// NewTaskQueue instantiates an empty TaskQueue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{tasks: queue.New(), wake: make(chan struct{}, 1)}
}

// Enqueue appends a task to the tail of the queue, nil tasks are ignored.
func (q *TaskQueue) Enqueue(task *Task) {
	if task == nil {
		return
	}
	q.mu.Lock()
	q.tasks.Add(task)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Dequeue removes and returns the head of the queue, or nil when the queue is empty.
func (q *TaskQueue) Dequeue() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tasks.Length() == 0 {
		return nil
	}
	return q.tasks.Remove().(*Task)
}

// Peek returns the head of the queue without removing it, or nil when the queue is empty.
func (q *TaskQueue) Peek() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tasks.Length() == 0 {
		return nil
	}
	return q.tasks.Peek().(*Task)
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	n := q.tasks.Length()
	q.mu.Unlock()
	return n
}

// Empty tells whether the queue holds no task.
func (q *TaskQueue) Empty() bool {
	return q.Len() == 0
}

// Wake returns the channel signaled after Enqueue, consumers select on it while the queue is empty.
func (q *TaskQueue) Wake() <-chan struct{} {
	return q.wake
}
