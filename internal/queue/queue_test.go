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

package queue_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzzxqsz/spserver/internal/queue"
)

func TestTaskQueueConcurrent(t *testing.T) {
	const taskNum = 10000
	q := queue.NewTaskQueue()
	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		for i := 0; i < taskNum; i++ {
			q.Enqueue(&queue.Task{Arg: i})
		}
		wg.Done()
	}()
	go func() {
		for i := 0; i < taskNum; i++ {
			q.Enqueue(&queue.Task{Arg: i})
		}
		wg.Done()
	}()

	var counter int32
	consume := func() {
		for {
			task := q.Dequeue()
			if task != nil {
				atomic.AddInt32(&counter, 1)
			}
			if task == nil && atomic.LoadInt32(&counter) == 2*taskNum {
				break
			}
		}
		wg.Done()
	}
	go consume()
	go consume()
	wg.Wait()

	assert.EqualValues(t, 2*taskNum, atomic.LoadInt32(&counter))
	assert.True(t, q.Empty())
	t.Logf("sent and received all %d tasks", 2*taskNum)
}

func TestTaskQueueFIFO(t *testing.T) {
	q := queue.NewTaskQueue()
	require.Nil(t, q.Dequeue(), "empty queue must return the nil sentinel")
	require.Nil(t, q.Peek())

	for i := 0; i < 100; i++ {
		q.Enqueue(&queue.Task{Arg: i})
	}
	q.Enqueue(nil)
	require.Equal(t, 100, q.Len())
	require.Equal(t, 0, q.Peek().Arg)

	for i := 0; i < 100; i++ {
		task := q.Dequeue()
		require.NotNil(t, task)
		require.Equal(t, i, task.Arg)
	}
	require.Nil(t, q.Dequeue())
}

func TestTaskQueueWake(t *testing.T) {
	q := queue.NewTaskQueue()
	select {
	case <-q.Wake():
		t.Fatal("unexpected wake-up on an empty queue")
	default:
	}

	// Several enqueues collapse into one pending signal, the producer never blocks.
	for i := 0; i < 10; i++ {
		q.Enqueue(&queue.Task{})
	}
	select {
	case <-q.Wake():
	default:
		t.Fatal("missing wake-up after enqueue")
	}
	assert.Equal(t, 10, q.Len())
}

func TestTaskPool(t *testing.T) {
	task := queue.GetTask()
	task.Run = func(interface{}) error { return nil }
	task.Arg = 1
	queue.PutTask(task)
	assert.Nil(t, task.Run)
	assert.Nil(t, task.Arg)
}
