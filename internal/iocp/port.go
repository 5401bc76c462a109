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

// Package iocp delivers a proactor-style completion port on top of net.Conn.
//
// Reads and writes are submitted up front together with the buffer they own,
// the I/O itself runs on a goroutine taken from an ants pool and its result is
// queued as a Completion which the event loop collects with Wait. A buffer
// moves into the port on submission and comes back exactly once in the
// Completion, the caller must not touch it in between.
package iocp

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/gobwas/pool/pbytes"

	"github.com/tzzxqsz/spserver/pkg/errors"
	"github.com/tzzxqsz/spserver/pkg/pool/goroutine"
)

// Kind tells which kind of operation a Completion reports.
type Kind int

const (
	// KindAccept reports a newly associated connection.
	KindAccept Kind = iota
	// KindRead reports a finished read.
	KindRead
	// KindWrite reports a finished write.
	KindWrite
	// KindNotify carries a user payload posted by Notify.
	KindNotify
)

func (k Kind) String() string {
	switch k {
	case KindAccept:
		return "accept"
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindNotify:
		return "notify"
	}
	return "unknown"
}

// Completion is the result of one operation.
type Completion struct {
	Kind Kind
	// Key is the opaque per-connection key the operation was posted with.
	Key uint64
	// Buf is the buffer the operation owned, handed back to the caller.
	Buf []byte
	// N is the number of bytes transferred.
	N int
	// Err is the error of the operation, if any.
	Err error
	// Conn is the associated connection of a KindAccept completion.
	Conn net.Conn
	// Payload is the value passed to Notify.
	Payload interface{}
}

// Port is a completion port, it is safe for concurrent use.
type Port struct {
	pool     *goroutine.Pool
	keys     uint64
	inflight int64
	closed   int32

	mu          sync.Mutex
	completions *queue.Queue
	wake        chan struct{}
}

// NewPort creates a Port whose I/O runs on pool, a nil pool gets the default one.
func NewPort(pool *goroutine.Pool) *Port {
	if pool == nil {
		pool = goroutine.Default()
	}
	return &Port{
		pool:        pool,
		completions: queue.New(),
		wake:        make(chan struct{}, 1),
	}
}

// NewKey allocates a fresh opaque connection key, keys start from 1.
func (p *Port) NewKey() uint64 {
	return atomic.AddUint64(&p.keys, 1)
}

// GetBuffer returns a read buffer of the given size from the byte pool.
func GetBuffer(size int) []byte {
	return pbytes.GetLen(size)
}

// PutBuffer recycles a buffer obtained from GetBuffer.
func PutBuffer(buf []byte) {
	if cap(buf) > 0 {
		pbytes.Put(buf)
	}
}

// Associate registers a freshly accepted connection under key, the event loop
// will see it as a KindAccept completion.
func (p *Port) Associate(key uint64, conn net.Conn) error {
	if conn == nil {
		return errors.ErrNilConn
	}
	if p.IsClosed() {
		return errors.ErrPortClosed
	}
	p.complete(Completion{Kind: KindAccept, Key: key, Conn: conn})
	return nil
}

// Notify queues a KindNotify completion carrying payload.
func (p *Port) Notify(key uint64, payload interface{}) error {
	if p.IsClosed() {
		return errors.ErrPortClosed
	}
	p.complete(Completion{Kind: KindNotify, Key: key, Payload: payload})
	return nil
}

// PostRead submits a read of at most len(buf) bytes from conn.
// A nil error means the operation is pending and exactly one KindRead completion will follow.
func (p *Port) PostRead(key uint64, conn net.Conn, buf []byte) error {
	if conn == nil {
		return errors.ErrNilConn
	}
	if len(buf) == 0 {
		return errors.ErrEmptyBuffer
	}
	return p.submit(func() {
		n, err := conn.Read(buf)
		if n > 0 {
			// Bytes already transferred win, a persistent error resurfaces on the next read.
			err = nil
		}
		p.complete(Completion{Kind: KindRead, Key: key, Buf: buf, N: n, Err: err})
	})
}

// PostWrite submits a write of the whole buf to conn.
// A nil error means the operation is pending and exactly one KindWrite completion will follow.
func (p *Port) PostWrite(key uint64, conn net.Conn, buf []byte) error {
	if conn == nil {
		return errors.ErrNilConn
	}
	if len(buf) == 0 {
		return errors.ErrEmptyBuffer
	}
	return p.submit(func() {
		n, err := conn.Write(buf)
		p.complete(Completion{Kind: KindWrite, Key: key, Buf: buf, N: n, Err: err})
	})
}

// Go runs fn on the I/O pool, it is meant for short blocking jobs off the event loop.
func (p *Port) Go(fn func()) error {
	return p.submit(fn)
}

func (p *Port) submit(fn func()) error {
	if p.IsClosed() {
		return errors.ErrPortClosed
	}
	atomic.AddInt64(&p.inflight, 1)
	err := p.pool.Submit(func() {
		defer atomic.AddInt64(&p.inflight, -1)
		fn()
	})
	if err != nil {
		atomic.AddInt64(&p.inflight, -1)
	}
	return err
}

func (p *Port) complete(c Completion) {
	p.mu.Lock()
	p.completions.Add(c)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// TryGet returns the next queued completion without blocking.
func (p *Port) TryGet() (c Completion, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.completions.Length() == 0 {
		return
	}
	return p.completions.Remove().(Completion), true
}

// Wait blocks for at most timeout until a completion is available.
func (p *Port) Wait(timeout time.Duration) (Completion, bool) {
	if c, ok := p.TryGet(); ok {
		return c, true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-p.wake:
			if c, ok := p.TryGet(); ok {
				return c, true
			}
		case <-timer.C:
			return p.TryGet()
		}
	}
}

// Len returns the number of completions waiting to be collected.
func (p *Port) Len() int {
	p.mu.Lock()
	n := p.completions.Length()
	p.mu.Unlock()
	return n
}

// Outstanding returns the number of submitted operations that have not completed yet.
func (p *Port) Outstanding() int {
	return int(atomic.LoadInt64(&p.inflight))
}

// IsClosed tells whether Close has been called.
func (p *Port) IsClosed() bool {
	return atomic.LoadInt32(&p.closed) == 1
}

// Close rejects further submissions and releases the I/O pool once every
// outstanding operation finished or the timeout elapsed.
func (p *Port) Close(timeout time.Duration) {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return
	}
	deadline := time.Now().Add(timeout)
	for p.Outstanding() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	p.pool.Release()

	// Drop what nobody is going to collect.
	p.mu.Lock()
	for p.completions.Length() > 0 {
		c := p.completions.Remove().(Completion)
		if c.Kind == KindRead {
			PutBuffer(c.Buf)
		}
		if c.Kind == KindAccept && c.Conn != nil {
			_ = c.Conn.Close()
		}
	}
	p.mu.Unlock()
}
