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

package iocp

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzzxqsz/spserver/pkg/errors"
)

func waitCompletion(t *testing.T, p *Port) Completion {
	t.Helper()
	c, ok := p.Wait(5 * time.Second)
	require.True(t, ok, "timed out waiting for a completion")
	return c
}

func TestPortOneCompletionPerRead(t *testing.T) {
	const n = 64
	p := NewPort(nil)
	defer p.Close(time.Second)

	clients := make([]net.Conn, n)
	keys := make(map[uint64]int, n)
	for i := 0; i < n; i++ {
		srv, cli := net.Pipe()
		defer srv.Close()
		defer cli.Close()
		clients[i] = cli
		key := p.NewKey()
		keys[key] = i
		require.NoError(t, p.PostRead(key, srv, GetBuffer(64)))
	}
	for i, cli := range clients {
		go func(i int, c net.Conn) {
			_, _ = c.Write([]byte{byte(i)})
		}(i, cli)
	}

	seen := make(map[uint64]int, n)
	for i := 0; i < n; i++ {
		c := waitCompletion(t, p)
		require.Equal(t, KindRead, c.Kind)
		require.NoError(t, c.Err)
		require.Equal(t, 1, c.N)
		idx, ok := keys[c.Key]
		require.True(t, ok)
		assert.Equal(t, byte(idx), c.Buf[0])
		seen[c.Key]++
		PutBuffer(c.Buf)
	}
	assert.Len(t, seen, n)
	for key, cnt := range seen {
		assert.Equal(t, 1, cnt, "key %d completed more than once", key)
	}

	_, ok := p.Wait(50 * time.Millisecond)
	assert.False(t, ok, "no completion may be duplicated")
	assert.Equal(t, 0, p.Outstanding())
}

func TestPortWriteAndPeerClose(t *testing.T) {
	p := NewPort(nil)
	defer p.Close(time.Second)

	srv, cli := net.Pipe()
	defer srv.Close()

	key := p.NewKey()
	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 5)
		_, _ = io.ReadFull(cli, buf)
		got <- buf
		_ = cli.Close()
	}()

	require.NoError(t, p.PostWrite(key, srv, []byte("hello")))
	c := waitCompletion(t, p)
	assert.Equal(t, KindWrite, c.Kind)
	assert.Equal(t, key, c.Key)
	assert.Equal(t, 5, c.N)
	assert.NoError(t, c.Err)
	assert.Equal(t, "hello", string(<-got))

	require.NoError(t, p.PostRead(key, srv, GetBuffer(16)))
	c = waitCompletion(t, p)
	assert.Equal(t, KindRead, c.Kind)
	assert.Equal(t, 0, c.N)
	assert.ErrorIs(t, c.Err, io.EOF)
}

func TestPortAssociateAndNotify(t *testing.T) {
	p := NewPort(nil)
	defer p.Close(time.Second)

	srv, cli := net.Pipe()
	defer cli.Close()

	key := p.NewKey()
	require.NoError(t, p.Associate(key, srv))
	require.NoError(t, p.Notify(key, "done"))
	assert.Equal(t, 2, p.Len())

	c := waitCompletion(t, p)
	assert.Equal(t, KindAccept, c.Kind)
	assert.Equal(t, srv, c.Conn)
	c = waitCompletion(t, p)
	assert.Equal(t, KindNotify, c.Kind)
	assert.Equal(t, "done", c.Payload)

	assert.ErrorIs(t, p.Associate(key, nil), errors.ErrNilConn)
	assert.ErrorIs(t, p.PostRead(key, srv, nil), errors.ErrEmptyBuffer)
	assert.ErrorIs(t, p.PostWrite(key, nil, []byte("x")), errors.ErrNilConn)
}

func TestPortClosed(t *testing.T) {
	p := NewPort(nil)
	srv, cli := net.Pipe()
	defer srv.Close()
	defer cli.Close()

	p.Close(time.Second)
	p.Close(time.Second)
	assert.True(t, p.IsClosed())
	assert.ErrorIs(t, p.PostRead(1, srv, GetBuffer(8)), errors.ErrPortClosed)
	assert.ErrorIs(t, p.PostWrite(1, srv, []byte("x")), errors.ErrPortClosed)
	assert.ErrorIs(t, p.Notify(1, nil), errors.ErrPortClosed)
	assert.ErrorIs(t, p.Associate(1, srv), errors.ErrPortClosed)
}

func TestPortCancelledRead(t *testing.T) {
	p := NewPort(nil)
	defer p.Close(time.Second)

	srv, cli := net.Pipe()
	defer cli.Close()

	require.NoError(t, p.PostRead(7, srv, GetBuffer(8)))
	_, ok := p.Wait(20 * time.Millisecond)
	require.False(t, ok)

	_ = srv.Close()
	c := waitCompletion(t, p)
	assert.Equal(t, uint64(7), c.Key)
	assert.Error(t, c.Err)
	assert.Equal(t, 0, c.N)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "accept", KindAccept.String())
	assert.Equal(t, "read", KindRead.String())
	assert.Equal(t, "write", KindWrite.String())
	assert.Equal(t, "notify", KindNotify.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
