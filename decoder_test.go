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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errorx "github.com/tzzxqsz/spserver/pkg/errors"
)

func popAll(d Decoder) []string {
	var msgs []string
	for {
		msg, ok := d.Pop()
		if !ok {
			return msgs
		}
		msgs = append(msgs, string(msg))
	}
}

func TestLineDecoder(t *testing.T) {
	t.Run("partial", func(t *testing.T) {
		d := NewLineDecoder()
		defer d.Release()
		require.NoError(t, d.Decode([]byte("hel")))
		assert.Equal(t, 0, d.Len())
		assert.Equal(t, 3, d.Buffered())
		_, ok := d.Peek()
		assert.False(t, ok)

		require.NoError(t, d.Decode([]byte("lo\nwor")))
		assert.Equal(t, 1, d.Len())
		msg, ok := d.Peek()
		require.True(t, ok)
		assert.Equal(t, "hello", string(msg))
		assert.Equal(t, []string{"hello"}, popAll(d))
		assert.Equal(t, 3, d.Buffered())

		require.NoError(t, d.Decode([]byte("ld\r\n")))
		assert.Equal(t, []string{"world"}, popAll(d))
		assert.Zero(t, d.Buffered())
	})

	t.Run("many-in-one-run", func(t *testing.T) {
		d := NewLineDecoder()
		defer d.Release()
		require.NoError(t, d.Decode([]byte("a\r\nb\n\nc")))
		assert.Equal(t, []string{"a", "b", ""}, popAll(d))
		require.NoError(t, d.Decode([]byte("\n")))
		assert.Equal(t, []string{"c"}, popAll(d))
	})

	t.Run("input-reuse", func(t *testing.T) {
		d := NewLineDecoder()
		defer d.Release()
		buf := []byte("abc\n")
		require.NoError(t, d.Decode(buf))
		copy(buf, "xyz\n")
		assert.Equal(t, []string{"abc"}, popAll(d))
	})

	t.Run("only-one-cr-trimmed", func(t *testing.T) {
		d := NewLineDecoder()
		defer d.Release()
		require.NoError(t, d.Decode([]byte("x\r\r\n")))
		assert.Equal(t, []string{"x\r"}, popAll(d))
	})
}

func TestDelimiterDecoder(t *testing.T) {
	d := NewDelimiterDecoder(0)
	defer d.Release()
	require.NoError(t, d.Decode([]byte("one\x00tw")))
	require.NoError(t, d.Decode([]byte("o\r\x00")))
	assert.Equal(t, []string{"one", "two\r"}, popAll(d))
}

func TestFixedLengthDecoder(t *testing.T) {
	d := NewFixedLengthDecoder(4)
	defer d.Release()
	require.NoError(t, d.Decode([]byte("abcdef")))
	assert.Equal(t, []string{"abcd"}, popAll(d))
	require.NoError(t, d.Decode([]byte("gh")))
	assert.Equal(t, []string{"efgh"}, popAll(d))
	require.NoError(t, d.Decode([]byte("ijklmnopq")))
	assert.Equal(t, []string{"ijkl", "mnop"}, popAll(d))

	bad := NewFixedLengthDecoder(0)
	assert.ErrorIs(t, bad.Decode([]byte("x")), errorx.ErrInvalidFixedLength)
}

func TestDefaultDecoder(t *testing.T) {
	d := NewDefaultDecoder()
	buf := []byte("chunk")
	require.NoError(t, d.Decode(buf))
	require.NoError(t, d.Decode(nil))
	buf[0] = 'X'
	assert.Equal(t, 1, d.Len())
	assert.Equal(t, []string{"chunk"}, popAll(d))
	_, ok := d.Pop()
	assert.False(t, ok)
}

func TestResponseDetach(t *testing.T) {
	resp := &Response{key: 7, reply: newMessage(7)}
	defer resp.release()
	assert.Nil(t, resp.detach())

	_, _ = resp.WriteString("hello ")
	_, _ = resp.Write([]byte("world"))
	msg := resp.detach()
	require.NotNil(t, msg)
	defer msg.release()
	assert.Equal(t, "hello world", string(msg.Bytes()))
	assert.EqualValues(t, 7, msg.Key())
	assert.Zero(t, resp.Reply().Len())
}

func TestRequestSetDecoder(t *testing.T) {
	req := &Request{decoder: NewDefaultDecoder()}
	req.SetDecoder(nil)
	assert.IsType(t, &DefaultDecoder{}, req.Decoder())

	line := NewLineDecoder()
	req.SetDecoder(line)
	assert.Same(t, line, req.Decoder())
	require.NoError(t, line.Decode([]byte("abc")))
	req.SetDecoder(NewFixedLengthDecoder(2))
	assert.Zero(t, line.Buffered())
}
