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
	"net"

	"github.com/valyala/bytebufferpool"
)

// Message is an outbound buffer holding reply bytes for one session.
//
// It is owned by the session until it is posted for write, then it travels
// to the completion path and is recycled once the CompletionHandler returned,
// so a CompletionHandler must not retain it.
type Message struct {
	key uint64
	buf *bytebufferpool.ByteBuffer
}

func newMessage(key uint64) *Message {
	return &Message{key: key, buf: bytebufferpool.Get()}
}

// Key returns the key of the session the message belongs to.
func (m *Message) Key() uint64 {
	return m.key
}

// Write appends p to the message.
func (m *Message) Write(p []byte) (int, error) {
	return m.buf.Write(p)
}

// WriteString appends s to the message.
func (m *Message) WriteString(s string) (int, error) {
	return m.buf.WriteString(s)
}

// Bytes returns the accumulated bytes.
func (m *Message) Bytes() []byte {
	return m.buf.B
}

// Len returns the number of accumulated bytes.
func (m *Message) Len() int {
	return m.buf.Len()
}

// Reset drops the accumulated bytes.
func (m *Message) Reset() {
	m.buf.Reset()
}

func (m *Message) release() {
	if m.buf != nil {
		bytebufferpool.Put(m.buf)
		m.buf = nil
	}
}

// Request carries the inbound side of a session to the handler.
type Request struct {
	key        uint64
	remoteAddr net.Addr
	decoder    Decoder
	message    []byte
}

// Key returns the opaque key of the session.
func (r *Request) Key() uint64 {
	return r.key
}

// RemoteAddr returns the address of the peer.
func (r *Request) RemoteAddr() net.Addr {
	return r.remoteAddr
}

// Decoder returns the decoder of the session.
func (r *Request) Decoder() Decoder {
	return r.decoder
}

// SetDecoder replaces the decoder of the session, it is meant to be called from Handler.Start.
func (r *Request) SetDecoder(d Decoder) {
	if d == nil {
		return
	}
	if rel, ok := r.decoder.(releaser); ok && r.decoder != d {
		rel.Release()
	}
	r.decoder = d
}

// Message returns the decoded message being handled.
func (r *Request) Message() []byte {
	return r.message
}

// Response accumulates the reply of the current hook invocation.
type Response struct {
	key   uint64
	reply *Message
}

// Reply returns the message being accumulated.
func (r *Response) Reply() *Message {
	return r.reply
}

// Write appends p to the reply.
func (r *Response) Write(p []byte) (int, error) {
	return r.reply.Write(p)
}

// WriteString appends s to the reply.
func (r *Response) WriteString(s string) (int, error) {
	return r.reply.WriteString(s)
}

// detach hands the accumulated reply over to the caller and starts a fresh one,
// it returns nil when nothing was written.
func (r *Response) detach() *Message {
	if r.reply.Len() == 0 {
		return nil
	}
	msg := r.reply
	r.reply = newMessage(r.key)
	return msg
}

func (r *Response) release() {
	if r.reply != nil {
		r.reply.release()
		r.reply = nil
	}
}
