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
	"bytes"

	"github.com/eapache/queue"
	"github.com/valyala/bytebufferpool"

	"github.com/tzzxqsz/spserver/pkg/errors"
)

// Decoder splits the inbound byte stream of a session into messages.
//
// Decode is fed with every run of bytes received from the peer and appends
// zero or more complete messages to the decoder's queue, partial frames are
// kept across calls. Decode must copy whatever it retains, the slice passed
// in is recycled right after the call. A non-nil error means the decoder
// cannot make progress and the session will be closed after flushing.
type Decoder interface {
	// Decode consumes a run of bytes.
	Decode(data []byte) error
	// Peek returns the oldest decoded message without removing it, ok is false when none is queued.
	Peek() (msg []byte, ok bool)
	// Pop removes and returns the oldest decoded message, ok is false when none is queued.
	Pop() (msg []byte, ok bool)
	// Len returns the number of decoded messages waiting.
	Len() int
}

// releaser is implemented by decoders holding pooled buffers.
type releaser interface {
	Release()
}

type messageQueue struct {
	q *queue.Queue
}

func (mq *messageQueue) push(msg []byte) {
	if mq.q == nil {
		mq.q = queue.New()
	}
	mq.q.Add(msg)
}

// Peek implements Decoder.
func (mq *messageQueue) Peek() ([]byte, bool) {
	if mq.Len() == 0 {
		return nil, false
	}
	return mq.q.Peek().([]byte), true
}

// Pop implements Decoder.
func (mq *messageQueue) Pop() ([]byte, bool) {
	if mq.Len() == 0 {
		return nil, false
	}
	return mq.q.Remove().([]byte), true
}

// Len implements Decoder.
func (mq *messageQueue) Len() int {
	if mq.q == nil {
		return 0
	}
	return mq.q.Length()
}

// DefaultDecoder delivers every run of received bytes as one message.
type DefaultDecoder struct {
	messageQueue
}

// NewDefaultDecoder instantiates a DefaultDecoder.
func NewDefaultDecoder() *DefaultDecoder {
	return new(DefaultDecoder)
}

// Decode implements Decoder.
func (d *DefaultDecoder) Decode(data []byte) error {
	if len(data) > 0 {
		d.push(append([]byte(nil), data...))
	}
	return nil
}

// DelimiterDecoder splits the stream on a delimiter byte, the delimiter is not part of the message.
// There is no upper bound on the length of a pending frame.
type DelimiterDecoder struct {
	messageQueue

	delimiter byte
	trimCR    bool
	pending   *bytebufferpool.ByteBuffer
}

// NewDelimiterDecoder instantiates a decoder splitting on delimiter.
func NewDelimiterDecoder(delimiter byte) *DelimiterDecoder {
	return &DelimiterDecoder{delimiter: delimiter}
}

// NewLineDecoder instantiates a decoder splitting on '\n', a '\r' right before
// the line-feed is dropped as well so that both "\n" and "\r\n" terminate a line.
func NewLineDecoder() *DelimiterDecoder {
	return &DelimiterDecoder{delimiter: '\n', trimCR: true}
}

// Decode implements Decoder.
func (d *DelimiterDecoder) Decode(data []byte) error {
	for len(data) > 0 {
		idx := bytes.IndexByte(data, d.delimiter)
		if idx < 0 {
			if d.pending == nil {
				d.pending = bytebufferpool.Get()
			}
			_, _ = d.pending.Write(data)
			return nil
		}

		var frame []byte
		if d.pending != nil && d.pending.Len() > 0 {
			_, _ = d.pending.Write(data[:idx])
			frame = append([]byte(nil), d.pending.B...)
			d.pending.Reset()
		} else {
			frame = append([]byte(nil), data[:idx]...)
		}
		if d.trimCR && len(frame) > 0 && frame[len(frame)-1] == '\r' {
			frame = frame[:len(frame)-1]
		}
		d.push(frame)
		data = data[idx+1:]
	}
	return nil
}

// Buffered returns the number of bytes of the incomplete frame.
func (d *DelimiterDecoder) Buffered() int {
	if d.pending == nil {
		return 0
	}
	return d.pending.Len()
}

// Release returns the pending buffer to its pool.
func (d *DelimiterDecoder) Release() {
	if d.pending != nil {
		bytebufferpool.Put(d.pending)
		d.pending = nil
	}
}

// FixedLengthDecoder cuts the stream into frames of exactly frameLength bytes.
type FixedLengthDecoder struct {
	messageQueue

	frameLength int
	pending     *bytebufferpool.ByteBuffer
}

// NewFixedLengthDecoder instantiates a decoder with a fixed frame length.
func NewFixedLengthDecoder(frameLength int) *FixedLengthDecoder {
	return &FixedLengthDecoder{frameLength: frameLength}
}

// Decode implements Decoder.
func (d *FixedLengthDecoder) Decode(data []byte) error {
	if d.frameLength <= 0 {
		return errors.ErrInvalidFixedLength
	}
	if d.pending == nil {
		d.pending = bytebufferpool.Get()
	}
	_, _ = d.pending.Write(data)
	buf := d.pending.B
	for len(buf) >= d.frameLength {
		d.push(append([]byte(nil), buf[:d.frameLength]...))
		buf = buf[d.frameLength:]
	}
	d.pending.B = d.pending.B[:copy(d.pending.B, buf)]
	return nil
}

// Release returns the pending buffer to its pool.
func (d *FixedLengthDecoder) Release() {
	if d.pending != nil {
		bytebufferpool.Put(d.pending)
		d.pending = nil
	}
}
