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
	"encoding/binary"
	"fmt"

	"github.com/smallnest/goframe"
	"github.com/valyala/bytebufferpool"

	"github.com/tzzxqsz/spserver/pkg/errors"
)

// EncoderConfig configures a LengthFieldEncoder.
type EncoderConfig = goframe.EncoderConfig

// DecoderConfig configures a LengthFieldDecoder.
type DecoderConfig = goframe.DecoderConfig

// LengthFieldDecoder splits the stream on the value of a length field carried in
// every frame, like netty's LengthFieldBasedFrameDecoder.
//
// A frame spans LengthFieldOffset + LengthFieldLength + length + LengthAdjustment
// bytes, the first InitialBytesToStrip of them are dropped from the message.
type LengthFieldDecoder struct {
	messageQueue

	config  DecoderConfig
	pending *bytebufferpool.ByteBuffer
}

// NewLengthFieldDecoder instantiates a decoder with the given configuration,
// a nil ByteOrder means big endian.
func NewLengthFieldDecoder(config DecoderConfig) *LengthFieldDecoder {
	if config.ByteOrder == nil {
		config.ByteOrder = binary.BigEndian
	}
	return &LengthFieldDecoder{config: config}
}

// Decode implements Decoder.
func (d *LengthFieldDecoder) Decode(data []byte) error {
	if d.config.LengthFieldOffset < 0 || d.config.InitialBytesToStrip < 0 {
		return errors.ErrInvalidLengthField
	}
	if d.pending == nil {
		d.pending = bytebufferpool.Get()
	}
	_, _ = d.pending.Write(data)

	buf := d.pending.B
	for {
		header := d.config.LengthFieldOffset + d.config.LengthFieldLength
		if len(buf) < header {
			break
		}
		n, err := readLength(d.config.ByteOrder, buf[d.config.LengthFieldOffset:header], d.config.LengthFieldLength)
		if err != nil {
			return err
		}
		msgLength := int(n) + d.config.LengthAdjustment
		if msgLength < 0 {
			return errors.ErrTooLessLength
		}
		frameLength := header + msgLength
		if d.config.InitialBytesToStrip > frameLength {
			return errors.ErrStripOverflow
		}
		if len(buf) < frameLength {
			break
		}
		d.push(append([]byte(nil), buf[d.config.InitialBytesToStrip:frameLength]...))
		buf = buf[frameLength:]
	}
	d.pending.B = d.pending.B[:copy(d.pending.B, buf)]
	return nil
}

// Buffered returns the number of bytes of the incomplete frame.
func (d *LengthFieldDecoder) Buffered() int {
	if d.pending == nil {
		return 0
	}
	return d.pending.Len()
}

// Release returns the pending buffer to its pool.
func (d *LengthFieldDecoder) Release() {
	if d.pending != nil {
		bytebufferpool.Put(d.pending)
		d.pending = nil
	}
}

// LengthFieldEncoder prepends a length field to outbound payloads, it is the
// counterpart of LengthFieldDecoder.
type LengthFieldEncoder struct {
	config EncoderConfig
}

// NewLengthFieldEncoder instantiates an encoder with the given configuration,
// a nil ByteOrder means big endian.
func NewLengthFieldEncoder(config EncoderConfig) *LengthFieldEncoder {
	if config.ByteOrder == nil {
		config.ByteOrder = binary.BigEndian
	}
	return &LengthFieldEncoder{config: config}
}

// Encode appends the length field followed by payload to resp.
func (e *LengthFieldEncoder) Encode(resp *Response, payload []byte) error {
	length := len(payload) + e.config.LengthAdjustment
	if e.config.LengthIncludesLengthFieldLength {
		length += e.config.LengthFieldLength
	}
	if length < 0 {
		return errors.ErrTooLessLength
	}

	var field [8]byte
	switch e.config.LengthFieldLength {
	case 1:
		if length >= 1<<8 {
			return fmt.Errorf("length does not fit into a byte: %d", length)
		}
		field[0] = byte(length)
	case 2:
		if length >= 1<<16 {
			return fmt.Errorf("length does not fit into a short integer: %d", length)
		}
		e.config.ByteOrder.PutUint16(field[:], uint16(length))
	case 3:
		if length >= 1<<24 {
			return fmt.Errorf("length does not fit into a medium integer: %d", length)
		}
		putUint24(e.config.ByteOrder, field[:], uint32(length))
	case 4:
		e.config.ByteOrder.PutUint32(field[:], uint32(length))
	case 8:
		e.config.ByteOrder.PutUint64(field[:], uint64(length))
	default:
		return errors.ErrUnsupportedLength
	}

	_, _ = resp.Write(field[:e.config.LengthFieldLength])
	_, _ = resp.Write(payload)
	return nil
}

func readLength(byteOrder binary.ByteOrder, b []byte, size int) (uint64, error) {
	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(byteOrder.Uint16(b)), nil
	case 3:
		return readUint24(byteOrder, b), nil
	case 4:
		return uint64(byteOrder.Uint32(b)), nil
	case 8:
		return byteOrder.Uint64(b), nil
	}
	return 0, errors.ErrUnsupportedLength
}

func readUint24(byteOrder binary.ByteOrder, b []byte) uint64 {
	_ = b[2]
	if byteOrder == binary.LittleEndian {
		return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16
	}
	return uint64(b[2]) | uint64(b[1])<<8 | uint64(b[0])<<16
}

func putUint24(byteOrder binary.ByteOrder, b []byte, v uint32) {
	_ = b[2]
	if byteOrder == binary.LittleEndian {
		b[0], b[1], b[2] = byte(v), byte(v>>8), byte(v>>16)
		return
	}
	b[0], b[1], b[2] = byte(v>>16), byte(v>>8), byte(v)
}
