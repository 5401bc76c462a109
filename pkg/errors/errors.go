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

// Package errors defines common errors for spserver.
package errors

import "errors"

var (
	// ErrServerShutdown occurs when the server is closing.
	ErrServerShutdown = errors.New("spserver: server is going to be shutdown")
	// ErrServerStarted occurs when Run or RunForever is called on a server that has already been started.
	ErrServerStarted = errors.New("spserver: server has already been started")
	// ErrNilHandlerFactory occurs when a server is created without a handler factory.
	ErrNilHandlerFactory = errors.New("spserver: handler factory must not be nil")
	// ErrInvalidPort occurs when the listening port is out of range.
	ErrInvalidPort = errors.New("spserver: port must be in [0, 65535]")
	// ErrBindSocket occurs when the listening socket cannot be set up.
	ErrBindSocket = errors.New("spserver: failed to bind the listening socket")
	// ErrAcceptSocket occurs when acceptor does not accept the new connection properly.
	ErrAcceptSocket = errors.New("spserver: accept a new connection error")
	// ErrTooManyConnections occurs when a connection is refused because MaxConnections is reached.
	ErrTooManyConnections = errors.New("spserver: too many connections")
	// ErrQueueFull occurs when a connection is refused because the request queue is full.
	ErrQueueFull = errors.New("spserver: request queue is full")

	// ================================ completion port errors ================================.

	// ErrPortClosed occurs when posting an operation to a closed completion port.
	ErrPortClosed = errors.New("spserver: completion port is closed")
	// ErrNilConn occurs when posting an operation without a connection.
	ErrNilConn = errors.New("spserver: the net.Conn is empty")
	// ErrEmptyBuffer occurs when posting a read or write with an empty buffer.
	ErrEmptyBuffer = errors.New("spserver: operation buffer is empty")

	// ===================================== executor errors ==================================.

	// ErrNilRunnable occurs when trying to execute a nil task.
	ErrNilRunnable = errors.New("spserver: nil runnable is not allowed")
	// ErrExecutorStopped occurs when submitting to a stopped executor.
	ErrExecutorStopped = errors.New("spserver: executor has been stopped")

	// ====================================== codec errors ====================================.

	// ErrInvalidFixedLength occurs when a fixed-length decoder is configured with a non-positive length.
	ErrInvalidFixedLength = errors.New("spserver: invalid fixed length of bytes")
	// ErrUnsupportedLength occurs when the length field has an unsupported size.
	ErrUnsupportedLength = errors.New("spserver: unsupported length field size, only 1, 2, 3, 4 and 8 are supported")
	// ErrTooLessLength occurs when the adjusted frame length is negative.
	ErrTooLessLength = errors.New("spserver: adjusted frame length is less than zero")
	// ErrStripOverflow occurs when more bytes are to be stripped than a frame holds.
	ErrStripOverflow = errors.New("spserver: initial bytes to strip exceed the frame length")
	// ErrInvalidLengthField occurs when a length-field decoder has a negative offset or strip count.
	ErrInvalidLengthField = errors.New("spserver: length field offset and bytes to strip must not be negative")
	// ErrDecoderPanic occurs when a decoder panics while decoding.
	ErrDecoderPanic = errors.New("spserver: decoder panicked")
	// ErrHandlerPanic occurs when a handler hook panics.
	ErrHandlerPanic = errors.New("spserver: handler panicked")
)
