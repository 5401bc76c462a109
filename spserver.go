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

// Action is what a handler hook asks the server to do with the connection.
type Action int

const (
	// None keeps the connection open.
	None Action = 0

	// Close closes the connection once the output already queued has been flushed.
	Close Action = -1
)

// Handler is the per-connection application logic, one instance serves exactly one connection.
//
// The hooks of one Handler never run concurrently, they run on the work
// executor and never on the event loop.
type Handler interface {
	// Start fires once when the connection has been admitted, before anything is read.
	// It is the place to install a Decoder through req.SetDecoder and to write a greeting.
	Start(req *Request, resp *Response) Action

	// Handle fires for every decoded message, req.Message() returns it.
	Handle(req *Request, resp *Response) Action

	// Error fires once on an I/O failure, right before the connection is torn down.
	// Nothing written to resp reaches the peer.
	Error(resp *Response)

	// Timeout fires once when the connection stayed idle past the configured timeout,
	// resp is flushed and then the connection is closed.
	Timeout(resp *Response)

	// Close fires exactly once when the connection is gone, whatever the reason.
	Close()
}

// BuiltinHandler is a built-in implementation of Handler whose hooks do nothing,
// embed it to implement only the hooks you care about.
type BuiltinHandler struct{}

// Start keeps the connection open.
func (*BuiltinHandler) Start(_ *Request, _ *Response) Action {
	return None
}

// Handle keeps the connection open.
func (*BuiltinHandler) Handle(_ *Request, _ *Response) Action {
	return None
}

// Error does nothing.
func (*BuiltinHandler) Error(_ *Response) {}

// Timeout does nothing.
func (*BuiltinHandler) Timeout(_ *Response) {}

// Close does nothing.
func (*BuiltinHandler) Close() {}

// HandlerFactory creates one Handler per accepted connection, the session takes ownership of it.
type HandlerFactory interface {
	Create() Handler
}

// HandlerFactoryFunc is an adapter allowing an ordinary function to be used as a HandlerFactory.
type HandlerFactoryFunc func() Handler

// Create calls f.
func (f HandlerFactoryFunc) Create() Handler {
	return f()
}

// CompletionHandler is told about every reply written to the network.
// It runs on the single-worker act executor, in the order the writes completed.
type CompletionHandler interface {
	Completed(msg *Message)
}

// CompletionHandlerFactory is implemented by a HandlerFactory that wants to observe written replies.
type CompletionHandlerFactory interface {
	CreateCompletionHandler() CompletionHandler
}

type nopCompletionHandler struct{}

func (nopCompletionHandler) Completed(*Message) {}
