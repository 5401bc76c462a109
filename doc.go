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

/*
Package spserver implements a completion-driven TCP server engine.

An acceptor admits connections up to a limit and associates them with a
completion port, a single event loop posts one read and one write at a time per
connection and turns finished operations into tasks: handler hooks run on a
pool of work threads, write completions are reported one by one on a single
act thread. A handler never sees bytes before its decoder framed them into
messages, and never runs concurrently with itself for the same connection.

Line echo server:

	package main

	import (
		"log"
		"strings"

		"github.com/tzzxqsz/spserver"
	)

	type echoHandler struct {
		spserver.BuiltinHandler
	}

	func (h *echoHandler) Start(req *spserver.Request, resp *spserver.Response) spserver.Action {
		req.SetDecoder(spserver.NewLineDecoder())
		return spserver.None
	}

	func (h *echoHandler) Handle(req *spserver.Request, resp *spserver.Response) spserver.Action {
		if strings.EqualFold(string(req.Message()), "quit") {
			_, _ = resp.WriteString("Byebye\r\n")
			return spserver.Close
		}
		_, _ = resp.Write(req.Message())
		_, _ = resp.WriteString("\r\n")
		return spserver.None
	}

	func main() {
		factory := spserver.HandlerFactoryFunc(func() spserver.Handler { return new(echoHandler) })
		srv, err := spserver.NewServer("", 3333, factory, spserver.WithMaxThreads(4))
		if err != nil {
			log.Fatal(err)
		}
		log.Fatal(srv.RunForever())
	}
*/
package spserver
