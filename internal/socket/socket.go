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

// Package socket creates the listening socket of the server and tunes the
// options of both listening and accepted sockets.
package socket

import (
	"context"
	"net"
	"strconv"
	"syscall"

	"github.com/libp2p/go-reuseport"
)

// Config describes how the listening socket is set up.
type Config struct {
	// IP is the address to bind, empty means any address.
	IP string
	// Port is the TCP port to bind, 0 picks an ephemeral port.
	Port int
	// ReuseAddr enables SO_REUSEADDR.
	ReuseAddr bool
	// ReusePort enables SO_REUSEPORT.
	ReusePort bool
}

// Address joins the IP and port of the config into a dialable address.
func (c Config) Address() string {
	return net.JoinHostPort(c.IP, strconv.Itoa(c.Port))
}

// Listen binds a TCP listener as described by cfg.
func Listen(ctx context.Context, cfg Config) (net.Listener, error) {
	lc := net.ListenConfig{Control: control(cfg)}
	return lc.Listen(ctx, "tcp", cfg.Address())
}

func control(cfg Config) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		if cfg.ReusePort {
			if err := reuseport.Control(network, address, c); err != nil {
				return err
			}
		}
		if !cfg.ReuseAddr {
			return nil
		}
		var opErr error
		err := c.Control(func(fd uintptr) {
			opErr = SetReuseAddr(int(fd), 1)
		})
		if err != nil {
			return err
		}
		return opErr
	}
}

// SetConnNoDelay toggles TCP_NODELAY on an accepted connection, non-TCP connections are left untouched.
func SetConnNoDelay(conn net.Conn, noDelay bool) error {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return err
	}
	flag := 0
	if noDelay {
		flag = 1
	}
	var opErr error
	if err = raw.Control(func(fd uintptr) {
		opErr = SetNoDelay(int(fd), flag)
	}); err != nil {
		return err
	}
	return opErr
}
