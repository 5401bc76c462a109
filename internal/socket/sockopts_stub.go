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

//go:build !linux && !freebsd && !dragonfly && !darwin && !netbsd && !openbsd
// +build !linux,!freebsd,!dragonfly,!darwin,!netbsd,!openbsd

package socket

// SetNoDelay is a no-op on this platform, Go enables TCP_NODELAY on TCP connections by default.
func SetNoDelay(_, _ int) error {
	return nil
}

// SetReuseAddr is a no-op on this platform.
func SetReuseAddr(_, _ int) error {
	return nil
}

// GetNoDelay always reports TCP_NODELAY as enabled on this platform.
func GetNoDelay(_ int) (int, error) {
	return 1, nil
}
