// Copyright 2023 Google LLC
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

//go:build unix

package proputil

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockShared and lockExclusive take an advisory BSD (flock-style) lock
// on f's descriptor, scoped to the duration of the caller's I/O, and
// return a function that releases it. The lock is always released via
// the caller's defer, even if the I/O between acquisition and release
// panics.
func lockShared(f *os.File) (func(), error) {
	return flock(f, unix.LOCK_SH)
}

func lockExclusive(f *os.File) (func(), error) {
	return flock(f, unix.LOCK_EX)
}

func flock(f *os.File, how int) (func(), error) {
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		return nil, err
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	}, nil
}
