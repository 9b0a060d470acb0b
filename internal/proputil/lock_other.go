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

//go:build !unix

package proputil

import "os"

// lockShared and lockExclusive degrade to no-ops on platforms without a
// BSD flock equivalent wired up here (the sidecar state is still
// correct for a single process; only cross-process mutual exclusion is
// lost).
func lockShared(f *os.File) (func(), error) {
	return func() {}, nil
}

func lockExclusive(f *os.File) (func(), error) {
	return func() {}, nil
}
