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

/*
Package lockclient is the client library for the lockd daemon: it opens
a connection, establishes shared or exclusive contexts, acquires key
sets, and releases them, translating wire-level failures into the
sentinel errors of this package.
*/
package lockclient

import "errors"

// ErrProtocol is returned when the daemon sends a frame this client
// cannot make sense of: wrong command in a response, or a malformed
// handshake.
var ErrProtocol = errors.New("lockclient: malformed response from lock daemon")

// ErrUnavailable is returned when the daemon cannot be reached, or the
// connection is lost mid-call, and auto-spawn (if attempted) failed.
var ErrUnavailable = errors.New("lockclient: lock daemon unavailable")
