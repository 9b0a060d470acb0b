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

package updatecheck

import "errors"

// ErrorClass tags the two kinds of previously observed remote error
// that the engine is allowed to replay from cache instead of requiring
// a new fetch.
type ErrorClass int

const (
	// NoError means there is no cached error to replay.
	NoError ErrorClass = iota
	// NotFoundCached marks a replayed "the remote item does not exist"
	// error.
	NotFoundCached
	// TransferErrorCached marks a replayed transport-level failure.
	TransferErrorCached
)

func (c ErrorClass) String() string {
	switch c {
	case NotFoundCached:
		return "NotFoundCached"
	case TransferErrorCached:
		return "TransferErrorCached"
	default:
		return "NoError"
	}
}

// ErrNoLocalFile is the precondition-violation panic value for a
// Request with an empty LocalFile: section 4.B.4 calls this a
// programmer error, not a recoverable one, so it panics rather than
// returning an error.
var ErrNoLocalFile = errors.New("updatecheck: request has no local file")

// ErrNoSidecar is the precondition-violation panic value for a Touch
// call against a Request with an empty Sidecar: like ErrNoLocalFile,
// this is a programmer error rather than a recoverable one.
var ErrNoSidecar = errors.New("updatecheck: request has no sidecar file")

// sentinel error classes persisted in, and replayed from, the sidecar
// error.<repoId>.<url> entry. These stand in for the original Java
// exception class names (the sidecar format is shared with an existing
// on-disk layout, so the key names and value shapes are preserved; only
// the class-name strings themselves are invented for this Go port).
const (
	notFoundClassName      = "NotFoundException"
	transferErrorClassName = "TransferErrorException"
)
