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

import (
	"time"

	"github.com/rs/zerolog"
)

// ErrorPolicy controls whether a previously cached error may be
// replayed in place of requiring a fresh fetch, per section 4.B.2 rule
// 2.
type ErrorPolicy struct {
	CacheNotFound      bool
	CacheTransferError bool
}

// Request is one update-check call, generic over the identity of the
// item being checked (an artifact coordinate, a metadata path, or
// whatever the caller's own domain model uses). It corresponds to
// spec.md's UpdateCheck<T> record.
type Request[T any] struct {
	// Item identifies what is being checked in the caller's own terms;
	// Check does not read it, Kind/ItemIdentity below drive the decision.
	Item T

	// LocalFile is the path the artifact or metadata would occupy on
	// disk. It must be non-empty: an empty LocalFile is a programmer
	// error (section 4.B.4) and Check panics.
	LocalFile string
	// Sidecar is the path to the .properties-style side-channel file
	// that stores LastUpdated/error state across builds (section
	// 4.B.3). It must be non-empty whenever Touch is called; Check does
	// not read it.
	Sidecar string

	AuthoritativeRepositoryID string
	EffectiveRepositoryID     string
	URL                       string
	ItemIdentity              string
	Kind                      string

	Policy      string
	LastUpdated time.Time
	FileExists  bool
	FileValid   bool

	PreviousErrorClass ErrorClass
	PreviousError      error

	ErrorPolicy ErrorPolicy

	// Required and Exception are set by Check.
	Required  bool
	Exception error
}

func (r *Request[T]) dedupKey() DedupKey {
	return DedupKey{
		RepositoryID: r.AuthoritativeRepositoryID,
		URL:          r.URL,
		ItemIdentity: r.ItemIdentity,
		Kind:         r.Kind,
	}
}

// Engine evaluates Requests. The zero Engine is ready to use and logs
// nothing; construct with NewEngine to attach a logger.
type Engine struct {
	log *zerolog.Logger
	now func() time.Time
}

// NewEngine returns an Engine that logs decisions through log.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: &log}
}

func (e *Engine) logger() zerolog.Logger {
	if e == nil || e.log == nil {
		return zerolog.Nop()
	}
	return *e.log
}

func (e *Engine) clock() time.Time {
	if e != nil && e.now != nil {
		return e.now()
	}
	return time.Now()
}

// Check evaluates req against sess and sets req.Required and
// req.Exception, implementing the rule order of section 4.B.2.
// Check panics with ErrNoLocalFile if req.LocalFile is empty.
//
// Check is a free function rather than a method because Go methods
// cannot carry their own type parameters; Engine supplies the clock
// and logger, Request[T] supplies the decision inputs.
func Check[T any](e *Engine, sess *Session, req *Request[T]) {
	if req.LocalFile == "" {
		panic(ErrNoLocalFile)
	}

	key := req.dedupKey()
	log := e.logger().With().
		Str("repository", req.AuthoritativeRepositoryID).
		Str("url", req.URL).
		Str("kind", req.Kind).
		Logger()

	// Rule 1: session dedup.
	if entry, touched := sess.lookup(key); touched {
		req.Required = false
		req.Exception = entry.err
		log.Debug().Msg("update check short-circuited by session dedup")
		return
	}

	// Rule 2: absent or invalid local file.
	if !req.FileExists || !req.FileValid {
		if req.PreviousErrorClass == NotFoundCached && req.ErrorPolicy.CacheNotFound {
			req.Required = false
			req.Exception = req.PreviousError
			sess.record(key, NotFoundCached, req.PreviousError)
			log.Debug().Msg("replaying cached not-found error")
			return
		}
		if req.PreviousErrorClass == TransferErrorCached && req.ErrorPolicy.CacheTransferError {
			req.Required = false
			req.Exception = req.PreviousError
			sess.record(key, TransferErrorCached, req.PreviousError)
			log.Debug().Msg("replaying cached transfer error")
			return
		}
		policy := ParsePolicy(req.Policy)
		if policy.kind == kindNever && req.LastUpdated.IsZero() {
			req.Required = false
			sess.record(key, NoError, nil)
			log.Debug().Msg("never policy with no prior check suppresses fetch of missing file")
			return
		}
		req.Required = true
		req.Exception = nil
		sess.record(key, NoError, nil)
		log.Debug().Msg("local file missing or invalid, fetch required")
		return
	}

	// Rule 3/4: present, valid file; evaluate staleness.
	policy := ParsePolicy(req.Policy)
	req.Required = policy.stale(req.LastUpdated, e.clock())
	req.Exception = nil
	sess.record(key, NoError, nil)
	log.Debug().Bool("required", req.Required).Str("policy", req.Policy).Msg("staleness evaluated")
}

// Touch persists the outcome of req to its Sidecar file: the current
// time as LastUpdated, and outcomeClass as the cached error class (or
// clears any cached error when outcomeClass is NoError).
func Touch[T any](e *Engine, req *Request[T], outcomeClass ErrorClass) error {
	if req.Sidecar == "" {
		panic(ErrNoSidecar)
	}
	now := e.clock()
	if err := writeSidecar(req.Sidecar, req.AuthoritativeRepositoryID, req.URL, now, outcomeClass); err != nil {
		e.logger().Warn().Err(err).Str("sidecar", req.Sidecar).Msg("failed to persist update-check sidecar")
		return err
	}
	return nil
}

// Read loads the persisted LastUpdated and cached-error class for
// (repositoryID, url) out of the sidecar at path. A missing or
// unreadable sidecar yields a zero time and NoError, never an error.
func Read(path, repositoryID, url string) (time.Time, ErrorClass) {
	rec := readSidecar(path, repositoryID, url)
	return rec.lastUpdated, rec.class
}
