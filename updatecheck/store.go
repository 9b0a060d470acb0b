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
	"strconv"
	"time"

	"deps.dev/util/artifact/internal/proputil"
)

// sidecarRecord is what Touch persists and Read retrieves for one
// (repositoryId, url) pair: the last remote-check time, and the class
// of any error observed at that time.
type sidecarRecord struct {
	lastUpdated time.Time
	class       ErrorClass
}

func lastUpdatedKey(repositoryID, url string) string {
	return "last.updated." + repositoryID + "." + url
}

func errorKey(repositoryID, url string) string {
	return "error." + repositoryID + "." + url
}

// readSidecar loads path and extracts the record for (repositoryID,
// url). An unreadable or missing sidecar, or a missing entry, is
// reported as "no timestamp available" rather than an error, per
// section 4.B.4.
func readSidecar(path, repositoryID, url string) sidecarRecord {
	props, err := proputil.LoadFile(path)
	if err != nil {
		return sidecarRecord{}
	}
	var rec sidecarRecord
	if v, ok := props.Get(lastUpdatedKey(repositoryID, url)); ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			rec.lastUpdated = time.UnixMilli(ms)
		}
	}
	if v, ok := props.Get(errorKey(repositoryID, url)); ok {
		switch v {
		case notFoundClassName:
			rec.class = NotFoundCached
		case transferErrorClassName:
			rec.class = TransferErrorCached
		}
	}
	return rec
}

// writeSidecar records now and class for (repositoryID, url) into
// path, preserving every other key=value entry already present (other
// repositories' or URLs' bookkeeping). Comment lines and lines without
// '=' are not kept.
func writeSidecar(path, repositoryID, url string, now time.Time, class ErrorClass) error {
	props, err := proputil.LoadFile(path)
	if err != nil {
		return err
	}
	props.Set(lastUpdatedKey(repositoryID, url), strconv.FormatInt(now.UnixMilli(), 10))
	switch class {
	case NotFoundCached:
		props.Set(errorKey(repositoryID, url), notFoundClassName)
	case TransferErrorCached:
		props.Set(errorKey(repositoryID, url), transferErrorClassName)
	default:
		props.Delete(errorKey(repositoryID, url))
	}
	return proputil.StoreFile(path, props)
}
