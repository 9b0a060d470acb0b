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

package lockd

import (
	"testing"
	"time"
)

func mustGrant(t *testing.T, g *grantTracker, timeout time.Duration) {
	t.Helper()
	select {
	case <-g.done:
	case <-time.After(timeout):
		t.Fatalf("grant not delivered within %v", timeout)
	}
}

func mustNotGrant(t *testing.T, g *grantTracker, wait time.Duration) {
	t.Helper()
	select {
	case <-g.done:
		t.Fatalf("grant delivered, want still pending")
	case <-time.After(wait):
	}
}

func TestLockTwoSharedGrantImmediately(t *testing.T) {
	l := newLock()
	g1 := newGrantTracker(1)
	g2 := newGrantTracker(1)
	l.enqueue("a", true, g1)
	l.advance()
	l.enqueue("b", true, g2)
	l.advance()
	mustGrant(t, g1, time.Second)
	mustGrant(t, g2, time.Second)
}

func TestLockExclusiveWaitsForSharedRelease(t *testing.T) {
	l := newLock()
	g1 := newGrantTracker(1)
	l.enqueue("a", true, g1)
	l.advance()
	mustGrant(t, g1, time.Second)

	g2 := newGrantTracker(1)
	l.enqueue("x", false, g2)
	l.advance()
	mustNotGrant(t, g2, 50*time.Millisecond)

	l.release("a")
	mustGrant(t, g2, time.Second)
}

func TestLockContiguousSharedBatchPromotion(t *testing.T) {
	l := newLock()
	gHolder := newGrantTracker(1)
	l.enqueue("holder", false, gHolder)
	l.advance()
	mustGrant(t, gHolder, time.Second)

	gs1 := newGrantTracker(1)
	gs2 := newGrantTracker(1)
	gEx := newGrantTracker(1)
	gs3 := newGrantTracker(1)
	l.enqueue("s1", true, gs1)
	l.enqueue("s2", true, gs2)
	l.enqueue("ex", false, gEx)
	l.enqueue("s3", true, gs3)
	l.advance()

	l.release("holder")

	mustGrant(t, gs1, time.Second)
	mustGrant(t, gs2, time.Second)
	mustNotGrant(t, gEx, 50*time.Millisecond)
	mustNotGrant(t, gs3, 50*time.Millisecond)
}

func TestLockCancelSkipsWaiterAndDoesNotBlockOthers(t *testing.T) {
	l := newLock()
	gHolder := newGrantTracker(1)
	l.enqueue("holder", false, gHolder)
	l.advance()
	mustGrant(t, gHolder, time.Second)

	gCancel := newGrantTracker(1)
	gNext := newGrantTracker(1)
	l.enqueue("cancel-me", false, gCancel)
	l.enqueue("next", false, gNext)
	l.advance()

	l.cancel("cancel-me")
	l.release("holder")

	mustNotGrant(t, gCancel, 50*time.Millisecond)
	mustGrant(t, gNext, time.Second)
}
