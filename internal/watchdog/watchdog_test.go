// Copyright 2025 Tom Barlow
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

package watchdog

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitExpired(t *testing.T, w *Watchdog) {
	t.Helper()
	select {
	case <-w.Expired():
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not expire")
	}
}

func TestWatchdog_CancelBeforeDeadline(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var fired atomic.Int32

	w := Start(clock, 5*time.Second, func() { fired.Add(1) })

	clock.Advance(1 * time.Second)
	assert.True(t, w.Cancel())
	assert.Equal(t, Cancelled, w.State())

	clock.Advance(5 * time.Second)

	select {
	case <-w.Expired():
		t.Fatal("cancelled watchdog expired")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Zero(t, fired.Load())
	assert.False(t, w.Cancel(), "second cancel must be a no-op")
}

func TestWatchdog_ExpiresOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var fired atomic.Int32
	done := make(chan struct{})

	w := Start(clock, 5*time.Second, func() {
		fired.Add(1)
		close(done)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(4 * time.Second)
	assert.Equal(t, Armed, w.State())

	clock.Advance(1 * time.Second)
	waitExpired(t, w)
	<-done

	clock.Advance(time.Minute)
	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, Expired, w.State())
	assert.False(t, w.Cancel(), "cancel after expiry must be a no-op")
	assert.Equal(t, Expired, w.State())
}

func TestWatchdog_NilCallback(t *testing.T) {
	clock := clockwork.NewFakeClock()
	w := Start(clock, time.Second, nil)

	clock.Advance(time.Second)
	waitExpired(t, w)
	assert.Equal(t, time.Second, w.Deadline())
}

func TestWatchdog_CancelRacesExpiry(t *testing.T) {
	for i := 0; i < 200; i++ {
		var fired atomic.Int32
		w := Start(clockwork.NewRealClock(), time.Microsecond, func() { fired.Add(1) })

		var wg sync.WaitGroup
		var cancelled atomic.Int32
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if w.Cancel() {
					cancelled.Add(1)
				}
			}()
		}
		wg.Wait()

		if cancelled.Load() == 1 {
			assert.Equal(t, Cancelled, w.State())
			time.Sleep(time.Millisecond)
			assert.Zero(t, fired.Load())
		} else {
			require.Zero(t, cancelled.Load())
			waitExpired(t, w)
			require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
		}
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "armed", Armed.String())
	assert.Equal(t, "cancelled", Cancelled.String())
	assert.Equal(t, "expired", Expired.String())
}
