/******************************************************************************
*
*  Copyright 2018 Stefan Majewsky <majewsky@gmx.net>
*
*  Licensed under the Apache License, Version 2.0 (the "License");
*  you may not use this file except in compliance with the License.
*  You may obtain a copy of the License at
*
*      http://www.apache.org/licenses/LICENSE-2.0
*
*  Unless required by applicable law or agreed to in writing, software
*  distributed under the License is distributed on an "AS IS" BASIS,
*  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
*  See the License for the specific language governing permissions and
*  limitations under the License.
*
******************************************************************************/

package slo

import (
	"context"
	"time"
)

// RateLimiter implements §4.G step 3: the first afterSegment segments of a
// stream are unthrottled; every segment after that is limited to
// perSecond segments per second. There is no ecosystem token-bucket
// primitive in play elsewhere in this codebase's dependency stack, so this
// is a small hand-rolled counter rather than an imported library — see
// DESIGN.md.
//
// A RateLimiter is built fresh per request (§5: "the rate limiter... is
// per-request"), so it needs no locking.
type RateLimiter struct {
	afterSegment int
	perSecond    int
	seen         int
	windowStart  time.Time
	sleep        func(context.Context, time.Duration) error
	// OnThrottle, if set, is called once per segment for which Wait actually
	// delayed the caller.
	OnThrottle func()
}

// NewRateLimiter builds a RateLimiter per the two tunables named in §6.
// perSecond <= 0 disables throttling entirely.
func NewRateLimiter(afterSegment, perSecond int) *RateLimiter {
	return &RateLimiter{
		afterSegment: afterSegment,
		perSecond:    perSecond,
		sleep:        sleepContext,
	}
}

// Wait blocks (respecting ctx cancellation) until it is this segment's turn
// to be fetched, then records it as sent. Call once per segment, in order,
// immediately before fetching it.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.seen++
	if rl.perSecond <= 0 || rl.seen <= rl.afterSegment {
		return nil
	}

	throttledIndex := rl.seen - rl.afterSegment
	if throttledIndex == 1 {
		rl.windowStart = timeNow()
		return nil
	}

	due := rl.windowStart.Add(time.Duration(throttledIndex-1) * time.Second / time.Duration(rl.perSecond))
	delay := timeUntil(due)
	if delay <= 0 {
		return nil
	}
	if rl.OnThrottle != nil {
		rl.OnThrottle()
	}
	return rl.sleep(ctx, delay)
}

// the two indirections below exist purely so tests can fake the clock
// without the package depending on a clock-abstraction library; production
// code always uses the real time package.
var timeNow = func() time.Time { return time.Now() }
var timeUntil = func(t time.Time) time.Duration { return time.Until(t) }

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
