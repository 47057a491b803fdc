/*
cell-tester - Charge/discharge cycle tester for rechargeable cells
Copyright (C) 2026, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package hw provides the hardware collaborators of a test slot: the ADC
// sensor, the charge-enable GPIO and the monotonic clock.
package hw

import (
	"sync"
	"time"

	"periph.io/x/host/v3"
)

var initOnce sync.Once
var initErr error

// Init initialises the periph host drivers. It is safe to call more than once.
func Init() error {
	initOnce.Do(func() {
		_, initErr = host.Init()
	})
	return initErr
}

// MonotonicClock counts milliseconds from its creation.
type MonotonicClock struct {
	start time.Time
}

func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

// Millis uses the monotonic reading of time.Now so wall clock changes (RTC
// sync, NTP) don't move it.
func (c *MonotonicClock) Millis() int64 {
	return time.Since(c.start).Milliseconds()
}

func (c *MonotonicClock) Sleep(d time.Duration) {
	time.Sleep(d)
}
