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

package hw

import "time"

// FakeSensor is a test double for the cell sensor.
//
// Single-value mode: set Value; every ReadRaw returns it.
// Sequence mode: set Sequence; each ReadRaw returns the next element and the
// last element is repeated once the sequence is exhausted.
// Set Err to fail every call.
type FakeSensor struct {
	Value     int
	Sequence  []int
	Err       error
	CallCount int
}

func (f *FakeSensor) ReadRaw() (int, error) {
	f.CallCount++
	if f.Err != nil {
		return 0, f.Err
	}
	if len(f.Sequence) == 0 {
		return f.Value, nil
	}
	idx := f.CallCount - 1
	if idx >= len(f.Sequence) {
		idx = len(f.Sequence) - 1
	}
	return f.Sequence[idx], nil
}

// Set switches to single-value mode.
func (f *FakeSensor) Set(v int) {
	f.Sequence = nil
	f.Value = v
}

// FakeActuator records every charge-enable command.
type FakeActuator struct {
	States []bool
	Err    error
}

func (f *FakeActuator) SetChargeEnabled(enabled bool) error {
	if f.Err != nil {
		return f.Err
	}
	f.States = append(f.States, enabled)
	return nil
}

// Enabled returns the last commanded state and whether any command was sent.
func (f *FakeActuator) Enabled() (bool, bool) {
	if len(f.States) == 0 {
		return false, false
	}
	return f.States[len(f.States)-1], true
}

// FakeClock only moves when told to. Sleep advances it.
type FakeClock struct {
	Now int64
}

func (f *FakeClock) Millis() int64 {
	return f.Now
}

func (f *FakeClock) Sleep(d time.Duration) {
	f.Now += d.Milliseconds()
}

func (f *FakeClock) Advance(ms int64) {
	f.Now += ms
}
