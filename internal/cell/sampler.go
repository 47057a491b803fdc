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

package cell

import "fmt"

// Sample reads the sensor overSampling times, clamps each raw value to the
// sensor range, averages with integer truncation and converts the average to
// volts. Each read is preceded by the inter-sample delay. Out of range raw
// values are clamped, not reported.
func (c *Cell) Sample() (float64, error) {
	sum := 0
	for k := 0; k < c.overSampling; k++ {
		c.clock.Sleep(c.sampleDelay)
		raw, err := c.sensor.ReadRaw()
		if err != nil {
			return 0, fmt.Errorf("slot %d: reading sensor: %w", c.id, err)
		}
		sum += clamp(raw, c.cal.RawMin, c.cal.RawMax)
	}
	return c.cal.Voltage(sum / c.overSampling), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
