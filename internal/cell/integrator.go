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

// Tick refreshes the voltage. In ModeDischarge it also derives current (mA)
// and power (mW) through the fixed resistance and integrates elapsed time (s),
// capacity (mAh) and energy (mWh) over the interval since the previous tick.
//
// The integration is left-rectangle: the whole interval is weighted with the
// values sampled at its end. Results are compared against earlier test runs
// so this must not be changed to a higher order scheme.
func (c *Cell) Tick() error {
	u, err := c.Sample()
	if err != nil {
		return err
	}
	c.voltage = u

	if c.mode != ModeDischarge {
		return nil
	}

	c.current = c.voltage / c.resistance * 1000.
	c.power = c.voltage * c.current

	c.tOld = c.t
	c.t = c.clock.Millis() - c.tOffset
	dt := float64(c.t - c.tOld)

	c.dischargeTime += dt / 1000.
	c.capacity += c.current * dt / 1000. / 3600.
	c.energy += c.power * dt / 1000. / 3600.
	return nil
}
