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

// AdvanceAfterDischarge counts a completed discharge. Once the target cycle
// count is reached the cell is ModeTested, with the actuator left off from
// the discharge. Otherwise it is put back into ModeDischarge and the caller
// is expected to recharge it before the next discharge.
func (c *Cell) AdvanceAfterDischarge() error {
	c.discharges++
	if c.discharges >= c.targetCycles {
		return c.SetMode(ModeTested)
	}
	return c.SetMode(ModeDischarge)
}

// Tested reports whether the cell reached the terminal state.
func (c *Cell) Tested() bool {
	return c.mode == ModeTested
}
