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

// Safe discharge floor of the cell chemistry.
const cutoffVoltage = 2.60

// StillDischarging reports false once the last sampled voltage drops below
// the cutoff. Only meaningful in ModeDischarge.
func (c *Cell) StillDischarging() bool {
	return c.voltage >= cutoffVoltage
}
