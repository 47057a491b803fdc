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

// Below this no viable cell produces a reading, so the slot is treated as empty.
const presenceThreshold = 0.5

// CheckPresence samples the voltage and infers whether the slot is empty or a
// new cell has been inserted. It reports true when the slot is (or became)
// empty and when a cell appeared in an empty slot; the mode is then ModeEmpty
// or ModeFirst respectively. The sampled voltage is not stored.
func (c *Cell) CheckPresence() (bool, error) {
	u, err := c.Sample()
	if err != nil {
		return false, err
	}
	if u < presenceThreshold {
		return true, c.SetMode(ModeEmpty)
	}
	if c.mode == ModeEmpty {
		return true, c.SetMode(ModeFirst)
	}
	return false, nil
}
