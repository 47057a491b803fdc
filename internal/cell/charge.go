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

import "math"

const (
	// The charger modules regulate to about 4.1 V, below that the cell is
	// still charging whatever the plateau buffer says.
	chargeVoltage    = 4.10
	plateauTolerance = 1e-5
)

// plateau is a fixed size ring of the most recent charge voltages.
type plateau struct {
	samples []float64
	next    int
}

func newPlateau(size int) *plateau {
	return &plateau{samples: make([]float64, size)}
}

func (p *plateau) push(u float64) {
	p.samples[p.next] = u
	p.next = (p.next + 1) % len(p.samples)
}

// mean is taken over the whole ring, including slots not yet written since
// the last clear.
func (p *plateau) mean() float64 {
	sum := 0.0
	for _, u := range p.samples {
		sum += u
	}
	return sum / float64(len(p.samples))
}

func (p *plateau) clear() {
	for i := range p.samples {
		p.samples[i] = 0
	}
	p.next = 0
}

// StillCharging reports whether the cell has not yet finished charging, based
// on the last sampled voltage. Below 4.10 V it is always charging and the
// plateau buffer is untouched. At or above it the voltage is pushed into the
// plateau buffer and charging is complete once the voltage is within 1e-5 V
// of the buffer mean.
//
// Only meaningful in ModeCharge.
func (c *Cell) StillCharging() bool {
	c.chargeTime = float64(c.clock.Millis()-c.tOffset) / 1000.

	if c.voltage < chargeVoltage {
		return true
	}
	c.plateau.push(c.voltage)
	return math.Abs(c.voltage-c.plateau.mean()) >= plateauTolerance
}
