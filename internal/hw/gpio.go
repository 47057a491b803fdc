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

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// GPIOActuator drives the charge-enable line of a slot.
type GPIOActuator struct {
	pin       gpio.PinOut
	activeLow bool
}

// NewGPIOActuator looks up the pin by name. Init must have been called.
func NewGPIOActuator(pinName string, activeLow bool) (*GPIOActuator, error) {
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("failed to find charge enable pin '%s'", pinName)
	}
	return &GPIOActuator{pin: pin, activeLow: activeLow}, nil
}

// SetChargeEnabled sets the line high to charge, or low if the line is active low.
func (a *GPIOActuator) SetChargeEnabled(enabled bool) error {
	level := gpio.Level(enabled != a.activeLow)
	if err := a.pin.Out(level); err != nil {
		return fmt.Errorf("failed to set pin %s %s: %w", a.pin, level, err)
	}
	return nil
}
