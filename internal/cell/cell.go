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

// Package cell holds the per-slot test state machine: calibrated voltage
// sampling, presence detection, charge and discharge completion, the
// capacity/energy integrator and the discharge cycle counter.
//
// A Cell is driven by a single scheduler and is not safe for concurrent use.
package cell

import (
	"fmt"
	"strings"
	"time"
)

// Mode is the phase of a cell's test lifecycle.
type Mode uint8

const (
	ModeEmpty Mode = iota
	ModeFirst
	ModeCharge
	ModeDischarge
	ModeTested
)

func (m Mode) String() string {
	switch m {
	case ModeEmpty:
		return "empty"
	case ModeFirst:
		return "first"
	case ModeCharge:
		return "charge"
	case ModeDischarge:
		return "discharge"
	case ModeTested:
		return "tested"
	default:
		return "unknown"
	}
}

// ParseMode converts a mode name (case insensitive) back to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "empty":
		return ModeEmpty, nil
	case "first":
		return ModeFirst, nil
	case "charge":
		return ModeCharge, nil
	case "discharge":
		return ModeDischarge, nil
	case "tested":
		return ModeTested, nil
	}
	return ModeEmpty, fmt.Errorf("unknown mode '%s'", s)
}

// Sensor returns one raw digital reading from the cell's analog input.
type Sensor interface {
	ReadRaw() (int, error)
}

// Actuator drives the charge-enable signal of a slot.
type Actuator interface {
	SetChargeEnabled(enabled bool) error
}

// Clock is a monotonic millisecond clock. Sleep blocks for the inter-sample delay.
type Clock interface {
	Millis() int64
	Sleep(d time.Duration)
}

// Calibration maps averaged raw readings to volts.
//
// HighDigital must differ from LowDigital. The cell does not check this, the
// config layer does.
type Calibration struct {
	RawMin      int
	RawMax      int
	LowDigital  int
	HighDigital int
	LowAnalog   float64
	HighAnalog  float64
}

// DefaultCalibration is the 10 bit ADC calibration of the original rig.
func DefaultCalibration() Calibration {
	return Calibration{
		RawMin:      0,
		RawMax:      1023,
		LowDigital:  0,
		HighDigital: 794,
		LowAnalog:   0,
		HighAnalog:  3.2835,
	}
}

// Voltage applies the linear digital to analog mapping. The mapping has no
// intercept: it scales the digital value by the analog width per digital step.
func (cal Calibration) Voltage(digital int) float64 {
	step := (cal.HighAnalog - cal.LowAnalog) / float64(cal.HighDigital-cal.LowDigital)
	return step * float64(digital)
}

// Params are the construction parameters of a Cell.
type Params struct {
	ID           int
	Channel      int
	Resistance   float64 // ohms, used to derive current from voltage
	TimeOffset   int64   // ms
	OverSampling int
	TargetCycles int
	PlateauSize  int
	SampleDelay  time.Duration
	Calibration  Calibration
}

const (
	DefaultOverSampling = 20
	DefaultTargetCycles = 2
	DefaultPlateauSize  = 10
	DefaultSampleDelay  = 10 * time.Millisecond
)

// DefaultParams returns the parameters for a slot with everything except
// identity, offset and resistance at their defaults.
func DefaultParams(id int, timeOffset int64, resistance float64) Params {
	return Params{
		ID:           id,
		Resistance:   resistance,
		TimeOffset:   timeOffset,
		OverSampling: DefaultOverSampling,
		TargetCycles: DefaultTargetCycles,
		PlateauSize:  DefaultPlateauSize,
		SampleDelay:  DefaultSampleDelay,
		Calibration:  DefaultCalibration(),
	}
}

// Cell is the test context of one physical slot.
type Cell struct {
	id           int
	channel      int
	resistance   float64
	overSampling int
	targetCycles int
	sampleDelay  time.Duration
	cal          Calibration

	sensor   Sensor
	actuator Actuator
	clock    Clock

	t       int64
	tOld    int64
	tOffset int64

	voltage float64
	current float64
	power   float64

	dischargeTime float64
	capacity      float64
	energy        float64
	chargeTime    float64
	plateau       *plateau

	discharges int
	mode       Mode
}

// New creates the context for a slot and puts it in ModeEmpty, which switches
// the charge-enable actuator on.
func New(p Params, sensor Sensor, actuator Actuator, clock Clock) (*Cell, error) {
	if p.OverSampling < 1 {
		p.OverSampling = DefaultOverSampling
	}
	if p.TargetCycles < 1 {
		p.TargetCycles = DefaultTargetCycles
	}
	if p.PlateauSize < 1 {
		p.PlateauSize = DefaultPlateauSize
	}
	c := &Cell{
		id:           p.ID,
		channel:      p.Channel,
		resistance:   p.Resistance,
		overSampling: p.OverSampling,
		targetCycles: p.TargetCycles,
		sampleDelay:  p.SampleDelay,
		cal:          p.Calibration,
		sensor:       sensor,
		actuator:     actuator,
		clock:        clock,
		plateau:      newPlateau(p.PlateauSize),
	}
	if err := c.SetMode(ModeEmpty); err != nil {
		return nil, err
	}
	c.tOffset = p.TimeOffset
	return c, nil
}

// Reset zeroes timing, electrical state, accumulators and the plateau buffer.
// Identity, calibration, mode and the discharge counter are kept.
func (c *Cell) Reset() {
	c.t = 0
	c.tOld = 0
	c.tOffset = 0
	c.voltage = 0
	c.current = 0
	c.power = 0
	c.dischargeTime = 0
	c.capacity = 0
	c.energy = 0
	c.chargeTime = 0
	c.plateau.clear()
}

// SetMode changes the mode and commands the actuator: charge and empty switch
// charging on, discharge switches it off, first and tested leave it alone.
// Entering ModeEmpty also resets the context and the discharge counter.
func (c *Cell) SetMode(m Mode) error {
	c.mode = m
	switch m {
	case ModeCharge:
		return c.setCharging(true)
	case ModeDischarge:
		return c.setCharging(false)
	case ModeEmpty:
		c.Reset()
		c.discharges = 0
		return c.setCharging(true)
	}
	return nil
}

func (c *Cell) setCharging(on bool) error {
	if err := c.actuator.SetChargeEnabled(on); err != nil {
		return fmt.Errorf("slot %d: setting charge enable to %t: %w", c.id, on, err)
	}
	return nil
}

// SetOffset sets the time origin (ms) that elapsed time is measured from.
func (c *Cell) SetOffset(tOffset int64) {
	c.tOffset = tOffset
}

// SetVoltage overrides the last sampled voltage.
func (c *Cell) SetVoltage(u float64) {
	c.voltage = u
}

func (c *Cell) ID() int { return c.id }
func (c *Cell) Channel() int { return c.channel }
func (c *Cell) Resistance() float64 { return c.resistance }
func (c *Cell) Calibration() Calibration { return c.cal }
func (c *Cell) Mode() Mode { return c.mode }
func (c *Cell) Offset() int64 { return c.tOffset }
func (c *Cell) Voltage() float64 { return c.voltage }
func (c *Cell) Current() float64 { return c.current }
func (c *Cell) Power() float64 { return c.power }
func (c *Cell) DischargeTime() float64 { return c.dischargeTime }
func (c *Cell) ChargeTime() float64 { return c.chargeTime }
func (c *Cell) Capacity() float64 { return c.capacity }
func (c *Cell) Energy() float64 { return c.energy }
func (c *Cell) Discharges() int { return c.discharges }
func (c *Cell) TargetCycles() int { return c.targetCycles }

// Reading is a snapshot of a cell. The JSON tags are the telemetry wire format.
type Reading struct {
	Slot        int     `json:"slot"`
	Channel     int     `json:"channel"`
	Mode        string  `json:"mode"`
	ElapsedS    float64 `json:"elapsed_s"`
	VoltageV    float64 `json:"voltage_v"`
	CurrentMA   float64 `json:"current_ma"`
	PowerMW     float64 `json:"power_mw"`
	CapacityMAh float64 `json:"capacity_mah"`
	EnergyMWh   float64 `json:"energy_mwh"`
	Discharges  int     `json:"discharges"`
}

// Snapshot returns the current state of the cell.
func (c *Cell) Snapshot() Reading {
	return Reading{
		Slot:        c.id,
		Channel:     c.channel,
		Mode:        c.mode.String(),
		ElapsedS:    c.dischargeTime,
		VoltageV:    c.voltage,
		CurrentMA:   c.current,
		PowerMW:     c.power,
		CapacityMAh: c.capacity,
		EnergyMWh:   c.energy,
		Discharges:  c.discharges,
	}
}
