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

package tester

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TheCacophonyProject/cell-tester/internal/cell"
	"github.com/TheCacophonyProject/cell-tester/internal/telemetry"
	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
)

// ErrModeNotSettable is returned when a mode can only be reached by the
// scheduler itself.
var ErrModeNotSettable = errors.New("mode can't be set directly")

type slot struct {
	cell          *cell.Cell
	phaseStart    int64
	stuckReported bool
	results       []telemetry.Result
}

// Options configure a Scheduler. Zero values disable the optional parts.
type Options struct {
	Publisher        telemetry.Publisher
	TopicPrefix      string
	Retained         bool
	Events           EventReporter
	MaxPhaseDuration time.Duration
}

// Scheduler drives every slot once per Step: presence, sampling, then the
// detector or integrator that applies to the slot's mode.
type Scheduler struct {
	mu       sync.Mutex
	slots    []*slot
	clock    cell.Clock
	pub      telemetry.Publisher
	prefix   string
	retained bool
	events   EventReporter
	maxPhase time.Duration
	now      func() time.Time
}

func NewScheduler(cells []*cell.Cell, clock cell.Clock, opts Options) *Scheduler {
	s := &Scheduler{
		clock:    clock,
		pub:      opts.Publisher,
		prefix:   opts.TopicPrefix,
		retained: opts.Retained,
		events:   opts.Events,
		maxPhase: opts.MaxPhaseDuration,
		now:      time.Now,
	}
	if s.pub == nil {
		s.pub = telemetry.LogPublisher{Log: log}
	}
	if s.events == nil {
		s.events = noEvents{}
	}
	for _, c := range cells {
		s.slots = append(s.slots, &slot{cell: c, phaseStart: clock.Millis()})
	}
	return s
}

// Step runs one tick over all slots. A sensor or actuator error stops the
// pass and is returned. Errors from the cells already name the slot.
func (s *Scheduler) Step() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sl := range s.slots {
		if err := s.stepSlot(sl); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) stepSlot(sl *slot) error {
	c := sl.cell
	prev := c.Mode()
	changed, err := c.CheckPresence()
	if err != nil {
		return err
	}
	if changed {
		switch c.Mode() {
		case cell.ModeEmpty:
			if prev != cell.ModeEmpty {
				log.Infof("Slot %d: cell removed during %s", c.ID(), prev)
				sl.phaseStart = s.clock.Millis()
			}
		case cell.ModeFirst:
			log.Infof("Slot %d: cell inserted", c.ID())
			sl.results = nil
			if err := s.enterPhase(sl, cell.ModeCharge); err != nil {
				return err
			}
		}
	}
	if c.Mode() == cell.ModeEmpty {
		return nil
	}

	if err := c.Tick(); err != nil {
		return err
	}

	switch c.Mode() {
	case cell.ModeCharge:
		if !c.StillCharging() {
			log.Infof("Slot %d: charged to %.3f V after %.0f s", c.ID(), c.Voltage(), c.ChargeTime())
			if err := s.enterPhase(sl, cell.ModeDischarge); err != nil {
				return err
			}
		}
	case cell.ModeDischarge:
		reading := c.Snapshot()
		log.Debugf("Slot %d: %s", c.ID(), telemetry.FormatReading(reading))
		if err := telemetry.PublishReading(s.pub, s.prefix, s.retained, reading); err != nil {
			log.Warnf("Slot %d: failed to publish reading: %v", c.ID(), err)
		}
		if !c.StillDischarging() {
			if err := s.finishDischarge(sl); err != nil {
				return err
			}
		}
	}

	s.checkStuck(sl)
	return nil
}

// enterPhase switches mode and restarts the cell's timing and accumulators
// from now.
func (s *Scheduler) enterPhase(sl *slot, m cell.Mode) error {
	if err := sl.cell.SetMode(m); err != nil {
		return err
	}
	now := s.clock.Millis()
	sl.cell.Reset()
	sl.cell.SetOffset(now)
	sl.phaseStart = now
	sl.stuckReported = false
	log.Infof("Slot %d: entering %s", sl.cell.ID(), m)
	return nil
}

func (s *Scheduler) finishDischarge(sl *slot) error {
	c := sl.cell
	res := telemetry.Result{
		Slot:        c.ID(),
		Cycle:       c.Discharges() + 1,
		DurationS:   c.DischargeTime(),
		CapacityMAh: c.Capacity(),
		EnergyMWh:   c.Energy(),
		Finished:    s.now(),
	}
	sl.results = append(sl.results, res)
	log.Infof("slot %d cycle %d: t=%.1f s C=%.2f mAh e=%.2f mWh",
		res.Slot, res.Cycle, res.DurationS, res.CapacityMAh, res.EnergyMWh)
	if err := telemetry.PublishResult(s.pub, s.prefix, s.retained, res); err != nil {
		log.Warnf("Slot %d: failed to publish result: %v", c.ID(), err)
	}

	if err := c.AdvanceAfterDischarge(); err != nil {
		return err
	}
	if !c.Tested() {
		return s.enterPhase(sl, cell.ModeCharge)
	}

	log.Infof("Slot %d: tested after %d cycles", c.ID(), c.Discharges())
	capacities := make([]float64, len(sl.results))
	for i, r := range sl.results {
		capacities[i] = r.CapacityMAh
	}
	details := map[string]interface{}{
		"slot":        c.ID(),
		"cycles":      c.Discharges(),
		"capacityMAh": capacities,
	}
	if err := s.events.AddEvent(newEvent(eventTested, details)); err != nil {
		log.Errorf("Error adding event: %v", err)
	}
	return nil
}

// checkStuck reports a charge or discharge phase that has run longer than
// the configured maximum. The cell is left in its phase.
func (s *Scheduler) checkStuck(sl *slot) {
	if s.maxPhase <= 0 || sl.stuckReported {
		return
	}
	m := sl.cell.Mode()
	if m != cell.ModeCharge && m != cell.ModeDischarge {
		return
	}
	elapsed := time.Duration(s.clock.Millis()-sl.phaseStart) * time.Millisecond
	if elapsed <= s.maxPhase {
		return
	}
	sl.stuckReported = true
	log.Warnf("Slot %d: in %s for %s, voltage %.3f V", sl.cell.ID(), m, elapsed, sl.cell.Voltage())
	details := map[string]interface{}{
		"slot":    sl.cell.ID(),
		"mode":    m.String(),
		"seconds": elapsed.Seconds(),
		"voltage": sl.cell.Voltage(),
	}
	details[eventclient.SeverityKey] = eventclient.SeverityError
	if err := s.events.AddEvent(newEvent(eventStuck, details)); err != nil {
		log.Errorf("Error adding event: %v", err)
	}
}

func (s *Scheduler) find(id int) (*slot, error) {
	for _, sl := range s.slots {
		if sl.cell.ID() == id {
			return sl, nil
		}
	}
	return nil, fmt.Errorf("no slot with id %d", id)
}

// SlotIDs returns the configured slot ids in order.
func (s *Scheduler) SlotIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, len(s.slots))
	for i, sl := range s.slots {
		ids[i] = sl.cell.ID()
	}
	return ids
}

// Reading returns a snapshot of a slot.
func (s *Scheduler) Reading(id int) (cell.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, err := s.find(id)
	if err != nil {
		return cell.Reading{}, err
	}
	return sl.cell.Snapshot(), nil
}

// Results returns the discharge results of the cell currently in a slot.
func (s *Scheduler) Results(id int) ([]telemetry.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, err := s.find(id)
	if err != nil {
		return nil, err
	}
	return append([]telemetry.Result(nil), sl.results...), nil
}

// SetMode forces a slot into a mode through the cell's setter, so the charge
// actuator follows. ModeFirst is only entered on insertion and is rejected.
func (s *Scheduler) SetMode(id int, m cell.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, err := s.find(id)
	if err != nil {
		return err
	}
	switch m {
	case cell.ModeFirst:
		return fmt.Errorf("%w: %s", ErrModeNotSettable, m)
	case cell.ModeCharge, cell.ModeDischarge:
		return s.enterPhase(sl, m)
	}
	if err := sl.cell.SetMode(m); err != nil {
		return err
	}
	log.Infof("Slot %d: mode set to %s", id, m)
	return nil
}
