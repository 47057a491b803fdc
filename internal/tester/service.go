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
	"encoding/json"
	"errors"

	"github.com/TheCacophonyProject/cell-tester/internal/cell"
	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"
)

const (
	dbusName = "org.cacophony.CellTester"
	dbusPath = "/org/cacophony/CellTester"
)

type service struct {
	sched *Scheduler
}

func startService(sched *Scheduler) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := &service{sched: sched}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

// Slots returns the ids of the configured slots.
func (s service) Slots() ([]int32, *dbus.Error) {
	ids := s.sched.SlotIDs()
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[i] = int32(id)
	}
	return out, nil
}

// Status returns the latest reading of a slot as JSON.
func (s service) Status(slot int32) (string, *dbus.Error) {
	reading, err := s.sched.Reading(int(slot))
	if err != nil {
		return "", makeDbusError(".Status", err)
	}
	out, err := json.Marshal(reading)
	if err != nil {
		return "", makeDbusError(".Status", err)
	}
	return string(out), nil
}

// Results returns the discharge results of the cell in a slot as a JSON array.
func (s service) Results(slot int32) (string, *dbus.Error) {
	results, err := s.sched.Results(int(slot))
	if err != nil {
		return "", makeDbusError(".Results", err)
	}
	out, err := json.Marshal(results)
	if err != nil {
		return "", makeDbusError(".Results", err)
	}
	return string(out), nil
}

/*
dbus-send --system --print-reply --dest=org.cacophony.CellTester /org/cacophony/CellTester \
org.cacophony.CellTester.SetMode int32:1 string:discharge
*/

// SetMode forces a slot into a mode.
func (s service) SetMode(slot int32, mode string) *dbus.Error {
	m, err := cell.ParseMode(mode)
	if err != nil {
		return makeDbusError(".SetMode", err)
	}
	if err := s.sched.SetMode(int(slot), m); err != nil {
		log.Error(err)
		return makeDbusError(".SetMode", err)
	}
	return nil
}

func makeDbusError(name string, err error) *dbus.Error {
	return &dbus.Error{
		Name: dbusName + name,
		Body: []interface{}{err.Error()},
	}
}
