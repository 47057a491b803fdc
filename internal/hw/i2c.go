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

	"github.com/godbus/dbus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
)

const (
	i2cDbusName = "org.cacophony.i2c"
	i2cDbusPath = "/org/cacophony/i2c"
)

// OpenBus opens an I2C bus through periph. An empty name picks the first bus.
func OpenBus(name string) (i2c.BusCloser, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	return i2creg.Open(name)
}

// NewBusTransport addresses a device on a bus opened with OpenBus.
func NewBusTransport(bus i2c.Bus, addr uint16) Transport {
	return &i2c.Dev{Bus: bus, Addr: addr}
}

// DBusI2C sends transactions through the I2C dbus service, which serialises
// access to a bus shared with other daemons.
type DBusI2C struct {
	Addr      byte
	TimeoutMs int
}

func (d *DBusI2C) Tx(write, read []byte) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	obj := conn.Object(i2cDbusName, i2cDbusPath)

	var response []byte
	if err := obj.Call(i2cDbusName+".Tx", 0, d.Addr, write, len(read), d.TimeoutMs).Store(&response); err != nil {
		return err
	}
	if len(response) != len(read) {
		return fmt.Errorf("expected %d bytes from 0x%02X, got %d", len(read), d.Addr, len(response))
	}
	copy(read, response)
	return nil
}
