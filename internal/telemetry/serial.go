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

package telemetry

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/cell-tester/internal/config"
	"github.com/sigurn/crc8"
	"github.com/tarm/serial"
)

const (
	cmdlineFile   = "/boot/firmware/cmdline.txt"
	lockRetries   = 3
	lockRetryWait = 2 * time.Second
)

// ErrSerialUnavailable is returned when the serial port is held by the
// console or another process.
var ErrSerialUnavailable = errors.New("serial port unavailable")

var crcTable = crc8.MakeTable(crc8.Params{
	Poly:   0x31,
	Init:   0xFF,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
})

// FrameLine formats a message as one serial line: the topic, a space, the
// payload, then '*' and the CRC-8 of everything before it in hex.
func FrameLine(msg Message) []byte {
	body := msg.Topic + " " + msg.Payload
	crc := crc8.Checksum([]byte(body), crcTable)
	return []byte(fmt.Sprintf("%s*%02X\r\n", body, crc))
}

// SerialPublisher writes framed lines to a serial port. It holds an exclusive
// flock on the device for as long as it is open so other tools sharing the
// port wait for it.
type SerialPublisher struct {
	port io.WriteCloser
	lock *os.File
}

func NewSerialPublisher(cfg config.SerialConfig) (*SerialPublisher, error) {
	if serialInUseFromConsole(cmdlineFile) {
		return nil, fmt.Errorf("%w: in use by the terminal console", ErrSerialUnavailable)
	}
	lock, err := lockSerial(cfg.Device, lockRetries, lockRetryWait)
	if err != nil {
		return nil, err
	}
	c := &serial.Config{Name: cfg.Device, Baud: cfg.Baud, ReadTimeout: time.Second * 5}
	port, err := serial.OpenPort(c)
	if err != nil {
		releaseSerial(lock)
		return nil, fmt.Errorf("opening serial port %s: %w", cfg.Device, err)
	}
	return &SerialPublisher{port: port, lock: lock}, nil
}

func (p *SerialPublisher) Publish(msg Message) error {
	line := FrameLine(msg)
	n, err := p.port.Write(line)
	if err != nil {
		return err
	}
	if n != len(line) {
		return fmt.Errorf("wrote %d bytes, expected %d", n, len(line))
	}
	return nil
}

func (p *SerialPublisher) Close() error {
	err := p.port.Close()
	if p.lock != nil {
		releaseSerial(p.lock)
	}
	return err
}

func serialInUseFromConsole(cmdline string) bool {
	b, err := os.ReadFile(cmdline)
	if err != nil {
		return false
	}
	return strings.Contains(string(b), "console=serial0")
}

// lockSerial takes an exclusive lock on path, retrying while another process
// holds it.
func lockSerial(path string, retries int, wait time.Duration) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0666)
	if err != nil {
		return nil, err
	}
	for i := retries; ; i-- {
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			f.Close()
			return nil, err
		}
		if i <= 0 {
			f.Close()
			return nil, fmt.Errorf("%w: %s is locked by another process", ErrSerialUnavailable, path)
		}
		time.Sleep(wait)
	}
}

func releaseSerial(f *os.File) {
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	f.Close()
}
