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
	"errors"
	"fmt"
	"time"
)

var (
	ErrCRCMismatch        = errors.New("crc mismatch")
	ErrConversionTimeout  = errors.New("adc conversion did not complete")
	errShortRegisterFrame = errors.New("register frame too short")
)

const (
	conversionStartBit = 1 << 7

	defaultConversionPolls = 5
	defaultPollInterval    = 200 * time.Millisecond
	maxTxAttempts          = 5
	txRetryInterval        = time.Second
)

// Transport performs one I2C write-then-read transaction with a device.
// *i2c.Dev from periph satisfies it, as does DBusI2C.
type Transport interface {
	Tx(write, read []byte) error
}

// RegisterADC reads a raw conversion from a microcontroller ADC exposed as a
// pair of registers. Writing the start bit to the high register triggers a
// conversion, the bit clears when the result is ready and the remaining 15
// bits of high:low hold the value. Every frame carries a CRC-16.
type RegisterADC struct {
	tx      Transport
	highReg byte
	lowReg  byte

	Polls        int
	PollInterval time.Duration
	sleep        func(time.Duration)
}

func NewRegisterADC(tx Transport, highReg, lowReg byte) *RegisterADC {
	return &RegisterADC{
		tx:           tx,
		highReg:      highReg,
		lowReg:       lowReg,
		Polls:        defaultConversionPolls,
		PollInterval: defaultPollInterval,
		sleep:        time.Sleep,
	}
}

// ReadRaw triggers a conversion and waits for the result.
func (a *RegisterADC) ReadRaw() (int, error) {
	if err := a.writeRegister(a.highReg, conversionStartBit); err != nil {
		return 0, err
	}
	for i := 0; i < a.Polls; i++ {
		a.sleep(a.PollInterval)
		high, err := a.readRegister(a.highReg)
		if err != nil {
			return 0, err
		}
		if high&conversionStartBit != 0 {
			continue
		}
		low, err := a.readRegister(a.lowReg)
		if err != nil {
			return 0, err
		}
		return int(high)<<8 | int(low), nil
	}
	return 0, fmt.Errorf("%w: registers 0x%02X and 0x%02X", ErrConversionTimeout, a.highReg, a.lowReg)
}

func (a *RegisterADC) writeRegister(register, data byte) error {
	return a.txWithRetries(addCRC([]byte{register, data}), nil)
}

func (a *RegisterADC) readRegister(register byte) (byte, error) {
	read := make([]byte, 3) // 1 byte of data + 2 bytes of CRC
	if err := a.txWithRetries(addCRC([]byte{register}), read); err != nil {
		return 0, err
	}
	if err := verifyCRC(read); err != nil {
		return 0, err
	}
	return read[0], nil
}

func (a *RegisterADC) txWithRetries(write, read []byte) error {
	attempts := 0
	for {
		err := a.tx.Tx(write, read)
		if err == nil {
			return nil
		}
		attempts++
		if attempts >= maxTxAttempts {
			return err
		}
		a.sleep(txRetryInterval)
	}
}

// CalculateCRC is CRC-16/CCITT with an initial value of 0x1D0F.
func CalculateCRC(data []byte) uint16 {
	var crc uint16 = 0x1D0F
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func addCRC(data []byte) []byte {
	crc := CalculateCRC(data)
	return append(data, byte(crc>>8), byte(crc&0xFF))
}

func verifyCRC(data []byte) error {
	if len(data) < 3 {
		return fmt.Errorf("%w: %d bytes", errShortRegisterFrame, len(data))
	}
	calculated := CalculateCRC(data[:len(data)-2])
	received := uint16(data[len(data)-2])<<8 | uint16(data[len(data)-1])
	if calculated != received {
		return fmt.Errorf("%w: received 0x%X, calculated 0x%X", ErrCRCMismatch, received, calculated)
	}
	return nil
}
