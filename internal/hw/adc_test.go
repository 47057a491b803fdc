package hw

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRegisters emulates the register side of the ADC protocol.
type fakeRegisters struct {
	regs          map[byte]byte
	busyReads     int // reads of the high register that still report busy
	corrupt       bool
	txErrs        int
	writes        [][]byte
	highReg       byte
	conversionVal uint16
}

func (f *fakeRegisters) Tx(write, read []byte) error {
	if f.txErrs > 0 {
		f.txErrs--
		return errors.New("nack")
	}
	if err := verifyCRC(write); err != nil {
		return err
	}
	payload := write[:len(write)-2]
	if len(payload) == 2 {
		f.writes = append(f.writes, payload)
		f.regs[payload[0]] = payload[1]
		return nil
	}
	reg := payload[0]
	val := f.regs[reg]
	if reg == f.highReg {
		if f.busyReads > 0 {
			f.busyReads--
			val = conversionStartBit
		} else {
			f.regs[reg] = byte(f.conversionVal >> 8)
			val = f.regs[reg]
		}
	}
	frame := addCRC([]byte{val})
	if f.corrupt {
		frame[2] ^= 0xFF
	}
	copy(read, frame)
	return nil
}

func newTestADC(f *fakeRegisters) *RegisterADC {
	adc := NewRegisterADC(f, f.highReg, f.highReg+1)
	adc.sleep = func(time.Duration) {}
	return adc
}

func TestRegisterADCRead(t *testing.T) {
	f := &fakeRegisters{
		regs:          map[byte]byte{0x14: 0x1A},
		highReg:       0x13,
		busyReads:     2,
		conversionVal: 0x031A,
	}
	raw, err := newTestADC(f).ReadRaw()
	require.NoError(t, err)
	assert.Equal(t, 0x031A, raw)
	require.Len(t, f.writes, 1)
	assert.Equal(t, []byte{0x13, conversionStartBit}, f.writes[0])
}

func TestRegisterADCTimeout(t *testing.T) {
	f := &fakeRegisters{
		regs:      map[byte]byte{},
		highReg:   0x13,
		busyReads: 10,
	}
	_, err := newTestADC(f).ReadRaw()
	assert.ErrorIs(t, err, ErrConversionTimeout)
}

func TestRegisterADCBadCRC(t *testing.T) {
	f := &fakeRegisters{
		regs:    map[byte]byte{},
		highReg: 0x13,
		corrupt: true,
	}
	_, err := newTestADC(f).ReadRaw()
	assert.ErrorIs(t, err, ErrCRCMismatch)
}

func TestRegisterADCRetriesTransaction(t *testing.T) {
	f := &fakeRegisters{
		regs:          map[byte]byte{0x14: 0x05},
		highReg:       0x13,
		txErrs:        maxTxAttempts - 1,
		conversionVal: 0x0105,
	}
	raw, err := newTestADC(f).ReadRaw()
	require.NoError(t, err)
	assert.Equal(t, 0x0105, raw)

	f.txErrs = maxTxAttempts
	_, err = newTestADC(f).ReadRaw()
	assert.EqualError(t, err, "nack")
}

func TestCRCRoundTrip(t *testing.T) {
	assert.NoError(t, verifyCRC(addCRC([]byte{0x10, 0x80})))
	assert.Error(t, verifyCRC([]byte{0x01}))
}

func TestFakeSensorSequence(t *testing.T) {
	s := &FakeSensor{Sequence: []int{1, 2}}
	v, _ := s.ReadRaw()
	assert.Equal(t, 1, v)
	v, _ = s.ReadRaw()
	assert.Equal(t, 2, v)
	v, _ = s.ReadRaw()
	assert.Equal(t, 2, v)
	assert.Equal(t, 3, s.CallCount)
}
