package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[tester]
tick_interval = "2s"
oversampling = 8
target_cycles = 3
max_phase_duration = "6h"

[calibration]
high_digital = 1023
high_analog = 5.0

[i2c]
transport = "dbus"

[[slot]]
id = 1
channel = 0
resistance = 4.7
charge_pin = "GPIO5"
adc_address = 0x25
adc_high_reg = 0x13
adc_low_reg = 0x14

[[slot]]
id = 2
channel = 1
resistance = 3.3
charge_pin = "GPIO6"
charge_active_low = true
adc_address = 0x25
adc_high_reg = 0x15
adc_low_reg = 0x16

[mqtt]
enabled = true
broker = "tcp://broker:1883"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cell-tester.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.Tester.TickInterval.Duration)
	assert.Equal(t, 20, cfg.Tester.OverSampling)
	assert.Equal(t, 2, cfg.Tester.TargetCycles)
	assert.Equal(t, 10*time.Millisecond, cfg.Tester.SampleDelay.Duration)
	assert.Zero(t, cfg.Tester.MaxPhaseDuration.Duration)
	assert.Equal(t, 794, cfg.Calibration.HighDigital)
	assert.Equal(t, 1023, cfg.Calibration.RawMax)
	assert.Equal(t, 3.2835, cfg.Calibration.HighAnalog)
	assert.Equal(t, "periph", cfg.I2C.Transport)
	assert.False(t, cfg.MQTT.Enabled)
	assert.True(t, cfg.Events.Enabled)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("/no/such/a.toml", "/no/such/b.toml")
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Tester.OverSampling)
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load("/no/such/file.toml", writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2*time.Second, cfg.Tester.TickInterval.Duration)
	assert.Equal(t, 8, cfg.Tester.OverSampling)
	assert.Equal(t, 3, cfg.Tester.TargetCycles)
	assert.Equal(t, 6*time.Hour, cfg.Tester.MaxPhaseDuration.Duration)
	// Unset keys keep their defaults.
	assert.Equal(t, 10, cfg.Tester.PlateauSize)
	assert.Equal(t, 1023, cfg.Calibration.HighDigital)
	assert.Equal(t, "dbus", cfg.I2C.Transport)

	require.Len(t, cfg.Slots, 2)
	s, ok := cfg.Slot(2)
	require.True(t, ok)
	assert.Equal(t, 3.3, s.Resistance)
	assert.True(t, s.ChargeActiveLow)
	assert.Equal(t, uint16(0x25), s.ADCAddress)
	assert.Equal(t, byte(0x15), s.ADCHighReg)
	_, ok = cfg.Slot(9)
	assert.False(t, ok)

	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
}

func TestLoadMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "[tester\noversampling = "))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CELL_TESTER_TARGET_CYCLES", "5")
	t.Setenv("CELL_TESTER_TICK_INTERVAL", "500ms")
	t.Setenv("CELL_TESTER_MQTT_ENABLED", "1")
	t.Setenv("CELL_TESTER_SERIAL_BAUD", "not-a-number")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Tester.TargetCycles)
	assert.Equal(t, 500*time.Millisecond, cfg.Tester.TickInterval.Duration)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, 115200, cfg.Serial.Baud)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(writeConfig(t, sampleConfig))
		require.NoError(t, err)
		return cfg
	}

	cfg := valid()
	cfg.Calibration.LowDigital = cfg.Calibration.HighDigital
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidCalibration)

	cfg = valid()
	cfg.Slots[1].ID = 1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidSlot)

	cfg = valid()
	cfg.Slots[0].Resistance = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidSlot)

	cfg = valid()
	cfg.Slots = nil
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidSlot)

	cfg = valid()
	cfg.I2C.Transport = "spi"
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Tester.OverSampling = 0
	assert.Error(t, cfg.Validate())
}

func TestCellParams(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	s, _ := cfg.Slot(1)

	p := cfg.CellParams(s, 1234)
	assert.Equal(t, 1, p.ID)
	assert.Equal(t, 4.7, p.Resistance)
	assert.Equal(t, int64(1234), p.TimeOffset)
	assert.Equal(t, 8, p.OverSampling)
	assert.Equal(t, 1023, p.Calibration.HighDigital)
	assert.Equal(t, 5.0, p.Calibration.HighAnalog)
}
