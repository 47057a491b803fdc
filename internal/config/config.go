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

// Package config loads the tester configuration from a TOML file and
// CELL_TESTER_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/TheCacophonyProject/cell-tester/internal/cell"
	"github.com/sirupsen/logrus"
)

var log = logrus.StandardLogger()

const DefaultPath = "/etc/cacophony/cell-tester.toml"

var (
	ErrInvalidCalibration = errors.New("invalid calibration")
	ErrInvalidSlot        = errors.New("invalid slot")
)

// Duration lets BurntSushi/toml decode "30s" style strings.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

type TesterConfig struct {
	TickInterval     Duration `toml:"tick_interval"`
	OverSampling     int      `toml:"oversampling"`
	TargetCycles     int      `toml:"target_cycles"`
	PlateauSize      int      `toml:"plateau_size"`
	SampleDelay      Duration `toml:"sample_delay"`
	MaxPhaseDuration Duration `toml:"max_phase_duration"` // 0 disables the stuck phase check
}

type CalibrationConfig struct {
	RawMin      int     `toml:"raw_min"`
	RawMax      int     `toml:"raw_max"`
	LowDigital  int     `toml:"low_digital"`
	HighDigital int     `toml:"high_digital"`
	LowAnalog   float64 `toml:"low_analog"`
	HighAnalog  float64 `toml:"high_analog"`
}

// I2CConfig selects how ADC register transactions reach the bus: "periph"
// opens the bus directly, "dbus" goes through the I2C service.
type I2CConfig struct {
	Transport string `toml:"transport"`
	Bus       string `toml:"bus"`
	TimeoutMs int    `toml:"timeout_ms"`
}

type SlotConfig struct {
	ID              int     `toml:"id"`
	Channel         int     `toml:"channel"`
	Resistance      float64 `toml:"resistance"`
	ChargePin       string  `toml:"charge_pin"`
	ChargeActiveLow bool    `toml:"charge_active_low"`
	ADCAddress      uint16  `toml:"adc_address"`
	ADCHighReg      byte    `toml:"adc_high_reg"`
	ADCLowReg       byte    `toml:"adc_low_reg"`
}

type MQTTConfig struct {
	Enabled     bool   `toml:"enabled"`
	Broker      string `toml:"broker"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	ClientID    string `toml:"client_id"`
	TopicPrefix string `toml:"topic_prefix"`
	Retained    bool   `toml:"retained"`
	QOS         byte   `toml:"qos"`
	TLSCACert   string `toml:"tls_ca_cert"`
}

type SerialConfig struct {
	Enabled bool   `toml:"enabled"`
	Device  string `toml:"device"`
	Baud    int    `toml:"baud"`
}

type EventsConfig struct {
	Enabled bool `toml:"enabled"`
}

type ServiceConfig struct {
	Enabled bool `toml:"enabled"`
}

type Config struct {
	Tester      TesterConfig      `toml:"tester"`
	Calibration CalibrationConfig `toml:"calibration"`
	I2C         I2CConfig         `toml:"i2c"`
	Slots       []SlotConfig      `toml:"slot"`
	MQTT        MQTTConfig        `toml:"mqtt"`
	Serial      SerialConfig      `toml:"serial"`
	Events      EventsConfig      `toml:"events"`
	Service     ServiceConfig     `toml:"service"`
}

// Load reads config from the first existing path in paths, then applies
// environment variable overrides. Missing files are skipped, a malformed
// file is an error.
func Load(paths ...string) (*Config, error) {
	cfg := defaults()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, statErr := os.Stat(path); statErr == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %q: %w", path, err)
			}
			break
		} else if !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("checking config path %q: %w", path, statErr)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaults() *Config {
	cal := cell.DefaultCalibration()
	return &Config{
		Tester: TesterConfig{
			TickInterval: Duration{time.Second},
			OverSampling: cell.DefaultOverSampling,
			TargetCycles: cell.DefaultTargetCycles,
			PlateauSize:  cell.DefaultPlateauSize,
			SampleDelay:  Duration{cell.DefaultSampleDelay},
		},
		Calibration: CalibrationConfig{
			RawMin:      cal.RawMin,
			RawMax:      cal.RawMax,
			LowDigital:  cal.LowDigital,
			HighDigital: cal.HighDigital,
			LowAnalog:   cal.LowAnalog,
			HighAnalog:  cal.HighAnalog,
		},
		I2C: I2CConfig{
			Transport: "periph",
			TimeoutMs: 1000,
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "cell-tester",
			TopicPrefix: "cell-tester",
			Retained:    true,
			QOS:         1,
		},
		Serial: SerialConfig{
			Device: "/dev/serial0",
			Baud:   115200,
		},
		Events: EventsConfig{
			Enabled: true,
		},
		Service: ServiceConfig{
			Enabled: true,
		},
	}
}

// Validate checks everything the cell core assumes but does not check itself.
func (c *Config) Validate() error {
	cal := c.Calibration
	if cal.HighDigital == cal.LowDigital {
		return fmt.Errorf("%w: high_digital and low_digital are both %d", ErrInvalidCalibration, cal.HighDigital)
	}
	if cal.RawMax < cal.RawMin {
		return fmt.Errorf("%w: raw_max %d is below raw_min %d", ErrInvalidCalibration, cal.RawMax, cal.RawMin)
	}
	if c.Tester.OverSampling < 1 {
		return fmt.Errorf("oversampling must be at least 1, got %d", c.Tester.OverSampling)
	}
	if c.Tester.TargetCycles < 1 {
		return fmt.Errorf("target_cycles must be at least 1, got %d", c.Tester.TargetCycles)
	}
	if c.Tester.PlateauSize < 1 {
		return fmt.Errorf("plateau_size must be at least 1, got %d", c.Tester.PlateauSize)
	}
	if c.Tester.TickInterval.Duration <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", c.Tester.TickInterval)
	}
	switch c.I2C.Transport {
	case "periph", "dbus":
	default:
		return fmt.Errorf("unknown i2c transport '%s'", c.I2C.Transport)
	}
	if len(c.Slots) == 0 {
		return fmt.Errorf("%w: no slots configured", ErrInvalidSlot)
	}
	seen := map[int]bool{}
	for _, s := range c.Slots {
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate slot id %d", ErrInvalidSlot, s.ID)
		}
		seen[s.ID] = true
		if s.Resistance <= 0 {
			return fmt.Errorf("%w: slot %d resistance must be positive, got %g", ErrInvalidSlot, s.ID, s.Resistance)
		}
		if s.ChargePin == "" {
			return fmt.Errorf("%w: slot %d has no charge_pin", ErrInvalidSlot, s.ID)
		}
	}
	return nil
}

// Slot returns the config of the slot with the given id.
func (c *Config) Slot(id int) (SlotConfig, bool) {
	for _, s := range c.Slots {
		if s.ID == id {
			return s, true
		}
	}
	return SlotConfig{}, false
}

// CellParams builds the cell construction parameters for a slot.
func (c *Config) CellParams(s SlotConfig, timeOffset int64) cell.Params {
	return cell.Params{
		ID:           s.ID,
		Channel:      s.Channel,
		Resistance:   s.Resistance,
		TimeOffset:   timeOffset,
		OverSampling: c.Tester.OverSampling,
		TargetCycles: c.Tester.TargetCycles,
		PlateauSize:  c.Tester.PlateauSize,
		SampleDelay:  c.Tester.SampleDelay.Duration,
		Calibration: cell.Calibration{
			RawMin:      c.Calibration.RawMin,
			RawMax:      c.Calibration.RawMax,
			LowDigital:  c.Calibration.LowDigital,
			HighDigital: c.Calibration.HighDigital,
			LowAnalog:   c.Calibration.LowAnalog,
			HighAnalog:  c.Calibration.HighAnalog,
		},
	}
}

// applyEnvOverrides copies any set CELL_TESTER_* environment variables into cfg.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CELL_TESTER_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Tester.TickInterval = Duration{d}
		} else {
			log.Warnf("config: ignoring invalid CELL_TESTER_TICK_INTERVAL=%q: %v", v, err)
		}
	}
	if v := os.Getenv("CELL_TESTER_TARGET_CYCLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Tester.TargetCycles = n
		} else {
			log.Warnf("config: ignoring invalid CELL_TESTER_TARGET_CYCLES=%q: %v", v, err)
		}
	}
	if v := os.Getenv("CELL_TESTER_MAX_PHASE_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Tester.MaxPhaseDuration = Duration{d}
		} else {
			log.Warnf("config: ignoring invalid CELL_TESTER_MAX_PHASE_DURATION=%q: %v", v, err)
		}
	}
	if v := os.Getenv("CELL_TESTER_I2C_TRANSPORT"); v != "" {
		cfg.I2C.Transport = v
	}
	if v := os.Getenv("CELL_TESTER_MQTT_ENABLED"); v != "" {
		cfg.MQTT.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CELL_TESTER_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("CELL_TESTER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("CELL_TESTER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("CELL_TESTER_MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTT.TopicPrefix = v
	}
	if v := os.Getenv("CELL_TESTER_SERIAL_DEVICE"); v != "" {
		cfg.Serial.Device = v
	}
	if v := os.Getenv("CELL_TESTER_SERIAL_BAUD"); v != "" {
		if b, err := strconv.Atoi(v); err == nil {
			cfg.Serial.Baud = b
		} else {
			log.Warnf("config: ignoring invalid CELL_TESTER_SERIAL_BAUD=%q: %v", v, err)
		}
	}
}
