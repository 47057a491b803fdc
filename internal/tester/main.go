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

// Package tester runs the charge/discharge test over every configured slot
// and exposes its progress over dbus, MQTT and the serial port.
package tester

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/cell-tester/internal/cell"
	"github.com/TheCacophonyProject/cell-tester/internal/config"
	"github.com/TheCacophonyProject/cell-tester/internal/hw"
	"github.com/TheCacophonyProject/cell-tester/internal/telemetry"
	"github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"
)

var version = "<not set>"
var log = logrus.New()

type Args struct {
	Run      *subcommand `arg:"subcommand:run"      help:"Run the test loop on every configured slot."`
	Sample   *Sample     `arg:"subcommand:sample"   help:"Print one calibrated voltage reading."`
	SetMode  *SetMode    `arg:"subcommand:set-mode" help:"Put a slot into a mode, switching the charger to match."`
	Config   string      `arg:"-c, --config" help:"Config file to use instead of the default locations"`
	LogLevel string      `arg:"-l, --loglevel" default:"info" help:"Set the logging level (debug, info, warn, error)"`
}

type subcommand struct {
}

type Sample struct {
	Slot int `arg:"required" help:"The slot id to read"`
}

type SetMode struct {
	Slot int    `arg:"required" help:"The slot id"`
	Mode string `arg:"required" help:"empty, charge or discharge"`
}

func (Args) Version() string {
	return version
}

func procArgs(input []string) (Args, error) {
	args := Args{}
	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return args, err
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
		log.Warn("Unknown log level, defaulting to info")
	}
}

// customFormatter prints "[LEVEL] message".
type customFormatter struct{}

func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return []byte(fmt.Sprintf("[%s] %s\n", strings.ToUpper(entry.Level.String()), entry.Message)), nil
}

func Run(inputArgs []string, ver string) error {
	version = ver
	log.SetFormatter(new(customFormatter))
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %w", err)
	}
	setLogLevel(args.LogLevel)
	log.Infof("Running version: %s", version)

	cfg, err := loadConfig(args.Config)
	if err != nil {
		return err
	}

	switch {
	case args.Sample != nil:
		return sample(cfg, args.Sample.Slot)
	case args.SetMode != nil:
		return setMode(cfg, args.SetMode)
	case args.Run != nil:
		return run(cfg)
	}
	return errors.New("no subcommand given, see --help")
}

func loadConfig(path string) (*config.Config, error) {
	paths := []string{config.DefaultPath, "cell-tester.toml"}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		paths = []string{path}
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// nopActuator leaves the charger alone, for commands that only read.
type nopActuator struct{}

func (nopActuator) SetChargeEnabled(bool) error { return nil }

// heldActuator drops commands until it is released, so building a cell does
// not switch the charger before the wanted mode is applied.
type heldActuator struct {
	actuator cell.Actuator
	released bool
}

func (h *heldActuator) SetChargeEnabled(enabled bool) error {
	if !h.released {
		return nil
	}
	return h.actuator.SetChargeEnabled(enabled)
}

// applyMode releases the held actuator and sets the mode, so the charger only
// sees the command for m.
func applyMode(c *cell.Cell, held *heldActuator, m cell.Mode) error {
	held.released = true
	return c.SetMode(m)
}

func readOnlyActuator(config.SlotConfig) (cell.Actuator, error) {
	return nopActuator{}, nil
}

func gpioActuator(s config.SlotConfig) (cell.Actuator, error) {
	a, err := hw.NewGPIOActuator(s.ChargePin, s.ChargeActiveLow)
	if err != nil {
		return nil, fmt.Errorf("slot %d: %w", s.ID, err)
	}
	return a, nil
}

// openCells builds a cell for every slot. The returned closer releases the
// I2C bus if one was opened.
func openCells(cfg *config.Config, clock cell.Clock, slots []config.SlotConfig, newActuator func(config.SlotConfig) (cell.Actuator, error)) ([]*cell.Cell, io.Closer, error) {
	if err := hw.Init(); err != nil {
		return nil, nil, err
	}

	var closer io.Closer = nopCloser{}
	newTransport := func(s config.SlotConfig) hw.Transport {
		return &hw.DBusI2C{Addr: byte(s.ADCAddress), TimeoutMs: cfg.I2C.TimeoutMs}
	}
	if cfg.I2C.Transport == "periph" {
		bus, err := hw.OpenBus(cfg.I2C.Bus)
		if err != nil {
			return nil, nil, err
		}
		closer = bus
		newTransport = func(s config.SlotConfig) hw.Transport {
			return hw.NewBusTransport(bus, s.ADCAddress)
		}
	}

	var cells []*cell.Cell
	for _, s := range slots {
		actuator, err := newActuator(s)
		if err != nil {
			closer.Close()
			return nil, nil, err
		}
		sensor := hw.NewRegisterADC(newTransport(s), s.ADCHighReg, s.ADCLowReg)
		c, err := cell.New(cfg.CellParams(s, clock.Millis()), sensor, actuator, clock)
		if err != nil {
			closer.Close()
			return nil, nil, err
		}
		cells = append(cells, c)
	}
	return cells, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func slotConfig(cfg *config.Config, id int) ([]config.SlotConfig, error) {
	s, ok := cfg.Slot(id)
	if !ok {
		return nil, fmt.Errorf("%w: no slot with id %d", config.ErrInvalidSlot, id)
	}
	return []config.SlotConfig{s}, nil
}

func sample(cfg *config.Config, id int) error {
	slots, err := slotConfig(cfg, id)
	if err != nil {
		return err
	}
	clock := hw.NewMonotonicClock()
	cells, closer, err := openCells(cfg, clock, slots, readOnlyActuator)
	if err != nil {
		return err
	}
	defer closer.Close()

	u, err := cells[0].Sample()
	if err != nil {
		return err
	}
	log.Infof("Slot %d: %.4f V", id, u)
	return nil
}

func setMode(cfg *config.Config, args *SetMode) error {
	m, err := cell.ParseMode(args.Mode)
	if err != nil {
		return err
	}
	switch m {
	case cell.ModeEmpty, cell.ModeCharge, cell.ModeDischarge:
	default:
		return fmt.Errorf("%w: %s", ErrModeNotSettable, m)
	}
	slots, err := slotConfig(cfg, args.Slot)
	if err != nil {
		return err
	}
	clock := hw.NewMonotonicClock()
	held := &heldActuator{}
	cells, closer, err := openCells(cfg, clock, slots, func(s config.SlotConfig) (cell.Actuator, error) {
		a, err := gpioActuator(s)
		if err != nil {
			return nil, err
		}
		held.actuator = a
		return held, nil
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := applyMode(cells[0], held, m); err != nil {
		return err
	}
	log.Infof("Slot %d set to %s", args.Slot, m)
	return nil
}

func openPublisher(cfg *config.Config) (telemetry.Publisher, error) {
	var pubs telemetry.Multi
	if cfg.MQTT.Enabled {
		statusTopic := telemetry.StatusTopic(cfg.MQTT.TopicPrefix)
		p, err := telemetry.NewMQTTPublisher(cfg.MQTT, statusTopic, telemetry.FormatOnline(false))
		if err != nil {
			return nil, err
		}
		log.Infof("Connected to MQTT broker %s", cfg.MQTT.Broker)
		pubs = append(pubs, p)
	}
	if cfg.Serial.Enabled {
		p, err := telemetry.NewSerialPublisher(cfg.Serial)
		if err != nil {
			pubs.Close()
			return nil, err
		}
		pubs = append(pubs, p)
	}
	if len(pubs) == 0 {
		return telemetry.LogPublisher{Log: log}, nil
	}
	return pubs, nil
}

func run(cfg *config.Config) error {
	clock := hw.NewMonotonicClock()
	cells, closer, err := openCells(cfg, clock, cfg.Slots, gpioActuator)
	if err != nil {
		return err
	}
	defer closer.Close()

	pub, err := openPublisher(cfg)
	if err != nil {
		return err
	}
	defer pub.Close()

	statusTopic := telemetry.StatusTopic(cfg.MQTT.TopicPrefix)
	announce := func(online bool) {
		msg := telemetry.Message{Topic: statusTopic, Payload: telemetry.FormatOnline(online), Retained: true}
		if err := pub.Publish(msg); err != nil {
			log.Warnf("Failed to publish status: %v", err)
		}
	}

	var events EventReporter = noEvents{}
	if cfg.Events.Enabled {
		events = eventReporterClient{}
	}
	sched := NewScheduler(cells, clock, Options{
		Publisher:        pub,
		TopicPrefix:      cfg.MQTT.TopicPrefix,
		Retained:         cfg.MQTT.Retained,
		Events:           events,
		MaxPhaseDuration: cfg.Tester.MaxPhaseDuration.Duration,
	})

	if cfg.Service.Enabled {
		if err := startService(sched); err != nil {
			return fmt.Errorf("starting dbus service: %w", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	announce(true)
	log.Infof("Testing %d slots every %s", len(cells), cfg.Tester.TickInterval)
	err = loop(ctx, sched, cfg.Tester.TickInterval.Duration)
	announce(false)
	return err
}

// loop steps the scheduler once per interval until ctx is done or a step
// fails.
func loop(ctx context.Context, sched *Scheduler, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := sched.Step(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			log.Info("Shutting down")
			return nil
		case <-ticker.C:
		}
	}
}
