package tester

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/TheCacophonyProject/cell-tester/internal/cell"
	"github.com/TheCacophonyProject/cell-tester/internal/config"
	"github.com/TheCacophonyProject/cell-tester/internal/hw"
	"github.com/TheCacophonyProject/cell-tester/internal/telemetry"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcArgs(t *testing.T) {
	args, err := procArgs([]string{"sample", "--slot", "2"})
	require.NoError(t, err)
	require.NotNil(t, args.Sample)
	assert.Equal(t, 2, args.Sample.Slot)
	assert.Equal(t, "info", args.LogLevel)

	args, err = procArgs([]string{"-l", "debug", "-c", "/tmp/x.toml", "set-mode", "--slot", "1", "--mode", "discharge"})
	require.NoError(t, err)
	require.NotNil(t, args.SetMode)
	assert.Equal(t, 1, args.SetMode.Slot)
	assert.Equal(t, "discharge", args.SetMode.Mode)
	assert.Equal(t, "debug", args.LogLevel)
	assert.Equal(t, "/tmp/x.toml", args.Config)

	args, err = procArgs([]string{"run"})
	require.NoError(t, err)
	assert.NotNil(t, args.Run)

	_, err = procArgs([]string{"set-mode", "--slot", "1"})
	assert.Error(t, err)
}

func TestSetLogLevel(t *testing.T) {
	defer log.SetLevel(logrus.InfoLevel)

	setLogLevel("debug")
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	setLogLevel("error")
	assert.Equal(t, logrus.ErrorLevel, log.GetLevel())
	setLogLevel("loud")
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}

func TestCustomFormatter(t *testing.T) {
	out, err := new(customFormatter).Format(&logrus.Entry{Level: logrus.ErrorLevel, Message: "bus busy"})
	require.NoError(t, err)
	assert.Equal(t, "[ERROR] bus busy\n", string(out))
}

const validConfig = `
[[slot]]
id = 1
resistance = 3.9
charge_pin = "GPIO17"
adc_address = 0x25
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cell-tester.toml")
	require.NoError(t, os.WriteFile(path, []byte(validConfig), 0644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Slots, 1)
	assert.Equal(t, uint16(0x25), cfg.Slots[0].ADCAddress)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	noSlots := filepath.Join(t.TempDir(), "empty.toml")
	require.NoError(t, os.WriteFile(noSlots, []byte("[tester]\n"), 0644))
	_, err = loadConfig(noSlots)
	assert.ErrorIs(t, err, config.ErrInvalidSlot)
}

func TestOpenPublisherDefaultsToLog(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	pub, err := openPublisher(cfg)
	require.NoError(t, err)
	assert.IsType(t, telemetry.LogPublisher{}, pub)
	assert.NoError(t, pub.Publish(telemetry.Message{Topic: "a", Payload: "b"}))
}

func TestLoopStopsOnCancel(t *testing.T) {
	sched := NewScheduler(nil, &hw.FakeClock{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, loop(ctx, sched, 1))
}

func TestLoopReturnsStepError(t *testing.T) {
	r := newRig(t, 0)
	r.sensor.Err = errors.New("no ack")
	err := loop(context.Background(), r.sched, 1)
	assert.ErrorIs(t, err, r.sensor.Err)
}

func TestApplyModeOnlySendsRequestedMode(t *testing.T) {
	fake := &hw.FakeActuator{}
	held := &heldActuator{actuator: fake}
	c, err := cell.New(cell.Params{ID: 1, Resistance: 4.0, Calibration: exactCalibration},
		&hw.FakeSensor{}, held, &hw.FakeClock{})
	require.NoError(t, err)
	assert.Empty(t, fake.States)

	require.NoError(t, applyMode(c, held, cell.ModeDischarge))
	assert.Equal(t, []bool{false}, fake.States)
	assert.Equal(t, cell.ModeDischarge, c.Mode())
}

func TestSetModeCommandRejectsFirst(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	err = setMode(cfg, &SetMode{Slot: 1, Mode: "first"})
	assert.ErrorIs(t, err, ErrModeNotSettable)
}
