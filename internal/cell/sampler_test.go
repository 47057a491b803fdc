package cell

import (
	"errors"
	"testing"
	"time"

	"github.com/TheCacophonyProject/cell-tester/internal/hw"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalibrationVoltageBoundsAndMonotonic(t *testing.T) {
	cal := DefaultCalibration()
	prev := -1.0
	for d := cal.LowDigital; d <= cal.HighDigital; d++ {
		u := cal.Voltage(d)
		assert.GreaterOrEqual(t, u, cal.LowAnalog)
		assert.LessOrEqual(t, u, cal.HighAnalog+1e-12)
		assert.GreaterOrEqual(t, u, prev)
		prev = u
	}
	assert.InDelta(t, 3.2835, cal.Voltage(794), 1e-9)
}

func TestSampleAveragesWithTruncation(t *testing.T) {
	r := newTestRig(t, 1)
	// (100 + 101 + 101 + 101) / 4 = 100 with integer division
	r.sensor.Sequence = []int{100, 101, 101, 101}

	u, err := r.cell.Sample()
	require.NoError(t, err)
	assert.Equal(t, exactCalibration.Voltage(100), u)
	assert.Equal(t, 4, r.sensor.CallCount)
}

func TestSampleClampsRawReadings(t *testing.T) {
	r := newTestRig(t, 1)
	r.sensor.Sequence = []int{5000, 5000, -20, -20}

	u, err := r.cell.Sample()
	require.NoError(t, err)
	assert.Equal(t, exactCalibration.Voltage(2047*2/4), u)
}

func TestSampleDelaysBeforeEachRead(t *testing.T) {
	clock := &hw.FakeClock{}
	p := DefaultParams(1, 0, 1)
	c, err := New(p, &hw.FakeSensor{Value: 400}, &hw.FakeActuator{}, clock)
	require.NoError(t, err)

	_, err = c.Sample()
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultOverSampling)*(10*time.Millisecond).Milliseconds(), clock.Now)
}

func TestSampleSensorError(t *testing.T) {
	r := newTestRig(t, 1)
	sensorErr := errors.New("i2c timeout")
	r.sensor.Err = sensorErr

	_, err := r.cell.Sample()
	assert.ErrorIs(t, err, sensorErr)
}
