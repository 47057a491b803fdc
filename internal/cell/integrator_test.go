package cell

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickIntegratesDischarge(t *testing.T) {
	r := newTestRig(t, 1)
	require.NoError(t, r.cell.SetMode(ModeDischarge))
	r.sensor.Set(rawFor(3.0))

	require.NoError(t, r.cell.Tick())
	assert.Zero(t, r.cell.Capacity())

	r.clock.Advance(1000)
	require.NoError(t, r.cell.Tick())

	assert.Equal(t, 3.0, r.cell.Voltage())
	assert.Equal(t, 3000.0, r.cell.Current())
	assert.Equal(t, 9000.0, r.cell.Power())
	assert.Equal(t, 1.0, r.cell.DischargeTime())
	assert.InDelta(t, 3000.0*1000/1000/3600, r.cell.Capacity(), 1e-12)
	assert.InDelta(t, 9000.0*1000/1000/3600, r.cell.Energy(), 1e-12)
	assert.InDelta(t, 0.8333, r.cell.Capacity(), 1e-4)
	assert.InDelta(t, 2.5, r.cell.Energy(), 1e-12)
}

func TestTickUsesIntervalEndValues(t *testing.T) {
	r := newTestRig(t, 2)
	require.NoError(t, r.cell.SetMode(ModeDischarge))

	r.sensor.Set(rawFor(4.0))
	require.NoError(t, r.cell.Tick())

	r.sensor.Set(rawFor(3.0))
	r.clock.Advance(3600)
	require.NoError(t, r.cell.Tick())

	// Left rectangle: the 3600 ms interval is weighted entirely with 3.0 V.
	assert.InDelta(t, 1500.0/1000, r.cell.Capacity(), 1e-12)
	assert.InDelta(t, 4500.0/1000, r.cell.Energy(), 1e-12)
}

func TestTickMeasuresFromOffset(t *testing.T) {
	r := newTestRig(t, 1)
	require.NoError(t, r.cell.SetMode(ModeDischarge))
	r.clock.Now = 10000
	r.cell.SetOffset(8000)
	r.sensor.Set(rawFor(3.0))

	require.NoError(t, r.cell.Tick())
	assert.Equal(t, 2.0, r.cell.DischargeTime())
}

func TestTickAccumulatorsNonDecreasing(t *testing.T) {
	r := newTestRig(t, 4.7)
	require.NoError(t, r.cell.SetMode(ModeDischarge))
	prevC, prevE := 0.0, 0.0
	for i := 0; i < 50; i++ {
		r.sensor.Set(rawFor(4.2 - float64(i)*0.03))
		r.clock.Advance(int64(100 + i*7))
		require.NoError(t, r.cell.Tick())
		assert.GreaterOrEqual(t, r.cell.Capacity(), prevC)
		assert.GreaterOrEqual(t, r.cell.Energy(), prevE)
		prevC, prevE = r.cell.Capacity(), r.cell.Energy()
	}
}

func TestTickOutsideDischargeOnlyRefreshesVoltage(t *testing.T) {
	r := newTestRig(t, 1)
	require.NoError(t, r.cell.SetMode(ModeCharge))
	r.sensor.Set(rawFor(3.75))
	r.clock.Advance(5000)

	require.NoError(t, r.cell.Tick())
	assert.Equal(t, 3.75, r.cell.Voltage())
	assert.Zero(t, r.cell.Current())
	assert.Zero(t, r.cell.Power())
	assert.Zero(t, r.cell.Capacity())
	assert.Zero(t, r.cell.DischargeTime())
}

func TestSnapshot(t *testing.T) {
	r := newTestRig(t, 1)
	require.NoError(t, r.cell.SetMode(ModeDischarge))
	r.sensor.Set(rawFor(3.0))
	r.clock.Advance(1000)
	require.NoError(t, r.cell.Tick())

	s := r.cell.Snapshot()
	assert.Equal(t, 1, s.Slot)
	assert.Equal(t, "discharge", s.Mode)
	assert.Equal(t, 3.0, s.VoltageV)
	assert.Equal(t, 3000.0, s.CurrentMA)
	assert.Equal(t, 1.0, s.ElapsedS)
}
