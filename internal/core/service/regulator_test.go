package service

import (
	"errors"
	"testing"
	"time"

	"github.com/berfenger/zeroexport/internal/core/domain"

	"github.com/stretchr/testify/require"
)

func TestStartSendsMax(t *testing.T) {

	require := require.New(t)

	r := NewRegulator(testConfig, logic)
	require.Equal(1500, r.Start())
	require.Equal(domain.RegulatorModeNormal, r.Mode())
}

func TestCycleSequence(t *testing.T) {

	require := require.New(t)

	r := NewRegulator(testConfig, logic)
	r.Start()

	o := r.Cycle(okSample(-40))
	require.True(o.SendCommand)
	require.Equal(1500, o.Limit, "start from max, clamped")

	o = r.Cycle(okSample(-600))
	require.True(o.SendCommand)
	require.Equal(975, o.Limit)

	o = r.Cycle(okSample(-40))
	require.Equal(1010, o.Limit)

	o = r.Cycle(okSample(200))
	require.Equal(1500, o.Limit)
	require.Equal(string(domain.ControlBranchMaximize), o.Reason)
	require.EqualValues(4, r.State().Cycles)
}

func TestUnavailableInverterSkipsCommand(t *testing.T) {

	require := require.New(t)

	r := NewRegulator(withResend(testConfig), logic)
	r.Start()
	r.Cycle(okSample(-600))

	o := r.Cycle(domain.CycleSample{InverterAvailable: false})
	require.False(o.SendCommand, "never command an unavailable inverter")
	require.Equal(domain.RegulatorModeDegraded, o.Mode)
	require.Equal(1500, r.State().CurrentLimit)
	require.ErrorIs(r.State().LastError, domain.ErrInverterUnavailable)

	// next cycle is attempted unconditionally
	o = r.Cycle(okSample(-100))
	require.True(o.SendCommand)
	require.Equal(domain.RegulatorModeNormal, o.Mode)
}

func TestFailureResetsToMax(t *testing.T) {

	require := require.New(t)

	r := NewRegulator(testConfig, logic)
	r.Start()
	r.Cycle(okSample(-600))
	r.Cycle(okSample(-600))
	require.Equal(450, r.State().CurrentLimit)

	o := r.Cycle(failedSample(domain.NewParseError(domain.DEVICE_METER, "curr_w", errors.New("bad"))))
	require.False(o.SendCommand)
	require.Equal(domain.RegulatorModeDegraded, r.Mode())
	require.Equal(1500, o.Limit)

	// recovery computes from max, not from the value before the failure
	o = r.Cycle(okSample(0))
	require.True(o.SendCommand)
	require.Equal(1500, o.Limit)
	require.Equal(1575, o.Tick.RawLimit)
	require.Equal(domain.RegulatorModeNormal, r.Mode())
	require.Nil(r.State().LastError)
}

func TestResendMaxOnFailure(t *testing.T) {

	require := require.New(t)

	r := NewRegulator(withResend(testConfig), logic)
	r.Start()
	r.Cycle(okSample(-600))

	o := r.Cycle(failedSample(domain.NewCommunicationError(domain.DEVICE_METER, "read", errors.New("timeout"))))
	require.True(o.SendCommand)
	require.Equal(1500, o.Limit)
	require.Equal(domain.RegulatorModeDegraded, o.Mode)
}

func TestCommandFailedDegrades(t *testing.T) {

	require := require.New(t)

	r := NewRegulator(withResend(testConfig), logic)
	r.Start()
	r.Cycle(okSample(-600))

	o := r.CommandFailed(domain.NewCommunicationError(domain.DEVICE_INVERTER, "set_limit", errors.New("refused")))
	require.False(o.SendCommand, "a failed command is not retried in the same cycle")
	require.Equal(domain.RegulatorModeDegraded, r.Mode())
	require.Equal(1500, r.State().CurrentLimit)
}

func TestStatusSnapshot(t *testing.T) {

	require := require.New(t)

	r := NewRegulator(testConfig, logic)
	r.now = func() time.Time { return time.Unix(1000, 0) }
	r.Start()

	s := r.Status()
	require.Equal("normal", s.Mode)
	require.Nil(s.GridPowerWatt)
	require.Equal(75, s.MinWatt)
	require.Equal(75, s.SetpointOffset)
	require.EqualValues(10, s.PollIntervalSeconds)

	r.Cycle(okSample(-600))
	s = r.Status()
	require.NotNil(s.GridPowerWatt)
	require.Equal(-600, *s.GridPowerWatt)
	require.True(*s.InverterAvailable)
	require.Equal(975, s.CurrentLimitWatt)
	require.Equal(time.Unix(1000, 0), s.LastCycleAt)

	r.Cycle(failedSample(domain.NewCommunicationError(domain.DEVICE_INVERTER, "status", errors.New("timeout"))))
	s = r.Status()
	require.Equal("degraded", s.Mode)
	require.Equal("communication", s.LastErrorKind)
	require.Nil(s.GridPowerWatt)
}

func okSample(gridPower int) domain.CycleSample {
	return domain.CycleSample{InverterAvailable: true, GridPowerWatt: gridPower, MeterRead: true}
}

func failedSample(err error) domain.CycleSample {
	return domain.CycleSample{Err: err}
}

func withResend(cfg domain.RegulatorConfig) domain.RegulatorConfig {
	cfg.ResendMaxOnFailure = true
	return cfg
}
