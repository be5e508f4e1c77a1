package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/zeroexport/internal/core/domain"
	"github.com/berfenger/zeroexport/internal/core/events"
	"github.com/berfenger/zeroexport/internal/core/service"
	. "github.com/berfenger/zeroexport/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// RegulatorActor drives the control loop: every poll interval it asks the
// device actor for readings, feeds them to the regulator and delivers the
// resulting limit. Cycles never overlap, the next tick is scheduled once
// the current cycle is over.
type RegulatorActor struct {
	ActorWithStates
	stash      *Stash
	scheduler  *scheduler.TimerScheduler
	cancelTick scheduler.CancelFunc
	// only this tick starts a cycle, anything else is a leftover
	pendingTick *regulatorTick

	regulator   *service.Regulator
	deviceActor *actor.PID
	eventStream *eventstream.EventStream
	// bound for a whole device round trip, including stashing time
	deviceTimeout time.Duration

	logger *zap.Logger
}

type regulatorTick struct {
	scheduledAt time.Time
}

func NewRegulatorActor(regulator *service.Regulator, deviceActor *actor.PID, eventStream *eventstream.EventStream, logger *zap.Logger) *RegulatorActor {
	act := &RegulatorActor{
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
		stash:         &Stash{},
		regulator:     regulator,
		deviceActor:   deviceActor,
		eventStream:   eventStream,
		deviceTimeout: 3*regulator.Config().RequestTimeout + time.Second,
		logger:        ActorLogger(domain.ACTOR_ID_REGULATOR, logger),
	}
	act.Become(&regulatorStartingState{actor: act})
	return act
}

func (a *RegulatorActor) Receive(ctx actor.Context) {
	a.Behavior.Receive(ctx)
}

func (a *RegulatorActor) scheduleTick(ctx actor.Context) {
	tick := &regulatorTick{scheduledAt: time.Now()}
	a.pendingTick = tick
	a.cancelTick = a.scheduler.RequestOnce(a.regulator.Config().PollInterval, ctx.Self(), tick)
}

func (a *RegulatorActor) stop() {
	if a.cancelTick != nil {
		a.cancelTick()
		a.cancelTick = nil
	}
	a.pendingTick = nil
}

func (a *RegulatorActor) requestSetLimit(ctx actor.Context, limit int) {
	watts := uint(limit)
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(a.deviceActor, domain.SetLimitRequest{LimitWatt: watts}, a.deviceTimeout), func(err error) any {
		return domain.SetLimitResponse{
			ActorResponseMixIn: domain.ErrorResponse(domain.NewCommunicationError(domain.DEVICE_INVERTER, "set_limit", err)),
			LimitWatt:          watts,
		}
	})
}

func (a *RegulatorActor) requestReadings(ctx actor.Context) {
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(a.deviceActor, domain.GetReadingsRequest{}, a.deviceTimeout), func(err error) any {
		// the device actor itself did not answer, no single device to blame
		return domain.GetReadingsResponse{
			ActorResponseMixIn: domain.ErrorResponse(domain.NewCommunicationError(domain.ACTOR_ID_DEVICE, "readings", err)),
		}
	})
}

func (a *RegulatorActor) publishStatus() {
	for _, ev := range events.RegulatorStatusToUpdateEvents(a.regulator.Status()) {
		a.eventStream.Publish(ev)
	}
}

// handleCommon answers the requests every state serves. Returns false if
// the message was not handled.
func (a *RegulatorActor) handleCommon(ctx actor.Context, stateName string) bool {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		a.logger.Debug(fmt.Sprintf("regulator@%s: ActorHealthRequest", stateName))
		ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_REGULATOR,
			Healthy: true,
			State:   stateName,
		})
	case domain.GetRegulatorStatusRequest:
		a.logger.Debug(fmt.Sprintf("regulator@%s: GetRegulatorStatusRequest", stateName))
		ForRequest(msg).Respond(ctx, domain.GetRegulatorStatusResponse{
			Status: a.regulator.Status(),
		})
	case *regulatorTick:
		// a tick from a cancelled timer or a previous incarnation
		a.logger.Debug(fmt.Sprintf("regulator@%s: drop stale tick", stateName))
	case *actor.Restarting:
		a.stop()
	case *actor.Stopping:
		a.stop()
	default:
		return false
	}
	return true
}

// endCycle publishes the outcome and waits for the next tick.
func (a *RegulatorActor) endCycle(ctx actor.Context) {
	a.publishStatus()
	a.scheduleTick(ctx)
	a.Become(&regulatorIdleState{actor: a})
	a.stash.UnstashAll(ctx)
}

func (a *RegulatorActor) logError(msg string, err error) {
	a.logger.Warn(msg,
		zap.String("device", domain.ErrorDevice(err)),
		zap.String("kind", domain.ErrorKind(err)),
		zap.Error(err))
}

// starting: the inverter is set to its maximum before the first cycle

type regulatorStartingState struct {
	actor *RegulatorActor
}

func (s *regulatorStartingState) Name() string {
	return "starting"
}

func (s *regulatorStartingState) Receive(ctx actor.Context) {
	a := s.actor
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		a.logger.Debug("regulator@starting started")
		a.scheduler = scheduler.NewTimerScheduler(ctx)
		limit := a.regulator.Start()
		a.logger.Info("regulator@starting: set startup limit",
			zap.Int("limit", limit),
			zap.Int("min", a.regulator.Config().MinWatt),
			zap.Int("setpoint_offset", a.regulator.Config().SetpointOffset),
			zap.Duration("poll_interval", a.regulator.Config().PollInterval))
		a.requestSetLimit(ctx, limit)
	case domain.SetLimitResponse:
		if msg.HasResponseError() {
			// not fatal, the loop keeps going from the maximum
			a.logError("regulator@starting: startup limit failed", msg.GetResponseError())
		}
		a.endCycle(ctx)
	default:
		if a.handleCommon(ctx, s.Name()) {
			return
		}
		a.logger.Debug("regulator@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		a.stash.Stash(ctx, msg)
	}
}

// idle

type regulatorIdleState struct {
	actor *RegulatorActor
}

func (s *regulatorIdleState) Name() string {
	return "idle"
}

func (s *regulatorIdleState) Receive(ctx actor.Context) {
	a := s.actor
	switch msg := ctx.Message().(type) {
	case *regulatorTick:
		if msg != a.pendingTick {
			a.handleCommon(ctx, s.Name())
			return
		}
		a.logger.Debug("regulator@idle: tick", zap.Duration("since_scheduled", time.Since(msg.scheduledAt)))
		a.cancelTick = nil
		a.pendingTick = nil
		a.requestReadings(ctx)
		a.Become(&regulatorReadingState{actor: a})
	default:
		if a.handleCommon(ctx, s.Name()) {
			return
		}
		a.logger.Debug("regulator@idle default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// reading: waiting for the device readings of the current cycle

type regulatorReadingState struct {
	actor *RegulatorActor
}

func (s *regulatorReadingState) Name() string {
	return "reading"
}

func (s *regulatorReadingState) Receive(ctx actor.Context) {
	a := s.actor
	switch msg := ctx.Message().(type) {
	case domain.GetReadingsResponse:
		sample := domain.CycleSample{
			InverterAvailable: msg.InverterAvailable,
			GridPowerWatt:     msg.GridPowerWatt,
			MeterRead:         msg.MeterRead,
			Err:               msg.GetResponseError(),
		}
		prev := a.regulator.State().CurrentLimit
		outcome := a.regulator.Cycle(sample)

		switch {
		case sample.Err != nil:
			a.logError("regulator@reading: cycle failed, limit reset to max", sample.Err)
		case !sample.InverterAvailable:
			a.logger.Info("regulator@reading: inverter not available, limit reset to max", zap.Int("limit", outcome.Limit))
		default:
			a.logger.Info("regulator@reading: cycle",
				zap.Int("grid_power", sample.GridPowerWatt),
				zap.Int("prev_limit", prev),
				zap.Int("raw_limit", outcome.Tick.RawLimit),
				zap.Int("limit", outcome.Limit),
				zap.String("branch", string(outcome.Tick.Branch)),
				zap.Bool("clamped", outcome.Tick.Clamped))
		}

		if outcome.SendCommand {
			a.requestSetLimit(ctx, outcome.Limit)
			a.Become(&regulatorCommandingState{actor: a})
			return
		}
		a.endCycle(ctx)
	default:
		if a.handleCommon(ctx, s.Name()) {
			return
		}
		a.logger.Debug("regulator@reading: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		a.stash.Stash(ctx, msg)
	}
}

// commanding: waiting for the inverter to acknowledge the new limit

type regulatorCommandingState struct {
	actor *RegulatorActor
}

func (s *regulatorCommandingState) Name() string {
	return "commanding"
}

func (s *regulatorCommandingState) Receive(ctx actor.Context) {
	a := s.actor
	switch msg := ctx.Message().(type) {
	case domain.SetLimitResponse:
		if msg.HasResponseError() {
			outcome := a.regulator.CommandFailed(msg.GetResponseError())
			a.logError("regulator@commanding: set limit failed, limit reset to max", msg.GetResponseError())
			a.logger.Debug("regulator@commanding: degraded", zap.Int("limit", outcome.Limit))
		} else {
			a.logger.Debug("regulator@commanding: limit set", zap.Uint("limit", msg.LimitWatt))
		}
		a.endCycle(ctx)
	default:
		if a.handleCommon(ctx, s.Name()) {
			return
		}
		a.logger.Debug("regulator@commanding: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		a.stash.Stash(ctx, msg)
	}
}
