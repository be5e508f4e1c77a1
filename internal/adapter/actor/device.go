package actor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/berfenger/zeroexport/internal/core/domain"
	"github.com/berfenger/zeroexport/internal/core/port"
	"github.com/berfenger/zeroexport/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// DeviceActor serializes every access to the meter and the inverter.
// Blocking calls run in background tasks while the actor stashes
// incoming requests until the result is back.
type DeviceActor struct {
	actorutil.ActorWithStates
	stash    *actorutil.Stash
	meter    port.PowerMeter
	inverter port.Inverter
	timeout  time.Duration
	// devices to be reopened before the next request
	reopen map[string]bool
	logger *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
	err     error
}

func NewDeviceActor(meter port.PowerMeter, inverter port.Inverter, timeout time.Duration, logger *zap.Logger) *DeviceActor {
	act := &DeviceActor{
		ActorWithStates: actorutil.ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
		meter:    meter,
		inverter: inverter,
		timeout:  timeout,
		stash:    &actorutil.Stash{},
		reopen:   map[string]bool{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_DEVICE, logger),
	}
	act.Become(&deviceStartingState{actor: act})
	return act
}

func (a *DeviceActor) Receive(ctx actor.Context) {
	a.Behavior.Receive(ctx)
}

// TaskTimeout bounds a full GetReadingsRequest: one call per device.
func TaskTimeout(timeout time.Duration) time.Duration {
	return 2*timeout + timeout/2
}

func (a *DeviceActor) connectables() map[string]port.Connectable {
	res := map[string]port.Connectable{}
	if c, ok := a.meter.(port.Connectable); ok {
		res[domain.DEVICE_METER] = c
	}
	if c, ok := a.inverter.(port.Connectable); ok {
		res[domain.DEVICE_INVERTER] = c
	}
	return res
}

func (a *DeviceActor) closeAll() {
	for name, c := range a.connectables() {
		if err := c.Close(); err != nil {
			a.logger.Warn("device: close failed", zap.String("device", name), zap.Error(err))
		}
	}
}

// starting

type deviceStartingState struct {
	actor *DeviceActor
}

func (s *deviceStartingState) Name() string {
	return "starting"
}

func (s *deviceStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		s.actor.logger.Debug("device@starting started")
		for name, c := range s.actor.connectables() {
			if err := c.Open(); err != nil {
				// not fatal, the device is reopened on the next request
				s.actor.logger.Error("device@starting: cannot open device", zap.String("device", name), zap.Error(err))
				s.actor.reopen[name] = true
			}
		}
		s.actor.Become(&deviceIdleState{actor: s.actor})
		s.actor.stash.UnstashAll(ctx)
	default:
		s.actor.logger.Debug("device@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		s.actor.stash.Stash(ctx, msg)
	}
}

// idle

type deviceIdleState struct {
	actor *DeviceActor
}

func (s *deviceIdleState) Name() string {
	return "idle"
}

func (s *deviceIdleState) Receive(ctx actor.Context) {
	a := s.actor
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		a.logger.Debug("device@idle: ActorHealthRequest")
		actorutil.ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_DEVICE,
			Healthy: true,
			State:   s.Name(),
		})
	case domain.GetReadingsRequest:
		a.logger.Debug("device@idle: GetReadingsRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		reopen := a.takeReopen()
		step := &callStep{}
		actorutil.NewBackgroundTask(ctx, func() (*backgroundTaskResult, error) {
			resp := a.readings(reopen, step)
			return &backgroundTaskResult{message: resp, replyTo: sender, err: resp.ResponseError}, nil
		}).Recover(func(err error) backgroundTaskResult {
			// blame the call that was running when the task gave up
			device, op := step.current()
			err = domain.NewCommunicationError(device, op, err)
			return backgroundTaskResult{
				message: domain.GetReadingsResponse{ActorResponseMixIn: domain.ErrorResponse(err)},
				replyTo: sender,
				err:     err,
			}
		}).WithTimeout(TaskTimeout(a.timeout)).PipeTo(ctx.Self())
		a.BecomeStacked(&deviceWaitingState{actor: a})
	case domain.SetLimitRequest:
		a.logger.Debug("device@idle: SetLimitRequest", zap.Uint("limit", msg.LimitWatt))
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		reopen := a.takeReopen()
		limit := msg.LimitWatt
		actorutil.NewBackgroundTask(ctx, func() (*backgroundTaskResult, error) {
			resp := a.setLimit(reopen, limit)
			return &backgroundTaskResult{message: resp, replyTo: sender, err: resp.ResponseError}, nil
		}).Recover(func(err error) backgroundTaskResult {
			err = domain.NewCommunicationError(domain.DEVICE_INVERTER, "set_limit", err)
			return backgroundTaskResult{
				message: domain.SetLimitResponse{ActorResponseMixIn: domain.ErrorResponse(err), LimitWatt: limit},
				replyTo: sender,
				err:     err,
			}
		}).WithTimeout(TaskTimeout(a.timeout)).PipeTo(ctx.Self())
		a.BecomeStacked(&deviceWaitingState{actor: a})
	case *actor.Stopping:
		a.closeAll()
	default:
		a.logger.Debug("device@idle default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// waiting

type deviceWaitingState struct {
	actor *DeviceActor
}

func (s *deviceWaitingState) Name() string {
	return "waiting"
}

func (s *deviceWaitingState) Receive(ctx actor.Context) {
	a := s.actor
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		a.logger.Debug("device@waiting backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		if msg.err != nil {
			a.markReopen(msg.err)
		}
		ctx.Send(msg.replyTo, msg.message)
		a.UnbecomeStacked()
		a.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_DEVICE,
			Healthy: true,
			State:   s.Name(),
		})
	case *actor.Stopping:
		a.closeAll()
	default:
		a.logger.Debug("device@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		a.stash.Stash(ctx, msg)
	}
}

// markReopen flags a connected device whose last call failed at transport level.
func (a *DeviceActor) markReopen(err error) {
	if domain.ErrorKind(err) != "communication" {
		return
	}
	device := domain.ErrorDevice(err)
	if _, ok := a.connectables()[device]; ok {
		a.reopen[device] = true
	}
}

func (a *DeviceActor) takeReopen() []port.Connectable {
	var res []port.Connectable
	conns := a.connectables()
	for name := range a.reopen {
		if c, ok := conns[name]; ok {
			res = append(res, c)
		}
	}
	a.reopen = map[string]bool{}
	return res
}

func (a *DeviceActor) reopenAll(devices []port.Connectable) {
	for _, c := range devices {
		if err := c.Close(); err != nil {
			a.logger.Warn("device: close before reopen failed", zap.Error(err))
		}
		// a failed open surfaces on the next device call
		if err := c.Open(); err != nil {
			a.logger.Warn("device: reopen failed", zap.Error(err))
		}
	}
}

// callStep tracks the device call in progress of a background task.
type callStep struct {
	step atomic.Pointer[[2]string]
}

func (s *callStep) enter(device, op string) {
	s.step.Store(&[2]string{device, op})
}

func (s *callStep) current() (string, string) {
	if cur := s.step.Load(); cur != nil {
		return cur[0], cur[1]
	}
	return domain.DEVICE_INVERTER, "status"
}

func (a *DeviceActor) call(fn func(ctx context.Context) error) error {
	cctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	return fn(cctx)
}

// readings checks the inverter first, the meter is only queried when the
// inverter can take a limit.
func (a *DeviceActor) readings(reopen []port.Connectable, step *callStep) domain.GetReadingsResponse {
	a.reopenAll(reopen)

	step.enter(domain.DEVICE_INVERTER, "status")
	var avail bool
	err := a.call(func(ctx context.Context) error {
		var err error
		avail, err = a.inverter.IsAvailable(ctx)
		return err
	})
	if err != nil {
		return domain.GetReadingsResponse{ActorResponseMixIn: domain.ErrorResponse(err)}
	}
	if !avail {
		return domain.GetReadingsResponse{InverterAvailable: false}
	}

	step.enter(domain.DEVICE_METER, "read")
	var watts int
	err = a.call(func(ctx context.Context) error {
		var err error
		watts, err = a.meter.ReadWatts(ctx)
		return err
	})
	if err != nil {
		return domain.GetReadingsResponse{ActorResponseMixIn: domain.ErrorResponse(err), InverterAvailable: true}
	}
	return domain.GetReadingsResponse{
		InverterAvailable: true,
		GridPowerWatt:     watts,
		MeterRead:         true,
	}
}

func (a *DeviceActor) setLimit(reopen []port.Connectable, watts uint) domain.SetLimitResponse {
	a.reopenAll(reopen)

	err := a.call(func(ctx context.Context) error {
		return a.inverter.SetLimit(ctx, watts)
	})
	return domain.SetLimitResponse{
		ActorResponseMixIn: domain.ErrorResponse(err),
		LimitWatt:          watts,
	}
}
