package domain

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_DEVICE       = "device"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_REGULATOR    = "regulator"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

// GetReadingsRequest asks the device actor for the inverter availability
// followed by the meter reading.
type GetReadingsRequest struct {
	ActorRequestMixIn
}

type GetReadingsResponse struct {
	ActorResponseMixIn
	InverterAvailable bool
	// GridPowerWatt is only meaningful when the inverter is available
	GridPowerWatt int
	// MeterRead is false when the meter was not queried
	MeterRead bool
}

type SetLimitRequest struct {
	ActorRequestMixIn
	LimitWatt uint
}

type SetLimitResponse struct {
	ActorResponseMixIn
	LimitWatt uint
}

type GetRegulatorStatusRequest struct {
	ActorRequestMixIn
}

type GetRegulatorStatusResponse struct {
	ActorResponseMixIn
	Status RegulatorStatus
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors []GenericSensor
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
