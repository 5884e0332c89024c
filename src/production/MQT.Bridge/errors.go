package mqtbridge

import (
	"errors"

	mqtbroker "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Broker"
)

var (
	// ErrNoData means the vendor returned nothing usable this cycle. Bridges log it and exit cleanly.
	ErrNoData = errors.New("no data this cycle")

	// ErrPublishTimeout aborts a run; the mark is not advanced
	ErrPublishTimeout = mqtbroker.ErrPublishTimeout

	ErrMissingDevice    = errors.New("reading has no device code")
	ErrMissingTimestamp = errors.New("reading has no usable timestamp")
)
