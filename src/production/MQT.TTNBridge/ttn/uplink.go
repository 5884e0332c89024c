package ttn

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	mqtmodels "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Models"
)

const Source = "ttn"

var ErrNotUplink = errors.New("message is not a TTN uplink")

// Uplink is the subset of a TTN v3 uplink message the bridge reads
type Uplink struct {
	EndDeviceIDs struct {
		DeviceID string `json:"device_id"`
	} `json:"end_device_ids"`
	UplinkMessage struct {
		ReceivedAt     string                 `json:"received_at"`
		DecodedPayload map[string]interface{} `json:"decoded_payload"`
		RxMetadata     []struct {
			GatewayIDs struct {
				GatewayID string `json:"gateway_id"`
			} `json:"gateway_ids"`
			RSSI json.Number `json:"rssi"`
		} `json:"rx_metadata"`
	} `json:"uplink_message"`
}

// Decode flattens an uplink into vendor fields: device_id, received_at,
// every decoded_payload field, and rssi/gateway_id of the first gateway.
func Decode(payload []byte) (mqtmodels.RawReading, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var up Uplink
	if err := dec.Decode(&up); err != nil {
		return mqtmodels.RawReading{}, fmt.Errorf("%w: %v", ErrNotUplink, err)
	}
	if up.EndDeviceIDs.DeviceID == "" || up.UplinkMessage.DecodedPayload == nil {
		return mqtmodels.RawReading{}, fmt.Errorf("%w: missing device id or decoded payload", ErrNotUplink)
	}

	fields := make(map[string]interface{}, len(up.UplinkMessage.DecodedPayload)+4)
	for k, v := range up.UplinkMessage.DecodedPayload {
		fields[k] = v
	}
	fields["device_id"] = up.EndDeviceIDs.DeviceID
	fields["received_at"] = up.UplinkMessage.ReceivedAt

	if len(up.UplinkMessage.RxMetadata) > 0 {
		gw := up.UplinkMessage.RxMetadata[0]
		if gw.RSSI != "" {
			fields["rssi"] = gw.RSSI
		}
		if gw.GatewayIDs.GatewayID != "" {
			fields["gateway_id"] = gw.GatewayIDs.GatewayID
		}
	}
	return mqtmodels.RawReading{Source: Source, Fields: fields}, nil
}
