package entity

import (
	"encoding/json"

	"github.com/s0up4200/molnus/coordinator"
	"github.com/s0up4200/molnus/molnus"
)

// SensorState is the latest image sensor as a consumer sees it
type SensorState struct {
	// Value is the latest image id, empty when unknown
	Value      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
	Available  bool           `json:"available"`

	// Record is the latest image as sent by Molnus, including fields
	// that are not passed through as attributes
	Record map[string]json.RawMessage `json:"record,omitempty"`
}

// Known reports whether the sensor has a value
func (s SensorState) Known() bool {
	return s.Value != ""
}

// LatestImageSensor projects coordinator state onto the sensor.
// state may be nil before the first successful refresh.
func LatestImageSensor(state *coordinator.State, available bool) SensorState {
	sensor := SensorState{
		Attributes: map[string]any{},
		Available:  available,
	}
	if state == nil {
		return sensor
	}

	latest := state.Latest
	sensor.Value = latest.ID.String()
	sensor.Attributes = Attributes(latest)
	sensor.Record = latest.Raw
	return sensor
}

// Attributes passes through the image fields useful for automations.
// Only fields that are present are included.
func Attributes(img molnus.Image) map[string]any {
	attrs := make(map[string]any, 7)
	put := func(key, value string) {
		if value != "" {
			attrs[key] = value
		}
	}

	put("url", img.URL)
	put("thumbnailUrl", img.ThumbnailURL)
	put("captureDate", img.CaptureDate)
	put("createdAt", img.CreatedAt)
	put("deviceFilename", img.DeviceFilename)
	put("CameraId", img.CameraID.String())

	if len(img.Predictions) > 0 {
		attrs["predictions"] = img.Predictions
	}
	return attrs
}
