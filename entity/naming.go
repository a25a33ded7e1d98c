package entity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// Domain prefixes every unique id and platform
	Domain = "molnus"

	// LegacyDeviceName is the device name entity ids used to be derived from
	LegacyDeviceName = "Molnus Camera"

	SensorName = "Molnus Latest Image ID"
	CameraName = "Molnus Latest"

	SensorIcon = "mdi:camera"

	Manufacturer = "Molnus"
	Model        = "Cloud camera"
)

// Platform identifies the kind of entity
type Platform string

const (
	PlatformSensor Platform = "sensor"
	PlatformCamera Platform = "camera"
)

// Device groups the entities of one camera
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// DeviceFor returns the device a camera's entities belong to
func DeviceFor(cameraID string) Device {
	return Device{
		Identifiers:  []string{Domain + "_" + cameraID},
		Name:         LegacyDeviceName,
		Manufacturer: Manufacturer,
		Model:        Model,
	}
}

// SensorUniqueID returns the stable unique id of the latest image sensor
func SensorUniqueID(cameraID string) string {
	return Domain + "_" + cameraID + "_latest_image_id"
}

// CameraUniqueID returns the stable unique id of the latest image camera
func CameraUniqueID(cameraID string) string {
	return Domain + "_" + cameraID + "_camera_latest"
}

// SensorEntityID returns the slug-safe entity id of the sensor
func SensorEntityID(cameraID string) string {
	return string(PlatformSensor) + "." + Slugify(Domain+" "+cameraID+" latest image id")
}

// CameraEntityID returns the slug-safe entity id of the camera
func CameraEntityID(cameraID string) string {
	return string(PlatformCamera) + "." + Slugify(Domain+" "+cameraID+" latest")
}

// LegacySensorEntityID is the id generated from device name plus entity name
func LegacySensorEntityID() string {
	return string(PlatformSensor) + "." + Slugify(LegacyDeviceName+" "+SensorName)
}

// LegacyCameraEntityID is the id generated from device name plus entity name
func LegacyCameraEntityID() string {
	return string(PlatformCamera) + "." + Slugify(LegacyDeviceName+" "+CameraName)
}

var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify lowercases s, strips accents and joins the remaining
// alphanumeric runs with underscores.
func Slugify(s string) string {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(folded) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}

	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
