package mqtt

import (
	"fmt"

	"github.com/s0up4200/molnus/entity"
)

// nodeID is the per-camera topic segment
func nodeID(cameraID string) string {
	return entity.Domain + "_" + entity.Slugify(cameraID)
}

func (p *HAPublisher) bridgeTopic() string {
	return fmt.Sprintf("%s/status", p.cfg.TopicPrefix)
}

func (p *HAPublisher) availabilityTopic(cameraID string) string {
	return fmt.Sprintf("%s/%s/availability", p.cfg.TopicPrefix, nodeID(cameraID))
}

func (p *HAPublisher) sensorStateTopic(cameraID string) string {
	return fmt.Sprintf("%s/%s/latest_image_id/state", p.cfg.TopicPrefix, nodeID(cameraID))
}

func (p *HAPublisher) sensorAttributesTopic(cameraID string) string {
	return fmt.Sprintf("%s/%s/latest_image_id/attributes", p.cfg.TopicPrefix, nodeID(cameraID))
}

func (p *HAPublisher) cameraImageTopic(cameraID string) string {
	return fmt.Sprintf("%s/%s/camera/image", p.cfg.TopicPrefix, nodeID(cameraID))
}

// discoveryTopic builds {discovery_prefix}/{component}/{node}/{object}/config
func (p *HAPublisher) discoveryTopic(component entity.Platform, cameraID string) string {
	object := "latest_image_id"
	if component == entity.PlatformCamera {
		object = "camera_latest"
	}
	return fmt.Sprintf("%s/%s/%s/%s/config", p.cfg.DiscoveryPrefix, component, nodeID(cameraID), object)
}

// discoveryPayloads returns the sensor and camera discovery configs
func (p *HAPublisher) discoveryPayloads(b Binding) map[entity.Platform]map[string]any {
	cameraID := b.Source.CameraID()

	device := entity.DeviceFor(cameraID)
	if b.Name != "" {
		device.Name = b.Name
	}

	availability := []map[string]any{
		{"topic": p.bridgeTopic()},
		{"topic": p.availabilityTopic(cameraID)},
	}

	sensorEntityID := b.SensorEntityID
	if sensorEntityID == "" {
		sensorEntityID = entity.SensorEntityID(cameraID)
	}
	cameraEntityID := b.CameraEntityID
	if cameraEntityID == "" {
		cameraEntityID = entity.CameraEntityID(cameraID)
	}

	return map[entity.Platform]map[string]any{
		entity.PlatformSensor: {
			"name":                  entity.SensorName,
			"unique_id":             entity.SensorUniqueID(cameraID),
			"object_id":             objectID(sensorEntityID),
			"default_entity_id":     sensorEntityID,
			"icon":                  entity.SensorIcon,
			"state_topic":           p.sensorStateTopic(cameraID),
			"json_attributes_topic": p.sensorAttributesTopic(cameraID),
			"device":                device,
			"availability":          availability,
			"availability_mode":     "all",
		},
		entity.PlatformCamera: {
			"name":              entity.CameraName,
			"unique_id":         entity.CameraUniqueID(cameraID),
			"object_id":         objectID(cameraEntityID),
			"default_entity_id": cameraEntityID,
			"topic":             p.cameraImageTopic(cameraID),
			"device":            device,
			"availability":      availability,
			"availability_mode": "all",
		},
	}
}
