package mqtt

import "fmt"

// TopicPrefix roots the armlink topic tree.
const TopicPrefix = "armlink"

// Topics builds the rig's MQTT topic strings. A zero value is usable:
//
//	mqtt.Topics{}.ActuatorPosition("grip")
type Topics struct{}

// SystemStatus is the retained online/offline status topic, also used as
// the LWT target.
//
// Topic: armlink/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// ActuatorPosition carries sampled position observations for one
// actuator.
//
// Topic: armlink/actuator/<name>/position
func (Topics) ActuatorPosition(name string) string {
	return fmt.Sprintf("%s/actuator/%s/position", TopicPrefix, name)
}

// ActuatorStatus carries connect/disconnect and fault transitions for one
// actuator.
//
// Topic: armlink/actuator/<name>/status
func (Topics) ActuatorStatus(name string) string {
	return fmt.Sprintf("%s/actuator/%s/status", TopicPrefix, name)
}

// CameraFrames carries frame generation progress for one camera, letting
// consumers detect a stalled capture pipeline without moving pixel data
// over the broker.
//
// Topic: armlink/camera/<name>/frames
func (Topics) CameraFrames(name string) string {
	return fmt.Sprintf("%s/camera/%s/frames", TopicPrefix, name)
}

// CameraStatus carries capture session lifecycle transitions for one
// camera.
//
// Topic: armlink/camera/<name>/status
func (Topics) CameraStatus(name string) string {
	return fmt.Sprintf("%s/camera/%s/status", TopicPrefix, name)
}
