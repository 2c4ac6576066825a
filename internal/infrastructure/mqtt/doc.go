// Package mqtt publishes rig telemetry to the MQTT broker.
//
// The rig is a producer only: position samples, frame generation counters
// and device status go out under the armlink/ topic tree for dashboards
// and recorders to consume. Nothing is subscribed; command and control
// stays on the device protocols.
//
// Connection management (auto-reconnect, LWT offline detection) is
// delegated to the paho client.
package mqtt
