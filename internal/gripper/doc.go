// Package gripper implements the actuator protocol client.
//
// The actuator's controller speaks newline-delimited JSON over TCP. The
// same socket also carries unsolicited telemetry pushes, so every command
// round trip runs through a Correlator that scans the inbound stream for
// the response matching the command just sent, discarding telemetry and
// undecodable lines along the way.
//
// The Client layers the device state machine on top: an initialisation
// sequence on connect, enable/disable, correlated position writes and
// position reads. By default each command uses a short-lived connection
// (ephemeral mode); persistent mode keeps one session open and reuses its
// correlator buffer across commands.
//
// All engineering-unit values are percentages in [0, 100]; the wire uses
// device units in [0, 255].
package gripper
