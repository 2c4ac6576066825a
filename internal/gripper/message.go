package gripper

import (
	"encoding/json"
	"fmt"
)

// terminator ends every command line on the wire.
const terminator = "\r\n"

// Wire command names.
const (
	cmdSetToolVoltage       = "set_tool_voltage"
	cmdSetModbusMode        = "set_modbus_mode"
	cmdWriteRegisters       = "write_registers"
	cmdReadHoldingRegisters = "read_holding_registers"
)

// successFields lists the acknowledgement field names controller firmwares
// use, in priority order. The first field present in a response decides
// the ack; later fields are ignored even if present.
var successFields = []string{"write_state", "set_state", "state", "success"}

type setToolVoltageCmd struct {
	Command     string `json:"command"`
	VoltageType int    `json:"voltage_type"`
}

type setModbusModeCmd struct {
	Command  string `json:"command"`
	Port     int    `json:"port"`
	Baudrate int    `json:"baudrate"`
	Timeout  int    `json:"timeout"`
}

type writeRegistersCmd struct {
	Command string `json:"command"`
	Port    int    `json:"port"`
	Address int    `json:"address"`
	Num     int    `json:"num"`
	Data    []int  `json:"data"`
	Device  int    `json:"device"`
}

type readHoldingRegistersCmd struct {
	Command string `json:"command"`
	Port    int    `json:"port"`
	Address int    `json:"address"`
	Num     int    `json:"num"`
	Device  int    `json:"device"`
}

// encodeCommand marshals a command struct and appends the line terminator.
func encodeCommand(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding command: %w", err)
	}
	return append(b, terminator...), nil
}

func encodeSetToolVoltage(voltageType int) ([]byte, error) {
	return encodeCommand(setToolVoltageCmd{
		Command:     cmdSetToolVoltage,
		VoltageType: voltageType,
	})
}

func encodeSetModbusMode(port, baudrate, timeoutSec int) ([]byte, error) {
	return encodeCommand(setModbusModeCmd{
		Command:  cmdSetModbusMode,
		Port:     port,
		Baudrate: baudrate,
		Timeout:  timeoutSec,
	})
}

func encodeWriteRegisters(port, address, device int, data []int) ([]byte, error) {
	return encodeCommand(writeRegistersCmd{
		Command: cmdWriteRegisters,
		Port:    port,
		Address: address,
		Num:     1,
		Data:    data,
		Device:  device,
	})
}

func encodeReadHoldingRegisters(port, address, num, device int) ([]byte, error) {
	return encodeCommand(readHoldingRegistersCmd{
		Command: cmdReadHoldingRegisters,
		Port:    port,
		Address: address,
		Num:     num,
		Device:  device,
	})
}

// Response is one decoded controller message. Fields are kept raw so the
// accessors can tolerate the type variance different firmwares exhibit
// (bools vs 0/1 numbers, scalar data vs lists).
type Response map[string]json.RawMessage

// Command returns the response's command field, or "" if absent.
func (r Response) Command() string {
	raw, ok := r["command"]
	if !ok {
		return ""
	}
	var cmd string
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return ""
	}
	return cmd
}

// Acknowledged reports the device's success indication.
//
// Returns:
//   - bool: The acknowledgement value
//   - bool: Whether any known success field was present at all
func (r Response) Acknowledged() (bool, bool) {
	for _, field := range successFields {
		raw, ok := r[field]
		if !ok {
			continue
		}

		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			return b, true
		}
		var n float64
		if err := json.Unmarshal(raw, &n); err == nil {
			return n != 0, true
		}
		return false, true
	}
	return false, false
}

// Data returns the response's register payload. A scalar data field is
// normalised to a one-element list.
func (r Response) Data() ([]int, bool) {
	raw, ok := r["data"]
	if !ok {
		return nil, false
	}

	var list []int
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, true
	}
	var single int
	if err := json.Unmarshal(raw, &single); err == nil {
		return []int{single}, true
	}
	return nil, false
}
