package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"stripcast/internal/ble"
	"stripcast/internal/core"
	"stripcast/internal/pattern"
	"stripcast/internal/scheduler"
)

// Message types on the strips endpoint.
const (
	TypeStripsUpdate   = "strips_update"
	TypeDiscoveryEvent = "discovery_event"
	TypeError          = "error"
	TypeScheduleList   = "schedule_list"
	TypePatternList    = "pattern_list"
	TypePatternCode    = "pattern_code"
)

// ErrBadCommand is returned for client messages that cannot be turned into a command.
var ErrBadCommand = errors.New("bad client command")

// StripsUpdate is a full snapshot of the known strips.
type StripsUpdate struct {
	Type   string           `json:"type"`
	Strips []ble.DeviceInfo `json:"strips"`
}

// NewStripsUpdate wraps a snapshot. A nil list is sent as [].
func NewStripsUpdate(strips []ble.DeviceInfo) StripsUpdate {
	if strips == nil {
		strips = []ble.DeviceInfo{}
	}
	return StripsUpdate{Type: TypeStripsUpdate, Strips: strips}
}

// EventMessage carries one human-readable discovery line.
type EventMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewEventMessage renders e as a discovery_event message.
func NewEventMessage(e ble.DiscoveryEvent) EventMessage {
	return EventMessage{Type: TypeDiscoveryEvent, Message: e.Message()}
}

// ErrorMessage reports a rejected client command.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ScheduleList carries every saved schedule.
type ScheduleList struct {
	Type      string             `json:"type"`
	Schedules []scheduler.Listed `json:"schedules"`
}

// NewScheduleList wraps the schedules. A nil list is sent as [].
func NewScheduleList(list []scheduler.Listed) ScheduleList {
	if list == nil {
		list = []scheduler.Listed{}
	}
	return ScheduleList{Type: TypeScheduleList, Schedules: list}
}

// PatternList carries every registered pattern.
type PatternList struct {
	Type     string               `json:"type"`
	Patterns []pattern.Descriptor `json:"patterns"`
}

// NewPatternList wraps the registry listing. A nil list is sent as [].
func NewPatternList(list []pattern.Descriptor) PatternList {
	if list == nil {
		list = []pattern.Descriptor{}
	}
	return PatternList{Type: TypePatternList, Patterns: list}
}

// PatternCode is the source of one script pattern.
type PatternCode struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// ClientCommand is a request from a management client. ID is the strip id for
// strip commands and the schedule id for remove_schedule.
type ClientCommand struct {
	Type    string             `json:"type"`
	ID      *int               `json:"id,omitempty"`
	Name    string             `json:"name,omitempty"`
	Params  map[string]float64 `json:"params,omitempty"`
	Code    *string            `json:"code,omitempty"`
	Spec    string             `json:"spec,omitempty"`
	Command string             `json:"command,omitempty"`
}

// ParseCommand decodes a client message into an agent command.
func ParseCommand(data []byte) (core.Command, error) {
	var c ClientCommand
	if err := json.Unmarshal(data, &c); err != nil {
		return core.Command{}, fmt.Errorf("%w: %v", ErrBadCommand, err)
	}

	switch t := core.CommandType(c.Type); t {
	case core.CmdConnectStrip, core.CmdDisconnectStrip:
		if c.ID == nil || *c.ID < 0 {
			return core.Command{}, fmt.Errorf("%w: %s needs a strip id", ErrBadCommand, t)
		}
		return core.Command{Type: t, StripID: *c.ID}, nil
	case core.CmdSetPattern:
		if c.Name == "" {
			return core.Command{}, fmt.Errorf("%w: set_pattern needs a name", ErrBadCommand)
		}
		return core.Command{Type: t, Pattern: c.Name, Params: c.Params}, nil
	case core.CmdStopPattern, core.CmdListSchedules:
		return core.Command{Type: t}, nil
	case core.CmdAddSchedule:
		if c.Spec == "" || c.Command == "" {
			return core.Command{}, fmt.Errorf("%w: add_schedule needs spec and command", ErrBadCommand)
		}
		return core.Command{Type: t, Spec: c.Spec, Schedule: c.Command}, nil
	case core.CmdRemoveSchedule:
		if c.ID == nil {
			return core.Command{}, fmt.Errorf("%w: remove_schedule needs an id", ErrBadCommand)
		}
		return core.Command{Type: t, ScheduleID: *c.ID}, nil
	case core.CmdGetPatternCode, core.CmdDeletePattern:
		if c.Name == "" {
			return core.Command{}, fmt.Errorf("%w: %s needs a name", ErrBadCommand, t)
		}
		return core.Command{Type: t, Pattern: c.Name}, nil
	case core.CmdSavePatternCode:
		if c.Name == "" || c.Code == nil {
			return core.Command{}, fmt.Errorf("%w: save_pattern_code needs name and code", ErrBadCommand)
		}
		return core.Command{Type: t, Pattern: c.Name, Code: *c.Code}, nil
	default:
		return core.Command{}, fmt.Errorf("%w: unknown type %q", ErrBadCommand, c.Type)
	}
}
