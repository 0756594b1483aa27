package core

// CommandType defines the type of command being dispatched.
type CommandType string

const (
	CmdSetPattern      CommandType = "set_pattern"
	CmdStopPattern     CommandType = "stop_pattern"
	CmdConnectStrip    CommandType = "connect_strip"
	CmdDisconnectStrip CommandType = "disconnect_strip"

	CmdAddSchedule    CommandType = "add_schedule"
	CmdRemoveSchedule CommandType = "remove_schedule"
	CmdListSchedules  CommandType = "list_schedules"

	CmdGetPatternCode  CommandType = "get_pattern_code"
	CmdSavePatternCode CommandType = "save_pattern_code"
	CmdDeletePattern   CommandType = "delete_pattern"
)

// Command is the envelope for requests coming from clients, MQTT and schedules.
// Pattern doubles as the script file name for the pattern code commands.
// ClientID names the management client that sent it, if any, so replies can
// go back to that client alone.
type Command struct {
	Type       CommandType
	StripID    int
	Pattern    string
	Params     map[string]float64
	Code       string
	Spec       string
	Schedule   string
	ScheduleID int
	ClientID   string
}

// CommandChannel is the single channel that the agent listens to for commands.
type CommandChannel chan Command
