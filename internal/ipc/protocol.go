package ipc

const DefaultSocketPath = "/tmp/timeinsight.sock"

// Command represents a command sent over the socket
type Command struct {
	Name string      `json:"name"`
	Args interface{} `json:"args,omitempty"`
}

// Response represents a response sent back over the socket
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// PauseArgs suspends tracking. Minutes at or above one year means until the
// daemon restarts.
type PauseArgs struct {
	Minutes float64 `json:"minutes"`
}

const (
	CmdPause     = "pause"
	CmdResume    = "resume"
	CmdGetStatus = "get_status"
	CmdPing      = "ping"
)

type StatusData struct {
	Tracking       bool    `json:"tracking"` // false when no window observer is available
	Paused         bool    `json:"paused"`
	PausedForever  bool    `json:"paused_until_restart,omitempty"`
	ResumeAt       string  `json:"resume_at,omitempty"` // RFC 3339
	CurrentApp     string  `json:"current_app,omitempty"`
	CurrentWindow  string  `json:"current_window,omitempty"`
	ActivitySince  string  `json:"activity_since,omitempty"`
	SessionType    string  `json:"session_type,omitempty"`
	SessionSince   string  `json:"session_since,omitempty"`
	SessionSeconds float64 `json:"session_seconds,omitempty"`
}
