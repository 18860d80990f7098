package shellsession

// Wire protocol payloads. Every frame is a JSON object with a "type"
// field; the remaining fields depend on the type. The client->server side
// is a single tagged envelope so the handler can switch exhaustively
// instead of doing string-keyed dispatch.

// ClientMsg is the envelope for every client->server frame.
type ClientMsg struct {
	Type string `json:"type"`

	// connect
	MasterPassword string `json:"master_password,omitempty"`
	Password       string `json:"password,omitempty"`
	Cols           int    `json:"cols,omitempty"`
	Rows           int    `json:"rows,omitempty"`
	TermType       string `json:"term_type,omitempty"`

	// input
	Data string `json:"data,omitempty"`

	// ai_request
	Message string `json:"message,omitempty"`

	// ai_confirm / ai_cancel
	ID int `json:"id,omitempty"`
}

// Client message types.
const (
	MsgConnect    = "connect"
	MsgInput      = "input"
	MsgResize     = "resize"
	MsgDisconnect = "disconnect"
	MsgAIRequest  = "ai_request"
	MsgAIConfirm  = "ai_confirm"
	MsgAICancel   = "ai_cancel"
)

// Session status values reported to the client.
const (
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// AI status values reported to the client.
const (
	AIStatusThinking       = "thinking"
	AIStatusRunning        = "running"
	AIStatusWaitingConfirm = "waiting_confirm"
	AIStatusIdle           = "idle"
)

type readyMsg struct {
	Type               string `json:"type"`
	ServerID           uint   `json:"server_id"`
	ServerName         string `json:"server_name"`
	AuthMethod         string `json:"auth_method"`
	HasEncryptedSecret bool   `json:"has_encrypted_secret"`
}

type statusMsg struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

type outputMsg struct {
	Type   string `json:"type"`
	Stream string `json:"stream"` // "stdout" or "stderr"
	Data   string `json:"data"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type exitMsg struct {
	Type       string `json:"type"`
	ExitStatus *int   `json:"exit_status"`
	ExitSignal string `json:"exit_signal,omitempty"`
}

type aiStatusMsg struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	ID     int    `json:"id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type aiResponseMsg struct {
	Type          string         `json:"type"`
	AssistantText string         `json:"assistant_text"`
	Commands      []planItemView `json:"commands"`
}

type planItemView struct {
	ID              int    `json:"id"`
	Cmd             string `json:"cmd"`
	Why             string `json:"why"`
	RequiresConfirm bool   `json:"requires_confirm"`
	Reason          string `json:"reason"`
}

type aiCommandStatusMsg struct {
	Type     string `json:"type"`
	ID       int    `json:"id"`
	Status   string `json:"status"` // running, confirmed, skipped, done
	ExitCode *int   `json:"exit_code,omitempty"`
}

type aiErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Sender delivers server->client frames. The WebSocket handler implements
// it; tests substitute an in-memory recorder.
type Sender interface {
	Send(v interface{}) error
}
