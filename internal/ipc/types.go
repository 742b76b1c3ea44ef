package ipc

import "time"

// ServiceName is the RPC receiver name registered by the server.
const ServiceName = "Signsync"

// StartRequest triggers daemon startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops background processing.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon, state, and scheduler status.
type StatusResponse struct {
	Running         bool      `json:"running"`
	PID             int       `json:"pid"`
	Readiness       string    `json:"readiness"`
	Username        string    `json:"username"`
	DeviceID        string    `json:"device_id"`
	TutorialMode    bool      `json:"tutorial_mode"`
	CurrentSection  string    `json:"current_section"`
	Progress        int       `json:"progress"`
	PausedUntil     time.Time `json:"paused_until"`
	StagedRecords   int       `json:"staged_records"`
	PendingRecords  int       `json:"pending_records"`
	RegisteredFiles int       `json:"registered_files"`
	CycleActive     bool      `json:"cycle_active"`
	NextRun         time.Time `json:"next_run"`
	LastRun         time.Time `json:"last_run"`
	LastResult      string    `json:"last_result"`
	LastError       string    `json:"last_error"`
	LockPath        string    `json:"lock_path"`
	DatabasePath    string    `json:"database_path"`
}

// UploadRequest runs one upload cycle and waits for its result.
type UploadRequest struct{}

// UploadResponse carries the cycle outcome.
type UploadResponse struct {
	Result string `json:"result"`
	Error  string `json:"error"`
}

// PauseRequest sets, extends, or clears the upload pause. Exactly one of
// Seconds, Until, or Clear is honored in that order of precedence: Clear,
// Until, Seconds.
type PauseRequest struct {
	Seconds int64      `json:"seconds"`
	Until   *time.Time `json:"until"`
	Clear   bool       `json:"clear"`
}

// PauseResponse reports the effective deadline.
type PauseResponse struct {
	Paused bool      `json:"paused"`
	Until  time.Time `json:"until"`
}

// AttachRequest attaches the device to an account.
type AttachRequest struct {
	Username      string `json:"username"`
	AdminPassword string `json:"admin_password"`
}

// AttachResponse confirms the attached account.
type AttachResponse struct {
	Username string `json:"username"`
}

// RegisterRequest registers a recording by path relative to the data dir.
type RegisterRequest struct {
	RelativePath string `json:"relative_path"`
}

// RegisterResponse echoes the registered entry.
type RegisterResponse struct {
	RelativePath string `json:"relative_path"`
	TutorialMode bool   `json:"tutorial_mode"`
}

// LogRequest stages and persists a log line for upload.
type LogRequest struct {
	Message string `json:"message"`
}

// LogResponse is empty on success.
type LogResponse struct{}

// PersistRequest flushes staged records.
type PersistRequest struct{}

// PersistResponse reports how many records were pending before the flush.
type PersistResponse struct {
	Flushed int `json:"flushed"`
}

// DirectivesRequest runs pending server directives once.
type DirectivesRequest struct{}

// DirectivesResponse summarizes the pass.
type DirectivesResponse struct {
	Executed    int  `json:"executed"`
	Skipped     int  `json:"skipped"`
	Failed      int  `json:"failed"`
	ChangedUser bool `json:"changed_user"`
}

// ReloadPromptsRequest downloads prompts and resources.
type ReloadPromptsRequest struct{}

// ReloadPromptsResponse lists the sections now available.
type ReloadPromptsResponse struct {
	Sections []string `json:"sections"`
}

// TutorialModeRequest switches tutorial mode.
type TutorialModeRequest struct {
	Enabled bool `json:"enabled"`
}

// TutorialModeResponse echoes the mode now in effect.
type TutorialModeResponse struct {
	Enabled bool `json:"enabled"`
}

// LogTailRequest fetches log lines from the daemon log file.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"wait_millis"`
}

// LogTailResponse contains log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// TestNotificationRequest triggers a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports the outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
