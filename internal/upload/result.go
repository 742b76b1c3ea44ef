package upload

// Result is the tagged outcome of one upload attempt.
type Result int

const (
	// Success means the file was verified and removed, or there was nothing
	// left to do.
	Success Result = iota
	// Failed means the attempt should be retried on a later cycle.
	Failed
	// Interrupted means a pause or cancellation stopped the attempt. It is
	// not a failure.
	Interrupted
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Failed:
		return "failed"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Stage names one step of the pipeline.
type Stage string

const (
	StageChecksum     Stage = "checksum"
	StageUploadLink   Stage = "upload_link"
	StageSessionLink  Stage = "session_link"
	StageSessionState Stage = "session_state"
	StageTransfer     Stage = "transfer"
	StageVerify       Stage = "verify"
)
