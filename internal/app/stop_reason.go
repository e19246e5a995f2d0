package app

// StopReason labels why the app is shutting down. It only feeds logs; no
// behavior branches on it.
type StopReason string

const (
	StopUnknown StopReason = "unknown"
	StopSIGINT  StopReason = "sigint"
	StopSIGTERM StopReason = "sigterm"

	// StopDrained means the fleet finished its workload on its own.
	StopDrained StopReason = "drained"

	StopFatalError StopReason = "fatal_error"
)
