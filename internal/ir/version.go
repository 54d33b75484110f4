package ir

// Version constants for the wire format and worker.
const (
	// WireVersion is the version of the call/sync wire format.
	WireVersion = "1"

	// WorkerVersion is the compiler-pool worker version.
	WorkerVersion = "0.1.0"
)
