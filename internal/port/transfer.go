package port

import "context"

type TransferRequest struct {
	URL      string
	Dir      string
	Filename string
}

type TransferOutcome struct {
	Success    bool
	Diagnostic string
}

// TransferHandle is a running transfer. Progress delivers the latest parsed
// percentage and never blocks the producer; it is closed when the process exits.
type TransferHandle interface {
	Progress() <-chan int
	Done() <-chan struct{}
	// Outcome is valid once Done is closed.
	Outcome() TransferOutcome
	// Cancel terminates the process and returns after it has exited.
	Cancel()
}

type Transferer interface {
	// Available returns domain.ErrCapabilityUnavailable when the tool cannot run.
	Available() error
	Start(ctx context.Context, req TransferRequest) (TransferHandle, error)
}
