package dccon

import "fmt"

// Phase names the pipeline step a failure belongs to. The queue records the
// message on the failed job; logs keep the phase for diagnosis.
type Phase string

const (
	PhaseSession Phase = "session"
	PhaseDetail  Phase = "detail"
	PhaseImage   Phase = "image"
	PhaseArchive Phase = "archive"
)

// PhaseError classifies a pipeline failure by the step that produced it.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

func phaseErrorf(phase Phase, format string, args ...any) error {
	return &PhaseError{Phase: phase, Err: fmt.Errorf(format, args...)}
}
