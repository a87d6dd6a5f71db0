package session

// Step names the part of a send cycle that failed
type Step string

const (
	StepSaveMessage Step = "save-message"
	StepComplete    Step = "complete"
	StepSaveReply   Step = "save-reply"
)

// SendError is returned by Submit when a send cycle is aborted.
// Its message is the message of the underlying failure.
type SendError struct {
	Step Step
	Err  error
}

func (e *SendError) Error() string {
	return e.Err.Error()
}

func (e *SendError) Unwrap() error {
	return e.Err
}
