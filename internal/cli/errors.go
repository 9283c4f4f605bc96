package cli

import "fmt"

// Process exit codes. Scripts and CI distinguish "a task failed" from "you
// invoked firmforge wrong" from "your tasks file is broken".
const (
	ExitSuccess           = 0
	ExitTaskFailure       = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// ExitError carries the process exit code a command wants alongside its
// message. Execute unwraps it at the top of the command tree.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

func exitErrorf(code int, format string, args ...any) error {
	return &ExitError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func invalidf(format string, args ...any) error {
	return exitErrorf(ExitInvalidInvocation, format, args...)
}

func configErr(err error) error {
	return exitErrorf(ExitConfigError, "%v", err)
}

func internalErr(err error) error {
	return exitErrorf(ExitInternalError, "internal error: %v", err)
}
