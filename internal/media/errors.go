package media

import (
	"errors"
	"fmt"
	"strings"
)

// ErrToolFailed is matched by every *ToolError.
var ErrToolFailed = errors.New("media tool failed")

const stderrTail = 2048

// ToolError reports a failed tool invocation.
type ToolError struct {
	Tool   string
	Args   []string
	Err    error
	Stderr string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Tool, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + lastLine(s)
	}
	return msg
}

func (e *ToolError) Unwrap() []error {
	return []error{ErrToolFailed, e.Err}
}

func newToolError(tool string, args []string, res ExecResult) *ToolError {
	stderr := res.Stderr
	if len(stderr) > stderrTail {
		stderr = stderr[len(stderr)-stderrTail:]
	}
	return &ToolError{Tool: tool, Args: args, Err: res.Err, Stderr: stderr}
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
