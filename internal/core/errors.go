package core

import (
	"errors"
	"fmt"
	"strings"
)

// Kind tags an error with the class of failure that caused it. The sequencer
// decides between retry, rollback and re-prompting from the kind alone.
type Kind int

const (
	KindRuntime Kind = iota
	KindDependency
	KindPermission
	KindNetwork
	KindFilesystem
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindDependency:
		return "dependency"
	case KindPermission:
		return "permission"
	case KindNetwork:
		return "network"
	case KindFilesystem:
		return "filesystem"
	case KindConfiguration:
		return "configuration"
	default:
		return "runtime"
	}
}

// Error carries the structured context of a failed operation.
type Error struct {
	Kind      Kind
	Stage     string
	Command   string
	ExitCode  int
	Stderr    string
	Attempts  int
	Exhausted bool
	Message   string
	Err       error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 4)
	if e.Stage != "" {
		parts = append(parts, e.Stage)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Command != "" {
		parts = append(parts, fmt.Sprintf("command %q exited %d", e.Command, e.ExitCode))
	}
	if e.Exhausted {
		parts = append(parts, fmt.Sprintf("exhausted retries after %d attempts", e.Attempts))
	}
	msg := strings.Join(parts, ": ")
	if msg == "" {
		msg = e.Kind.String() + " failure"
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind so callers can write
// errors.Is(err, &core.Error{Kind: core.KindPermission}).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, kind Kind, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithStage attaches the stage name unless one is already set.
func WithStage(err error, stage string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Stage == "" {
			e.Stage = stage
		}
		return err
	}
	return &Error{Kind: KindRuntime, Stage: stage, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or KindRuntime.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindRuntime
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// ExitCode maps an error to the process exit status: the failing command's own
// code for runtime failures, a fixed code per class otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if !errors.As(err, &e) {
		return 1
	}
	switch e.Kind {
	case KindConfiguration:
		return 2
	case KindDependency:
		return 3
	case KindPermission:
		return 4
	case KindNetwork:
		return 5
	case KindFilesystem:
		return 6
	}
	if e.ExitCode > 0 && e.ExitCode < 256 {
		return e.ExitCode
	}
	return 1
}
