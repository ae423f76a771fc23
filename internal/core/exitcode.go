package core

const (
	ExitMissingCommand = 127
	ExitCannotExecute  = 126
	ExitAccessDenied   = 13
	// ExitTimedOut is reported for commands killed by their own timeout,
	// matching timeout(1).
	ExitTimedOut = 124
)

// Class is the retry classification of a command exit code.
type Class int

const (
	ClassPermanent Class = iota
	ClassTransient
)

// transientCodes are curl/wget-style resolve, connect and timeout failures.
var transientCodes = map[int]bool{
	6:            true,
	7:            true,
	28:           true,
	35:           true,
	56:           true,
	ExitTimedOut: true,
}

// AlwaysFatal reports exit codes that no retry can fix.
func AlwaysFatal(code int) bool {
	return code == ExitMissingCommand || code == ExitCannotExecute || code == ExitAccessDenied
}

// ClassifyExit is the default classifier. Codes outside the transient set are
// permanent unless the caller marked the command retryable.
func ClassifyExit(code int, retryable bool) Class {
	if AlwaysFatal(code) {
		return ClassPermanent
	}
	if transientCodes[code] || retryable {
		return ClassTransient
	}
	return ClassPermanent
}

// KindForExit picks the error kind for a command that failed with code.
func KindForExit(code int, exhausted bool) Kind {
	switch {
	case code == ExitMissingCommand:
		return KindDependency
	case code == ExitCannotExecute || code == ExitAccessDenied:
		return KindPermission
	case exhausted && transientCodes[code]:
		return KindNetwork
	default:
		return KindRuntime
	}
}
