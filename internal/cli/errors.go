package cli

// UsageError marks a command failure as the caller's mistake (bad flags,
// missing file, malformed spec) rather than an internal failure, so main
// can map it to the user-error exit code.
type UsageError struct {
	msg string
}

func (e *UsageError) Error() string { return e.msg }
