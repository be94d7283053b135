package executor

import "time"

const (
	EnvironmentDirector     = "BOSH_ENVIRONMENT"
	EnvironmentClient       = "BOSH_CLIENT"
	EnvironmentClientSecret = "BOSH_CLIENT_SECRET"
	EnvironmentCACert       = "BOSH_CA_CERT"

	FlagEnvironment   = "-e"
	FlagCACertificate = "--ca-cert"
	FlagJSON          = "--json"
	FlagVersion       = "--version"
)

// Invocation is a single bosh process call. It is built fresh for every call.
type Invocation struct {
	ID          string
	Command     string
	Arguments   []string
	Environment []string
	Timeout     time.Duration
	// Follow marks a command that streams until stopped. Reaching Timeout ends it normally.
	Follow bool
}

// Executable returns the binary path at the head of the argument vector.
func (invocation Invocation) Executable() string {
	if len(invocation.Arguments) == 0 {
		return ""
	}
	return invocation.Arguments[0]
}

// EnvironmentValue looks up a key in the overlay.
func (invocation Invocation) EnvironmentValue(key string) (string, bool) {
	prefix := key + "="
	for index := len(invocation.Environment) - 1; index >= 0; index-- {
		entry := invocation.Environment[index]
		if len(entry) >= len(prefix) && entry[:len(prefix)] == prefix {
			return entry[len(prefix):], true
		}
	}
	return "", false
}

// Result holds what a finished process produced.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}
