package main

import (
	"os"
	"testing"
)

// TestMain points the config dir at a scratch directory so no test reads
// or writes the user's real ~/.agent-sessions.
func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "agent-sessions-cmd-test")
	if err != nil {
		panic(err)
	}
	os.Setenv("AGENT_SESSIONS_HOME", dir)

	code := m.Run()

	os.RemoveAll(dir)
	os.Exit(code)
}
