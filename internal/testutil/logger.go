// Package testutil holds the in-memory collaborators and fixtures shared by
// the jvmscope tests.
package testutil

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
)

// NewTestLogger returns a logger for t. Output goes to the test log with
// -v and is discarded otherwise.
func NewTestLogger(t *testing.T) zerolog.Logger {
	t.Helper()
	if testing.Verbose() {
		return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
	}
	return zerolog.New(io.Discard)
}
