// Package testlog wires the standard test logging profile into t.
package testlog

import (
	"testing"

	"github.com/flowsock/flowsock/internal/logging"
)

// Start configures the test logging profile and records t's name. Tests
// that use it call it first.
func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	logging.L().Debug().Str("test", t.Name()).Msg("test start")
}
