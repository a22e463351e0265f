// Package testpilot identifies the Test-Pilot flow execution engine.
package testpilot

const (
	// Name is the service name reported in logs and diagnostics
	Name = "test-pilot"

	// Version is the current release of the engine
	Version = "0.1.0"
)
