// Package api defines the types exchanged between the flow engine and its
// collaborators: flow definitions, endpoint metadata, assertions, and the
// per-run execution results
package api
