package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Endpoint pairs one HTTP route with the CLI command that calls it, so the
// server mux and "castwright api" are built from the same list.
type Endpoint interface {
	Route() (method, path string, handler http.HandlerFunc)

	// RequiresInit gates the route behind the pipeline being wired. Health,
	// docs and settings stay reachable on a half-started server.
	RequiresInit() bool

	// Command may return nil for routes with no CLI form. getServerURL is
	// read when the command runs, after flags are parsed.
	Command(getServerURL func() string) *cobra.Command
}

// Grouped endpoints nest their command under a parent, e.g. "topics" for
// "castwright api topics status <id>".
type Grouped interface {
	Group() string
}
