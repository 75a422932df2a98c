// Package buildinfo carries version details set at link time with
// -ldflags "-X github.com/modoterra/logcap/internal/buildinfo.Version=...".
package buildinfo

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String formats the build details for a version command.
func String(program string) string {
	return fmt.Sprintf("%s %s (%s) built %s", program, Version, Commit, Date)
}
