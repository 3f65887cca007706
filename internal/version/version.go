// Package version holds the tool identity sent to GitHub
package version

// Name is the tool name used in the User-Agent header
const Name = "ghapp-token"

// Version is overridden at build time with
// -ldflags "-X github.com/OpsMx/ghapp-token/internal/version.Version=v1.2.3"
var Version = "dev"

// UserAgent returns "<name>/<version>"; callers compute it once at startup
func UserAgent() string {
	return Name + "/" + Version
}
