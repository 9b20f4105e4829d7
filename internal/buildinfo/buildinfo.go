// Package buildinfo exposes version metadata set at link time.
package buildinfo

// Version, Commit and BuildDate are overridden with -ldflags by the release build.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// UserAgent is sent on every provider request.
func UserAgent() string {
	return "oauth-playground/" + Version
}
