package version

// Version information set via ldflags during build
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// FullVersion returns a formatted version string for the named tool
func FullVersion(program string) string {
	if Version == "dev" {
		return program + " (tcpdrain) development build"
	}
	return program + " (tcpdrain) " + Version + " (commit: " + GitCommit + ", built: " + BuildDate + ")"
}
