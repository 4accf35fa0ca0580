// Package misc keeps build information set by the linker.
package misc

const appName = "sdst"

var (
	version = "dev"
	gitHash = "unknown"
)

// GetAppName returns program name used for logs, reports and temporary files.
func GetAppName() string {
	return appName
}

// GetVersion returns program version, set with -ldflags "-X sdst/misc.version=...".
func GetVersion() string {
	return version
}

func GetGitHash() string {
	return gitHash
}
