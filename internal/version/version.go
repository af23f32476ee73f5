package version

// Version is the service version, overridden at build time with
// -ldflags "-X github.com/hrygo/construkt/internal/version.Version=...".
var Version = "0.3.0"

// DevVersion is reported outside prod mode.
var DevVersion = "0.3.0-dev"

func GetCurrentVersion(mode string) string {
	if mode == "dev" || mode == "demo" {
		return DevVersion
	}
	return Version
}
