package version

// Version is the release identifier, overridden at build time via
// -ldflags "-X github.com/tidecast/tidecast/internal/version.Version=...".
var Version = "0.1.0-dev"
