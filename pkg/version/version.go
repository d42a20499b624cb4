package version

// Build holds the build identifier, injected via -ldflags. Default "dev".
var Build = "dev"

// Program is the daemon name printed at startup.
const Program = "bracket-qos"

// String returns "program build".
func String() string {
	return Program + " " + Build
}
