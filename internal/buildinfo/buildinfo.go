package buildinfo

// Version can be overridden at build time with:
// -ldflags "-X lg/internal/buildinfo.Version=v0.3.0"
var Version = "dev"

func String() string {
	return "lg " + Version
}
