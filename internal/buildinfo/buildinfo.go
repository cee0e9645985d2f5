// Package buildinfo carries build-time metadata injected through ldflags.
package buildinfo

// UnknownValue is reported for metadata the build did not set
const UnknownValue = "unknown"

// Info is build metadata. main receives it through
// -ldflags "-X main.version=... -X main.buildDate=...".
type Info struct {
	version   string
	buildDate string
}

// New creates build metadata.
func New(version, buildDate string) *Info {
	return &Info{version: version, buildDate: buildDate}
}

// Version returns the build version or UnknownValue.
func (i *Info) Version() string {
	if i == nil || i.version == "" {
		return UnknownValue
	}
	return i.version
}

// BuildDate returns the build date or UnknownValue.
func (i *Info) BuildDate() string {
	if i == nil || i.buildDate == "" {
		return UnknownValue
	}
	return i.buildDate
}

// Release returns the Sentry release name.
func (i *Info) Release() string {
	return "repomigrate@" + i.Version()
}
