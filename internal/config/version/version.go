package version

// Package metadata information, used for versioning and metadata generation.
// The release pipeline replaces these variables at build time.
var (
	Version      = "0.1.0"
	Toolname     = "tool-provisioner-dev"
	Organization = "unknown"
	BuildDate    = "unknown"
	CommitSHA    = "unknown"
)
