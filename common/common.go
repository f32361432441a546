// Package common holds process-wide constants and logger construction shared
// by the command line tools.
package common

var (
	// PackageName is used as the default service tag in logs.
	PackageName = "medical-record-custody"

	// Version is overridden at build time with -ldflags.
	Version = "dev"
)
