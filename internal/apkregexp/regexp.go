package apkregexp

import "regexp"

var (
	PackageName = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)
	LibName     = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	CrateName   = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)
	Serial      = regexp.MustCompile(`^[\w.:-]+$`)
)
