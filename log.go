package phylum

import "log"

// Logger is the minimal interface phylum's diagnostic tracing needs.
// The standard library's *log.Logger already satisfies it. Grounded on the
// teacher's own style (super.go, tablereader.go call log.Printf directly at
// package scope); phylum hangs those same call sites off an injectable
// Logger instead of the bare package-level logger, so a caller embedding
// this filesystem in a larger device image can redirect or silence it
// without the teacher's global-state wart.
type Logger interface {
	Printf(format string, args ...any)
}

// defaultLogger is log.Default(), used when a Filesystem isn't given one
// via WithLogger.
var defaultLogger Logger = log.Default()

func (fs *Filesystem) logf(format string, args ...any) {
	if fs.log == nil {
		return
	}
	fs.log.Printf(format, args...)
}
