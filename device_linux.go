//go:build linux

package phylum

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockExclusive takes a non-blocking exclusive BSD lock on f, failing fast
// instead of blocking if another process already holds it - a second writer
// opening the same device file is a configuration mistake spec.md's
// single-writer model forbids, not a condition worth waiting out.
func lockExclusive(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}
