package phylum

// Option configures a Filesystem. Mirrors the teacher's functional-option
// pattern (writer.go's WriterOption) rather than a config struct, since
// spec.md explicitly carries no config files or env vars - these options
// are the only knobs a caller gets.
type Option func(*Filesystem)

// WithBufferPool supplies the scratch-page buffer pool chains borrow from
// while loaded. If omitted, New allocates a small built-in sync.Pool-backed
// implementation sized to the sector map's sector size.
func WithBufferPool(pool BufferPool) Option {
	return func(fs *Filesystem) {
		fs.pool = pool
	}
}

// WithLogger redirects phylum's diagnostic tracing. See Logger (log.go).
func WithLogger(logger Logger) Option {
	return func(fs *Filesystem) {
		fs.log = logger
	}
}
