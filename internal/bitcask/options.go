package bitcask

import (
	"go.uber.org/zap"
)

// SyncMode controls what Put does to the active data file after appending
// an entry, when Options.Sync is enabled.
type SyncMode int

const (
	// FlushMode flushes user-space buffers only (the reference's fflush
	// behavior): data reaches the OS page cache but not necessarily disk.
	FlushMode SyncMode = iota
	// FsyncMode additionally calls the OS fsync equivalent via
	// (*os.File).Sync, guaranteeing the write has reached stable storage
	// before Put returns.
	FsyncMode
)

const (
	// DefaultMaxFileBytes is the rollover threshold used when no
	// WithMaxFileBytes option is given.
	DefaultMaxFileBytes = 64 << 20 // 64MiB
)

// Options configures an open Bitcask store. Construct via Open's functional
// options (WithXxx below); the zero value is not meant to be used directly.
type Options struct {
	// Sync, if true, flushes (or fsyncs, per FileSyncMode) the active
	// data file after every Put before it returns.
	Sync bool

	// FileSyncMode selects between a buffered flush and a true fsync when
	// Sync is enabled.
	FileSyncMode SyncMode

	// MaxFileBytes caps the size the active data file is allowed to grow
	// to before Put rolls over to a new active file.
	MaxFileBytes int64

	// Logger receives structured events about hint-file recovery decisions,
	// rollover, and merge. Stale-lock removal is not logged. Defaults to
	// zap.NewNop() if nil.
	Logger *zap.SugaredLogger
}

// Option mutates an in-progress Options value. Modeled on the WithXxx
// functional-options pattern used by iamNilotpal/ignite's pkg/options.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Sync:         false,
		FileSyncMode: FlushMode,
		MaxFileBytes: DefaultMaxFileBytes,
		Logger:       zap.NewNop().Sugar(),
	}
}

// WithSync enables (or disables) a flush/fsync after every Put.
func WithSync(sync bool) Option {
	return func(o *Options) { o.Sync = sync }
}

// WithFileSyncMode selects the durability mode used when Sync is enabled.
func WithFileSyncMode(mode SyncMode) Option {
	return func(o *Options) { o.FileSyncMode = mode }
}

// WithMaxFileBytes sets the active-file rollover threshold. Values <= 0
// are ignored, leaving the default in place.
func WithMaxFileBytes(max int64) Option {
	return func(o *Options) {
		if max > 0 {
			o.MaxFileBytes = max
		}
	}
}

// WithLogger attaches a structured logger. A nil logger is ignored.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}
