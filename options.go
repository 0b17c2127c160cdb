package slotdb

import (
	"github.com/alexhholmes/slotdb/internal/pager"
	"github.com/alexhholmes/slotdb/internal/storage"
)

// SyncMode controls when database writes are fsynced to disk
type SyncMode = pager.SyncMode

const (
	// SyncEveryCommit fsyncs on every transaction commit.
	// - Committed data survives process and power failure
	// - Limited by fsync latency
	SyncEveryCommit = pager.SyncEveryCommit

	// SyncOff leaves flushing to the operating system (testing/bulk loads
	// only). Committed data survives a process crash but not power loss.
	SyncOff = pager.SyncOff
)

// Options configures database behavior.
type Options struct {
	logger          Logger
	syncMode        SyncMode
	maxCacheSize    int   // Pages kept in the shared page cache
	inMemory        bool  // Keep pages in memory, ignore path
	initialMmapSize int64 // Mapping size of a new file, and the growth step
}

// DefaultOptions returns safe default configuration.
//
//goland:noinspection GoUnusedExportedFunction
func DefaultOptions() Options {
	return Options{
		logger:          DiscardLogger{},
		syncMode:        SyncEveryCommit,
		maxCacheSize:    8192, // 32MB of 4KB pages
		initialMmapSize: storage.DefaultMmapSize,
	}
}

// Option configures database options using the functional options pattern.
type Option func(*Options)

// WithLogger sets the logger. *slog.Logger satisfies Logger directly.
//
//goland:noinspection GoUnusedExportedFunction
func WithLogger(logger Logger) Option {
	return func(opts *Options) {
		if logger == nil {
			logger = DiscardLogger{}
		}
		opts.logger = logger
	}
}

// WithSyncMode sets when commits are fsynced.
//
//goland:noinspection GoUnusedExportedFunction
func WithSyncMode(mode SyncMode) Option {
	return func(opts *Options) {
		opts.syncMode = mode
	}
}

// WithMaxCacheSize sets the number of pages held by the page cache. Values
// below the cache minimum are raised to it.
//
//goland:noinspection GoUnusedExportedFunction
func WithMaxCacheSize(pages int) Option {
	return func(opts *Options) {
		opts.maxCacheSize = pages
	}
}

// WithInMemory keeps every page in process memory. Nothing survives Close.
//
//goland:noinspection GoUnusedExportedFunction
func WithInMemory() Option {
	return func(opts *Options) {
		opts.inMemory = true
	}
}

// WithInitialMmapSize sets the size a new file is mapped with. The mapping
// grows by the same amount whenever it fills up.
//
//goland:noinspection GoUnusedExportedFunction
func WithInitialMmapSize(bytes int64) Option {
	return func(opts *Options) {
		opts.initialMmapSize = bytes
	}
}
