package store

import (
	"path/filepath"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/patrickmn/go-cache"

	"github.com/veilfs/veilfs/config"
)

// StorageType is the quota partition class a virtual tree belongs to. Every
// (origin, type) pair owns an independent tree, directory database and usage
// counter.
type StorageType string

const (
	StorageTypeTemporary  StorageType = "temporary"
	StorageTypePersistent StorageType = "persistent"
	StorageTypeSyncable   StorageType = "syncable"
)

// Valid reports whether the storage type is one of the known partitions.
func (st StorageType) Valid() bool {
	switch st {
	case StorageTypeTemporary, StorageTypePersistent, StorageTypeSyncable:
		return true
	}
	return false
}

// Clock returns the current time. Injected so tests can pin timestamps and
// drive idle-handle eviction deterministically.
type Clock func() time.Time

// Options configures a Store instance. Origins, FileIO, Quota and
// OpenDirectoryDatabase are required; everything else falls back to the
// global configuration.
type Options struct {
	// Root is the host directory under which every origin sandbox lives.
	Root string

	Origins OriginDatabase
	FileIO  NativeFileIO
	Quota   QuotaNotifier

	// OpenDirectoryDatabase opens (creating if needed) the directory
	// database stored at the given host path.
	OpenDirectoryDatabase func(path string) (DirectoryDatabase, error)

	Clock Clock

	// DefaultQuotaLimit is the byte budget applied to sandboxes that have no
	// explicit limit set. Zero means unbounded.
	DefaultQuotaLimit int64
}

type sandboxKey struct {
	origin      string
	storageType StorageType
}

// sandbox is the open handle for a single (origin, type) tree: its directory
// database plus the cached quota state. Handles are owned by the Store and
// released through CloseIdle or Close, never by a background timer.
type sandbox struct {
	store *Store
	key   sandboxKey

	// Host directory the tree's backing files and database live under.
	root string

	db DirectoryDatabase

	limit      int64
	used       int64
	usageValid bool

	lastUsed time.Time
}

// Store implements the obfuscated, quota enforcing file store. All mutable
// state is owned by this value; there is no package-level state. Operations
// are synchronous and the caller upholds single-writer semantics per
// (origin, type) tree; the handle map itself is safe for concurrent
// acquisition.
type Store struct {
	mu sync.Mutex

	root   string
	dbName string

	origins OriginDatabase
	io      NativeFileIO
	quota   QuotaNotifier
	openDB  func(path string) (DirectoryDatabase, error)
	clock   Clock

	// Memoizes origin key to opaque directory name lookups so the origin
	// database is not hit on every path resolution.
	originDirs *cache.Cache

	sandboxes map[sandboxKey]*sandbox

	defaultLimit int64
	limits       map[sandboxKey]int64

	scanWorkers int
}

// New creates a Store rooted at opts.Root, falling back to the global
// configuration for anything left unset.
func New(opts Options) (*Store, error) {
	if opts.Origins == nil || opts.FileIO == nil || opts.Quota == nil || opts.OpenDirectoryDatabase == nil {
		return nil, errors.New("store: missing required collaborator in options")
	}
	cfg := config.Get()
	root := opts.Root
	if root == "" {
		root = cfg.System.RootDirectory
	}
	clk := opts.Clock
	if clk == nil {
		clk = time.Now
	}
	workers := cfg.System.UsageScanWorkers
	if workers < 1 {
		workers = 1
	}
	return &Store{
		root:         root,
		dbName:       cfg.System.DirectoryDatabaseName,
		origins:      opts.Origins,
		io:           opts.FileIO,
		quota:        opts.Quota,
		openDB:       opts.OpenDirectoryDatabase,
		clock:        clk,
		originDirs:   cache.New(time.Minute*30, time.Minute*5),
		sandboxes:    make(map[sandboxKey]*sandbox),
		defaultLimit: opts.DefaultQuotaLimit,
		limits:       make(map[sandboxKey]int64),
		scanWorkers:  workers,
	}, nil
}

// Path returns the host root directory of the store.
func (s *Store) Path() string {
	return s.root
}

// SetQuotaLimit sets the byte budget for a single (origin, type) tree. A
// limit of zero removes the cap. Takes effect immediately for an open
// sandbox handle.
func (s *Store) SetQuotaLimit(origin string, st StorageType, limit int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := sandboxKey{origin: origin, storageType: st}
	s.limits[k] = limit
	if sb, ok := s.sandboxes[k]; ok {
		sb.limit = limit
	}
}

func (s *Store) limitFor(k sandboxKey) int64 {
	if l, ok := s.limits[k]; ok {
		return l
	}
	return s.defaultLimit
}

// sandbox returns the open handle for an (origin, type) tree, opening it if
// necessary. When create is false and the origin has never stored anything
// under this type, an ErrCodeNotFound error is returned instead of creating
// directories on disk.
func (s *Store) sandbox(origin string, st StorageType, create bool) (*sandbox, error) {
	if origin == "" || !st.Valid() {
		return nil, newStoreError(ErrCodeInvalidOperation, nil, "")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := sandboxKey{origin: origin, storageType: st}
	if sb, ok := s.sandboxes[k]; ok {
		sb.lastUsed = s.clock()
		return sb, nil
	}

	root, err := s.directoryForOriginAndType(origin, st, create)
	if err != nil {
		return nil, err
	}

	db, err := s.openDB(filepath.Join(root, s.dbName))
	if err != nil {
		return nil, errors.Wrap(err, "store: failed to open directory database")
	}

	sb := &sandbox{
		store:    s,
		key:      k,
		root:     root,
		db:       db,
		limit:    s.limitFor(k),
		lastUsed: s.clock(),
	}
	if used, valid, err := s.quota.Usage(origin, st); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "store: failed to load persisted usage counter")
	} else if valid {
		sb.used = used
		sb.usageValid = true
	} else if err := sb.recomputeUsage(); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.sandboxes[k] = sb
	return sb, nil
}

// CloseIdle releases every sandbox handle that has not been used for at
// least maxIdle and returns the number of handles closed. Callers invoke
// this from their own scheduling; the store never runs background timers.
func (s *Store) CloseIdle(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock().Add(-maxIdle)
	var n int
	for k, sb := range s.sandboxes {
		if sb.lastUsed.After(cutoff) {
			continue
		}
		if err := sb.db.Close(); err != nil {
			s.error(err).WithField("origin", k.origin).Warn("failed to close idle directory database")
		}
		delete(s.sandboxes, k)
		n++
	}
	return n
}

// Close releases every open sandbox handle. The store remains usable;
// subsequent operations reopen handles on demand.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastErr error
	for k, sb := range s.sandboxes {
		if err := sb.db.Close(); err != nil {
			lastErr = err
		}
		delete(s.sandboxes, k)
	}
	return errors.WrapIf(lastErr, "store: failed to close directory database")
}

// closeSandbox drops the open handle for a single tree, if any. Used before
// destructive operations on the sandbox's database file.
func (s *Store) closeSandbox(origin string, st StorageType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := sandboxKey{origin: origin, storageType: st}
	if sb, ok := s.sandboxes[k]; ok {
		if err := sb.db.Close(); err != nil {
			s.error(err).WithField("origin", origin).Warn("failed to close directory database")
		}
		delete(s.sandboxes, k)
	}
}

// hostPath maps a sandbox-relative backing path onto the host filesystem.
func (sb *sandbox) hostPath(rel string) string {
	return filepath.Join(sb.root, filepath.FromSlash(rel))
}

// resolveParts walks tree components from the root and returns the id of the
// final entry. An empty slice resolves to the root, which always exists.
func (sb *sandbox) resolveParts(parts []string) (FileID, error) {
	id := RootFileID
	for _, name := range parts {
		child, err := sb.db.GetChild(id, name)
		if err != nil {
			if errors.Is(err, ErrEntryNotFound) {
				return 0, newStoreError(ErrCodeNotFound, nil, filepath.ToSlash(filepath.Join(parts...)))
			}
			return 0, errors.WrapIf(err, "store: directory database lookup failed")
		}
		id = child
	}
	return id, nil
}

// resolve normalizes a virtual path and resolves it to an entry id and its
// info. The root resolves to a synthetic directory entry.
func (sb *sandbox) resolve(p string) (FileID, *FileInfo, error) {
	parts, err := splitVirtualPath(p)
	if err != nil {
		return 0, nil, err
	}
	id, err := sb.resolveParts(parts)
	if err != nil {
		return 0, nil, err
	}
	info, err := sb.db.GetInfo(id)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return 0, nil, newStoreError(ErrCodeNotFound, nil, p)
		}
		return 0, nil, errors.WrapIf(err, "store: directory database lookup failed")
	}
	return id, info, nil
}

// resolveParent resolves the parent directory of a virtual path and returns
// its id together with the final path component. The parent must exist and
// be a directory; a missing parent is reported as ErrCodeNotFound.
func (sb *sandbox) resolveParent(p string) (FileID, string, error) {
	parentParts, name, err := splitVirtualParent(p)
	if err != nil {
		return 0, "", err
	}
	parentID, err := sb.resolveParts(parentParts)
	if err != nil {
		return 0, "", err
	}
	if parentID != RootFileID {
		info, err := sb.db.GetInfo(parentID)
		if err != nil {
			return 0, "", errors.WrapIf(err, "store: directory database lookup failed")
		}
		if !info.IsDirectory() {
			return 0, "", newStoreError(ErrCodeNotADirectory, nil, p)
		}
	}
	return parentID, name, nil
}

// touchDirectory updates a directory's modification time in the database,
// logging rather than failing when the write cannot be applied.
func (sb *sandbox) touchDirectory(id FileID) {
	if err := sb.db.Touch(id, sb.store.clock()); err != nil {
		sb.store.error(err).WithField("origin", sb.key.origin).Warn("failed to update parent directory mtime")
	}
}
