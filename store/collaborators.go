package store

import (
	"errors"
	"os"
	"time"
)

// ErrEntryNotFound is returned by DirectoryDatabase implementations when a
// lookup misses. The store maps it onto an ErrCodeNotFound error carrying the
// virtual path that was requested.
var ErrEntryNotFound = errors.New("directory database: entry not found")

// FileID is the opaque key of an entry in a directory database. The id 0 is
// reserved for the root of the tree, which always exists.
type FileID int64

// RootFileID is the id of the virtual root directory of every sandbox.
const RootFileID FileID = 0

// FileInfo is the metadata record kept for a single virtual file or
// directory. A directory is any entry with an empty DataPath; files carry the
// sandbox-relative path of their backing file, which is unique across all
// live entries of the tree.
type FileInfo struct {
	ParentID FileID
	Name     string
	DataPath string
	ModTime  time.Time
}

// IsDirectory reports whether the entry describes a virtual directory.
func (f *FileInfo) IsDirectory() bool {
	return f.DataPath == ""
}

// DirectoryDatabase is the durable tree of FileInfo records backing a single
// (origin, storage type) sandbox. Implementations are not required to be safe
// for concurrent writers; the caller upholds single-writer semantics.
type DirectoryDatabase interface {
	// GetByPath resolves a normalized virtual path to an entry id, returning
	// ErrEntryNotFound when any component is missing.
	GetByPath(path string) (FileID, error)
	GetInfo(id FileID) (*FileInfo, error)
	Add(info *FileInfo) (FileID, error)
	Update(id FileID, info *FileInfo) error
	Remove(id FileID) error
	ListChildren(id FileID) ([]FileID, error)
	GetChild(parent FileID, name string) (FileID, error)
	// Touch updates only the modification time of an entry.
	Touch(id FileID, t time.Time) error
	// NextCounter returns the next value of a monotonic counter used for
	// backing path generation. Values are never handed out twice, even
	// across process restarts.
	NextCounter() (int64, error)
	// OverwriteMove re-points the dest entry at the src entry's backing file
	// and removes the src entry in one transaction.
	OverwriteMove(src, dest FileID) error
	// Wipe removes every entry except the root and leaves the counter
	// untouched so previously issued backing paths are never reissued.
	Wipe() error
	Close() error
}

// OriginRecord pairs an origin key with the opaque directory name assigned
// to it.
type OriginRecord struct {
	Origin    string
	Directory string
}

// OriginDatabase maps origin keys to the opaque directory names their
// sandboxes live under. Directory names bear no reversible relation to the
// origin key.
type OriginDatabase interface {
	Has(origin string) (bool, error)
	// GetPath returns the directory name for an origin, assigning a fresh
	// opaque name if the origin has never been seen before.
	GetPath(origin string) (string, error)
	Remove(origin string) error
	ListAll() ([]OriginRecord, error)
}

// QuotaNotifier receives usage deltas for successfully completed mutating
// operations and keeps the persisted per-(origin, type) counter. When the
// store detects disk/database divergence it invalidates the counter rather
// than patching it, forcing a later full recomputation.
type QuotaNotifier interface {
	UpdateUsage(origin string, st StorageType, delta int64) error
	InvalidateUsage(origin string, st StorageType) error
	// SetUsage stores an authoritative value produced by a full rescan and
	// marks the counter valid again.
	SetUsage(origin string, st StorageType, bytes int64) error
	// Usage returns the persisted counter and whether it is currently valid.
	Usage(origin string, st StorageType) (int64, bool, error)
}

// NativeFileIO abstracts the raw OS file primitives the store drives. All
// paths passed to it are absolute host paths; virtual path handling never
// reaches this layer.
type NativeFileIO interface {
	// EnsureFileExists creates an empty file when none exists, reporting
	// whether it was created by this call. The parent directory must exist.
	EnsureFileExists(path string) (bool, error)
	// CreateDirectory creates a directory and any missing parents.
	CreateDirectory(path string) error
	// GetFileInfo lstats the path. Symbolic links are reported, never
	// followed.
	GetFileInfo(path string) (os.FileInfo, error)
	Open(path string, flag int) (*os.File, error)
	Touch(path string, atime, mtime time.Time) error
	Truncate(path string, size int64) error
	// CopyFile copies src to dest, truncating dest if it exists, and returns
	// the number of bytes written.
	CopyFile(src, dest string) (int64, error)
	MoveFile(src, dest string) error
	DeleteFile(path string) error
	// DeleteTree removes a directory and everything below it. Used only for
	// whole-sandbox teardown, never for virtual tree operations.
	DeleteTree(path string) error
}
