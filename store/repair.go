package store

import (
	"os"

	"emperror.dev/errors"
)

// The database and the disk can diverge: a backing file may vanish out of
// band, or be replaced by a symbolic link. Divergence is repaired locally by
// invalidating the usage counter and dropping the stale entry; it is never
// surfaced as anything other than a NotFound (or SecurityRejected for
// symlinks) on the operation that tripped over it.

// verifyBacking checks that the backing file recorded for a file entry is
// present and is not a symbolic link, returning its stat info. When the
// check fails the stale entry is dropped, the usage counter invalidated, and
// an appropriate error returned carrying the virtual path p.
func (sb *sandbox) verifyBacking(id FileID, info *FileInfo, p string) (os.FileInfo, error) {
	fi, err := sb.store.io.GetFileInfo(sb.hostPath(info.DataPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			sb.store.error(nil).WithField("origin", sb.key.origin).WithField("path", p).Warn("backing file missing, dropping stale entry")
			sb.dropStaleEntry(id)
			return nil, newStoreError(ErrCodeNotFound, nil, p)
		}
		return nil, errors.Wrap(err, "store: failed to stat backing file")
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		// Symbolic links are never followed. A link sitting where a backing
		// file should be means something outside this store tampered with
		// the sandbox.
		sb.store.error(nil).WithField("origin", sb.key.origin).WithField("path", p).Warn("backing file is a symlink, dropping stale entry")
		sb.dropStaleEntry(id)
		return nil, newStoreError(ErrCodeSecurityRejected, nil, p)
	}
	return fi, nil
}

// dropStaleEntry removes a database entry whose backing file no longer
// matches it. The usage counter is invalidated rather than patched because
// the size the entry contributed is no longer knowable.
func (sb *sandbox) dropStaleEntry(id FileID) {
	sb.invalidateUsage()
	if err := sb.db.Remove(id); err != nil {
		sb.store.error(err).WithField("origin", sb.key.origin).Warn("failed to remove stale directory database entry")
	}
}
