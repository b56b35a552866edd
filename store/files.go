package store

import (
	"os"
	"time"

	"emperror.dev/errors"
)

// CreateOrOpen resolves a virtual file and returns an open handle to its
// backing file, creating the entry first when flag carries os.O_CREATE. The
// returned bool reports whether this call created the entry. Ownership of
// the handle passes to the caller, which must close it.
//
// With os.O_CREATE|os.O_EXCL an existing entry fails with ErrCodeExists.
// With os.O_TRUNC an existing file is truncated, its freed bytes credited
// back to the quota before the truncating open. If the database claims the
// file exists but its backing file is gone, the stale entry is dropped and,
// because the caller asked for creation, a fresh empty file takes its place.
func (s *Store) CreateOrOpen(origin string, st StorageType, p string, flag int) (*os.File, bool, error) {
	create := flag&os.O_CREATE != 0
	sb, err := s.sandbox(origin, st, create)
	if err != nil {
		return nil, false, err
	}

	id, info, err := sb.resolve(p)
	if err != nil {
		if !create || !IsErrorCode(err, ErrCodeNotFound) {
			return nil, false, err
		}
		_, created, err := sb.createFile(p)
		if err != nil {
			return nil, false, err
		}
		f, err := s.io.Open(sb.hostPath(created.DataPath), flag&^os.O_EXCL)
		if err != nil {
			return nil, false, errors.Wrap(err, "store: failed to open freshly created backing file")
		}
		return f, true, nil
	}

	if info.IsDirectory() {
		return nil, false, newStoreError(ErrCodeNotAFile, nil, p)
	}
	if create && flag&os.O_EXCL != 0 {
		return nil, false, newStoreError(ErrCodeExists, nil, p)
	}

	fi, err := sb.verifyBacking(id, info, p)
	if err != nil {
		// The only self-healing path in the store: the entry was stale, the
		// caller explicitly asked to ensure existence, so recreate an empty
		// file rather than failing.
		if create && IsErrorCode(err, ErrCodeNotFound) {
			_, created, err := sb.createFile(p)
			if err != nil {
				return nil, false, err
			}
			f, err := s.io.Open(sb.hostPath(created.DataPath), flag&^os.O_EXCL)
			if err != nil {
				return nil, false, errors.Wrap(err, "store: failed to open recreated backing file")
			}
			return f, true, nil
		}
		return nil, false, err
	}

	openFlag := flag &^ (os.O_CREATE | os.O_EXCL)
	if flag&os.O_TRUNC != 0 {
		growth := -fi.Size()
		if err := sb.allocate(growth); err != nil {
			return nil, false, err
		}
		f, err := s.io.Open(sb.hostPath(info.DataPath), openFlag)
		if err != nil {
			return nil, false, errors.Wrap(err, "store: failed to open backing file for truncation")
		}
		sb.commit(growth)
		return f, false, nil
	}

	f, err := s.io.Open(sb.hostPath(info.DataPath), openFlag)
	if err != nil {
		return nil, false, errors.Wrap(err, "store: failed to open backing file")
	}
	return f, false, nil
}

// EnsureFileExists guarantees that a virtual file exists at p without
// handing back a handle. The returned bool is true only when this call
// created the file; calling it twice in a row yields created=false the
// second time with no size change.
func (s *Store) EnsureFileExists(origin string, st StorageType, p string) (bool, error) {
	sb, err := s.sandbox(origin, st, true)
	if err != nil {
		return false, err
	}

	id, info, err := sb.resolve(p)
	if err != nil {
		if !IsErrorCode(err, ErrCodeNotFound) {
			return false, err
		}
		if _, _, err := sb.createFile(p); err != nil {
			return false, err
		}
		return true, nil
	}
	if info.IsDirectory() {
		return false, newStoreError(ErrCodeNotAFile, nil, p)
	}
	if _, err := sb.verifyBacking(id, info, p); err != nil {
		if IsErrorCode(err, ErrCodeNotFound) {
			// Stale entry dropped; recreate since the caller asked for
			// existence.
			if _, _, err := sb.createFile(p); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// createFile allocates quota for a new entry, generates a fresh backing
// path, creates the empty backing file and inserts the database record. The
// parent directory's mtime is updated and the quota delta committed only
// after everything else succeeded.
func (sb *sandbox) createFile(p string) (FileID, *FileInfo, error) {
	parentID, name, err := sb.resolveParent(p)
	if err != nil {
		return 0, nil, err
	}
	growth := Cost(name)
	if err := sb.allocate(growth); err != nil {
		return 0, nil, err
	}
	rel, err := sb.generateNewLocalPath()
	if err != nil {
		return 0, nil, err
	}
	if _, err := sb.store.io.EnsureFileExists(sb.hostPath(rel)); err != nil {
		return 0, nil, errors.Wrap(err, "store: failed to create backing file")
	}
	info := &FileInfo{ParentID: parentID, Name: name, DataPath: rel, ModTime: sb.store.clock()}
	id, err := sb.db.Add(info)
	if err != nil {
		// Leak the freshly created backing file rather than risking the
		// database; nothing references it and a later sweep can reclaim it.
		sb.store.error(err).WithField("origin", sb.key.origin).WithField("path", p).Error("failed to insert entry for new file, leaking backing file")
		return 0, nil, newStoreError(ErrCodeFailed, err, p)
	}
	sb.touchDirectory(parentID)
	sb.commit(growth)
	return id, info, nil
}

// Touch updates the timestamps of a virtual path. Directories only carry a
// modification time in the database; files forward both timestamps to the
// backing file.
func (s *Store) Touch(origin string, st StorageType, p string, atime, mtime time.Time) error {
	sb, err := s.sandbox(origin, st, false)
	if err != nil {
		return err
	}
	id, info, err := sb.resolve(p)
	if err != nil {
		return err
	}
	if info.IsDirectory() {
		if err := sb.db.Touch(id, mtime); err != nil {
			return errors.Wrap(err, "store: failed to update directory mtime")
		}
		return nil
	}
	if _, err := sb.verifyBacking(id, info, p); err != nil {
		return err
	}
	if err := s.io.Touch(sb.hostPath(info.DataPath), atime, mtime); err != nil {
		return errors.Wrap(err, "store: failed to update backing file times")
	}
	return nil
}

// Truncate resizes a virtual file to length bytes, charging or crediting the
// quota by the size difference. The usage counter moves only after the
// truncating I/O succeeded.
func (s *Store) Truncate(origin string, st StorageType, p string, length int64) error {
	sb, err := s.sandbox(origin, st, false)
	if err != nil {
		return err
	}
	id, info, err := sb.resolve(p)
	if err != nil {
		return err
	}
	if info.IsDirectory() {
		return newStoreError(ErrCodeNotAFile, nil, p)
	}
	fi, err := sb.verifyBacking(id, info, p)
	if err != nil {
		return err
	}
	growth := length - fi.Size()
	if err := sb.allocate(growth); err != nil {
		return err
	}
	if err := s.io.Truncate(sb.hostPath(info.DataPath), length); err != nil {
		return errors.Wrap(err, "store: failed to truncate backing file")
	}
	sb.commit(growth)
	return nil
}

// DeleteFile removes a virtual file. The database entry is removed and the
// quota credited before the backing file deletion is even attempted; a
// failed disk deletion is logged and the file leaked, never surfaced. A
// directory at p is a caller bug and returns ErrCodeFailed.
func (s *Store) DeleteFile(origin string, st StorageType, p string) error {
	sb, err := s.sandbox(origin, st, false)
	if err != nil {
		return err
	}
	id, info, err := sb.resolve(p)
	if err != nil {
		return err
	}
	if info.IsDirectory() {
		s.error(nil).WithField("path", p).Error("DeleteFile called on a directory")
		return newStoreError(ErrCodeFailed, nil, p)
	}
	fi, err := sb.verifyBacking(id, info, p)
	if err != nil {
		return err
	}
	growth := -(Cost(info.Name) + fi.Size())
	if err := sb.db.Remove(id); err != nil {
		return newStoreError(ErrCodeFailed, err, p)
	}
	sb.commit(growth)
	if err := s.io.DeleteFile(sb.hostPath(info.DataPath)); err != nil {
		s.error(err).WithField("origin", origin).WithField("path", p).Warn("failed to delete backing file, leaking it")
	}
	return nil
}
