package store

import (
	"os"

	"emperror.dev/errors"
)

// CopyOrMoveFile copies (copy=true) or moves a virtual file within one
// (origin, type) tree. Cross-tree transfers go through CopyInForeignFile
// instead. Overwriting requires matching kinds; a directory at dest fails
// with ErrCodeNotAFile, and a directory at src is not a file to begin with.
// Moving or copying onto one's own descendant fails with
// ErrCodeInvalidOperation.
//
// A rename-only move never touches file bytes: the backing file stays where
// it is and only the database entry is re-parented. An overwriting move
// re-points the dest entry at the src backing file and best-effort deletes
// the orphaned dest backing file; a failed deletion is logged and leaked
// rather than surfaced, because a disk leak is recoverable and database
// corruption is not.
func (s *Store) CopyOrMoveFile(origin string, st StorageType, src, dest string, copy bool) error {
	sb, err := s.sandbox(origin, st, false)
	if err != nil {
		return err
	}
	if _, err := splitVirtualPath(dest); err != nil {
		return err
	}
	if isDescendantPath(src, dest) {
		return newStoreError(ErrCodeInvalidOperation, nil, dest)
	}

	srcID, srcInfo, err := sb.resolve(src)
	if err != nil {
		return err
	}
	if srcInfo.IsDirectory() {
		return newStoreError(ErrCodeNotAFile, nil, src)
	}
	srcFi, err := sb.verifyBacking(srcID, srcInfo, src)
	if err != nil {
		return err
	}

	destID, destInfo, derr := sb.resolve(dest)
	overwrite := derr == nil
	if derr != nil && !IsErrorCode(derr, ErrCodeNotFound) {
		return derr
	}
	if overwrite && destInfo.IsDirectory() {
		return newStoreError(ErrCodeNotAFile, nil, dest)
	}

	var destSize int64
	if overwrite {
		destFi, err := sb.verifyBacking(destID, destInfo, dest)
		if err != nil {
			if !IsErrorCode(err, ErrCodeNotFound) {
				return err
			}
			// The stale dest entry was just dropped; proceed as a create.
			overwrite = false
		} else {
			destSize = destFi.Size()
		}
	}

	var destParentID FileID
	var destName string
	if overwrite {
		destParentID, destName = destInfo.ParentID, destInfo.Name
	} else {
		destParentID, destName, err = sb.resolveParent(dest)
		if err != nil {
			return err
		}
	}

	var growth int64
	if copy {
		growth += srcFi.Size()
	} else {
		growth -= Cost(srcInfo.Name)
	}
	if overwrite {
		growth -= destSize
	} else {
		growth += Cost(destName)
	}
	if err := sb.allocate(growth); err != nil {
		return err
	}

	srcParentID := srcInfo.ParentID

	switch {
	case copy && overwrite:
		if _, err := s.io.CopyFile(sb.hostPath(srcInfo.DataPath), sb.hostPath(destInfo.DataPath)); err != nil {
			return errors.Wrap(err, "store: failed to copy backing file bytes")
		}
		if err := sb.db.Touch(destID, s.clock()); err != nil {
			s.error(err).WithField("path", dest).Warn("failed to update overwritten entry mtime")
		}
	case copy && !overwrite:
		// Backing files are never shared between two live entries, so a
		// creating copy always materializes a brand new backing path.
		rel, err := sb.generateNewLocalPath()
		if err != nil {
			return err
		}
		if _, err := s.io.CopyFile(sb.hostPath(srcInfo.DataPath), sb.hostPath(rel)); err != nil {
			return errors.Wrap(err, "store: failed to copy backing file bytes")
		}
		if _, err := sb.db.Add(&FileInfo{ParentID: destParentID, Name: destName, DataPath: rel, ModTime: s.clock()}); err != nil {
			s.error(err).WithField("origin", origin).WithField("path", dest).Error("failed to insert entry for copied file, leaking backing file")
			return newStoreError(ErrCodeFailed, err, dest)
		}
	case !copy && overwrite:
		orphaned := destInfo.DataPath
		if err := sb.db.OverwriteMove(srcID, destID); err != nil {
			return newStoreError(ErrCodeFailed, err, dest)
		}
		if err := s.io.DeleteFile(sb.hostPath(orphaned)); err != nil {
			s.error(err).WithField("origin", origin).WithField("path", dest).Warn("failed to delete overwritten backing file, leaking it")
		}
	default:
		// Rename-only move: the backing file is untouched.
		srcInfo.ParentID = destParentID
		srcInfo.Name = destName
		srcInfo.ModTime = s.clock()
		if err := sb.db.Update(srcID, srcInfo); err != nil {
			return newStoreError(ErrCodeFailed, err, dest)
		}
	}

	if !copy {
		sb.touchDirectory(srcParentID)
	}
	sb.touchDirectory(destParentID)
	sb.commit(growth)
	return nil
}

// CopyInForeignFile bridges an external byte source into the store: src is
// an absolute host path outside any sandbox, dest a virtual path inside the
// (origin, type) tree. Accounting follows the copy branch of
// CopyOrMoveFile.
func (s *Store) CopyInForeignFile(origin string, st StorageType, src, dest string) error {
	sb, err := s.sandbox(origin, st, true)
	if err != nil {
		return err
	}
	fi, err := s.io.GetFileInfo(src)
	if err != nil {
		return newStoreError(ErrCodeNotFound, err, dest)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return newStoreError(ErrCodeSecurityRejected, nil, dest)
	}
	if fi.IsDir() {
		return newStoreError(ErrCodeNotAFile, nil, dest)
	}

	destID, destInfo, derr := sb.resolve(dest)
	overwrite := derr == nil
	if derr != nil && !IsErrorCode(derr, ErrCodeNotFound) {
		return derr
	}
	if overwrite && destInfo.IsDirectory() {
		return newStoreError(ErrCodeNotAFile, nil, dest)
	}

	var destSize int64
	if overwrite {
		destFi, err := sb.verifyBacking(destID, destInfo, dest)
		if err != nil {
			if !IsErrorCode(err, ErrCodeNotFound) {
				return err
			}
			overwrite = false
		} else {
			destSize = destFi.Size()
		}
	}

	var destParentID FileID
	var destName string
	if overwrite {
		destParentID, destName = destInfo.ParentID, destInfo.Name
	} else {
		destParentID, destName, err = sb.resolveParent(dest)
		if err != nil {
			return err
		}
	}

	growth := fi.Size()
	if overwrite {
		growth -= destSize
	} else {
		growth += Cost(destName)
	}
	if err := sb.allocate(growth); err != nil {
		return err
	}

	if overwrite {
		if _, err := s.io.CopyFile(src, sb.hostPath(destInfo.DataPath)); err != nil {
			return errors.Wrap(err, "store: failed to copy foreign file bytes")
		}
		if err := sb.db.Touch(destID, s.clock()); err != nil {
			s.error(err).WithField("path", dest).Warn("failed to update overwritten entry mtime")
		}
	} else {
		rel, err := sb.generateNewLocalPath()
		if err != nil {
			return err
		}
		if _, err := s.io.CopyFile(src, sb.hostPath(rel)); err != nil {
			return errors.Wrap(err, "store: failed to copy foreign file bytes")
		}
		if _, err := sb.db.Add(&FileInfo{ParentID: destParentID, Name: destName, DataPath: rel, ModTime: s.clock()}); err != nil {
			s.error(err).WithField("origin", origin).WithField("path", dest).Error("failed to insert entry for foreign file, leaking backing file")
			return newStoreError(ErrCodeFailed, err, dest)
		}
	}

	sb.touchDirectory(destParentID)
	sb.commit(growth)
	return nil
}
