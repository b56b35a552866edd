package store

import (
	"time"

	"emperror.dev/errors"
)

// EntryInfo is the caller-visible metadata of a single virtual entry. Sizes
// come from the backing file for files and are always zero for directories.
type EntryInfo struct {
	Name        string    `json:"name"`
	IsDirectory bool      `json:"directory"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"modified"`
}

// DirEntry is one child produced by ReadDirectory. Enumeration order is
// stable within a single call but carries no guarantee across calls.
type DirEntry struct {
	Name        string    `json:"name"`
	IsDirectory bool      `json:"directory"`
	ModTime     time.Time `json:"modified"`
}

// CreateDirectory creates a virtual directory at p. With recursive set every
// missing component is created; otherwise more than one missing trailing
// component fails with ErrCodeNotFound. Each created component is charged
// its path cost individually, and the parent of the first newly created
// component has its mtime updated.
func (s *Store) CreateDirectory(origin string, st StorageType, p string, exclusive, recursive bool) error {
	sb, err := s.sandbox(origin, st, true)
	if err != nil {
		return err
	}
	parts, err := splitVirtualPath(p)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		// The root always exists.
		if exclusive {
			return newStoreError(ErrCodeExists, nil, p)
		}
		return nil
	}

	id := RootFileID
	missingFrom := -1
	for i, name := range parts {
		child, err := sb.db.GetChild(id, name)
		if err != nil {
			if errors.Is(err, ErrEntryNotFound) {
				missingFrom = i
				break
			}
			return errors.WrapIf(err, "store: directory database lookup failed")
		}
		info, err := sb.db.GetInfo(child)
		if err != nil {
			return errors.WrapIf(err, "store: directory database lookup failed")
		}
		if !info.IsDirectory() {
			return newStoreError(ErrCodeNotADirectory, nil, p)
		}
		id = child
	}

	if missingFrom == -1 {
		if exclusive {
			return newStoreError(ErrCodeExists, nil, p)
		}
		return nil
	}

	missing := parts[missingFrom:]
	if !recursive && len(missing) > 1 {
		return newStoreError(ErrCodeNotFound, nil, p)
	}

	parentID := id
	for i, name := range missing {
		growth := Cost(name)
		if err := sb.allocate(growth); err != nil {
			return err
		}
		newID, err := sb.db.Add(&FileInfo{ParentID: parentID, Name: name, ModTime: sb.store.clock()})
		if err != nil {
			return newStoreError(ErrCodeFailed, err, p)
		}
		if i == 0 {
			sb.touchDirectory(parentID)
		}
		sb.commit(growth)
		parentID = newID
	}
	return nil
}

// GetFileInfo returns the metadata of the entry at p. File sizes and
// modification times come from the backing file; a missing or symlinked
// backing file repairs the tree and reports the entry as absent.
func (s *Store) GetFileInfo(origin string, st StorageType, p string) (*EntryInfo, error) {
	sb, err := s.sandbox(origin, st, false)
	if err != nil {
		if IsErrorCode(err, ErrCodeNotFound) && isRootPath(p) {
			return &EntryInfo{IsDirectory: true}, nil
		}
		return nil, err
	}
	id, info, err := sb.resolve(p)
	if err != nil {
		return nil, err
	}
	if info.IsDirectory() {
		return &EntryInfo{Name: info.Name, IsDirectory: true, ModTime: info.ModTime}, nil
	}
	fi, err := sb.verifyBacking(id, info, p)
	if err != nil {
		return nil, err
	}
	return &EntryInfo{Name: info.Name, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// PathExists reports whether any entry lives at p. This is a pure database
// lookup; it never repairs divergence.
func (s *Store) PathExists(origin string, st StorageType, p string) (bool, error) {
	_, info, err := s.lookup(origin, st, p)
	if err != nil || info == nil {
		return false, err
	}
	return true, nil
}

// DirectoryExists reports whether a directory lives at p.
func (s *Store) DirectoryExists(origin string, st StorageType, p string) (bool, error) {
	_, info, err := s.lookup(origin, st, p)
	if err != nil || info == nil {
		return false, err
	}
	return info.IsDirectory(), nil
}

// FileExists reports whether a file lives at p.
func (s *Store) FileExists(origin string, st StorageType, p string) (bool, error) {
	_, info, err := s.lookup(origin, st, p)
	if err != nil || info == nil {
		return false, err
	}
	return !info.IsDirectory(), nil
}

// isRootPath reports whether p is a valid virtual path addressing the root.
func isRootPath(p string) bool {
	parts, err := splitVirtualPath(p)
	return err == nil && len(parts) == 0
}

// lookup resolves p, mapping every flavor of absence onto a nil info rather
// than an error. The root of a sandbox that has never stored anything still
// reports as an existing directory.
func (s *Store) lookup(origin string, st StorageType, p string) (FileID, *FileInfo, error) {
	sb, err := s.sandbox(origin, st, false)
	if err != nil {
		if IsErrorCode(err, ErrCodeNotFound) {
			if isRootPath(p) {
				return RootFileID, &FileInfo{}, nil
			}
			return 0, nil, nil
		}
		return 0, nil, err
	}
	id, info, err := sb.resolve(p)
	if err != nil {
		if IsErrorCode(err, ErrCodeNotFound) {
			return 0, nil, nil
		}
		return 0, nil, err
	}
	return id, info, nil
}

// ReadDirectory returns the live children of the directory at p. The root
// enumerates successfully, and empty, even before anything was ever created
// in the sandbox.
func (s *Store) ReadDirectory(origin string, st StorageType, p string) ([]DirEntry, error) {
	sb, err := s.sandbox(origin, st, false)
	if err != nil {
		if IsErrorCode(err, ErrCodeNotFound) && isRootPath(p) {
			return []DirEntry{}, nil
		}
		return nil, err
	}
	id, info, err := sb.resolve(p)
	if err != nil {
		return nil, err
	}
	if !info.IsDirectory() {
		return nil, newStoreError(ErrCodeNotFound, nil, p)
	}
	children, err := sb.db.ListChildren(id)
	if err != nil {
		return nil, errors.WrapIf(err, "store: failed to enumerate directory")
	}
	out := make([]DirEntry, 0, len(children))
	for _, cid := range children {
		ci, err := sb.db.GetInfo(cid)
		if err != nil {
			if errors.Is(err, ErrEntryNotFound) {
				continue
			}
			return nil, errors.WrapIf(err, "store: failed to enumerate directory")
		}
		out = append(out, DirEntry{Name: ci.Name, IsDirectory: ci.IsDirectory(), ModTime: ci.ModTime})
	}
	return out, nil
}

// DeleteSingleDirectory removes an empty virtual directory. It never
// recurses; deleting a subtree is a caller-composed sequence of enumerate,
// delete children, delete self, so partial failure semantics stay local to
// each primitive.
func (s *Store) DeleteSingleDirectory(origin string, st StorageType, p string) error {
	sb, err := s.sandbox(origin, st, false)
	if err != nil {
		return err
	}
	id, info, err := sb.resolve(p)
	if err != nil {
		return err
	}
	if id == RootFileID {
		return newStoreError(ErrCodeInvalidOperation, nil, p)
	}
	if !info.IsDirectory() {
		return newStoreError(ErrCodeNotADirectory, nil, p)
	}
	children, err := sb.db.ListChildren(id)
	if err != nil {
		return errors.WrapIf(err, "store: failed to enumerate directory")
	}
	if len(children) > 0 {
		return newStoreError(ErrCodeNotEmpty, nil, p)
	}
	if err := sb.db.Remove(id); err != nil {
		return newStoreError(ErrCodeFailed, err, p)
	}
	sb.commit(-Cost(info.Name))
	return nil
}
