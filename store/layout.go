package store

import (
	"fmt"
	"os"
	"path/filepath"

	"emperror.dev/errors"
	"github.com/patrickmn/go-cache"
)

// On-disk layout: <root>/<opaque origin dir>/<storage type>/ holds one
// sandbox. Backing files are spread across 100 two-digit bucket directories
// to bound fan-out, with zero-padded counter values as names. Nothing on
// disk encodes the origin, the virtual path or the file content.

// GetDirectoryForOriginAndType returns the host directory for a sandbox.
// When create is true the directory chain is created as needed; otherwise an
// ErrCodeNotFound error is returned for origins or types that have never
// stored anything.
func (s *Store) GetDirectoryForOriginAndType(origin string, st StorageType, create bool) (string, error) {
	if origin == "" || !st.Valid() {
		return "", newStoreError(ErrCodeInvalidOperation, nil, "")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.directoryForOriginAndType(origin, st, create)
}

// directoryForOriginAndType is the lock-held implementation backing both the
// exported lookup and sandbox handle acquisition.
func (s *Store) directoryForOriginAndType(origin string, st StorageType, create bool) (string, error) {
	dir, err := s.originDirectory(origin, create)
	if err != nil {
		return "", err
	}
	p := filepath.Join(s.root, dir, string(st))
	if create {
		if err := s.io.CreateDirectory(p); err != nil {
			return "", errors.Wrap(err, "store: failed to create sandbox directory")
		}
		return p, nil
	}
	if _, err := s.io.GetFileInfo(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", newStoreError(ErrCodeNotFound, nil, "")
		}
		return "", errors.Wrap(err, "store: failed to stat sandbox directory")
	}
	return p, nil
}

// originDirectory resolves the opaque directory name for an origin, going
// through the memoization cache before the origin database.
func (s *Store) originDirectory(origin string, create bool) (string, error) {
	if dir, ok := s.originDirs.Get(origin); ok {
		return dir.(string), nil
	}
	if !create {
		ok, err := s.origins.Has(origin)
		if err != nil {
			return "", errors.Wrap(err, "store: origin database lookup failed")
		}
		if !ok {
			return "", newStoreError(ErrCodeNotFound, nil, "")
		}
	}
	dir, err := s.origins.GetPath(origin)
	if err != nil {
		return "", errors.Wrap(err, "store: failed to resolve origin directory")
	}
	s.originDirs.Set(origin, dir, cache.DefaultExpiration)
	return dir, nil
}

// generateNewLocalPath draws the next counter value from the sandbox's
// directory database and derives a backing path from it. The returned path
// never exists on disk yet; if it somehow does the counter is advanced and
// the generation retried a bounded number of times before giving up with an
// internal error.
func (sb *sandbox) generateNewLocalPath() (string, error) {
	for i := 0; i < 5; i++ {
		c, err := sb.db.NextCounter()
		if err != nil {
			return "", errors.Wrap(err, "store: failed to advance path counter")
		}
		rel := fmt.Sprintf("%02d/%08d", (c%10000)/100, c)
		if _, err := sb.store.io.GetFileInfo(sb.hostPath(rel)); err == nil {
			// A file already sits at a path the counter claims is fresh.
			// Skip it; the counter is monotonic so this cannot loop forever
			// on the same value.
			sb.store.error(nil).WithField("path", rel).Warn("backing path collision, advancing counter")
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", errors.Wrap(err, "store: failed to probe candidate backing path")
		}
		if err := sb.store.io.CreateDirectory(filepath.Dir(sb.hostPath(rel))); err != nil {
			return "", errors.Wrap(err, "store: failed to create backing bucket directory")
		}
		return rel, nil
	}
	return "", newStoreError(ErrCodeFailed, errors.New("store: exhausted backing path generation attempts"), "")
}
