package store

import (
	"path/filepath"

	"emperror.dev/errors"
	"github.com/karrick/godirwalk"
)

// legacyDataDir is the fixed directory the migrated legacy tree is renamed
// under. Migrated entries keep their original relative paths below it, with
// no fresh obfuscation applied.
const legacyDataDir = "legacy"

// MigrateFromOldSandbox imports a pre-obfuscation sandbox tree into the
// store in one shot. Any existing database content for the (origin, type)
// tree is destroyed first, one entry is inserted per legacy file and
// directory, and the whole legacy tree is then moved under the sandbox root
// with a single rename. If that rename fails the partially built database is
// destroyed again; a half-migrated sandbox is never left standing.
//
// The operation is terminal for legacyRoot: on success the path no longer
// exists at its old location.
func (s *Store) MigrateFromOldSandbox(origin string, st StorageType, legacyRoot string) error {
	sb, err := s.sandbox(origin, st, true)
	if err != nil {
		return err
	}
	if _, err := s.io.GetFileInfo(legacyRoot); err != nil {
		return newStoreError(ErrCodeNotFound, err, "")
	}

	if err := sb.db.Wipe(); err != nil {
		return errors.Wrap(err, "store: failed to destroy existing directory database")
	}

	target := filepath.Join(sb.root, legacyDataDir)
	if _, err := s.io.GetFileInfo(target); err == nil {
		// Leftovers from a previously failed migration; their database
		// entries were already destroyed, so the files are orphans.
		if err := s.io.DeleteTree(target); err != nil {
			return errors.Wrap(err, "store: failed to clear stale legacy data directory")
		}
	}

	ids := map[string]FileID{".": RootFileID}
	err = godirwalk.Walk(legacyRoot, &godirwalk.Options{
		Callback: func(p string, de *godirwalk.Dirent) error {
			if p == legacyRoot {
				return nil
			}
			rel, err := filepath.Rel(legacyRoot, p)
			if err != nil {
				return err
			}
			if de.IsSymlink() {
				s.error(nil).WithField("path", rel).Warn("skipping symlink in legacy tree")
				if de.IsDir() {
					return godirwalk.SkipThis
				}
				return nil
			}
			parentID, ok := ids[filepath.Dir(rel)]
			if !ok {
				// Parent was skipped; skip the child too.
				return nil
			}
			fi, err := s.io.GetFileInfo(p)
			if err != nil {
				return err
			}
			info := &FileInfo{ParentID: parentID, Name: de.Name(), ModTime: fi.ModTime()}
			if !de.IsDir() {
				info.DataPath = filepath.ToSlash(filepath.Join(legacyDataDir, rel))
			}
			id, err := sb.db.Add(info)
			if err != nil {
				return err
			}
			if de.IsDir() {
				ids[rel] = id
			}
			return nil
		},
	})
	if err != nil {
		sb.destroyPartialMigration()
		return errors.Wrap(err, "store: failed to walk legacy sandbox tree")
	}

	if err := s.io.MoveFile(legacyRoot, target); err != nil {
		sb.destroyPartialMigration()
		return errors.Wrap(err, "store: failed to move legacy tree into sandbox")
	}

	sb.invalidateUsage()
	return sb.recomputeUsage()
}

// destroyPartialMigration wipes whatever entries a failed migration managed
// to insert so no partially valid tree is ever observable.
func (sb *sandbox) destroyPartialMigration() {
	if err := sb.db.Wipe(); err != nil {
		sb.store.error(err).WithField("origin", sb.key.origin).Error("failed to destroy partially migrated directory database")
	}
	sb.invalidateUsage()
}
