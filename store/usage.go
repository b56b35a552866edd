package store

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"

	"emperror.dev/errors"
	"github.com/gammazero/workerpool"
	"golang.org/x/sync/errgroup"
)

// Usage returns the accounted byte usage of a sandbox: the sum of path costs
// and backing file sizes over every live entry. A stale counter triggers a
// full rescan before returning.
func (s *Store) Usage(origin string, st StorageType) (int64, error) {
	sb, err := s.sandbox(origin, st, false)
	if err != nil {
		return 0, err
	}
	if !sb.usageValid {
		if err := sb.recomputeUsage(); err != nil {
			return 0, err
		}
	}
	return sb.used, nil
}

// RecomputeUsage walks the sandbox's database tree, stats every backing file
// and replaces both the cached and the persisted counter with the
// authoritative result.
func (s *Store) RecomputeUsage(origin string, st StorageType) (int64, error) {
	sb, err := s.sandbox(origin, st, false)
	if err != nil {
		return 0, err
	}
	if err := sb.recomputeUsage(); err != nil {
		return 0, err
	}
	return sb.used, nil
}

// recomputeUsage performs the full database and disk scan. Backing file
// stats run on a bounded worker pool so a sandbox with many files does not
// serialize on disk latency. A backing file missing during the scan simply
// contributes zero bytes; the divergence surfaces, and repairs, on the next
// operation that touches the entry.
func (sb *sandbox) recomputeUsage() error {
	var structural int64
	var fileBytes atomic.Int64

	pool := workerpool.New(sb.store.scanWorkers)

	queue := []FileID{RootFileID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		children, err := sb.db.ListChildren(id)
		if err != nil {
			pool.StopWait()
			return errors.WrapIf(err, "store: usage rescan failed to enumerate directory")
		}
		for _, cid := range children {
			info, err := sb.db.GetInfo(cid)
			if err != nil {
				if errors.Is(err, ErrEntryNotFound) {
					continue
				}
				pool.StopWait()
				return errors.WrapIf(err, "store: usage rescan failed to load entry")
			}
			structural += Cost(info.Name)
			if info.IsDirectory() {
				queue = append(queue, cid)
				continue
			}
			host := sb.hostPath(info.DataPath)
			pool.Submit(func() {
				fi, err := sb.store.io.GetFileInfo(host)
				if err != nil {
					if !errors.Is(err, os.ErrNotExist) {
						sb.store.error(err).WithField("path", host).Warn("usage rescan failed to stat backing file")
					}
					return
				}
				if fi.Mode()&os.ModeSymlink == 0 {
					fileBytes.Add(fi.Size())
				}
			})
		}
	}
	pool.StopWait()

	total := structural + fileBytes.Load()
	sb.used = total
	sb.usageValid = true
	if err := sb.store.quota.SetUsage(sb.key.origin, sb.key.storageType, total); err != nil {
		return errors.Wrap(err, "store: failed to persist recomputed usage")
	}
	return nil
}

// AuditOrigins verifies that every origin known to the origin database still
// has its sandbox directory on disk, checking origins in parallel. The first
// missing directory aborts the sweep.
func (s *Store) AuditOrigins(ctx context.Context) error {
	records, err := s.origins.ListAll()
	if err != nil {
		return errors.Wrap(err, "store: failed to list origins")
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range records {
		r := r
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if _, err := s.io.GetFileInfo(filepath.Join(s.root, r.Directory)); err != nil {
				return errors.Wrapf(err, "store: sandbox directory missing for origin %s", r.Origin)
			}
			return nil
		})
	}
	return g.Wait()
}

// DestroyOriginData removes the entire (origin, type) tree: the backing
// files, the directory database and the persisted usage counter. When the
// last storage type of an origin is destroyed the origin mapping itself is
// removed. Destroying a tree that never existed is a no-op.
func (s *Store) DestroyOriginData(origin string, st StorageType) error {
	if origin == "" || !st.Valid() {
		return newStoreError(ErrCodeInvalidOperation, nil, "")
	}
	s.closeSandbox(origin, st)

	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.originDirectory(origin, false)
	if err != nil {
		if IsErrorCode(err, ErrCodeNotFound) {
			return nil
		}
		return err
	}

	p := filepath.Join(s.root, dir, string(st))
	if err := s.io.DeleteTree(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "store: failed to delete sandbox tree")
	}
	if err := s.quota.SetUsage(origin, st, 0); err != nil {
		s.error(err).WithField("origin", origin).Warn("failed to reset usage counter for destroyed sandbox")
	}

	// Drop the origin mapping once no storage type remains on disk.
	for _, other := range []StorageType{StorageTypeTemporary, StorageTypePersistent, StorageTypeSyncable} {
		if other == st {
			continue
		}
		if _, err := s.io.GetFileInfo(filepath.Join(s.root, dir, string(other))); err == nil {
			return nil
		}
	}
	if err := s.io.DeleteTree(filepath.Join(s.root, dir)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "store: failed to delete origin directory")
	}
	if err := s.origins.Remove(origin); err != nil {
		return errors.Wrap(err, "store: failed to remove origin mapping")
	}
	s.originDirs.Delete(origin)
	return nil
}
