package store

// Creating a virtual path component charges a flat bookkeeping overhead plus
// a per-byte charge for the UTF-8 encoded name. The constants are part of the
// persisted accounting contract and must never change for live stores.
const (
	costPerPathComponent int64 = 146
	costPerPathByte      int64 = 2
)

// Cost returns the quota charge for creating a single virtual path component
// with the given name, independent of any file content.
func Cost(name string) int64 {
	return costPerPathComponent + costPerPathByte*int64(len(name))
}

// allocate verifies that a signed usage delta fits within the sandbox quota
// without applying it. Negative and zero growth always succeeds. A limit of
// zero means the sandbox is unbounded.
func (sb *sandbox) allocate(growth int64) error {
	if growth <= 0 || sb.limit == 0 {
		return nil
	}
	if sb.used+growth > sb.limit {
		return newStoreError(ErrCodeNoSpace, nil, "")
	}
	return nil
}

// commit applies a previously allocated delta to the cached usage and
// forwards it to the persisted counter. Failures to persist are logged and
// the in-memory counter is marked dirty; they never fail the operation that
// already completed its I/O.
func (sb *sandbox) commit(growth int64) {
	if growth == 0 {
		return
	}
	sb.used += growth
	if err := sb.store.quota.UpdateUsage(sb.key.origin, sb.key.storageType, growth); err != nil {
		sb.store.error(err).WithField("origin", sb.key.origin).Warn("failed to persist usage delta, invalidating counter")
		sb.invalidateUsage()
	}
}

// invalidateUsage marks both the cached and the persisted counter stale. The
// next usage query for this sandbox triggers a full rescan.
func (sb *sandbox) invalidateUsage() {
	sb.usageValid = false
	if err := sb.store.quota.InvalidateUsage(sb.key.origin, sb.key.storageType); err != nil {
		sb.store.error(err).WithField("origin", sb.key.origin).Warn("failed to invalidate persisted usage counter")
	}
}
