package store

import (
	"strconv"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/goccy/go-json"
)

// SnapshotPolicy describes how the caller must treat a snapshot's host path.
// A local backing store hands out the live backing file directly, so no
// temporary materialization is needed and nothing has to be cleaned up.
type SnapshotPolicy string

const SnapshotPolicyLocal SnapshotPolicy = "local"

// SnapshotFile is a point-in-time view of a virtual file together with the
// host path its bytes can be read from.
type SnapshotFile struct {
	Info     EntryInfo
	Path     string
	Policy   SnapshotPolicy
	Mimetype string
}

func (sf *SnapshotFile) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name     string `json:"name"`
		Size     string `json:"size"`
		Modified string `json:"modified"`
		Path     string `json:"path"`
		Policy   string `json:"policy"`
		Mime     string `json:"mime"`
	}{
		Name:     sf.Info.Name,
		Size:     strconv.FormatInt(sf.Info.Size, 10),
		Modified: sf.Info.ModTime.Format(time.RFC3339),
		Path:     sf.Path,
		Policy:   string(sf.Policy),
		Mime:     sf.Mimetype,
	})
}

// CreateSnapshotFile returns the live backing file of the virtual file at p
// under the "local" policy. Mimetype detection failures are not fatal; the
// snapshot falls back to an opaque byte stream type.
func (s *Store) CreateSnapshotFile(origin string, st StorageType, p string) (*SnapshotFile, error) {
	sb, err := s.sandbox(origin, st, false)
	if err != nil {
		return nil, err
	}
	id, info, err := sb.resolve(p)
	if err != nil {
		return nil, err
	}
	if info.IsDirectory() {
		return nil, newStoreError(ErrCodeNotAFile, nil, p)
	}
	fi, err := sb.verifyBacking(id, info, p)
	if err != nil {
		return nil, err
	}

	host := sb.hostPath(info.DataPath)
	mime := "application/octet-stream"
	if m, err := mimetype.DetectFile(host); err == nil {
		mime = m.String()
	}

	return &SnapshotFile{
		Info:     EntryInfo{Name: info.Name, Size: fi.Size(), ModTime: fi.ModTime()},
		Path:     host,
		Policy:   SnapshotPolicyLocal,
		Mimetype: mime,
	}, nil
}
