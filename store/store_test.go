package store_test

import (
	"os"
	"path/filepath"
	"time"

	"github.com/veilfs/veilfs/config"
	"github.com/veilfs/veilfs/internal/database"
	"github.com/veilfs/veilfs/internal/dirdb"
	"github.com/veilfs/veilfs/store"
)

const temp = store.StorageTypeTemporary

// testEnv wires a Store against the real SQLite collaborators inside a
// throwaway temp directory, with a caller-controlled clock.
type testEnv struct {
	store *store.Store
	db    *database.Database
	tmp   string
	now   time.Time
}

func newEnv() *testEnv {
	tmp, err := os.MkdirTemp(os.TempDir(), "veilfs")
	if err != nil {
		panic(err)
	}

	config.Set(&config.Configuration{
		System: config.SystemConfiguration{
			RootDirectory:         filepath.Join(tmp, "data"),
			OriginDatabaseName:    "origins.db",
			DirectoryDatabaseName: "paths.db",
			SandboxIdleSeconds:    300,
			UsageScanWorkers:      2,
		},
	})

	db, err := database.Open(filepath.Join(tmp, "origins.db"))
	if err != nil {
		panic(err)
	}

	env := &testEnv{db: db, tmp: tmp, now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	s, err := store.New(store.Options{
		Origins: db,
		FileIO:  store.LocalFileIO{},
		Quota:   db,
		OpenDirectoryDatabase: func(p string) (store.DirectoryDatabase, error) {
			return dirdb.Open(p)
		},
		Clock: func() time.Time { return env.now },
	})
	if err != nil {
		panic(err)
	}
	env.store = s
	return env
}

// usage returns the accounted usage for an origin's temporary tree.
func (e *testEnv) usage(origin string) int64 {
	u, err := e.store.Usage(origin, temp)
	if err != nil {
		panic(err)
	}
	return u
}

// backing returns the host path of a virtual file's backing file.
func (e *testEnv) backing(origin, p string) string {
	sf, err := e.store.CreateSnapshotFile(origin, temp, p)
	if err != nil {
		panic(err)
	}
	return sf.Path
}

// write puts content into a virtual file through an open handle, creating
// the file if needed. Raw handle writes bypass quota accounting the same
// way an external stream writer would, so usage assertions around this
// helper go through RecomputeUsage.
func (e *testEnv) write(origin, p, content string) {
	f, _, err := e.store.CreateOrOpen(origin, temp, p, os.O_CREATE|os.O_RDWR)
	if err != nil {
		panic(err)
	}
	if _, err := f.WriteString(content); err != nil {
		panic(err)
	}
	if err := f.Close(); err != nil {
		panic(err)
	}
}
