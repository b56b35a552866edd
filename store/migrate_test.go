package store_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/franela/goblin"

	"github.com/veilfs/veilfs/store"
)

func TestStore_MigrateFromOldSandbox(t *testing.T) {
	g := Goblin(t)
	e := newEnv()
	origin := "http://migrate.test"

	legacy := filepath.Join(e.tmp, "legacy-tree")
	g.Assert(os.MkdirAll(filepath.Join(legacy, "docs", "sub"), 0o755)).IsNil()
	g.Assert(os.WriteFile(filepath.Join(legacy, "top.txt"), []byte("hello"), 0o644)).IsNil()
	g.Assert(os.WriteFile(filepath.Join(legacy, "docs", "a.txt"), []byte("aaaa"), 0o644)).IsNil()
	g.Assert(os.WriteFile(filepath.Join(legacy, "docs", "sub", "b.txt"), []byte("bb"), 0o644)).IsNil()

	g.Describe("MigrateFromOldSandbox", func() {
		g.It("destroys whatever the tree held before", func() {
			_, err := e.store.EnsureFileExists(origin, temp, "pre-existing.txt")
			g.Assert(err).IsNil()

			g.Assert(e.store.MigrateFromOldSandbox(origin, temp, legacy)).IsNil()

			ok, err := e.store.PathExists(origin, temp, "pre-existing.txt")
			g.Assert(err).IsNil()
			g.Assert(ok).IsFalse()
		})

		g.It("consumes the legacy root", func() {
			_, err := os.Lstat(legacy)
			g.Assert(os.IsNotExist(err)).IsTrue()
		})

		g.It("imports the full tree with its contents", func() {
			ok, err := e.store.DirectoryExists(origin, temp, "docs/sub")
			g.Assert(err).IsNil()
			g.Assert(ok).IsTrue()

			entries, err := e.store.ReadDirectory(origin, temp, "")
			g.Assert(err).IsNil()
			g.Assert(len(entries)).Equal(2)

			b, err := os.ReadFile(e.backing(origin, "docs/sub/b.txt"))
			g.Assert(err).IsNil()
			g.Assert(string(b)).Equal("bb")
		})

		g.It("keeps migrated backing files under the legacy data directory", func() {
			p := e.backing(origin, "top.txt")
			g.Assert(strings.Contains(p, string(filepath.Separator)+"legacy"+string(filepath.Separator))).IsTrue()
		})

		g.It("settles the usage counter by rescan", func() {
			recomputed, err := e.store.RecomputeUsage(origin, temp)
			g.Assert(err).IsNil()
			g.Assert(e.usage(origin)).Equal(recomputed)
			g.Assert(recomputed > 5+4+2).IsTrue()
		})

		g.It("fails cleanly when the legacy root does not exist", func() {
			err := e.store.MigrateFromOldSandbox(origin, temp, filepath.Join(e.tmp, "nope"))
			g.Assert(store.IsErrorCode(err, store.ErrCodeNotFound)).IsTrue()
		})
	})
}
