package store_test

import (
	"os"
	"testing"
	"time"

	. "github.com/franela/goblin"

	"github.com/veilfs/veilfs/store"
)

func TestStore_CreateOrOpen(t *testing.T) {
	g := Goblin(t)
	e := newEnv()

	g.Describe("CreateOrOpen", func() {
		g.It("fails for a missing file when no create flag is set", func() {
			_, _, err := e.store.CreateOrOpen("http://a.test", temp, "f.txt", os.O_RDONLY)
			g.Assert(store.IsErrorCode(err, store.ErrCodeNotFound)).IsTrue()
		})

		g.It("creates a file when os.O_CREATE is set and charges the path cost", func() {
			f, created, err := e.store.CreateOrOpen("http://a.test", temp, "f.txt", os.O_CREATE|os.O_RDWR)
			g.Assert(err).IsNil()
			g.Assert(created).IsTrue()
			g.Assert(f.Close()).IsNil()

			ok, err := e.store.FileExists("http://a.test", temp, "f.txt")
			g.Assert(err).IsNil()
			g.Assert(ok).IsTrue()
			g.Assert(e.usage("http://a.test")).Equal(store.Cost("f.txt"))
		})

		g.It("opens an existing file without reporting creation", func() {
			f, created, err := e.store.CreateOrOpen("http://a.test", temp, "f.txt", os.O_CREATE|os.O_RDWR)
			g.Assert(err).IsNil()
			g.Assert(created).IsFalse()
			g.Assert(f.Close()).IsNil()
		})

		g.It("fails with the exclusive flag when the file exists", func() {
			_, _, err := e.store.CreateOrOpen("http://a.test", temp, "f.txt", os.O_CREATE|os.O_EXCL|os.O_RDWR)
			g.Assert(store.IsErrorCode(err, store.ErrCodeExists)).IsTrue()
		})

		g.It("fails when the entry is a directory", func() {
			g.Assert(e.store.CreateDirectory("http://a.test", temp, "dir", false, false)).IsNil()
			_, _, err := e.store.CreateOrOpen("http://a.test", temp, "dir", os.O_CREATE|os.O_RDWR)
			g.Assert(store.IsErrorCode(err, store.ErrCodeNotAFile)).IsTrue()
		})

		g.It("fails when the parent directory is missing", func() {
			_, _, err := e.store.CreateOrOpen("http://a.test", temp, "no/such/f.txt", os.O_CREATE|os.O_RDWR)
			g.Assert(store.IsErrorCode(err, store.ErrCodeNotFound)).IsTrue()
		})

		g.It("credits the freed bytes back when truncating on open", func() {
			g.Assert(e.store.Truncate("http://a.test", temp, "f.txt", 100)).IsNil()
			before := e.usage("http://a.test")

			f, created, err := e.store.CreateOrOpen("http://a.test", temp, "f.txt", os.O_CREATE|os.O_TRUNC|os.O_RDWR)
			g.Assert(err).IsNil()
			g.Assert(created).IsFalse()
			g.Assert(f.Close()).IsNil()

			g.Assert(e.usage("http://a.test")).Equal(before - 100)
			fi, err := e.store.GetFileInfo("http://a.test", temp, "f.txt")
			g.Assert(err).IsNil()
			g.Assert(fi.Size).Equal(int64(0))
		})

		g.It("round-trips content written through the handle", func() {
			e.write("http://a.test", "content.txt", "hello world")
			b, err := os.ReadFile(e.backing("http://a.test", "content.txt"))
			g.Assert(err).IsNil()
			g.Assert(string(b)).Equal("hello world")
		})
	})
}

func TestStore_EnsureFileExists(t *testing.T) {
	g := Goblin(t)
	e := newEnv()

	g.Describe("EnsureFileExists", func() {
		g.It("creates the file on the first call", func() {
			created, err := e.store.EnsureFileExists("http://b.test", temp, "f")
			g.Assert(err).IsNil()
			g.Assert(created).IsTrue()
		})

		g.It("is idempotent with no size change on the second call", func() {
			created, err := e.store.EnsureFileExists("http://b.test", temp, "f")
			g.Assert(err).IsNil()
			g.Assert(created).IsFalse()

			fi, err := e.store.GetFileInfo("http://b.test", temp, "f")
			g.Assert(err).IsNil()
			g.Assert(fi.Size).Equal(int64(0))
			g.Assert(e.usage("http://b.test")).Equal(store.Cost("f"))
		})

		g.It("fails when the entry is a directory", func() {
			g.Assert(e.store.CreateDirectory("http://b.test", temp, "d", false, false)).IsNil()
			_, err := e.store.EnsureFileExists("http://b.test", temp, "d")
			g.Assert(store.IsErrorCode(err, store.ErrCodeNotAFile)).IsTrue()
		})
	})
}

func TestStore_Truncate(t *testing.T) {
	g := Goblin(t)
	e := newEnv()
	origin := "http://c.test"

	g.Describe("Truncate", func() {
		g.It("charges exactly the size delta", func() {
			_, err := e.store.EnsureFileExists(origin, temp, "f")
			g.Assert(err).IsNil()
			before := e.usage(origin)

			g.Assert(e.store.Truncate(origin, temp, "f", 100)).IsNil()
			g.Assert(e.usage(origin)).Equal(before + 100)
		})

		g.It("is a zero-growth no-op when repeated with the same length", func() {
			before := e.usage(origin)
			g.Assert(e.store.Truncate(origin, temp, "f", 100)).IsNil()
			g.Assert(e.usage(origin)).Equal(before)

			fi, err := e.store.GetFileInfo(origin, temp, "f")
			g.Assert(err).IsNil()
			g.Assert(fi.Size).Equal(int64(100))
		})

		g.It("fails with NoSpace when growth exceeds the limit, changing nothing", func() {
			e.store.SetQuotaLimit(origin, temp, e.usage(origin)+10)
			before := e.usage(origin)

			err := e.store.Truncate(origin, temp, "f", 5000)
			g.Assert(store.IsErrorCode(err, store.ErrCodeNoSpace)).IsTrue()
			g.Assert(e.usage(origin)).Equal(before)

			fi, err := e.store.GetFileInfo(origin, temp, "f")
			g.Assert(err).IsNil()
			g.Assert(fi.Size).Equal(int64(100))
			e.store.SetQuotaLimit(origin, temp, 0)
		})

		g.It("shrinking frees quota", func() {
			before := e.usage(origin)
			g.Assert(e.store.Truncate(origin, temp, "f", 40)).IsNil()
			g.Assert(e.usage(origin)).Equal(before - 60)
		})

		g.It("fails on a directory", func() {
			g.Assert(e.store.CreateDirectory(origin, temp, "d", false, false)).IsNil()
			err := e.store.Truncate(origin, temp, "d", 10)
			g.Assert(store.IsErrorCode(err, store.ErrCodeNotAFile)).IsTrue()
		})
	})
}

func TestStore_Touch(t *testing.T) {
	g := Goblin(t)
	e := newEnv()
	origin := "http://d.test"

	g.Describe("Touch", func() {
		g.It("forwards both timestamps to a file's backing file", func() {
			_, err := e.store.EnsureFileExists(origin, temp, "f")
			g.Assert(err).IsNil()

			mtime := time.Date(2020, 3, 4, 5, 6, 7, 0, time.UTC)
			g.Assert(e.store.Touch(origin, temp, "f", mtime, mtime)).IsNil()

			fi, err := e.store.GetFileInfo(origin, temp, "f")
			g.Assert(err).IsNil()
			g.Assert(fi.ModTime.Equal(mtime)).IsTrue()
		})

		g.It("updates only the database mtime for a directory", func() {
			g.Assert(e.store.CreateDirectory(origin, temp, "d", false, false)).IsNil()

			mtime := time.Date(2021, 7, 8, 9, 10, 11, 0, time.UTC)
			g.Assert(e.store.Touch(origin, temp, "d", time.Time{}, mtime)).IsNil()

			fi, err := e.store.GetFileInfo(origin, temp, "d")
			g.Assert(err).IsNil()
			g.Assert(fi.ModTime.Equal(mtime)).IsTrue()
		})

		g.It("fails for a missing path", func() {
			err := e.store.Touch(origin, temp, "nope", time.Now(), time.Now())
			g.Assert(store.IsErrorCode(err, store.ErrCodeNotFound)).IsTrue()
		})
	})
}

func TestStore_DeleteFile(t *testing.T) {
	g := Goblin(t)
	e := newEnv()
	origin := "http://e.test"

	g.Describe("DeleteFile", func() {
		g.It("fails for a path that was never created", func() {
			err := e.store.DeleteFile(origin, temp, "nope")
			g.Assert(store.IsErrorCode(err, store.ErrCodeNotFound)).IsTrue()
		})

		g.It("treats deletion of a directory as a caller bug", func() {
			g.Assert(e.store.CreateDirectory(origin, temp, "d", false, false)).IsNil()
			err := e.store.DeleteFile(origin, temp, "d")
			g.Assert(store.IsErrorCode(err, store.ErrCodeFailed)).IsTrue()
		})

		g.It("removes the entry, credits the quota and deletes the backing file", func() {
			_, err := e.store.EnsureFileExists(origin, temp, "f")
			g.Assert(err).IsNil()
			g.Assert(e.store.Truncate(origin, temp, "f", 100)).IsNil()
			backing := e.backing(origin, "f")
			before := e.usage(origin)

			g.Assert(e.store.DeleteFile(origin, temp, "f")).IsNil()
			g.Assert(e.usage(origin)).Equal(before - 100 - store.Cost("f"))

			_, err = e.store.GetFileInfo(origin, temp, "f")
			g.Assert(store.IsErrorCode(err, store.ErrCodeNotFound)).IsTrue()

			_, err = os.Lstat(backing)
			g.Assert(os.IsNotExist(err)).IsTrue()
		})
	})
}

func TestStore_SandboxLifecycle(t *testing.T) {
	g := Goblin(t)
	e := newEnv()

	g.Describe("CloseIdle", func() {
		g.It("releases only handles idle past the cutoff", func() {
			_, err := e.store.EnsureFileExists("http://idle.test", temp, "f")
			g.Assert(err).IsNil()
			_, err = e.store.EnsureFileExists("http://busy.test", temp, "f")
			g.Assert(err).IsNil()

			e.now = e.now.Add(10 * time.Minute)
			_, err = e.store.EnsureFileExists("http://busy.test", temp, "g")
			g.Assert(err).IsNil()

			g.Assert(e.store.CloseIdle(5 * time.Minute)).Equal(1)

			// A closed handle reopens transparently on the next call.
			ok, err := e.store.FileExists("http://idle.test", temp, "f")
			g.Assert(err).IsNil()
			g.Assert(ok).IsTrue()
		})
	})

	g.Describe("Close", func() {
		g.It("releases every handle and stays usable", func() {
			g.Assert(e.store.Close()).IsNil()
			ok, err := e.store.FileExists("http://busy.test", temp, "g")
			g.Assert(err).IsNil()
			g.Assert(ok).IsTrue()
		})
	})

	g.Describe("DestroyOriginData", func() {
		g.It("removes the tree, its usage and the origin mapping", func() {
			g.Assert(e.store.DestroyOriginData("http://idle.test", temp)).IsNil()

			ok, err := e.store.PathExists("http://idle.test", temp, "f")
			g.Assert(err).IsNil()
			g.Assert(ok).IsFalse()

			has, err := e.db.Has("http://idle.test")
			g.Assert(err).IsNil()
			g.Assert(has).IsFalse()
		})

		g.It("is a no-op for an origin that never existed", func() {
			g.Assert(e.store.DestroyOriginData("http://ghost.test", temp)).IsNil()
		})
	})
}
