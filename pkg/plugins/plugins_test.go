package plugins_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/mapper4go/pkg/db/dbtest"
	"github.com/ammar0144/mapper4go/pkg/events"
	"github.com/ammar0144/mapper4go/pkg/mapping"
	"github.com/ammar0144/mapper4go/pkg/orm"
	"github.com/ammar0144/mapper4go/pkg/plugins"
)

func newManager(t *testing.T, builders ...*mapping.Builder) *orm.Manager {
	t.Helper()
	mgr, err := orm.NewManager(orm.DefaultConfig())
	require.NoError(t, err)
	for _, b := range builders {
		m, err := b.Build()
		require.NoError(t, err)
		_, err = mgr.Register(m.Name(), m)
		require.NoError(t, err)
	}
	return mgr
}

func mapper(t *testing.T, u *orm.UnitOfWork, typeName string) *orm.Mapper {
	t.Helper()
	mp, err := u.Mapper(typeName)
	require.NoError(t, err)
	return mp
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func articleMap() *mapping.Builder {
	return mapping.New("Article").
		Column("id", mapping.Int()).
		Column("title", mapping.String()).
		Timestamps("", "").
		SoftDeletes("")
}

func TestPluginRegisteredAfterFirstMapper(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	mgr := newManager(t, articleMap())
	u := mgr.NewUnitOfWork(dbtest.NewMemory())
	articles := mapper(t, u, "Article")

	require.NoError(t, mgr.RegisterPlugin(plugins.NewTimestamps(mgr, plugins.WithClock(c.Now))))

	a := articles.New()
	a.Set("title", "draft")
	require.NoError(t, articles.Store(ctx, a))
	assert.Equal(t, c.now, a.Time("created_at"))

	fresh := mgr.NewUnitOfWork(dbtest.NewMemory())
	b := mapper(t, fresh, "Article").New()
	b.Set("title", "other")
	require.NoError(t, fresh.Store(ctx, b))
	assert.Equal(t, c.now, b.Time("updated_at"))
}

func TestTimestamps(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	mgr := newManager(t, articleMap())
	require.NoError(t, mgr.RegisterPlugin(plugins.NewTimestamps(mgr, plugins.WithClock(c.Now))))

	mem := dbtest.NewMemory()
	u := mgr.NewUnitOfWork(mem)
	articles := mapper(t, u, "Article")

	var dirty []string
	require.NoError(t, articles.On(events.Updated, func(ctx context.Context, ev *events.Event) error {
		dirty = ev.Dirty
		return nil
	}))

	a := articles.New()
	a.Set("title", "draft")
	require.NoError(t, articles.Store(ctx, a))
	created := c.now
	assert.Equal(t, created, a.Time("created_at"))
	assert.Equal(t, created, a.Time("updated_at"))

	c.now = c.now.Add(time.Hour)
	a.Set("title", "final")
	require.NoError(t, articles.Store(ctx, a))
	assert.Equal(t, created, a.Time("created_at"))
	assert.Equal(t, c.now, a.Time("updated_at"))
	assert.Equal(t, []string{"title", "updated_at"}, dirty)
	assert.Equal(t, c.now, mem.Rows("articles")[0]["updated_at"])

	// nothing changed, nothing stamped
	c.now = c.now.Add(time.Hour)
	require.NoError(t, articles.Store(ctx, a))
	assert.NotEqual(t, c.now, a.Time("updated_at"))
}

func TestTimestampsKeepExplicitCreationTime(t *testing.T) {
	mgr := newManager(t, articleMap())
	require.NoError(t, mgr.RegisterPlugin(plugins.NewTimestamps(mgr)))
	u := mgr.NewUnitOfWork(dbtest.NewMemory())
	articles := mapper(t, u, "Article")

	imported := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	a := articles.New()
	a.Set("title", "archive")
	a.Set("created_at", imported)
	require.NoError(t, articles.Store(context.Background(), a))
	assert.Equal(t, imported, a.Time("created_at"))
	assert.True(t, a.Time("updated_at").After(imported))
}

func TestSoftDeletes(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t, articleMap())
	soft := plugins.NewSoftDeletes(mgr)
	require.NoError(t, mgr.RegisterPlugin(soft))

	var trashed, restored int
	require.NoError(t, mgr.Events().OnAll(plugins.Trashed, func(ctx context.Context, ev *events.Event) error {
		trashed++
		return nil
	}))
	require.NoError(t, mgr.Events().OnAll(plugins.Restored, func(ctx context.Context, ev *events.Event) error {
		restored++
		return nil
	}))

	mem := dbtest.NewMemory()
	u := mgr.NewUnitOfWork(mem)
	articles := mapper(t, u, "Article")

	a := articles.New()
	a.Set("title", "hello")
	require.NoError(t, articles.Store(ctx, a))

	require.NoError(t, articles.Delete(ctx, a))
	require.Len(t, mem.Rows("articles"), 1)
	assert.NotNil(t, mem.Rows("articles")[0]["deleted_at"])
	assert.True(t, plugins.IsTrashed(a))
	assert.Equal(t, 1, trashed)

	_, err := articles.Find(ctx, a.Key())
	assert.True(t, orm.IsNotFound(err))
	found, err := articles.WithTrashed().Find(ctx, a.Key())
	require.NoError(t, err)
	assert.Same(t, a, found)

	other := mgr.NewUnitOfWork(mem)
	all, err := mapper(t, other, "Article").All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	all, err = mapper(t, other, "Article").WithTrashed().All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, soft.Restore(ctx, u, a))
	assert.False(t, plugins.IsTrashed(a))
	assert.Nil(t, mem.Rows("articles")[0]["deleted_at"])
	assert.Equal(t, 1, restored)

	// deleting a trashed entity removes the row
	require.NoError(t, articles.Delete(ctx, a))
	require.NoError(t, articles.Delete(ctx, a))
	assert.Empty(t, mem.Rows("articles"))
	assert.Equal(t, 2, trashed)
}

func TestUUIDKeys(t *testing.T) {
	ctx := context.Background()
	token := mapping.New("Token").
		KeyStrategy(mapping.KeyUUID).
		Column("id", mapping.String()).
		Column("scope", mapping.String())

	bare := newManager(t, token)
	tok := mapper(t, bare.NewUnitOfWork(dbtest.NewMemory()), "Token").New()
	tok.Set("scope", "read")
	err := bare.NewUnitOfWork(dbtest.NewMemory()).Store(ctx, tok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a key")

	mgr := newManager(t, mapping.New("Token").
		KeyStrategy(mapping.KeyUUID).
		Column("id", mapping.String()).
		Column("scope", mapping.String()))
	require.NoError(t, mgr.RegisterPlugin(plugins.NewUUIDKeys(mgr)))
	mem := dbtest.NewMemory()
	u := mgr.NewUnitOfWork(mem)
	tokens := mapper(t, u, "Token")

	tok = tokens.New()
	tok.Set("scope", "read")
	require.NoError(t, tokens.Store(ctx, tok))
	_, err = uuid.Parse(tok.String("id"))
	require.NoError(t, err)
	assert.Equal(t, tok.Key(), mem.Rows("tokens")[0]["id"])

	manual := tokens.New()
	manual.SetKey("fixed")
	manual.Set("scope", "write")
	require.NoError(t, tokens.Store(ctx, manual))
	assert.Equal(t, "fixed", manual.Key())
}

func libraryManager(t *testing.T) *orm.Manager {
	t.Helper()
	mgr := newManager(t,
		mapping.New("Author").
			Column("id", mapping.Int()).
			Column("name", mapping.String()).
			HasMany("books", "Book", "").
			CascadeDelete("books"),
		mapping.New("Book").
			Column("id", mapping.Int()).
			Column("title", mapping.String()).
			Column("author_id", mapping.Int(), mapping.Nullable()).
			Column("publisher_id", mapping.Int(), mapping.Nullable()).
			BelongsTo("publisher", "Publisher", "").
			BelongsToMany("tags", "Tag", "", "", "").
			CascadeDelete("publisher", "tags"),
		mapping.New("Publisher").
			Column("id", mapping.Int()).
			Column("name", mapping.String()),
		mapping.New("Tag").
			Column("id", mapping.Int()).
			Column("name", mapping.String()),
	)
	require.NoError(t, mgr.RegisterPlugin(plugins.NewCascadeDeletes(mgr)))
	return mgr
}

func seedLibrary(mem *dbtest.Memory) {
	mem.Seed("authors", map[string]any{"id": int64(1), "name": "le guin"})
	mem.Seed("publishers", map[string]any{"id": int64(1), "name": "ace"})
	mem.Seed("books",
		map[string]any{"id": int64(1), "title": "a", "author_id": nil, "publisher_id": int64(1)},
		map[string]any{"id": int64(2), "title": "b", "author_id": nil, "publisher_id": int64(1)},
	)
	mem.Seed("tags", map[string]any{"id": int64(1), "name": "x"}, map[string]any{"id": int64(2), "name": "y"})
	mem.Seed("book_tag",
		map[string]any{"book_id": int64(1), "tag_id": int64(1)},
		map[string]any{"book_id": int64(1), "tag_id": int64(2)},
		map[string]any{"book_id": int64(2), "tag_id": int64(2)},
	)
}

func TestCascadeKeepsReferencedEntities(t *testing.T) {
	ctx := context.Background()
	mgr := libraryManager(t)
	mem := dbtest.NewMemory()
	seedLibrary(mem)
	u := mgr.NewUnitOfWork(mem)
	books := mapper(t, u, "Book")

	first, err := books.Find(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, books.Delete(ctx, first))

	// the publisher and tag 2 are still used by book 2
	assert.Len(t, mem.Rows("publishers"), 1)
	tags := mem.Rows("tags")
	require.Len(t, tags, 1)
	assert.Equal(t, int64(2), tags[0]["id"])
	assert.Len(t, mem.Rows("book_tag"), 1)

	second, err := books.Find(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, books.Delete(ctx, second))

	assert.Empty(t, mem.Rows("books"))
	assert.Empty(t, mem.Rows("publishers"))
	assert.Empty(t, mem.Rows("tags"))
	assert.Empty(t, mem.Rows("book_tag"))
	assert.Equal(t, 0, u.Identity().Len())
}

func TestCascadeDeletesChildren(t *testing.T) {
	ctx := context.Background()
	mgr := libraryManager(t)
	mem := dbtest.NewMemory()
	mem.Seed("authors", map[string]any{"id": int64(1), "name": "le guin"})
	mem.Seed("books",
		map[string]any{"id": int64(1), "title": "a", "author_id": int64(1), "publisher_id": nil},
		map[string]any{"id": int64(2), "title": "b", "author_id": int64(1), "publisher_id": nil},
		map[string]any{"id": int64(3), "title": "c", "author_id": int64(2), "publisher_id": nil},
	)
	u := mgr.NewUnitOfWork(mem)
	authors := mapper(t, u, "Author")

	author, err := authors.Find(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, authors.Delete(ctx, author))

	assert.Empty(t, mem.Rows("authors"))
	books := mem.Rows("books")
	require.Len(t, books, 1)
	assert.Equal(t, int64(3), books[0]["id"])

	// children are removed before their owner
	var deletes []string
	for _, c := range mem.Calls() {
		if c.Op == "delete" {
			deletes = append(deletes, c.Table)
		}
	}
	assert.Equal(t, "authors", deletes[len(deletes)-1])
}

func TestCascadeRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	mgr := libraryManager(t)
	mem := dbtest.NewMemory()
	seedLibrary(mem)
	u := mgr.NewUnitOfWork(mem)
	books := mapper(t, u, "Book")

	mem.FailNext("delete", "tags", assert.AnError)
	book, err := books.Find(ctx, 1)
	require.NoError(t, err)

	err = books.Delete(ctx, book)
	require.ErrorIs(t, err, assert.AnError)
	assert.Len(t, mem.Rows("books"), 2)
	assert.Len(t, mem.Rows("book_tag"), 3)
	assert.True(t, u.Identity().IsManaged(book))
}
