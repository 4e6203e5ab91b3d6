package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/mapper4go/pkg/db"
	"github.com/ammar0144/mapper4go/pkg/db/dbtest"
	"github.com/ammar0144/mapper4go/pkg/entity"
	"github.com/ammar0144/mapper4go/pkg/mapping"
	"github.com/ammar0144/mapper4go/pkg/orm"
)

type User struct{ *entity.Entity }

func (u User) Email() string     { return u.String("email") }
func (u User) SetEmail(v string) { u.Set("email", v) }

func wrapUser(e *entity.Entity) User { return User{e} }

func newUnit(t *testing.T) (*orm.UnitOfWork, *dbtest.Memory) {
	t.Helper()
	mgr, err := orm.NewManager(orm.DefaultConfig())
	require.NoError(t, err)
	for _, b := range []*mapping.Builder{
		mapping.New("User").
			Column("id", mapping.Int()).
			Column("email", mapping.String()).
			Column("active", mapping.Bool()),
		mapping.New("Role").
			Column("id", mapping.Int()).
			Column("name", mapping.String()),
	} {
		m, err := b.Build()
		require.NoError(t, err)
		_, err = mgr.Register(m.Name(), m)
		require.NoError(t, err)
	}
	mem := dbtest.NewMemory()
	return mgr.NewUnitOfWork(mem), mem
}

func newUsers(t *testing.T) (*GenericRepository[User], *dbtest.Memory) {
	t.Helper()
	u, mem := newUnit(t)
	repo, err := For(u, "User", wrapUser)
	require.NoError(t, err)
	return repo, mem
}

func TestCreateAndFind(t *testing.T) {
	ctx := context.Background()
	users, mem := newUsers(t)

	ada := users.New()
	ada.SetEmail("ada@example.com")
	ada.Set("active", true)
	require.NoError(t, users.Create(ctx, ada))
	require.Len(t, mem.Rows("users"), 1)

	found, err := users.FindByID(ctx, ada.Key())
	require.NoError(t, err)
	assert.Same(t, ada.Entity, found.Entity)
	assert.Equal(t, "ada@example.com", found.Email())

	err = users.Create(ctx, ada)
	assert.ErrorIs(t, err, ErrAlreadyStored)

	ok, err := users.Exists(ctx, ada.Key())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = users.Exists(ctx, int64(99))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = users.FindByID(ctx, int64(99))
	assert.True(t, orm.IsNotFound(err))
	_, err = users.FindByID(ctx, nil)
	assert.Error(t, err)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	users, mem := newUsers(t)
	mem.Seed("users", map[string]any{"id": int64(1), "email": "ada@example.com", "active": int64(1)})

	fresh := users.New()
	fresh.SetEmail("grace@example.com")
	assert.ErrorIs(t, users.Update(ctx, fresh), ErrNotStored)

	ada, err := users.FindByID(ctx, int64(1))
	require.NoError(t, err)
	ada.SetEmail("lovelace@example.com")
	require.NoError(t, users.Update(ctx, ada))
	assert.Equal(t, "lovelace@example.com", mem.Rows("users")[0]["email"])
	assert.Equal(t, 1, mem.Count("update", "users"))
}

func TestUpdateRecordFromAnotherUnit(t *testing.T) {
	ctx := context.Background()
	u, mem := newUnit(t)
	mem.Seed("users", map[string]any{"id": int64(1), "email": "ada@example.com", "active": int64(1)})
	first, err := For(u, "User", wrapUser)
	require.NoError(t, err)
	ada, err := first.FindByID(ctx, int64(1))
	require.NoError(t, err)

	second, err := For(u.Manager().NewUnitOfWork(mem), "User", wrapUser)
	require.NoError(t, err)
	assert.ErrorIs(t, second.Create(ctx, ada), ErrAlreadyStored)

	ada.SetEmail("lovelace@example.com")
	require.NoError(t, second.Update(ctx, ada))
	assert.Equal(t, 0, mem.Count("insert", "users"))
	rows := mem.Rows("users")
	require.Len(t, rows, 1)
	assert.Equal(t, "lovelace@example.com", rows[0]["email"])
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	users, mem := newUsers(t)
	mem.Seed("users",
		map[string]any{"id": int64(1), "email": "ada@example.com", "active": int64(1)},
		map[string]any{"id": int64(2), "email": "alan@example.com", "active": int64(0)},
		map[string]any{"id": int64(3), "email": "grace@example.com", "active": int64(1)},
	)

	all, err := users.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	active, err := users.FindWhere(ctx, db.Eq("active", int64(1)))
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "ada@example.com", active[0].Email())

	n, err := users.Count(ctx, db.Eq("active", int64(0)))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	first, err := users.First(ctx, db.Eq("email", "grace@example.com"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), first.Key())
	// rows already loaded map to the same instances
	assert.Same(t, all[2].Entity, first.Entity)

	_, err = users.First(ctx, db.Eq("email", "nobody@example.com"))
	assert.True(t, orm.IsNotFound(err))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	users, mem := newUsers(t)
	mem.Seed("users", map[string]any{"id": int64(1), "email": "ada@example.com", "active": int64(1)})

	ada, err := users.FindByID(ctx, int64(1))
	require.NoError(t, err)
	require.NoError(t, users.Delete(ctx, ada))
	assert.Empty(t, mem.Rows("users"))

	assert.ErrorIs(t, users.Delete(ctx, User{}), ErrNilRecord)
}

func TestBatchesShareOneTransaction(t *testing.T) {
	ctx := context.Background()
	u, mem := newUnit(t)
	users, err := For(u, "User", wrapUser)
	require.NoError(t, err)

	a, b := users.New(), users.New()
	a.SetEmail("a@example.com")
	b.SetEmail("b@example.com")
	require.NoError(t, users.CreateBatch(ctx, []User{a, b}))
	assert.Len(t, mem.Rows("users"), 2)
	assert.Equal(t, 1, mem.Count("begin", ""))
	assert.Equal(t, 1, mem.Count("commit", ""))

	a.SetEmail("a2@example.com")
	b.SetEmail("b2@example.com")
	require.NoError(t, users.UpdateBatch(ctx, []User{a, b}))
	assert.Equal(t, 2, mem.Count("update", "users"))

	// a role slipped into a user batch fails the whole batch
	roles, err := For(u, "Role", Entities)
	require.NoError(t, err)
	c := users.New()
	c.SetEmail("c@example.com")
	err = users.CreateBatch(ctx, []User{c, wrapUser(roles.New())})
	require.Error(t, err)
	var mismatch *orm.TypeMismatchError
	assert.ErrorAs(t, err, &mismatch)
	assert.Len(t, mem.Rows("users"), 2)
	assert.False(t, c.HasKey())
}

func TestNilRecords(t *testing.T) {
	u, _ := newUnit(t)
	plain, err := For(u, "User", Entities)
	require.NoError(t, err)
	var missing *entity.Entity
	assert.ErrorIs(t, plain.Create(context.Background(), missing), ErrNilRecord)
	assert.NoError(t, plain.CreateBatch(context.Background(), nil))
}
