package mapping

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userMap(t *testing.T) *EntityMap {
	t.Helper()
	m, err := New("User").
		Column("id", Int()).
		Column("email", String()).
		Column("role_id", Int(), Nullable()).
		Column("nickname", String(), ColumnName("nick"), Nullable()).
		BelongsTo("role", "Role", "").
		HasMany("posts", "Post", "").
		BelongsToMany("groups", "Group", "", "", "").
		Timestamps("", "").
		CascadeDelete("posts").
		Build()
	require.NoError(t, err)
	return m
}

func TestBuildDefaults(t *testing.T) {
	m := userMap(t)

	assert.Equal(t, "users", m.Table())
	assert.Equal(t, "id", m.KeyName())
	assert.Equal(t, "id", m.KeyColumn())
	assert.Equal(t, KeyAutoIncrement, m.KeyStrategy())
	assert.Equal(t, "nick", m.ColumnFor("nickname"))
	attr, ok := m.AttributeFor("nick")
	require.True(t, ok)
	assert.Equal(t, "nickname", attr)

	role, ok := m.Relation("role")
	require.True(t, ok)
	assert.Equal(t, BelongsTo, role.Kind)
	assert.Equal(t, "role_id", role.ForeignKey)

	posts, _ := m.Relation("posts")
	assert.Equal(t, "user_id", posts.ForeignKey)
	assert.True(t, posts.IsToMany())

	groups, _ := m.Relation("groups")
	assert.Equal(t, "group_user", groups.Pivot)
	assert.Equal(t, "user_id", groups.PivotForeignKey)
	assert.Equal(t, "group_id", groups.PivotRelatedKey)

	assert.True(t, m.HasTimestamps())
	created, ok := m.Column("created_at")
	require.True(t, ok, "timestamp columns are added when undeclared")
	assert.True(t, created.Nullable)
	assert.Equal(t, []string{"posts"}, m.CascadeDeletes())
	assert.Equal(t, []string{"role", "posts", "groups"}, relationNames(m))
}

func relationNames(m *EntityMap) []string {
	var names []string
	for _, r := range m.Relations() {
		names = append(names, r.Name)
	}
	return names
}

func TestBuildRejectsInvalidMaps(t *testing.T) {
	tests := []struct {
		name    string
		builder *Builder
	}{
		{"missing key column", New("Tag").Column("label", String())},
		{"relation collides with attribute", New("Tag").Column("id", Int()).Column("owner", Int()).BelongsTo("owner", "User", "owner")},
		{"belongs-to foreign key undeclared", New("Tag").Column("id", Int()).BelongsTo("owner", "User", "")},
		{"duplicate attribute", New("Tag").Column("id", Int()).Column("id", String())},
		{"cascade on unknown relation", New("Tag").Column("id", Int()).CascadeDelete("nothing")},
		{"invalid type name", New("not a type").Column("id", Int())},
		{"identical pivot keys", New("Tag").Column("id", Int()).BelongsToMany("tags", "Tag", "", "", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build()
			require.Error(t, err)
			assert.True(t, IsMappingError(err))
		})
	}
}

func TestRegistryStrictMode(t *testing.T) {
	strict := NewRegistry(true)
	_, err := strict.Register("Invoice")
	require.Error(t, err)
	assert.True(t, IsEntityMapNotFound(err))
	var notFound *EntityMapNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "Invoice", notFound.TypeName)

	lenient := NewRegistry(false)
	m, err := lenient.Register("Invoice")
	require.NoError(t, err)
	assert.True(t, m.IsDynamic())
	assert.Equal(t, "invoices", m.Table())
}

func TestRegistryConventionalDefinition(t *testing.T) {
	r := NewRegistry(true)
	m := userMap(t)
	require.NoError(t, r.Define("UserMap", m))

	got, err := r.Register("User")
	require.NoError(t, err)
	assert.Same(t, m, got)

	again, err := r.Lookup("User")
	require.NoError(t, err)
	assert.Same(t, m, again)
	assert.Equal(t, []string{"User"}, r.Names())
}

func TestRegistryRejectsAmbiguousMaps(t *testing.T) {
	r := NewRegistry(false)
	first := userMap(t)
	second := userMap(t)

	_, err := r.Register("User", first)
	require.NoError(t, err)
	_, err = r.Register("User", second)
	assert.True(t, IsMappingError(err))

	_, err = r.Register("Account", first)
	assert.True(t, IsMappingError(err), "map name must match the registered type")

	_, err = r.Register("")
	assert.True(t, IsMappingError(err))
}

func TestRegistryCheckRelations(t *testing.T) {
	r := NewRegistry(true)
	owner, err := New("Author").Column("id", Int()).HasMany("books", "Book", "").Build()
	require.NoError(t, err)
	_, err = r.Register("Author", owner)
	require.NoError(t, err)

	err = r.Check("Author")
	require.Error(t, err, "related type is not registered")

	book, err := New("Book").Column("id", Int()).Column("title", String()).Build()
	require.NoError(t, err)
	_, err = r.Register("Book", book)
	require.NoError(t, err)
	err = r.Check("Author")
	require.Error(t, err, "author_id is not a Book column")
	assert.True(t, IsMappingError(err))

	r2 := NewRegistry(true)
	book2, err := New("Book").Column("id", Int()).Column("author_id", Int()).Build()
	require.NoError(t, err)
	_, _ = r2.Register("Author", owner)
	_, _ = r2.Register("Book", book2)
	assert.NoError(t, r2.Check("Author"))
}

func TestCasters(t *testing.T) {
	v, err := Int().FromStore([]byte("42"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	_, err = Int().FromStore(1.5)
	assert.Error(t, err)

	v, err = Bool().FromStore(int64(1))
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = Time().FromStore("2024-03-01 10:30:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC), v)

	v, err = JSON().FromStore(`{"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, v)
	out, err := JSON().ToStore(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out)

	packed, err := Msgpack().ToStore("hello")
	require.NoError(t, err)
	v, err = Msgpack().FromStore(packed)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	for _, c := range []Caster{Raw(), Int(), Float(), String(), Bool(), Time(), JSON(), Msgpack()} {
		v, err := c.FromStore(nil)
		assert.NoError(t, err)
		assert.Nil(t, v)
	}
}
