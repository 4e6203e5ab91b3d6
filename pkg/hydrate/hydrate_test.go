package hydrate

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/mapper4go/pkg/entity"
	"github.com/ammar0144/mapper4go/pkg/mapping"
)

type address struct {
	Street string
	City   string
}

var addressCodec = mapping.CodecFuncs{
	ComposeFunc: func(f map[string]any) (any, error) {
		street, _ := f["street"].(string)
		city, _ := f["city"].(string)
		return address{Street: street, City: city}, nil
	},
	DecomposeFunc: func(v any) (map[string]any, error) {
		a, ok := v.(address)
		if !ok {
			return nil, fmt.Errorf("not an address: %T", v)
		}
		return map[string]any{"street": a.Street, "city": a.City}, nil
	},
}

func customerMap(t *testing.T) *mapping.EntityMap {
	t.Helper()
	m, err := mapping.New("Customer").
		Column("id", mapping.Int()).
		Column("name", mapping.String()).
		Column("vip", mapping.Bool(), mapping.Nullable()).
		Column("joined", mapping.Time(), mapping.ColumnName("joined_at"), mapping.Nullable()).
		Column("group_id", mapping.Int(), mapping.Nullable()).
		Embed("address", addressCodec, "street", "city").
		BelongsTo("group", "Group", "").
		Build()
	require.NoError(t, err)
	return m
}

func TestHydrate(t *testing.T) {
	m := customerMap(t)
	joined := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	e, err := Hydrate(m, Row{
		"id":             int64(7),
		"name":           []byte("Ada"),
		"vip":            int64(1),
		"joined_at":      joined,
		"group_id":       nil,
		"address_street": "Main St",
		"address_city":   "Springfield",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(7), e.Key())
	assert.Equal(t, "Ada", e.String("name"))
	assert.True(t, e.Bool("vip"))
	assert.Equal(t, joined, e.Time("joined"))
	assert.Nil(t, e.Get("group_id"), "NULL hydrates to nil")
	assert.Equal(t, address{Street: "Main St", City: "Springfield"}, e.Get("address"))
	assert.Equal(t, entity.Unresolved, e.RelationState("group"))
}

func TestHydrateMissingColumns(t *testing.T) {
	m := customerMap(t)

	e, err := Hydrate(m, Row{"id": int64(1), "name": "Bob"})
	require.NoError(t, err)
	assert.True(t, entity.IsAbsent(e.Get("vip")))
	assert.True(t, entity.IsAbsent(e.Get("address")))

	_, err = Hydrate(m, Row{"id": int64(1)})
	require.Error(t, err)
	var herr *HydrationError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, "name", herr.Attribute)

	_, err = Hydrate(m, Row{"id": "nope", "name": "Bob"})
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	m := customerMap(t)
	rows := []Row{
		{
			"id":             int64(1),
			"name":           "Ada",
			"vip":            true,
			"joined_at":      time.Date(2023, 5, 6, 7, 8, 9, 0, time.UTC),
			"group_id":       int64(4),
			"address_street": "Main St",
			"address_city":   "Springfield",
		},
		{
			"id":             int64(2),
			"name":           "Bob",
			"group_id":       nil,
			"address_street": nil,
			"address_city":   nil,
		},
		{"id": int64(3), "name": "Cy"},
	}
	for i, row := range rows {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			e, err := Hydrate(m, row)
			require.NoError(t, err)
			out, err := Dehydrate(e)
			require.NoError(t, err)
			assert.Equal(t, row, out)
		})
	}
}

func TestDehydrateSkipsRelationsAndAbsent(t *testing.T) {
	m := customerMap(t)
	e := entity.New(m)
	e.Set("name", "Dee")
	e.Set("vip", entity.Absent)
	require.NoError(t, e.SetRelated("group", entity.New(m)))

	out, err := Dehydrate(e)
	require.NoError(t, err)
	assert.Equal(t, Row{"name": "Dee"}, out)
}

func TestDynamicMapPassesColumnsThrough(t *testing.T) {
	m, err := mapping.NewRegistry(false).Register("AuditLog")
	require.NoError(t, err)

	row := Row{"id": int64(9), "action": "login", "payload": []byte("{}")}
	e, err := Hydrate(m, row)
	require.NoError(t, err)
	assert.Equal(t, "login", e.String("action"))

	out, err := Dehydrate(e)
	require.NoError(t, err)
	assert.Equal(t, row, out)
}

func TestColumnsExpandsEmbeds(t *testing.T) {
	m := customerMap(t)
	e := entity.New(m)
	e.Set("name", "Eve")
	e.Set("address", address{Street: "Elm", City: "Oslo"})

	snap, err := Snapshot(e)
	require.NoError(t, err)
	out := Columns(m, snap, []string{"address", "joined"})
	assert.Equal(t, Row{"address_street": "Elm", "address_city": "Oslo"}, out)
}

func TestEqual(t *testing.T) {
	a := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := a.In(time.FixedZone("X", 3600))

	assert.True(t, Equal(a, b))
	assert.True(t, Equal([]byte("x"), []byte("x")))
	assert.False(t, Equal([]byte("x"), "x"))
	assert.True(t, Equal(map[string]any{"at": a}, map[string]any{"at": b}))
	assert.False(t, Equal(map[string]any{"a": 1}, map[string]any{"b": 1}))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(int64(1), nil))
}
