package node

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/nodelink-core/internal/infrastructure/database"
	"github.com/nerrad567/nodelink-core/internal/xbee"
	_ "github.com/nerrad567/nodelink-core/migrations"
)

func openRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "nodes.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	require.NoError(t, db.Migrate(ctx))
	return NewSQLiteRepository(db.DB)
}

func TestSQLiteRepositoryRoundTrip(t *testing.T) {
	repo := openRepository(t)
	ctx := context.Background()

	full := completeSnapshot()
	full.LastSeen = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	full.LowBattery = true
	full.Functions = append(full.Functions, Function{
		ID:         3,
		Name:       "setMode",
		ReturnType: xbee.TypeVoid,
		ParamCount: 1,
		Params: map[byte]Parameter{
			1: {ID: 1, Name: "mode", Type: xbee.TypeEnum, Enum: []xbee.EnumValue{{Value: 2, Name: "eco"}, {Value: 0, Name: "off"}}},
		},
	})
	full.CatalogCount = 3

	partial := Snapshot{ID: 0x00112233AABBCCDD, Address16: 0x0002, CatalogCount: -1}

	require.NoError(t, repo.Save(ctx, []Snapshot{full, partial, {ID: placeholderBase | 3, CatalogCount: -1}}))

	loaded, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2, "placeholders are not stored")

	byID := map[uint64]Snapshot{}
	for _, s := range loaded {
		byID[s.ID] = s
	}

	got := byID[testSerial]
	assert.Equal(t, "dimmer", got.Name)
	assert.Equal(t, testAddr16, got.Address16)
	assert.True(t, got.LastSeen.Equal(full.LastSeen))
	assert.True(t, got.LowBattery)
	assert.Equal(t, 3, got.CatalogCount)
	require.Len(t, got.Functions, 3)

	fn, ok := got.Function(1)
	require.True(t, ok)
	assert.Equal(t, full.Functions[0].Params[1], fn.Params[1])
	require.NotNil(t, fn.Return)
	assert.Equal(t, *full.Functions[0].Return, *fn.Return)

	mode, ok := got.Function(3)
	require.True(t, ok)
	assert.Equal(t, []xbee.EnumValue{{Value: 2, Name: "eco"}, {Value: 0, Name: "off"}}, mode.Params[1].Enum, "enum order kept")

	other := byID[0x00112233AABBCCDD]
	assert.Equal(t, -1, other.CatalogCount)
	assert.Empty(t, other.Functions)
	assert.Equal(t, LivenessUnknown, other.Liveness)
}

func TestSQLiteRepositorySaveReplaces(t *testing.T) {
	repo := openRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, []Snapshot{completeSnapshot()}))
	require.NoError(t, repo.Save(ctx, []Snapshot{{ID: 7, CatalogCount: -1}}))

	loaded, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, uint64(7), loaded[0].ID)
}

func TestSQLiteRepositoryRestoresRegistry(t *testing.T) {
	repo := openRepository(t)
	ctx := context.Background()

	src, _, _ := newTestRegistry(nil)
	src.Load([]Snapshot{completeSnapshot()})
	require.NoError(t, repo.Save(ctx, src.Snapshot()))

	loaded, err := repo.Load(ctx)
	require.NoError(t, err)

	dst, _, _ := newTestRegistry(nil)
	require.Equal(t, 1, dst.Load(loaded))

	snap, err := dst.Get(testSerial)
	require.NoError(t, err)
	assert.True(t, snap.FullCatalog)
	assert.True(t, snap.FullParameters)
	assert.Equal(t, 0, dst.QueueLength())
}
