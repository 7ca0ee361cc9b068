package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"canvasCollab/backend/internal/scene"
	"canvasCollab/backend/internal/share"
)

// 需要真实 MySQL：MYSQL_TEST_DSN=user:pass@tcp(127.0.0.1:3306)/canvas?parseTime=true
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("MYSQL_TEST_DSN")
	if dsn == "" {
		t.Skip("MYSQL_TEST_DSN not set, skipping MySQL store tests")
	}
	return dsn
}

func TestSnapshotStoreMySQL(t *testing.T) {
	ctx := context.Background()
	db, err := InitMySQL(testDSN(t))
	require.NoError(t, err)

	s := NewSnapshotStore(db)
	require.NoError(t, s.Migrate(ctx))

	ref := "scene-1"
	snap := &share.Snapshot{
		ID:        uuid.NewString(),
		SceneRef:  &ref,
		BlobPath:  "share/abc",
		BlobURL:   "/blobs/share/abc",
		CreatedBy: "tester",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.Create(ctx, snap))
	require.ErrorIs(t, s.Create(ctx, snap), ErrDuplicateSnapshot)

	got, err := s.Get(ctx, snap.ID)
	require.NoError(t, err)
	require.Equal(t, snap.BlobPath, got.BlobPath)
	require.Nil(t, got.RevokedAt)

	require.NoError(t, s.Revoke(ctx, snap.ID, time.Now().UTC()))
	require.NoError(t, s.Revoke(ctx, snap.ID, time.Now().UTC()))
	got, err = s.Get(ctx, snap.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RevokedAt)

	_, err = s.Get(ctx, uuid.NewString())
	require.ErrorIs(t, err, share.ErrSnapshotNotFound)
	require.ErrorIs(t, s.Revoke(ctx, uuid.NewString(), time.Now()), share.ErrSnapshotNotFound)
}

func TestSceneStoreMySQL(t *testing.T) {
	ctx := context.Background()
	db, err := InitMySQL(testDSN(t))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)

	s := NewSceneStore(sqlDB)
	require.NoError(t, s.Migrate(ctx))

	id := "scene-" + uuid.NewString()
	_, err = s.LoadScene(ctx, id)
	require.ErrorIs(t, err, scene.ErrNotFound)

	elements := []scene.Element{{ID: "a", Type: "rectangle", Version: 2, Props: map[string]any{"x": 5.0}}}
	require.NoError(t, s.SaveScene(ctx, id, elements))
	require.NoError(t, s.SaveScene(ctx, id, elements))

	got, err := s.LoadScene(ctx, id)
	require.NoError(t, err)
	require.Equal(t, elements, got)

	// 冗余指纹列不计入已删除元素
	withDeleted := append(elements, scene.Element{ID: "b", Type: "rectangle", Version: 4, IsDeleted: true})
	require.NoError(t, s.SaveScene(ctx, id, withDeleted))
	var fp int64
	require.NoError(t, sqlDB.QueryRowContext(ctx, `SELECT fingerprint FROM scenes WHERE id = ?`, id).Scan(&fp))
	require.Equal(t, int64(2), fp)

	require.NoError(t, s.DeleteScene(ctx, id))
	require.ErrorIs(t, s.DeleteScene(ctx, id), scene.ErrNotFound)
}
