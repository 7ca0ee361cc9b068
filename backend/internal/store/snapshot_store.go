package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"canvasCollab/backend/internal/share"
)

// share_snapshots 表；只存密文位置，不存任何密钥
type snapshotRow struct {
	ID        string     `gorm:"primaryKey;size:36"`
	SceneRef  *string    `gorm:"size:128;index"`
	BlobPath  string     `gorm:"size:255;not null"`
	BlobURL   string     `gorm:"size:512;not null"`
	CreatedBy string     `gorm:"size:128;not null;default:''"`
	CreatedAt time.Time  `gorm:"not null"`
	ExpiresAt *time.Time `gorm:"index"`
	RevokedAt *time.Time
}

func (snapshotRow) TableName() string { return "share_snapshots" }

var ErrDuplicateSnapshot = errors.New("duplicate snapshot id")

// SnapshotStore MySQL 上的快照元数据仓储（gorm）
type SnapshotStore struct{ db *gorm.DB }

func NewSnapshotStore(db *gorm.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&snapshotRow{})
}

func (s *SnapshotStore) Create(ctx context.Context, snap *share.Snapshot) error {
	row := snapshotRow{
		ID:        snap.ID,
		SceneRef:  snap.SceneRef,
		BlobPath:  snap.BlobPath,
		BlobURL:   snap.BlobURL,
		CreatedBy: snap.CreatedBy,
		CreatedAt: snap.CreatedAt,
		ExpiresAt: snap.ExpiresAt,
		RevokedAt: snap.RevokedAt,
	}
	err := s.db.WithContext(ctx).Create(&row).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return fmt.Errorf("snapshot %s: %w", snap.ID, ErrDuplicateSnapshot)
		}
		return err
	}
	return nil
}

func (s *SnapshotStore) Get(ctx context.Context, id string) (*share.Snapshot, error) {
	var row snapshotRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, share.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toSnapshot(), nil
}

func (s *SnapshotStore) Revoke(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&snapshotRow{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// 没更新到：要么不存在，要么已经撤销过
	var n int64
	if err := s.db.WithContext(ctx).Model(&snapshotRow{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return share.ErrSnapshotNotFound
	}
	return nil
}

func (r snapshotRow) toSnapshot() *share.Snapshot {
	return &share.Snapshot{
		ID:        r.ID,
		SceneRef:  r.SceneRef,
		BlobPath:  r.BlobPath,
		BlobURL:   r.BlobURL,
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
		RevokedAt: r.RevokedAt,
	}
}
