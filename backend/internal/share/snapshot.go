package share

import (
	"context"
	"time"
)

// Snapshot 分享快照的元数据记录；服务端只持有密文位置，不持有密钥
type Snapshot struct {
	ID        string     `json:"id"`
	SceneRef  *string    `json:"sceneRef,omitempty"`
	BlobPath  string     `json:"blobPath"`
	BlobURL   string     `json:"blobUrl"`
	CreatedBy string     `json:"createdBy"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

// Readable 可读条件：未撤销，且未设置过期时间或尚未过期
// 撤销优先于过期判断
func (s *Snapshot) Readable(now time.Time) error {
	if s.RevokedAt != nil {
		return &Error{Code: CodeRevoked, Message: "snapshot " + s.ID + " has been revoked"}
	}
	if s.ExpiresAt != nil && !now.Before(*s.ExpiresAt) {
		return &Error{Code: CodeExpired, Message: "snapshot " + s.ID + " has expired"}
	}
	return nil
}

// Blob 对象存储中的一个对象
type Blob struct {
	Path string
	URL  string
	Size int64
}

// BlobStore 密文对象存储
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte) (Blob, error)
	Head(ctx context.Context, path string) (Blob, error) // 不存在返回 ErrBlobNotFound
	Get(ctx context.Context, path string) ([]byte, error)
}

// Repository 快照元数据仓储
type Repository interface {
	Create(ctx context.Context, snap *Snapshot) error
	Get(ctx context.Context, id string) (*Snapshot, error) // 不存在返回 ErrSnapshotNotFound
	// Revoke 幂等：已撤销的保留第一次撤销时间
	Revoke(ctx context.Context, id string, at time.Time) error
}
