package share

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"canvasCollab/backend/internal/scene"
)

const downloadTimeout = 30 * time.Second

// CreateOptions 创建快照的可选项
type CreateOptions struct {
	SceneRef  string
	CreatedBy string
	TTL       time.Duration // 0 表示永不过期
}

// Service 分享快照：客户端侧流水线（编码/压缩/加密）+ 服务端侧存取（只见密文）
type Service struct {
	blobs   BlobStore
	repo    Repository
	baseURL string
	now     func() time.Time
	newID   func() string
	log     *slog.Logger

	// 同一对象的并发下载合并为一次
	downloads singleflight.Group
}

func NewService(blobs BlobStore, repo Repository, baseURL string, logger *slog.Logger) *Service {
	return &Service{
		blobs:   blobs,
		repo:    repo,
		baseURL: baseURL,
		now:     time.Now,
		newID:   uuid.NewString,
		log:     logger,
	}
}

// CreateSnapshot 生成新密钥，加密场景并保存，返回 #json=<id>,<key> 分享链接
// 密钥只出现在返回的链接里
func (s *Service) CreateSnapshot(ctx context.Context, doc scene.Document, opts CreateOptions) (string, *Snapshot, error) {
	key, err := GenerateKey()
	if err != nil {
		return "", nil, err
	}
	rawKey, err := decodeKey(key)
	if err != nil {
		return "", nil, &Error{Code: CodeKeyGeneration, Message: "decode generated key", Err: err}
	}

	compressed, err := encodeDocument(doc)
	if err != nil {
		return "", nil, &Error{Code: CodeEncode, Message: "encode scene", Err: err}
	}
	ciphertext, err := sealBlob(compressed, rawKey)
	if err != nil {
		return "", nil, &Error{Code: CodeEncode, Message: "encrypt scene", Err: err}
	}

	snap, err := s.StoreCiphertext(ctx, ciphertext, opts)
	if err != nil {
		return "", nil, err
	}
	link, err := EncodeLink(s.baseURL, Link{Kind: LinkShare, ID: snap.ID, Key: key})
	if err != nil {
		return "", nil, &Error{Code: CodeEncode, Message: "encode share link", Err: err}
	}
	return link, snap, nil
}

// StoreCiphertext 上传密文（按内容寻址，已存在则跳过）并写入元数据
func (s *Service) StoreCiphertext(ctx context.Context, ciphertext []byte, opts CreateOptions) (*Snapshot, error) {
	path := blobPath(ciphertext)
	blob, err := s.blobs.Head(ctx, path)
	switch {
	case errors.Is(err, ErrBlobNotFound):
		blob, err = s.blobs.Put(ctx, path, ciphertext)
		if err != nil {
			return nil, &Error{Code: CodeUpload, Message: "upload snapshot blob", Err: err}
		}
	case err != nil:
		return nil, &Error{Code: CodeUpload, Message: "check snapshot blob", Err: err}
	}

	now := s.now().UTC()
	snap := &Snapshot{
		ID:        s.newID(),
		BlobPath:  blob.Path,
		BlobURL:   blob.URL,
		CreatedBy: opts.CreatedBy,
		CreatedAt: now,
	}
	if opts.SceneRef != "" {
		ref := opts.SceneRef
		snap.SceneRef = &ref
	}
	if opts.TTL > 0 {
		exp := now.Add(opts.TTL)
		snap.ExpiresAt = &exp
	}
	if err := s.repo.Create(ctx, snap); err != nil {
		// 对象已上传但记录没写成，对象留作孤儿，后续按前缀清理
		s.log.Warn("share: persist snapshot failed", "path", path, "err", err)
		return nil, &Error{Code: CodePersist, Message: "persist snapshot record", Err: err}
	}
	return snap, nil
}

// FetchCiphertext 校验可读性后取回密文
func (s *Service) FetchCiphertext(ctx context.Context, id string) ([]byte, *Snapshot, error) {
	snap, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrSnapshotNotFound) {
		return nil, nil, &Error{Code: CodeNotFound, Message: "snapshot " + id + " not found"}
	}
	if err != nil {
		return nil, nil, &Error{Code: CodeFetch, Message: "load snapshot record", Err: err}
	}
	if err := snap.Readable(s.now()); err != nil {
		return nil, snap, err
	}
	v, err, _ := s.downloads.Do(snap.BlobPath, func() (any, error) {
		// 多个读者共享这次下载，不能跟随第一个请求一起取消
		dlCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), downloadTimeout)
		defer cancel()
		return s.blobs.Get(dlCtx, snap.BlobPath)
	})
	if errors.Is(err, ErrBlobNotFound) {
		return nil, snap, &Error{Code: CodeNotFound, Message: "snapshot " + id + " content is missing", Err: err}
	}
	if err != nil {
		return nil, snap, &Error{Code: CodeFetch, Message: "download snapshot blob", Err: err}
	}
	// 共享结果，调用方拿到的是副本
	return bytes.Clone(v.([]byte)), snap, nil
}

// LoadSnapshot 取回并用链接里的 key 解密；密钥不对或内容损坏都报 CORRUPT
func (s *Service) LoadSnapshot(ctx context.Context, id, key string) (scene.Document, error) {
	rawKey, err := decodeKey(key)
	if err != nil {
		return scene.Document{}, &Error{Code: CodeCorrupt, Message: "invalid snapshot key", Err: err}
	}
	ciphertext, _, err := s.FetchCiphertext(ctx, id)
	if err != nil {
		return scene.Document{}, err
	}
	compressed, err := openBlob(ciphertext, rawKey)
	if err != nil {
		return scene.Document{}, &Error{Code: CodeCorrupt, Message: "decrypt snapshot", Err: err}
	}
	doc, err := decodeDocument(compressed)
	if err != nil {
		return scene.Document{}, &Error{Code: CodeCorrupt, Message: "decode snapshot", Err: err}
	}
	return doc, nil
}

// LoadLink 解析分享链接后加载
func (s *Service) LoadLink(ctx context.Context, rawLink string) (scene.Document, error) {
	link, ok := ParseShareLink(rawLink)
	if !ok {
		return scene.Document{}, &Error{Code: CodeNotFound, Message: "not a share link"}
	}
	return s.LoadSnapshot(ctx, link.ID, link.Key)
}

// Revoke 撤销后所有读取都返回 REVOKED
func (s *Service) Revoke(ctx context.Context, id string) error {
	err := s.repo.Revoke(ctx, id, s.now().UTC())
	if errors.Is(err, ErrSnapshotNotFound) {
		return &Error{Code: CodeNotFound, Message: "snapshot " + id + " not found"}
	}
	if err != nil {
		return &Error{Code: CodePersist, Message: "revoke snapshot", Err: err}
	}
	return nil
}
