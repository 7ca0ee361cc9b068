package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"canvasCollab/backend/internal/scene"
)

const createScenesTable = `CREATE TABLE IF NOT EXISTS scenes (
	id          VARCHAR(128) NOT NULL PRIMARY KEY,
	elements    LONGBLOB     NOT NULL,
	fingerprint BIGINT       NOT NULL DEFAULT 0,
	updated_at  TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`

// SceneStore 补丁引擎使用的场景存储（MySQL，database/sql）
// elements 以 JSON 整体存放，fingerprint 冗余一列方便排查（只统计未删除元素，与补丁基线一致）
type SceneStore struct{ db *sql.DB }

func NewSceneStore(db *sql.DB) *SceneStore {
	return &SceneStore{db: db}
}

func (s *SceneStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, createScenesTable)
	return err
}

func (s *SceneStore) LoadScene(ctx context.Context, sceneID string) ([]scene.Element, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT elements FROM scenes WHERE id = ?`,
		sceneID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, scene.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var elements []scene.Element
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, fmt.Errorf("decode scene %s: %w", sceneID, err)
	}
	return elements, nil
}

func (s *SceneStore) SaveScene(ctx context.Context, sceneID string, elements []scene.Element) error {
	if elements == nil {
		elements = []scene.Element{}
	}
	data, err := json.Marshal(elements)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scenes (id, elements, fingerprint) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE elements = VALUES(elements), fingerprint = VALUES(fingerprint)`,
		sceneID,
		data,
		scene.Fingerprint(scene.Visible(elements)),
	)
	return err
}

func (s *SceneStore) DeleteScene(ctx context.Context, sceneID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scenes WHERE id = ?`, sceneID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return scene.ErrNotFound
	}
	return nil
}
