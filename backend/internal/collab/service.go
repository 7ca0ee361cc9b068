package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"canvasCollab/backend/internal/cache"
	"canvasCollab/backend/internal/scene"
)

// SceneStore 场景持久化（外部 CRUD 层的窄接口）
type SceneStore interface {
	LoadScene(ctx context.Context, sceneID string) ([]scene.Element, error) // 不存在返回 scene.ErrNotFound
	SaveScene(ctx context.Context, sceneID string, elements []scene.Element) error
	DeleteScene(ctx context.Context, sceneID string) error
}

// EventSink 已应用补丁的事件出口（Kafka），可为空
type EventSink interface {
	Enqueue(ctx context.Context, evt SceneOpEvent) error
}

const (
	defaultAcquireTimeout = 200 * time.Millisecond
	enqueueTimeout        = 50 * time.Millisecond
)

// 单个场景的串行化锁：同一场景的补丁和保存不能交错
type sceneState struct {
	mu sync.Mutex
}

// Service 补丁应用服务：引擎 + 存储 + 保存去重 + 事件投递
type Service struct {
	mu     sync.RWMutex
	scenes map[string]*sceneState

	engine *Engine
	store  SceneStore
	saved  *cache.FingerprintCache
	events EventSink
	// 限制同时进行的补丁数量，拿不到视为临时故障
	sem            *SemaphoreControl
	acquireTimeout time.Duration

	now   func() time.Time
	newID func() string
	log   *slog.Logger
}

func NewService(store SceneStore, saved *cache.FingerprintCache, events EventSink, sem *SemaphoreControl, logger *slog.Logger) *Service {
	return &Service{
		scenes:         make(map[string]*sceneState),
		engine:         NewEngine(),
		store:          store,
		saved:          saved,
		events:         events,
		sem:            sem,
		acquireTimeout: defaultAcquireTimeout,
		now:            time.Now,
		newID:          uuid.NewString,
		log:            logger,
	}
}

// 获取或创建场景锁（双重检查）
func (s *Service) sceneLock(sceneID string) *sceneState {
	s.mu.RLock()
	st := s.scenes[sceneID]
	s.mu.RUnlock()
	if st != nil {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st = s.scenes[sceneID]; st == nil {
		st = &sceneState{}
		s.scenes[sceneID] = st
	}
	return st
}

// ApplyPatch 加载当前场景，应用补丁并写回；要么全部生效，要么什么都不变
func (s *Service) ApplyPatch(ctx context.Context, sceneID string, patch Patch, source string) (Result, error) {
	if s.sem != nil {
		acquireCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
		err := s.sem.Acquire(acquireCtx)
		cancel()
		if err != nil {
			return Result{}, &ApplyError{SceneID: sceneID, Err: err}
		}
		defer s.sem.Release()
	}

	st := s.sceneLock(sceneID)
	st.mu.Lock()
	defer st.mu.Unlock()

	elements, err := s.store.LoadScene(ctx, sceneID)
	if errors.Is(err, scene.ErrNotFound) {
		return Result{}, fmt.Errorf("scene %s: %w", sceneID, err)
	}
	if err != nil {
		return Result{}, &ApplyError{SceneID: sceneID, Err: err}
	}

	res, err := s.engine.Apply(elements, patch)
	if err != nil {
		return Result{}, err
	}

	if err := s.store.SaveScene(ctx, sceneID, res.Elements); err != nil {
		// 写入结果未知，下次保存不能跳过
		s.saved.Invalidate(sceneID)
		s.log.Error("patch: save scene failed", "scene", sceneID, "err", err)
		return Result{}, &ApplyError{SceneID: sceneID, Err: err}
	}
	s.saved.RecordSaved(sceneID, res.Elements)

	s.publish(ctx, SceneOpEvent{
		EventType:       EventPatchApplied,
		SceneID:         sceneID,
		OperationID:     s.newID(),
		BaseFingerprint: patch.BaseFingerprint,
		Fingerprint:     res.Fingerprint,
		Rebased:         res.Rebased,
		Source:          source,
		Ops:             patch.Operations,
		AppliedAt:       s.now().UTC(),
	})
	return res, nil
}

func (s *Service) publish(ctx context.Context, evt SceneOpEvent) {
	if s.events == nil {
		return
	}
	enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()
	if err := s.events.Enqueue(enqueueCtx, evt); err != nil {
		s.log.Warn("patch: event dropped", "scene", evt.SceneID, "op", evt.OperationID, "err", err)
	}
}

// Scene 当前元素及文档指纹
func (s *Service) Scene(ctx context.Context, sceneID string) ([]scene.Element, int64, error) {
	st := s.sceneLock(sceneID)
	st.mu.Lock()
	defer st.mu.Unlock()

	elements, err := s.store.LoadScene(ctx, sceneID)
	if err != nil {
		return nil, 0, err
	}
	return elements, documentFingerprint(elements), nil
}

// SaveScene 整体保存；与上次成功保存指纹相同时跳过写入，返回 skipped=true
// 返回的指纹与 Scene、补丁基线使用同一口径
func (s *Service) SaveScene(ctx context.Context, sceneID string, elements []scene.Element) (bool, int64, error) {
	st := s.sceneLock(sceneID)
	st.mu.Lock()
	defer st.mu.Unlock()

	fp := documentFingerprint(elements)
	// 空场景在缓存里默认视为已保存；新场景或清空已有内容时仍需落库
	if len(elements) == 0 {
		stored, err := s.store.LoadScene(ctx, sceneID)
		if err != nil && !errors.Is(err, scene.ErrNotFound) {
			return false, 0, err
		}
		if err != nil || len(stored) > 0 {
			if err := s.store.SaveScene(ctx, sceneID, elements); err != nil {
				s.saved.Invalidate(sceneID)
				return false, 0, err
			}
			s.saved.RecordSaved(sceneID, elements)
			return false, fp, nil
		}
	}
	if s.saved.CheckAndRecord(sceneID, elements) {
		return true, fp, nil
	}
	if err := s.store.SaveScene(ctx, sceneID, elements); err != nil {
		s.saved.Invalidate(sceneID)
		return false, 0, err
	}
	return false, fp, nil
}

func (s *Service) DeleteScene(ctx context.Context, sceneID string) error {
	st := s.sceneLock(sceneID)
	st.mu.Lock()
	defer st.mu.Unlock()

	err := s.store.DeleteScene(ctx, sceneID)
	s.saved.Invalidate(sceneID)
	return err
}
