package collab

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"canvasCollab/backend/internal/cache"
	"canvasCollab/backend/internal/scene"
)

type fakeSceneStore struct {
	mu       sync.Mutex
	scenes   map[string][]scene.Element
	saves    int
	failSave error
	failLoad error
}

func newFakeSceneStore() *fakeSceneStore {
	return &fakeSceneStore{scenes: make(map[string][]scene.Element)}
}

func (f *fakeSceneStore) LoadScene(_ context.Context, id string) ([]scene.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLoad != nil {
		return nil, f.failLoad
	}
	els, ok := f.scenes[id]
	if !ok {
		return nil, scene.ErrNotFound
	}
	return append([]scene.Element(nil), els...), nil
}

func (f *fakeSceneStore) SaveScene(_ context.Context, id string, els []scene.Element) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave != nil {
		return f.failSave
	}
	f.saves++
	f.scenes[id] = append([]scene.Element(nil), els...)
	return nil
}

func (f *fakeSceneStore) DeleteScene(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.scenes[id]; !ok {
		return scene.ErrNotFound
	}
	delete(f.scenes, id)
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []SceneOpEvent
}

func (r *recordingSink) Enqueue(_ context.Context, evt SceneOpEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func newTestService(t *testing.T, store SceneStore, sink EventSink) (*Service, *cache.FingerprintCache) {
	t.Helper()
	saved := cache.NewFingerprintCache()
	svc := NewService(store, saved, sink, NewSemaphoreControl(4), slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.engine = newTestEngine()
	svc.now = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }
	svc.newID = func() string { return "op-1" }
	return svc, saved
}

func TestServiceApplyPatchPersistsAndPublishes(t *testing.T) {
	ctx := context.Background()
	store := newFakeSceneStore()
	store.scenes["s1"] = []scene.Element{rect("a", 1)}
	sink := &recordingSink{}
	svc, saved := newTestService(t, store, sink)

	patch := Patch{BaseFingerprint: 1, Operations: []Operation{{Kind: OpUpdate, ID: "a", Fields: map[string]any{"x": 3.0}}}}
	res, err := svc.ApplyPatch(ctx, "s1", patch, "ai-agent")
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Fingerprint)

	els, fp, err := svc.Scene(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, int64(2), fp)
	require.Equal(t, 3.0, els[0].Props["x"])
	require.True(t, saved.IsAlreadySaved("s1", els))

	require.Len(t, sink.events, 1)
	evt := sink.events[0]
	require.Equal(t, EventPatchApplied, evt.EventType)
	require.Equal(t, "s1", evt.SceneID)
	require.Equal(t, "op-1", evt.OperationID)
	require.Equal(t, int64(1), evt.BaseFingerprint)
	require.Equal(t, int64(2), evt.Fingerprint)
	require.Equal(t, "ai-agent", evt.Source)
}

func TestServiceSaveFailureIsApplyError(t *testing.T) {
	ctx := context.Background()
	store := newFakeSceneStore()
	store.scenes["s1"] = []scene.Element{rect("a", 1)}
	sink := &recordingSink{}
	svc, saved := newTestService(t, store, sink)
	saved.RecordSaved("s1", store.scenes["s1"])

	store.failSave = errors.New("disk full")
	patch := Patch{BaseFingerprint: 1, Operations: []Operation{{Kind: OpDelete, ID: "a"}}}
	_, err := svc.ApplyPatch(ctx, "s1", patch, "")

	var ae *ApplyError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, CodeApplyFailed, CodeOf(err))
	require.Empty(t, sink.events)
	require.Zero(t, saved.Len(), "failed write invalidates the saved fingerprint")

	// 同一个补丁原样重试即可成功
	store.failSave = nil
	res, err := svc.ApplyPatch(ctx, "s1", patch, "")
	require.NoError(t, err)
	require.True(t, res.Elements[0].IsDeleted)
}

func TestServiceLoadFailureIsApplyError(t *testing.T) {
	store := newFakeSceneStore()
	store.failLoad = errors.New("connection reset")
	svc, _ := newTestService(t, store, nil)

	_, err := svc.ApplyPatch(context.Background(), "s1", Patch{}, "")
	require.Equal(t, CodeApplyFailed, CodeOf(err))
}

func TestServiceUnknownScene(t *testing.T) {
	svc, _ := newTestService(t, newFakeSceneStore(), nil)
	_, err := svc.ApplyPatch(context.Background(), "nope", Patch{}, "")
	require.ErrorIs(t, err, scene.ErrNotFound)
	require.Empty(t, CodeOf(err))
}

func TestServiceSemaphoreExhaustedIsApplyError(t *testing.T) {
	store := newFakeSceneStore()
	store.scenes["s1"] = nil
	svc, _ := newTestService(t, store, nil)
	svc.sem = NewSemaphoreControl(1)
	svc.acquireTimeout = 10 * time.Millisecond
	require.NoError(t, svc.sem.Acquire(context.Background()))

	_, err := svc.ApplyPatch(context.Background(), "s1", Patch{}, "")
	require.Equal(t, CodeApplyFailed, CodeOf(err))
	require.ErrorIs(t, err, ErrAcquireTimeout)
}

func TestServiceSaveSceneDedup(t *testing.T) {
	ctx := context.Background()
	store := newFakeSceneStore()
	svc, _ := newTestService(t, store, nil)

	// 新的空场景也要落库
	skipped, _, err := svc.SaveScene(ctx, "s1", nil)
	require.NoError(t, err)
	require.False(t, skipped)
	require.Equal(t, 1, store.saves)

	els := []scene.Element{rect("a", 1)}
	skipped, _, err = svc.SaveScene(ctx, "s1", els)
	require.NoError(t, err)
	require.False(t, skipped)

	skipped, _, err = svc.SaveScene(ctx, "s1", els)
	require.NoError(t, err)
	require.True(t, skipped)
	require.Equal(t, 2, store.saves)

	store.failSave = errors.New("boom")
	_, _, err = svc.SaveScene(ctx, "s1", []scene.Element{rect("a", 2)})
	require.Error(t, err)

	// 失败后缓存被清掉，恢复后会重新写
	store.failSave = nil
	skipped, _, err = svc.SaveScene(ctx, "s1", []scene.Element{rect("a", 2)})
	require.NoError(t, err)
	require.False(t, skipped)
}

func TestServiceSaveEmptySceneOverExistingContent(t *testing.T) {
	ctx := context.Background()
	store := newFakeSceneStore()
	store.scenes["s1"] = []scene.Element{rect("a", 3)}
	// 重启后缓存是空的
	svc, _ := newTestService(t, store, nil)

	skipped, fp, err := svc.SaveScene(ctx, "s1", []scene.Element{})
	require.NoError(t, err)
	require.False(t, skipped)
	require.Zero(t, fp)
	require.Empty(t, store.scenes["s1"])
	require.Equal(t, 1, store.saves)

	// 已经是空的，再清空一次跳过
	skipped, _, err = svc.SaveScene(ctx, "s1", nil)
	require.NoError(t, err)
	require.True(t, skipped)
	require.Equal(t, 1, store.saves)
}

func TestServiceSaveSceneFingerprintMatchesScene(t *testing.T) {
	ctx := context.Background()
	store := newFakeSceneStore()
	svc, _ := newTestService(t, store, nil)

	els := []scene.Element{rect("a", 1), {ID: "b", Type: "rectangle", Version: 3, IsDeleted: true}}
	_, savedFP, err := svc.SaveScene(ctx, "s1", els)
	require.NoError(t, err)

	_, loadedFP, err := svc.Scene(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, int64(1), savedFP)
	require.Equal(t, loadedFP, savedFP)

	// 用保存返回的指纹作基线，补丁不走变基
	res, err := svc.ApplyPatch(ctx, "s1", Patch{
		BaseFingerprint: savedFP,
		Operations:      []Operation{{Kind: OpUpdate, ID: "a", Fields: map[string]any{"x": 2.0}}},
	}, "")
	require.NoError(t, err)
	require.False(t, res.Rebased)
}

func TestServiceDeleteSceneInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	store := newFakeSceneStore()
	svc, saved := newTestService(t, store, nil)

	els := []scene.Element{rect("a", 1)}
	_, _, err := svc.SaveScene(ctx, "s1", els)
	require.NoError(t, err)
	require.True(t, saved.IsAlreadySaved("s1", els))

	require.NoError(t, svc.DeleteScene(ctx, "s1"))
	require.False(t, saved.IsAlreadySaved("s1", els))
	require.ErrorIs(t, svc.DeleteScene(ctx, "s1"), scene.ErrNotFound)
}

func TestServiceSerializesConcurrentPatches(t *testing.T) {
	ctx := context.Background()
	store := newFakeSceneStore()
	store.scenes["s1"] = []scene.Element{rect("a", 1)}
	svc, _ := newTestService(t, store, nil)
	svc.sem = NewSemaphoreControl(64)
	svc.acquireTimeout = time.Second

	// 各自基于同一个旧基线更新 a：全部变基成功，每次 +1
	errs := make(chan error, 20)
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ApplyPatch(ctx, "s1", Patch{
				BaseFingerprint: 1,
				Operations:      []Operation{{Kind: OpUpdate, ID: "a", Fields: map[string]any{"x": 1.0}}},
			}, "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	_, fp, err := svc.Scene(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, int64(21), fp)
}
