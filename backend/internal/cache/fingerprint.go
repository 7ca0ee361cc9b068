package cache

import (
	"sync"

	"canvasCollab/backend/internal/scene"
)

// FingerprintCache 记录每个场景最近一次成功保存时的指纹，用于跳过重复保存
// 进程内缓存，重启后为空；所有方法并发安全
type FingerprintCache struct {
	mu      sync.Mutex
	entries map[string]int64
}

func NewFingerprintCache() *FingerprintCache {
	return &FingerprintCache{entries: make(map[string]int64)}
}

// RecordSaved 保存成功后调用，覆盖之前的记录
func (c *FingerprintCache) RecordSaved(sceneID string, elements []scene.Element) {
	fp := scene.Fingerprint(elements)
	c.mu.Lock()
	c.entries[sceneID] = fp
	c.mu.Unlock()
}

// IsAlreadySaved 判断当前元素是否与上次保存的指纹一致
// 没有记录时：空场景视为已保存（无需写），非空场景视为未保存（冷启动必须写一次）
func (c *FingerprintCache) IsAlreadySaved(sceneID string, elements []scene.Element) bool {
	fp := scene.Fingerprint(elements)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.savedLocked(sceneID, fp, len(elements))
}

// CheckAndRecord 原子地检查并占位：已保存返回 true；否则立即记录新指纹并返回 false
// 并发保存同一内容时只有一个调用方会拿到 false 去真正写存储；写失败后需要 Invalidate
func (c *FingerprintCache) CheckAndRecord(sceneID string, elements []scene.Element) bool {
	fp := scene.Fingerprint(elements)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.savedLocked(sceneID, fp, len(elements)) {
		return true
	}
	c.entries[sceneID] = fp
	return false
}

func (c *FingerprintCache) savedLocked(sceneID string, fp int64, n int) bool {
	prev, ok := c.entries[sceneID]
	if !ok {
		return n == 0
	}
	return prev == fp
}

// Invalidate 删除单个场景的记录（场景被删除或保存失败）
func (c *FingerprintCache) Invalidate(sceneID string) {
	c.mu.Lock()
	delete(c.entries, sceneID)
	c.mu.Unlock()
}

// InvalidateAll 清空全部记录（重新认证或切换存储后端）
func (c *FingerprintCache) InvalidateAll() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}

func (c *FingerprintCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
