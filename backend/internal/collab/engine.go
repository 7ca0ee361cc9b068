package collab

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"canvasCollab/backend/internal/scene"
)

// 文档指纹只统计未删除元素：并发删除会让指纹变化，被删元素仍然保留（软删除）
func documentFingerprint(elements []scene.Element) int64 {
	return scene.Fingerprint(scene.Visible(elements))
}

// Engine 补丁应用/变基引擎，本身无状态，可并发使用
type Engine struct {
	nonce func() uint32
}

func NewEngine() *Engine {
	return &Engine{nonce: rand.Uint32}
}

// Apply 对 elements 应用补丁，返回新文档；失败时 elements 不会被修改
// 基线指纹与当前一致时直接应用；不一致时针对当前文档重新校验（变基）
func (e *Engine) Apply(elements []scene.Element, patch Patch) (Result, error) {
	current := documentFingerprint(elements)
	stale := patch.BaseFingerprint != current

	issues := structuralIssues(patch.Operations)
	stateIssues, conflicts := stateChecks(elements, patch.Operations)
	issues = append(issues, stateIssues...)

	if !stale {
		// 基线一致时，冲突也是调用方自己的错误
		for _, c := range conflicts {
			issues = append(issues, fmt.Sprintf("%s %s: %s", patch.Operations[c.Op].Kind, c.ElementID, c.Reason))
		}
		conflicts = nil
	}
	if len(issues) > 0 {
		return Result{}, &ValidationError{Issues: issues}
	}
	if len(conflicts) > 0 {
		return Result{}, &RebaseError{
			BaseFingerprint:    patch.BaseFingerprint,
			CurrentFingerprint: current,
			Conflicts:          conflicts,
		}
	}

	next := e.applyAll(elements, patch.Operations)
	return Result{Elements: next, Fingerprint: documentFingerprint(next), Rebased: stale}, nil
}

// 与文档状态无关的校验：操作本身是否完整、同一补丁内是否重复针对同一元素
func structuralIssues(ops []Operation) []string {
	var issues []string
	seen := make(map[string]int, len(ops))
	for i, op := range ops {
		id := op.target()
		switch op.Kind {
		case OpInsert:
			switch {
			case op.Element == nil:
				issues = append(issues, fmt.Sprintf("insert %s: missing element definition", id))
			case id == "":
				issues = append(issues, fmt.Sprintf("operation %d: insert without element id", i))
			case op.Element.ID != "" && op.Element.ID != op.ID && op.ID != "":
				issues = append(issues, fmt.Sprintf("insert %s: element id %q does not match", id, op.Element.ID))
			case op.Element.Type == "":
				issues = append(issues, fmt.Sprintf("insert %s: element type is required", id))
			}
		case OpUpdate:
			if id == "" {
				issues = append(issues, fmt.Sprintf("operation %d: update without element id", i))
				break
			}
			if len(op.Fields) == 0 {
				issues = append(issues, fmt.Sprintf("update %s: no fields to update", id))
			}
			for _, k := range sortedKeys(op.Fields) {
				if k != "version" && scene.ReservedField(k) {
					issues = append(issues, fmt.Sprintf("update %s: field %q is managed by the server", id, k))
				}
				if t, ok := op.Fields[k].(string); k == "type" && (!ok || t == "") {
					issues = append(issues, fmt.Sprintf("update %s: type must be a non-empty string", id))
				}
			}
		case OpDelete:
			if id == "" {
				issues = append(issues, fmt.Sprintf("operation %d: delete without element id", i))
			}
		default:
			issues = append(issues, fmt.Sprintf("operation %d: unknown op %q", i, op.Kind))
		}

		if id == "" {
			continue
		}
		if prev, ok := seen[id]; ok {
			issues = append(issues, fmt.Sprintf("%s %s: element already targeted by operation %d", op.Kind, id, prev))
			continue
		}
		seen[id] = i
	}
	return issues
}

// 与当前文档相关的校验
// delete 不存在的元素永远是校验错误；update 不存在或已删除的元素、insert 撞 ID 是冲突，是否算错由调用方按基线决定
func stateChecks(elements []scene.Element, ops []Operation) ([]string, []Conflict) {
	index := make(map[string]int, len(elements))
	for i, el := range elements {
		index[el.ID] = i
	}

	var (
		issues    []string
		conflicts []Conflict
	)
	for i, op := range ops {
		id := op.target()
		if id == "" {
			continue
		}
		pos, exists := index[id]
		switch op.Kind {
		case OpInsert:
			if exists {
				conflicts = append(conflicts, Conflict{Op: i, ElementID: id, Reason: "element already exists"})
			}
		case OpUpdate, OpDelete:
			switch {
			case !exists && op.Kind == OpUpdate:
				// 基线过期时目标可能已被整体保存移除，交给调用方变基
				conflicts = append(conflicts, Conflict{Op: i, ElementID: id, Reason: "element does not exist"})
			case !exists:
				issues = append(issues, fmt.Sprintf("%s %s: element does not exist", op.Kind, id))
			case elements[pos].IsDeleted:
				conflicts = append(conflicts, Conflict{Op: i, ElementID: id, Reason: "element was deleted"})
			}
		}
	}
	return issues, conflicts
}

// 在副本上按顺序应用，调用前已完成全部校验
func (e *Engine) applyAll(elements []scene.Element, ops []Operation) []scene.Element {
	next := make([]scene.Element, len(elements), len(elements)+len(ops))
	index := make(map[string]int, len(elements))
	for i, el := range elements {
		next[i] = el.Clone()
		index[el.ID] = i
	}

	for _, op := range ops {
		id := op.target()
		switch op.Kind {
		case OpInsert:
			el := op.Element.Clone()
			el.ID = id
			el.IsDeleted = false
			if el.Version < 1 {
				el.Version = 1
			}
			el.VersionNonce = e.nonce()
			index[id] = len(next)
			next = append(next, el)
		case OpUpdate:
			el := &next[index[id]]
			for k, v := range op.Fields {
				switch {
				case k == "version":
					// 版本号由服务端维护，只递增一次
				case k == "type":
					el.Type = v.(string)
				case v == nil:
					delete(el.Props, k)
				default:
					if el.Props == nil {
						el.Props = make(map[string]any)
					}
					el.Props[k] = v
				}
			}
			el.Version++
			el.VersionNonce = e.nonce()
		case OpDelete:
			el := &next[index[id]]
			el.IsDeleted = true
			el.Version++
			el.VersionNonce = e.nonce()
		}
	}
	return next
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
