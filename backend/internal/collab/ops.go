package collab

import "canvasCollab/backend/internal/scene"

type OpKind string

const (
	OpInsert OpKind = "insert"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Operation 补丁中的单个操作
// insert 使用 Element；update 使用 Fields（只替换给出的顶层字段，null 表示删除该字段）
type Operation struct {
	Kind    OpKind         `json:"op"`
	ID      string         `json:"id"`
	Element *scene.Element `json:"element,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// target 操作针对的元素 ID；insert 可以只在 Element 里给 ID
func (o Operation) target() string {
	if o.ID == "" && o.Kind == OpInsert && o.Element != nil {
		return o.Element.ID
	}
	return o.ID
}

// Patch 外部变更来源（如 AI 工具桥）提交的补丁
type Patch struct {
	BaseFingerprint int64       `json:"baseFingerprint"`
	Operations      []Operation `json:"operations"`
}

// Result 成功应用后的文档
type Result struct {
	Elements    []scene.Element `json:"elements"`
	Fingerprint int64           `json:"fingerprint"`
	Rebased     bool            `json:"rebased"`
}
