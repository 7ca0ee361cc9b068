package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// 元素上由同步层解释的字段；其余字段原样保留在 Props 中
const (
	fieldID           = "id"
	fieldType         = "type"
	fieldVersion      = "version"
	fieldVersionNonce = "versionNonce"
	fieldIsDeleted    = "isDeleted"
)

// ReservedField 判断字段是否由同步层维护（补丁不可直接修改）
func ReservedField(name string) bool {
	switch name {
	case fieldID, fieldVersion, fieldVersionNonce, fieldIsDeleted:
		return true
	}
	return false
}

// Element 画布元素在同步层的视图
// 同步层不关心的字段（几何、样式、文本等）放在 Props，序列化时原样展开
type Element struct {
	ID           string
	Type         string
	Version      int64
	VersionNonce uint32
	IsDeleted    bool
	Props        map[string]any
}

// Clone 复制元素，Props 只做浅拷贝：调用方只允许替换顶层字段
func (e Element) Clone() Element {
	out := e
	if e.Props != nil {
		out.Props = maps.Clone(e.Props)
	}
	return out
}

func (e Element) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Props)+5)
	for k, v := range e.Props {
		m[k] = v
	}
	m[fieldID] = e.ID
	m[fieldType] = e.Type
	m[fieldVersion] = e.Version
	m[fieldVersionNonce] = e.VersionNonce
	m[fieldIsDeleted] = e.IsDeleted
	return json.Marshal(m)
}

func (e *Element) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Element{}
	for k, v := range raw {
		var err error
		switch k {
		case fieldID:
			err = json.Unmarshal(v, &e.ID)
		case fieldType:
			err = json.Unmarshal(v, &e.Type)
		case fieldVersion:
			err = unmarshalOptional(v, &e.Version)
		case fieldVersionNonce:
			err = unmarshalOptional(v, &e.VersionNonce)
		case fieldIsDeleted:
			err = unmarshalOptional(v, &e.IsDeleted)
		default:
			var val any
			err = json.Unmarshal(v, &val)
			if err == nil {
				if e.Props == nil {
					e.Props = make(map[string]any)
				}
				e.Props[k] = val
			}
		}
		if err != nil {
			return fmt.Errorf("element field %q: %w", k, err)
		}
	}
	return nil
}

// null 视为缺省值（版本号缺失按 0 处理）
func unmarshalOptional[T any](data json.RawMessage, dst *T) error {
	if string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, dst)
}

// Visible 过滤掉软删除的元素，保持原顺序
func Visible(elements []Element) []Element {
	out := make([]Element, 0, len(elements))
	for _, el := range elements {
		if !el.IsDeleted {
			out = append(out, el)
		}
	}
	return out
}

// Document 完整场景（分享快照的明文内容）
type Document struct {
	Elements []Element      `json:"elements"`
	AppState map[string]any `json:"appState,omitempty"`
	Files    map[string]any `json:"files,omitempty"`
}

// ErrNotFound 场景不存在
var ErrNotFound = errors.New("scene not found")
