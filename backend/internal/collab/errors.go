package collab

import (
	"errors"
	"fmt"
	"strings"
)

// 三类补丁错误：
// - 校验错误：调用方的问题，原样重试没有意义
// - 变基错误：文档已变化，需要重新拉取并重新计算补丁
// - 应用错误：基础设施临时故障，可以原样重试
const (
	CodeValidationFailed = "PATCH_VALIDATION_FAILED"
	CodeRebaseRequired   = "PATCH_REBASE_REQUIRED"
	CodeApplyFailed      = "PATCH_APPLY_FAILED"
)

type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return CodeValidationFailed + ": " + strings.Join(e.Issues, "; ")
}

// Conflict 变基时与当前文档冲突的单个操作
type Conflict struct {
	Op        int    `json:"op"`
	ElementID string `json:"elementId"`
	Reason    string `json:"reason"`
}

type RebaseError struct {
	BaseFingerprint    int64
	CurrentFingerprint int64
	Conflicts          []Conflict
}

func (e *RebaseError) Error() string {
	parts := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		parts[i] = fmt.Sprintf("op %d (%s): %s", c.Op, c.ElementID, c.Reason)
	}
	return fmt.Sprintf("%s: base %d, current %d: %s",
		CodeRebaseRequired, e.BaseFingerprint, e.CurrentFingerprint, strings.Join(parts, "; "))
}

// ElementIDs 冲突涉及的元素 ID
func (e *RebaseError) ElementIDs() []string {
	ids := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		ids[i] = c.ElementID
	}
	return ids
}

type ApplyError struct {
	SceneID string
	Err     error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("%s: scene %s: %v", CodeApplyFailed, e.SceneID, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// CodeOf 返回补丁错误码，其他错误返回空串
func CodeOf(err error) string {
	var (
		ve *ValidationError
		re *RebaseError
		ae *ApplyError
	)
	switch {
	case errors.As(err, &ve):
		return CodeValidationFailed
	case errors.As(err, &re):
		return CodeRebaseRequired
	case errors.As(err, &ae):
		return CodeApplyFailed
	}
	return ""
}
