package collab

import "time"

type SceneOpEvent struct {
	EventType       string      `json:"eventType"` // 固定 "PATCH_APPLIED"
	SceneID         string      `json:"sceneId"`
	OperationID     string      `json:"operationId"`
	BaseFingerprint int64       `json:"baseFingerprint"`
	Fingerprint     int64       `json:"fingerprint"` // 应用后的文档指纹
	Rebased         bool        `json:"rebased"`
	Source          string      `json:"source,omitempty"` // 补丁来源，如 "ai-agent"
	Ops             []Operation `json:"ops"`
	AppliedAt       time.Time   `json:"appliedAt"`
}

const EventPatchApplied = "PATCH_APPLIED"
