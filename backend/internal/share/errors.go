package share

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeKeyGeneration Code = "KEY_GENERATION_FAILED"
	CodeEncode        Code = "ENCODE_FAILED"
	CodeUpload        Code = "UPLOAD_FAILED"
	CodePersist       Code = "PERSIST_FAILED"
	CodeNotFound      Code = "NOT_FOUND"
	CodeRevoked       Code = "REVOKED"
	CodeExpired       Code = "EXPIRED"
	CodeFetch         Code = "FETCH_FAILED"
	CodeCorrupt       Code = "CORRUPT"
)

var (
	// ErrSnapshotNotFound 仓储层：记录不存在
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrBlobNotFound 对象存储层：对象不存在
	ErrBlobNotFound = errors.New("blob not found")
)

// Error 分享流程的失败结果，Code 供调用方分支，Message 给人看
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf 取出错误码，非分享错误返回空串
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
