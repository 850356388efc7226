package storage

import (
	"errors"
	"strings"

	"github.com/minio/minio-go/v7"
)

func errorCode(err error) string {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return strings.ToLower(strings.TrimSpace(resp.Code))
	}
	return ""
}

// IsNoSuchKey 判断错误是否表示对象不存在。
func IsNoSuchKey(err error) bool {
	if err == nil {
		return false
	}
	switch errorCode(err) {
	case "nosuchkey", "notfound":
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "nosuchkey") || strings.Contains(lower, "specified key does not exist")
}

// IsNoSuchBucket 判断错误是否表示 Bucket 不存在。
func IsNoSuchBucket(err error) bool {
	if err == nil {
		return false
	}
	if errorCode(err) == "nosuchbucket" {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "specified bucket does not exist")
}
