package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"strings"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gabriel-vasile/mimetype"

	"studyhub/internal/errcode"
	"studyhub/internal/metrics"
	"studyhub/internal/storage"
	"studyhub/internal/tasks"
)

// ObjectStorage 是处理器依赖的对象存储能力，由 storage.Client 实现。
type ObjectStorage interface {
	UploadFile(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	GeneratePresignedURL(ctx context.Context, objectKey string, ttl time.Duration, filename string) (string, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// ErrInfected 表示扫描发现恶意内容。
var ErrInfected = errors.New("malicious file detected")

// Scanner 在上传前检查文件内容。
type Scanner interface {
	Scan(r io.Reader) error
}

// ClamdScanner 通过 clamd 的 INSTREAM 命令扫描。
type ClamdScanner struct {
	client *clamd.Clamd
}

// NewScanner 根据地址构造扫描器，地址为空时不扫描。
func NewScanner(addr string) Scanner {
	if strings.TrimSpace(addr) == "" {
		return noopScanner{}
	}
	return &ClamdScanner{client: clamd.NewClamd(addr)}
}

func (s *ClamdScanner) Scan(r io.Reader) error {
	abort := make(chan bool)
	defer close(abort)

	results, err := s.client.ScanStream(r, abort)
	if err != nil {
		return fmt.Errorf("clamd scan: %w", err)
	}
	var scanErr error
	for result := range results {
		switch result.Status {
		case clamd.RES_OK:
		case clamd.RES_FOUND:
			scanErr = fmt.Errorf("%w: %s", ErrInfected, result.Description)
		default:
			if scanErr == nil {
				scanErr = fmt.Errorf("clamd scan: %s", result.Description)
			}
		}
	}
	return scanErr
}

type noopScanner struct{}

func (noopScanner) Scan(io.Reader) error { return nil }

// fileRule 约束单个上传字段。accept 为完整 MIME 类型，或以 / 结尾的前缀（如 image/）。
type fileRule struct {
	field    string
	kind     string
	maxBytes int64
	accept   string
}

func (r fileRule) accepts(mime *mimetype.MIME) bool {
	if strings.HasSuffix(r.accept, "/") {
		return strings.HasPrefix(mime.String(), r.accept)
	}
	return mime.Is(r.accept)
}

// fileStore 校验、扫描并写入上传文件，失败时回收已写入的对象。
type fileStore struct {
	storage ObjectStorage
	scanner Scanner
	cleanup tasks.Enqueuer
	logger  *slog.Logger
}

func rejectUpload(reason string, e *errcode.Error) error {
	metrics.RecordUploadRejected(reason)
	return e
}

// put 按内容嗅探类型，不信任客户端声明的 Content-Type。
func (f fileStore) put(ctx context.Context, fh *multipart.FileHeader, rule fileRule, ownerID uint) (string, error) {
	if fh.Size > rule.maxBytes {
		return "", rejectUpload("too_large", errcode.Newf(errcode.ValidationFailed, "%s exceeds %d MB", rule.field, rule.maxBytes>>20).
			WithDetails(errcode.Detail{Field: rule.field, Message: "file too large"}))
	}

	file, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", rule.field, err)
	}
	defer file.Close()

	mime, err := mimetype.DetectReader(file)
	if err != nil {
		return "", fmt.Errorf("detect %s type: %w", rule.field, err)
	}
	if !rule.accepts(mime) {
		return "", rejectUpload("bad_type", errcode.Newf(errcode.ValidationFailed, "%s must be %s", rule.field, strings.TrimSuffix(rule.accept, "/")).
			WithDetails(errcode.Detail{Field: rule.field, Message: "unsupported file type " + mime.String()}))
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind %s: %w", rule.field, err)
	}
	if err := f.scanner.Scan(file); err != nil {
		if errors.Is(err, ErrInfected) {
			f.logger.Warn("upload rejected by scanner", slog.String("field", rule.field), slog.Any("error", err))
			return "", rejectUpload("infected", errcode.New(errcode.ValidationFailed, "malicious file detected"))
		}
		metrics.RecordUploadRejected("scan_failed")
		return "", fmt.Errorf("scan %s: %w", rule.field, err)
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind %s: %w", rule.field, err)
	}
	key := storage.NewObjectKey(rule.kind, ownerID, mime.Extension())
	if err := f.storage.UploadFile(ctx, key, file, fh.Size, mime.String()); err != nil {
		return "", fmt.Errorf("upload %s: %w", rule.field, err)
	}
	return key, nil
}

// discard 异步删除未被任何记录引用的对象。
func (f fileStore) discard(ctx context.Context, keys []string, reason string) {
	if len(keys) == 0 || f.cleanup == nil {
		return
	}
	if err := f.cleanup.EnqueueBlobCleanup(ctx, keys, reason, ""); err != nil {
		f.logger.Error("enqueue blob cleanup failed", slog.Any("error", err), slog.Any("keys", keys))
	}
}
