package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gabriel-vasile/mimetype"

	"studyhub/internal/errcode"
	"studyhub/internal/storage"
)

type stubScanner struct{ err error }

func (s stubScanner) Scan(r io.Reader) error {
	_, _ = io.Copy(io.Discard, r)
	return s.err
}

// fileHeader 通过真实的 multipart 解析得到 FileHeader。
func fileHeader(t *testing.T, field, name string, content []byte) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if err := req.ParseMultipartForm(1 << 20); err != nil {
		t.Fatalf("parse form: %v", err)
	}
	return req.MultipartForm.File[field][0]
}

func newFileStore(scanner Scanner) (fileStore, *fakeStorage, *recordingEnqueuer) {
	st := newFakeStorage()
	cleanup := &recordingEnqueuer{}
	return fileStore{
		storage: st,
		scanner: scanner,
		cleanup: cleanup,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, st, cleanup
}

var pdfRule = fileRule{field: "pdf", kind: storage.KindSheetPDF, maxBytes: 1 << 20, accept: "application/pdf"}

func TestFileRuleAccepts(t *testing.T) {
	png := mimetype.Detect(pngBytes)
	pdf := mimetype.Detect(pdfBytes)

	images := fileRule{accept: "image/"}
	if !images.accepts(png) || images.accepts(pdf) {
		t.Fatalf("image prefix rule mismatch: png=%s pdf=%s", png, pdf)
	}
	if !pdfRule.accepts(pdf) || pdfRule.accepts(png) {
		t.Fatalf("pdf rule mismatch")
	}
}

func TestPutStoresSniffedType(t *testing.T) {
	files, st, _ := newFileStore(noopScanner{})

	// 客户端声明的文件名与类型不参与判断。
	key, err := files.put(context.Background(), fileHeader(t, "pdf", "notes.bin", pdfBytes), pdfRule, 7)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if got := st.types[key]; got != "application/pdf" {
		t.Fatalf("expected sniffed content type, got %q", got)
	}
	if !bytes.Equal(st.uploaded[key], pdfBytes) {
		t.Fatalf("stored content differs from upload")
	}
	if !strings.HasPrefix(key, "sheets/7/") || !strings.HasSuffix(key, ".pdf") {
		t.Fatalf("unexpected object key %q", key)
	}
}

func TestPutRejections(t *testing.T) {
	small := pdfRule
	small.maxBytes = 8

	cases := []struct {
		name    string
		rule    fileRule
		content []byte
		scanner Scanner
		code    errcode.Code
	}{
		{"too large", small, pdfBytes, noopScanner{}, errcode.ValidationFailed},
		{"wrong type", pdfRule, pngBytes, noopScanner{}, errcode.ValidationFailed},
		{"infected", pdfRule, pdfBytes, stubScanner{err: ErrInfected}, errcode.ValidationFailed},
	}
	for _, tc := range cases {
		files, st, _ := newFileStore(tc.scanner)
		_, err := files.put(context.Background(), fileHeader(t, "pdf", "a.pdf", tc.content), tc.rule, 1)
		e, ok := errcode.From(err)
		if !ok || e.Code != tc.code {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.code, err)
		}
		if st.count() != 0 {
			t.Fatalf("%s: rejected file must not be stored", tc.name)
		}
	}
}

func TestPutScannerFailureIsInternal(t *testing.T) {
	files, st, _ := newFileStore(stubScanner{err: errors.New("connection refused")})
	_, err := files.put(context.Background(), fileHeader(t, "pdf", "a.pdf", pdfBytes), pdfRule, 1)
	if err == nil {
		t.Fatalf("expected scanner error")
	}
	if _, ok := errcode.From(err); ok {
		t.Fatalf("scanner outage must not look like a client error: %v", err)
	}
	if st.count() != 0 {
		t.Fatalf("file must not be stored when scanning fails")
	}
}

func TestDiscardEnqueuesCleanup(t *testing.T) {
	files, _, cleanup := newFileStore(noopScanner{})
	files.discard(context.Background(), nil, "nothing")
	files.discard(context.Background(), []string{"a", "b"}, "aborted")
	if got := cleanup.all(); len(got) != 2 {
		t.Fatalf("expected two keys, got %v", got)
	}
}

func TestNewScannerWithoutAddressIsNoop(t *testing.T) {
	if _, ok := NewScanner("  ").(noopScanner); !ok {
		t.Fatalf("expected noop scanner for empty address")
	}
	if _, ok := NewScanner("tcp://127.0.0.1:3310").(*ClamdScanner); !ok {
		t.Fatalf("expected clamd scanner")
	}
}
