package api

import (
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"studyhub/internal/access"
	"studyhub/internal/api/middleware"
	"studyhub/internal/catalog"
	"studyhub/internal/config"
	"studyhub/internal/errcode"
	"studyhub/internal/metrics"
	"studyhub/internal/storage"
	"studyhub/internal/store"
)

const (
	publicSheetPageSize = 12
	mySheetPageSize     = 10
)

// SheetHandler 处理讲义上传、浏览与下载。
type SheetHandler struct {
	sheets    *catalog.SheetService
	files     fileStore
	limits    config.UploadConfig
	presenter presenter
}

// NewSheetHandler 构造讲义处理器。
func NewSheetHandler(sheets *catalog.SheetService, files fileStore, limits config.UploadConfig, p presenter) *SheetHandler {
	return &SheetHandler{sheets: sheets, files: files, limits: limits, presenter: p}
}

type uploadSheetForm struct {
	SubjectName string   `form:"subjectName" binding:"required,min=2,max=255"`
	SubjectCode string   `form:"subjectCode" binding:"required,min=2,max=64"`
	Faculty     string   `form:"faculty" binding:"required,min=2,max=128"`
	Major       string   `form:"major" binding:"required,min=2,max=128"`
	Term        string   `form:"term" binding:"required,min=1,max=32"`
	Section     string   `form:"section" binding:"required,min=1,max=32"`
	ShortDesc   string   `form:"shortDesc" binding:"required,min=10,max=512"`
	LongDesc    string   `form:"longDesc"`
	Price       *float64 `form:"price" binding:"required,min=0"`
}

// Upload 接收一个 PDF 与至多若干预览图，写入对象存储后创建待审核讲义。
func (h *SheetHandler) Upload(c *gin.Context) {
	caller := identity(c)
	if err := access.RequireApprovedUploader(caller); err != nil {
		RespondError(c, err)
		return
	}

	var req uploadSheetForm
	if !bindForm(c, &req) {
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		BadRequest(c, "invalid multipart form")
		return
	}
	pdfs := form.File["pdf"]
	if len(pdfs) != 1 {
		BadRequest(c, "Exactly one PDF file is required", errcode.Detail{Field: "pdf", Message: "is required"})
		return
	}
	previews := form.File["previewImages"]
	if len(previews) > h.limits.MaxPreviewImages {
		BadRequest(c, fmt.Sprintf("At most %d preview images are allowed", h.limits.MaxPreviewImages),
			errcode.Detail{Field: "previewImages", Message: fmt.Sprintf("max %d", h.limits.MaxPreviewImages)})
		return
	}

	ctx := c.Request.Context()
	var stored []string
	fail := func(err error) {
		h.files.discard(ctx, stored, "sheet upload aborted")
		RespondError(c, err)
	}

	pdfKey, err := h.files.put(ctx, pdfs[0], fileRule{
		field:    "pdf",
		kind:     storage.KindSheetPDF,
		maxBytes: h.limits.MaxPDFBytes,
		accept:   "application/pdf",
	}, caller.UserID)
	if err != nil {
		fail(err)
		return
	}
	stored = append(stored, pdfKey)

	previewKeys, err := h.putImages(c, previews, "previewImages", storage.KindPreview, caller.UserID)
	stored = append(stored, previewKeys...)
	if err != nil {
		fail(err)
		return
	}

	sheet, err := h.sheets.Create(ctx, caller, catalog.CreateInput{
		SubjectName: req.SubjectName,
		SubjectCode: req.SubjectCode,
		Faculty:     req.Faculty,
		Major:       req.Major,
		Term:        req.Term,
		Section:     req.Section,
		ShortDesc:   req.ShortDesc,
		LongDesc:    req.LongDesc,
		Price:       *req.Price,
		PdfKey:      pdfKey,
		PreviewKeys: previewKeys,
	})
	if err != nil {
		fail(err)
		return
	}

	middleware.LoggerFromContext(c).Info("sheet uploaded", slog.Uint64("sheet_id", uint64(sheet.ID)))
	c.JSON(http.StatusCreated, gin.H{
		"message": "Sheet uploaded successfully and is pending review",
		"sheet":   h.presenter.sheet(ctx, sheet),
	})
}

// putImages 依次写入图片；出错时返回已写入的 key 以便回收。
func (h *SheetHandler) putImages(c *gin.Context, files []*multipart.FileHeader, field, kind string, ownerID uint) ([]string, error) {
	keys := make([]string, 0, len(files))
	for _, fh := range files {
		key, err := h.files.put(c.Request.Context(), fh, fileRule{
			field:    field,
			kind:     kind,
			maxBytes: h.limits.MaxImageBytes,
			accept:   "image/",
		}, ownerID)
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// List 返回已上架讲义，支持筛选、搜索、排序与分页。
func (h *SheetHandler) List(c *gin.Context) {
	page := pageFromQuery(c, publicSheetPageSize)
	sheets, total, err := h.sheets.List(c.Request.Context(), catalog.Filter{
		Faculty:    c.Query("faculty"),
		Major:      c.Query("major"),
		Term:       c.Query("term"),
		Search:     c.Query("search"),
		PriceClass: strings.ToLower(c.Query("priceType")),
		Sort:       c.Query("sortBy"),
		Page:       page,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sheets":     h.presenter.sheets(c.Request.Context(), sheets),
		"pagination": newPagination(page, total),
	})
}

// Get 返回讲义详情，仅在有权下载时附带 PDF 链接。
func (h *SheetHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	detail, err := h.sheets.Get(c.Request.Context(), identity(c), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sheet": h.presenter.sheetDetail(c.Request.Context(), detail)})
}

type updateSheetRequest struct {
	SubjectName *string  `json:"subjectName" binding:"omitempty,min=2,max=255"`
	SubjectCode *string  `json:"subjectCode" binding:"omitempty,min=2,max=64"`
	Faculty     *string  `json:"faculty" binding:"omitempty,min=2,max=128"`
	Major       *string  `json:"major" binding:"omitempty,min=2,max=128"`
	Term        *string  `json:"term" binding:"omitempty,min=1,max=32"`
	Section     *string  `json:"section" binding:"omitempty,min=1,max=32"`
	ShortDesc   *string  `json:"shortDesc" binding:"omitempty,min=10,max=512"`
	LongDesc    *string  `json:"longDesc"`
	Price       *float64 `json:"price" binding:"omitempty,min=0"`
}

// Update 修改讲义元数据，讲义随之回到待审核状态。
func (h *SheetHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req updateSheetRequest
	if !bindJSON(c, &req) {
		return
	}
	sheet, err := h.sheets.Update(c.Request.Context(), identity(c), id, store.SheetPatch{
		SubjectName: req.SubjectName,
		SubjectCode: req.SubjectCode,
		Faculty:     req.Faculty,
		Major:       req.Major,
		Term:        req.Term,
		Section:     req.Section,
		ShortDesc:   req.ShortDesc,
		LongDesc:    req.LongDesc,
		Price:       req.Price,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Sheet updated successfully and is pending review",
		"sheet":   h.presenter.sheet(c.Request.Context(), sheet),
	})
}

// Delete 删除没有订单引用的讲义，上传者本人与管理员共用。
func (h *SheetHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.sheets.Delete(c.Request.Context(), identity(c), id); err != nil {
		RespondError(c, err)
		return
	}
	middleware.LoggerFromContext(c).Info("sheet deleted", slog.Uint64("sheet_id", uint64(id)))
	c.JSON(http.StatusOK, gin.H{"message": "Sheet deleted successfully"})
}

// Download 校验下载权限、累计下载次数，并返回 PDF 的限时下载链接。
func (h *SheetHandler) Download(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	sheet, err := h.sheets.Download(ctx, identity(c), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	metrics.RecordDownload()

	filename := fmt.Sprintf("%s-%s.pdf", sheet.SubjectCode, sheet.SubjectName)
	url, err := h.files.storage.GeneratePresignedURL(ctx, sheet.PdfKey, h.limits.URLTTL, filename)
	if err != nil {
		RespondError(c, fmt.Errorf("presign sheet %d: %w", sheet.ID, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"downloadUrl":   url,
		"expiresAt":     time.Now().Add(h.limits.URLTTL).UTC(),
		"downloadCount": sheet.DownloadCount,
	})
}

// MyUploads 返回调用者上传的全部讲义（含未审核），附带销量。
func (h *SheetHandler) MyUploads(c *gin.Context) {
	page := pageFromQuery(c, mySheetPageSize)
	items, total, err := h.sheets.MyUploads(c.Request.Context(), identity(c), page)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sheets":     h.presenter.uploads(c.Request.Context(), items),
		"pagination": newPagination(page, total),
	})
}
