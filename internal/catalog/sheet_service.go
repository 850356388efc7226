// Package catalog 管理讲义的上架、检索、修改、审核和下载。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"studyhub/internal/access"
	"studyhub/internal/database"
	"studyhub/internal/errcode"
	"studyhub/internal/notify"
	"studyhub/internal/store"
	"studyhub/internal/tasks"
)

// MaxPreviewImages 是单份讲义允许的预览图数量上限。
const MaxPreviewImages = 5

// Entitlements 判定用户对讲义的下载权限，由订单模块提供。
type Entitlements interface {
	CanDownload(ctx context.Context, userID uint, sheet *database.Sheet) (bool, error)
	HasPaid(ctx context.Context, userID, sheetID uint) (bool, error)
}

// SheetService 实现讲义目录相关业务。
type SheetService struct {
	store        store.Store
	entitlements Entitlements
	notifier     notify.Publisher
	cleanup      tasks.Enqueuer
	logger       *slog.Logger
}

// NewSheetService 创建讲义服务，notifier 与 cleanup 可为 nil。
func NewSheetService(s store.Store, entitlements Entitlements, notifier notify.Publisher, cleanup tasks.Enqueuer, logger *slog.Logger) *SheetService {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SheetService{
		store:        s,
		entitlements: entitlements,
		notifier:     notifier,
		cleanup:      cleanup,
		logger:       logger,
	}
}

// CreateInput 是上传讲义时的元数据与已存入对象存储的文件 key。
type CreateInput struct {
	SubjectName string
	SubjectCode string
	Faculty     string
	Major       string
	Term        string
	Section     string
	ShortDesc   string
	LongDesc    string
	Price       float64
	PdfKey      string
	PreviewKeys []string
}

// Filter 是公开列表的查询参数。
type Filter struct {
	Faculty    string
	Major      string
	Term       string
	Search     string
	PriceClass string
	Sort       string
	Page       store.Page
}

// Detail 是讲义详情；PdfVisible 为 false 时不得向调用者暴露 PDF。
type Detail struct {
	Sheet        *database.Sheet
	PdfVisible   bool
	HasPurchased bool
}

// Upload 是“我的上传”中的一项，附带已付款订单数。
type Upload struct {
	Sheet      database.Sheet
	SalesCount int64
}

func errSheetNotFound() *errcode.Error { return errcode.New(errcode.NotFound, "Sheet not found") }

// Create 由已审核通过的上传者提交讲义，状态固定为 PENDING。
func (s *SheetService) Create(ctx context.Context, caller access.Identity, in CreateInput) (*database.Sheet, error) {
	if err := access.RequireApprovedUploader(caller); err != nil {
		return nil, err
	}
	if in.PdfKey == "" {
		return nil, errcode.New(errcode.ValidationFailed, "PDF file is required").
			WithDetails(errcode.Detail{Field: "pdf", Message: "is required"})
	}
	if in.Price < 0 {
		return nil, errcode.New(errcode.ValidationFailed, "Price must be a non-negative number").
			WithDetails(errcode.Detail{Field: "price", Message: "must be >= 0"})
	}
	if len(in.PreviewKeys) > MaxPreviewImages {
		return nil, errcode.Newf(errcode.ValidationFailed, "At most %d preview images are allowed", MaxPreviewImages).
			WithDetails(errcode.Detail{Field: "previewImages", Message: fmt.Sprintf("max %d", MaxPreviewImages)})
	}

	sheet := &database.Sheet{
		UploaderID:    caller.UserID,
		SubjectName:   strings.TrimSpace(in.SubjectName),
		SubjectCode:   strings.TrimSpace(in.SubjectCode),
		Faculty:       strings.TrimSpace(in.Faculty),
		Major:         strings.TrimSpace(in.Major),
		Term:          strings.TrimSpace(in.Term),
		Section:       strings.TrimSpace(in.Section),
		ShortDesc:     strings.TrimSpace(in.ShortDesc),
		LongDesc:      strings.TrimSpace(in.LongDesc),
		Price:         in.Price,
		PdfKey:        in.PdfKey,
		PreviewImages: append([]string{}, in.PreviewKeys...),
	}
	if err := s.store.CreateSheet(ctx, sheet); err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	return s.store.GetSheet(ctx, sheet.ID)
}

// NormalizeSort 把前端使用的排序别名转换为统一取值，未知值按最新排序。
func NormalizeSort(sort string) string {
	switch strings.ToLower(strings.TrimSpace(sort)) {
	case store.SortOldest:
		return store.SortOldest
	case store.SortPriceAsc, "price_low":
		return store.SortPriceAsc
	case store.SortPriceDesc, "price_high":
		return store.SortPriceDesc
	case store.SortPopularity, "popular":
		return store.SortPopularity
	default:
		return store.SortNewest
	}
}

// List 返回公开可见（已审核通过）的讲义。
func (s *SheetService) List(ctx context.Context, f Filter) ([]database.Sheet, int64, error) {
	priceClass := strings.ToLower(strings.TrimSpace(f.PriceClass))
	if priceClass != "" && priceClass != store.PriceFree && priceClass != store.PricePaid {
		priceClass = ""
	}
	return s.store.ListSheets(ctx, store.SheetQuery{
		Statuses:   []string{database.SheetApproved},
		Faculty:    strings.TrimSpace(f.Faculty),
		Major:      strings.TrimSpace(f.Major),
		Term:       strings.TrimSpace(f.Term),
		Search:     strings.TrimSpace(f.Search),
		PriceClass: priceClass,
		Sort:       NormalizeSort(f.Sort),
		Page:       f.Page,
	})
}

// Get 返回讲义详情。未通过审核的讲义只对上传者和管理员可见，其余调用者得到 NotFound。
func (s *SheetService) Get(ctx context.Context, caller access.Identity, id uint) (*Detail, error) {
	sheet, err := s.store.GetSheet(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errSheetNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("load sheet %d: %w", id, err)
	}
	if sheet.Status != database.SheetApproved && !caller.Owns(sheet.UploaderID) && !caller.IsAdmin() {
		return nil, errSheetNotFound()
	}

	detail := &Detail{Sheet: sheet}
	if caller.IsAuthenticated() && sheet.Price > 0 {
		paid, err := s.entitlements.HasPaid(ctx, caller.UserID, sheet.ID)
		if err != nil {
			return nil, err
		}
		detail.HasPurchased = paid
	}
	detail.PdfVisible = sheet.Price == 0 || detail.HasPurchased || caller.Owns(sheet.UploaderID)
	return detail, nil
}

func (s *SheetService) loadOwned(ctx context.Context, caller access.Identity, id uint, allowAdmin bool, forbidden string) (*database.Sheet, error) {
	if err := access.RequireAuthenticated(caller); err != nil {
		return nil, err
	}
	sheet, err := s.store.GetSheet(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errSheetNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("load sheet %d: %w", id, err)
	}
	if !caller.Owns(sheet.UploaderID) && !(allowAdmin && caller.IsAdmin()) {
		return nil, errcode.New(errcode.Forbidden, forbidden)
	}
	return sheet, nil
}

// Update 修改讲义资料。任何成功的修改都会让讲义回到 PENDING 重新审核。
func (s *SheetService) Update(ctx context.Context, caller access.Identity, id uint, patch store.SheetPatch) (*database.Sheet, error) {
	if _, err := s.loadOwned(ctx, caller, id, false, "You can only update your own sheets"); err != nil {
		return nil, err
	}
	if patch.Price != nil && *patch.Price < 0 {
		return nil, errcode.New(errcode.ValidationFailed, "Price must be a non-negative number").
			WithDetails(errcode.Detail{Field: "price", Message: "must be >= 0"})
	}
	updated, err := s.store.UpdateSheet(ctx, id, trimPatch(patch))
	if errors.Is(err, store.ErrNotFound) {
		return nil, errSheetNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("update sheet %d: %w", id, err)
	}
	return updated, nil
}

func trimPatch(p store.SheetPatch) store.SheetPatch {
	for _, field := range []**string{
		&p.SubjectName, &p.SubjectCode, &p.Faculty, &p.Major,
		&p.Term, &p.Section, &p.ShortDesc, &p.LongDesc,
	} {
		if *field != nil {
			v := strings.TrimSpace(**field)
			*field = &v
		}
	}
	return p
}

// Delete 删除讲义，上传者本人或管理员可操作；已有订单引用时拒绝删除。
func (s *SheetService) Delete(ctx context.Context, caller access.Identity, id uint) error {
	sheet, err := s.loadOwned(ctx, caller, id, true, "You can only delete your own sheets")
	if err != nil {
		return err
	}

	err = s.store.DeleteSheet(ctx, id)
	switch {
	case errors.Is(err, store.ErrHasOrders):
		return errcode.New(errcode.Conflict, "Cannot delete sheet that has orders")
	case errors.Is(err, store.ErrNotFound):
		return errSheetNotFound()
	case err != nil:
		return fmt.Errorf("delete sheet %d: %w", id, err)
	}

	keys := make([]string, 0, len(sheet.PreviewImages)+1)
	if sheet.PdfKey != "" {
		keys = append(keys, sheet.PdfKey)
	}
	keys = append(keys, sheet.PreviewImages...)
	if s.cleanup != nil && len(keys) > 0 {
		if err := s.cleanup.EnqueueBlobCleanup(ctx, keys, "sheet deleted", ""); err != nil {
			s.logger.Warn("enqueue blob cleanup failed", slog.Uint64("sheet_id", uint64(id)), slog.Any("error", err))
		}
	}
	return nil
}

// Download 校验下载权限并累加下载次数，返回讲义以便生成下载地址。
func (s *SheetService) Download(ctx context.Context, caller access.Identity, id uint) (*database.Sheet, error) {
	if err := access.RequireAuthenticated(caller); err != nil {
		return nil, err
	}
	sheet, err := s.store.GetSheet(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && sheet.Status != database.SheetApproved) {
		return nil, errSheetNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("load sheet %d: %w", id, err)
	}

	ok, err := s.entitlements.CanDownload(ctx, caller.UserID, sheet)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errcode.New(errcode.Forbidden, "You need to purchase this sheet to download")
	}

	if err := s.store.IncrementDownloadCount(ctx, id); err != nil {
		return nil, fmt.Errorf("record download %d: %w", id, err)
	}
	sheet.DownloadCount++
	return sheet, nil
}

// MyUploads 列出调用者上传的全部讲义（任意状态）及其销量。
func (s *SheetService) MyUploads(ctx context.Context, caller access.Identity, page store.Page) ([]Upload, int64, error) {
	if err := access.RequireAuthenticated(caller); err != nil {
		return nil, 0, err
	}
	sheets, total, err := s.store.ListSheets(ctx, store.SheetQuery{UploaderID: caller.UserID, Page: page})
	if err != nil {
		return nil, 0, err
	}

	ids := make([]uint, len(sheets))
	for i := range sheets {
		ids[i] = sheets[i].ID
	}
	sales, err := s.store.CountPaidOrdersBySheet(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	uploads := make([]Upload, len(sheets))
	for i := range sheets {
		uploads[i] = Upload{Sheet: sheets[i], SalesCount: sales[sheets[i].ID]}
	}
	return uploads, total, nil
}

// Review 由管理员审核讲义，只能从 PENDING 流转。驳回必须填写原因。
func (s *SheetService) Review(ctx context.Context, admin access.Identity, id uint, status, reason string) (*database.Sheet, error) {
	if err := access.RequireAdmin(admin); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	switch status {
	case database.SheetApproved:
		reason = ""
	case database.SheetRejected:
		if reason == "" {
			return nil, errcode.New(errcode.ValidationFailed, "Rejection reason is required").
				WithDetails(errcode.Detail{Field: "rejectionReason", Message: "is required when rejecting"})
		}
	default:
		return nil, errcode.New(errcode.ValidationFailed, "Invalid status").
			WithDetails(errcode.Detail{Field: "status", Message: "must be APPROVED or REJECTED"})
	}

	sheet, err := s.store.TransitionSheet(ctx, id, database.SheetPending, status, reason)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, errSheetNotFound()
	case errors.Is(err, store.ErrStaleState):
		return nil, errcode.New(errcode.Conflict, "Only pending sheets can be reviewed")
	case err != nil:
		return nil, fmt.Errorf("review sheet %d: %w", id, err)
	}

	if err := s.notifier.Publish(ctx, sheet.UploaderID, notify.SheetReviewed(sheet)); err != nil {
		s.logger.Warn("publish sheet review failed", slog.Uint64("sheet_id", uint64(id)), slog.Any("error", err))
	}
	return sheet, nil
}

// AdminList 供管理员按状态和关键字查看讲义。
func (s *SheetService) AdminList(ctx context.Context, admin access.Identity, status, search string, page store.Page) ([]database.Sheet, int64, error) {
	if err := access.RequireAdmin(admin); err != nil {
		return nil, 0, err
	}
	q := store.SheetQuery{Search: strings.TrimSpace(search), Page: page}
	if status != "" {
		switch status {
		case database.SheetPending, database.SheetApproved, database.SheetRejected:
			q.Statuses = []string{status}
		default:
			return nil, 0, errcode.New(errcode.ValidationFailed, "Invalid status").
				WithDetails(errcode.Detail{Field: "status", Message: "must be PENDING, APPROVED or REJECTED"})
		}
	}
	return s.store.ListSheets(ctx, q)
}
