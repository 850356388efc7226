package store

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"studyhub/internal/database"
)

func sheetScope(q SheetQuery) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		if len(q.Statuses) > 0 {
			tx = tx.Where("status IN ?", q.Statuses)
		}
		if q.UploaderID != 0 {
			tx = tx.Where("uploader_id = ?", q.UploaderID)
		}
		if q.Faculty != "" {
			tx = tx.Where(`LOWER(faculty) LIKE ? ESCAPE '\'`, containsPattern(q.Faculty))
		}
		if q.Major != "" {
			tx = tx.Where(`LOWER(major) LIKE ? ESCAPE '\'`, containsPattern(q.Major))
		}
		if q.Term != "" {
			tx = tx.Where(`LOWER(term) LIKE ? ESCAPE '\'`, containsPattern(q.Term))
		}
		if search := strings.TrimSpace(q.Search); search != "" {
			pattern := containsPattern(search)
			tx = tx.Where(
				`LOWER(subject_name) LIKE ? ESCAPE '\' OR LOWER(subject_code) LIKE ? ESCAPE '\' OR LOWER(short_desc) LIKE ? ESCAPE '\'`,
				pattern, pattern, pattern,
			)
		}
		switch q.PriceClass {
		case PriceFree:
			tx = tx.Where("price = 0")
		case PricePaid:
			tx = tx.Where("price > 0")
		}
		if !q.UpdatedSince.IsZero() {
			tx = tx.Where("updated_at >= ?", q.UpdatedSince)
		}
		return tx
	}
}

func sheetOrder(sort string) string {
	switch sort {
	case SortOldest:
		return "created_at ASC, id ASC"
	case SortPriceAsc:
		return "price ASC, id DESC"
	case SortPriceDesc:
		return "price DESC, id DESC"
	case SortPopularity:
		return "download_count DESC, id DESC"
	case SortUpdated:
		return "updated_at DESC, id DESC"
	default:
		return "created_at DESC, id DESC"
	}
}

func (s *GormStore) CreateSheet(ctx context.Context, sheet *database.Sheet) error {
	sheet.Status = database.SheetPending
	sheet.RejectionReason = ""
	sheet.DownloadCount = 0
	return translate(s.db.WithContext(ctx).Omit("Uploader").Create(sheet).Error)
}

func (s *GormStore) GetSheet(ctx context.Context, id uint) (*database.Sheet, error) {
	var sheet database.Sheet
	err := s.db.WithContext(ctx).
		Preload("Uploader.Info").
		Preload("Uploader.UploaderProfile").
		First(&sheet, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &sheet, nil
}

func (s *GormStore) ListSheets(ctx context.Context, q SheetQuery) ([]database.Sheet, int64, error) {
	base := s.db.WithContext(ctx).Model(&database.Sheet{}).Scopes(sheetScope(q))

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	var sheets []database.Sheet
	err := base.Session(&gorm.Session{}).
		Preload("Uploader.Info").
		Preload("Uploader.UploaderProfile").
		Order(sheetOrder(q.Sort)).
		Scopes(paginate(q.Page)).
		Find(&sheets).Error
	if err != nil {
		return nil, 0, translate(err)
	}
	return sheets, total, nil
}

func (s *GormStore) CountSheets(ctx context.Context, q SheetQuery) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&database.Sheet{}).Scopes(sheetScope(q)).Count(&count).Error; err != nil {
		return 0, translate(err)
	}
	return count, nil
}

// UpdateSheet applies the patch and sends the sheet back to review.
func (s *GormStore) UpdateSheet(ctx context.Context, id uint, patch SheetPatch) (*database.Sheet, error) {
	updates := map[string]any{
		"status":           database.SheetPending,
		"rejection_reason": "",
	}
	if patch.SubjectName != nil {
		updates["subject_name"] = *patch.SubjectName
	}
	if patch.SubjectCode != nil {
		updates["subject_code"] = *patch.SubjectCode
	}
	if patch.Faculty != nil {
		updates["faculty"] = *patch.Faculty
	}
	if patch.Major != nil {
		updates["major"] = *patch.Major
	}
	if patch.Term != nil {
		updates["term"] = *patch.Term
	}
	if patch.Section != nil {
		updates["section"] = *patch.Section
	}
	if patch.ShortDesc != nil {
		updates["short_desc"] = *patch.ShortDesc
	}
	if patch.LongDesc != nil {
		updates["long_desc"] = *patch.LongDesc
	}
	if patch.Price != nil {
		updates["price"] = *patch.Price
	}

	res := s.db.WithContext(ctx).Model(&database.Sheet{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetSheet(ctx, id)
}

// DeleteSheet removes the row permanently. It refuses while any order references the sheet;
// the RESTRICT foreign key covers orders inserted concurrently with the check.
func (s *GormStore) DeleteSheet(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var orders int64
		if err := tx.Model(&database.Order{}).Unscoped().Where("sheet_id = ?", id).Count(&orders).Error; err != nil {
			return err
		}
		if orders > 0 {
			return ErrHasOrders
		}
		res := tx.Unscoped().Delete(&database.Sheet{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return ErrHasOrders
	}
	return translate(err)
}

// TransitionSheet moves a sheet from one review status to another with a single
// conditional UPDATE. ErrStaleState means the sheet exists but is no longer in from.
func (s *GormStore) TransitionSheet(ctx context.Context, id uint, from, to, reason string) (*database.Sheet, error) {
	res := s.db.WithContext(ctx).Model(&database.Sheet{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":           to,
			"rejection_reason": reason,
		})
	if res.Error != nil {
		return nil, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetSheet(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrStaleState
	}
	return s.GetSheet(ctx, id)
}

func (s *GormStore) IncrementDownloadCount(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&database.Sheet{}).
		Where("id = ?", id).
		UpdateColumn("download_count", gorm.Expr("download_count + ?", 1))
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type groupCount struct {
	GroupKey uint
	Total    int64
}

func (s *GormStore) CountPaidOrdersBySheet(ctx context.Context, sheetIDs []uint) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(sheetIDs))
	if len(sheetIDs) == 0 {
		return counts, nil
	}

	var rows []groupCount
	err := s.db.WithContext(ctx).Model(&database.Order{}).
		Select("sheet_id AS group_key, COUNT(*) AS total").
		Where("sheet_id IN ? AND status = ?", sheetIDs, database.OrderPaid).
		Group("sheet_id").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	for _, row := range rows {
		counts[row.GroupKey] = row.Total
	}
	return counts, nil
}

func (s *GormStore) CountSheetsByUploader(ctx context.Context, uploaderIDs []uint, status string) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(uploaderIDs))
	if len(uploaderIDs) == 0 {
		return counts, nil
	}

	tx := s.db.WithContext(ctx).Model(&database.Sheet{}).
		Select("uploader_id AS group_key, COUNT(*) AS total").
		Where("uploader_id IN ?", uploaderIDs)
	if status != "" {
		tx = tx.Where("status = ?", status)
	}

	var rows []groupCount
	if err := tx.Group("uploader_id").Scan(&rows).Error; err != nil {
		return nil, translate(err)
	}
	for _, row := range rows {
		counts[row.GroupKey] = row.Total
	}
	return counts, nil
}
