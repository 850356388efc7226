package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"studyhub/internal/database"
)

func (s *GormStore) orderScope(q OrderQuery) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		if q.UserID != 0 {
			tx = tx.Where("user_id = ?", q.UserID)
		}
		if q.UploaderID != 0 {
			tx = tx.Where("sheet_id IN (?)",
				s.db.Model(&database.Sheet{}).Select("id").Where("uploader_id = ?", q.UploaderID),
			)
		}
		if len(q.Statuses) > 0 {
			tx = tx.Where("status IN ?", q.Statuses)
		}
		if !q.UpdatedSince.IsZero() {
			tx = tx.Where("updated_at >= ?", q.UpdatedSince)
		}
		return tx
	}
}

func orderOrder(sort string) string {
	switch sort {
	case OrderSortPaidFirst:
		return "paid_at DESC, id DESC"
	case OrderSortUpdated:
		return "updated_at DESC, id DESC"
	default:
		return "created_at DESC, id DESC"
	}
}

func preloadOrder(tx *gorm.DB) *gorm.DB {
	return tx.
		Preload("User.Info").
		Preload("Sheet.Uploader.UploaderProfile")
}

func (s *GormStore) CreateOrder(ctx context.Context, order *database.Order) error {
	order.Status = database.OrderPending
	order.PaymentSlipKey = ""
	order.PaidAt = nil
	return translate(s.db.WithContext(ctx).Omit("User", "Sheet").Create(order).Error)
}

func (s *GormStore) GetOrder(ctx context.Context, id uint) (*database.Order, error) {
	var order database.Order
	if err := s.db.WithContext(ctx).Scopes(preloadOrder).First(&order, id).Error; err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

func (s *GormStore) FindOrder(ctx context.Context, userID, sheetID uint) (*database.Order, error) {
	var order database.Order
	err := s.db.WithContext(ctx).
		Scopes(preloadOrder).
		Where("user_id = ? AND sheet_id = ?", userID, sheetID).
		First(&order).Error
	if err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

// AttachPaymentSlip records the slip only while the order is PENDING and owned by buyerID.
func (s *GormStore) AttachPaymentSlip(ctx context.Context, id, buyerID uint, slipKey string) (*database.Order, error) {
	res := s.db.WithContext(ctx).Model(&database.Order{}).
		Where("id = ? AND user_id = ? AND status = ?", id, buyerID, database.OrderPending).
		Update("payment_slip_key", slipKey)
	if res.Error != nil {
		return nil, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, s.orderMiss(ctx, id)
	}
	return s.GetOrder(ctx, id)
}

// TransitionOrder is a compare-and-swap on the order status. With requireSlip the
// update also requires a payment slip to be present. Of two concurrent callers only
// one can match the row; the other gets ErrStaleState.
func (s *GormStore) TransitionOrder(ctx context.Context, id uint, from, to string, requireSlip bool) (*database.Order, error) {
	updates := map[string]any{"status": to}
	if to == database.OrderPaid {
		updates["paid_at"] = time.Now().UTC()
	}

	tx := s.db.WithContext(ctx).Model(&database.Order{}).Where("id = ? AND status = ?", id, from)
	if requireSlip {
		tx = tx.Where("payment_slip_key <> ''")
	}
	res := tx.Updates(updates)
	if res.Error != nil {
		return nil, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, s.orderMiss(ctx, id)
	}
	return s.GetOrder(ctx, id)
}

// orderMiss tells a missing row apart from a row in the wrong state.
func (s *GormStore) orderMiss(ctx context.Context, id uint) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&database.Order{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return translate(err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrStaleState
}

func (s *GormStore) ListOrders(ctx context.Context, q OrderQuery) ([]database.Order, int64, error) {
	base := s.db.WithContext(ctx).Model(&database.Order{}).Scopes(s.orderScope(q))

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	var orders []database.Order
	err := base.Session(&gorm.Session{}).
		Scopes(preloadOrder, paginate(q.Page)).
		Order(orderOrder(q.Sort)).
		Find(&orders).Error
	if err != nil {
		return nil, 0, translate(err)
	}
	return orders, total, nil
}

func (s *GormStore) CountOrders(ctx context.Context, q OrderQuery) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&database.Order{}).Scopes(s.orderScope(q)).Count(&count).Error; err != nil {
		return 0, translate(err)
	}
	return count, nil
}

func (s *GormStore) SumOrderAmount(ctx context.Context, q OrderQuery) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).Model(&database.Order{}).
		Scopes(s.orderScope(q)).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, translate(err)
	}
	return total, nil
}

func (s *GormStore) CountOrdersByUser(ctx context.Context, userIDs []uint) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(userIDs))
	if len(userIDs) == 0 {
		return counts, nil
	}

	var rows []groupCount
	err := s.db.WithContext(ctx).Model(&database.Order{}).
		Select("user_id AS group_key, COUNT(*) AS total").
		Where("user_id IN ?", userIDs).
		Group("user_id").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	for _, row := range rows {
		counts[row.GroupKey] = row.Total
	}
	return counts, nil
}
