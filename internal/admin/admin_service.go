// Package admin 提供管理后台的只读汇总视图和用户角色管理。
package admin

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"studyhub/internal/access"
	"studyhub/internal/database"
	"studyhub/internal/errcode"
	"studyhub/internal/store"
)

const recentLimit = 5

// Dashboard 是后台首页的统计数据。各项计数并行查询，彼此之间不保证原子快照。
type Dashboard struct {
	TotalUsers       int64
	TotalSheets      int64
	TotalOrders      int64
	TotalRevenue     float64
	PendingSheets    int64
	PendingOrders    int64
	PendingUploaders int64
	RecentSheets     []database.Sheet
	RecentOrders     []database.Order
}

// UserRow 是后台用户列表中的一行。
type UserRow struct {
	User        database.User
	TotalSheets int64
	TotalOrders int64
}

// AdminService 实现后台汇总查询。
type AdminService struct {
	store store.Store
}

// NewAdminService 创建后台服务。
func NewAdminService(s store.Store) *AdminService {
	return &AdminService{store: s}
}

// Dashboard 汇总用户、讲义、订单数量与已付款收入，以及最近 5 条讲义和订单。
func (s *AdminService) Dashboard(ctx context.Context, admin access.Identity) (*Dashboard, error) {
	if err := access.RequireAdmin(admin); err != nil {
		return nil, err
	}

	var d Dashboard
	recent := store.Page{Number: 1, Limit: recentLimit}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.TotalUsers, err = s.store.CountUsers(gctx)
		return err
	})
	g.Go(func() (err error) {
		d.TotalSheets, err = s.store.CountSheets(gctx, store.SheetQuery{})
		return err
	})
	g.Go(func() (err error) {
		d.TotalOrders, err = s.store.CountOrders(gctx, store.OrderQuery{})
		return err
	})
	g.Go(func() (err error) {
		d.TotalRevenue, err = s.store.SumOrderAmount(gctx, store.OrderQuery{Statuses: []string{database.OrderPaid}})
		return err
	})
	g.Go(func() (err error) {
		d.PendingSheets, err = s.store.CountSheets(gctx, store.SheetQuery{Statuses: []string{database.SheetPending}})
		return err
	})
	g.Go(func() (err error) {
		d.PendingOrders, err = s.store.CountOrders(gctx, store.OrderQuery{Statuses: []string{database.OrderPending}})
		return err
	})
	g.Go(func() (err error) {
		d.PendingUploaders, err = s.store.CountUploaderProfiles(gctx, false)
		return err
	})
	g.Go(func() (err error) {
		d.RecentSheets, _, err = s.store.ListSheets(gctx, store.SheetQuery{Page: recent})
		return err
	})
	g.Go(func() (err error) {
		d.RecentOrders, _, err = s.store.ListOrders(gctx, store.OrderQuery{Page: recent})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	return &d, nil
}

// Users 按关键字和角色列出用户，附带上传讲义数与订单数。
func (s *AdminService) Users(ctx context.Context, admin access.Identity, search, role string, page store.Page) ([]UserRow, int64, error) {
	if err := access.RequireAdmin(admin); err != nil {
		return nil, 0, err
	}
	if role != database.RoleUser && role != database.RoleAdmin {
		role = ""
	}
	users, total, err := s.store.ListUsers(ctx, store.UserQuery{Search: search, Role: role, Page: page})
	if err != nil {
		return nil, 0, err
	}

	ids := make([]uint, len(users))
	for i := range users {
		ids[i] = users[i].ID
	}
	var sheets, orders map[uint]int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		sheets, err = s.store.CountSheetsByUploader(gctx, ids, "")
		return err
	})
	g.Go(func() (err error) {
		orders, err = s.store.CountOrdersByUser(gctx, ids)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, 0, fmt.Errorf("user counts: %w", err)
	}

	rows := make([]UserRow, len(users))
	for i := range users {
		rows[i] = UserRow{User: users[i], TotalSheets: sheets[users[i].ID], TotalOrders: orders[users[i].ID]}
	}
	return rows, total, nil
}

// SetRole 修改其他用户的角色；管理员不能修改自己的角色。
func (s *AdminService) SetRole(ctx context.Context, admin access.Identity, userID uint, role string) (*database.User, error) {
	if err := access.RequireAdmin(admin); err != nil {
		return nil, err
	}
	if role != database.RoleUser && role != database.RoleAdmin {
		return nil, errcode.New(errcode.ValidationFailed, "Role must be USER or ADMIN").
			WithDetails(errcode.Detail{Field: "role", Message: "must be USER or ADMIN"})
	}
	if userID == admin.UserID {
		return nil, errcode.New(errcode.ValidationFailed, "You cannot change your own role")
	}
	user, err := s.store.SetUserRole(ctx, userID, role)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errcode.New(errcode.NotFound, "User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("set role for user %d: %w", userID, err)
	}
	return user, nil
}
