package admin

import (
	"context"
	"testing"

	"studyhub/internal/access"
	"studyhub/internal/database"
	"studyhub/internal/errcode"
	"studyhub/internal/store"
	"studyhub/internal/store/storetest"
)

func TestDashboard(t *testing.T) {
	s := storetest.New(t)
	svc := NewAdminService(s)
	ctx := context.Background()

	root := storetest.SeedUser(t, s, "root@example.com", database.RoleAdmin)
	writer := storetest.SeedUser(t, s, "writer@example.com", database.RoleUser)
	storetest.SeedUploader(t, s, writer.ID, true)
	applicant := storetest.SeedUser(t, s, "applicant@example.com", database.RoleUser)
	storetest.SeedUploader(t, s, applicant.ID, false)
	buyer := storetest.SeedUser(t, s, "buyer@example.com", database.RoleUser)

	a := storetest.SeedSheet(t, s, writer.ID, "A", 100, database.SheetApproved)
	b := storetest.SeedSheet(t, s, writer.ID, "B", 40, database.SheetApproved)
	storetest.SeedSheet(t, s, writer.ID, "C", 40, database.SheetPending)

	paid := &database.Order{UserID: buyer.ID, SheetID: a.ID, Amount: 100}
	if err := s.CreateOrder(ctx, paid); err != nil {
		t.Fatalf("order: %v", err)
	}
	if _, err := s.AttachPaymentSlip(ctx, paid.ID, buyer.ID, "slips/a.png"); err != nil {
		t.Fatalf("slip: %v", err)
	}
	if _, err := s.TransitionOrder(ctx, paid.ID, database.OrderPending, database.OrderPaid, true); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if err := s.CreateOrder(ctx, &database.Order{UserID: buyer.ID, SheetID: b.ID, Amount: 40}); err != nil {
		t.Fatalf("pending order: %v", err)
	}

	_, err := svc.Dashboard(ctx, access.Identity{UserID: buyer.ID, Role: database.RoleUser})
	if !errcode.IsCode(err, errcode.Forbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}

	d, err := svc.Dashboard(ctx, access.Identity{UserID: root.ID, Role: database.RoleAdmin})
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.TotalUsers != 4 || d.TotalSheets != 3 || d.TotalOrders != 2 {
		t.Fatalf("unexpected totals %+v", d)
	}
	if d.TotalRevenue != 100 || d.PendingSheets != 1 || d.PendingOrders != 1 || d.PendingUploaders != 1 {
		t.Fatalf("unexpected pending counts %+v", d)
	}
	if len(d.RecentSheets) != 3 || len(d.RecentOrders) != 2 {
		t.Fatalf("unexpected recent activity %d/%d", len(d.RecentSheets), len(d.RecentOrders))
	}
}

func TestUsersWithCounts(t *testing.T) {
	s := storetest.New(t)
	svc := NewAdminService(s)
	ctx := context.Background()

	root := storetest.SeedUser(t, s, "root@example.com", database.RoleAdmin)
	writer := storetest.SeedUser(t, s, "writer@example.com", database.RoleUser)
	storetest.SeedSheet(t, s, writer.ID, "A", 10, database.SheetApproved)
	storetest.SeedSheet(t, s, writer.ID, "B", 10, database.SheetRejected)
	admin := access.Identity{UserID: root.ID, Role: database.RoleAdmin}
	page := store.NewPage(1, 20, 20)

	rows, total, err := svc.Users(ctx, admin, "writer", "", page)
	if err != nil || total != 1 {
		t.Fatalf("users: %v total=%d", err, total)
	}
	if rows[0].TotalSheets != 2 || rows[0].TotalOrders != 0 {
		t.Fatalf("unexpected counts %+v", rows[0])
	}

	_, total, err = svc.Users(ctx, admin, "", database.RoleAdmin, page)
	if err != nil || total != 1 {
		t.Fatalf("role filter: %v total=%d", err, total)
	}
	_, total, err = svc.Users(ctx, admin, "", "SUPERUSER", page)
	if err != nil || total != 2 {
		t.Fatalf("unknown role must be ignored: %v total=%d", err, total)
	}
}

func TestSetRole(t *testing.T) {
	s := storetest.New(t)
	svc := NewAdminService(s)
	ctx := context.Background()

	root := storetest.SeedUser(t, s, "root@example.com", database.RoleAdmin)
	user := storetest.SeedUser(t, s, "user@example.com", database.RoleUser)
	admin := access.Identity{UserID: root.ID, Role: database.RoleAdmin}

	_, err := svc.SetRole(ctx, admin, root.ID, database.RoleUser)
	if !errcode.IsCode(err, errcode.ValidationFailed) {
		t.Fatalf("expected ValidationFailed for own role, got %v", err)
	}
	_, err = svc.SetRole(ctx, admin, user.ID, "OWNER")
	if !errcode.IsCode(err, errcode.ValidationFailed) {
		t.Fatalf("expected ValidationFailed for bad role, got %v", err)
	}
	_, err = svc.SetRole(ctx, admin, 9999, database.RoleAdmin)
	if !errcode.IsCode(err, errcode.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	updated, err := svc.SetRole(ctx, admin, user.ID, database.RoleAdmin)
	if err != nil || updated.Role != database.RoleAdmin {
		t.Fatalf("set role: %v %+v", err, updated)
	}
}
