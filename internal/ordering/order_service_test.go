package ordering

import (
	"context"
	"sync"
	"testing"

	"studyhub/internal/access"
	"studyhub/internal/database"
	"studyhub/internal/errcode"
	"studyhub/internal/notify"
	"studyhub/internal/store"
	"studyhub/internal/store/storetest"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events map[uint][]notify.Event
}

func (p *recordingPublisher) Publish(_ context.Context, userID uint, ev notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = map[uint][]notify.Event{}
	}
	p.events[userID] = append(p.events[userID], ev)
	return nil
}

type recordingEnqueuer struct {
	keys []string
}

func (e *recordingEnqueuer) EnqueueBlobCleanup(_ context.Context, keys []string, _, _ string) error {
	e.keys = append(e.keys, keys...)
	return nil
}

type fixture struct {
	store     *store.GormStore
	svc       *OrderService
	publisher *recordingPublisher
	cleanup   *recordingEnqueuer
	buyer     access.Identity
	uploader  access.Identity
	admin     access.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := storetest.New(t)
	pub := &recordingPublisher{}
	enq := &recordingEnqueuer{}

	buyer := storetest.SeedUser(t, s, "buyer@example.com", database.RoleUser)
	uploader := storetest.SeedUser(t, s, "uploader@example.com", database.RoleUser)
	storetest.SeedUploader(t, s, uploader.ID, true)
	admin := storetest.SeedUser(t, s, "admin@example.com", database.RoleAdmin)

	return &fixture{
		store:     s,
		svc:       NewOrderService(s, pub, enq, nil),
		publisher: pub,
		cleanup:   enq,
		buyer:     access.Identity{UserID: buyer.ID, Role: database.RoleUser},
		uploader:  access.Identity{UserID: uploader.ID, Role: database.RoleUser, HasUploaderProfile: true, UploaderApproved: true},
		admin:     access.Identity{UserID: admin.ID, Role: database.RoleAdmin},
	}
}

func expectCode(t *testing.T, err error, code errcode.Code) {
	t.Helper()
	if !errcode.IsCode(err, code) {
		t.Fatalf("expected %s, got %v", code, err)
	}
}

func TestPurchaseLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sheet := storetest.SeedSheet(t, f.store, f.uploader.UserID, "Calculus", 100, database.SheetApproved)

	order, err := f.svc.Create(ctx, f.buyer, sheet.ID)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Status != database.OrderPending || order.Amount != 100 {
		t.Fatalf("unexpected order %+v", order)
	}
	if order.Sheet == nil || order.Sheet.Uploader == nil || order.Sheet.Uploader.UploaderProfile == nil {
		t.Fatalf("expected uploader payment details to be loaded")
	}

	if ok, _ := f.svc.CanDownload(ctx, f.buyer.UserID, sheet); ok {
		t.Fatalf("pending order must not grant download")
	}

	order, err = f.svc.AttachSlip(ctx, f.buyer, order.ID, "slips/1.png")
	if err != nil {
		t.Fatalf("attach slip: %v", err)
	}
	if order.Status != database.OrderPending || order.PaymentSlipKey != "slips/1.png" {
		t.Fatalf("slip must not change status: %+v", order)
	}

	order, err = f.svc.Confirm(ctx, f.admin, order.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if order.Status != database.OrderPaid || order.PaidAt == nil {
		t.Fatalf("expected PAID with paid_at, got %+v", order)
	}

	ok, err := f.svc.CanDownload(ctx, f.buyer.UserID, sheet)
	if err != nil || !ok {
		t.Fatalf("expected download entitlement, got %v %v", ok, err)
	}
	if got := f.publisher.events[f.buyer.UserID]; len(got) != 1 || got[0].Type != notify.TypePaymentConfirmed {
		t.Fatalf("expected payment notification, got %+v", got)
	}

	_, err = f.svc.Cancel(ctx, f.buyer, order.ID)
	expectCode(t, err, errcode.Conflict)
	_, err = f.svc.Confirm(ctx, f.admin, order.ID)
	expectCode(t, err, errcode.Conflict)
}

func TestCancelledOrderRejectsSlip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sheet := storetest.SeedSheet(t, f.store, f.uploader.UserID, "Physics", 50, database.SheetApproved)

	order, err := f.svc.Create(ctx, f.buyer, sheet.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cancelled, err := f.svc.Cancel(ctx, f.buyer, order.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != database.OrderCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}

	_, err = f.svc.AttachSlip(ctx, f.buyer, order.ID, "slips/late.png")
	expectCode(t, err, errcode.Conflict)

	// 取消后同一买家与讲义不能重新下单
	_, err = f.svc.Create(ctx, f.buyer, sheet.ID)
	expectCode(t, err, errcode.Conflict)
}

func TestCreatePreconditionOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := storetest.SeedSheet(t, f.store, f.uploader.UserID, "Pending", 100, database.SheetPending)
	free := storetest.SeedSheet(t, f.store, f.uploader.UserID, "Free", 0, database.SheetApproved)
	paid := storetest.SeedSheet(t, f.store, f.uploader.UserID, "Paid", 80, database.SheetApproved)

	_, err := f.svc.Create(ctx, f.buyer, 9999)
	expectCode(t, err, errcode.NotFound)
	_, err = f.svc.Create(ctx, f.buyer, pending.ID)
	expectCode(t, err, errcode.NotFound)
	_, err = f.svc.Create(ctx, f.buyer, free.ID)
	expectCode(t, err, errcode.ValidationFailed)
	_, err = f.svc.Create(ctx, f.uploader, paid.ID)
	expectCode(t, err, errcode.ValidationFailed)
	_, err = f.svc.Create(ctx, access.Anonymous, paid.ID)
	expectCode(t, err, errcode.Unauthorized)

	first, err := f.svc.Create(ctx, f.buyer, paid.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = f.svc.Create(ctx, f.buyer, paid.ID)
	expectCode(t, err, errcode.Conflict)
	e, _ := errcode.From(err)
	existing, ok := e.Data.(*database.Order)
	if !ok || existing.ID != first.ID {
		t.Fatalf("expected existing order in conflict data, got %#v", e.Data)
	}
}

func TestAmountIsSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sheet := storetest.SeedSheet(t, f.store, f.uploader.UserID, "Chemistry", 120, database.SheetApproved)

	order, err := f.svc.Create(ctx, f.buyer, sheet.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	price := 300.0
	if _, err := f.store.UpdateSheet(ctx, sheet.ID, store.SheetPatch{Price: &price}); err != nil {
		t.Fatalf("update sheet: %v", err)
	}
	got, err := f.svc.Get(ctx, f.buyer, order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Amount != 120 {
		t.Fatalf("amount must not follow price changes, got %v", got.Amount)
	}
}

func TestConfirmRequiresSlipAndAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sheet := storetest.SeedSheet(t, f.store, f.uploader.UserID, "Biology", 40, database.SheetApproved)

	order, err := f.svc.Create(ctx, f.buyer, sheet.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = f.svc.Confirm(ctx, f.buyer, order.ID)
	expectCode(t, err, errcode.Forbidden)

	_, err = f.svc.Confirm(ctx, f.admin, order.ID)
	expectCode(t, err, errcode.Conflict)
	e, _ := errcode.From(err)
	if e.Message != "cannot confirm payment without a payment slip" {
		t.Fatalf("unexpected message %q", e.Message)
	}

	_, err = f.svc.Confirm(ctx, f.admin, 9999)
	expectCode(t, err, errcode.NotFound)
}

func TestOrderOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sheet := storetest.SeedSheet(t, f.store, f.uploader.UserID, "History", 40, database.SheetApproved)
	stranger := storetest.SeedUser(t, f.store, "stranger@example.com", database.RoleUser)
	other := access.Identity{UserID: stranger.ID, Role: database.RoleUser}

	order, err := f.svc.Create(ctx, f.buyer, sheet.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = f.svc.AttachSlip(ctx, other, order.ID, "slips/x.png")
	expectCode(t, err, errcode.Forbidden)
	_, err = f.svc.Cancel(ctx, other, order.ID)
	expectCode(t, err, errcode.Forbidden)
	_, err = f.svc.Get(ctx, other, order.ID)
	expectCode(t, err, errcode.Forbidden)
	if _, err := f.svc.Get(ctx, f.admin, order.ID); err != nil {
		t.Fatalf("admin get: %v", err)
	}
	_, err = f.svc.AttachSlip(ctx, f.buyer, 9999, "slips/x.png")
	expectCode(t, err, errcode.NotFound)
}

func TestReplacingSlipSchedulesCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sheet := storetest.SeedSheet(t, f.store, f.uploader.UserID, "Geometry", 40, database.SheetApproved)

	order, err := f.svc.Create(ctx, f.buyer, sheet.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.AttachSlip(ctx, f.buyer, order.ID, "slips/a.png"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := f.svc.AttachSlip(ctx, f.buyer, order.ID, "slips/b.png"); err != nil {
		t.Fatalf("attach again: %v", err)
	}
	if len(f.cleanup.keys) != 1 || f.cleanup.keys[0] != "slips/a.png" {
		t.Fatalf("expected old slip cleanup, got %v", f.cleanup.keys)
	}
}

func TestConcurrentConfirmSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sheet := storetest.SeedSheet(t, f.store, f.uploader.UserID, "Statistics", 60, database.SheetApproved)

	order, err := f.svc.Create(ctx, f.buyer, sheet.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.AttachSlip(ctx, f.buyer, order.ID, "slips/s.png"); err != nil {
		t.Fatalf("attach: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.Confirm(ctx, f.admin, order.ID)
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errcode.IsCode(err, errcode.Conflict):
			conflicts++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 || conflicts != 1 {
		t.Fatalf("expected one success and one conflict, got %d/%d", ok, conflicts)
	}
}

func TestCanDownload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	free := storetest.SeedSheet(t, f.store, f.uploader.UserID, "Free", 0, database.SheetApproved)
	paid := storetest.SeedSheet(t, f.store, f.uploader.UserID, "Paid", 10, database.SheetApproved)

	cases := []struct {
		name   string
		userID uint
		sheet  *database.Sheet
		want   bool
	}{
		{"free for buyer", f.buyer.UserID, free, true},
		{"owner of paid sheet", f.uploader.UserID, paid, true},
		{"buyer without order", f.buyer.UserID, paid, false},
		{"anonymous on paid sheet", 0, paid, false},
	}
	for _, tc := range cases {
		got, err := f.svc.CanDownload(ctx, tc.userID, tc.sheet)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestListings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := storetest.SeedSheet(t, f.store, f.uploader.UserID, "A", 10, database.SheetApproved)
	b := storetest.SeedSheet(t, f.store, f.uploader.UserID, "B", 20, database.SheetApproved)

	first, err := f.svc.Create(ctx, f.buyer, a.ID)
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := f.svc.Create(ctx, f.buyer, b.ID); err != nil {
		t.Fatalf("create b: %v", err)
	}
	if _, err := f.svc.AttachSlip(ctx, f.buyer, first.ID, "slips/a.png"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := f.svc.Confirm(ctx, f.admin, first.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	page := store.NewPage(1, 10, 10)
	all, total, err := f.svc.Mine(ctx, f.buyer, "", page)
	if err != nil || total != 2 || len(all) != 2 {
		t.Fatalf("mine: %v total=%d", err, total)
	}
	pending, total, err := f.svc.Mine(ctx, f.buyer, database.OrderPending, page)
	if err != nil || total != 1 || pending[0].SheetID != b.ID {
		t.Fatalf("mine pending: %v total=%d", err, total)
	}
	_, _, err = f.svc.Mine(ctx, f.buyer, "SHIPPED", page)
	expectCode(t, err, errcode.ValidationFailed)

	purchased, err := f.svc.Purchased(ctx, f.buyer)
	if err != nil || len(purchased) != 1 || purchased[0].ID != first.ID {
		t.Fatalf("purchased: %v %+v", err, purchased)
	}

	_, _, err = f.svc.AdminList(ctx, f.buyer, "", page)
	expectCode(t, err, errcode.Forbidden)
	_, total, err = f.svc.AdminList(ctx, f.admin, database.OrderPaid, page)
	if err != nil || total != 1 {
		t.Fatalf("admin list: %v total=%d", err, total)
	}
}

func TestCanAttachSlip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sheet := storetest.SeedSheet(t, f.store, f.uploader.UserID, "Chemistry", 30, database.SheetApproved)

	order, err := f.svc.Create(ctx, f.buyer, sheet.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.svc.CanAttachSlip(ctx, f.buyer, order.ID); err != nil {
		t.Fatalf("buyer should be allowed: %v", err)
	}
	expectCode(t, f.svc.CanAttachSlip(ctx, f.admin, order.ID), errcode.Forbidden)
	expectCode(t, f.svc.CanAttachSlip(ctx, f.uploader, order.ID), errcode.Forbidden)
	expectCode(t, f.svc.CanAttachSlip(ctx, access.Identity{}, order.ID), errcode.Unauthorized)
	expectCode(t, f.svc.CanAttachSlip(ctx, f.buyer, 9999), errcode.NotFound)

	if _, err := f.svc.Cancel(ctx, f.buyer, order.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	expectCode(t, f.svc.CanAttachSlip(ctx, f.buyer, order.ID), errcode.Conflict)

	// 预检不修改订单。
	got, err := f.svc.Get(ctx, f.buyer, order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PaymentSlipKey != "" {
		t.Fatalf("precheck must not attach a slip")
	}
}
