package uploader

import (
	"context"
	"testing"

	"studyhub/internal/access"
	"studyhub/internal/database"
	"studyhub/internal/errcode"
	"studyhub/internal/notify"
	"studyhub/internal/store"
	"studyhub/internal/store/storetest"
)

type capturePublisher struct {
	events []notify.Event
}

func (p *capturePublisher) Publish(_ context.Context, _ uint, ev notify.Event) error {
	p.events = append(p.events, ev)
	return nil
}

func application() ApplyInput {
	return ApplyInput{
		PenName:     "Note Master",
		Faculty:     "Engineering",
		Major:       "Computer",
		Year:        2,
		PhoneNumber: "0812345678",
		BankAccount: "1234567890",
	}
}

func TestApplyOnlyOnce(t *testing.T) {
	s := storetest.New(t)
	svc := NewUploaderService(s, nil, nil)
	ctx := context.Background()
	user := storetest.SeedUser(t, s, "student@example.com", database.RoleUser)
	caller := access.Identity{UserID: user.ID, Role: database.RoleUser}

	profile, err := svc.Apply(ctx, caller, application())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if profile.IsApproved {
		t.Fatalf("new application must not be approved")
	}

	_, err = svc.Apply(ctx, caller, application())
	if !errcode.IsCode(err, errcode.Conflict) {
		t.Fatalf("expected Conflict on second application, got %v", err)
	}

	_, err = svc.Apply(ctx, access.Anonymous, application())
	if !errcode.IsCode(err, errcode.Unauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

func TestUpdateOwnKeepsApproval(t *testing.T) {
	s := storetest.New(t)
	svc := NewUploaderService(s, nil, nil)
	ctx := context.Background()
	user := storetest.SeedUser(t, s, "writer@example.com", database.RoleUser)
	storetest.SeedUploader(t, s, user.ID, true)
	caller := access.Identity{UserID: user.ID, Role: database.RoleUser}

	pen := "New Pen"
	profile, err := svc.UpdateOwn(ctx, caller, store.UploaderPatch{PenName: &pen})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if profile.PenName != pen || !profile.IsApproved {
		t.Fatalf("unexpected profile %+v", profile)
	}

	stranger := storetest.SeedUser(t, s, "nobody@example.com", database.RoleUser)
	_, err = svc.UpdateOwn(ctx, access.Identity{UserID: stranger.ID}, store.UploaderPatch{PenName: &pen})
	if !errcode.IsCode(err, errcode.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestReviewToggles(t *testing.T) {
	s := storetest.New(t)
	pub := &capturePublisher{}
	svc := NewUploaderService(s, pub, nil)
	ctx := context.Background()
	user := storetest.SeedUser(t, s, "writer@example.com", database.RoleUser)
	profile := storetest.SeedUploader(t, s, user.ID, false)
	admin := storetest.SeedUser(t, s, "admin@example.com", database.RoleAdmin)
	adminID := access.Identity{UserID: admin.ID, Role: database.RoleAdmin}

	_, err := svc.Review(ctx, access.Identity{UserID: user.ID, Role: database.RoleUser}, profile.ID, true)
	if !errcode.IsCode(err, errcode.Forbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}

	for _, approve := range []bool{true, false, true} {
		got, err := svc.Review(ctx, adminID, profile.ID, approve)
		if err != nil {
			t.Fatalf("review %v: %v", approve, err)
		}
		if got.IsApproved != approve {
			t.Fatalf("expected approved=%v", approve)
		}
	}
	if len(pub.events) != 3 || pub.events[1].Type != notify.TypeUploaderRevoked {
		t.Fatalf("unexpected events %+v", pub.events)
	}

	_, err = svc.Review(ctx, adminID, 9999, true)
	if !errcode.IsCode(err, errcode.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestPendingAndApprovedListings(t *testing.T) {
	s := storetest.New(t)
	svc := NewUploaderService(s, nil, nil)
	ctx := context.Background()
	page := store.NewPage(1, 20, 20)

	approved := storetest.SeedUser(t, s, "approved@example.com", database.RoleUser)
	storetest.SeedUploader(t, s, approved.ID, true)
	waiting := storetest.SeedUser(t, s, "waiting@example.com", database.RoleUser)
	storetest.SeedUploader(t, s, waiting.ID, false)
	admin := storetest.SeedUser(t, s, "admin@example.com", database.RoleAdmin)

	storetest.SeedSheet(t, s, approved.ID, "Visible", 10, database.SheetApproved)
	storetest.SeedSheet(t, s, approved.ID, "Hidden", 10, database.SheetPending)

	pending, total, err := svc.Pending(ctx, access.Identity{UserID: admin.ID, Role: database.RoleAdmin}, page)
	if err != nil || total != 1 || pending[0].UserID != waiting.ID {
		t.Fatalf("pending: %v total=%d", err, total)
	}

	list, total, err := svc.ListApproved(ctx, page)
	if err != nil || total != 1 {
		t.Fatalf("approved: %v total=%d", err, total)
	}
	if list[0].TotalSheets != 1 {
		t.Fatalf("expected only approved sheets counted, got %d", list[0].TotalSheets)
	}
}
