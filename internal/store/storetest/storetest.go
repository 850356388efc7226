// Package storetest opens throwaway SQLite-backed stores for tests.
package storetest

import (
	"context"
	"fmt"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"studyhub/internal/database"
	"studyhub/internal/store"
)

// NewDB returns a migrated in-memory database private to the test.
// A single connection keeps the memory database alive and serializes writers.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?_foreign_keys=on"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sqlite: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// New returns a GormStore over NewDB.
func New(t testing.TB) *store.GormStore {
	t.Helper()
	return store.NewGormStore(NewDB(t))
}

// SeedUser inserts a user with a throwaway password hash.
func SeedUser(t testing.TB, s store.Store, email, role string) *database.User {
	t.Helper()
	user := &database.User{
		Email:        email,
		PasswordHash: "x",
		Role:         role,
		Info:         &database.UserInfo{FullName: email},
	}
	if err := s.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	return user
}

// SeedUploader inserts an uploader profile for userID.
func SeedUploader(t testing.TB, s store.Store, userID uint, approved bool) *database.UploaderProfile {
	t.Helper()
	profile := &database.UploaderProfile{
		UserID:      userID,
		PenName:     fmt.Sprintf("pen-%d", userID),
		Faculty:     "Engineering",
		Major:       "Computer",
		Year:        3,
		PhoneNumber: "0800000000",
		BankAccount: "123-4-56789-0",
	}
	if err := s.CreateUploaderProfile(context.Background(), profile); err != nil {
		t.Fatalf("seed uploader profile: %v", err)
	}
	if approved {
		if _, err := s.SetUploaderApproval(context.Background(), profile.ID, true); err != nil {
			t.Fatalf("approve uploader: %v", err)
		}
		profile.IsApproved = true
	}
	return profile
}

// SeedSheet inserts a sheet and moves it to status when it is not PENDING.
func SeedSheet(t testing.TB, s store.Store, uploaderID uint, name string, price float64, status string) *database.Sheet {
	t.Helper()
	ctx := context.Background()
	sheet := &database.Sheet{
		UploaderID:    uploaderID,
		SubjectName:   name,
		SubjectCode:   "CS101",
		Faculty:       "Engineering",
		Major:         "Computer",
		Term:          "1",
		Section:       "1",
		ShortDesc:     "short description of " + name,
		Price:         price,
		PdfKey:        fmt.Sprintf("sheets/%d/%s.pdf", uploaderID, name),
		PreviewImages: []string{"previews/a.png"},
	}
	if err := s.CreateSheet(ctx, sheet); err != nil {
		t.Fatalf("seed sheet: %v", err)
	}
	if status != "" && status != database.SheetPending {
		updated, err := s.TransitionSheet(ctx, sheet.ID, database.SheetPending, status, "")
		if err != nil {
			t.Fatalf("seed sheet status: %v", err)
		}
		sheet = updated
	}
	return sheet
}
