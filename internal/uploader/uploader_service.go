// Package uploader 处理上传者资格申请与管理员审核。
package uploader

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
)

// ApplyInput 是上传者申请资料。
type ApplyInput struct {
	PenName     string
	Faculty     string
	Major       string
	Year        int
	PhoneNumber string
	BankAccount string
}

// Approved 是公开的上传者条目，附带已通过审核的讲义数。
type Approved struct {
	Profile     database.UploaderProfile
	TotalSheets int64
}

// UploaderService 实现上传者申请流程。
type UploaderService struct {
	store    store.Store
	notifier notify.Publisher
	logger   *slog.Logger
}

// NewUploaderService 创建上传者服务。
func NewUploaderService(s store.Store, notifier notify.Publisher, logger *slog.Logger) *UploaderService {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UploaderService{store: s, notifier: notifier, logger: logger}
}

// Apply 提交申请。每个用户只能申请一次，被拒后也不能再次提交。
func (s *UploaderService) Apply(ctx context.Context, caller access.Identity, in ApplyInput) (*database.UploaderProfile, error) {
	if err := access.RequireAuthenticated(caller); err != nil {
		return nil, err
	}
	if in.Year < 1 {
		return nil, errcode.New(errcode.ValidationFailed, "Year is required").
			WithDetails(errcode.Detail{Field: "year", Message: "must be a positive number"})
	}

	profile := &database.UploaderProfile{
		UserID:      caller.UserID,
		PenName:     strings.TrimSpace(in.PenName),
		Faculty:     strings.TrimSpace(in.Faculty),
		Major:       strings.TrimSpace(in.Major),
		Year:        in.Year,
		PhoneNumber: strings.TrimSpace(in.PhoneNumber),
		BankAccount: strings.TrimSpace(in.BankAccount),
	}
	if err := s.store.CreateUploaderProfile(ctx, profile); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, errcode.New(errcode.Conflict, "You have already applied to become an uploader")
		}
		return nil, fmt.Errorf("create uploader profile: %w", err)
	}
	return s.store.GetUploaderProfile(ctx, profile.ID)
}

// UpdateOwn 修改自己的申请资料，不影响审核结果。
func (s *UploaderService) UpdateOwn(ctx context.Context, caller access.Identity, patch store.UploaderPatch) (*database.UploaderProfile, error) {
	if err := access.RequireAuthenticated(caller); err != nil {
		return nil, err
	}
	if patch.Year != nil && *patch.Year < 1 {
		return nil, errcode.New(errcode.ValidationFailed, "Year must be a positive number").
			WithDetails(errcode.Detail{Field: "year", Message: "must be a positive number"})
	}
	profile, err := s.store.UpdateUploaderProfile(ctx, caller.UserID, patch)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errcode.New(errcode.NotFound, "Uploader profile not found")
	}
	if err != nil {
		return nil, fmt.Errorf("update uploader profile: %w", err)
	}
	return profile, nil
}

// Review 设置申请的审核结果，可反复切换。
func (s *UploaderService) Review(ctx context.Context, admin access.Identity, profileID uint, approve bool) (*database.UploaderProfile, error) {
	if err := access.RequireAdmin(admin); err != nil {
		return nil, err
	}
	profile, err := s.store.SetUploaderApproval(ctx, profileID, approve)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errcode.New(errcode.NotFound, "Uploader profile not found")
	}
	if err != nil {
		return nil, fmt.Errorf("review uploader profile %d: %w", profileID, err)
	}

	if err := s.notifier.Publish(ctx, profile.UserID, notify.UploaderReviewed(profile)); err != nil {
		s.logger.Warn("publish uploader review failed", slog.Uint64("profile_id", uint64(profileID)), slog.Any("error", err))
	}
	return profile, nil
}

// Pending 列出待审核的申请。
func (s *UploaderService) Pending(ctx context.Context, admin access.Identity, page store.Page) ([]database.UploaderProfile, int64, error) {
	if err := access.RequireAdmin(admin); err != nil {
		return nil, 0, err
	}
	return s.store.ListUploaderProfiles(ctx, false, page)
}

// ListApproved 公开列出已通过审核的上传者。
func (s *UploaderService) ListApproved(ctx context.Context, page store.Page) ([]Approved, int64, error) {
	profiles, total, err := s.store.ListUploaderProfiles(ctx, true, page)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]uint, len(profiles))
	for i := range profiles {
		ids[i] = profiles[i].UserID
	}
	counts, err := s.store.CountSheetsByUploader(ctx, ids, database.SheetApproved)
	if err != nil {
		return nil, 0, err
	}

	out := make([]Approved, len(profiles))
	for i := range profiles {
		out[i] = Approved{Profile: profiles[i], TotalSheets: counts[profiles[i].UserID]}
	}
	return out, total, nil
}
