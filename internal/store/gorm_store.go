package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"studyhub/internal/database"
)

// GormStore implements Store on top of GORM. The same code runs against
// PostgreSQL in production and SQLite in tests.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore wraps an opened and migrated database handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), isUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// isUniqueViolation covers drivers without an error translator.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint failed")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// containsPattern builds a case-insensitive substring pattern with LIKE wildcards escaped.
// Every clause using it must declare ESCAPE '\' so PostgreSQL and SQLite agree.
func containsPattern(term string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(term))) + "%"
}

// users

func (s *GormStore) CreateUser(ctx context.Context, user *database.User) error {
	if user.Role == "" {
		user.Role = database.RoleUser
	}
	return translate(s.db.WithContext(ctx).Create(user).Error)
}

func (s *GormStore) GetUser(ctx context.Context, id uint) (*database.User, error) {
	var user database.User
	err := s.db.WithContext(ctx).
		Preload("Info").
		Preload("UploaderProfile").
		First(&user, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (*database.User, error) {
	var user database.User
	err := s.db.WithContext(ctx).
		Preload("Info").
		Preload("UploaderProfile").
		Where("email = ?", email).
		First(&user).Error
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *GormStore) UpdateUserInfo(ctx context.Context, userID uint, patch UserInfoPatch) (*database.User, error) {
	updates := map[string]any{}
	if patch.FullName != nil {
		updates["full_name"] = *patch.FullName
	}
	if patch.Phone != nil {
		updates["phone"] = *patch.Phone
	}
	if patch.Avatar != nil {
		updates["avatar"] = *patch.Avatar
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user database.User
		if err := tx.Select("id").First(&user, userID).Error; err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}

		var info database.UserInfo
		err := tx.Where("user_id = ?", userID).First(&info).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			info = database.UserInfo{UserID: userID}
			if patch.FullName != nil {
				info.FullName = *patch.FullName
			}
			if patch.Phone != nil {
				info.Phone = *patch.Phone
			}
			if patch.Avatar != nil {
				info.Avatar = *patch.Avatar
			}
			return tx.Create(&info).Error
		case err != nil:
			return err
		}
		return tx.Model(&info).Updates(updates).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return s.GetUser(ctx, userID)
}

func (s *GormStore) UpdatePassword(ctx context.Context, userID uint, hash string) error {
	res := s.db.WithContext(ctx).Model(&database.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"password_hash":        hash,
			"must_change_password": false,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) SetUserRole(ctx context.Context, userID uint, role string) (*database.User, error) {
	res := s.db.WithContext(ctx).Model(&database.User{}).
		Where("id = ?", userID).
		Update("role", role)
	if res.Error != nil {
		return nil, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetUser(ctx, userID)
}

func (s *GormStore) userScope(q UserQuery) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		if search := strings.TrimSpace(q.Search); search != "" {
			pattern := containsPattern(search)
			tx = tx.Where(
				`LOWER(email) LIKE ? ESCAPE '\' OR id IN (?)`,
				pattern,
				s.db.Model(&database.UserInfo{}).Select("user_id").Where(`LOWER(full_name) LIKE ? ESCAPE '\'`, pattern),
			)
		}
		if q.Role != "" {
			tx = tx.Where("role = ?", q.Role)
		}
		if q.UploadersOnly {
			tx = tx.Where("id IN (?)",
				s.db.Model(&database.UploaderProfile{}).Select("user_id").Where("is_approved = ?", true),
			)
		}
		return tx
	}
}

func (s *GormStore) ListUsers(ctx context.Context, q UserQuery) ([]database.User, int64, error) {
	base := s.db.WithContext(ctx).Model(&database.User{}).Scopes(s.userScope(q))

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	var users []database.User
	err := base.Session(&gorm.Session{}).
		Preload("Info").
		Preload("UploaderProfile").
		Order("created_at DESC").Order("id DESC").
		Scopes(paginate(q.Page)).
		Find(&users).Error
	if err != nil {
		return nil, 0, translate(err)
	}
	return users, total, nil
}

func (s *GormStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&database.User{}).Count(&count).Error; err != nil {
		return 0, translate(err)
	}
	return count, nil
}

// uploader profiles

func (s *GormStore) CreateUploaderProfile(ctx context.Context, profile *database.UploaderProfile) error {
	return translate(s.db.WithContext(ctx).Create(profile).Error)
}

func (s *GormStore) GetUploaderProfile(ctx context.Context, id uint) (*database.UploaderProfile, error) {
	var profile database.UploaderProfile
	if err := s.db.WithContext(ctx).Preload("User.Info").First(&profile, id).Error; err != nil {
		return nil, translate(err)
	}
	return &profile, nil
}

func (s *GormStore) GetUploaderProfileByUser(ctx context.Context, userID uint) (*database.UploaderProfile, error) {
	var profile database.UploaderProfile
	err := s.db.WithContext(ctx).
		Preload("User.Info").
		Where("user_id = ?", userID).
		First(&profile).Error
	if err != nil {
		return nil, translate(err)
	}
	return &profile, nil
}

func (s *GormStore) UpdateUploaderProfile(ctx context.Context, userID uint, patch UploaderPatch) (*database.UploaderProfile, error) {
	updates := map[string]any{}
	if patch.PenName != nil {
		updates["pen_name"] = *patch.PenName
	}
	if patch.Faculty != nil {
		updates["faculty"] = *patch.Faculty
	}
	if patch.Major != nil {
		updates["major"] = *patch.Major
	}
	if patch.Year != nil {
		updates["year"] = *patch.Year
	}
	if patch.PhoneNumber != nil {
		updates["phone_number"] = *patch.PhoneNumber
	}
	if patch.BankAccount != nil {
		updates["bank_account"] = *patch.BankAccount
	}
	if len(updates) == 0 {
		return s.GetUploaderProfileByUser(ctx, userID)
	}

	res := s.db.WithContext(ctx).Model(&database.UploaderProfile{}).
		Where("user_id = ?", userID).
		Updates(updates)
	if res.Error != nil {
		return nil, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetUploaderProfileByUser(ctx, userID)
}

func (s *GormStore) SetUploaderApproval(ctx context.Context, id uint, approved bool) (*database.UploaderProfile, error) {
	res := s.db.WithContext(ctx).Model(&database.UploaderProfile{}).
		Where("id = ?", id).
		Update("is_approved", approved)
	if res.Error != nil {
		return nil, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetUploaderProfile(ctx, id)
}

func (s *GormStore) ListUploaderProfiles(ctx context.Context, approved bool, page Page) ([]database.UploaderProfile, int64, error) {
	base := s.db.WithContext(ctx).Model(&database.UploaderProfile{}).Where("is_approved = ?", approved)

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	var profiles []database.UploaderProfile
	err := base.Session(&gorm.Session{}).
		Preload("User.Info").
		Order("created_at DESC").Order("id DESC").
		Scopes(paginate(page)).
		Find(&profiles).Error
	if err != nil {
		return nil, 0, translate(err)
	}
	return profiles, total, nil
}

func (s *GormStore) CountUploaderProfiles(ctx context.Context, approved bool) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&database.UploaderProfile{}).
		Where("is_approved = ?", approved).
		Count(&count).Error
	if err != nil {
		return 0, translate(err)
	}
	return count, nil
}

// paginate applies offset/limit; a zero limit lists everything.
func paginate(page Page) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		if page.Limit <= 0 {
			return tx
		}
		return tx.Offset(page.Offset()).Limit(page.Limit)
	}
}
