// Package account 实现注册、登录、身份解析以及个人资料相关功能。
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"studyhub/internal/access"
	"studyhub/internal/database"
	"studyhub/internal/errcode"
	"studyhub/internal/notify"
	"studyhub/internal/store"
	"studyhub/internal/tasks"
)

const (
	// MinSearchLength 是用户搜索关键字的最短长度。
	MinSearchLength = 2
	searchLimit     = 10
	recentLimit     = 5
	profileSheets   = 12
	notifyWindow    = 7 * 24 * time.Hour
	notifyLimit     = 20
	notifyPerSource = 10
)

// Credentials 提供密码哈希与令牌签发，由 auth.AuthService 实现。
type Credentials interface {
	HashPassword(password string) (string, error)
	CheckPasswordHash(password, hash string) bool
	GenerateToken(userID uint) (string, error)
}

// AccountService 实现账号相关业务。
type AccountService struct {
	store   store.Store
	creds   Credentials
	cleanup tasks.Enqueuer
	logger  *slog.Logger
	now     func() time.Time
}

// NewAccountService 创建账号服务，cleanup 可为 nil。
func NewAccountService(s store.Store, creds Credentials, cleanup tasks.Enqueuer, logger *slog.Logger) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{store: s, creds: creds, cleanup: cleanup, logger: logger, now: time.Now}
}

// RegisterInput 是注册参数。
type RegisterInput struct {
	Email    string
	Password string
	FullName string
	Phone    string
}

func invalidCredentials() *errcode.Error {
	return errcode.New(errcode.Unauthorized, "Invalid email or password")
}

// Register 创建普通用户并签发令牌。邮箱按存储值精确比较。
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*database.User, string, error) {
	email := strings.TrimSpace(in.Email)
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, "", errcode.New(errcode.Conflict, "User already exists with this email")
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, "", fmt.Errorf("lookup email: %w", err)
	}

	hash, err := s.creds.HashPassword(in.Password)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	user := &database.User{
		Email:        email,
		PasswordHash: hash,
		Role:         database.RoleUser,
		Info: &database.UserInfo{
			FullName: strings.TrimSpace(in.FullName),
			Phone:    strings.TrimSpace(in.Phone),
		},
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, "", errcode.New(errcode.Conflict, "User already exists with this email")
		}
		return nil, "", fmt.Errorf("create user: %w", err)
	}
	return s.issue(ctx, user.ID)
}

// Login 校验邮箱和密码。邮箱不存在与密码错误返回相同的提示。
func (s *AccountService) Login(ctx context.Context, email, password string) (*database.User, string, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", invalidCredentials()
	}
	if err != nil {
		return nil, "", fmt.Errorf("lookup email: %w", err)
	}
	if !s.creds.CheckPasswordHash(password, user.PasswordHash) {
		return nil, "", invalidCredentials()
	}
	return s.issue(ctx, user.ID)
}

func (s *AccountService) issue(ctx context.Context, userID uint) (*database.User, string, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("load user: %w", err)
	}
	token, err := s.creds.GenerateToken(user.ID)
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}
	return user, token, nil
}

// Resolve 把令牌中的用户 ID 解析为请求身份；用户已被删除时返回 Unauthorized。
func (s *AccountService) Resolve(ctx context.Context, userID uint) (access.Identity, error) {
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return access.Anonymous, errcode.New(errcode.Unauthorized, "User not found")
	}
	if err != nil {
		return access.Anonymous, fmt.Errorf("resolve user %d: %w", userID, err)
	}
	return access.FromUser(user), nil
}

// CreateAdmin 创建管理员账号，首次登录后必须修改密码。
func (s *AccountService) CreateAdmin(ctx context.Context, email, password, fullName string) (*database.User, error) {
	hash, err := s.creds.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &database.User{
		Email:              strings.TrimSpace(email),
		PasswordHash:       hash,
		Role:               database.RoleAdmin,
		MustChangePassword: true,
		Info:               &database.UserInfo{FullName: fullName},
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, errcode.New(errcode.Conflict, "User already exists with this email")
		}
		return nil, fmt.Errorf("create admin: %w", err)
	}
	return user, nil
}

// Me 返回调用者的完整账号信息。
func (s *AccountService) Me(ctx context.Context, caller access.Identity) (*database.User, error) {
	if err := access.RequireAuthenticated(caller); err != nil {
		return nil, err
	}
	user, err := s.store.GetUser(ctx, caller.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errcode.New(errcode.NotFound, "User not found")
	}
	return user, err
}

// UpdateProfile 修改姓名与电话。
func (s *AccountService) UpdateProfile(ctx context.Context, caller access.Identity, fullName, phone *string) (*database.User, error) {
	if err := access.RequireAuthenticated(caller); err != nil {
		return nil, err
	}
	patch := store.UserInfoPatch{}
	if fullName != nil {
		v := strings.TrimSpace(*fullName)
		patch.FullName = &v
	}
	if phone != nil {
		v := strings.TrimSpace(*phone)
		patch.Phone = &v
	}
	user, err := s.store.UpdateUserInfo(ctx, caller.UserID, patch)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errcode.New(errcode.NotFound, "User not found")
	}
	return user, err
}

// ChangePassword 校验当前密码后更新，并清除强制改密标记。
func (s *AccountService) ChangePassword(ctx context.Context, caller access.Identity, current, next string) error {
	if err := access.RequireAuthenticated(caller); err != nil {
		return err
	}
	user, err := s.store.GetUser(ctx, caller.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return errcode.New(errcode.NotFound, "User not found")
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !s.creds.CheckPasswordHash(current, user.PasswordHash) {
		return errcode.New(errcode.ValidationFailed, "Current password is incorrect").
			WithDetails(errcode.Detail{Field: "currentPassword", Message: "is incorrect"})
	}
	hash, err := s.creds.HashPassword(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.store.UpdatePassword(ctx, user.ID, hash)
}

// SetAvatar 保存新头像的对象 key，旧头像交给后台清理。
func (s *AccountService) SetAvatar(ctx context.Context, caller access.Identity, key string) (*database.User, error) {
	if err := access.RequireAuthenticated(caller); err != nil {
		return nil, err
	}
	before, err := s.store.GetUser(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	user, err := s.store.UpdateUserInfo(ctx, caller.UserID, store.UserInfoPatch{Avatar: &key})
	if err != nil {
		return nil, fmt.Errorf("update avatar: %w", err)
	}
	if before.Info != nil && before.Info.Avatar != "" && before.Info.Avatar != key && s.cleanup != nil {
		if err := s.cleanup.EnqueueBlobCleanup(ctx, []string{before.Info.Avatar}, "avatar replaced", ""); err != nil {
			s.logger.Warn("enqueue avatar cleanup failed", slog.Uint64("user_id", uint64(caller.UserID)), slog.Any("error", err))
		}
	}
	return user, nil
}

// Stats 是个人中心的统计数据。
type Stats struct {
	UploadedSheets  int64
	TotalOrders     int64
	PurchasedSheets int64
	TotalEarnings   float64
	RecentPurchases []database.Order
	RecentUploads   []database.Sheet
}

// Stats 并行汇总调用者的上传、购买与收入。
func (s *AccountService) Stats(ctx context.Context, caller access.Identity) (*Stats, error) {
	if err := access.RequireAuthenticated(caller); err != nil {
		return nil, err
	}
	id := caller.UserID
	paid := []string{database.OrderPaid}
	recent := store.Page{Number: 1, Limit: recentLimit}

	var st Stats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		st.UploadedSheets, err = s.store.CountSheets(gctx, store.SheetQuery{UploaderID: id})
		return err
	})
	g.Go(func() (err error) {
		st.TotalOrders, err = s.store.CountOrders(gctx, store.OrderQuery{UserID: id})
		return err
	})
	g.Go(func() (err error) {
		st.PurchasedSheets, err = s.store.CountOrders(gctx, store.OrderQuery{UserID: id, Statuses: paid})
		return err
	})
	g.Go(func() (err error) {
		st.TotalEarnings, err = s.store.SumOrderAmount(gctx, store.OrderQuery{UploaderID: id, Statuses: paid})
		return err
	})
	g.Go(func() (err error) {
		st.RecentPurchases, _, err = s.store.ListOrders(gctx, store.OrderQuery{
			UserID: id, Statuses: paid, Sort: store.OrderSortUpdated, Page: recent,
		})
		return err
	})
	g.Go(func() (err error) {
		st.RecentUploads, _, err = s.store.ListSheets(gctx, store.SheetQuery{UploaderID: id, Page: recent})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("user stats: %w", err)
	}
	return &st, nil
}

// Search 按邮箱或姓名搜索用户，uploadersOnly 时只返回已审核的上传者。
func (s *AccountService) Search(ctx context.Context, caller access.Identity, q string, uploadersOnly bool) ([]database.User, error) {
	if err := access.RequireAuthenticated(caller); err != nil {
		return nil, err
	}
	q = strings.TrimSpace(q)
	if len([]rune(q)) < MinSearchLength {
		return nil, errcode.New(errcode.ValidationFailed, "Search query must be at least 2 characters long").
			WithDetails(errcode.Detail{Field: "q", Message: "min length 2"})
	}
	users, _, err := s.store.ListUsers(ctx, store.UserQuery{
		Search:        q,
		UploadersOnly: uploadersOnly,
		Page:          store.Page{Number: 1, Limit: searchLimit},
	})
	return users, err
}

// PublicProfile 是对外展示的用户主页。Uploader 仅在资格已通过审核时非空。
type PublicProfile struct {
	User        *database.User
	Uploader    *database.UploaderProfile
	TotalSheets int64
	Sheets      []database.Sheet
}

// PublicProfile 返回用户主页，附带最近的已通过审核讲义。
func (s *AccountService) PublicProfile(ctx context.Context, userID uint) (*PublicProfile, error) {
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errcode.New(errcode.NotFound, "User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}

	p := &PublicProfile{User: user}
	approved := store.SheetQuery{UploaderID: user.ID, Statuses: []string{database.SheetApproved}}
	if p.TotalSheets, err = s.store.CountSheets(ctx, approved); err != nil {
		return nil, err
	}
	if user.UploaderProfile != nil && user.UploaderProfile.IsApproved {
		p.Uploader = user.UploaderProfile
		approved.Page = store.Page{Number: 1, Limit: profileSheets}
		if p.Sheets, _, err = s.store.ListSheets(ctx, approved); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Notifications 根据最近 7 天的审核结果和付款确认生成通知列表。
func (s *AccountService) Notifications(ctx context.Context, caller access.Identity) ([]notify.Event, error) {
	if err := access.RequireAuthenticated(caller); err != nil {
		return nil, err
	}
	since := s.now().Add(-notifyWindow)
	page := store.Page{Number: 1, Limit: notifyPerSource}

	sheets, _, err := s.store.ListSheets(ctx, store.SheetQuery{
		UploaderID:   caller.UserID,
		Statuses:     []string{database.SheetApproved, database.SheetRejected},
		UpdatedSince: since,
		Sort:         store.SortUpdated,
		Page:         page,
	})
	if err != nil {
		return nil, err
	}
	orders, _, err := s.store.ListOrders(ctx, store.OrderQuery{
		UserID:       caller.UserID,
		Statuses:     []string{database.OrderPaid},
		UpdatedSince: since,
		Sort:         store.OrderSortUpdated,
		Page:         page,
	})
	if err != nil {
		return nil, err
	}

	events := make([]notify.Event, 0, len(sheets)+len(orders))
	for i := range sheets {
		events = append(events, notify.SheetReviewed(&sheets[i]))
	}
	for i := range orders {
		events = append(events, notify.PaymentConfirmed(&orders[i]))
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].CreatedAt.After(events[j].CreatedAt) })
	if len(events) > notifyLimit {
		events = events[:notifyLimit]
	}
	return events, nil
}
