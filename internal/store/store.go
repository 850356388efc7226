package store

import (
	"context"
	"errors"
	"time"

	"studyhub/internal/database"
)

// Sentinel errors returned by every Store implementation.
var (
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate reports a unique index violation (email, uploader profile, buyer+sheet order).
	ErrDuplicate = errors.New("duplicate record")
	// ErrStaleState reports that a conditional status update matched no row because the
	// current state no longer satisfies the precondition.
	ErrStaleState = errors.New("stale state")
	// ErrHasOrders reports that a sheet is still referenced by orders.
	ErrHasOrders = errors.New("sheet has orders")
)

// MaxPageLimit caps every paginated listing.
const MaxPageLimit = 100

// Page is a 1-based page request.
type Page struct {
	Number int
	Limit  int
}

// NewPage normalizes raw query values, applying defaultLimit and MaxPageLimit.
func NewPage(number, limit, defaultLimit int) Page {
	if number < 1 {
		number = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return Page{Number: number, Limit: limit}
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.Limit
}

// TotalPages returns ceil(total/limit).
func (p Page) TotalPages(total int64) int64 {
	if p.Limit <= 0 {
		return 0
	}
	return (total + int64(p.Limit) - 1) / int64(p.Limit)
}

// Sheet sort orders understood by ListSheets.
const (
	SortNewest     = "newest"
	SortOldest     = "oldest"
	SortPriceAsc   = "price_asc"
	SortPriceDesc  = "price_desc"
	SortPopularity = "popularity"
	SortUpdated    = "updated_desc"
)

// Price classes.
const (
	PriceFree = "free"
	PricePaid = "paid"
)

// SheetQuery filters sheet listings. Zero values mean "no filter".
type SheetQuery struct {
	Statuses     []string
	UploaderID   uint
	Faculty      string
	Major        string
	Term         string
	Search       string
	PriceClass   string
	UpdatedSince time.Time
	Sort         string
	Page         Page
}

// Order sort orders understood by ListOrders.
const (
	OrderSortNewest    = "newest"
	OrderSortPaidFirst = "paid_desc"
	OrderSortUpdated   = "updated_desc"
)

// OrderQuery filters order listings. UploaderID selects orders on sheets uploaded by that user.
type OrderQuery struct {
	UserID       uint
	UploaderID   uint
	Statuses     []string
	UpdatedSince time.Time
	Sort         string
	Page         Page
}

// UserQuery filters user listings.
type UserQuery struct {
	Search        string
	Role          string
	UploadersOnly bool
	Page          Page
}

// UserInfoPatch holds optional profile fields; nil means unchanged.
type UserInfoPatch struct {
	FullName *string
	Phone    *string
	Avatar   *string
}

// UploaderPatch holds optional uploader profile fields; nil means unchanged.
type UploaderPatch struct {
	PenName     *string
	Faculty     *string
	Major       *string
	Year        *int
	PhoneNumber *string
	BankAccount *string
}

// SheetPatch holds optional sheet fields; nil means unchanged.
type SheetPatch struct {
	SubjectName *string
	SubjectCode *string
	Faculty     *string
	Major       *string
	Term        *string
	Section     *string
	ShortDesc   *string
	LongDesc    *string
	Price       *float64
}

// Store defines persistence operations for users, uploader profiles, sheets and orders.
type Store interface {
	// users
	CreateUser(ctx context.Context, user *database.User) error
	GetUser(ctx context.Context, id uint) (*database.User, error)
	GetUserByEmail(ctx context.Context, email string) (*database.User, error)
	UpdateUserInfo(ctx context.Context, userID uint, patch UserInfoPatch) (*database.User, error)
	UpdatePassword(ctx context.Context, userID uint, hash string) error
	SetUserRole(ctx context.Context, userID uint, role string) (*database.User, error)
	ListUsers(ctx context.Context, q UserQuery) ([]database.User, int64, error)
	CountUsers(ctx context.Context) (int64, error)

	// uploader profiles
	CreateUploaderProfile(ctx context.Context, profile *database.UploaderProfile) error
	GetUploaderProfile(ctx context.Context, id uint) (*database.UploaderProfile, error)
	GetUploaderProfileByUser(ctx context.Context, userID uint) (*database.UploaderProfile, error)
	UpdateUploaderProfile(ctx context.Context, userID uint, patch UploaderPatch) (*database.UploaderProfile, error)
	SetUploaderApproval(ctx context.Context, id uint, approved bool) (*database.UploaderProfile, error)
	ListUploaderProfiles(ctx context.Context, approved bool, page Page) ([]database.UploaderProfile, int64, error)
	CountUploaderProfiles(ctx context.Context, approved bool) (int64, error)

	// sheets
	CreateSheet(ctx context.Context, sheet *database.Sheet) error
	GetSheet(ctx context.Context, id uint) (*database.Sheet, error)
	ListSheets(ctx context.Context, q SheetQuery) ([]database.Sheet, int64, error)
	CountSheets(ctx context.Context, q SheetQuery) (int64, error)
	UpdateSheet(ctx context.Context, id uint, patch SheetPatch) (*database.Sheet, error)
	DeleteSheet(ctx context.Context, id uint) error
	TransitionSheet(ctx context.Context, id uint, from, to, reason string) (*database.Sheet, error)
	IncrementDownloadCount(ctx context.Context, id uint) error
	CountPaidOrdersBySheet(ctx context.Context, sheetIDs []uint) (map[uint]int64, error)
	CountSheetsByUploader(ctx context.Context, uploaderIDs []uint, status string) (map[uint]int64, error)

	// orders
	CreateOrder(ctx context.Context, order *database.Order) error
	GetOrder(ctx context.Context, id uint) (*database.Order, error)
	FindOrder(ctx context.Context, userID, sheetID uint) (*database.Order, error)
	AttachPaymentSlip(ctx context.Context, id, buyerID uint, slipKey string) (*database.Order, error)
	TransitionOrder(ctx context.Context, id uint, from, to string, requireSlip bool) (*database.Order, error)
	ListOrders(ctx context.Context, q OrderQuery) ([]database.Order, int64, error)
	CountOrders(ctx context.Context, q OrderQuery) (int64, error)
	SumOrderAmount(ctx context.Context, q OrderQuery) (float64, error)
	CountOrdersByUser(ctx context.Context, userIDs []uint) (map[uint]int64, error)
}
