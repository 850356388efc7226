package api

import (
	"context"
	"log/slog"
	"time"

	"studyhub/internal/account"
	"studyhub/internal/admin"
	"studyhub/internal/catalog"
	"studyhub/internal/database"
	"studyhub/internal/uploader"
)

// presenter 把领域实体映射为响应 DTO，对象 key 转换为限时访问链接。
type presenter struct {
	storage ObjectStorage
	ttl     time.Duration
	logger  *slog.Logger
}

func (p presenter) url(ctx context.Context, key string) string {
	if key == "" {
		return ""
	}
	signed, err := p.storage.GeneratePresignedURL(ctx, key, p.ttl, "")
	if err != nil {
		p.logger.Warn("presign object failed", slog.String("object_key", key), slog.Any("error", err))
		return ""
	}
	return signed
}

type userSummary struct {
	ID        uint   `json:"id"`
	FullName  string `json:"fullName"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	PenName   string `json:"penName,omitempty"`
}

type userView struct {
	ID                 uint          `json:"id"`
	Email              string        `json:"email"`
	Role               string        `json:"role"`
	FullName           string        `json:"fullName"`
	Phone              string        `json:"phone,omitempty"`
	AvatarURL          string        `json:"avatarUrl,omitempty"`
	MustChangePassword bool          `json:"mustChangePassword"`
	UploaderProfile    *uploaderView `json:"uploaderProfile,omitempty"`
	CreatedAt          time.Time     `json:"createdAt"`
}

type uploaderView struct {
	ID          uint         `json:"id"`
	UserID      uint         `json:"userId"`
	PenName     string       `json:"penName"`
	Faculty     string       `json:"faculty"`
	Major       string       `json:"major"`
	Year        int          `json:"year"`
	PhoneNumber string       `json:"phoneNumber,omitempty"`
	BankAccount string       `json:"bankAccount,omitempty"`
	IsApproved  bool         `json:"isApproved"`
	User        *userSummary `json:"user,omitempty"`
	TotalSheets *int64       `json:"totalSheets,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

type sheetView struct {
	ID              uint         `json:"id"`
	SubjectName     string       `json:"subjectName"`
	SubjectCode     string       `json:"subjectCode"`
	Faculty         string       `json:"faculty"`
	Major           string       `json:"major"`
	Term            string       `json:"term"`
	Section         string       `json:"section"`
	ShortDesc       string       `json:"shortDesc"`
	LongDesc        string       `json:"longDesc,omitempty"`
	Price           float64      `json:"price"`
	IsFree          bool         `json:"isFree"`
	Status          string       `json:"status"`
	RejectionReason string       `json:"rejectionReason,omitempty"`
	DownloadCount   int64        `json:"downloadCount"`
	PreviewImages   []string     `json:"previewImages"`
	PdfURL          string       `json:"pdfUrl,omitempty"`
	HasPurchased    *bool        `json:"hasPurchased,omitempty"`
	SalesCount      *int64       `json:"salesCount,omitempty"`
	Uploader        *userSummary `json:"uploader,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

type payeeView struct {
	PenName     string `json:"penName"`
	BankAccount string `json:"bankAccount"`
}

type orderView struct {
	ID             uint         `json:"id"`
	UserID         uint         `json:"userId"`
	SheetID        uint         `json:"sheetId"`
	Amount         float64      `json:"amount"`
	Status         string       `json:"status"`
	PaymentSlipURL string       `json:"paymentSlipUrl,omitempty"`
	PaidAt         *time.Time   `json:"paidAt,omitempty"`
	Sheet          *sheetView   `json:"sheet,omitempty"`
	Buyer          *userSummary `json:"buyer,omitempty"`
	PayTo          *payeeView   `json:"payTo,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

func (p presenter) summary(ctx context.Context, u *database.User) *userSummary {
	if u == nil {
		return nil
	}
	s := &userSummary{ID: u.ID}
	if u.Info != nil {
		s.FullName = u.Info.FullName
		s.AvatarURL = p.url(ctx, u.Info.Avatar)
	}
	if u.UploaderProfile != nil && u.UploaderProfile.IsApproved {
		s.PenName = u.UploaderProfile.PenName
	}
	return s
}

// user 渲染调用者本人或管理员可见的完整资料。
func (p presenter) user(ctx context.Context, u *database.User) userView {
	v := userView{
		ID:                 u.ID,
		Email:              u.Email,
		Role:               u.Role,
		MustChangePassword: u.MustChangePassword,
		CreatedAt:          u.CreatedAt,
	}
	if u.Info != nil {
		v.FullName = u.Info.FullName
		v.Phone = u.Info.Phone
		v.AvatarURL = p.url(ctx, u.Info.Avatar)
	}
	if u.UploaderProfile != nil {
		up := p.uploader(ctx, u.UploaderProfile, true)
		v.UploaderProfile = &up
	}
	return v
}

// uploader 渲染上传者资料；private 为 false 时隐藏联系方式与收款账号。
func (p presenter) uploader(ctx context.Context, profile *database.UploaderProfile, private bool) uploaderView {
	v := uploaderView{
		ID:         profile.ID,
		UserID:     profile.UserID,
		PenName:    profile.PenName,
		Faculty:    profile.Faculty,
		Major:      profile.Major,
		Year:       profile.Year,
		IsApproved: profile.IsApproved,
		User:       p.summary(ctx, profile.User),
		CreatedAt:  profile.CreatedAt,
	}
	if private {
		v.PhoneNumber = profile.PhoneNumber
		v.BankAccount = profile.BankAccount
	}
	return v
}

func (p presenter) uploaders(ctx context.Context, profiles []database.UploaderProfile, private bool) []uploaderView {
	out := make([]uploaderView, 0, len(profiles))
	for i := range profiles {
		out = append(out, p.uploader(ctx, &profiles[i], private))
	}
	return out
}

func (p presenter) approvedUploaders(ctx context.Context, items []uploader.Approved) []uploaderView {
	out := make([]uploaderView, 0, len(items))
	for i := range items {
		v := p.uploader(ctx, &items[i].Profile, false)
		total := items[i].TotalSheets
		v.TotalSheets = &total
		out = append(out, v)
	}
	return out
}

// sheet 渲染讲义，PDF 链接永远不在这里输出，见 sheetDetail。
func (p presenter) sheet(ctx context.Context, s *database.Sheet) sheetView {
	previews := make([]string, 0, len(s.PreviewImages))
	for _, key := range s.PreviewImages {
		if u := p.url(ctx, key); u != "" {
			previews = append(previews, u)
		}
	}
	return sheetView{
		ID:              s.ID,
		SubjectName:     s.SubjectName,
		SubjectCode:     s.SubjectCode,
		Faculty:         s.Faculty,
		Major:           s.Major,
		Term:            s.Term,
		Section:         s.Section,
		ShortDesc:       s.ShortDesc,
		LongDesc:        s.LongDesc,
		Price:           s.Price,
		IsFree:          s.Price == 0,
		Status:          s.Status,
		RejectionReason: s.RejectionReason,
		DownloadCount:   s.DownloadCount,
		PreviewImages:   previews,
		Uploader:        p.summary(ctx, s.Uploader),
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func (p presenter) sheets(ctx context.Context, sheets []database.Sheet) []sheetView {
	out := make([]sheetView, 0, len(sheets))
	for i := range sheets {
		out = append(out, p.sheet(ctx, &sheets[i]))
	}
	return out
}

func (p presenter) sheetDetail(ctx context.Context, d *catalog.Detail) sheetView {
	v := p.sheet(ctx, d.Sheet)
	if d.PdfVisible {
		v.PdfURL = p.url(ctx, d.Sheet.PdfKey)
	}
	purchased := d.HasPurchased
	v.HasPurchased = &purchased
	return v
}

func (p presenter) uploads(ctx context.Context, items []catalog.Upload) []sheetView {
	out := make([]sheetView, 0, len(items))
	for i := range items {
		v := p.sheet(ctx, &items[i].Sheet)
		sales := items[i].SalesCount
		v.SalesCount = &sales
		out = append(out, v)
	}
	return out
}

// order 只渲染给买家本人或管理员，因此附带卖家收款信息。
func (p presenter) order(ctx context.Context, o *database.Order) orderView {
	v := orderView{
		ID:             o.ID,
		UserID:         o.UserID,
		SheetID:        o.SheetID,
		Amount:         o.Amount,
		Status:         o.Status,
		PaymentSlipURL: p.url(ctx, o.PaymentSlipKey),
		PaidAt:         o.PaidAt,
		Buyer:          p.summary(ctx, o.User),
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if o.Sheet != nil {
		sv := p.sheet(ctx, o.Sheet)
		v.Sheet = &sv
		if o.Sheet.Uploader != nil && o.Sheet.Uploader.UploaderProfile != nil {
			profile := o.Sheet.Uploader.UploaderProfile
			v.PayTo = &payeeView{PenName: profile.PenName, BankAccount: profile.BankAccount}
		}
	}
	return v
}

func (p presenter) orders(ctx context.Context, orders []database.Order) []orderView {
	out := make([]orderView, 0, len(orders))
	for i := range orders {
		out = append(out, p.order(ctx, &orders[i]))
	}
	return out
}

type statsView struct {
	UploadedSheets  int64       `json:"uploadedSheets"`
	TotalOrders     int64       `json:"totalOrders"`
	PurchasedSheets int64       `json:"purchasedSheets"`
	TotalEarnings   float64     `json:"totalEarnings"`
	RecentPurchases []orderView `json:"recentPurchases"`
	RecentUploads   []sheetView `json:"recentUploads"`
}

func (p presenter) stats(ctx context.Context, st *account.Stats) statsView {
	return statsView{
		UploadedSheets:  st.UploadedSheets,
		TotalOrders:     st.TotalOrders,
		PurchasedSheets: st.PurchasedSheets,
		TotalEarnings:   st.TotalEarnings,
		RecentPurchases: p.orders(ctx, st.RecentPurchases),
		RecentUploads:   p.sheets(ctx, st.RecentUploads),
	}
}

type publicProfileView struct {
	User        userSummary   `json:"user"`
	Uploader    *uploaderView `json:"uploaderProfile,omitempty"`
	TotalSheets int64         `json:"totalSheets"`
	Sheets      []sheetView   `json:"sheets"`
	MemberSince time.Time     `json:"memberSince"`
}

func (p presenter) publicProfile(ctx context.Context, pp *account.PublicProfile) publicProfileView {
	v := publicProfileView{
		User:        *p.summary(ctx, pp.User),
		TotalSheets: pp.TotalSheets,
		Sheets:      p.sheets(ctx, pp.Sheets),
		MemberSince: pp.User.CreatedAt,
	}
	if pp.Uploader != nil {
		up := p.uploader(ctx, pp.Uploader, false)
		v.Uploader = &up
	}
	return v
}

type dashboardView struct {
	TotalUsers       int64       `json:"totalUsers"`
	TotalSheets      int64       `json:"totalSheets"`
	TotalOrders      int64       `json:"totalOrders"`
	TotalRevenue     float64     `json:"totalRevenue"`
	PendingSheets    int64       `json:"pendingSheets"`
	PendingOrders    int64       `json:"pendingOrders"`
	PendingUploaders int64       `json:"pendingUploaders"`
	RecentSheets     []sheetView `json:"recentSheets"`
	RecentOrders     []orderView `json:"recentOrders"`
}

func (p presenter) dashboard(ctx context.Context, d *admin.Dashboard) dashboardView {
	return dashboardView{
		TotalUsers:       d.TotalUsers,
		TotalSheets:      d.TotalSheets,
		TotalOrders:      d.TotalOrders,
		TotalRevenue:     d.TotalRevenue,
		PendingSheets:    d.PendingSheets,
		PendingOrders:    d.PendingOrders,
		PendingUploaders: d.PendingUploaders,
		RecentSheets:     p.sheets(ctx, d.RecentSheets),
		RecentOrders:     p.orders(ctx, d.RecentOrders),
	}
}

type adminUserView struct {
	userView
	TotalSheets int64 `json:"totalSheets"`
	TotalOrders int64 `json:"totalOrders"`
}

func (p presenter) adminUsers(ctx context.Context, rows []admin.UserRow) []adminUserView {
	out := make([]adminUserView, 0, len(rows))
	for i := range rows {
		out = append(out, adminUserView{
			userView:    p.user(ctx, &rows[i].User),
			TotalSheets: rows[i].TotalSheets,
			TotalOrders: rows[i].TotalOrders,
		})
	}
	return out
}
