package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 用户角色。
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// 讲义审核状态。
const (
	SheetPending  = "PENDING"
	SheetApproved = "APPROVED"
	SheetRejected = "REJECTED"
)

// 订单状态：PENDING 只能流转到 PAID 或 CANCELLED，两者均为终态。
const (
	OrderPending   = "PENDING"
	OrderPaid      = "PAID"
	OrderCancelled = "CANCELLED"
)

// User 表示系统中的账号信息。
type User struct {
	gorm.Model
	Email              string           `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash       string           `gorm:"size:255;not null"`
	Role               string           `gorm:"size:16;not null;default:'USER'"`
	MustChangePassword bool             `gorm:"not null;default:false"`
	Info               *UserInfo        `gorm:"constraint:OnDelete:CASCADE"`
	UploaderProfile    *UploaderProfile `gorm:"constraint:OnDelete:CASCADE"`
}

// UserInfo 保存用户的展示资料。
type UserInfo struct {
	gorm.Model
	UserID   uint   `gorm:"uniqueIndex;not null"`
	FullName string `gorm:"size:128"`
	Phone    string `gorm:"size:32"`
	Avatar   string `gorm:"size:512"`
}

// UploaderProfile 是上传者申请资料，一个用户至多一份。
type UploaderProfile struct {
	gorm.Model
	UserID      uint   `gorm:"uniqueIndex;not null"`
	User        *User  `gorm:"constraint:OnDelete:CASCADE"`
	PenName     string `gorm:"size:128;not null"`
	Faculty     string `gorm:"size:128"`
	Major       string `gorm:"size:128"`
	Year        int
	PhoneNumber string `gorm:"size:32"`
	BankAccount string `gorm:"size:64"`
	IsApproved  bool   `gorm:"not null;default:false;index"`
}

// Sheet 表示上传的学习讲义。
type Sheet struct {
	gorm.Model
	UploaderID      uint                        `gorm:"index;not null"`
	Uploader        *User                       `gorm:"foreignKey:UploaderID;constraint:OnDelete:CASCADE"`
	SubjectName     string                      `gorm:"size:255;not null"`
	SubjectCode     string                      `gorm:"size:64;not null"`
	Faculty         string                      `gorm:"size:128;index"`
	Major           string                      `gorm:"size:128;index"`
	Term            string                      `gorm:"size:32"`
	Section         string                      `gorm:"size:32"`
	ShortDesc       string                      `gorm:"size:512"`
	LongDesc        string                      `gorm:"type:text"`
	Price           float64                     `gorm:"not null;default:0"`
	PdfKey          string                      `gorm:"size:512"`
	PreviewImages   datatypes.JSONSlice[string] `gorm:"type:json"`
	Status          string                      `gorm:"size:16;not null;default:'PENDING';index"`
	RejectionReason string                      `gorm:"size:512"`
	DownloadCount   int64                       `gorm:"not null;default:0"`
}

// Order 表示买家对一份讲义的购买记录，(user_id, sheet_id) 全局唯一。
type Order struct {
	gorm.Model
	UserID         uint    `gorm:"not null;uniqueIndex:idx_orders_user_sheet"`
	User           *User   `gorm:"constraint:OnDelete:CASCADE"`
	SheetID        uint    `gorm:"not null;uniqueIndex:idx_orders_user_sheet;index"`
	Sheet          *Sheet  `gorm:"constraint:OnDelete:RESTRICT"`
	Amount         float64 `gorm:"not null"`
	Status         string  `gorm:"size:16;not null;default:'PENDING';index"`
	PaymentSlipKey string  `gorm:"size:512"`
	PaidAt         *time.Time
}
