package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"strings"

	"studyhub/internal/account"
	"studyhub/internal/auth"
	"studyhub/internal/config"
	"studyhub/internal/database"
	"studyhub/internal/logging"
	"studyhub/internal/store"
)

func main() {
	var (
		email    = flag.String("email", "", "初始管理员邮箱（必填）")
		fullName = flag.String("name", "Administrator", "管理员显示名称")
	)
	flag.Parse()

	e := strings.ToLower(strings.TrimSpace(*email))
	if e == "" {
		log.Fatal("missing required flag: --email")
	}

	cfg := config.MustLoad()
	logger := logging.InitLogger("warn")

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	creds, err := auth.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.BcryptCost)
	if err != nil {
		log.Fatalf("init auth service: %v", err)
	}

	password, err := generateRandomPassword(24)
	if err != nil {
		log.Fatalf("generate password: %v", err)
	}

	accounts := account.NewAccountService(store.NewGormStore(db), creds, nil, logger)
	user, err := accounts.CreateAdmin(context.Background(), e, password, strings.TrimSpace(*fullName))
	if err != nil {
		log.Fatalf("create admin: %v", err)
	}

	fmt.Printf("已创建初始管理员账号（首次登录需强制改密）：\n")
	fmt.Printf("ID: %d\n", user.ID)
	fmt.Printf("邮箱: %s\n", user.Email)
	fmt.Printf("初始密码: %s\n", password)
	fmt.Printf("提示：请立即登录并修改密码（该密码仅显示一次）。\n")
}

func generateRandomPassword(bytesLen int) (string, error) {
	if bytesLen <= 0 {
		bytesLen = 24
	}
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
