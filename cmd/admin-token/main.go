package main

import (
	"fmt"
	"os"
	"time"

	jwtpkg "contactform/backend/internal/auth/jwt"
	"contactform/backend/internal/config"
)

// main 签发访问管理端点（/messages、/ws/submissions）所需的令牌
func main() {
	subject := "admin"
	if len(os.Args) >= 2 {
		subject = os.Args[1]
	}
	if len(os.Args) > 2 {
		fmt.Println("Usage: admin-token [subject]")
		os.Exit(1)
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if cfg.Admin.JWTSecret == "" {
		fmt.Println("CONTACTFORM_ADMIN_JWT_SECRET is not set; admin endpoints are open and need no token")
		os.Exit(1)
	}

	manager := jwtpkg.NewManager(cfg.Admin.JWTSecret, cfg.Admin.Issuer, cfg.Admin.TokenExpiry)
	token, expiresAt, err := manager.GenerateToken(subject)
	if err != nil {
		fmt.Printf("Failed to generate token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Admin token issued\n")
	fmt.Printf("  Subject: %s\n", subject)
	fmt.Printf("  Expires: %s\n", expiresAt.Format(time.RFC3339))
	fmt.Printf("\n%s\n", token)
}
