package utils

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"zh.xyz/dv/pgsync/config"
)

// Claims JWT载荷
type Claims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken 生成登录token
func GenerateToken(userID uint, username, role string) (string, error) {
	cfg := config.GlobalConfig.JWT

	claims := Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(cfg.ExpireTime) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

// ParseToken 解析并校验token
func ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("不支持的签名算法: %v", token.Header["alg"])
		}
		return []byte(config.GlobalConfig.JWT.Secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("无效的token")
	}

	return claims, nil
}

// GenerateConflictViewToken 生成冲突查看token（邮件链接用，24小时有效）
func GenerateConflictViewToken(conflictID, userID uint, username string) (string, error) {
	claims := jwt.MapClaims{
		"conflict_id": conflictID,
		"user_id":     userID,
		"username":    username,
		"type":        "conflict_view",
		"exp":         time.Now().Add(24 * time.Hour).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.GlobalConfig.JWT.Secret))
}

// ParseConflictViewToken 解析冲突查看token，返回冲突ID
func ParseConflictViewToken(tokenString string) (uint, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("不支持的签名算法: %v", token.Header["alg"])
		}
		return []byte(config.GlobalConfig.JWT.Secret), nil
	})
	if err != nil {
		return 0, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, fmt.Errorf("无效的token")
	}

	if claims["type"] != "conflict_view" {
		return 0, fmt.Errorf("token类型错误")
	}

	conflictID, ok := claims["conflict_id"].(float64)
	if !ok {
		return 0, fmt.Errorf("无效的token格式")
	}

	return uint(conflictID), nil
}
