// Package token 提供了会话令牌的签发与校验，以及身份提供方凭证的解析。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"image-chat-go/internal/model"
)

// JWTManager 负责管理会话 JWT 的生成和验证。
type JWTManager struct {
	secretKey  []byte        // secretKey 用于签名和验证 token 的密钥
	sessionDur time.Duration // sessionDur 定义了会话 token 的有效期
}

// SessionClaims 定义了会话 token 中携带的用户身份数据。
// 它嵌入了 jwt.RegisteredClaims 以包含标准的 JWT 声明（如过期时间）。
type SessionClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// identityClaims 对应身份提供方凭证中我们关心的声明。
type identityClaims struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
	jwt.RegisteredClaims
}

// NewJWTManager 创建一个新的 JWTManager 实例。
// secret: 用于签名的密钥字符串。
// sessionExpireHours: 会话 token 的过期时间（小时）。
func NewJWTManager(secret string, sessionExpireHours int) *JWTManager {
	return &JWTManager{
		secretKey:  []byte(secret),
		sessionDur: time.Hour * time.Duration(sessionExpireHours),
	}
}

// GenerateSessionToken 为给定的用户身份签发一个会话 token。
func (m *JWTManager) GenerateSessionToken(identity *model.UserIdentity) (string, error) {
	return m.generate(identity, m.sessionDur)
}

// GenerateWebsocketToken 签发一个短时效的一次性 token，用于 WebSocket 握手。
func (m *JWTManager) GenerateWebsocketToken(identity *model.UserIdentity) (string, error) {
	return m.generate(identity, 5*time.Minute)
}

func (m *JWTManager) generate(identity *model.UserIdentity, dur time.Duration) (string, error) {
	claims := SessionClaims{
		Email:   identity.Email,
		Name:    identity.Name,
		Picture: identity.PictureURL,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(dur)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	// 使用 HS256 签名方法创建新的 token 对象
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// VerifySessionToken 验证给定的会话 token 字符串。
// 如果 token 有效，返回 SessionClaims；签名不匹配或已过期则返回错误。
func (m *JWTManager) VerifySessionToken(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		// 检查签名方法是否为 HMAC
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*SessionClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// ParseIdentityCredential 解析身份提供方下发的 JWT 凭证，提取用户身份。
// verify 为 true 时使用 secret 校验签名；否则只做解码（凭证由浏览器端的
// 登录组件转交，真正的校验责任在身份提供方一侧）。
func ParseIdentityCredential(credential string, verify bool, secret string) (*model.UserIdentity, error) {
	var claims identityClaims

	if verify {
		token, err := jwt.ParseWithClaims(credential, &claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(secret), nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to verify identity credential: %w", err)
		}
		if !token.Valid {
			return nil, errors.New("invalid identity credential")
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(credential, &claims); err != nil {
			return nil, fmt.Errorf("failed to decode identity credential: %w", err)
		}
	}

	if claims.Email == "" {
		return nil, errors.New("identity credential missing email claim")
	}

	return &model.UserIdentity{
		Name:       claims.Name,
		Email:      claims.Email,
		PictureURL: claims.Picture,
		LoginAt:    time.Now(),
	}, nil
}
