package roomprovider

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/warmtransfer/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// =============================================================================
// 🔑 准入令牌
// =============================================================================

// VideoGrant 房间权限声明，字段名与 LiveKit 访问令牌一致
type VideoGrant struct {
	RoomJoin             bool   `json:"roomJoin,omitempty"`
	RoomCreate           bool   `json:"roomCreate,omitempty"`
	RoomAdmin            bool   `json:"roomAdmin,omitempty"`
	Room                 string `json:"room,omitempty"`
	CanPublish           *bool  `json:"canPublish,omitempty"`
	CanSubscribe         *bool  `json:"canSubscribe,omitempty"`
	CanPublishData       *bool  `json:"canPublishData,omitempty"`
	CanUpdateOwnMetadata *bool  `json:"canUpdateOwnMetadata,omitempty"`
}

// ParticipantMetadata 写入令牌 metadata，回调时据此识别坐席
type ParticipantMetadata struct {
	IsAgent bool `json:"is_agent"`
}

// Claims 访问令牌声明
type Claims struct {
	jwt.RegisteredClaims
	Name     string      `json:"name,omitempty"`
	Video    *VideoGrant `json:"video,omitempty"`
	Metadata string      `json:"metadata,omitempty"`
}

// IsAgent 解析 metadata 中的坐席标记
func (c *Claims) IsAgent() bool {
	return MetadataIsAgent(c.Metadata)
}

// MetadataIsAgent 解析成员 metadata 中的坐席标记，无法解析时视为非坐席
func MetadataIsAgent(metadata string) bool {
	if metadata == "" {
		return false
	}
	var md ParticipantMetadata
	if err := json.Unmarshal([]byte(metadata), &md); err != nil {
		return false
	}
	return md.IsAgent
}

// TokenSigner 使用 HS256 签发与校验访问令牌
type TokenSigner struct {
	APIKey    string
	APISecret string
	TTL       time.Duration
	Now       func() time.Time
}

func (s TokenSigner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func boolPtr(b bool) *bool { return &b }

// Issue 为成员签发房间准入凭证
func (s TokenSigner) Issue(room, identity string, isAgent bool) (*types.Credential, error) {
	if err := types.ValidateRoomName(room); err != nil {
		return nil, err
	}
	if err := types.ValidateIdentity("identity", identity); err != nil {
		return nil, err
	}
	if s.APISecret == "" {
		return nil, types.NewError(types.ErrInternalError, "token signing secret is not configured")
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}

	grant := &VideoGrant{
		RoomJoin:       true,
		Room:           room,
		CanPublish:     boolPtr(true),
		CanSubscribe:   boolPtr(true),
		CanPublishData: boolPtr(true),
	}
	if isAgent {
		grant.RoomAdmin = true
		grant.CanUpdateOwnMetadata = boolPtr(true)
	}
	md, err := json.Marshal(ParticipantMetadata{IsAgent: isAgent})
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	now := s.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.APIKey,
			Subject:   identity,
			ID:        uuid.NewString(),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Name:     identity,
		Video:    grant,
		Metadata: string(md),
	}
	token, err := s.sign(claims)
	if err != nil {
		return nil, err
	}
	return &types.Credential{
		Token:     token,
		Room:      room,
		Identity:  identity,
		ExpiresAt: expiresAt,
	}, nil
}

func (s TokenSigner) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.APISecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify 校验令牌签名、有效期与签发方
func (s TokenSigner) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.APIKey != "" {
		opts = append(opts, jwt.WithIssuer(s.APIKey))
	}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(s.APISecret), nil
	}, opts...)
	if err != nil {
		return nil, types.NewError(types.ErrUnauthorized, "invalid token").WithCause(err)
	}
	return claims, nil
}
