package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// stateTTL はOAuth state（ログイン開始からコールバックまで）の有効期間。
const stateTTL = 10 * time.Minute

const stateIssuer = "hr360"

// StateClaims はOAuth stateに載せる情報。
// 署名付きJWTとしてHttpOnly Cookieに保存し、コールバック時に検証する。
type StateClaims struct {
	jwt.RegisteredClaims
	Provider         string `json:"provider"`
	Nonce            string `json:"nonce"`
	CodeVerifier     string `json:"cv"`
	CallbackURL      string `json:"cb,omitempty"`
	ErrorCallbackURL string `json:"ecb,omitempty"`
}

// StateSigner はOAuth stateの署名と検証を行う。
type StateSigner struct {
	secret []byte
	now    func() time.Time
}

// NewStateSigner はAUTH_SECRETを鍵とするStateSignerを生成する。
func NewStateSigner(secret string) *StateSigner {
	return &StateSigner{secret: []byte(secret), now: time.Now}
}

// Sign はクレームにHS256で署名した文字列を返す。
func (s *StateSigner) Sign(c StateClaims) (string, error) {
	now := s.now()
	c.Issuer = stateIssuer
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(stateTTL))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return signed, nil
}

// Parse は署名と有効期限を検証してクレームを返す。
func (s *StateSigner) Parse(signed string) (*StateClaims, error) {
	if signed == "" {
		return nil, errors.New("empty state")
	}
	claims := &StateClaims{}
	token, err := jwt.ParseWithClaims(signed, claims,
		func(t *jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid state: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid state")
	}
	return claims, nil
}
