// Package authtest 测试用的 RS256 签发方与 JWKS 服务
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer 持有签名私钥并通过 httptest 暴露 JWKS
type Issuer struct {
	Key    *rsa.PrivateKey
	KeyID  string
	Server *httptest.Server
	t      testing.TB
}

// NewIssuer 创建签发方，测试结束时关闭 JWKS 服务
func NewIssuer(t testing.TB) *Issuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	iss := &Issuer{Key: key, KeyID: "test-key", t: t}
	iss.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": iss.KeyID,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(iss.Server.Close)
	return iss
}

// JWKSURL 公钥地址
func (i *Issuer) JWKSURL() string {
	return i.Server.URL
}

// Token 签发访问令牌
func (i *Issuer) Token(sub, username string, roles ...string) string {
	i.t.Helper()
	claims := jwt.MapClaims{
		"sub":                sub,
		"preferred_username": username,
		"email":              username + "@example.com",
		"name":               username,
		"realm_access":       map[string]any{"roles": roles},
		"iat":                time.Now().Unix(),
		"exp":                time.Now().Add(time.Hour).Unix(),
	}
	return i.Sign(claims)
}

// Sign 使用任意声明签名
func (i *Issuer) Sign(claims jwt.MapClaims) string {
	i.t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = i.KeyID
	s, err := tok.SignedString(i.Key)
	if err != nil {
		i.t.Fatalf("sign token: %v", err)
	}
	return s
}
