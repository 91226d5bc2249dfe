package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testAppKey = "test-app-key"

type jwksFixture struct {
	privateKey *rsa.PrivateKey
	server     *httptest.Server
	fetches    atomic.Int32
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	fixture := &jwksFixture{privateKey: privateKey}
	document := map[string]any{
		"keys": []any{map[string]string{
			"kty": "RSA",
			"alg": "RS256",
			"kid": "kakao-key",
			"use": "sig",
			"n":   encodeBigInt(privateKey.PublicKey.N),
			"e":   encodeBigInt(big.NewInt(int64(privateKey.PublicKey.E))),
		}},
	}
	fixture.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fixture.fetches.Add(1)
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(document)
	}))
	t.Cleanup(fixture.server.Close)
	return fixture
}

func (f *jwksFixture) verifier(t *testing.T) *KakaoIDTokenVerifier {
	t.Helper()
	verifier, err := NewKakaoIDTokenVerifier(KakaoIDTokenConfig{
		AppKey:     testAppKey,
		JWKSURL:    f.server.URL + "/.well-known/jwks.json",
		HTTPClient: f.server.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return verifier
}

func (f *jwksFixture) sign(t *testing.T, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(f.privateKey)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims() jwt.MapClaims {
	now := time.Now().UTC()
	return jwt.MapClaims{
		"aud":      testAppKey,
		"iss":      KakaoIssuer,
		"sub":      "1001",
		"nickname": "신부친구",
		"picture":  "https://k.kakaocdn.net/1001.jpg",
		"exp":      now.Add(5 * time.Minute).Unix(),
		"iat":      now.Unix(),
	}
}

func TestKakaoIDTokenVerifierReturnsProfile(t *testing.T) {
	fixture := newJWKSFixture(t)
	verifier := fixture.verifier(t)

	for i := 0; i < 2; i++ {
		profile, err := verifier.VerifyIDToken(context.Background(), fixture.sign(t, "kakao-key", validClaims()))
		if err != nil {
			t.Fatalf("expected verification to succeed: %v", err)
		}
		if profile.ExternalID != "1001" || profile.Nickname != "신부친구" || profile.AvatarURL != "https://k.kakaocdn.net/1001.jpg" {
			t.Fatalf("unexpected profile %#v", profile)
		}
	}
	if fixture.fetches.Load() != 1 {
		t.Fatalf("expected cached jwks, got %d fetches", fixture.fetches.Load())
	}
}

func TestKakaoIDTokenVerifierRejectsTokens(t *testing.T) {
	fixture := newJWKSFixture(t)
	verifier := fixture.verifier(t)

	testCases := []struct {
		name   string
		kid    string
		mutate func(jwt.MapClaims)
	}{
		{name: "foreign-audience", kid: "kakao-key", mutate: func(c jwt.MapClaims) { c["aud"] = "other-app" }},
		{name: "foreign-issuer", kid: "kakao-key", mutate: func(c jwt.MapClaims) { c["iss"] = "https://accounts.google.com" }},
		{name: "expired", kid: "kakao-key", mutate: func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Minute).Unix() }},
		{name: "missing-subject", kid: "kakao-key", mutate: func(c jwt.MapClaims) { delete(c, "sub") }},
		{name: "unknown-key", kid: "rotated-away", mutate: func(jwt.MapClaims) {}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			claims := validClaims()
			testCase.mutate(claims)
			_, err := verifier.VerifyIDToken(context.Background(), fixture.sign(t, testCase.kid, claims))
			if !errors.Is(err, ErrAuthentication) {
				t.Fatalf("expected authentication error, got %v", err)
			}
		})
	}

	if _, err := verifier.VerifyIDToken(context.Background(), " "); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected authentication error for empty token, got %v", err)
	}
}

func TestKakaoIDTokenVerifierReportsUnavailableJWKS(t *testing.T) {
	fixture := newJWKSFixture(t)
	verifier, err := NewKakaoIDTokenVerifier(KakaoIDTokenConfig{
		AppKey:     testAppKey,
		JWKSURL:    fixture.server.URL + "/missing",
		HTTPClient: fixture.server.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	_, err = verifier.VerifyIDToken(context.Background(), fixture.sign(t, "kakao-key", validClaims()))
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
}

func TestNewKakaoIDTokenVerifierRequiresAppKey(t *testing.T) {
	if _, err := NewKakaoIDTokenVerifier(KakaoIDTokenConfig{AppKey: "  "}); !errors.Is(err, ErrInvalidKakaoConfig) {
		t.Fatalf("expected invalid config error, got %v", err)
	}
}

func encodeBigInt(value *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(value.Bytes())
}
