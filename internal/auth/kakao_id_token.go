package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	// DefaultKakaoJWKSURL publishes the keys Kakao signs OpenID Connect ID tokens with.
	DefaultKakaoJWKSURL = "https://kauth.kakao.com/.well-known/jwks.json"
	// KakaoIssuer is the iss claim of Kakao ID tokens.
	KakaoIssuer = "https://kauth.kakao.com"

	defaultJWKSCacheTTL = 10 * time.Minute
)

var (
	errMissingKeyIdentifier = errors.New("token missing key identifier")
	errKeyNotFound          = errors.New("signing key not found in jwks")
	errMissingAppKey        = errors.New("kakao app key required")
	errNoUsableKeys         = errors.New("jwks document contained no usable keys")
)

// KakaoIDTokenConfig configures ID token verification.
type KakaoIDTokenConfig struct {
	// AppKey is the REST API key of the Kakao app; ID tokens carry it as their audience.
	AppKey     string
	JWKSURL    string
	HTTPClient *http.Client
	CacheTTL   time.Duration
	Clock      func() time.Time
	Logger     *zap.Logger
}

type kakaoIDTokenClaims struct {
	Nickname string `json:"nickname"`
	Picture  string `json:"picture"`
	jwt.RegisteredClaims
}

// KakaoIDTokenVerifier checks Kakao OpenID Connect ID tokens offline against the published JWKS.
type KakaoIDTokenVerifier struct {
	appKey     string
	jwksURL    string
	httpClient *http.Client
	clock      func() time.Time
	logger     *zap.Logger
	keys       *keySet
}

// NewKakaoIDTokenVerifier validates cfg.
func NewKakaoIDTokenVerifier(cfg KakaoIDTokenConfig) (*KakaoIDTokenVerifier, error) {
	appKey := strings.TrimSpace(cfg.AppKey)
	if appKey == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKakaoConfig, errMissingAppKey)
	}
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		jwksURL = DefaultKakaoJWKSURL
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultJWKSCacheTTL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KakaoIDTokenVerifier{
		appKey:     appKey,
		jwksURL:    jwksURL,
		httpClient: httpClient,
		clock:      clock,
		logger:     logger,
		keys:       &keySet{ttl: cacheTTL},
	}, nil
}

// VerifyIDToken returns the profile carried by a valid ID token. Rejected tokens wrap
// ErrAuthentication; a JWKS that cannot be fetched wraps ErrProviderUnavailable.
func (v *KakaoIDTokenVerifier) VerifyIDToken(ctx context.Context, rawToken string) (KakaoProfile, error) {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return KakaoProfile{}, fmt.Errorf("%w: id token must not be empty", ErrAuthentication)
	}

	var fetchErr error
	claims := &kakaoIDTokenClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			keyID, _ := t.Header["kid"].(string)
			if keyID == "" {
				return nil, errMissingKeyIdentifier
			}
			key, err := v.lookupKey(ctx, keyID)
			if err != nil && !errors.Is(err, errKeyNotFound) {
				fetchErr = err
			}
			return key, err
		},
		jwt.WithAudience(v.appKey),
		jwt.WithIssuer(KakaoIssuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(v.clock),
		jwt.WithExpirationRequired(),
	)
	if fetchErr != nil {
		return KakaoProfile{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, fetchErr)
	}
	if err != nil {
		v.logger.Info("kakao id token rejected", zap.Error(err))
		return KakaoProfile{}, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if parsed == nil || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return KakaoProfile{}, fmt.Errorf("%w: id token missing subject", ErrAuthentication)
	}

	return KakaoProfile{
		ExternalID: strings.TrimSpace(claims.Subject),
		Nickname:   strings.TrimSpace(claims.Nickname),
		AvatarURL:  strings.TrimSpace(claims.Picture),
	}, nil
}

func (v *KakaoIDTokenVerifier) lookupKey(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
	now := v.clock()
	if key := v.keys.get(keyID, now); key != nil {
		return key, nil
	}
	// Unknown kid after a key rotation: refetch once before giving up.
	if err := v.refreshKeys(ctx, now); err != nil {
		return nil, err
	}
	if key := v.keys.get(keyID, now); key != nil {
		return key, nil
	}
	return nil, errKeyNotFound
}

func (v *KakaoIDTokenVerifier) refreshKeys(ctx context.Context, fetchedAt time.Time) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, http.NoBody)
	if err != nil {
		return err
	}
	response, err := v.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks request returned status %d", response.StatusCode)
	}

	var document jwksDocument
	if err := json.NewDecoder(io.LimitReader(response.Body, maxProviderBodyBytes)).Decode(&document); err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(document.Keys))
	for _, key := range document.Keys {
		if key.KeyType != "RSA" || (key.Use != "" && key.Use != "sig") {
			continue
		}
		publicKey, err := key.rsaPublicKey()
		if err != nil {
			v.logger.Debug("skipping jwk", zap.String("kid", key.KeyID), zap.Error(err))
			continue
		}
		keys[key.KeyID] = publicKey
	}
	if len(keys) == 0 {
		return errNoUsableKeys
	}

	v.keys.replace(keys, fetchedAt)
	return nil
}

type keySet struct {
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
	ttl       time.Duration
}

func (s *keySet) get(keyID string, now time.Time) *rsa.PublicKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.keys == nil || now.After(s.expiresAt) {
		return nil
	}
	return s.keys[keyID]
}

func (s *keySet) replace(keys map[string]*rsa.PublicKey, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
	s.expiresAt = now.Add(s.ttl)
}

type jwksDocument struct {
	Keys []jsonWebKey `json:"keys"`
}

type jsonWebKey struct {
	KeyType  string `json:"kty"`
	KeyID    string `json:"kid"`
	Use      string `json:"use"`
	Modulus  string `json:"n"`
	Exponent string `json:"e"`
}

func (k jsonWebKey) rsaPublicKey() (*rsa.PublicKey, error) {
	modulus, err := base64.RawURLEncoding.DecodeString(k.Modulus)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus encoding: %w", err)
	}
	exponentBytes, err := base64.RawURLEncoding.DecodeString(k.Exponent)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent encoding: %w", err)
	}
	if len(modulus) == 0 || len(exponentBytes) == 0 {
		return nil, errors.New("missing key material")
	}
	exponent := 0
	for _, b := range exponentBytes {
		exponent = exponent<<8 + int(b)
	}
	if exponent == 0 {
		return nil, errors.New("invalid exponent value")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(modulus), E: exponent}, nil
}
