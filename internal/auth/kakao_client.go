package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultKakaoBaseURL   = "https://kapi.kakao.com"
	kakaoUserInfoPath     = "/v2/user/me"
	defaultRequestTimeout = 10 * time.Second
	maxProviderBodyBytes  = 1 << 20
)

var (
	// ErrAuthentication indicates the provider rejected the access token.
	ErrAuthentication = errors.New("auth: authentication failed")
	// ErrProviderUnavailable indicates the provider could not be reached or answered unexpectedly.
	ErrProviderUnavailable = errors.New("auth: identity provider unavailable")
	// ErrInvalidKakaoConfig indicates the client configuration is unusable.
	ErrInvalidKakaoConfig = errors.New("auth: invalid kakao client config")
)

// KakaoClientConfig bundles configuration required to instantiate a KakaoClient.
type KakaoClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// KakaoProfile is the subset of the Kakao user profile the guestbook keeps.
type KakaoProfile struct {
	ExternalID string
	Nickname   string
	AvatarURL  string
}

// KakaoClient exchanges a Kakao access token for the profile of its owner.
type KakaoClient struct {
	userInfoURL string
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewKakaoClient constructs a client with validated configuration.
func NewKakaoClient(cfg KakaoClientConfig) (*KakaoClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultKakaoBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("%w: base url must be absolute: %q", ErrInvalidKakaoConfig, baseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &KakaoClient{
		userInfoURL: baseURL + kakaoUserInfoPath,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

type kakaoUserResponse struct {
	ID         int64 `json:"id"`
	Properties struct {
		Nickname     string `json:"nickname"`
		ProfileImage string `json:"profile_image"`
	} `json:"properties"`
	KakaoAccount struct {
		Profile struct {
			Nickname        string `json:"nickname"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"profile"`
	} `json:"kakao_account"`
}

// FetchProfile calls the Kakao "current user" endpoint with the supplied access token.
func (c *KakaoClient) FetchProfile(ctx context.Context, accessToken string) (KakaoProfile, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return KakaoProfile{}, fmt.Errorf("%w: access token must not be empty", ErrAuthentication)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, http.NoBody)
	if err != nil {
		return KakaoProfile{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return KakaoProfile{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxProviderBodyBytes))
	if err != nil {
		return KakaoProfile{}, fmt.Errorf("%w: read body: %v", ErrProviderUnavailable, err)
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		c.logger.Info("kakao rejected access token",
			zap.Int("status", response.StatusCode),
			zap.ByteString("body", body))
		return KakaoProfile{}, fmt.Errorf("%w: kakao returned status %d", ErrAuthentication, response.StatusCode)
	}

	var user kakaoUserResponse
	if err := json.Unmarshal(body, &user); err != nil {
		return KakaoProfile{}, fmt.Errorf("%w: decode profile: %v", ErrProviderUnavailable, err)
	}
	if user.ID == 0 {
		return KakaoProfile{}, fmt.Errorf("%w: profile missing id", ErrAuthentication)
	}

	profile := KakaoProfile{
		ExternalID: strconv.FormatInt(user.ID, 10),
		Nickname:   firstNonEmpty(user.Properties.Nickname, user.KakaoAccount.Profile.Nickname),
		AvatarURL:  firstNonEmpty(user.Properties.ProfileImage, user.KakaoAccount.Profile.ProfileImageURL),
	}
	return profile, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
