package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/serandev/seran-sjune/internal/auth"
	"github.com/serandev/seran-sjune/internal/metrics"
	"github.com/serandev/seran-sjune/internal/users"
	"go.uber.org/zap"
)

type kakaoAuthRequest struct {
	KakaoToken string `json:"kakaoToken"`
	IDToken    string `json:"idToken"`
}

type kakaoAuthResponse struct {
	Success     bool       `json:"success"`
	User        users.User `json:"user"`
	AccessToken string     `json:"accessToken"`
	ExpiresIn   int64      `json:"expiresIn"`
}

func (h *httpHandler) handleKakaoAuth(c *gin.Context) {
	var request kakaoAuthRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.metrics.RecordLogin(metrics.ResultRejected)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Kakao token is required"})
		return
	}

	ctx := c.Request.Context()
	var profile auth.KakaoProfile
	var err error
	switch {
	case strings.TrimSpace(request.KakaoToken) != "":
		profile, err = h.kakao.FetchProfile(ctx, request.KakaoToken)
	case strings.TrimSpace(request.IDToken) != "" && h.idTokens != nil:
		profile, err = h.idTokens.VerifyIDToken(ctx, request.IDToken)
	default:
		h.metrics.RecordLogin(metrics.ResultRejected)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Kakao token is required"})
		return
	}
	if err != nil {
		if errors.Is(err, auth.ErrAuthentication) {
			h.metrics.RecordLogin(metrics.ResultRejected)
			h.logger.Info("kakao token rejected", zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid Kakao token"})
			return
		}
		h.metrics.RecordLogin(metrics.ResultFailure)
		h.logger.Error("kakao profile lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed"})
		return
	}

	user, err := h.users.Upsert(ctx, profile.ExternalID, profile.Nickname, profile.AvatarURL)
	if err != nil {
		h.metrics.RecordLogin(metrics.ResultFailure)
		h.logger.Error("user upsert failed", zap.String("user_id", profile.ExternalID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed"})
		return
	}

	token, expiresIn, err := h.sessions.Issue(user.ID, user.Nickname)
	if err != nil {
		h.metrics.RecordLogin(metrics.ResultFailure)
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed"})
		return
	}

	h.metrics.RecordLogin(metrics.ResultSuccess)
	c.JSON(http.StatusOK, kakaoAuthResponse{
		Success:     true,
		User:        user,
		AccessToken: token,
		ExpiresIn:   expiresIn,
	})
}
