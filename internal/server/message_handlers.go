package server

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/serandev/seran-sjune/internal/auth"
	"github.com/serandev/seran-sjune/internal/content"
	"github.com/serandev/seran-sjune/internal/messages"
	"github.com/serandev/seran-sjune/internal/notify"
	"github.com/serandev/seran-sjune/internal/users"
	"go.uber.org/zap"
)

type createMessageRequest struct {
	UserID  string `json:"userId"`
	Content string `json:"content"`
}

// requestError is an error response decided before the store is touched.
type requestError struct {
	status int
	body   gin.H
}

func (h *httpHandler) handleListMessages(c *gin.Context) {
	list, err := h.messages.List(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch messages",
			"code":  messages.ErrorCode(err),
		})
		return
	}
	if list == nil {
		list = []messages.MessageWithUser{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *httpHandler) handleCreateMessage(c *gin.Context) {
	var request createMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body is required"})
		return
	}
	if strings.TrimSpace(request.Content) == "" {
		h.metrics.RecordMessageRejected(content.ReasonTooShort)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Content is required", "reason": content.ReasonTooShort})
		return
	}

	userID, failure := h.resolveAuthor(c, strings.TrimSpace(request.UserID))
	if failure != nil {
		c.JSON(failure.status, failure.body)
		return
	}

	if err := content.Validate(request.Content); err != nil {
		reason := content.Reason(err)
		h.metrics.RecordMessageRejected(reason)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "reason": reason})
		return
	}

	body := h.sanitizer.Sanitize(request.Content)
	if body == "" {
		h.metrics.RecordMessageRejected(content.ReasonTooShort)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Content is empty after sanitizing", "reason": content.ReasonTooShort})
		return
	}

	ctx := c.Request.Context()
	if h.limiter != nil {
		if remaining, ok := h.limiter.Allow(ctx, userID); !ok {
			seconds := int64(math.Ceil(remaining.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			h.metrics.RecordMessageRejected("cooldown")
			c.Header("Retry-After", strconv.FormatInt(seconds, 10))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":             "Please wait before posting again",
				"retryAfterSeconds": seconds,
			})
			return
		}
	}

	created, err := h.messages.Create(ctx, userID, body, clientIP(c))
	if err != nil {
		// The cooldown runs from the last stored post.
		if h.limiter != nil {
			h.limiter.Release(context.WithoutCancel(ctx), userID)
		}
		h.writeCreateError(c, userID, err)
		return
	}

	h.metrics.RecordMessageCreated()
	if h.notifier != nil {
		h.notifier.Notify(notify.Notification{
			Nickname:  created.User.Nickname,
			UserID:    created.UserID,
			Content:   created.Content,
			MessageID: created.ID,
			Timestamp: time.Now(),
		})
	}
	c.JSON(http.StatusCreated, created)
}

// resolveAuthor returns the user id a post is attributed to. A session token wins over the body.
func (h *httpHandler) resolveAuthor(c *gin.Context, bodyUserID string) (string, *requestError) {
	token := bearerToken(c)
	if token != "" {
		claims, err := h.sessions.Validate(token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredSession) {
				h.logger.Info("session validation failed", zap.Error(err))
			} else {
				h.logger.Warn("session validation failed", zap.Error(err))
			}
			h.metrics.RecordMessageRejected("invalid_session")
			return "", &requestError{status: http.StatusUnauthorized, body: gin.H{"error": "Invalid or expired session"}}
		}
		subject := claims.UserID()
		if bodyUserID != "" && bodyUserID != subject {
			h.metrics.RecordMessageRejected("identity_mismatch")
			return "", &requestError{status: http.StatusForbidden, body: gin.H{"error": "userId does not match session"}}
		}
		return subject, nil
	}

	if bodyUserID == "" {
		h.metrics.RecordMessageRejected("missing_identity")
		return "", &requestError{status: http.StatusBadRequest, body: gin.H{"error": "User ID is required"}}
	}
	if h.requireSession {
		h.metrics.RecordMessageRejected("missing_session")
		return "", &requestError{status: http.StatusUnauthorized, body: gin.H{"error": "Session token is required"}}
	}
	return bodyUserID, nil
}

func (h *httpHandler) writeCreateError(c *gin.Context, userID string, err error) {
	switch {
	case errors.Is(err, users.ErrUserNotFound):
		h.metrics.RecordMessageRejected("unknown_user")
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	case errors.Is(err, messages.ErrEmptyContent):
		h.metrics.RecordMessageRejected(content.ReasonTooShort)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Content is required", "reason": content.ReasonTooShort})
	case errors.Is(err, messages.ErrMissingUserID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "User ID is required"})
	default:
		h.logger.Error("failed to create message", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create message",
			"code":  messages.ErrorCode(err),
		})
	}
}
