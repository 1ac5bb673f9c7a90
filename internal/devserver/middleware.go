package devserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

const (
	// ContextKeyUserID is the context key for storing user ID.
	ContextKeyUserID = "user_id"
	// ContextKeyUsername is the context key for storing username.
	ContextKeyUsername = "username"
)

var (
	errBadAuthHeader = errors.New("invalid authorization header format")
	errMissingToken  = errors.New("missing access token")
)

// requestToken returns the bearer token, or the access_token query
// parameter used by socket clients.
func requestToken(r *http.Request) (string, error) {
	token := r.URL.Query().Get("access_token")
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", errBadAuthHeader
		}
		token = parts[1]
	}
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}

// authenticate validates the request's access token.
func authenticate(tokens *TokenConfig, r *http.Request) (*Claims, error) {
	token, err := requestToken(r)
	if err != nil {
		return nil, err
	}
	claims, err := ValidateToken(tokens, token)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

func authError(err error) string {
	if errors.Is(err, errBadAuthHeader) || errors.Is(err, errMissingToken) {
		return err.Error()
	}
	return "invalid token"
}

// AuthMiddleware rejects requests without a valid access token.
func AuthMiddleware(tokens *TokenConfig, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := authenticate(tokens, c.Request)
		if err != nil {
			logger.Debug().Err(err).Msg("request rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, proto.ErrorResponse{Error: authError(err)})
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyUsername, claims.Username)
		c.Next()
	}
}

// LoggerMiddleware logs every HTTP request after it is served.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}

// rateLimiter counts sends per user in fixed one-minute windows.
type rateLimiter struct {
	limit int
	now   func() time.Time

	mu      sync.Mutex
	window  time.Time
	counter map[int64]int
}

func newRateLimiter(limit int) *rateLimiter {
	return &rateLimiter{
		limit:   limit,
		now:     time.Now,
		counter: make(map[int64]int),
	}
}

func (r *rateLimiter) allow(userID int64) bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Sub(r.window) >= time.Minute {
		r.window = now
		r.counter = make(map[int64]int)
	}
	r.counter[userID]++
	return r.counter[userID] <= r.limit
}
