package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pkgerrors "ojeval/pkg/errors"
	"ojeval/pkg/utils/contextkey"
	"ojeval/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const viewerContextKey = "viewer"

// Staff roles see hidden test case bodies.
var staffRoles = []string{"admin", "teacher"}

// Viewer is the authenticated caller of a request.
type Viewer struct {
	UserID   string
	Username string
	Role     string
}

// IsStaff reports whether the viewer may see hidden test data.
func (v Viewer) IsStaff() bool {
	return hasRole(v.Role, staffRoles)
}

// Authenticator validates HS256 access tokens.
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

type tokenClaims struct {
	Role      string `json:"role"`
	Username  string `json:"name"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Authenticate parses raw and returns the viewer it identifies.
func (a *Authenticator) Authenticate(raw string) (Viewer, error) {
	if raw == "" || len(a.secret) == 0 {
		return Viewer{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Viewer{}, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return Viewer{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return Viewer{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if a.issuer != "" && claims.Issuer != a.issuer {
		return Viewer{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.TokenType != "access" || claims.Subject == "" {
		return Viewer{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return Viewer{UserID: claims.Subject, Username: claims.Username, Role: claims.Role}, nil
}

// Issue signs an access token for v. Used by tooling and tests.
func (a *Authenticator) Issue(v Viewer, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Role:      v.Role,
		Username:  v.Username,
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   v.UserID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// AuthMiddleware requires a valid bearer token and stores the viewer.
func AuthMiddleware(auth *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth == nil {
			response.AbortWithErrorCode(c, pkgerrors.ServiceUnavailable, "auth unavailable")
			return
		}
		viewer, err := auth.Authenticate(extractBearerToken(c.GetHeader("Authorization")))
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		c.Set(viewerContextKey, viewer)
		c.Set("user_id", viewer.UserID)
		ctx := context.WithValue(c.Request.Context(), contextkey.UserID, viewer.UserID)
		ctx = context.WithValue(ctx, contextkey.UserRole, viewer.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ViewerFrom returns the viewer stored by AuthMiddleware.
func ViewerFrom(c *gin.Context) (Viewer, bool) {
	v, ok := c.Get(viewerContextKey)
	if !ok {
		return Viewer{}, false
	}
	viewer, ok := v.(Viewer)
	return viewer, ok
}

func extractBearerToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func hasRole(role string, allowed []string) bool {
	for _, item := range allowed {
		if strings.EqualFold(role, item) {
			return true
		}
	}
	return false
}
