package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ojeval/internal/common/http/middleware"
	"ojeval/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

func TestTraceContextMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.TraceContextMiddleware())
	var ctxTrace any
	router.GET("/trace", func(c *gin.Context) {
		ctxTrace = c.Request.Context().Value(contextkey.TraceID)
		c.Status(http.StatusOK)
	})

	cases := []struct {
		name    string
		traceID string
	}{
		{name: "generate trace id"},
		{name: "preserve trace id", traceID: "trace-123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/trace", nil)
			if tc.traceID != "" {
				req.Header.Set("X-Trace-Id", tc.traceID)
			}
			router.ServeHTTP(rec, req)

			got := rec.Header().Get("X-Trace-Id")
			if got == "" {
				t.Fatalf("expected trace id header")
			}
			if tc.traceID != "" && got != tc.traceID {
				t.Fatalf("expected %s, got %s", tc.traceID, got)
			}
			if ctxTrace != got {
				t.Fatalf("expected context trace id %s, got %v", got, ctxTrace)
			}
			if rec.Header().Get("X-Request-Id") == "" {
				t.Fatalf("expected request id header")
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := middleware.NewAuthenticator("secret", "ojeval")
	router := gin.New()
	router.Use(middleware.AuthMiddleware(auth))
	router.GET("/me", func(c *gin.Context) {
		v, ok := middleware.ViewerFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": v.UserID, "staff": v.IsStaff()})
	})

	teacher, err := auth.Issue(middleware.Viewer{UserID: "u1", Username: "ada", Role: "teacher"}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	expired, _ := auth.Issue(middleware.Viewer{UserID: "u1", Role: "student"}, -time.Minute)
	foreign, _ := middleware.NewAuthenticator("other", "ojeval").Issue(middleware.Viewer{UserID: "u1"}, time.Hour)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing token", header: "", status: http.StatusUnauthorized},
		{name: "expired token", header: "Bearer " + expired, status: http.StatusUnauthorized},
		{name: "wrong key", header: "Bearer " + foreign, status: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer " + teacher, status: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			router.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestViewerIsStaff(t *testing.T) {
	cases := map[string]bool{"admin": true, "Teacher": true, "student": false, "": false}
	for role, want := range cases {
		if got := (middleware.Viewer{Role: role}).IsStaff(); got != want {
			t.Fatalf("role %q: expected %v, got %v", role, want, got)
		}
	}
}
