package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newAdminRouter(token string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/v1/admin/ip-blocks", RequireAdminToken(token), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func TestRequireAdminToken(t *testing.T) {
	cases := []struct {
		name    string
		token   string
		headers map[string]string
		status  int
	}{
		{"header token", "s3cret", map[string]string{AdminTokenHeader: "s3cret"}, http.StatusNoContent},
		{"bearer token", "s3cret", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusNoContent},
		{"wrong token", "s3cret", map[string]string{AdminTokenHeader: "s3cre"}, http.StatusForbidden},
		{"missing token", "s3cret", nil, http.StatusForbidden},
		{"unconfigured", "", map[string]string{AdminTokenHeader: ""}, http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newAdminRouter(tc.token)
			req := httptest.NewRequest(http.MethodPost, "/v1/admin/ip-blocks", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if tc.status == http.StatusForbidden && rr.Header().Get("Content-Type") != "application/problem+json" {
				t.Fatalf("expected problem response, got %q", rr.Header().Get("Content-Type"))
			}
		})
	}
}
