package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminTokenHeader carries the operator token for admin endpoints.
const AdminTokenHeader = "X-Admin-Token"

// RequireAdminToken admits requests presenting token in X-Admin-Token or as a bearer credential.
// An empty token rejects everything.
func RequireAdminToken(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		presented := c.GetHeader(AdminTokenHeader)
		if presented == "" {
			presented = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
			AbortWithProblem(c, Problem{
				Slug:   "forbidden",
				Title:  "Forbidden",
				Status: http.StatusForbidden,
				Detail: "admin credentials required",
			})
			return
		}
		c.Next()
	}
}
