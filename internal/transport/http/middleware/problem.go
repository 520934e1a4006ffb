package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	problemContentType = "application/problem+json"
	problemTypeBase    = "https://auth-core.example.com/errors/"
)

// ProblemDetails represents an RFC 7807 error payload.
type ProblemDetails struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Detail     string         `json:"detail,omitempty"`
	Instance   string         `json:"instance"`
	RetryAfter int            `json:"retry_after,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Problem describes one error response before it is rendered for a request.
type Problem struct {
	Slug       string
	Title      string
	Status     int
	Detail     string
	RetryAfter time.Duration
	Extensions map[string]any
}

// AbortWithProblem writes the problem as application/problem+json and stops the handler chain.
// A positive RetryAfter is rounded up to whole seconds and mirrored in the Retry-After header.
func AbortWithProblem(c *gin.Context, p Problem) {
	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	body := ProblemDetails{
		Type:       problemTypeBase + strings.TrimPrefix(p.Slug, "/"),
		Title:      p.Title,
		Status:     p.Status,
		Detail:     p.Detail,
		Instance:   instance,
		TraceID:    GetTraceID(c),
		Extensions: p.Extensions,
	}

	if seconds := RetryAfterSeconds(p.RetryAfter); seconds > 0 {
		body.RetryAfter = seconds
		c.Header("Retry-After", strconv.Itoa(seconds))
	}

	c.Header("Content-Type", problemContentType)
	c.AbortWithStatusJSON(p.Status, body)
}

// RetryAfterSeconds rounds d up to whole seconds. Non-positive durations yield zero.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	seconds := int(d / time.Second)
	if d%time.Second != 0 {
		seconds++
	}
	return seconds
}
