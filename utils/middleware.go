package utils

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	CacheNoCache = 0
	CacheCustom  = -1
)

// CacheControl sets the cache-control header. CacheCustom leaves it to the handler
func CacheControl(seconds int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if seconds == CacheNoCache {
			c.Header("cache-control", "no-cache")
		} else if seconds != CacheCustom {
			c.Header("cache-control", "private, max-age="+strconv.Itoa(seconds))
		}
		c.Next()
	}
}

type errorLogWriter struct {
	gin.ResponseWriter
	gc *gin.Context
}

func (w errorLogWriter) Write(b []byte) (int, error) {
	status := w.gc.Writer.Status()
	if status >= 400 {
		logrus.WithFields(logrus.Fields{
			"status": status,
			"path":   w.gc.Request.URL.Path,
		}).Debugf("Error response: %s", strings.TrimSpace(string(b)))
	}
	return w.ResponseWriter.Write(b)
}

// ErrorLogMiddleware doesn't work with GZIP
func ErrorLogMiddleware(c *gin.Context) {
	blw := &errorLogWriter{gc: c, ResponseWriter: c.Writer}
	c.Writer = blw
	c.Next()
}

// BodyLimit rejects request bodies larger than maxBytes
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request too large"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// RequestLogger is gin's access log with the token query parameter masked
func RequestLogger() gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(p gin.LogFormatterParams) string {
			return fmt.Sprintf("[GIN] %v | %3d | %13v | %15s | %-7s %#v\n%s",
				p.TimeStamp.Format(time.DateTime), p.StatusCode, p.Latency, p.ClientIP, p.Method, RedactToken(p.Path), p.ErrorMessage)
		},
	})
}

// RedactToken replaces the value of the token query parameter in a request path
func RedactToken(path string) string {
	base, rawQuery, found := strings.Cut(path, "?")
	if !found {
		return path
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil || !query.Has("token") {
		return path
	}
	query.Set("token", "REDACTED")
	return base + "?" + query.Encode()
}
