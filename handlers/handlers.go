package handlers

import (
	"net/http"
	"strings"

	"faceserver/faces"
	"faceserver/processing"
	"faceserver/push"
	"faceserver/storage"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Response struct {
	Error string `json:"error"`
}

var (
	// Predefined errors
	OKResponse            = Response{}
	MissingParamsResponse = Response{"Missing required parameters"}
	NoFileResponse        = Response{"No file part"}
	NoImageResponse       = Response{"No image selected for uploading"}
	InvalidFileResponse   = Response{"Invalid file type"}
	InvalidImageResponse  = Response{"Invalid image"}
	NotFoundResponse      = Response{"Not found"}
	DBErrorResponse       = Response{"DB Error"}
	StorageErrorResponse  = Response{"Storage Error"}
)

// Dependencies are the services handlers work with. They are set once with Init before serving
type Dependencies struct {
	Faces             faces.Service
	Runner            *processing.Runner
	Hub               *push.Hub
	Uploads           *storage.DiskStorage
	Results           *storage.DiskStorage
	MaxImageDimension uint
	// PublicBaseURL is prepended to relative result URLs. The request host is used when empty
	PublicBaseURL string
}

var deps Dependencies

func Init(d Dependencies) {
	deps = d
}

func Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "server is running"})
}

// serviceError answers with the status matching a recognition service error
func serviceError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case faces.IsNotFound(err):
		status = http.StatusNotFound
	case faces.IsAlreadyExists(err):
		status = http.StatusConflict
	case faces.IsClientError(err):
		status = http.StatusBadRequest
	default:
		logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("Recognition service error")
	}
	c.JSON(status, Response{err.Error()})
}

// absoluteURL turns server relative paths into full URLs
func absoluteURL(c *gin.Context, u string) string {
	if u == "" || strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	base := deps.PublicBaseURL
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		base = scheme + "://" + c.Request.Host
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(u, "/")
}
