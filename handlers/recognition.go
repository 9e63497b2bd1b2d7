package handlers

import (
	"bytes"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"faceserver/faces"
	"faceserver/models"
	"faceserver/storage"
	"faceserver/utils"
	"faceserver/video"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type RecognitionResponse struct {
	RecognitionList []faces.Recognition `json:"recognitionList"`
	// RecognitionTimes counts how many times each label was seen in the image
	RecognitionTimes map[string]int `json:"recognitionTimes"`
	ImagePath        string         `json:"imagePath,omitempty"`
	DurationMs       int64          `json:"durationMs"`
}

type WebcamRequest struct {
	Image          string `json:"image"`
	CollectionName string `json:"collectionName"`
}

// receiveImage validates the "file" upload, saves it under the uploads dir and decodes it
func receiveImage(c *gin.Context) (string, image.Image, bool) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, NoFileResponse)
		return "", nil, false
	}
	if file.Filename == "" {
		c.JSON(http.StatusBadRequest, NoImageResponse)
		return "", nil, false
	}
	filename := utils.SecureFilename(file.Filename)
	if !utils.AllowedFile(filename) {
		c.JSON(http.StatusBadRequest, InvalidFileResponse)
		return "", nil, false
	}
	data, err := readUpload(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return "", nil, false
	}
	img, _, err := utils.DecodeImage(bytes.NewReader(data))
	if err != nil {
		c.JSON(http.StatusBadRequest, InvalidImageResponse)
		return "", nil, false
	}
	if _, err = deps.Uploads.Save(filename, bytes.NewReader(data)); err != nil {
		logrus.WithError(err).WithField("file", filename).Error("Saving upload failed")
		c.JSON(http.StatusInternalServerError, StorageErrorResponse)
		return "", nil, false
	}
	return filename, img, true
}

func readUpload(file *multipart.FileHeader) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func RegisterFaces(c *gin.Context) {
	personName := c.PostForm("personName")
	collectionName := c.PostForm("collectionName")
	filename, img, ok := receiveImage(c)
	if !ok {
		return
	}
	if personName == "" || collectionName == "" {
		c.JSON(http.StatusBadRequest, MissingParamsResponse)
		return
	}
	data, err := utils.EncodePNG(utils.FitImage(img, deps.MaxImageDimension))
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{err.Error()})
		return
	}
	indexed, err := deps.Faces.IndexFace(c.Request.Context(), collectionName, personName, data)
	if err != nil {
		serviceError(c, err)
		return
	}
	if err = models.SaveRegisteredFaces(collectionName, personName, filename, indexed); err != nil {
		logrus.WithError(err).WithField("collection", collectionName).Error("Saving registered faces failed")
		c.JSON(http.StatusInternalServerError, DBErrorResponse)
		return
	}
	logrus.WithFields(logrus.Fields{"collection": collectionName, "person": personName, "faces": len(indexed)}).Info("Face registered")
	c.JSON(http.StatusOK, gin.H{"faceRecords": indexed})
}

// RecognizeFaces labels the faces of an uploaded image and stores an annotated copy under the results dir
func RecognizeFaces(c *gin.Context) {
	collectionName := c.PostForm("collection")
	filename, img, ok := receiveImage(c)
	if !ok {
		return
	}
	if collectionName == "" {
		c.JSON(http.StatusBadRequest, Response{"Collection name is required"})
		return
	}
	result, frame, ok := recognize(c, collectionName, img)
	if !ok {
		return
	}
	// The annotated copy is always a png, whatever the upload was
	resultName := strings.TrimSuffix(filename, filepath.Ext(filename)) + ".png"
	data, err := utils.EncodePNG(frame)
	if err == nil {
		_, err = deps.Results.Save(resultName, bytes.NewReader(data))
	}
	if err != nil {
		logrus.WithError(err).WithField("file", resultName).Error("Saving recognition result failed")
		c.JSON(http.StatusInternalServerError, StorageErrorResponse)
		return
	}
	result.ImagePath, _ = deps.Results.URL(storage.MediaRef{Key: resultName})
	result.ImagePath = absoluteURL(c, result.ImagePath)
	c.JSON(http.StatusOK, result)
}

func RecognizeFromWebcam(c *gin.Context) {
	r := WebcamRequest{}
	if err := c.ShouldBindJSON(&r); err != nil || r.Image == "" {
		c.JSON(http.StatusBadRequest, Response{"No image data provided"})
		return
	}
	if r.CollectionName == "" {
		c.JSON(http.StatusBadRequest, Response{"Collection name is required"})
		return
	}
	data, err := utils.DecodeDataURL(r.Image)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	img, _, err := utils.DecodeImage(bytes.NewReader(data))
	if err != nil {
		c.JSON(http.StatusBadRequest, InvalidImageResponse)
		return
	}
	if result, _, ok := recognize(c, r.CollectionName, img); ok {
		c.JSON(http.StatusOK, result)
	}
}

// recognize runs the recognition on the downscaled image and returns it annotated
func recognize(c *gin.Context, collectionName string, img image.Image) (*RecognitionResponse, *image.RGBA, bool) {
	start := time.Now()
	frame := utils.ToRGBA(utils.FitImage(img, deps.MaxImageDimension))
	list, err := deps.Faces.Recognize(c.Request.Context(), collectionName, frame)
	if err != nil {
		serviceError(c, err)
		return nil, nil, false
	}
	result := RecognitionResponse{
		RecognitionList:  list,
		RecognitionTimes: map[string]int{},
	}
	annotations := make([]video.Annotation, 0, len(list))
	for _, r := range list {
		result.RecognitionTimes[r.Label]++
		annotations = append(annotations, video.Annotation{Box: r.Box, Label: r.Label})
	}
	video.Annotate(frame, annotations)
	result.DurationMs = time.Since(start).Milliseconds()
	logrus.WithFields(logrus.Fields{"collection": collectionName, "faces": len(list)}).Debug("Faces recognized")
	return &result, frame, true
}
