package handlers

import (
	"net/http"

	"faceserver/faces"
	"faceserver/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type CollectionRequest struct {
	CollectionName string `json:"collectionName"`
}

type FaceInfo struct {
	faces.IndexedFace
	PersonName string `json:"personName,omitempty"`
	FileName   string `json:"fileName,omitempty"`
}

func bindCollection(c *gin.Context) (string, bool) {
	r := CollectionRequest{}
	if err := c.ShouldBindJSON(&r); err != nil || r.CollectionName == "" {
		c.JSON(http.StatusBadRequest, MissingParamsResponse)
		return "", false
	}
	return r.CollectionName, true
}

func CollectionList(c *gin.Context) {
	ids, err := deps.Faces.ListCollections(c.Request.Context())
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"collections": ids})
}

func CollectionCreate(c *gin.Context) {
	name, ok := bindCollection(c)
	if !ok {
		return
	}
	collection, err := deps.Faces.CreateCollection(c.Request.Context(), name)
	if err != nil {
		serviceError(c, err)
		return
	}
	logrus.WithField("collection", name).Info("Collection created")
	c.JSON(http.StatusOK, collection)
}

func CollectionDelete(c *gin.Context) {
	name, ok := bindCollection(c)
	if !ok {
		return
	}
	if err := deps.Faces.DeleteCollection(c.Request.Context(), name); err != nil {
		serviceError(c, err)
		return
	}
	if err := models.DeleteCollectionFaces(name); err != nil {
		logrus.WithError(err).WithField("collection", name).Error("Deleting registered faces failed")
	}
	logrus.WithField("collection", name).Info("Collection deleted")
	c.JSON(http.StatusOK, OKResponse)
}

// FaceList returns the faces of a collection with the person names they were registered with
func FaceList(c *gin.Context) {
	name := c.Param("name")
	list, err := deps.Faces.ListFaces(c.Request.Context(), name)
	if err != nil {
		serviceError(c, err)
		return
	}
	known, err := models.RegisteredFacesByID(name)
	if err != nil {
		logrus.WithError(err).WithField("collection", name).Error("Loading registered faces failed")
	}
	result := make([]FaceInfo, 0, len(list))
	for _, f := range list {
		info := FaceInfo{IndexedFace: f}
		if r, ok := known[f.FaceID]; ok {
			info.PersonName = r.PersonName
			info.FileName = r.FileName
		}
		result = append(result, info)
	}
	c.JSON(http.StatusOK, gin.H{"faces": result})
}

func FaceDelete(c *gin.Context) {
	name, faceID := c.Param("name"), c.Param("faceId")
	if err := deps.Faces.DeleteFace(c.Request.Context(), name, faceID); err != nil {
		serviceError(c, err)
		return
	}
	if err := models.DeleteRegisteredFace(name, faceID); err != nil {
		logrus.WithError(err).WithField("collection", name).Error("Deleting registered face failed")
	}
	c.JSON(http.StatusOK, OKResponse)
}
