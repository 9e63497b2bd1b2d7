package handlers

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"faceserver/models"
	"faceserver/push"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// VideoEvents streams the events of a video job. The current job state is sent first
func VideoEvents(c *gin.Context) {
	id := c.Param("id")
	if _, err := models.GetVideoJob(id); errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, NotFoundResponse)
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := logrus.WithField("job", id)
	isConnected := true
	writeMutex := sync.Mutex{}
	write := func(messageType int, data []byte) bool {
		writeMutex.Lock()
		defer writeMutex.Unlock()
		if !isConnected {
			return false
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(messageType, data); err != nil {
			log.WithError(err).Debug("Websocket write failed")
			isConnected = false
			return false
		}
		return true
	}
	unsubscribe := deps.Hub.Subscribe(id, func(data []byte) bool {
		return write(websocket.TextMessage, data)
	})
	defer unsubscribe()

	// Subscribed before loading, so no transition is missed
	if job, err := models.GetVideoJob(id); err == nil {
		event := push.NewJobEvent(&job)
		write(websocket.TextMessage, event.JSON())
	}
	// Main read cycle
	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			log.WithError(err).Debug("Websocket closed")
			writeMutex.Lock()
			isConnected = false
			writeMutex.Unlock()
			break
		}
		if string(message) == "ping" {
			write(mt, []byte("pong"))
		}
	}
}
