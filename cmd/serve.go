package cmd

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"faceserver/auth"
	"faceserver/config"
	"faceserver/handlers"
	"faceserver/processing"
	"faceserver/push"
	"faceserver/storage"
	"faceserver/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/autotls"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the video job workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	sess, err := newAWSSession()
	if err != nil {
		return err
	}
	faceService := newFaceService(sess)
	hub := push.NewHub()
	events, closeEvents := newEmitters(hub)
	defer closeEvents()

	runner := processing.NewRunner(newPipeline(sess, faceService), events, config.VIDEO_WORKERS)
	workersDone := make(chan struct{})
	go func() {
		runner.StartProcessing(ctx)
		close(workersDone)
	}()

	handlers.Init(handlers.Dependencies{
		Faces:             faceService,
		Runner:            runner,
		Hub:               hub,
		Uploads:           storage.NewDiskStorage(config.UPLOAD_DIR, uploadsURL),
		Results:           storage.NewDiskStorage(config.RESULTS_DIR, resultsURL),
		MaxImageDimension: uint(config.MAX_IMAGE_DIMENSION),
		PublicBaseURL:     config.PUBLIC_BASE_URL,
	})

	if !config.DEBUG_MODE {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(utils.RequestLogger(), gin.Recovery())
	_ = router.SetTrustedProxies([]string{})
	if config.DEBUG_MODE {
		router.Use(utils.ErrorLogMiddleware)
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "DELETE"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        30 * 24 * time.Hour,
	}))
	if !config.DEBUG_MODE {
		router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/static/", "/api/video_events/"})))
	}
	router.Use(utils.BodyLimit(int64(config.MAX_UPLOAD_BYTES)))

	router.GET("/", handlers.Index)
	router.Static(uploadsURL, config.UPLOAD_DIR)
	router.Static(resultsURL, config.RESULTS_DIR)
	router.Static(videoResultsURL, config.VIDEO_RESULTS_DIR)

	api := router.Group("/api", utils.CacheControl(utils.CacheNoCache)) // No cache for API responses
	authRouter := &auth.Router{Base: api, Token: config.API_TOKEN}
	// Collections
	authRouter.GET("/collections", handlers.CollectionList)
	authRouter.POST("/collections", handlers.CollectionCreate)
	authRouter.DELETE("/collections", handlers.CollectionDelete)
	authRouter.GET("/collections/:name/faces", handlers.FaceList)
	authRouter.DELETE("/collections/:name/faces/:faceId", handlers.FaceDelete)
	// Images
	authRouter.POST("/register_faces", handlers.RegisterFaces)
	authRouter.POST("/recognize_faces", handlers.RecognizeFaces)
	authRouter.POST("/recognize_from_webcam", handlers.RecognizeFromWebcam)
	// Videos
	authRouter.POST("/process_video", handlers.ProcessVideo)
	authRouter.POST("/video_jobs", handlers.VideoJobCreate)
	authRouter.GET("/video_jobs", handlers.VideoJobList)
	authRouter.GET("/video_jobs/:id", handlers.VideoJobGet)
	authRouter.DELETE("/video_jobs/:id", handlers.VideoJobDelete)
	authRouter.WebSocket("/video_events/:id", handlers.VideoEvents)

	if config.TLS_DOMAINS != "" {
		// autotls serves until the process exits
		go func() {
			err := autotls.Run(router, strings.Split(config.TLS_DOMAINS, ",")...)
			logrus.Fatalf("Server stopped: %v", err)
		}()
		<-ctx.Done()
	} else {
		server := &http.Server{Addr: config.BIND_ADDRESS, Handler: router}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
		logrus.Infof("Listening on %s", config.BIND_ADDRESS)
		if err = server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}
	logrus.Info("Waiting for video workers to stop")
	<-workersDone
	return nil
}
