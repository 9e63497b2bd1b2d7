package cmd

import (
	"fmt"

	"faceserver/config"
	"faceserver/faces"
	"faceserver/push"
	"faceserver/storage"
	"faceserver/video"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/rekognition"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/sirupsen/logrus"
)

// Where the local directories are served
const (
	uploadsURL      = "/static/uploads"
	resultsURL      = "/static/results"
	videoResultsURL = "/static/vid_results"
)

func newAWSSession() (*session.Session, error) {
	awsConfig := aws.Config{Region: aws.String(config.AWS_REGION)}
	if config.S3_ENDPOINT != "" {
		awsConfig.Endpoint = aws.String(config.S3_ENDPOINT)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            awsConfig,
		Profile:           config.AWS_PROFILE,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("creating AWS session: %w", err)
	}
	return sess, nil
}

func newFaceService(sess *session.Session) *faces.Rekognition {
	// The custom endpoint is only meant for S3
	client := rekognition.New(sess, &aws.Config{Endpoint: aws.String("")})
	return faces.NewRekognition(client, config.FACE_MATCH_THRESHOLD)
}

func pollConfig() video.PollConfig {
	c := video.DefaultPollConfig()
	c.Interval = config.PollInterval()
	c.MaxInterval = config.PollMaxInterval()
	c.Multiplier = config.POLL_BACKOFF
	c.MaxAttempts = config.POLL_MAX_ATTEMPTS
	c.MaxQueryErrors = config.POLL_MAX_QUERY_ERRORS
	return c
}

// newPipeline reads source videos from S3 and stores results in RESULTS_BUCKET, or on local disk when it is not set
func newPipeline(sess *session.Session, jobs faces.JobClient) *video.Pipeline {
	s3Client := s3.New(sess)
	var results storage.Storer = storage.NewDiskStorage(config.VIDEO_RESULTS_DIR, videoResultsURL)
	if config.RESULTS_BUCKET != "" {
		results = storage.NewS3Storage(s3Client, config.RESULTS_BUCKET, config.PresignTTL())
	}
	return &video.Pipeline{
		Sources: storage.NewS3Storage(s3Client, "", config.PresignTTL()),
		Results: results,
		Jobs:    jobs,
		Codec:   &video.FFmpeg{FFmpegPath: config.FFMPEG_PATH, FFprobePath: config.FFPROBE_PATH},
		Poll:    pollConfig(),
		TempDir: config.TMP_DIR,
	}
}

// newEmitters returns the configured event destinations and a function closing them
func newEmitters(emitters ...push.Emitter) (push.Fanout, func()) {
	closers := []func(){}
	if config.MQTT_BROKER != "" {
		m, err := push.NewMQTT(config.MQTT_BROKER, config.MQTT_TOPIC_PREFIX, config.MQTT_USERNAME, config.MQTT_PASSWORD)
		if err != nil {
			logrus.WithError(err).Error("MQTT is not available, job events won't be published")
		} else {
			emitters = append(emitters, m)
			closers = append(closers, m.Close)
		}
	}
	if config.NOTIFY_URL != "" {
		emitters = append(emitters, push.NewWebhook(config.NOTIFY_URL))
	}
	return push.Fanout(emitters), func() {
		for _, c := range closers {
			c()
		}
	}
}
