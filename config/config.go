package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var (
	BIND_ADDRESS      = "0.0.0.0:3001"
	TLS_DOMAINS       = ""    // e.g. "example.com,example2.com"
	PUBLIC_BASE_URL   = ""    // Used to build absolute result URLs. Request host is used when empty
	API_TOKEN         = ""    // If set, all /api/ requests must carry "Authorization: Bearer <token>"
	DEBUG_MODE        = false // Logs 4xx/5xx response bodies
	MAX_UPLOAD_BYTES  = 16 * 1024 * 1024
	MYSQL_DSN         = ""              // MySQL will be used if this is set
	SQLITE_FILE       = "faceserver.db" // SQLite will be used if MYSQL_DSN is not configured
	TMP_DIR           = "/tmp"          // Source videos are downloaded here and rendered here before storing
	UPLOAD_DIR        = "static/uploads"
	RESULTS_DIR       = "static/results"
	VIDEO_RESULTS_DIR = "static/vid_results"
	RESULTS_BUCKET    = "" // Processed videos go to this S3 bucket instead of VIDEO_RESULTS_DIR when set
	PRESIGN_TTL_MIN   = 60
	// AWS
	AWS_REGION  = "us-east-1"
	AWS_PROFILE = ""
	S3_ENDPOINT = "" // Custom S3 compatible endpoint (e.g. minio). Path style addressing is used when set
	// Recognition
	FACE_MATCH_THRESHOLD = 90.0
	MAX_IMAGE_DIMENSION  = 1920 // Images are downscaled to fit this before they are sent for recognition
	// Video job polling
	POLL_INTERVAL_MS      = 5000
	POLL_MAX_INTERVAL_MS  = 30000
	POLL_BACKOFF          = 1.0 // 1 means a fixed interval
	POLL_MAX_ATTEMPTS     = 720
	POLL_MAX_QUERY_ERRORS = 5
	VIDEO_WORKERS         = 1
	FFMPEG_PATH           = "ffmpeg"
	FFPROBE_PATH          = "ffprobe"
	// Notifications
	NOTIFY_URL        = "" // Webhook called when a video job completes or fails
	MQTT_BROKER       = "" // e.g. "tcp://localhost:1883"
	MQTT_TOPIC_PREFIX = "faceserver"
	MQTT_USERNAME     = ""
	MQTT_PASSWORD     = ""
	// Logging
	LOG_LEVEL  = "info"
	LOG_FORMAT = "text" // text or json
)

// fileConfig mirrors the variables above for YAML config files. Pointers tell "not set" apart from zero values
type fileConfig struct {
	BindAddress        *string  `yaml:"bind_address"`
	TLSDomains         *string  `yaml:"tls_domains"`
	PublicBaseURL      *string  `yaml:"public_base_url"`
	APIToken           *string  `yaml:"api_token"`
	DebugMode          *bool    `yaml:"debug_mode"`
	MaxUploadBytes     *int     `yaml:"max_upload_bytes"`
	MySQLDSN           *string  `yaml:"mysql_dsn"`
	SQLiteFile         *string  `yaml:"sqlite_file"`
	TmpDir             *string  `yaml:"tmp_dir"`
	UploadDir          *string  `yaml:"upload_dir"`
	ResultsDir         *string  `yaml:"results_dir"`
	VideoResultsDir    *string  `yaml:"video_results_dir"`
	ResultsBucket      *string  `yaml:"results_bucket"`
	PresignTTLMin      *int     `yaml:"presign_ttl_min"`
	AWSRegion          *string  `yaml:"aws_region"`
	AWSProfile         *string  `yaml:"aws_profile"`
	S3Endpoint         *string  `yaml:"s3_endpoint"`
	FaceMatchThreshold *float64 `yaml:"face_match_threshold"`
	MaxImageDimension  *int     `yaml:"max_image_dimension"`
	Poll               struct {
		IntervalMs     *int     `yaml:"interval_ms"`
		MaxIntervalMs  *int     `yaml:"max_interval_ms"`
		Backoff        *float64 `yaml:"backoff"`
		MaxAttempts    *int     `yaml:"max_attempts"`
		MaxQueryErrors *int     `yaml:"max_query_errors"`
	} `yaml:"poll"`
	VideoWorkers *int    `yaml:"video_workers"`
	FFmpegPath   *string `yaml:"ffmpeg_path"`
	FFprobePath  *string `yaml:"ffprobe_path"`
	NotifyURL    *string `yaml:"notify_url"`
	MQTT         struct {
		Broker      *string `yaml:"broker"`
		TopicPrefix *string `yaml:"topic_prefix"`
		Username    *string `yaml:"username"`
		Password    *string `yaml:"password"`
	} `yaml:"mqtt"`
	LogLevel  *string `yaml:"log_level"`
	LogFormat *string `yaml:"log_format"`
}

func init() {
	readEnv()
}

func readEnv() {
	readEnvString("BIND_ADDRESS", &BIND_ADDRESS)
	readEnvString("TLS_DOMAINS", &TLS_DOMAINS)
	readEnvString("PUBLIC_BASE_URL", &PUBLIC_BASE_URL)
	readEnvString("API_TOKEN", &API_TOKEN)
	readEnvBool("DEBUG_MODE", &DEBUG_MODE)
	readEnvInt("MAX_UPLOAD_BYTES", &MAX_UPLOAD_BYTES)
	readEnvString("MYSQL_DSN", &MYSQL_DSN)
	readEnvString("SQLITE_FILE", &SQLITE_FILE)
	readEnvString("TMP_DIR", &TMP_DIR)
	readEnvString("UPLOAD_DIR", &UPLOAD_DIR)
	readEnvString("RESULTS_DIR", &RESULTS_DIR)
	readEnvString("VIDEO_RESULTS_DIR", &VIDEO_RESULTS_DIR)
	readEnvString("RESULTS_BUCKET", &RESULTS_BUCKET)
	readEnvInt("PRESIGN_TTL_MIN", &PRESIGN_TTL_MIN)
	readEnvString("AWS_REGION", &AWS_REGION)
	readEnvString("AWS_PROFILE", &AWS_PROFILE)
	readEnvString("S3_ENDPOINT", &S3_ENDPOINT)
	readEnvFloat("FACE_MATCH_THRESHOLD", &FACE_MATCH_THRESHOLD)
	readEnvInt("MAX_IMAGE_DIMENSION", &MAX_IMAGE_DIMENSION)
	readEnvInt("POLL_INTERVAL_MS", &POLL_INTERVAL_MS)
	readEnvInt("POLL_MAX_INTERVAL_MS", &POLL_MAX_INTERVAL_MS)
	readEnvFloat("POLL_BACKOFF", &POLL_BACKOFF)
	readEnvInt("POLL_MAX_ATTEMPTS", &POLL_MAX_ATTEMPTS)
	readEnvInt("POLL_MAX_QUERY_ERRORS", &POLL_MAX_QUERY_ERRORS)
	readEnvInt("VIDEO_WORKERS", &VIDEO_WORKERS)
	readEnvString("FFMPEG_PATH", &FFMPEG_PATH)
	readEnvString("FFPROBE_PATH", &FFPROBE_PATH)
	readEnvString("NOTIFY_URL", &NOTIFY_URL)
	readEnvString("MQTT_BROKER", &MQTT_BROKER)
	readEnvString("MQTT_TOPIC_PREFIX", &MQTT_TOPIC_PREFIX)
	readEnvString("MQTT_USERNAME", &MQTT_USERNAME)
	readEnvString("MQTT_PASSWORD", &MQTT_PASSWORD)
	readEnvString("LOG_LEVEL", &LOG_LEVEL)
	readEnvString("LOG_FORMAT", &LOG_FORMAT)
}

// LoadFile applies a YAML config file. Environment variables still take precedence
func LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	fc := fileConfig{}
	if err = yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	fc.apply()
	readEnv()
	return nil
}

func (fc *fileConfig) apply() {
	setString(fc.BindAddress, &BIND_ADDRESS)
	setString(fc.TLSDomains, &TLS_DOMAINS)
	setString(fc.PublicBaseURL, &PUBLIC_BASE_URL)
	setString(fc.APIToken, &API_TOKEN)
	setBool(fc.DebugMode, &DEBUG_MODE)
	setInt(fc.MaxUploadBytes, &MAX_UPLOAD_BYTES)
	setString(fc.MySQLDSN, &MYSQL_DSN)
	setString(fc.SQLiteFile, &SQLITE_FILE)
	setString(fc.TmpDir, &TMP_DIR)
	setString(fc.UploadDir, &UPLOAD_DIR)
	setString(fc.ResultsDir, &RESULTS_DIR)
	setString(fc.VideoResultsDir, &VIDEO_RESULTS_DIR)
	setString(fc.ResultsBucket, &RESULTS_BUCKET)
	setInt(fc.PresignTTLMin, &PRESIGN_TTL_MIN)
	setString(fc.AWSRegion, &AWS_REGION)
	setString(fc.AWSProfile, &AWS_PROFILE)
	setString(fc.S3Endpoint, &S3_ENDPOINT)
	setFloat(fc.FaceMatchThreshold, &FACE_MATCH_THRESHOLD)
	setInt(fc.MaxImageDimension, &MAX_IMAGE_DIMENSION)
	setInt(fc.Poll.IntervalMs, &POLL_INTERVAL_MS)
	setInt(fc.Poll.MaxIntervalMs, &POLL_MAX_INTERVAL_MS)
	setFloat(fc.Poll.Backoff, &POLL_BACKOFF)
	setInt(fc.Poll.MaxAttempts, &POLL_MAX_ATTEMPTS)
	setInt(fc.Poll.MaxQueryErrors, &POLL_MAX_QUERY_ERRORS)
	setInt(fc.VideoWorkers, &VIDEO_WORKERS)
	setString(fc.FFmpegPath, &FFMPEG_PATH)
	setString(fc.FFprobePath, &FFPROBE_PATH)
	setString(fc.NotifyURL, &NOTIFY_URL)
	setString(fc.MQTT.Broker, &MQTT_BROKER)
	setString(fc.MQTT.TopicPrefix, &MQTT_TOPIC_PREFIX)
	setString(fc.MQTT.Username, &MQTT_USERNAME)
	setString(fc.MQTT.Password, &MQTT_PASSWORD)
	setString(fc.LogLevel, &LOG_LEVEL)
	setString(fc.LogFormat, &LOG_FORMAT)
}

// SetupLogging configures the global logrus logger from LOG_LEVEL and LOG_FORMAT
func SetupLogging() {
	level, err := logrus.ParseLevel(LOG_LEVEL)
	if err != nil {
		logrus.Warnf("Unknown LOG_LEVEL %q, using info", LOG_LEVEL)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if strings.ToLower(LOG_FORMAT) == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func PollInterval() time.Duration {
	return time.Duration(POLL_INTERVAL_MS) * time.Millisecond
}

func PollMaxInterval() time.Duration {
	return time.Duration(POLL_MAX_INTERVAL_MS) * time.Millisecond
}

func PresignTTL() time.Duration {
	return time.Duration(PRESIGN_TTL_MIN) * time.Minute
}

func readEnvString(name string, value *string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	*value = v
}

func readEnvBool(name string, value *bool) {
	v := strings.ToLower(os.Getenv(name))
	if v == "true" || v == "1" || v == "yes" || v == "on" {
		*value = true
	} else if v == "false" || v == "0" || v == "no" || v == "off" {
		*value = false
	}
}

func readEnvFloat(name string, value *float64) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return
	}
	*value = f
}

func readEnvInt(name string, value *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*value = i
}

func setString(from *string, to *string) {
	if from != nil {
		*to = *from
	}
}

func setBool(from *bool, to *bool) {
	if from != nil {
		*to = *from
	}
}

func setInt(from *int, to *int) {
	if from != nil {
		*to = *from
	}
}

func setFloat(from *float64, to *float64) {
	if from != nil {
		*to = *from
	}
}
