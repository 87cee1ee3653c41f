package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	BotToken      string
	OwnerID       int64
	LoginPassword string

	QueueBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	QueueTTLHours int
	PostgresDSN   string
	UsePostgres   bool
	MigrationsDir string
	DownloadDir   string
	FFmpegPath    string
	HTTPAddr      string
	UploadAsDoc   bool
	UploadLimit   int64
	Merge         MergeConfig
	S3            S3Config
}

type MergeConfig struct {
	MaxQueueSize     int
	MinMergeItems    int
	Workers          int
	StrictDownloads  bool
	DownloadTimeout  time.Duration
	MergeTimeout     time.Duration
	UploadTimeout    time.Duration
	ProgressInterval time.Duration
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	LinkTTL   time.Duration
}

func (c S3Config) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

const (
	DefaultMaxQueueSize  = 10
	DefaultMinMergeItems = 2
	DefaultWorkers       = 3
	// Bot API refuses uploads above 50 MB.
	DefaultUploadLimitMB = 50
)

func Load() (*Config, error) {
	redisHost := getenv("REDIS_HOST", "localhost")
	redisPort := getenv("REDIS_PORT", "6379")

	cfg := &Config{
		BotToken:      strings.TrimSpace(os.Getenv("BOT_TOKEN")),
		OwnerID:       envInt64("OWNER_ID", 0),
		LoginPassword: os.Getenv("LOGIN_PASSWORD"),

		QueueBackend:  strings.ToLower(getenv("QUEUE_BACKEND", "memory")),
		RedisAddr:     fmt.Sprintf("%s:%s", redisHost, redisPort),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),
		QueueTTLHours: envInt("QUEUE_TTL_HOURS", 24),
		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		UsePostgres:   os.Getenv("POSTGRES_DSN") != "" || os.Getenv("POSTGRES_HOST") != "",
		MigrationsDir: getenv("MIGRATIONS_DIR", "migrations"),
		DownloadDir:   getenv("DOWNLOAD_DIR", "downloads"),
		FFmpegPath:    getenv("FFMPEG_PATH", "ffmpeg"),
		HTTPAddr:      os.Getenv("HTTP_ADDR"),
		UploadAsDoc:   envBool("UPLOAD_AS_DOCUMENT", false),
		UploadLimit:   int64(envInt("UPLOAD_LIMIT_MB", DefaultUploadLimitMB)) << 20,

		Merge: MergeConfig{
			MaxQueueSize:     envInt("MAX_QUEUE_SIZE", DefaultMaxQueueSize),
			MinMergeItems:    envInt("MIN_MERGE_ITEMS", DefaultMinMergeItems),
			Workers:          envInt("WORKERS", DefaultWorkers),
			StrictDownloads:  envBool("STRICT_DOWNLOADS", false),
			DownloadTimeout:  envDuration("DOWNLOAD_TIMEOUT", 10*time.Minute),
			MergeTimeout:     envDuration("MERGE_TIMEOUT", 30*time.Minute),
			UploadTimeout:    envDuration("UPLOAD_TIMEOUT", 30*time.Minute),
			ProgressInterval: envDuration("PROGRESS_INTERVAL", 3*time.Second),
		},

		S3: S3Config{
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			Bucket:    os.Getenv("S3_BUCKET"),
			UseSSL:    envBool("S3_USE_SSL", false),
			LinkTTL:   envDuration("S3_LINK_TTL", 24*time.Hour),
		},
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN is not set")
	}
	switch cfg.QueueBackend {
	case "memory", "redis":
	default:
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}
	if cfg.Merge.MinMergeItems < 2 {
		cfg.Merge.MinMergeItems = 2
	}
	if cfg.Merge.MaxQueueSize < cfg.Merge.MinMergeItems {
		return nil, fmt.Errorf("MAX_QUEUE_SIZE (%d) is below MIN_MERGE_ITEMS (%d)", cfg.Merge.MaxQueueSize, cfg.Merge.MinMergeItems)
	}
	if cfg.Merge.Workers <= 0 {
		cfg.Merge.Workers = DefaultWorkers
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Invalid %s value %q, using default: %d", key, v, def)
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("Invalid %s value %q, using default: %d", key, v, def)
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("Invalid %s value %q, using default: %t", key, v, def)
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Invalid %s value %q, using default: %s", key, v, def)
		return def
	}
	return d
}
