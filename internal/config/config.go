package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string

	// Secrets
	InternalSharedSecret string
	MistralAPIKey        string
	GeminiAPIKey         string
	WebhookSecret        string

	// Logging
	LogLevel  string
	LogFormat string // "console" | "json"

	// Limits
	MaxJSONBodyBytes int64
	MaxPDFBytes      int64

	// Concurrency
	MaxConcurrentRequests int64
	MaxOCRConcurrent      int64
	MaxPageWorkers        int // per-document concurrent OCR pages

	// Server timeouts
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// Request timeouts
	ExtractTimeout  time.Duration
	ClassifyTimeout time.Duration

	// Download
	DownloadTimeout time.Duration

	// rate limiting (per IP)
	RateLimitEvery time.Duration
	RateLimitBurst int

	// housekeeping
	CleanupInterval time.Duration

	// health
	HealthDegradeRatio float64

	// http
	MaxHeaderBytes int

	// Classification
	TextBlockThreshold  int
	ImageBlockThreshold int

	// Routing estimates
	CostPerOCRPage    float64
	TimePerOCRPage    float64
	TimePerDirectPage float64

	// Extraction defaults
	DefaultQuality     string
	IncludePageMarkers bool
	MinWordsThreshold  int

	// OCR chain, tried in order
	OCRBackends    []string
	OCRCallTimeout time.Duration
	MistralModel   string
	MistralRPS     float64
	GeminiModel    string
	GeminiRPS      float64
	TesseractLangs []string
	RasterDPI      int

	// Async jobs
	JobWorkers       int
	JobQueueSize     int
	JobRetention     time.Duration
	JobSweepSchedule string
	RedisURL         string // empty -> in-memory store
	WebhookTimeout   time.Duration
}

// Load reads the environment, after merging an optional .env file from the
// working directory. Variables already set in the environment win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port: envStr("PORT", "8080"),

		InternalSharedSecret: envStr("INTERNAL_SHARED_SECRET", ""),
		MistralAPIKey:        envStr("MISTRAL_API_KEY", ""),
		GeminiAPIKey:         envStr("GEMINI_API_KEY", ""),
		WebhookSecret:        envStr("WEBHOOK_SECRET", ""),

		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogFormat: envStr("LOG_FORMAT", "json"),

		MaxJSONBodyBytes: int64(envInt("MAX_JSON_BODY_BYTES", 2<<20)),
		MaxPDFBytes:      int64(envInt("MAX_PDF_BYTES", int(200<<20))),

		MaxConcurrentRequests: int64(envInt("MAX_CONCURRENT_REQUESTS", 15)),
		MaxOCRConcurrent:      int64(envInt("MAX_OCR_CONCURRENT", 3)),
		MaxPageWorkers:        envInt("MAX_PAGE_WORKERS", 4),

		ReadHeaderTimeout: envDur("READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:       envDur("READ_TIMEOUT", 60*time.Second),
		WriteTimeout:      envDur("WRITE_TIMEOUT", 300*time.Second),
		IdleTimeout:       envDur("IDLE_TIMEOUT", 60*time.Second),

		ExtractTimeout:  envDur("EXTRACT_TIMEOUT", 280*time.Second),
		ClassifyTimeout: envDur("CLASSIFY_TIMEOUT", 30*time.Second),

		DownloadTimeout: envDur("DOWNLOAD_TIMEOUT", 25*time.Second),

		RateLimitEvery: envDur("RATE_LIMIT_EVERY", 600*time.Millisecond),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 20),

		CleanupInterval: envDur("CLEANUP_INTERVAL", 5*time.Minute),

		HealthDegradeRatio: envFloat("HEALTH_DEGRADE_RATIO", 0.9),

		MaxHeaderBytes: envInt("MAX_HEADER_BYTES", 1<<20),

		TextBlockThreshold:  envInt("TEXT_BLOCK_THRESHOLD", 2),
		ImageBlockThreshold: envInt("IMAGE_BLOCK_THRESHOLD", 1),

		CostPerOCRPage:    envFloat("COST_PER_OCR_PAGE", 0.005),
		TimePerOCRPage:    envFloat("TIME_PER_OCR_PAGE", 3.0),
		TimePerDirectPage: envFloat("TIME_PER_DIRECT_PAGE", 0.1),

		DefaultQuality:     envStr("DEFAULT_QUALITY", "balanced"),
		IncludePageMarkers: envBool("INCLUDE_PAGE_MARKERS", true),
		MinWordsThreshold:  envInt("DEFAULT_MIN_WORDS", 20),

		OCRBackends:    envList("OCR_BACKENDS", []string{"mistral", "gemini", "tesseract"}),
		OCRCallTimeout: envDur("OCR_CALL_TIMEOUT", 60*time.Second),
		MistralModel:   envStr("MISTRAL_OCR_MODEL", "mistral-ocr-latest"),
		MistralRPS:     envFloat("MISTRAL_RPS", 5),
		GeminiModel:    envStr("GEMINI_OCR_MODEL", "gemini-2.5-flash"),
		GeminiRPS:      envFloat("GEMINI_RPS", 5),
		TesseractLangs: envList("TESSERACT_LANGS", []string{"deu", "eng"}),
		RasterDPI:      envInt("RASTER_DPI", 300),

		JobWorkers:       envInt("JOB_WORKERS", 4),
		JobQueueSize:     envInt("JOB_QUEUE_SIZE", 100),
		JobRetention:     envDur("JOB_RETENTION", 24*time.Hour),
		JobSweepSchedule: envStr("JOB_SWEEP_SCHEDULE", "@every 10m"),
		RedisURL:         envStr("REDIS_URL", ""),
		WebhookTimeout:   envDur("WEBHOOK_TIMEOUT", 10*time.Second),
	}
}

func (c Config) Validate() error {
	if len(strings.TrimSpace(c.InternalSharedSecret)) < 32 {
		return fmt.Errorf("INTERNAL_SHARED_SECRET must be at least 32 characters")
	}
	switch strings.ToLower(c.DefaultQuality) {
	case "fast", "balanced", "accurate":
	default:
		return fmt.Errorf("DEFAULT_QUALITY must be fast, balanced or accurate")
	}
	for _, b := range c.OCRBackends {
		switch b {
		case "mistral", "gemini", "tesseract":
		default:
			return fmt.Errorf("OCR_BACKENDS: unknown backend %q", b)
		}
	}
	if c.JobRetention < time.Minute {
		return fmt.Errorf("JOB_RETENTION must be at least 1m")
	}
	return nil
}

func envStr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func envDur(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// envList splits a comma separated value, dropping blanks. "none" yields
// an empty list.
func envList(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if strings.EqualFold(v, "none") {
		return []string{}
	}
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
