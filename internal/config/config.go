package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	Environment string
	AppURL      string
	CORSOrigin  string

	GitHubClientID     string
	GitHubClientSecret string
	GitHubRedirectURI  string
	GitHubAPIURL       string
	GitHubWebURL       string
	// GitHubReadToken is used for anonymous catalog reads; empty means unauthenticated requests.
	GitHubReadToken string

	UpstreamRepo string
	BaseBranch   string
	CatalogPath  string
	PapersDir    string

	// ContentStore selects the backend: "github" or "local".
	ContentStore  string
	LocalStoreDir string
	LocalStoreURL string

	StepTimeout  time.Duration
	SessionTTL   time.Duration
	StateSecret  string
	CatalogCache time.Duration

	MaxUploadBytes         int64
	RejectDuplicateCourses bool
	SubmitRatePerMinute    int

	RedisURL       string
	DatabaseURL    string
	MigrationsDir  string
	MeiliURL       string
	MeiliMasterKey string

	// SMTP - empty host disables notifications
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	NotifyTo     []string
}

// Load reads .env.local and .env when present, then the environment. Variables already set in the
// environment win over the files.
func Load() Config {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	return Config{
		Addr:        getenv("API_ADDR", ":8787"),
		Environment: getenv("ENVIRONMENT", "development"),
		AppURL:      getenv("APP_URL", "http://localhost:3000"),
		CORSOrigin:  getenv("CORS_ORIGIN", "*"),

		GitHubClientID:     getenv("GITHUB_CLIENT_ID", ""),
		GitHubClientSecret: getenv("GITHUB_CLIENT_SECRET", ""),
		GitHubRedirectURI:  getenv("GITHUB_REDIRECT_URI", "http://localhost:8787/api/auth/callback"),
		GitHubAPIURL:       getenv("GITHUB_API_URL", "https://api.github.com"),
		GitHubWebURL:       getenv("GITHUB_WEB_URL", "https://github.com"),
		GitHubReadToken:    getenv("GITHUB_READ_TOKEN", ""),

		UpstreamRepo: getenv("UPSTREAM_REPO", "Robotics-Society-PEC/Studies"),
		BaseBranch:   getenv("BASE_BRANCH", "main"),
		CatalogPath:  getenv("CATALOG_PATH", "src/data/papers.json"),
		PapersDir:    getenv("PAPERS_DIR", "Papers"),

		ContentStore:  strings.ToLower(getenv("CONTENT_STORE", "github")),
		LocalStoreDir: getenv("LOCAL_STORE_DIR", "./data/repos"),
		LocalStoreURL: getenv("LOCAL_STORE_URL", ""),

		StepTimeout:  time.Duration(getenvInt("STEP_TIMEOUT_SECONDS", 30)) * time.Second,
		SessionTTL:   time.Duration(getenvInt("SESSION_TTL_SECONDS", 7*24*60*60)) * time.Second,
		StateSecret:  getenv("STATE_SECRET", "pecademic-dev-state-secret"),
		CatalogCache: time.Duration(getenvInt("CATALOG_CACHE_SECONDS", 300)) * time.Second,

		MaxUploadBytes:         int64(getenvInt("MAX_UPLOAD_MB", 25)) << 20,
		RejectDuplicateCourses: getenvBool("REJECT_DUPLICATE_COURSES", false),
		SubmitRatePerMinute:    getenvInt("SUBMIT_RATE_PER_MINUTE", 6),

		RedisURL:       getenv("REDIS_URL", ""),
		DatabaseURL:    getenv("DATABASE_URL", ""),
		MigrationsDir:  getenv("MIGRATIONS_DIR", "./db/migrations"),
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),

		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenv("SMTP_PORT", "587"),
		SMTPUsername: getenv("SMTP_USERNAME", ""),
		SMTPPassword: getenv("SMTP_PASSWORD", ""),
		SMTPFrom:     getenv("SMTP_FROM", ""),
		SMTPFromName: getenv("SMTP_FROM_NAME", "Pecademic"),
		NotifyTo:     getenvList("NOTIFY_TO"),
	}
}

func (c Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
