package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Monitor  MonitorConfig
	Alerts   AlertsConfig
	Projects []Project
}

// Project is one independently hosted database project to monitor.
type Project struct {
	Name        string `json:"name"`
	DatabaseURL string `json:"database_url"`
	// FunctionsTable is the optional table listing the project's serverless
	// functions, e.g. "public.edge_functions". Empty disables function
	// discovery for the project.
	FunctionsTable string `json:"functions_table,omitempty"`
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type MonitorConfig struct {
	BufferPercent        int
	LookbackDays         int
	DiscoverConcurrency  int
	SourceTimeoutSeconds int
	AuditSchedule        string
	HealthSchedule       string
}

type AlertsConfig struct {
	SlackWebhookURL    string
	TelegramToken      string
	TelegramChatID     int64
	SendTimeoutSeconds int
}

func Load() (*Config, error) {
	// Load .env if present; a missing file is fine
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	projects, err := parseProjects(os.Getenv("PROJECTS"))
	if err != nil {
		return nil, err
	}

	return &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "fleetcron"),
			Password: getEnv("DB_PASSWORD", "fleetcron"),
			DBName:   getEnv("DB_NAME", "fleetcron"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Monitor: MonitorConfig{
			BufferPercent:        getEnvAsInt("MONITOR_BUFFER_PERCENT", 50),
			LookbackDays:         getEnvAsInt("MONITOR_LOOKBACK_DAYS", 7),
			DiscoverConcurrency:  getEnvAsInt("MONITOR_DISCOVER_CONCURRENCY", 4),
			SourceTimeoutSeconds: getEnvAsInt("MONITOR_SOURCE_TIMEOUT", 30),
			AuditSchedule:        getEnv("MONITOR_AUDIT_SCHEDULE", "0 */6 * * *"),
			HealthSchedule:       getEnv("MONITOR_HEALTH_SCHEDULE", "*/5 * * * *"),
		},
		Alerts: AlertsConfig{
			SlackWebhookURL:    os.Getenv("SLACK_WEBHOOK_URL"),
			TelegramToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
			TelegramChatID:     getEnvAsInt64("TELEGRAM_CHAT_ID", 0),
			SendTimeoutSeconds: getEnvAsInt("ALERT_SEND_TIMEOUT", 10),
		},
		Projects: projects,
	}, nil
}

// parseProjects decodes the PROJECTS env var, a JSON array of project
// definitions. An unset variable yields no projects; the orchestrator
// treats an empty fleet as a hard error at pass time.
func parseProjects(raw string) ([]Project, error) {
	if raw == "" {
		return nil, nil
	}

	var projects []Project
	if err := json.Unmarshal([]byte(raw), &projects); err != nil {
		return nil, fmt.Errorf("invalid PROJECTS value: %w", err)
	}

	for i, p := range projects {
		if p.Name == "" {
			return nil, fmt.Errorf("project %d is missing a name", i)
		}
		if p.DatabaseURL == "" {
			return nil, fmt.Errorf("project %q is missing database_url", p.Name)
		}
	}

	return projects, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func (c *Config) DatabaseURL() string {
	// If DATABASE_URL is set, use it directly
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		return databaseURL
	}

	// Otherwise, construct from individual components
	return "postgres://" + c.Database.User + ":" + c.Database.Password +
		"@" + c.Database.Host + ":" + c.Database.Port +
		"/" + c.Database.DBName + "?sslmode=" + c.Database.SSLMode
}
