// Package config loads the pipeline configuration from the environment.
// An optional YAML file (CONTRACTFLOW_CONFIG_FILE) supplies base values;
// environment variables always win.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	RegistryPostgres  = "postgres"
	RegistrySQLite    = "sqlite"
	RegistryFirestore = "firestore"

	BlobGCS   = "gcs"
	BlobLocal = "local"

	ExtractorVertex     = "vertex"
	ExtractorDocumentAI = "documentai"
	ExtractorPlain      = "plain"
	// ExtractorDocumentParse uses the Upstage Document Parse API.
	ExtractorDocumentParse = "documentparse"

	LLMVertex = "vertex"
	LLMOpenAI = "openai"
)

// Config holds every setting of the pipeline and its adapters.
type Config struct {
	ProjectID string `yaml:"projectId"`

	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`

	// Registry
	RegistryBackend     string `yaml:"registryBackend"`
	DatabaseURL         string `yaml:"databaseUrl"`
	SQLitePath          string `yaml:"sqlitePath"`
	FirestoreCollection string `yaml:"firestoreCollection"`

	// Blob store
	BlobBackend  string `yaml:"blobBackend"`
	UploadBucket string `yaml:"uploadBucket"`
	LocalBlobDir string `yaml:"localBlobDir"`

	// Extraction
	Extractor             string `yaml:"extractor"`
	DocumentAILocation    string `yaml:"documentAiLocation"`
	DocumentAIProcessorID string `yaml:"documentAiProcessorId"`
	DocumentParseURL      string `yaml:"documentParseUrl"`
	// DocumentParseAPIKey falls back to OpenAIAPIKey; both are Upstage keys.
	DocumentParseAPIKey string `yaml:"-"`
	// PageSplitThreshold is the page count from which PDFs are transcribed
	// page by page; zero disables splitting.
	PageSplitThreshold int `yaml:"pageSplitThreshold"`

	// Language models
	LLMProvider    string `yaml:"llmProvider"`
	VertexAIRegion string `yaml:"vertexAiRegion"`
	VertexModel    string `yaml:"vertexModel"`
	OpenAIBaseURL  string `yaml:"openaiBaseUrl"`
	OpenAIAPIKey   string `yaml:"-"`
	OpenAIModel    string `yaml:"openaiModel"`

	// Dispatch (optional)
	WorkflowID       string `yaml:"workflowId"`
	WorkflowLocation string `yaml:"workflowLocation"`

	// Timeouts for each external call
	BlobTimeout         time.Duration `yaml:"blobTimeout"`
	ExtractionTimeout   time.Duration `yaml:"extractionTimeout"`
	AnalysisTimeout     time.Duration `yaml:"analysisTimeout"`
	ConversationTimeout time.Duration `yaml:"conversationTimeout"`
	GenerationTimeout   time.Duration `yaml:"generationTimeout"`

	// Limits
	MaxUploadBytes int64 `yaml:"maxUploadBytes"`
	HistoryLimit   int   `yaml:"historyLimit"`
	ContextChars   int   `yaml:"contextChars"`

	// Local server
	ListenAddr string `yaml:"listenAddr"`
}

func defaults() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "json",
		RegistryBackend:     RegistryFirestore,
		SQLitePath:          "contractflow.db",
		FirestoreCollection: "documents",
		BlobBackend:         BlobGCS,
		LocalBlobDir:        "blobs",
		Extractor:           ExtractorVertex,
		DocumentAILocation:  "us",
		DocumentParseURL:    "https://api.upstage.ai/v1/document-ai/document-parse",
		PageSplitThreshold:  30,
		LLMProvider:         LLMVertex,
		VertexAIRegion:      "us-central1",
		VertexModel:         "gemini-1.5-pro",
		OpenAIBaseURL:       "https://api.upstage.ai/v1/solar",
		OpenAIModel:         "solar-pro",
		WorkflowLocation:    "us-central1",
		BlobTimeout:         time.Minute,
		ExtractionTimeout:   5 * time.Minute,
		AnalysisTimeout:     3 * time.Minute,
		ConversationTimeout: 2 * time.Minute,
		GenerationTimeout:   3 * time.Minute,
		MaxUploadBytes:      50 << 20,
		HistoryLimit:        20,
		ContextChars:        8000,
		ListenAddr:          ":8080",
	}
}

// Load builds the configuration from the optional YAML file and the environment
// and validates it.
func Load() (*Config, error) {
	cfg := defaults()

	if path := GetEnv("CONTRACTFLOW_CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.ProjectID = GetEnv("PROJECT_ID", c.ProjectID)
	c.LogLevel = GetEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = GetEnv("LOG_FORMAT", c.LogFormat)

	c.RegistryBackend = GetEnv("REGISTRY_BACKEND", c.RegistryBackend)
	c.DatabaseURL = GetEnv("DATABASE_URL", c.DatabaseURL)
	c.SQLitePath = GetEnv("SQLITE_PATH", c.SQLitePath)
	c.FirestoreCollection = GetEnv("FIRESTORE_COLLECTION", c.FirestoreCollection)

	c.BlobBackend = GetEnv("BLOB_BACKEND", c.BlobBackend)
	c.UploadBucket = GetEnv("UPLOAD_BUCKET", c.UploadBucket)
	c.LocalBlobDir = GetEnv("LOCAL_BLOB_DIR", c.LocalBlobDir)

	c.Extractor = GetEnv("EXTRACTOR", c.Extractor)
	c.DocumentAILocation = GetEnv("DOCUMENTAI_LOCATION", c.DocumentAILocation)
	c.DocumentAIProcessorID = GetEnv("DOCUMENTAI_PROCESSOR_ID", c.DocumentAIProcessorID)
	c.DocumentParseURL = GetEnv("DOCUMENT_PARSE_URL", c.DocumentParseURL)
	c.DocumentParseAPIKey = GetEnv("DOCUMENT_PARSE_API_KEY", c.DocumentParseAPIKey)

	c.LLMProvider = GetEnv("LLM_PROVIDER", c.LLMProvider)
	c.VertexAIRegion = GetEnv("VERTEX_AI_REGION", c.VertexAIRegion)
	c.VertexModel = GetEnv("VERTEX_MODEL", c.VertexModel)
	c.OpenAIBaseURL = GetEnv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OpenAIAPIKey = GetEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIModel = GetEnv("OPENAI_MODEL", c.OpenAIModel)
	if c.DocumentParseAPIKey == "" {
		c.DocumentParseAPIKey = c.OpenAIAPIKey
	}

	c.WorkflowID = GetEnv("WORKFLOW_ID", c.WorkflowID)
	c.WorkflowLocation = GetEnv("WORKFLOW_LOCATION", c.WorkflowLocation)
	c.ListenAddr = GetEnv("LISTEN_ADDR", c.ListenAddr)

	var err error
	if c.BlobTimeout, err = getEnvDuration("BLOB_TIMEOUT", c.BlobTimeout); err != nil {
		return err
	}
	if c.ExtractionTimeout, err = getEnvDuration("EXTRACTION_TIMEOUT", c.ExtractionTimeout); err != nil {
		return err
	}
	if c.AnalysisTimeout, err = getEnvDuration("ANALYSIS_TIMEOUT", c.AnalysisTimeout); err != nil {
		return err
	}
	if c.ConversationTimeout, err = getEnvDuration("CONVERSATION_TIMEOUT", c.ConversationTimeout); err != nil {
		return err
	}
	if c.GenerationTimeout, err = getEnvDuration("GENERATION_TIMEOUT", c.GenerationTimeout); err != nil {
		return err
	}
	if c.PageSplitThreshold, err = getEnvInt("PAGE_SPLIT_THRESHOLD", c.PageSplitThreshold); err != nil {
		return err
	}
	maxUpload, err := getEnvInt("MAX_UPLOAD_BYTES", int(c.MaxUploadBytes))
	if err != nil {
		return err
	}
	c.MaxUploadBytes = int64(maxUpload)
	if c.HistoryLimit, err = getEnvInt("CHAT_HISTORY_LIMIT", c.HistoryLimit); err != nil {
		return err
	}
	if c.ContextChars, err = getEnvInt("CHAT_CONTEXT_CHARS", c.ContextChars); err != nil {
		return err
	}
	return nil
}

// Validate checks backend names and the settings each chosen backend requires.
func (c *Config) Validate() error {
	switch c.RegistryBackend {
	case RegistryPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set for the postgres registry")
		}
	case RegistrySQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH must be set for the sqlite registry")
		}
	case RegistryFirestore:
		if c.ProjectID == "" {
			return fmt.Errorf("PROJECT_ID must be set for the firestore registry")
		}
	default:
		return fmt.Errorf("REGISTRY_BACKEND: unknown backend %q", c.RegistryBackend)
	}

	switch c.BlobBackend {
	case BlobGCS:
		if c.UploadBucket == "" {
			return fmt.Errorf("UPLOAD_BUCKET must be set for the gcs blob store")
		}
	case BlobLocal:
		if c.LocalBlobDir == "" {
			return fmt.Errorf("LOCAL_BLOB_DIR must be set for the local blob store")
		}
	default:
		return fmt.Errorf("BLOB_BACKEND: unknown backend %q", c.BlobBackend)
	}

	switch c.Extractor {
	case ExtractorVertex, ExtractorPlain:
	case ExtractorDocumentAI:
		if c.DocumentAIProcessorID == "" {
			return fmt.Errorf("DOCUMENTAI_PROCESSOR_ID must be set for the documentai extractor")
		}
	case ExtractorDocumentParse:
		if c.DocumentParseAPIKey == "" {
			return fmt.Errorf("DOCUMENT_PARSE_API_KEY or OPENAI_API_KEY must be set for the documentparse extractor")
		}
	default:
		return fmt.Errorf("EXTRACTOR: unknown extractor %q", c.Extractor)
	}

	switch c.LLMProvider {
	case LLMVertex:
	case LLMOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY must be set for the openai provider")
		}
	default:
		return fmt.Errorf("LLM_PROVIDER: unknown provider %q", c.LLMProvider)
	}

	if c.NeedsGoogleCloud() && c.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID must be set for Google Cloud adapters")
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT: invalid format %q, allowed: json, text", c.LogFormat)
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if c.MaxUploadBytes <= 0 || c.HistoryLimit <= 0 || c.ContextChars <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES, CHAT_HISTORY_LIMIT and CHAT_CONTEXT_CHARS must be positive")
	}
	return nil
}

// NeedsGoogleCloud reports whether any configured adapter talks to Google Cloud.
func (c *Config) NeedsGoogleCloud() bool {
	return c.RegistryBackend == RegistryFirestore ||
		c.BlobBackend == BlobGCS ||
		c.Extractor == ExtractorVertex ||
		c.Extractor == ExtractorDocumentAI ||
		c.LLMProvider == LLMVertex ||
		c.WorkflowID != ""
}

// SetupLogger installs the default slog logger described by the configuration.
func SetupLogger(c *Config) *slog.Logger {
	level, _ := parseLogLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if c.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// GetEnv reads an environment variable or returns a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	return v, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	return v, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
}
