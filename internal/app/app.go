// Package app wires the configured backends into a services.Controller.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Lllllllleong/contractflow/internal/config"
	"github.com/Lllllllleong/contractflow/internal/filestore"
	"github.com/Lllllllleong/contractflow/internal/gcp"
	"github.com/Lllllllleong/contractflow/internal/httpapi"
	"github.com/Lllllllleong/contractflow/internal/metrics"
	"github.com/Lllllllleong/contractflow/internal/openai"
	"github.com/Lllllllleong/contractflow/internal/registry"
	"github.com/Lllllllleong/contractflow/internal/services"
)

// App owns the controller and every client opened to build it.
type App struct {
	Config     *config.Config
	Controller *services.Controller
	Metrics    *metrics.Metrics

	closers []func() error
}

// New opens the registry, blob store and model adapters selected by cfg.
// Metrics are registered with promReg when it is not nil.
func New(ctx context.Context, cfg *config.Config, promReg prometheus.Registerer) (*App, error) {
	a := &App{Config: cfg}
	if promReg != nil {
		a.Metrics = metrics.New(promReg)
	}

	deps, err := a.build(ctx)
	if err != nil {
		if cerr := a.Close(); cerr != nil {
			slog.Error("Failed to close clients after an initialization error.", "error", cerr)
		}
		return nil, err
	}
	a.Controller = services.NewController(deps)
	slog.Info("Pipeline initialized.",
		"registry", cfg.RegistryBackend,
		"blobStore", cfg.BlobBackend,
		"extractor", cfg.Extractor,
		"llmProvider", cfg.LLMProvider,
		"dispatch", cfg.WorkflowID != "",
	)
	return a, nil
}

// FromEnv loads the configuration, installs the configured logger and builds
// the App with metrics on the default Prometheus registry.
func FromEnv(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	config.SetupLogger(cfg)
	return New(ctx, cfg, prometheus.DefaultRegisterer)
}

// Handler returns the HTTP handlers bound to the controller.
func (a *App) Handler() *httpapi.Handler {
	return httpapi.New(a.Controller, a.Config.MaxUploadBytes)
}

// Close releases every client in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *App) build(ctx context.Context) (services.Deps, error) {
	cfg := a.Config
	deps := services.Deps{
		Metrics: a.Metrics,
		Limits:  services.LimitsFromConfig(cfg),
	}

	reg, err := a.openRegistry(ctx)
	if err != nil {
		return deps, err
	}
	deps.Registry = reg

	if deps.Blobs, err = a.openBlobStore(ctx); err != nil {
		return deps, err
	}

	// One Vertex client serves extraction, analysis and chat when any of them uses it.
	var vertex *gcp.VertexClient
	if cfg.Extractor == config.ExtractorVertex || cfg.LLMProvider == config.LLMVertex {
		vertex, err = gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.VertexModel)
		if err != nil {
			return deps, fmt.Errorf("failed to create vertex client: %w", err)
		}
		a.onClose(vertex.Close)
	}

	switch cfg.Extractor {
	case config.ExtractorVertex:
		deps.Extractor = services.NewExtractionRouter(services.NewPageSplitExtractor(vertex, cfg.PageSplitThreshold))
	case config.ExtractorDocumentAI:
		docAI, err := gcp.NewDocumentAIExtractor(ctx, cfg.ProjectID, cfg.DocumentAILocation, cfg.DocumentAIProcessorID)
		if err != nil {
			return deps, fmt.Errorf("failed to create document ai client: %w", err)
		}
		a.onClose(docAI.Close)
		deps.Extractor = services.NewExtractionRouter(services.NewPageSplitExtractor(docAI, cfg.PageSplitThreshold))
	case config.ExtractorDocumentParse:
		parser, err := openai.NewDocumentParser(openai.DocumentParseConfig{
			APIKey: cfg.DocumentParseAPIKey,
			URL:    cfg.DocumentParseURL,
		})
		if err != nil {
			return deps, err
		}
		deps.Extractor = services.NewExtractionRouter(services.NewPageSplitExtractor(parser, cfg.PageSplitThreshold))
	default:
		deps.Extractor = services.NewExtractionRouter(nil)
	}

	switch cfg.LLMProvider {
	case config.LLMOpenAI:
		client, err := openai.New(openai.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		})
		if err != nil {
			return deps, err
		}
		deps.Analyzer, deps.Conversation, deps.Drafter = client, client, client
	default:
		deps.Analyzer, deps.Conversation, deps.Drafter = vertex, vertex, vertex
	}

	if cfg.WorkflowID != "" {
		dispatcher, err := gcp.NewWorkflowDispatcher(ctx, cfg.ProjectID, cfg.WorkflowLocation, cfg.WorkflowID)
		if err != nil {
			return deps, fmt.Errorf("failed to create workflows client: %w", err)
		}
		a.onClose(dispatcher.Close)
		deps.Dispatcher = dispatcher
	}
	return deps, nil
}

func (a *App) openRegistry(ctx context.Context) (registry.Registry, error) {
	cfg := a.Config
	logger := slog.Default().With("component", "registry")
	var (
		reg registry.Registry
		err error
	)
	switch cfg.RegistryBackend {
	case config.RegistryPostgres:
		reg, err = registry.OpenPostgres(ctx, cfg.DatabaseURL, logger)
	case config.RegistrySQLite:
		reg, err = registry.OpenSQLite(ctx, cfg.SQLitePath, logger)
	case config.RegistryFirestore:
		client, cerr := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
		if cerr != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", cerr)
		}
		reg = registry.NewFirestoreRegistry(client, cfg.FirestoreCollection)
	default:
		err = fmt.Errorf("unknown registry backend %q", cfg.RegistryBackend)
	}
	if err != nil {
		return nil, err
	}
	a.onClose(reg.Close)
	return reg, nil
}

func (a *App) openBlobStore(ctx context.Context) (services.BlobStore, error) {
	cfg := a.Config
	switch cfg.BlobBackend {
	case config.BlobGCS:
		store, err := gcp.NewBlobStore(ctx, cfg.UploadBucket)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		a.onClose(store.Close)
		return store, nil
	case config.BlobLocal:
		return filestore.New(cfg.LocalBlobDir)
	}
	return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
}
