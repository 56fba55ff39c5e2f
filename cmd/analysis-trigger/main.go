package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/contractflow/internal/app"
	"github.com/Lllllllleong/contractflow/internal/apperr"
	"github.com/Lllllllleong/contractflow/internal/models"
)

var (
	pipeline *app.App
	once     sync.Once
	initErr  error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Invoked by the dispatch workflow once an upload is stored.
	functions.CloudEvent("HandleAnalysisEvent", handleAnalysisEvent)
}

// main is required by the Go Functions Framework.
func main() {}

// handleAnalysisEvent runs the analysis named by the event. Only internal
// errors are returned: every other failure is already recorded on the
// document, and a redelivery would not change the outcome.
func handleAnalysisEvent(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		pipeline, initErr = app.FromEnv(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var data models.AnalysisEvent
	if err := e.DataAs(&data); err != nil {
		slog.Error("Failed to decode event data", "error", err, "eventId", e.ID(), "data", string(e.Data()))
		return fmt.Errorf("event.DataAs: %w", err)
	}
	logCtx := slog.With("documentId", data.DocumentID, "ownerId", data.OwnerID, "eventId", e.ID())

	analysis, err := pipeline.Controller.RunAnalysis(ctx, data.DocumentID, data.OwnerID)
	if err != nil {
		cat := apperr.CategoryOf(err)
		if cat == apperr.CategoryInternal {
			logCtx.Error("Analysis run failed.", "error", err)
			return err
		}
		logCtx.Warn("Analysis run ended without a result.", "category", cat, "error", err)
		return nil
	}
	logCtx.Info("Analysis run completed.", "analysisId", analysis.ID, "riskLevel", analysis.RiskLevel)
	return nil
}
