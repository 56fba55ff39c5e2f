package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/contractflow/internal/app"
	"github.com/Lllllllleong/contractflow/internal/httpapi"
)

var (
	handler *httpapi.Handler
	once    sync.Once
	initErr error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// "HandleContractGenerator" is the entry point name configured in GCP.
	functions.HTTP("HandleContractGenerator", handleContractGenerator)
}

// main is required by the Go Functions Framework.
func main() {}

// handleContractGenerator drafts a contract (POST) or lists the caller's contracts (GET ?type=&page=&limit=).
func handleContractGenerator(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		var a *app.App
		a, initErr = app.FromEnv(context.Background())
		if initErr == nil {
			handler = a.Handler()
		}
	})
	if initErr != nil {
		slog.Error("CRITICAL: Function initialization failed.", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	handler.Contracts(w, r)
}
