package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"time"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"

	"bananaforge/bananomics"
)

const configFile = "bananomics.json"

// noinspection GoUnusedExportedFunction
func InitModule(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	initStart := time.Now()

	logger.Info("Loading bananomics plugin...")

	config := loadConfig(logger, nk)

	engine, err := bananomics.Init(ctx, logger, nk, initializer, config)
	if err != nil {
		logger.Error("Failed to initialize bananomics engine: %v", err)
		return err
	}

	if err := initializer.RegisterEventSessionStart(func(ctx context.Context, logger runtime.Logger, evt *api.Event) {
		if userID, ok := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string); ok && userID != "" {
			engine.SessionStart(ctx, logger, userID)
		}
	}); err != nil {
		logger.Error("Failed to register session start hook: %v", err)
		return err
	}

	if err := initializer.RegisterEventSessionEnd(func(ctx context.Context, logger runtime.Logger, evt *api.Event) {
		if userID, ok := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string); ok && userID != "" {
			engine.SessionEnd(ctx, logger, userID)
		}
	}); err != nil {
		logger.Error("Failed to register session end hook: %v", err)
		return err
	}

	logger.Info("Bananomics plugin loaded in '%d' msec.", time.Since(initStart).Milliseconds())
	return nil
}

// loadConfig reads the engine config from the server's data directory. A
// missing or unreadable file runs the engine on defaults.
func loadConfig(logger runtime.Logger, nk runtime.NakamaModule) *bananomics.Config {
	config := &bananomics.Config{}

	data, err := nk.ReadFile(configFile)
	if err != nil {
		logger.Warn("Config file %s not readable, using defaults: %v", configFile, err)
		return config
	}
	defer data.Close()

	raw, err := io.ReadAll(data)
	if err != nil {
		logger.Warn("Config file %s not readable, using defaults: %v", configFile, err)
		return config
	}
	if err := json.Unmarshal(raw, config); err != nil {
		logger.Warn("Config file %s did not parse, using defaults: %v", configFile, err)
		return &bananomics.Config{}
	}
	return config
}

// main is never called; Nakama loads this package as a plugin and invokes
// InitModule. It exists only so the package links with plain `go build`.
func main() {}
