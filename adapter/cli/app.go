package cli

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/felixgeelhaar/carepath/internal/app"
	"github.com/felixgeelhaar/carepath/pkg/config"
)

var (
	appMu  sync.Mutex
	appCfg *config.Config
	opener = app.NewContainer
)

// SetConfig sets the configuration commands build the container from.
func SetConfig(cfg *config.Config) {
	appMu.Lock()
	defer appMu.Unlock()
	appCfg = cfg
}

// GetConfig returns the loaded configuration, or nil.
func GetConfig() *config.Config {
	appMu.Lock()
	defer appMu.Unlock()
	return appCfg
}

// SetContainerOpener replaces how commands build the container.
func SetContainerOpener(fn func(ctx context.Context, cfg *config.Config) (*app.Container, error)) {
	appMu.Lock()
	defer appMu.Unlock()
	if fn == nil {
		opener = app.NewContainer
		return
	}
	opener = func(ctx context.Context, cfg *config.Config, _ *slog.Logger) (*app.Container, error) {
		return fn(ctx, cfg)
	}
}

// OpenContainer wires the application for one command. Callers close it.
func OpenContainer(ctx context.Context) (*app.Container, error) {
	appMu.Lock()
	cfg, open := appCfg, opener
	appMu.Unlock()

	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return open(ctx, cfg, Logger())
}
