package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/flowforge-io/flowforge/pkg/api"
	"github.com/flowforge-io/flowforge/pkg/config"
	"github.com/flowforge-io/flowforge/pkg/policy"
	"github.com/flowforge-io/flowforge/pkg/provider"
	"github.com/flowforge-io/flowforge/pkg/stores"
	"github.com/flowforge-io/flowforge/pkg/telemetry"
)

// runtime holds the wired components a command works with. Offline commands
// (validate, diff, state) skip the remote client and dispatcher.
type runtime struct {
	settings   *config.Settings
	telemetry  *telemetry.Telemetry
	logger     zerolog.Logger
	parser     *config.ManifestParser
	store      *stores.SQLiteStore
	guard      *policy.Engine
	client     *api.Client
	dispatcher *provider.Dispatcher
}

// newRuntime builds the runtime from the settings file. With remote set,
// the API client and dispatcher are wired too, which requires the token
// from the environment.
func newRuntime(ctx context.Context, remote bool) (*runtime, error) {
	settings, err := config.LoadSettings(configPath)
	if err != nil {
		return nil, err
	}

	tcfg := telemetry.DefaultConfig()
	tcfg.Logging.Level = settings.Telemetry.LogLevel
	tcfg.Logging.Format = settings.Telemetry.LogFormat
	if verbose {
		tcfg.Logging.Level = "debug"
	}
	if settings.Telemetry.MetricsAddr != "" {
		tcfg.Metrics.Enabled = true
		tcfg.Metrics.ListenAddress = settings.Telemetry.MetricsAddr
	}
	if settings.Telemetry.OTLPEndpoint != "" {
		tcfg.Tracing.Enabled = true
		tcfg.Tracing.Exporter = "otlp"
		tcfg.Tracing.Endpoint = settings.Telemetry.OTLPEndpoint
	}
	tel, err := telemetry.New(tcfg)
	if err != nil {
		return nil, err
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: settings.StatePath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate state database: %w", err)
	}

	rt := &runtime{
		settings:  settings,
		telemetry: tel,
		logger:    tel.Logger,
		parser:    config.NewManifestParser(),
		store:     store,
	}

	if !remote {
		return rt, nil
	}

	guard, err := policy.NewEngine(tel.Logger)
	if err != nil {
		rt.close(ctx)
		return nil, err
	}
	if len(settings.PolicyPaths) > 0 {
		if err := guard.LoadPolicies(ctx, settings.PolicyPaths); err != nil {
			rt.close(ctx)
			return nil, err
		}
	}

	client, err := api.NewClient(api.Config{
		BaseURL:     settings.API.BaseURL,
		Token:       settings.API.Token,
		MaxAttempts: settings.API.MaxAttempts,
		BaseDelay:   settings.API.BaseDelay.Std(),
		MaxDelay:    settings.API.MaxDelay.Std(),
		Logger:      tel.Logger,
		Metrics:     tel.Metrics,
	})
	if err != nil {
		rt.close(ctx)
		return nil, err
	}

	rt.guard = guard
	rt.client = client
	rt.dispatcher = provider.NewDispatcher(client,
		provider.WithGuard(guard),
		provider.WithObserver(tel.Metrics),
		provider.WithLogger(tel.Logger),
	)

	if err := tel.Start(); err != nil {
		rt.close(ctx)
		return nil, err
	}

	return rt, nil
}

func (rt *runtime) close(ctx context.Context) {
	if rt.store != nil {
		_ = rt.store.Close()
	}
	if rt.telemetry != nil {
		_ = rt.telemetry.Shutdown(ctx)
	}
}
