package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/goccy/go-json"

	"github.com/jsamuelsen/jsonrequest/internal/adapters/clients"
	"github.com/jsamuelsen/jsonrequest/internal/adapters/clients/jsonrequest"
	"github.com/jsamuelsen/jsonrequest/internal/app"
	"github.com/jsamuelsen/jsonrequest/internal/platform/config"
	"github.com/jsamuelsen/jsonrequest/internal/platform/logging"
	"github.com/jsamuelsen/jsonrequest/internal/platform/metrics"
	"github.com/jsamuelsen/jsonrequest/internal/platform/telemetry"
	"github.com/jsamuelsen/jsonrequest/internal/ports"
)

func run(ctx context.Context, opts *options, urls []string, stdout, stderr io.Writer) error {
	// 1. Load and validate configuration (fail fast)
	cfg, err := config.LoadWithOptions(config.Options{
		Profile: opts.profile,
		Dir:     opts.configDir,
		EnvFile: opts.envFile,
	})
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// 2. Initialize logging; stdout is reserved for outcomes
	logger := logging.NewWithWriter(&logging.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: cfg.App.Name,
		Version: cfg.App.Version,
		File: logging.FileConfig{
			Enabled:    cfg.Log.File.Enabled,
			Path:       cfg.Log.File.Path,
			MaxSizeMB:  cfg.Log.File.MaxSizeMB,
			MaxBackups: cfg.Log.File.MaxBackups,
			MaxAgeDays: cfg.Log.File.MaxAgeDays,
			Compress:   cfg.Log.File.Compress,
		},
	}, stderr)
	logging.SetDefault(logger)

	logger.Debug("starting",
		slog.String("version", Version),
		slog.String("commit", Commit),
		slog.String("environment", cfg.App.Environment),
	)

	// 3. Initialize telemetry (noop if disabled)
	telProvider, err := telemetry.New(ctx, &telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		Endpoint:     cfg.Telemetry.Endpoint,
		Insecure:     cfg.Telemetry.Insecure,
		ServiceName:  cfg.Telemetry.ServiceName,
		Version:      cfg.App.Version,
		Environment:  cfg.App.Environment,
		SamplingRate: cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	defer func() {
		if shutdownErr := telProvider.Shutdown(context.WithoutCancel(ctx)); shutdownErr != nil {
			logger.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	// 4. Create the transport
	transport, err := newTransport(cfg, opts, logger)
	if err != nil {
		return fmt.Errorf("creating transport: %w", err)
	}
	defer closeLogged(logger, "transport", transport)

	// 5. Create the request service
	var registryOpts []metrics.Option
	if opts.metrics {
		registryOpts = append(registryOpts, metrics.WithRuntimeCollectors())
	}

	registry := metrics.New(registryOpts...)

	svc := app.NewRequestService(transport, &app.ServiceConfig{
		Logger:         logger,
		Metrics:        registry,
		BaseURL:        cfg.Service.BaseURL,
		MaxConcurrency: cfg.Dispatch.MaxConcurrency,
	})

	// 6. Send and report
	outcomes, err := send(ctx, svc, opts, urls)
	if printErr := printOutcomes(stdout, outcomes); printErr != nil {
		return printErr
	}

	if err != nil {
		return err
	}

	if opts.metrics {
		if err := registry.WriteText(stdout); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}

	for _, outcome := range outcomes {
		if !outcome.Succeeded() {
			return errFailedOutcomes
		}
	}

	return nil
}

func newTransport(cfg *config.Config, opts *options, logger *slog.Logger) (*clients.Client, error) {
	var cache ports.ResponseCache
	if cfg.Client.Cache.Enabled && !opts.noCache {
		cache = clients.NewMemoryCache(cfg.Client.Cache.MaxEntries, cfg.Client.Cache.MaxAge)
	}

	return clients.New(&clients.Config{
		ServiceName:     cfg.Service.Name,
		UserAgent:       cfg.Client.UserAgent,
		Timeout:         cfg.Client.Timeout,
		Retry:           cfg.Client.Retry,
		Circuit:         cfg.Client.CircuitBreaker,
		Transport:       cfg.Client.Transport,
		Cache:           cache,
		DefaultCacheTTL: cfg.Client.Cache.DefaultTTL,
		Logger:          logger,
	})
}

// closeLogged closes c and logs a failure instead of dropping it.
func closeLogged(logger *slog.Logger, name string, c io.Closer) {
	if err := c.Close(); err != nil {
		logger.Error(name+" close error", slog.Any("error", err))
	}
}

// send dispatches every URL once concurrently, or each URL count times in
// sequence when a count above one is given.
func send(ctx context.Context, svc *app.RequestService, opts *options, urls []string) ([]*jsonrequest.Outcome, error) {
	targets := make([]app.Target, len(urls))

	for i, u := range urls {
		target, err := opts.target(u)
		if err != nil {
			return nil, err
		}

		targets[i] = target
	}

	if opts.count <= 1 {
		reqs := make([]*jsonrequest.JSONRequest, len(targets))

		for i, target := range targets {
			req, err := svc.Build(target)
			if err != nil {
				return nil, err
			}

			reqs[i] = req
		}

		return svc.SendAll(ctx, reqs), nil
	}

	var outcomes []*jsonrequest.Outcome

	for _, target := range targets {
		repeated, err := svc.Repeat(ctx, target, opts.count)
		outcomes = append(outcomes, repeated...)

		if err != nil {
			return outcomes, err
		}
	}

	return outcomes, nil
}

// outcomeView is the printed form of an Outcome.
type outcomeView struct {
	Method      string `json:"method"`
	URL         string `json:"url"`
	Result      string `json:"result"`
	Status      int    `json:"status,omitempty"`
	Body        any    `json:"body,omitempty"`
	Exception   string `json:"exception,omitempty"`
	Error       string `json:"error,omitempty"`
	NetworkTime string `json:"network_time,omitempty"`
}

func newOutcomeView(o *jsonrequest.Outcome) outcomeView {
	view := outcomeView{
		Method: string(o.Method),
		URL:    o.URL,
		Result: o.Result(),
	}

	if o.Succeeded() {
		view.Body = o.Response.Value
		return view
	}

	view.Status = o.Err.StatusCode()
	view.Error = o.Err.Message()

	if o.Err.HasBody {
		view.Body = o.Err.Body
	}

	if exception, ok := o.Err.Exception(); ok {
		view.Exception = exception
	}

	if o.Err.NetworkTime > 0 {
		view.NetworkTime = o.Err.NetworkTime.String()
	}

	return view
}

func printOutcomes(w io.Writer, outcomes []*jsonrequest.Outcome) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	for _, outcome := range outcomes {
		if err := enc.Encode(newOutcomeView(outcome)); err != nil {
			return fmt.Errorf("printing outcome: %w", err)
		}
	}

	return nil
}
