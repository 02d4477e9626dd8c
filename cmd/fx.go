package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"

	"github.com/mosaic-run/meshrt/config"
	"github.com/mosaic-run/meshrt/internal/domain/mesh"
	"github.com/mosaic-run/meshrt/internal/facade/httpapi"
	"github.com/mosaic-run/meshrt/internal/roles"
	"github.com/mosaic-run/meshrt/internal/roles/agent"
	"github.com/mosaic-run/meshrt/internal/runtime/manager"
	"github.com/mosaic-run/meshrt/internal/store/memstore"
)

// NewApp wires the full runtime: config -> store -> broker -> roles ->
// manager -> HTTP facade, as an fx.App.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		coreProvide(cfg),
		fx.Provide(ProvideHTTPServer),
		fx.Invoke(RegisterLifecycle),
	)
}

// coreProvide wires config -> store -> broker -> roles -> manager, the part
// of the graph every cmd subcommand shares. The HTTP facade and its
// lifecycle hook are layered on top only by NewApp; statusCmd builds its own
// fx.App over this same core to drive the ops dashboard instead.
func coreProvide(cfg *config.Config) fx.Option {
	return fx.Provide(
		func() *config.Config { return cfg },
		ProvideLogger,
		ProvideTracerProvider,
		ProvidePubSub,
		ProvideStore,
		ProvideBroker,
		ProvideDriverFactory,
		ProvideRoleRegistry,
		ProvideManager,
	)
}

// ProvideLogger builds the process-wide structured logger.
func ProvideLogger() *slog.Logger {
	return slog.Default()
}

// ProvideTracerProvider builds the process-wide TracerProvider and installs
// it as the otel global, so every otel.Tracer(...) call anywhere in the
// runtime (the HTTP facade included) produces real spans. No exporter is
// registered: wiring one is an operator concern, not this runtime's.
func ProvideTracerProvider() *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	return tp
}

// ProvidePubSub selects the mesh transport named by cfg.Broker.Transport.
func ProvidePubSub(cfg *config.Config, logger *slog.Logger) (mesh.PubSub, error) {
	switch cfg.Broker.Transport {
	case "amqp":
		return mesh.NewAMQPPubSub(cfg.Broker.AMQPURI, logger)
	default:
		return mesh.NewInProcessPubSub(logger), nil
	}
}

// ProvideStore builds the in-memory RoutingStore/NodePersister/
// MosaicPersister/SessionPersister implementation.
func ProvideStore() *memstore.Store {
	return memstore.New(4096)
}

// ProvideBroker wraps the selected PubSub with event persistence.
func ProvideBroker(pubsub mesh.PubSub, store *memstore.Store, logger *slog.Logger) *mesh.Broker {
	return mesh.NewBroker(pubsub, store, store, logger)
}

// ProvideDriverFactory builds the agent role's LLM driver given a node's
// configured driver name. Anthropic is the default; "openai" selects
// go-openai. Unknown driver names are a configuration error, not a panic.
func ProvideDriverFactory(cfg *config.Config) roles.DriverFactory {
	return func(driverName, model string) (agent.Driver, error) {
		switch driverName {
		case "openai":
			return agent.NewOpenAIDriver(cfg.LLM.OpenAIAPIKey, model), nil
		case "anthropic", "":
			return agent.NewAnthropicDriver(cfg.LLM.AnthropicAPIKey, model, 0), nil
		default:
			return nil, fmt.Errorf("cmd: unknown agent driver %q", driverName)
		}
	}
}

// ProvideRoleRegistry wires every routing.NodeType to its session-role
// adapter factory.
func ProvideRoleRegistry(store *memstore.Store, drivers roles.DriverFactory, logger *slog.Logger) *roles.Registry {
	return &roles.Registry{
		Sessions: store,
		Drivers:  drivers,
		Logger:   logger,
	}
}

// ProvideManager builds the RuntimeManager facade.
func ProvideManager(cfg *config.Config, broker *mesh.Broker, store *memstore.Store, registry *roles.Registry, logger *slog.Logger) *manager.Manager {
	return manager.New(cfg.Runtime.MaxThreads, broker, store, store, store, registry, logger)
}

// ProvideHTTPServer builds the chi router + http.Server exposing the
// RuntimeManager facade.
func ProvideHTTPServer(mgr *manager.Manager) *http.Server {
	r := chi.NewRouter()
	httpapi.New(mgr).Routes(r)
	return &http.Server{Addr: ":8090", Handler: r}
}

// RegisterLifecycle hooks the HTTP server and the RuntimeManager into fx's
// start/stop lifecycle. Stopping the manager drains every running mosaic
// before the process exits.
func RegisterLifecycle(lc fx.Lifecycle, srv *http.Server, mgr *manager.Manager, tp *sdktrace.TracerProvider, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("http server failed", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil {
				logger.Error("http server shutdown failed", "err", err)
			}
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("tracer provider shutdown failed", "err", err)
			}
			return mgr.StopRuntime(ctx)
		},
	})
}
