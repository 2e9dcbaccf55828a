// Package app wires configuration, engines, storage, events and transports
// into a running audio bridge.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/SANCHES-Pedro/bq-back/internal/config"
	"github.com/SANCHES-Pedro/bq-back/internal/events"
	bridgehttp "github.com/SANCHES-Pedro/bq-back/internal/http"
	"github.com/SANCHES-Pedro/bq-back/internal/observability"
	"github.com/SANCHES-Pedro/bq-back/internal/observability/logging"
	"github.com/SANCHES-Pedro/bq-back/internal/service/audio"
	"github.com/SANCHES-Pedro/bq-back/internal/service/bridge"
	"github.com/SANCHES-Pedro/bq-back/internal/service/documents"
	"github.com/SANCHES-Pedro/bq-back/internal/service/stt"
	"github.com/SANCHES-Pedro/bq-back/internal/service/stt/google"
	"github.com/SANCHES-Pedro/bq-back/internal/service/stt/mock"
	"github.com/SANCHES-Pedro/bq-back/internal/service/stt/speechmatics"
	"github.com/SANCHES-Pedro/bq-back/internal/storage"
)

// HealthServiceName is the gRPC health service name reported for the bridge.
const HealthServiceName = "audio.bridge.v1.Bridge"

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	sink      *storage.BlobSink
	publisher *events.Publisher
	sessions  *bridge.Service

	httpServer *bridgehttp.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	health     *health.Server

	errc chan error
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration) *Application {
	lc := logging.DefaultConfig()
	lc.Level = cfg.Observability.LogLevel
	lc.Format = cfg.Observability.LogFormat
	lc.Service = cfg.Service.Principal
	logging.Init(lc)

	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
		errc:   make(chan error, 2),
	}
	a.Logger.Info().
		Str("logLevel", cfg.Observability.LogLevel).
		Str("sttProvider", cfg.STT.Provider).
		Msg("Audio bridge application created")
	return a
}

// EngineFactory returns the recognition engine factory for provider.
func EngineFactory(provider string) (stt.EngineFactory, error) {
	switch provider {
	case "speechmatics":
		return speechmatics.NewEngine, nil
	case "google":
		return google.NewEngine, nil
	case "mock":
		return mock.NewEngine, nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", provider)
	}
}

// EngineConfig converts the STT section into the engine contract.
func EngineConfig(c config.STTConfig) stt.Config {
	return stt.Config{
		URL:            c.URL,
		AuthToken:      c.AuthToken,
		SampleRateHz:   c.SampleRateHz,
		BitDepth:       c.BitDepth,
		Encoding:       c.Encoding,
		ChunkSizeBytes: c.ChunkSizeBytes,
		LanguageCode:   c.LanguageCode,
		EnablePartials: c.EnablePartials,
		OperatingPoint: c.OperatingPoint,
		MaxDelay:       c.MaxDelay,
		EnableEntities: c.EnableEntities,
	}
}

// SessionOptions converts the session section into bridge options.
func SessionOptions(c config.SessionConfig, st config.STTConfig) bridge.Options {
	opts := bridge.DefaultOptions()
	opts.Buffer = audio.BufferConfig{
		Format: audio.Format{
			SampleRate:    st.SampleRateHz,
			Channels:      1,
			BitsPerSample: st.BitDepth,
		},
		PullTimeout:     c.PullTimeout,
		MaxPendingBytes: c.MaxPendingBytes,
	}
	opts.Limits = bridge.Limits{
		MaxAudioBytes: c.MaxAudioBytes,
		MaxDuration:   c.MaxDuration,
		MaxFrameBytes: c.MaxFrameBytes,
	}
	opts.PollInterval = c.PollInterval
	opts.DrainTimeout = c.DrainTimeout
	opts.FinalizeTimeout = c.FinalizeTimeout
	return opts
}

// Start opens the sink and publisher, then serves HTTP and gRPC.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().Str("method", "Start").Logger()

	if err := a.Cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	factory, err := EngineFactory(a.Cfg.STT.Provider)
	if err != nil {
		return err
	}

	a.sink, err = storage.Open(ctx, a.Cfg.Storage.BucketURL)
	if err != nil {
		return err
	}

	k := a.Cfg.Kafka
	a.publisher = events.New(&events.Config{
		Brokers:      k.Brokers,
		TopicPartial: k.TopicPartial,
		TopicFinal:   k.TopicFinal,
		TopicSession: k.TopicSession,
		Principal:    k.Principal,
		Enabled:      k.Enabled,
		Async:        k.Async,
	})

	a.sessions = bridge.NewService(bridge.Deps{
		Provider:     a.Cfg.STT.Provider,
		Factory:      factory,
		EngineConfig: EngineConfig(a.Cfg.STT),
		Sink:         a.sink,
		Publisher:    a.publisher,
	}, SessionOptions(a.Cfg.Session, a.Cfg.STT))

	deps := bridgehttp.Deps{Sessions: a.sessions}
	if gen := documents.New(documents.Config{
		APIKey:  a.Cfg.Documents.APIKey,
		Model:   a.Cfg.Documents.Model,
		BaseURL: a.Cfg.Documents.BaseURL,
		Timeout: a.Cfg.Documents.Timeout,
	}); gen != nil {
		deps.Documents = gen
	} else {
		startLogger.Info().Msg("OPENAI_API_KEY not set, document generation disabled")
	}

	a.httpServer = bridgehttp.NewServer(":"+a.Cfg.Service.HTTPPort, bridgehttp.NewRouter(deps))
	httpErrs, err := a.httpServer.Start()
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	go forward(httpErrs, a.errc)

	if err := a.startGRPC(); err != nil {
		return err
	}

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Str("httpAddr", a.httpServer.Addr()).
		Str("grpcAddr", a.grpcLis.Addr().String()).
		Msg("Audio bridge started")
	return nil
}

func (a *Application) startGRPC() error {
	lis, err := net.Listen("tcp", ":"+a.Cfg.Service.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	a.grpcLis = lis

	a.grpcServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor()),
	)

	a.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(a.grpcServer, a.health)
	a.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	a.health.SetServingStatus(HealthServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(a.grpcServer)

	go func() {
		if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			a.errc <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	return nil
}

// Errors reports fatal listener errors after Start.
func (a *Application) Errors() <-chan error {
	return a.errc
}

// HTTPAddr returns the resolved HTTP listen address.
func (a *Application) HTTPAddr() string {
	if a.httpServer == nil {
		return ""
	}
	return a.httpServer.Addr()
}

// Shutdown stops accepting sessions, drains the active ones, then stops the
// transports and closes the publisher and sink.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownLogger := a.Logger.With().Str("method", "Shutdown").Logger()
	shutdownLogger.Info().Msg("Audio bridge shutting down")

	if a.health != nil {
		a.health.Shutdown()
	}

	var errs []error
	if a.sessions != nil {
		if err := a.sessions.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink: %w", err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		shutdownLogger.Error().Err(err).Msg("Shutdown finished with errors")
	} else {
		shutdownLogger.Info().Msg("Shutdown complete")
	}
	return err
}

func forward(in <-chan error, out chan<- error) {
	for err := range in {
		out <- err
	}
}
