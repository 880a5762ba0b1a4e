package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is the service name used when none is provided
	DefaultServiceName = "authsession"

	// DefaultServiceVersion is the default service version used when none is provided
	DefaultServiceVersion = "unknown"

	instrumentationPrefix = "github.com/rosterhub/authsession/"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name of the service (e.g., "authsession", "team-api")
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active
	// When false, uses no-op providers (zero overhead)
	Enabled bool

	// MeterProvider is used when Enabled is true. If nil, a no-op provider is used
	// until an exporter is wired by the application.
	MeterProvider metric.MeterProvider

	// TracerProvider is used when Enabled is true. If nil, a no-op provider is used.
	TracerProvider trace.TracerProvider

	// Resource allows custom resource attributes
	// If nil, default resource is created with service name and version
	Resource *resource.Resource

	// ShutdownFuncs are called by Shutdown, e.g. sdk provider shutdowns
	ShutdownFuncs []func(context.Context) error
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	// Shutdown functions (must be registered during New() only, not thread-safe after initialization)
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	var res *resource.Resource
	var err error
	if config.Resource != nil {
		res = config.Resource
	} else {
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:        config,
		resource:      res,
		shutdownFuncs: config.ShutdownFuncs,
	}

	if config.Enabled {
		inst.initializeProviders()
	} else {
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// initializeProviders picks the injected providers, falling back to no-op ones
func (i *Instrumentation) initializeProviders() {
	i.meterProvider = i.config.MeterProvider
	if i.meterProvider == nil {
		i.meterProvider = noop.NewMeterProvider()
	}
	i.tracerProvider = i.config.TracerProvider
	if i.tracerProvider == nil {
		i.tracerProvider = tracenoop.NewTracerProvider()
	}
}

// Shutdown gracefully shuts down all instrumentation providers
// This should be called when the application is terminating
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error

	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil {
				// Capture first error, but continue shutting down other components
				if shutdownErr == nil {
					shutdownErr = err
				}
			}
		}
	})

	return shutdownErr
}

// Meter returns a named meter for the given scope
// Scopes are layer names like "storage", "tokens", "security", "client"
// The full name will be "github.com/rosterhub/authsession/{scope}"
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(instrumentationPrefix + scope)
}

// Tracer returns a named tracer for the given scope
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(instrumentationPrefix + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// Resource returns the resource describing this service
func (i *Instrumentation) Resource() *resource.Resource {
	return i.resource
}

// StorageSizeCallback is a function that returns the current size of a storage component
type StorageSizeCallback func() int64

// RegisterStorageSizeCallback registers the callback observed by the
// storage.keys gauge. Storage implementations call this once instrumentation is set.
//
// Example:
//
//	func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
//	    s.instrumentation = inst
//	    inst.RegisterStorageSizeCallback("memory", func() int64 { return s.keysCount.Load() })
//	}
func (i *Instrumentation) RegisterStorageSizeCallback(storageType string, keysCount StorageSizeCallback) (metric.Registration, error) {
	if i.meterProvider == nil {
		return nil, fmt.Errorf("meter provider not initialized")
	}
	if keysCount == nil {
		return nil, fmt.Errorf("keys count callback is nil")
	}

	return i.Meter("storage").RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			observer.ObserveInt64(i.metrics.StorageKeys, keysCount(),
				metric.WithAttributes(storageTypeAttr(storageType)))
			return nil
		},
		i.metrics.StorageKeys,
	)
}
