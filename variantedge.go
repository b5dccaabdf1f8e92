package variantedge

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zalando/variantedge/logging"
	"github.com/zalando/variantedge/metrics"
	"github.com/zalando/variantedge/net"
	"github.com/zalando/variantedge/proxy"
)

const defaultWaitForShutdown = 10 * time.Second

// Options to start variantedge.
type Options struct {
	// Network address that variantedge should listen on.
	Address string

	// Network address of the support endpoints, /metrics and
	// /healthz. When empty, the support listener is not started.
	SupportListener string

	// URL of the endpoint listing the variant URLs. Defaults to
	// manifest.DefaultURL.
	ManifestURL string

	// Output file for the application log. Default value: /dev/stderr.
	//
	// When /dev/stderr or /dev/stdout is passed in, it will be resolved
	// to os.Stderr or os.Stdout.
	//
	// Warning: passing an arbitrary file will try to open it append
	// on start and use it, or fail on start, but the current
	// implementation doesn't support any more proper handling
	// of temporary failures or log-rolling.
	ApplicationLogOutput string

	// Level of the application log, as accepted by logrus.ParseLevel.
	ApplicationLogLevel string

	// Prefix for every log entry.
	ApplicationLogPrefix string

	// Output file for the access log. Default value: /dev/stderr.
	//
	// When /dev/stderr or /dev/stdout is passed in, it will be resolved
	// to os.Stderr or os.Stdout.
	//
	// Warning: passing an arbitrary file will try to open it append
	// on start and use it, or fail on start, but the current
	// implementation doesn't support any more proper handling
	// of temporary failures or log-rolling.
	AccessLogOutput string

	// Disables the access log.
	AccessLogDisabled bool

	// Enables logs in JSON format
	AccessLogJSONEnabled bool

	// Prefix of the metrics names.
	MetricsPrefix string

	// Enables the Go runtime and process metrics.
	EnableRuntimeMetrics bool

	// Buckets of the duration histograms.
	HistogramBuckets []float64

	// Timeout used for the outgoing connections and requests to the
	// manifest endpoint and the variant origins.
	TimeoutBackend time.Duration

	// KeepAlive of the outgoing connections.
	KeepAliveBackend time.Duration

	// Maximum number of idle connections per origin host.
	IdleConnectionsPerHost int

	// Period of closing all the idle outgoing connections. Negative
	// disables it.
	CloseIdleConnsPeriod time.Duration

	// Timeouts and limits of the server connections.
	ReadTimeoutServer       time.Duration
	ReadHeaderTimeoutServer time.Duration
	WriteTimeoutServer      time.Duration
	IdleTimeoutServer       time.Duration
	MaxHeaderBytes          int

	// Maximum time to wait for the open connections to finish on
	// shutdown.
	WaitForShutdown time.Duration
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func createLogOutput(path string) (io.Writer, io.Closer, error) {
	switch path {
	case "", "/dev/stderr":
		return os.Stderr, nopCloser{}, nil
	case "/dev/stdout":
		return os.Stdout, nopCloser{}, nil
	default:
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			return nil, nil, err
		}

		return f, f, nil
	}
}

func initLog(o Options) (func(), error) {
	appOut, appCloser, err := createLogOutput(o.ApplicationLogOutput)
	if err != nil {
		return nil, err
	}

	accessOut, accessCloser, err := createLogOutput(o.AccessLogOutput)
	if err != nil {
		appCloser.Close()
		return nil, err
	}

	closeLogs := func() {
		appCloser.Close()
		accessCloser.Close()
	}

	if err := logging.Init(logging.Options{
		ApplicationLogPrefix: o.ApplicationLogPrefix,
		ApplicationLogOutput: appOut,
		ApplicationLogLevel:  o.ApplicationLogLevel,
		AccessLogOutput:      accessOut,
		AccessLogDisabled:    o.AccessLogDisabled,
		AccessLogJSONEnabled: o.AccessLogJSONEnabled,
	}); err != nil {
		closeLogs()
		return nil, err
	}

	return closeLogs, nil
}

func supportHandler(m metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("OK"))
	})

	r.Handle("/metrics", m.Handler())
	return r
}

func (o Options) server(address string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              address,
		Handler:           h,
		ReadTimeout:       o.ReadTimeoutServer,
		ReadHeaderTimeout: o.ReadHeaderTimeoutServer,
		WriteTimeout:      o.WriteTimeoutServer,
		IdleTimeout:       o.IdleTimeoutServer,
		MaxHeaderBytes:    o.MaxHeaderBytes,
	}
}

// serve starts the servers and shuts them down when ctx is done, or
// any of them fails.
func serve(ctx context.Context, wait time.Duration, servers ...*http.Server) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range servers {
		g.Go(func() error {
			log.Infof("listening on %v", s.Addr)
			if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		log.Infof("shutting down the servers in at most %s...", wait)
		sctx, cancel := context.WithTimeout(context.Background(), wait)
		defer cancel()

		var errs []error
		for _, s := range servers {
			if err := s.Shutdown(sctx); err != nil {
				log.Errorf("unable to shut down the server %s: %v", s.Addr, err)
				errs = append(errs, err)
			}
		}

		log.Info("servers shut down")
		return errors.Join(errs...)
	})

	return g.Wait()
}

// RunContext variantedge until ctx is done. It returns an error when
// the logging cannot be initialized or a listener fails.
func RunContext(ctx context.Context, o Options) error {
	closeLogs, err := initLog(o)
	if err != nil {
		return err
	}

	defer closeLogs()

	m := metrics.NewPrometheus(metrics.Options{
		Prefix:               o.MetricsPrefix,
		EnableRuntimeMetrics: o.EnableRuntimeMetrics,
		HistogramBuckets:     o.HistogramBuckets,
	})

	client := net.NewClient(net.Options{
		Timeout:              o.TimeoutBackend,
		KeepAlive:            o.KeepAliveBackend,
		MaxIdleConnsPerHost:  o.IdleConnectionsPerHost,
		CloseIdleConnsPeriod: o.CloseIdleConnsPeriod,
	})

	defer client.Close()

	p := proxy.New(proxy.Options{
		ManifestURL: o.ManifestURL,
		Client:      client,
		Metrics:     m,
	})

	servers := []*http.Server{o.server(o.Address, logging.NewHandler(p))}
	if o.SupportListener != "" {
		servers = append(servers, o.server(o.SupportListener, supportHandler(m)))
	}

	wait := o.WaitForShutdown
	if wait <= 0 {
		wait = defaultWaitForShutdown
	}

	return serve(ctx, wait, servers...)
}

// Run variantedge until it receives SIGINT or SIGTERM.
func Run(o Options) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return RunContext(ctx, o)
}
