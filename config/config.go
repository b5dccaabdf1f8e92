package config

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/zalando/variantedge"
	"github.com/zalando/variantedge/manifest"
	"github.com/zalando/variantedge/net"
)

type Config struct {
	ConfigFile string
	Flags      *flag.FlagSet

	// generic:
	Address         string `yaml:"address"`
	SupportListener string `yaml:"support-listener"`
	PrintVersion    bool   `yaml:"version"`

	// variants:
	ManifestURL string `yaml:"manifest-url"`

	// logging, metrics:
	ApplicationLog               string    `yaml:"application-log"`
	ApplicationLogLevel          log.Level `yaml:"-"`
	ApplicationLogLevelString    string    `yaml:"application-log-level"`
	ApplicationLogPrefix         string    `yaml:"application-log-prefix"`
	AccessLog                    string    `yaml:"access-log"`
	AccessLogDisabled            bool      `yaml:"access-log-disabled"`
	AccessLogJSONEnabled         bool      `yaml:"access-log-json-enabled"`
	MetricsPrefix                string    `yaml:"metrics-prefix"`
	RuntimeMetrics               bool      `yaml:"runtime-metrics"`
	HistogramMetricBucketsString string    `yaml:"histogram-metric-buckets"`
	HistogramMetricBuckets       []float64 `yaml:"-"`

	// connections, timeouts:
	TimeoutBackend          time.Duration `yaml:"timeout-backend"`
	KeepaliveBackend        time.Duration `yaml:"keepalive-backend"`
	IdleConnsPerHost        int           `yaml:"idle-conns-num"`
	CloseIdleConnsPeriod    time.Duration `yaml:"close-idle-conns-period"`
	ReadTimeoutServer       time.Duration `yaml:"read-timeout-server"`
	ReadHeaderTimeoutServer time.Duration `yaml:"read-header-timeout-server"`
	WriteTimeoutServer      time.Duration `yaml:"write-timeout-server"`
	IdleTimeoutServer       time.Duration `yaml:"idle-timeout-server"`
	MaxHeaderBytes          int           `yaml:"max-header-bytes"`
	WaitForShutdownInterval time.Duration `yaml:"wait-for-shutdown-interval"`
}

const (
	defaultApplicationLogPrefix = "[APP]"
	defaultMetricsPrefix        = "variantedge."
)

func NewConfig() *Config {
	cfg := new(Config)

	flag := flag.NewFlagSet("", flag.ExitOnError)
	flag.StringVar(&cfg.ConfigFile, "config-file", "", "if provided the flags will be loaded/overwritten by the values on the file (yaml)")

	// generic:
	flag.StringVar(&cfg.Address, "address", ":9090", "network address that variantedge should listen on")
	flag.StringVar(&cfg.SupportListener, "support-listener", ":9911", "network address used for exposing the /metrics and the /healthz endpoints. An empty value disables support endpoint.")
	flag.BoolVar(&cfg.PrintVersion, "version", false, "print variantedge version")

	// variants:
	flag.StringVar(&cfg.ManifestURL, "manifest-url", manifest.DefaultURL, "URL of the endpoint listing the URLs of the two page variants")

	// logging, metrics:
	flag.StringVar(&cfg.ApplicationLog, "application-log", "", "output file for the application log. When not set, /dev/stderr is used")
	flag.StringVar(&cfg.ApplicationLogLevelString, "application-log-level", "INFO", "log level for application logs, possible values: PANIC, FATAL, ERROR, WARN, INFO, DEBUG")
	flag.StringVar(&cfg.ApplicationLogPrefix, "application-log-prefix", defaultApplicationLogPrefix, "prefix for each log entry")
	flag.StringVar(&cfg.AccessLog, "access-log", "", "output file for the access log, When not set, /dev/stderr is used")
	flag.BoolVar(&cfg.AccessLogDisabled, "access-log-disabled", false, "when this flag is set, no access log is printed")
	flag.BoolVar(&cfg.AccessLogJSONEnabled, "access-log-json-enabled", false, "when this flag is set, log in JSON format is used")
	flag.StringVar(&cfg.MetricsPrefix, "metrics-prefix", defaultMetricsPrefix, "allows setting a custom path prefix for metrics export")
	flag.BoolVar(&cfg.RuntimeMetrics, "runtime-metrics", true, "enables reporting the Go runtime and process metrics")
	flag.StringVar(&cfg.HistogramMetricBucketsString, "histogram-metric-buckets", "", "use custom buckets for prometheus histograms, must be a comma-separated list of numbers")

	// connections, timeouts:
	flag.DurationVar(&cfg.TimeoutBackend, "timeout-backend", net.DefaultTimeout, "sets the TCP client connection timeout for the manifest and the variant origins")
	flag.DurationVar(&cfg.KeepaliveBackend, "keepalive-backend", net.DefaultKeepAlive, "sets the keepalive for the origin connections")
	flag.IntVar(&cfg.IdleConnsPerHost, "idle-conns-num", net.DefaultMaxIdleConnsPerHost, "maximum idle connections per origin host")
	flag.DurationVar(&cfg.CloseIdleConnsPeriod, "close-idle-conns-period", net.DefaultCloseIdleConnsPeriod, "sets the time interval of closing all idle connections. Not closing when a negative value")
	flag.DurationVar(&cfg.ReadTimeoutServer, "read-timeout-server", 5*time.Minute, "set ReadTimeout for http server connections")
	flag.DurationVar(&cfg.ReadHeaderTimeoutServer, "read-header-timeout-server", 60*time.Second, "set ReadHeaderTimeout for http server connections")
	flag.DurationVar(&cfg.WriteTimeoutServer, "write-timeout-server", 60*time.Second, "set WriteTimeout for http server connections")
	flag.DurationVar(&cfg.IdleTimeoutServer, "idle-timeout-server", 60*time.Second, "set IdleTimeout for http server connections")
	flag.IntVar(&cfg.MaxHeaderBytes, "max-header-bytes", 1<<20, "set MaxHeaderBytes for http server connections")
	flag.DurationVar(&cfg.WaitForShutdownInterval, "wait-for-shutdown-interval", 10*time.Second, "maximum time to wait for the open connections to finish on shutdown")

	cfg.Flags = flag
	return cfg
}

func validate(c *Config) error {
	_, err := log.ParseLevel(c.ApplicationLogLevelString)
	if err != nil {
		return err
	}

	_, err = c.parseHistogramBuckets()
	if err != nil {
		return err
	}

	if c.Address == "" {
		return fmt.Errorf("missing address")
	}

	u, err := url.Parse(c.ManifestURL)
	if err != nil {
		return fmt.Errorf("invalid manifest-url: %w", err)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid manifest-url: %q, expected an absolute http or https URL", c.ManifestURL)
	}

	if c.MaxHeaderBytes < 0 {
		return fmt.Errorf("invalid max-header-bytes: %d", c.MaxHeaderBytes)
	}

	return nil
}

func (c *Config) Parse() error {
	return c.ParseArgs(os.Args[0], os.Args[1:])
}

func (c *Config) ParseArgs(progname string, args []string) error {
	c.Flags.Init(progname, flag.ExitOnError)
	err := c.Flags.Parse(args)
	if err != nil {
		return err
	}

	// check if arguments were correctly parsed.
	if len(c.Flags.Args()) != 0 {
		return fmt.Errorf("invalid arguments: %s", c.Flags.Args())
	}

	if c.ConfigFile != "" {
		yamlFile, err := os.ReadFile(c.ConfigFile)
		if err != nil {
			return fmt.Errorf("invalid config file: %w", err)
		}

		err = yaml.Unmarshal(yamlFile, c)
		if err != nil {
			return fmt.Errorf("unmarshalling config file error: %w", err)
		}

		err = c.Flags.Parse(args)
		if err != nil {
			return err
		}
	}

	if err := validate(c); err != nil {
		return err
	}

	c.ApplicationLogLevel, _ = log.ParseLevel(c.ApplicationLogLevelString)
	c.HistogramMetricBuckets, _ = c.parseHistogramBuckets()
	return nil
}

func (c *Config) ToOptions() variantedge.Options {
	return variantedge.Options{
		// generic:
		Address:         c.Address,
		SupportListener: c.SupportListener,

		// variants:
		ManifestURL: c.ManifestURL,

		// logging, metrics:
		ApplicationLogOutput: c.ApplicationLog,
		ApplicationLogLevel:  c.ApplicationLogLevel.String(),
		ApplicationLogPrefix: c.ApplicationLogPrefix,
		AccessLogOutput:      c.AccessLog,
		AccessLogDisabled:    c.AccessLogDisabled,
		AccessLogJSONEnabled: c.AccessLogJSONEnabled,
		MetricsPrefix:        c.MetricsPrefix,
		EnableRuntimeMetrics: c.RuntimeMetrics,
		HistogramBuckets:     c.HistogramMetricBuckets,

		// connections, timeouts:
		TimeoutBackend:          c.TimeoutBackend,
		KeepAliveBackend:        c.KeepaliveBackend,
		IdleConnectionsPerHost:  c.IdleConnsPerHost,
		CloseIdleConnsPeriod:    c.CloseIdleConnsPeriod,
		ReadTimeoutServer:       c.ReadTimeoutServer,
		ReadHeaderTimeoutServer: c.ReadHeaderTimeoutServer,
		WriteTimeoutServer:      c.WriteTimeoutServer,
		IdleTimeoutServer:       c.IdleTimeoutServer,
		MaxHeaderBytes:          c.MaxHeaderBytes,
		WaitForShutdown:         c.WaitForShutdownInterval,
	}
}

func (c *Config) parseHistogramBuckets() ([]float64, error) {
	if c.HistogramMetricBucketsString == "" {
		return prometheus.DefBuckets, nil
	}

	var result []float64
	thresholds := strings.Split(c.HistogramMetricBucketsString, ",")
	for _, v := range thresholds {
		bucket, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("unable to parse histogram-metric-buckets: %w", err)
		}
		result = append(result, bucket)
	}
	sort.Float64s(result)
	return result, nil
}
