package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/ingwaz/featureflag"
	"github.com/aukilabs/ingwaz/geo"
	ingwazhttp "github.com/aukilabs/ingwaz/http"
	"github.com/aukilabs/ingwaz/models"
	"github.com/aukilabs/ingwaz/modules"
	"github.com/aukilabs/ingwaz/modules/leita"
	"github.com/aukilabs/ingwaz/quadtree"
	"github.com/aukilabs/ingwaz/registry"
	"github.com/aukilabs/ingwaz/report"
	"github.com/aukilabs/ingwaz/smoketest"
	ingwazws "github.com/aukilabs/ingwaz/websocket"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

var (
	// The Ingwaz version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "ingwaz_info",
		Help:        "Ingwaz information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string         `cli:""        env:"INGWAZ_ADDR"                 help:"Listening address for client connections."`
	AdminAddr          string         `cli:""        env:"INGWAZ_ADMIN_ADDR"           help:"Admin listening address."`
	PublicEndpoint     string         `cli:""        env:"INGWAZ_PUBLIC_ENDPOINT"      help:"The public endpoint where this Ingwaz server is reachable."`
	PrivateKey         string         `cli:""        env:"INGWAZ_PRIVATE_KEY"          help:"The private key of a server-unique Ethereum-compatible wallet."`
	PrivateKeyFile     string         `cli:""        env:"INGWAZ_PRIVATE_KEY_FILE"     help:"The file that contains the private key of a server-unique Ethereum-compatible wallet."`
	LogLevel           string         `cli:""        env:"INGWAZ_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent          bool           `cli:""        env:"INGWAZ_LOG_INDENT"           help:"Indent logs."`
	SyncClockInterval  time.Duration  `cli:",hidden" env:"INGWAZ_SYNC_CLOCK_INTERVAL"  help:"Client sync clock (heartbeat) message interval."`
	ClientIdleTimeout  time.Duration  `cli:",hidden" env:"INGWAZ_CLIENT_IDLE_TIMEOUT"  help:"Time until an idle client will be disconnected."`
	FrameDuration      time.Duration  `cli:",hidden" env:"INGWAZ_FRAME_DURATION"       help:"The duration of a session frame."`
	IndexDomainSize    float64        `cli:",hidden" env:"INGWAZ_INDEX_DOMAIN_SIZE"    help:"The side length of the origin-centered square domain indexed by each session."`
	IndexCapacity      int            `cli:",hidden" env:"INGWAZ_INDEX_CAPACITY"       help:"The entity capacity of a spatial index leaf."`
	LogSummaryInterval time.Duration  `cli:",hidden" env:"INGWAZ_LOG_SUMMARY_INTERVAL" help:"The duration between each log summary by connection."`
	Registry           registryConfig `cli:",hidden" env:"-"                           help:"Registry configuration."`
	Events             eventsConfig   `cli:",hidden" env:"-"                           help:"Event pusher configuration."`
	FeatureFlags       []string       `cli:",hidden" env:"INGWAZ_FEATURE_FLAGS"        help:"Comma separated feature flags."`
	Version            bool           `cli:""        env:"-"                           help:"Show version."`
	Help               bool           `cli:""        env:"-"                           help:"Show help."`
}

type registryConfig struct {
	Endpoint             string        `cli:",hidden" env:"INGWAZ_REGISTRY_ENDPOINT"              help:"Discovery registry endpoint."`
	WalletAddress        string        `cli:",hidden" env:"INGWAZ_REGISTRY_WALLET_ADDRESS"        help:"The registry wallet address used to verify signed registry acks."`
	RegistrationInterval time.Duration `cli:",hidden" env:"INGWAZ_REGISTRY_REGISTRATION_INTERVAL" help:"The duration between each registry registration try."`
	HealthCheckTTL       time.Duration `cli:",hidden" env:"INGWAZ_REGISTRY_HEALTHCHECK_TTL"       help:"The elapsed time required since the last health check to trigger a new registration."`
	RegistrationRetries  int           `cli:",hidden" env:"INGWAZ_REGISTRY_REGISTRATION_RETRIES"  help:"The number of registration retries."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"INGWAZ_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"INGWAZ_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"INGWAZ_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"INGWAZ_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:               ":4000",
		AdminAddr:          ":18190",
		PublicEndpoint:     "http://localhost:4000",
		LogLevel:           logs.InfoLevel.String(),
		SyncClockInterval:  time.Second * 5,
		ClientIdleTimeout:  time.Minute * 5,
		FrameDuration:      time.Millisecond * 50,
		IndexDomainSize:    2000,
		IndexCapacity:      quadtree.DefaultCapacity,
		LogSummaryInterval: time.Minute,
		Registry: registryConfig{
			Endpoint:             "https://registry.ingwaz.dev",
			RegistrationInterval: time.Second * 15,
			HealthCheckTTL:       time.Minute * 2,
			RegistrationRetries:  3,
		},
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts an Ingwaz server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	privateKey, err := loadPrivateKey(conf)
	if err != nil {
		logs.Fatal(errors.New("error loading private key").Wrap(err))
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	transport := metrics.HTTPTransport(http.DefaultTransport)

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     transport,
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "ingwaz",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	var service http.ServeMux

	registryClient := registry.NewClient(
		registry.WithServerEndpoint(conf.PublicEndpoint),
		registry.WithRegistryEndpoint(conf.Registry.Endpoint),
		registry.WithRegistryWalletAddress(conf.Registry.WalletAddress),
		registry.WithEncoder(json.Marshal),
		registry.WithDecoder(json.Unmarshal),
		registry.WithTransport(transport),
		registry.WithPrivateKey(privateKey),
	)

	service.HandleFunc("/registrations", registryClient.HandleServerRegistration)
	service.Handle("/health", ingwazhttp.HandleWithCORS(http.HandlerFunc(registryClient.HandleHealthCheck)))
	service.Handle("/version", ingwazhttp.HandleWithCORS(http.HandlerFunc(ingwazhttp.HandleVersion(version))))

	service.HandleFunc("/smoke-test", ingwazhttp.VerifyAuthTokenHandler(registryClient, smoketest.HandleSmokeTest(ctx, smoketest.Options{
		Endpoint:  conf.PublicEndpoint,
		UserAgent: fmt.Sprintf("Ingwaz %s", version),
		MakeUserToken: func() (string, error) {
			return ingwazhttp.GenerateUserAccessToken("smoke-test", registryClient.GetAuthSecret(), time.Minute*5)
		},
		SendResult: registryClient.SendSmokeTestResult,
	})))

	readinessCheck := func() bool {
		return registryClient.GetRegistrationStatus() == registry.RegistrationStatusRegistered
	}
	service.Handle("/ready", ingwazhttp.HandleWithCORS(http.HandlerFunc(ingwazhttp.HandleReadyCheck(readinessCheck))))

	sessions := models.SessionStore{
		DiscoveryService: registryClient,
	}

	reportChan := make(chan report.SessionUsageReport, 128)
	reportHandler := report.Handler{
		Registry:   registryClient,
		ReportChan: reportChan,
	}
	reportHandler.HandleReports(ctx)

	service.Handle("/", ingwazhttp.HandleWithCORS(websocket.Server{
		Handshake: ingwazhttp.VerifyAuthToken(ctx, registryClient),
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var rh ingwazws.Handler = &ingwazws.RealtimeHandler{
				ClientSyncClockInterval: conf.SyncClockInterval,
				ClientIdleTimeout:       conf.ClientIdleTimeout,
				FrameDuration:           conf.FrameDuration,
				IndexDomain:             geo.CenteredRect(float32(conf.IndexDomainSize)),
				IndexCapacity:           conf.IndexCapacity,
				Sessions:                &sessions,
				Modules: []modules.Module{
					&leita.Module{FeatureFlags: featureflag.New(conf.FeatureFlags)},
				},
				FeatureFlags: featureflag.New(conf.FeatureFlags),
				PrivateKey:   privateKey,
				ReportChan:   reportChan,
			}
			h := ingwazws.HandlerWithLogs(rh, conf.LogSummaryInterval)
			h = ingwazws.HandlerWithMetrics(h, conf.PublicEndpoint)
			defer h.Close()

			ingwazws.Handle(ctx, conn, h)
		},
	}))

	service.Handle("/ping", websocket.Server{
		Handler: func(ws *websocket.Conn) {
			defer ws.Close()
			io.Copy(ws, ws)
		},
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := pairWithRegistry(ctx, registryClient, conf)
		if err != nil && err != context.Canceled {
			logs.Fatal(errors.New("registering with the registry failed").Wrap(err))
		}
	}()

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", ingwazhttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", ingwazhttp.HandleReadyCheck(readinessCheck))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("wallet_address", registryClient.WalletAddress()).
		Info("starting ingwaz server")

	ingwazhttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			ingwazhttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)

	wg.Wait()
	// unpair on exit
	if err = registryClient.Unpair(); err != nil {
		logs.Warn(errors.New("unpair with the registry failed").Wrap(err))
	}
}

func pairWithRegistry(ctx context.Context, c *registry.Client, conf config) error {
	return c.Pair(ctx, registry.PairIn{
		Endpoint:             conf.PublicEndpoint,
		RegistrationInterval: conf.Registry.RegistrationInterval,
		HealthCheckTTL:       conf.Registry.HealthCheckTTL,
		RegistrationRetries:  conf.Registry.RegistrationRetries,
		Version:              version,
		Modules: []string{
			(&leita.Module{}).Name(),
		},
		FeatureFlags: conf.FeatureFlags,
	})
}

func loadPrivateKey(conf config) (*ecdsa.PrivateKey, error) {
	privateKey := conf.PrivateKey

	if len(conf.PrivateKeyFile) != 0 {
		privateKeyBytes, err := os.ReadFile(conf.PrivateKeyFile)
		if err != nil {
			return nil, errors.New("error loading private key from file").
				WithTag("file_name", conf.PrivateKeyFile).
				Wrap(err)
		}
		privateKey = string(privateKeyBytes)
	}

	privateKey = strings.TrimPrefix(strings.TrimSpace(privateKey), "0x")

	if len(privateKey) == 0 {
		return nil, errors.New("private key is empty")
	}

	return crypto.HexToECDSA(privateKey)
}

func validateConfig(conf config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if len(conf.PrivateKey) != 0 &&
		len(conf.PrivateKeyFile) != 0 {
		return errors.New("have to specify either private key or private key file, not both")
	}

	if len(conf.PrivateKey) == 0 &&
		len(conf.PrivateKeyFile) == 0 {
		return errors.New("have to specify either private key or private key file")
	}

	if conf.IndexDomainSize <= 0 {
		return errors.New("index domain size must be positive").
			WithTag("index_domain_size", conf.IndexDomainSize)
	}

	if conf.IndexCapacity <= 0 {
		return errors.New("index capacity must be positive").
			WithTag("index_capacity", conf.IndexCapacity)
	}

	return nil
}
