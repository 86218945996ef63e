package run

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-micro/plugins/v4/config/encoder/toml"
	"github.com/pricewatch/pricewatch/crawl"
	"github.com/pricewatch/pricewatch/engine"
	"github.com/pricewatch/pricewatch/extract"
	"github.com/pricewatch/pricewatch/fetch"
	"github.com/pricewatch/pricewatch/limiter"
	"github.com/pricewatch/pricewatch/log"
	"github.com/pricewatch/pricewatch/proxy"
	"github.com/pricewatch/pricewatch/rotate"
	"github.com/pricewatch/pricewatch/sqlstore"
	"github.com/spf13/cobra"
	"go-micro.dev/v4/config"
	"go-micro.dev/v4/config/reader"
	"go-micro.dev/v4/config/reader/json"
	"go-micro.dev/v4/config/source"
	"go-micro.dev/v4/config/source/file"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "run one collection pass.",
	Long:  "run one collection pass over the configured seed URLs.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		Run()
	},
}

var (
	configPath string
	seedFlag   string
	dryRun     bool
	maxPages   int
)

func init() {
	RunCmd.Flags().StringVar(
		&configPath, "config", "config.toml", "set config file path")

	RunCmd.Flags().StringVar(
		&seedFlag, "seed", "", "override the configured seed URL")

	RunCmd.Flags().BoolVar(
		&dryRun, "dry-run", false, "fetch and extract without persisting")

	RunCmd.Flags().IntVar(
		&maxPages, "max-pages", 0, "override the configured page budget")
}

func Run() {
	// load config; any failure here is fatal before network activity
	enc := toml.NewEncoder()
	cfg, err := config.NewConfig(config.WithReader(json.NewReader(reader.WithEncoder(enc))))
	if err != nil {
		panic(err)
	}
	if err := cfg.Load(file.NewSource(
		file.WithPath(configPath),
		source.WithEncoder(enc),
	)); err != nil {
		panic(err)
	}

	// log
	logText := cfg.Get("logLevel").String("INFO")
	logLevel, err := zapcore.ParseLevel(logText)
	if err != nil {
		panic(err)
	}
	plugin := log.NewStdoutPlugin(logLevel)
	logger := log.NewLogger(plugin)
	logger.Info("log init end")

	zap.ReplaceGlobals(logger)

	// storage
	var store engine.Store = engine.NopStore{}
	var sessions rotate.SessionSink = &rotate.NopSessionSink{}
	if !dryRun {
		switch storeType := cfg.Get("storage", "type").String("mysql"); storeType {
		case "mysql":
			sqlURL := cfg.Get("storage", "sqlURL").String("")
			sqlStore, err := sqlstore.New(
				sqlstore.WithSQLURL(sqlURL),
				sqlstore.WithLogger(logger.Named("sqlDB")),
			)
			if err != nil {
				logger.Error("create sqlstore failed", zap.Error(err))
				panic(err)
			}
			if err := sqlStore.InitTables(); err != nil {
				logger.Error("init tables failed", zap.Error(err))
				panic(err)
			}
			store = sqlStore
			sessions = sqlStore
			logger.Info("start mysql storage")
		case "empty":
			logger.Info("start empty storage")
		}
	} else {
		logger.Info("dry run, persistence disabled")
	}

	// identity rotation
	rotateOpts := []rotate.Option{
		rotate.WithLogger(logger.Named("rotate")),
		rotate.WithSessionSink(sessions),
		rotate.WithEnabled(cfg.Get("rotation", "enabled").Bool(true)),
		rotate.WithRequestRange(
			cfg.Get("rotation", "minRequests").Int(15),
			cfg.Get("rotation", "maxRequests").Int(35)),
		rotate.WithMaxAttempts(cfg.Get("rotation", "maxAttempts").Int(3)),
		rotate.WithBackoff(milliseconds(cfg.Get("rotation", "backoff").Int(2000))),
		rotate.WithRotateTimeout(milliseconds(cfg.Get("rotation", "rotateTimeout").Int(60000))),
		rotate.WithVerifyTimeout(milliseconds(cfg.Get("rotation", "verifyTimeout").Int(10000))),
		rotate.WithChecker(&rotate.HTTPIdentity{
			Endpoint: cfg.Get("rotation", "checkURL").String("https://api.ipify.org"),
		}),
	}
	if command := cfg.Get("rotation", "command").String(""); command != "" {
		rotateOpts = append(rotateOpts, rotate.WithRotator(&rotate.ExecRotator{
			Command: command,
			Args:    cfg.Get("rotation", "args").StringSlice(nil),
			Expect:  cfg.Get("rotation", "expect").String(""),
		}))
	}
	scheduler, err := rotate.New(rotateOpts...)
	if err != nil {
		logger.Error("create scheduler failed", zap.Error(err))
		panic(err)
	}

	// fetcher
	fetchOpts := []fetch.Option{
		fetch.WithLogger(logger.Named("fetch")),
		fetch.WithTimeout(milliseconds(cfg.Get("fetcher", "timeout").Int(30000))),
		fetch.WithWaitRange(
			milliseconds(cfg.Get("fetcher", "waitMin").Int(1000)),
			milliseconds(cfg.Get("fetcher", "waitMax").Int(1500))),
		fetch.WithMaxAttempts(cfg.Get("fetcher", "maxAttempts").Int(3)),
		fetch.WithBackoff(milliseconds(cfg.Get("fetcher", "backoff").Int(500))),
		fetch.WithLimiter(limitFromConfig(cfg.Get("fetcher", "perMinute").Int(30))),
	}
	if proxyURLs := cfg.Get("fetcher", "proxy").StringSlice(nil); len(proxyURLs) > 0 {
		p, err := proxy.RoundRobinSwitcher(proxyURLs...)
		if err != nil {
			logger.Error("proxy switcher failed", zap.Error(err))
			panic(err)
		}
		fetchOpts = append(fetchOpts, fetch.WithProxy(p))
	}
	client := fetch.New(scheduler, fetchOpts...)

	// crawler
	crawler, err := crawl.New(client,
		crawl.WithLogger(logger.Named("crawl")),
		crawl.WithStatePath(cfg.Get("crawler", "statePath").String("crawl-state.json")),
	)
	if err != nil {
		logger.Error("create crawler failed", zap.Error(err))
		panic(err)
	}

	seeds := cfg.Get("crawler", "seeds").StringSlice(nil)
	if seedFlag != "" {
		seeds = []string{seedFlag}
	}
	if len(seeds) == 0 {
		logger.Error("no seed URL configured")
		panic("no seed URL configured")
	}

	pageBudget := cfg.Get("crawler", "maxPages").Int(2000)
	if maxPages > 0 {
		pageBudget = maxPages
	}

	e := engine.New(crawler,
		engine.WithLogger(logger.Named("engine")),
		engine.WithWorkCount(cfg.Get("crawler", "workCount").Int(4)),
		engine.WithMaxPages(pageBudget),
		engine.WithSeeds(seeds),
		engine.WithStore(store),
		engine.WithExtractor(extract.New(logger.Named("extract"))),
		engine.WithScheduler(scheduler),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := e.Run(ctx)
	if err != nil {
		logger.Error("run failed", zap.Error(err))
		os.Exit(1)
	}

	os.Exit(summary.ExitCode())
}

func milliseconds(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func limitFromConfig(perMinute int) limiter.RateLimiter {
	return rate.NewLimiter(limiter.Per(perMinute, time.Minute), 1)
}
