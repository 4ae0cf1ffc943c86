package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"veridibloc/config"
	"veridibloc/core"
	"veridibloc/native/cert"
	"veridibloc/native/collector"
	"veridibloc/native/stock"
	"veridibloc/observability/logging"
	"veridibloc/observability/metrics"
	"veridibloc/rpc"
	"veridibloc/storage"
)

// deployedVar marks a contract namespace whose constructor already ran, so
// restarts never re-run Init against live state.
const deployedVar = "deployed"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("VERIDIBLOC_ENV"))
	logger := logging.Setup("veridiblocd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	node := core.NewNode(db, logger)
	ledgerMetrics := metrics.NewLedger()
	node.SetMetrics(ledgerMetrics)

	var ledger *stock.Engine
	if cfg.Stock.Enabled {
		ledger, err = deployStock(node, cfg.Stock, ledgerMetrics, logger)
		if err != nil {
			logger.Error("Failed to deploy stock contract", slog.Any("error", err))
			os.Exit(1)
		}
	}
	if cfg.Certificate.Enabled {
		if err := deployCertificate(node, cfg.Certificate, ledgerMetrics, logger); err != nil {
			logger.Error("Failed to deploy certificate contract", slog.Any("error", err))
			os.Exit(1)
		}
	}
	if cfg.Collector.Enabled {
		if err := deployCollector(node, cfg.Collector, ledgerMetrics, logger); err != nil {
			logger.Error("Failed to deploy collector contract", slog.Any("error", err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           rpc.NewServer(node, ledger, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("rpc server listening", slog.String("address", cfg.RPCAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("rpc server failed", slog.Any("error", err))
			stop()
		}
	}()

	interval := time.Duration(cfg.BlockIntervalSeconds) * time.Second
	logger.Info("node started", slog.Duration("block_interval", interval))
	runErr := node.Run(ctx, interval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("rpc shutdown failed", slog.Any("error", err))
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("node stopped", slog.Any("error", runErr))
		os.Exit(1)
	}
	logger.Info("node stopped")
}

func deployStock(node *core.Node, cfg config.StockConfig, m *metrics.Ledger, logger *slog.Logger) (*stock.Engine, error) {
	st := node.State().Contract(cfg.Address)
	engine, err := stock.NewEngine(cfg.Address, stock.Params{
		Owner:               cfg.Owner,
		Mode:                stock.Mode(cfg.Mode),
		UsageFee:            cfg.UsageFee,
		CertificateContract: cfg.CertificateContract,
		Intermediate:        cfg.Intermediate,
		Internal:            cfg.Internal,
	}, st, node.State())
	if err != nil {
		return nil, err
	}
	engine.SetEmitter(node.Events())
	if err := initOnce(st, engine.Init); err != nil {
		return nil, err
	}
	processor := stock.NewProcessor(engine, node, logger)
	processor.SetMetrics(m)
	return engine, node.Register(processor)
}

func deployCertificate(node *core.Node, cfg config.ContractConfig, m *metrics.Ledger, logger *slog.Logger) error {
	st := node.State().Contract(cfg.Address)
	engine, err := cert.NewEngine(cfg.Address, cfg.Owner, st, node.State(), logger)
	if err != nil {
		return err
	}
	engine.SetEmitter(node.Events())
	engine.SetMetrics(m)
	if err := initOnce(st, engine.Init); err != nil {
		return err
	}
	return node.Register(engine)
}

func deployCollector(node *core.Node, cfg config.ContractConfig, m *metrics.Ledger, logger *slog.Logger) error {
	st := node.State().Contract(cfg.Address)
	engine, err := collector.NewEngine(cfg.Address, cfg.Owner, st, node.State(), logger)
	if err != nil {
		return err
	}
	engine.SetEmitter(node.Events())
	engine.SetMetrics(m)
	if err := initOnce(st, engine.Init); err != nil {
		return err
	}
	return node.Register(engine)
}

type varStore interface {
	Var(name string) (int64, error)
	SetVar(name string, value int64) error
}

func initOnce(st varStore, init func() error) error {
	deployed, err := st.Var(deployedVar)
	if err != nil {
		return err
	}
	if deployed != 0 {
		return nil
	}
	if err := init(); err != nil {
		return err
	}
	return st.SetVar(deployedVar, 1)
}
