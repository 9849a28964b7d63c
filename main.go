package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"markflow/config"
	"markflow/internal/channel"
	"markflow/internal/dashboard"
	"markflow/internal/engine"
	"markflow/internal/metrics"
	"markflow/logger"
	"markflow/reader/binance"
	"markflow/reader/bybit"
	"markflow/reader/kucoin"
	"markflow/reader/okx"
	"markflow/reader/sim"
	"markflow/writer"
)

const defaultConfigPath = "config/config.yaml"

// feedReader is the lifecycle shared by every venue adapter.
type feedReader interface {
	Start(ctx context.Context) error
	Stop()
}

type namedReader struct {
	name   string
	reader feedReader
}

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath, defaultConfigPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	appEnv := config.AppEnvironment()
	if config.IsProductionLike(appEnv) && cfg.Sources.Sim.Enabled {
		log.WithComponent("main").WithFields(logger.Fields{"environment": appEnv}).Error("sim feed must not be enabled in a production-like environment")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Markflow.Name,
		"version": cfg.Markflow.Version,
		"symbol":  cfg.Engine.Symbol,
	}).Info("starting markflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	metrics.Configure(cfg.Metrics)
	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Addr)
	}
	if cfg.Storage.S3.Region != "" {
		logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Markflow.Name, cfg.Logging.DashboardName)
	}

	channels := channel.NewChannels(
		cfg.Channels.SnapshotBuffer,
		cfg.Channels.EventBuffer,
	)
	defer channels.Close()

	go channels.StartMetricsReporting(ctx, 30*time.Second)

	eng := engine.New(cfg, channels)

	readers := make([]namedReader, 0, 5)
	if cfg.Sources.Sim.Enabled {
		readers = append(readers, namedReader{"sim", sim.NewReader(cfg, eng)})
	}
	if cfg.Sources.Binance.Enabled {
		readers = append(readers, namedReader{"binance", binance.NewReader(cfg, eng)})
	}
	if cfg.Sources.Bybit.Enabled {
		readers = append(readers, namedReader{"bybit", bybit.NewReader(cfg, eng)})
	}
	if cfg.Sources.Kucoin.Enabled {
		readers = append(readers, namedReader{"kucoin", kucoin.NewReader(cfg, eng)})
	}
	if cfg.Sources.Okx.Enabled {
		readers = append(readers, namedReader{"okx", okx.NewReader(cfg, eng)})
	}

	if len(readers) == 0 {
		log.WithComponent("main").Error("no feed sources enabled")
		os.Exit(1)
	}

	var archiveWriter *writer.ArchiveWriter
	var eventWriter *writer.EventWriter

	if cfg.Writer.Archive.Enabled {
		archiveWriter, err = writer.NewArchiveWriter(cfg, channels.Snapshots)
		if err != nil {
			log.WithError(err).Error("failed to create archive writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("archive writing disabled; skipping parquet writer")
	}

	if cfg.Writer.Events.Enabled {
		eventWriter, err = writer.NewEventWriter(cfg, channels.Events)
		if err != nil {
			log.WithError(err).Error("failed to create event writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("event writing disabled; skipping kafka writer")
	}

	dash, err := dashboard.NewServer(cfg.Dashboard, log, eng)
	if err != nil {
		log.WithError(err).Error("failed to create dashboard server")
		os.Exit(1)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := eng.Start(ctx); err != nil {
			log.WithError(err).Warn("engine failed to start")
		}
	}()

	for _, r := range readers {
		wg.Add(1)
		go func(r namedReader) {
			defer wg.Done()
			if err := r.reader.Start(ctx); err != nil {
				log.WithError(err).WithFields(logger.Fields{"reader": r.name}).Warn("feed reader failed to start")
			}
		}(r)
	}

	if archiveWriter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := archiveWriter.Start(ctx); err != nil {
				log.WithError(err).Warn("archive writer failed to start")
			}
		}()
	}

	if eventWriter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := eventWriter.Start(ctx); err != nil {
				log.WithError(err).Warn("event writer failed to start")
			}
		}()
	}

	if dash != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dash.Run(ctx, cfg.Markflow.Name); err != nil {
				log.WithError(err).Warn("dashboard server exited")
			}
		}()
		log.WithComponent("main").WithFields(logger.Fields{"addr": dash.Address()}).Info("dashboard listening")
	}

	time.Sleep(2 * time.Second)
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	if archiveWriter != nil {
		log.Info("stopping archive writer")
		archiveWriter.Stop()
	}
	if eventWriter != nil {
		log.Info("stopping event writer")
		eventWriter.Stop()
	}

	log.Info("stopping engine")
	eng.Stop()

	for _, r := range readers {
		log.WithFields(logger.Fields{"reader": r.name}).Info("stopping feed reader")
		r.reader.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("markflow stopped")
}
