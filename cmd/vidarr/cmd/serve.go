package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/vidarr/internal/config"
	"github.com/jmylchreest/vidarr/internal/ffmpeg"
	internalhttp "github.com/jmylchreest/vidarr/internal/http"
	"github.com/jmylchreest/vidarr/internal/http/handlers"
	"github.com/jmylchreest/vidarr/internal/ingest"
	"github.com/jmylchreest/vidarr/internal/jobs"
	"github.com/jmylchreest/vidarr/internal/rendition"
	"github.com/jmylchreest/vidarr/internal/storage"
	"github.com/jmylchreest/vidarr/internal/transcode"
	"github.com/jmylchreest/vidarr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vidarr server",
	Long: `Start the vidarr HTTP server and API.

The server accepts multipart uploads, remote URL and torrent fetches,
and yt-dlp extractions; transcodes everything to an AV1/Opus WebM
mezzanine; and serves published videos with range support plus lazily
generated HLS and DASH renditions.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host to bind to")
	serveCmd.Flags().Int("port", 0, "Port to listen on")
	serveCmd.Flags().String("storage-root", "", "Published video library directory")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Flags only win when explicitly set.
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("storage-root") {
		cfg.Storage.Root, _ = cmd.Flags().GetString("storage-root")
	}

	logger := setupLogger(cfg)

	bins, err := ffmpeg.ResolveBinaries(ffmpeg.BinaryOverrides{
		FFmpeg:  cfg.Binaries.FFmpeg,
		FFprobe: cfg.Binaries.FFprobe,
		Aria2c:  cfg.Binaries.Aria2c,
		YtDlp:   cfg.Binaries.YtDlp,
	})
	if err != nil {
		return fmt.Errorf("resolving binaries: %w", err)
	}
	logBinaries(logger, bins)

	layout, err := storage.NewLayout(cfg.Storage.Root)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	layout.SweepIncoming(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	registry := jobs.NewRegistry()
	detector := ffmpeg.NewDetector(bins.FFmpeg, cfg.Transcode.VAAPIDevice)
	prober := ffmpeg.NewProber(bins.FFprobe)
	aria2 := ingest.NewAria2Driver(bins.Aria2c, logger)
	ytdlp := ingest.NewYtDlpDriver(bins.YtDlp, logger)

	// The janitor asks the pipeline which videos are live, and the
	// pipeline asks the janitor for capacity; the closure breaks the
	// construction cycle.
	var pipeline *transcode.Pipeline
	janitor := storage.NewJanitor(layout, storage.JanitorConfig{
		Interval:     cfg.Janitor.Interval,
		MinFreeBytes: uint64(cfg.Janitor.MinFreeBytes.Bytes()),
		MinFreeRatio: cfg.Janitor.MinFreeRatio,
		CleanupBatch: cfg.Janitor.CleanupBatch,
	}, logger, func(id uuid.UUID) bool {
		return pipeline != nil && pipeline.InUse(id)
	})

	pipeline = transcode.NewPipeline(transcode.Options{
		Registry:    registry,
		Layout:      layout,
		Janitor:     janitor,
		Detector:    detector,
		Prober:      prober,
		Binaries:    bins,
		Aria2:       aria2,
		YtDlp:       ytdlp,
		VAAPIDevice: cfg.Transcode.VAAPIDevice,
		Logger:      logger,
		BaseContext: ctx,
	})

	janitor.Start()
	defer janitor.Stop()

	generator := rendition.NewGenerator(layout, bins, prober, logger)

	defaults, err := defaultParams(cfg)
	if err != nil {
		return err
	}

	server := internalhttp.NewServer(internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
	}, logger, version.Version)

	h := handlers.New(handlers.Options{
		Registry:   registry,
		Ingestor:   pipeline,
		Layout:     layout,
		Renditions: generator,
		Defaults:   defaults,
		Logger:     logger,
	})
	h.Register(server.API(), server.Router())

	logger.Info("starting vidarr server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("storage_root", layout.Root),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}

// defaultParams derives the server-wide transcode defaults from config.
func defaultParams(cfg *config.Config) (transcode.Params, error) {
	p := transcode.Params{CRF: cfg.Transcode.CRF, CPUUsed: cfg.Transcode.CPUUsed}
	if cfg.Transcode.Encoder != "" {
		enc, err := ffmpeg.ParseEncoder(cfg.Transcode.Encoder)
		if err != nil {
			return p, fmt.Errorf("transcode.encoder: %w", err)
		}
		p.Encoder = &enc
	}
	return p, nil
}

// logBinaries reports which external tools were found; the optional
// drivers log at warn so a missing aria2c is visible at startup rather
// than at first request.
func logBinaries(logger *slog.Logger, bins ffmpeg.Binaries) {
	logger.Info("resolved ffmpeg", slog.String("path", bins.FFmpeg))
	if bins.FFprobe == "" {
		logger.Warn("ffprobe not found, duration-based progress disabled")
	}
	if bins.Aria2c == "" {
		logger.Warn("aria2c not found, remote and torrent ingest disabled")
	}
	if bins.YtDlp == "" {
		logger.Warn("yt-dlp not found, extractor ingest disabled")
	}
}
