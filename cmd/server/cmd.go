package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Brownie44l1/lungscan-api/internal/config"
	"github.com/Brownie44l1/lungscan-api/internal/ensemble"
	"github.com/Brownie44l1/lungscan-api/internal/handlers"
	"github.com/Brownie44l1/lungscan-api/internal/imaging"
	"github.com/Brownie44l1/lungscan-api/internal/logger"
	"github.com/Brownie44l1/lungscan-api/internal/metrics"
	"github.com/Brownie44l1/lungscan-api/internal/middleware"
	"github.com/Brownie44l1/lungscan-api/internal/model"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	port    int
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "lungscan",
		Short:        "lung CT scan classification service",
		Long:         "lungscan validates CT scans and classifies them with an ensemble of pretrained models.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path of the configuration file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		c.Flags().IntVar(&port, "port", 0, "port to listen on, overrides app_port")
	}

	classifyCmd := &cobra.Command{
		Use:   "classify <image>",
		Short: "classify a single scan and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(cmd, args[0])
		},
	}

	rootCmd.AddCommand(serveCmd, classifyCmd)
	return rootCmd
}

// setup loads configuration, initializes logging and metrics and builds the
// predictor. The caller owns the returned registry.
func setup() (*config.Configs, *model.Registry, *ensemble.Predictor, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Init(cfg.AppName, cfg.AppLogLevel)
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	metrics.Init(net.JoinHostPort(cfg.TelegrafHost, cfg.TelegrafPort), cfg.AppEnv, cfg.AppName, cfg.AppMetricSamplingRate)

	var scratch *imaging.ScratchWriter
	if cfg.ScratchEnabled {
		scratch, err = imaging.NewScratchWriter(cfg.ScratchDir)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	registry, err := model.LoadRegistry(cfg.OnnxSharedLibraryPath, cfg.ClassLabels, cfg.Models)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load models: %w", err)
	}

	predictor := ensemble.NewPredictor(registry,
		imaging.NewValidator(cfg.ValidatorMaxDivergence, cfg.DecodeMaxPixels),
		imaging.NewPreprocessor(cfg.NormalizedSize, scratch))
	return cfg, registry, predictor, nil
}

func runServe() error {
	cfg, registry, predictor, err := setup()
	if err != nil {
		return err
	}
	defer registry.Close()
	defer metrics.Close()

	handler, err := handlers.NewHandler(predictor, registry, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize handlers: %w", err)
	}
	router := middleware.NewRouter(cfg.AppEnv)
	handler.Register(router)

	if port > 0 {
		cfg.AppPort = port
	}
	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.AppPort),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		for _, e := range registry.Entries() {
			log.Info().Str("model", e.Name).Int("width", e.Size.X).Int("height", e.Size.Y).Msg("model loaded")
		}
		log.Info().Strs("classes", registry.Labels()).Msgf("Server starting on port %d", cfg.AppPort)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func runClassify(cmd *cobra.Command, path string) error {
	_, registry, predictor, err := setup()
	if err != nil {
		return err
	}
	defer registry.Close()
	defer metrics.Close()

	result, err := predictor.Predict(cmd.Context(), path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
