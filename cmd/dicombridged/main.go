// Command dicombridged starts the DICOMweb-to-DIMSE adapter: an HTTP
// façade (QIDO-RS/WADO-RS/STOW-RS/MWL-RS) backed by one or more Store-SCP
// listeners and a pooled outbound DIMSE client, wired from a YAML
// configuration file.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dicomweb-dimse/bridge/config"
	"github.com/dicomweb-dimse/bridge/dicomweb"
	"github.com/dicomweb-dimse/bridge/mediator"
	"github.com/dicomweb-dimse/bridge/pluginapi"
	"github.com/dicomweb-dimse/bridge/server"
	"github.com/dicomweb-dimse/bridge/services"
	"github.com/dicomweb-dimse/bridge/storescp"
	"github.com/dicomweb-dimse/bridge/types"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		httpPort   int
		dimsePort  int
	)

	root := &cobra.Command{
		Use:   "dicombridged",
		Short: "DICOMweb-to-DIMSE protocol adapter",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and Store-SCP listeners",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(context.Background(), configPath, httpPort, dimsePort)
		},
	}
	serveCmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration file")
	serveCmd.Flags().IntVar(&httpPort, "http-port", 0, "override server.http.port")
	serveCmd.Flags().IntVar(&dimsePort, "dimse-port", 0, "override the first server.dimse[] listener's port")
	root.AddCommand(serveCmd)

	var initPath string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(initPath); err == nil {
				return fmt.Errorf("dicombridged: %s already exists", initPath)
			}
			return config.Save(config.Default(), initPath)
		},
	}
	initCmd.Flags().StringVar(&initPath, "config", "config.yaml", "path to write the configuration file to")
	root.AddCommand(initCmd)

	return root
}

func run(ctx context.Context, configPath string, httpPort, dimsePort int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("dicombridged: %w", err)
	}
	if httpPort > 0 {
		cfg.Server.HTTP.Port = httpPort
	}
	if dimsePort > 0 && len(cfg.Server.DIMSE) > 0 {
		cfg.Server.DIMSE[0].Port = dimsePort
	}

	logger := newLogger(cfg.Telemetry.Level)
	log.Logger = *logger

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var plug pluginapi.Backend
	if cfg.Server.PluginPath != "" {
		plug, err = pluginapi.Load(cfg.Server.PluginPath)
		if err != nil {
			return fmt.Errorf("dicombridged: %w", err)
		}
		logger.Info().Str("plugin", plug.Name()).Str("path", cfg.Server.PluginPath).Msg("loaded backend plugin")
	}

	med := mediator.New()
	reg, err := dicomweb.NewRegistry(ctx, cfg.Server.AET, cfg.AETs, med, plug, logger)
	if err != nil {
		return fmt.Errorf("dicombridged: %w", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 1+len(cfg.Server.DIMSE))

	// Every DIMSE-backed AET may have a WADO retrieve rendezvousing through
	// this process's Store-SCP; each received sub-operation is offered to
	// all of them.
	var subscribers []string
	for _, a := range cfg.AETs {
		if a.Backend == config.BackendDIMSE || a.Backend == "" {
			subscribers = append(subscribers, a.AET)
		}
	}

	// The Store-SCP listener answers C-STORE sub-operations and plain
	// C-ECHO verification probes; anything else is rejected by the
	// registry as unsupported.
	dimseRegistry := services.NewRegistry()
	dimseRegistry.RegisterHandler(types.CEchoRQ, services.NewEchoService())
	dimseRegistry.RegisterHandler(types.CStoreRQ, storescp.New(med, subscribers, logger))
	for _, listener := range cfg.Server.DIMSE {
		listener := listener
		addr := fmt.Sprintf("%s:%d", listener.Interface, listener.Port)
		aet := listener.AET
		if aet == "" {
			aet = cfg.Server.AET
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info().Str("address", addr).Str("aet", aet).Msg("starting Store-SCP listener")
			if err := server.ListenAndServe(ctx, addr, aet, dimseRegistry,
				server.WithLogger(logger), server.WithUncompressedOnly(listener.Uncompressed)); err != nil && ctx.Err() == nil {
				errs <- fmt.Errorf("store-scp %s: %w", addr, err)
			}
		}()
	}

	router := dicomweb.NewRouter(reg, cfg.Server.HTTP.BasePath, cfg.Server.HTTP.RequestTimeout)
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.HTTP.Interface, cfg.Server.HTTP.Port)
	httpSrv := &http.Server{
		Addr:    httpAddr,
		Handler: maxBodyMiddleware(router, cfg.Server.HTTP.MaxUploadSize),
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Str("address", httpAddr).Msg("starting DICOMweb HTTP listener")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http %s: %w", httpAddr, err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errs:
		logger.Error().Err(err).Msg("listener failed, shutting down")
		cancel()
	}

	shutdownTimeout := cfg.Server.HTTP.GracefulShutdown
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful HTTP shutdown failed")
	}

	wg.Wait()
	return nil
}

// maxBodyMiddleware caps request bodies at limit bytes (STOW's upload
// limit). Zero means unbounded.
func maxBodyMiddleware(next http.Handler, limit int64) http.Handler {
	if limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}

func newLogger(level string) *zerolog.Logger {
	var lvl zerolog.Level
	switch level {
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	default:
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
	return &logger
}
