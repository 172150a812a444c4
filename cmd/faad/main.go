// Command faad is the file-access authorization daemon: it loads a
// WatchItems policy document, evaluates incoming file-access events
// against it (with optional CEL predicates), and exposes status/reload/
// rate-limiter control over a local IPC surface.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/northpole-faad/faad/internal/daemon"
	"github.com/northpole-faad/faad/internal/ipcsurface"
	"github.com/northpole-faad/faad/internal/notifyui"
	"github.com/northpole-faad/faad/internal/telemetry"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

const defaultIPCPort = 7117

func main() {
	rootCmd := &cobra.Command{
		Use:   "faad",
		Short: "File-access authorization daemon",
		Long:  "faad — the watch-item policy store and FAA decision engine for macOS-style file-access authorization.",
	}

	var configFile string
	var ipcPort int
	var logsPerSec int
	var windowSecs int
	var reapplySecs int
	var badSigProt bool
	var telemetryPath string
	var notifyPort int
	var devMode bool

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the FAA daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(startConfig{
				configFile:    configFile,
				ipcPort:       ipcPort,
				logsPerSec:    logsPerSec,
				windowSecs:    windowSecs,
				reapplySecs:   reapplySecs,
				badSigProt:    badSigProt,
				telemetryPath: telemetryPath,
				notifyPort:    notifyPort,
				devMode:       devMode,
			})
		},
	}
	startCmd.Flags().StringVarP(&configFile, "config", "c", "", "path to the WatchItems YAML document")
	startCmd.Flags().IntVarP(&ipcPort, "ipc-port", "p", defaultIPCPort, "IPC surface gRPC port")
	startCmd.Flags().IntVar(&logsPerSec, "logs-per-sec", 10, "logging-path rate limit (events per second)")
	startCmd.Flags().IntVar(&windowSecs, "window-secs", 1, "logging-path rate limit window, in seconds")
	startCmd.Flags().IntVar(&reapplySecs, "reapply-interval", 60, "periodic reload interval, in seconds (floor 15)")
	startCmd.Flags().BoolVar(&badSigProt, "bad-signature-protection", true, "deny events from processes with an invalid code signature")
	startCmd.Flags().StringVar(&telemetryPath, "telemetry-db", "faad-telemetry.db", "path to the sqlite telemetry store")
	startCmd.Flags().IntVar(&notifyPort, "notify-port", 0, "local notifyui websocket port (0 disables it)")
	startCmd.Flags().BoolVar(&devMode, "dev", false, "dev mode: debug logging")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's WatchItems state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(ipcPort)
		},
	}
	statusCmd.Flags().IntVarP(&ipcPort, "ipc-port", "p", defaultIPCPort, "IPC surface gRPC port")

	reloadCmd := &cobra.Command{
		Use:   "reload",
		Short: "Trigger a WatchItems reload on the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReload(ipcPort)
		},
	}
	reloadCmd.Flags().IntVarP(&ipcPort, "ipc-port", "p", defaultIPCPort, "IPC surface gRPC port")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("faad %s\n", version)
			fmt.Printf("  Commit: %s\n", commit)
			fmt.Printf("  Built:  %s\n", buildDate)
		},
	}

	rootCmd.AddCommand(startCmd, statusCmd, reloadCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type startConfig struct {
	configFile    string
	ipcPort       int
	logsPerSec    int
	windowSecs    int
	reapplySecs   int
	badSigProt    bool
	telemetryPath string
	notifyPort    int
	devMode       bool
}

func runStart(cfg startConfig) error {
	logLevel := slog.LevelInfo
	if cfg.devMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	reapplyInterval := time.Duration(cfg.reapplySecs) * time.Second
	if reapplyInterval < 15*time.Second {
		reapplyInterval = 15 * time.Second
	}

	d, err := daemon.New(daemon.Config{
		ConfigPath:             cfg.configFile,
		ReapplyInterval:        reapplyInterval,
		LogsPerSecond:          cfg.logsPerSec,
		LogWindowSeconds:       cfg.windowSecs,
		BadSignatureProtection: cfg.badSigProt,
		Logger:                 logger,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to build daemon: %w", err)
	}

	telemetryStore, err := telemetry.NewSQLiteStore(cfg.telemetryPath)
	if err != nil {
		return fmt.Errorf("failed to open telemetry store: %w", err)
	}
	if err := telemetryStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize telemetry store: %w", err)
	}
	defer func() { _ = telemetryStore.Close() }()

	sink := telemetry.NewSink(telemetryStore, logger)
	d.RegisterLogFunc(sink.LogFunc())

	var hub *notifyui.Hub
	if cfg.notifyPort > 0 {
		hub = notifyui.NewHub(logger, false)
		d.RegisterDeniedBlockFunc(hub.DeniedBlockFunc())
		defer hub.Close()
	}

	ipcImpl := ipcsurface.NewDaemonServer(d, logger)
	ipcServer := ipcsurface.NewGRPCServer(ipcImpl, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	defer func() { _ = d.Stop() }()

	fmt.Println()
	fmt.Println("  faad — file-access authorization daemon")
	fmt.Printf("  version:    %s\n", version)
	fmt.Printf("  config:     %s\n", orDefault(cfg.configFile, "(none)"))
	fmt.Printf("  ipc surface: localhost:%d\n", cfg.ipcPort)
	if hub != nil {
		fmt.Printf("  notify ui:  ws://localhost:%d\n", cfg.notifyPort)
	}
	fmt.Println()

	go func() {
		if err := ipcServer.Start(cfg.ipcPort); err != nil {
			logger.Error("ipc surface error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	ipcServer.Stop()
	return nil
}

func runStatus(ipcPort int) error {
	client, closeFn, err := dialIPC(ipcPort)
	if err != nil {
		fmt.Printf("faad is not running on port %d\n", ipcPort)
		return nil
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Status(ctx, &ipcsurface.StatusRequest{})
	if err != nil {
		return fmt.Errorf("status request failed: %w", err)
	}

	fmt.Println("faad status")
	fmt.Println("───────────")
	fmt.Printf("  rules:        %d\n", resp.RuleCount)
	fmt.Printf("  version:      %s\n", resp.Version)
	fmt.Printf("  config path:  %s\n", resp.ConfigPath)
	fmt.Printf("  last reload:  %s\n", resp.LastReloadAt)
	return nil
}

func runReload(ipcPort int) error {
	client, closeFn, err := dialIPC(ipcPort)
	if err != nil {
		return fmt.Errorf("failed to connect to faad: %w", err)
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Reload(ctx, &ipcsurface.ReloadRequest{}); err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}
	fmt.Println("reload triggered")
	return nil
}

func dialIPC(port int) (*ipcsurface.Client, func(), error) {
	conn, err := grpc.NewClient("localhost:"+strconv.Itoa(port), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	return ipcsurface.NewClient(conn), func() { _ = conn.Close() }, nil
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
