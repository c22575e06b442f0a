package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/daybot/internal/api"
	"github.com/kalambet/daybot/internal/calendar"
	"github.com/kalambet/daybot/internal/config"
	"github.com/kalambet/daybot/internal/gemini"
	"github.com/kalambet/daybot/internal/notify"
	"github.com/kalambet/daybot/internal/oracle"
	"github.com/kalambet/daybot/internal/pipeline"
	"github.com/kalambet/daybot/internal/schedule"
	"github.com/kalambet/daybot/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daybot server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daybot server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daybot system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "daybot.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "daybot version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	loc, err := cfg.Calendar.Location()
	if err != nil {
		return err
	}

	// Refuse to start twice: probe the health endpoint before claiming the
	// PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("daybot is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("daybot is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	// Intent oracle over the Gemini API.
	gen := gemini.New(cfg.Gemini.BaseURL, cfg.Gemini.APIKey)
	orc := oracle.New(gen, cfg.Gemini.Model)

	detector := schedule.NewDetector(loc)
	scheduler := notify.NewScheduler(store, loc, cfg.Notify.FollowUp())

	// The cron service fronts the scheduler so chat turns register, replace,
	// and drop daily recurrences without a restart.
	cronSvc := notify.NewCron(scheduler, orc, loc)

	engine := pipeline.New(pipeline.Deps{
		Oracle:   orc,
		Detector: detector,
		Tasks:    store,
		Messages: store,
		Notifier: cronSvc,
		Log:      slog.Default(),
	})

	// Calendar clients are per turn, built from the caller's own token; an
	// empty token disables sync for that turn.
	newCalendar := func(reqCtx context.Context, accessToken string) (pipeline.Calendar, error) {
		if accessToken == "" {
			return nil, nil
		}
		return calendar.NewClient(reqCtx, accessToken, cfg.Calendar.ID, cfg.Calendar.Timezone)
	}

	handler := api.NewAppHandler(api.AppDeps{
		Engine:      engine,
		Converser:   orc,
		Drafter:     orc,
		Messages:    store,
		Tasks:       store,
		NewCalendar: newCalendar,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Re-arm recurring notifications for stored daily tasks.
	if err := cronSvc.Rearm(store); err != nil {
		slog.Warn("re-arming daily tasks", "error", err)
	}
	cronSvc.Start()
	defer cronSvc.Stop()

	// MCP server over stdio.
	mcpSrv := api.NewMCPServer(api.MCPDeps{Tasks: store, Detector: detector})
	go func() {
		if err := api.ServeMCPStdio(ctx, mcpSrv); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		worker := notify.NewWorker(store, store, cfg.Notify.Poll())
		worker.Run(gctx)
		return nil
	})

	g.Go(func() error {
		slog.Info("daybot listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("daybot is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop daybot (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to daybot (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Model", "%s", cfg.Gemini.Model)
	printStatus("Calendar", "%s (%s)", cfg.Calendar.ID, cfg.Calendar.Timezone)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
