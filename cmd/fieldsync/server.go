package main

import (
	"context"
	"encoding/json"
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

	"github.com/londonpesquisas/fieldsync/internal/api"
	"github.com/londonpesquisas/fieldsync/internal/capture"
	"github.com/londonpesquisas/fieldsync/internal/config"
	"github.com/londonpesquisas/fieldsync/internal/ledger"
	"github.com/londonpesquisas/fieldsync/internal/location"
	"github.com/londonpesquisas/fieldsync/internal/remote"
	"github.com/londonpesquisas/fieldsync/internal/storage"
	"github.com/londonpesquisas/fieldsync/internal/survey"
	"github.com/londonpesquisas/fieldsync/internal/syncer"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the fieldsync agent (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running fieldsync agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent and sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "fieldsync.pid")
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

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "fieldsync version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))

	// Refuse to start twice. The health endpoint, not the PID file, is the
	// source of truth: a stale PID file after a crash must not block startup.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("fieldsync is already running (PID %d)", pid)
			return fmt.Errorf("agent already running (PID %d)", pid)
		}
		printWarning("fieldsync is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("agent already running on port %d", cfg.Server.Port)
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
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	ldg, err := ledger.Open(store)
	if err != nil {
		return fmt.Errorf("opening sync ledger: %w", err)
	}
	// Reconcile the ledger with the interviews actually on disk in case the
	// previous run died between writes.
	if err := ldg.Rebuild(); err != nil {
		return fmt.Errorf("rebuilding sync ledger: %w", err)
	}
	if n := ldg.PendingCount(); n > 0 {
		slog.Info("unsynced interviews found at startup", "count", n)
	}

	remoteClient := remote.New(cfg.Remote.BaseURL, cfg.Remote.APIKey)
	surveys := survey.NewProvider(store, remoteClient)
	engine := syncer.NewEngine(store, ldg, remoteClient, cfg.Sync.RetainSynced, cfg.Sync.UploadTimeout)
	monitor := syncer.NewMonitor(engine, remoteClient, cfg.Sync.Interval, cfg.Sync.ProbeInterval)
	positions := location.NewCache()

	handler := api.NewHandler(api.Deps{
		Store:         store,
		Ledger:        ldg,
		Surveys:       surveys,
		Location:      positions,
		Feed:          positions,
		Syncer:        engine,
		Monitor:       monitor,
		InterviewerID: cfg.Agent.InterviewerID,
		Token:         cfg.Server.Token,
		Options: capture.LocationOptions{
			HighAccuracy: cfg.Location.HighAccuracy,
			Timeout:      cfg.Location.Timeout,
			MaxAge:       cfg.Location.MaxAge,
		},
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	monitor.Start(ctx)
	defer monitor.Stop()

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "fieldsync listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
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
		printError("fieldsync is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop fieldsync (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to fieldsync (PID %d)", pid)
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
	running := false
	if err != nil {
		printStatus("Agent", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Agent", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Agent", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if running {
		statusResp, err := apiGet(client, serverURL+"/status", cfg.Server.Token)
		if err == nil {
			var st struct {
				Online                  bool    `json:"online"`
				PendingCount            int     `json:"pending_count"`
				LastSyncAttempt         *string `json:"last_sync_attempt"`
				OldestPendingAgeSeconds *int64  `json:"oldest_pending_age_seconds"`
			}
			if json.NewDecoder(statusResp.Body).Decode(&st) == nil {
				if st.Online {
					printStatus("Connectivity", "online")
				} else {
					printStatus("Connectivity", "offline")
				}
				printStatus("Pending interviews", "%d", st.PendingCount)
				if st.LastSyncAttempt != nil {
					printStatus("Last sync attempt", "%s", *st.LastSyncAttempt)
				}
				if st.OldestPendingAgeSeconds != nil {
					printStatus("Oldest pending", "%s", (time.Duration(*st.OldestPendingAgeSeconds) * time.Second).String())
				}
			}
			statusResp.Body.Close()
		}
	}

	printStatus("Interviewer", "%s", cfg.Agent.InterviewerID)
	printStatus("Remote", "%s", cfg.Remote.BaseURL)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return client.Do(req)
}
