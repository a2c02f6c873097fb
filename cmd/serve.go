package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/issues/internal/api"
	"github.com/joescharf/issues/internal/daemon"
	"github.com/joescharf/issues/internal/output"
	"github.com/joescharf/issues/internal/store"
)

const (
	shutdownTimeout = 5 * time.Second
	stopTimeout     = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the issues API server",
	Long: `Run the issues API server in the foreground.
By default it listens on port 3000. Use --port (or PORT) to change it.
Issues live in memory and are lost when the server exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.PersistentFlags().IntP("port", "p", 3000, "port to listen on")
	serveCmd.PersistentFlags().String("host", "", "interface to bind (default all)")
	_ = viper.BindPFlag("server.port", serveCmd.PersistentFlags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.PersistentFlags().Lookup("host"))

	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(statePath("issues-serve.pid"))
}

func serveLogPath() string {
	return statePath("issues-serve.log")
}

func listenAddr() string {
	return net.JoinHostPort(viper.GetString("server.host"), strconv.Itoa(viper.GetInt("server.port")))
}

// newHTTPServer wires a fresh in-memory store into the API router.
func newHTTPServer() *http.Server {
	logger := newLogger()
	srv := api.NewServer(store.NewMemoryStore(),
		api.WithLogger(logger),
		api.WithCORS(viper.GetBool("api.cors")),
	)
	return &http.Server{
		Addr:              listenAddr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func serveRun(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, shutdownSignals()...)
	defer stop()

	httpSrv := newHTTPServer()
	ln, err := net.Listen("tcp", httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", httpSrv.Addr, err)
	}

	ui.Info("Serving API at http://%s/api/issues/{project}", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	ui.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func serveStartRun() error {
	pf := pidFile()
	if err := pf.EnsureNotRunning(); err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would start server on %s", listenAddr())
		return nil
	}

	if _, err := ensureStateDir(); err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	logFile, err := os.OpenFile(serveLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	args := []string{"serve", "--port", strconv.Itoa(viper.GetInt("server.port"))}
	if host := viper.GetString("server.host"); host != "" {
		args = append(args, "--host", host)
	}
	if cfgFile := viper.ConfigFileUsed(); cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	pid := child.Process.Pid
	if err := pf.WritePID(pid); err != nil {
		_ = child.Process.Kill()
		return fmt.Errorf("write PID file: %w", err)
	}
	_ = child.Process.Release()

	ui.Success("Server started on %s (pid %d)", output.Cyan(listenAddr()), pid)
	ui.VerboseLog("Logging to %s", serveLogPath())
	return nil
}

func serveStopRun() error {
	pf := pidFile()

	if dryRun {
		if pid, running := pf.IsRunning(); running {
			ui.DryRunMsg("Would stop server (pid %d)", pid)
		} else {
			ui.DryRunMsg("Server is not running; nothing to stop")
		}
		return nil
	}

	pid, err := pf.Stop(sigTERM(), sigKILL(), stopTimeout)
	if err != nil {
		return err
	}
	ui.Success("Server stopped (pid %d)", pid)
	return nil
}

func serveStatusRun() error {
	pid, running := pidFile().IsRunning()
	if !running {
		ui.Info("Server: %s", output.Red("not running"))
		return nil
	}
	ui.Info("Server: %s (pid %d)", output.Green("running"), pid)
	ui.Info("Log:    %s", serveLogPath())
	return nil
}
