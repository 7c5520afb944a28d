package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hermesworks/hermes/internal/agent"
	"github.com/hermesworks/hermes/internal/bootstrap"
	"github.com/hermesworks/hermes/internal/gateway"
)

func gatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run and manage the gateway process",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the gateway in the foreground",
			RunE:  func(cmd *cobra.Command, args []string) error { return runGateway() },
		},
		&cobra.Command{
			Use:   "start",
			Short: "Start the gateway in the background",
			RunE:  func(cmd *cobra.Command, args []string) error { return startGateway() },
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop a running gateway",
			RunE:  func(cmd *cobra.Command, args []string) error { return stopGateway() },
		},
		&cobra.Command{
			Use:   "restart",
			Short: "Restart the gateway",
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := stopGateway(); err != nil {
					fmt.Println(err)
				}
				return startGateway()
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Report whether the gateway is running",
			RunE:  func(cmd *cobra.Command, args []string) error { return gatewayStatus() },
		},
	)
	return cmd
}

func runGateway() error {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := bootstrap.EnsureHome(cfg.Home, resolveConfigPath()); err != nil {
		return fmt.Errorf("prepare home %s: %w", cfg.Home, err)
	}

	invoker := agent.NewCommandInvoker(
		cfg.Agent.Command,
		cfg.Agent.Args,
		time.Duration(cfg.Agent.TimeoutSeconds)*time.Second,
	)
	sup, err := gateway.New(cfg, invoker)
	if err != nil {
		return err
	}

	pidFile := gateway.NewPIDFile(cfg.Home)
	if err := pidFile.Write(); err != nil {
		return err
	}
	defer pidFile.Remove()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	interrupted := false
	go func() {
		sig := <-sigCh
		if sig == syscall.SIGINT {
			interrupted = true
		}
		cancel()
	}()

	if err := sup.Run(ctx); err != nil {
		return err
	}
	if interrupted {
		return errInterrupted
	}
	return nil
}

// startGateway re-executes this binary as a detached `gateway run`.
func startGateway() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pidFile := gateway.NewPIDFile(cfg.Home)
	if pid, running := pidFile.Running(); running {
		return fmt.Errorf("gateway already running (pid %d)", pid)
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	args := []string{"gateway", "run"}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	if verbose {
		args = append(args, "--verbose")
	}

	if err := os.MkdirAll(cfg.LogsDir(), 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}
	logPath := filepath.Join(cfg.LogsDir(), "gateway.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", logPath, err)
	}
	defer logFile.Close()
	errPath := filepath.Join(cfg.LogsDir(), "gateway.error.log")
	errFile, err := os.OpenFile(errPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", errPath, err)
	}
	defer errFile.Close()

	child := exec.Command(self, args...)
	child.Stdout = logFile
	child.Stderr = errFile
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	// The child writes its own pid file; wait briefly so failures
	// surface here instead of silently.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if pid, running := pidFile.Running(); running {
			fmt.Printf("gateway started (pid %d)\n", pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("gateway did not come up; see %s", logPath)
}

func stopGateway() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pidFile := gateway.NewPIDFile(cfg.Home)
	pid, running := pidFile.Running()
	if !running {
		return fmt.Errorf("gateway is not running")
	}

	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		return err
	}

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if _, still := pidFile.Running(); !still {
			fmt.Printf("gateway stopped (pid %d)\n", pid)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("gateway (pid %d) did not stop within 15s", pid)
}

func gatewayStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pidFile := gateway.NewPIDFile(cfg.Home)
	if pid, running := pidFile.Running(); running {
		fmt.Printf("gateway running (pid %d)\n", pid)
		return nil
	}
	fmt.Println("gateway not running")
	return nil
}
