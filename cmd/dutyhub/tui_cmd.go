package main

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/dutyhub/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive duty board",
	RunE:  runTUI,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check daemon health",
	RunE: func(cmd *cobra.Command, args []string) error {
		health, err := CheckHealth()
		if health != nil {
			fmt.Printf("ok=%t db=%s version=%s time=%s\n", health.OK, health.DB, health.Version, health.Time)
		}
		return err
	},
}

func runTUI(cmd *cobra.Command, args []string) error {
	if userID == "" {
		return fmt.Errorf("--user (or DUTYHUB_USER) is required for the duty board")
	}

	// 1. Check if Daemon is running
	if !isDaemonRunning(apiAddr) {
		fmt.Println("dutyhub daemon not running. Starting background service...")
		if err := startDaemon(); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
	}

	// 2. Launch TUI
	app := tui.New(apiAddr, userID)
	if err := app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func isDaemonRunning(addr string) bool {
	client := http.Client{Timeout: 500 * time.Millisecond}
	resp, err := client.Get(addr + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func startDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	daemonArgs := []string{"daemon"}
	if configPath != "" {
		daemonArgs = append(daemonArgs, "--config", configPath)
	}
	cmd := exec.Command(exe, daemonArgs...)
	// Detach process so it survives TUI exit
	configureDaemonProc(cmd)

	// Keep daemon output off the TUI screen.
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}

	// Wait for it to become ready
	fmt.Print("   Waiting for daemon...")
	for i := 0; i < 20; i++ { // Wait up to 5 seconds
		if isDaemonRunning(apiAddr) {
			fmt.Println(" Done.")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("daemon started but API not reachable at %s", apiAddr)
}
