// Command chatprobe drives a running TimeMachine backend from the terminal.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	addr      string
	personaID string
	screen    string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "chatprobe",
	Short:         "Talk to a TimeMachine backend over HTTP, SSE and WebSocket",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "backend base URL")
	rootCmd.PersistentFlags().StringVarP(&personaID, "persona", "p", "default", "persona identifier")
	rootCmd.PersistentFlags().StringVar(&screen, "screen", "1920x1080", "screen size sent for the client fingerprint")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "request timeout")

	rootCmd.AddCommand(healthCmd, personasCmd, usageCmd, sendCmd, chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
