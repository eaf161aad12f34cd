package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/vnatgroup/wabridge/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-run setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

func runOnboard() error {
	cfg := config.Default()

	backendURL := ""
	bridgeURL := "ws://localhost:8088/ws"
	dirBackend := cfg.Directory.Backend
	port := strconv.Itoa(cfg.Gateway.Port)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Conversational backend URL").
				Description("HTTP endpoint that answers conversation turns").
				Placeholder("https://backend.example.com/query").
				Value(&backendURL).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("required")
					}
					return nil
				}),
			huh.NewInput().
				Title("WhatsApp bridge WebSocket URL").
				Value(&bridgeURL).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("required")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Tenant directory backend").
				Options(
					huh.NewOption("SQLite (standalone, single host)", "sqlite"),
					huh.NewOption("Postgres (managed, set WABRIDGE_POSTGRES_DSN)", "postgres"),
				).
				Value(&dirBackend),
			huh.NewInput().
				Title("Gateway port").
				Value(&port).
				Validate(func(s string) error {
					if _, err := strconv.Atoi(s); err != nil {
						return fmt.Errorf("not a number")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Backend.URL = backendURL
	cfg.Bridge.URL = bridgeURL
	cfg.Directory.Backend = dirBackend
	cfg.Gateway.Port, _ = strconv.Atoi(port)

	path := resolveConfigPath()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Printf("Wrote %s\n", path)
	if dirBackend == "postgres" {
		fmt.Println("Set WABRIDGE_POSTGRES_DSN and run `wabridge migrate up` before serving.")
	}
	fmt.Println("Secrets (WABRIDGE_BACKEND_TOKEN, WABRIDGE_POSTGRES_DSN) are read from the environment only.")
	return nil
}
