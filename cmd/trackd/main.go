package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"trackd/internal/app"
	"trackd/internal/config"
	"trackd/internal/tracking"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a TrackdApp. The caller must defer
// app.Close(). operation identifies the CLI command being run (e.g. "Serve").
func newApp(operation string) (*app.TrackdApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewTrackdApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var rootCmd = &cobra.Command{
	Use:   "trackd",
	Short: "Build artifact tracking service",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:         %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:          %s\n", cfg.LogDir)
		fmt.Printf("Content Base URL: %s\n", cfg.ContentBaseURL)
		fmt.Printf("Store:            %s\n", cfg.Store.Type)
		fmt.Printf("Events:           %s\n", cfg.Events.Type)
		fmt.Printf("Listen Addr:      %s\n", cfg.Server.ListenAddr)
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the event consumer and admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Serve")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Serve()
	},
}

// seal command
var sealCmd = &cobra.Command{
	Use:   "seal TRACKING_ID",
	Short: "Seal a tracking record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Seal")
		if err != nil {
			return err
		}
		defer a.Close()

		dto, err := a.Seal(args[0])
		if err != nil {
			return fmt.Errorf("sealing record: %w", err)
		}
		return printJSON(dto)
	},
}

// report command
var reportCmd = &cobra.Command{
	Use:   "report TRACKING_ID",
	Short: "View a tracking report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Report")
		if err != nil {
			return err
		}
		defer a.Close()

		dto, err := a.Report(args[0])
		if err != nil {
			return err
		}
		return printJSON(dto)
	},
}

// ids command
var idsCmd = &cobra.Command{
	Use:   "ids [KIND]",
	Short: "List tracking ids (in_progress, sealed, all, legacy)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := tracking.IdsAll
		if len(args) > 0 {
			kind = args[0]
		}

		a, err := newApp("Ids")
		if err != nil {
			return err
		}
		defer a.Close()

		dto, err := a.Ids(kind)
		if err != nil {
			if errors.Is(err, tracking.ErrNotFound) {
				fmt.Println("No tracking ids found.")
				return nil
			}
			return err
		}
		return printJSON(dto)
	},
}

// clear command
var clearCmd = &cobra.Command{
	Use:   "clear TRACKING_ID",
	Short: "Delete a tracking record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Clear")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Clear(args[0]); err != nil {
			return err
		}
		fmt.Printf("Cleared tracking record: %s\n", args[0])
		return nil
	},
}

// export command
var exportCmd = &cobra.Command{
	Use:   "export ARCHIVE",
	Short: "Export sealed records to a ZIP archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Export")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ExportToFile(args[0]); err != nil {
			return fmt.Errorf("exporting records: %w", err)
		}
		fmt.Printf("Exported sealed records to %s\n", args[0])
		return nil
	},
}

// import command
var importCmd = &cobra.Command{
	Use:   "import ARCHIVE",
	Short: "Import sealed records from a ZIP archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Import")
		if err != nil {
			return err
		}
		defer a.Close()

		count, err := a.ImportFromFile(args[0])
		if err != nil {
			return fmt.Errorf("importing records: %w", err)
		}
		fmt.Printf("Imported %d record(s)\n", count)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sealCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(idsCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
