package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vapter/vapter/pkg/client"
	"github.com/vapter/vapter/pkg/config"
	"github.com/vapter/vapter/pkg/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a pipeline stage worker",
	Long: `Worker runs one stage of the assessment pipeline in the foreground.
It consumes stage requests from the module's queue, executes the stage
against the target and reports status events back to the control plane.`,
}

var workerNmapCmd = &cobra.Command{
	Use:   "nmap",
	Short: "Run the port discovery worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker(cmd, func(cfg *config.Config, api *client.Client) worker.Stage {
			return worker.NewNmapStage(cfg, api)
		})
	},
}

var workerFingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Run the service fingerprint worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker(cmd, func(cfg *config.Config, api *client.Client) worker.Stage {
			return worker.NewFingerprintStage(cfg, api)
		})
	},
}

var workerVulnEngineCmd = &cobra.Command{
	Use:   "vuln-engine",
	Short: "Run the vulnerability engine worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker(cmd, func(cfg *config.Config, api *client.Client) worker.Stage {
			return worker.NewVulnEngineStage(cfg, api)
		})
	},
}

var workerReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Run the report generation worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker(cmd, func(cfg *config.Config, api *client.Client) worker.Stage {
			return worker.NewReportStage(cfg, api)
		})
	},
}

func runWorker(cmd *cobra.Command, build func(*config.Config, *client.Client) worker.Stage) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("broker-url") {
		cfg.BrokerURL, _ = cmd.Flags().GetString("broker-url")
	}

	stage := build(cfg, client.NewClient(cfg))
	w, err := worker.New(cfg, stage)
	if err != nil {
		return fmt.Errorf("failed to initialize worker: %v", err)
	}
	defer w.Close()

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("✓ %s worker started. Press Ctrl+C to stop.\n", stage.Module())
	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("worker failed: %v", err)
	}

	fmt.Println("✓ Worker stopped")
	return nil
}

func init() {
	workerCmd.AddCommand(workerNmapCmd)
	workerCmd.AddCommand(workerFingerprintCmd)
	workerCmd.AddCommand(workerVulnEngineCmd)
	workerCmd.AddCommand(workerReportCmd)

	for _, cmd := range []*cobra.Command{workerNmapCmd, workerFingerprintCmd, workerVulnEngineCmd, workerReportCmd} {
		cmd.Flags().String("broker-url", "", "Message broker URL (overrides config)")
		cmd.Flags().String("config", "", "Path to config file")
	}

	rootCmd.AddCommand(workerCmd)
}
