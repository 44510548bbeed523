package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vapter/vapter/pkg/api"
	"github.com/vapter/vapter/pkg/client"
	"github.com/vapter/vapter/pkg/config"
	"github.com/vapter/vapter/pkg/log"
	"github.com/vapter/vapter/pkg/orchestrator"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const defaultPrefetch = 10

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vapter",
	Short: "Vapter - Distributed vulnerability assessment pipeline",
	Long: `Vapter coordinates multi-stage vulnerability assessments: port
discovery, service fingerprinting, an external vulnerability engine and
report generation, connected over a message broker with scan state
persisted locally.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Vapter version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(consumeCmd)
	rootCmd.AddCommand(scanCmd)
}

// loadConfig reads configuration from the environment and the optional
// --config file, then initializes the global logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %v", err)
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: true})
	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane",
	Long: `Serve runs the REST control surface together with the dispatcher
and the watchdog, plus an embedded status consumer unless started with
--consumer=false. Scan state lives in a bbolt database under the data
directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("listen") {
			cfg.ListenAddr, _ = cmd.Flags().GetString("listen")
		}
		if cmd.Flags().Changed("data-dir") {
			cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
		}
		if cmd.Flags().Changed("broker-url") {
			cfg.BrokerURL, _ = cmd.Flags().GetString("broker-url")
		}
		withConsumer, _ := cmd.Flags().GetBool("consumer")

		orch, err := orchestrator.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize orchestrator: %v", err)
		}
		orch.Start()
		fmt.Println("✓ Orchestrator started")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errCh := make(chan error, 2)
		if withConsumer {
			consumer := orch.NewStatusConsumer(defaultPrefetch)
			go func() {
				if err := consumer.Run(ctx); err != nil {
					errCh <- fmt.Errorf("status consumer error: %v", err)
				}
			}()
			fmt.Println("✓ Status consumer started")
		}

		apiServer := api.NewServer(orch)
		go func() {
			if err := apiServer.Start(cfg.ListenAddr); err != nil {
				errCh <- fmt.Errorf("API server error: %v", err)
			}
		}()
		fmt.Printf("✓ REST API listening on %s\n", cfg.ListenAddr)

		fmt.Println()
		fmt.Println("Control plane is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := apiServer.Stop(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "API shutdown error: %v\n", err)
		}
		if err := orch.Shutdown(); err != nil {
			return fmt.Errorf("failed to shutdown: %v", err)
		}

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Run a standalone scan status consumer",
	Long: `Consume reads worker status events from the status update queue and
drives the scan state machine. Runs in the foreground until interrupted;
in-flight events finish before exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("queue") {
			cfg.Queues.ScanStatusUpdate, _ = cmd.Flags().GetString("queue")
		}
		prefetch, _ := cmd.Flags().GetInt("prefetch")

		orch, err := orchestrator.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize orchestrator: %v", err)
		}

		ctx, cancel := signalContext()
		defer cancel()

		fmt.Printf("Consuming from %s (prefetch %d). Press Ctrl+C to stop.\n",
			cfg.Queues.ScanStatusUpdate, prefetch)

		runErr := orch.NewStatusConsumer(prefetch).Run(ctx)
		if err := orch.Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		}
		if runErr != nil {
			return fmt.Errorf("consumer failed: %v", runErr)
		}

		fmt.Println("✓ Consumer stopped")
		return nil
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Start a scan for a target",
	Long: `Scan asks the control plane to start a scan of the given target
under the given scan type.

Examples:
  # Scan with a scan type ID
  vapter scan --target 2f9c... --scan-type 81aa...

  # Scan with a scan type name
  vapter scan --target 2f9c... --scan-type full-scan`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("server") {
			cfg.APIGatewayURL, _ = cmd.Flags().GetString("server")
		}
		targetID, _ := cmd.Flags().GetString("target")
		scanType, _ := cmd.Flags().GetString("scan-type")

		c := client.NewClient(cfg)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout())
		defer cancel()

		scanTypeID, err := resolveScanType(ctx, c, scanType)
		if err != nil {
			return err
		}

		scan, err := c.StartScan(ctx, targetID, scanTypeID)
		if err != nil {
			return fmt.Errorf("failed to start scan: %v", err)
		}

		fmt.Printf("✓ Scan started: %s (status: %s)\n", scan.ID, scan.Status)
		return nil
	},
}

// resolveScanType accepts a scan type ID or an exact name
func resolveScanType(ctx context.Context, c *client.Client, nameOrID string) (string, error) {
	st, err := c.GetScanType(ctx, nameOrID)
	if err == nil {
		return st.ID, nil
	}
	if !client.IsNotFound(err) {
		return "", fmt.Errorf("failed to look up scan type: %v", err)
	}

	st, err = findScanTypeByName(ctx, c, nameOrID)
	if err != nil {
		return "", err
	}
	if st == nil {
		return "", fmt.Errorf("scan type %q not found", nameOrID)
	}
	return st.ID, nil
}

func init() {
	serveCmd.Flags().String("listen", "", "REST API listen address (overrides config)")
	serveCmd.Flags().String("data-dir", "", "Data directory for scan state (overrides config)")
	serveCmd.Flags().String("broker-url", "", "Message broker URL (overrides config)")
	serveCmd.Flags().Bool("consumer", true, "Run the embedded status consumer")
	serveCmd.Flags().String("config", "", "Path to config file")

	consumeCmd.Flags().String("queue", "", "Status queue to consume (overrides config)")
	consumeCmd.Flags().Int("prefetch", defaultPrefetch, "Unacknowledged message window")
	consumeCmd.Flags().String("config", "", "Path to config file")

	scanCmd.Flags().String("target", "", "Target ID to scan")
	scanCmd.Flags().String("scan-type", "", "Scan type name or ID")
	scanCmd.Flags().String("server", "", "Control plane URL (overrides config)")
	scanCmd.Flags().String("config", "", "Path to config file")
	_ = scanCmd.MarkFlagRequired("target")
	_ = scanCmd.MarkFlagRequired("scan-type")
}
