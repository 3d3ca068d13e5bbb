package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/xetra/internal/job"
	"github.com/ajitpratap0/xetra/pkg/report"
)

// configEnv names the configuration file when no argument or flag does.
const configEnv = "XETRA_CONFIG"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer, opts ...job.Option) int {
	root := newRootCmd(stdout, opts...)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

func newRootCmd(stdout io.Writer, opts ...job.Option) *cobra.Command {
	root := &cobra.Command{
		Use:   "xetra",
		Short: "Xetra ETL job",
		Long: `xetra builds daily reports from the Deutsche Boerse Xetra public data set.
It reads the source CSV files of one S3 bucket and writes the report and its
meta file to another, as described by a YAML configuration file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(stdout, "xetra v%s\n", job.Version)
			fmt.Fprintf(stdout, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(stdout, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var configPath, reportID string
	var printSummary bool

	runCmd := &cobra.Command{
		Use:   "run [config]",
		Short: "Run the ETL job once",
		Long: `Run the configured report once.

The configuration file is taken from the argument, the --config flag or the
XETRA_CONFIG environment variable, in that order.

Example:
  xetra run configs/xetra_report1_config.yml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				path = os.Getenv(configEnv)
			}
			if path == "" {
				_ = cmd.Usage()
				return fmt.Errorf("no configuration file given: pass it as an argument, with --config or in %s", configEnv)
			}

			runner := job.NewRunner(append(opts, job.WithReport(reportID))...)
			summary, err := runner.Run(cmd.Context(), path)
			if printSummary && summary != nil {
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(summary); encErr != nil && err == nil {
					err = encErr
				}
			}
			return err
		},
	}

	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file")
	runCmd.Flags().StringVar(&reportID, "report", "", fmt.Sprintf("Report to run %v (default from job.report, else %s)", report.Reports(), report.Report1))
	runCmd.Flags().BoolVar(&printSummary, "summary", false, "Print a JSON run summary to stdout")

	root.AddCommand(runCmd)
	return root
}
