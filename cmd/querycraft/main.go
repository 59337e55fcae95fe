package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	appconfig "github.com/querycraft/querycraft/config"
	"github.com/querycraft/querycraft/internal/agent/core"
	"github.com/querycraft/querycraft/internal/agent/qa"
	"github.com/querycraft/querycraft/internal/agent/telemetry"
	"github.com/querycraft/querycraft/internal/batch"
	"github.com/querycraft/querycraft/internal/capability"
	srv "github.com/querycraft/querycraft/internal/server"
	"github.com/querycraft/querycraft/internal/store"
)

func main() {
	var root = &cobra.Command{Use: "querycraft"}

	root.AddCommand(serveCMD(), analyzeCMD(), batchCMD(), validateCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func serveCMD() *cobra.Command {
	var serveAddr string
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := appconfig.LoadConfig(cfgPath)
			if serveAddr == "" {
				serveAddr = getenv("QUERYCRAFT_HTTP_ADDR", ":8080")
			}
			return srv.Run(serveAddr, cfg)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}

func analyzeCMD() *cobra.Command {
	var query string
	var mode string
	var interactive bool
	var asJSON bool
	var cfgPath string
	var analyze = &cobra.Command{
		Use:   "analyze",
		Short: "Classify a question and decompose it into sub-questions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := appconfig.LoadConfig(cfgPath)
			if mode != "" {
				cfg.Agent.Mode = mode
			}
			if err := cfg.Agent.Validate(); err != nil {
				return err
			}

			analyzer, err := buildAnalyzer(cfg)
			if err != nil {
				return err
			}

			if interactive || strings.TrimSpace(query) == "" {
				return runInteractive(cmd, analyzer, asJSON)
			}
			printResult(cmd, analyzer.Process(cmd.Context(), query), asJSON)
			return nil
		},
	}
	analyze.Flags().StringVarP(&query, "query", "q", "", "question to analyze")
	analyze.Flags().StringVarP(&mode, "mode", "m", "", "agent mode: react or direct")
	analyze.Flags().BoolVarP(&interactive, "interactive", "i", false, "read questions from stdin")
	analyze.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	analyze.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return analyze
}

func batchCMD() *cobra.Command {
	var dataset string
	var cfgPath string
	var run = &cobra.Command{
		Use:   "batch",
		Short: "Evaluate a labelled CSV dataset and write an accuracy report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := appconfig.LoadConfig(cfgPath)

			rows, err := batch.LoadRows(dataset)
			if err != nil {
				return err
			}

			analyzer, err := buildAnalyzer(cfg)
			if err != nil {
				return err
			}

			runner := batch.NewRunner(analyzer, cfg.Batch)
			report, err := runner.Run(cmd.Context(), rows)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "evaluated %d questions: %d matched, %d unknown, %d errored, accuracy %.2f%%\n",
				report.Total, report.Matched, report.Unknown, report.Errored, report.Accuracy*100)
			return nil
		},
	}
	run.Flags().StringVarP(&dataset, "dataset", "d", "", "CSV file with question,expected rows")
	_ = run.MarkFlagRequired("dataset")
	run.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return run
}

func validateCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <result.json>...",
		Short: "Check saved analysis results against the canonical schema",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed bool
			for _, path := range args {
				if err := qa.ValidateResultFile(path); err != nil {
					failed = true
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			}
			if failed {
				return fmt.Errorf("validation failed")
			}
			return nil
		},
	}
}

func buildAnalyzer(cfg *appconfig.Config) (*core.Analyzer, error) {
	tele := telemetry.NewTelemetry(cfg.Telemetry)
	registry, err := capability.NewRegistry(capability.DefaultToolCards(), cfg.Capability.SigningSecret, cfg.Capability.RequiredTools)
	if err != nil {
		return nil, err
	}
	sink, err := store.NewFileResultSink(cfg.Storage.File.ResultsDir)
	if err != nil {
		return nil, err
	}
	logger := log.New(log.Writer(), "[ANALYZER] ", log.LstdFlags)
	return core.NewAnalyzer(cfg, logger, tele, registry, sink)
}

func runInteractive(cmd *cobra.Command, analyzer *core.Analyzer, asJSON bool) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "interactive mode, type 'quit' or 'exit' to leave")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "\nquestion> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "quit", "exit", "q":
			return nil
		case "":
			continue
		}
		printResult(cmd, analyzer.Process(context.Background(), line), asJSON)
	}
	return scanner.Err()
}

func printResult(cmd *cobra.Command, result core.AnalysisResult, asJSON bool) {
	out := cmd.OutOrStdout()

	if asJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			fmt.Fprintf(out, "marshal result: %v\n", err)
			return
		}
		fmt.Fprintln(out, string(payload))
		return
	}

	fmt.Fprintf(out, "\nquestion: %s\n", result.OriginalQuery)
	switch {
	case result.IsComplex == nil:
		fmt.Fprintln(out, "complex:  unknown")
	case *result.IsComplex:
		fmt.Fprintln(out, "complex:  yes")
	default:
		fmt.Fprintln(out, "complex:  no")
	}
	if result.ComplexityAnalysis.Reason != "" {
		fmt.Fprintf(out, "reason:   %s\n", result.ComplexityAnalysis.Reason)
	}
	if len(result.ComplexityAnalysis.Indicators) > 0 {
		fmt.Fprintf(out, "signals:  %s\n", strings.Join(result.ComplexityAnalysis.Indicators, ", "))
	}
	if result.Error != "" {
		fmt.Fprintf(out, "error:    %s\n", result.Error)
	}

	fmt.Fprintf(out, "sub-questions (%d):\n", len(result.SubProblems))
	for _, sub := range result.SubProblems {
		fmt.Fprintf(out, "  %d. %s\n", sub.ID, sub.Content)
		if sub.Type != "" {
			fmt.Fprintf(out, "     type: %s\n", sub.Type)
		}
		if len(sub.Dependencies) > 0 {
			fmt.Fprintf(out, "     depends on: %v\n", sub.Dependencies)
		}
	}
}
