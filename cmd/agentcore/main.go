// Package main provides the CLI entry point for agentcore, the
// reference runtime for the local-first code agent core: one `run`
// command that drives a single turn end to end and prints the final
// answer, optionally dumping the JSONL trace alongside it.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cluderun/agentcore/internal/contextbudget"
	"github.com/cluderun/agentcore/internal/coreaudit"
	"github.com/cluderun/agentcore/internal/intent"
	"github.com/cluderun/agentcore/internal/llmio"
	anthropicprovider "github.com/cluderun/agentcore/internal/llmio/providers/anthropic"
	openaiprovider "github.com/cluderun/agentcore/internal/llmio/providers/openai"
	"github.com/cluderun/agentcore/internal/orchestrator"
	"github.com/cluderun/agentcore/internal/promptprofile"
	"github.com/cluderun/agentcore/internal/statemachine"
	"github.com/cluderun/agentcore/internal/toolkit"
	"github.com/cluderun/agentcore/pkg/coremodels"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "agentcore",
		Short:        "agentcore - local-first code agent core",
		SilenceUsage: true,
	}
	root.AddCommand(buildRunCmd())
	return root
}

func buildRunCmd() *cobra.Command {
	var (
		projectID  string
		modelName  string
		traceFile  string
		promptsDir string
	)

	cmd := &cobra.Command{
		Use:   "run <message>",
		Short: "Run one turn against the agent core and print the final answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTurn(cmd, args[0], projectID, modelName, traceFile, promptsDir)
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id scoping the intent/profile registries")
	cmd.Flags().StringVar(&modelName, "model", "", "model name override (defaults to the provider's own default)")
	cmd.Flags().StringVar(&traceFile, "trace", "", "write the turn's JSONL TurnEvent trace to this path")
	cmd.Flags().StringVar(&promptsDir, "prompts-dir", ".", "base directory prompt_profiles.yaml refs resolve against")
	return cmd
}

func buildProvider(modelName string) (llmio.Provider, error) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return anthropicprovider.New(anthropicprovider.Config{APIKey: key, DefaultModel: modelName})
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return openaiprovider.New(key, modelName)
	}
	return nil, fmt.Errorf("no provider configured: set ANTHROPIC_API_KEY or OPENAI_API_KEY")
}

func runTurn(cmd *cobra.Command, userText, projectID, modelName, traceFile, promptsDir string) error {
	provider, err := buildProvider(modelName)
	if err != nil {
		return err
	}

	registry := toolkit.NewRegistry()
	lifecycle := toolkit.NewLifecycle(toolkit.LifecycleConfig{
		Registry: registry,
		Cache:    toolkit.NewResultCache(),
	})

	budgeter := contextbudget.NewBudgeter(contextbudget.DefaultConfig())
	profiles := promptprofile.NewRegistry("")
	router := intent.NewRouter("", profiles)
	composer := promptprofile.NewComposer(promptprofile.NewLoader(), promptsDir)

	var sinks []statemachine.Sink
	if traceFile != "" {
		recorder, err := coreaudit.NewTraceRecorder(traceFile)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		defer recorder.Close()
		sinks = append(sinks, recorder)
	}

	traceID := uuid.NewString()
	bus := statemachine.NewBus(traceID, traceID, statemachine.NewMultiSink(sinks...), statemachine.DefaultBackpressureConfig())
	machine := statemachine.NewMachine(bus)

	cfg := orchestrator.DefaultConfig(modelName)
	o := orchestrator.New(cfg, provider, budgeter, router, composer, registry, lifecycle, bus, machine)

	result := o.Turn(cmd.Context(), projectID, nil, userText)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, result.FinalText)
	fmt.Fprintf(cmd.ErrOrStderr(), "intent=%s profile=%s stop_reason=%s\n", result.Intent, result.Profile.Name, result.StopReason)
	if result.StopReason != coremodels.StopDone {
		return fmt.Errorf("turn ended with stop_reason=%s", result.StopReason)
	}
	return nil
}
