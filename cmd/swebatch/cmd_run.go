package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/gittaskbench/swebatch/internal/agentconfig"
	"github.com/gittaskbench/swebatch/internal/ledger"
	"github.com/gittaskbench/swebatch/internal/orchestration"
	"github.com/gittaskbench/swebatch/internal/postrun"
)

var (
	promptDir       string
	modelName       string
	image           string
	repoPath        string
	configPaths     []string
	hostRepoPath    string
	workers         int
	sleepDuration   int
	skipDockerPrune bool
	skipGitCommit   bool
	outputBaseDir   string
	userName        string
	agentBin        string
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a batch of agent tasks",
		Long: `Run the external agent once per task description in the prompt
directory. Tasks whose expected output directory already exists are skipped;
after all new tasks finish, existing output directories are swept so the
final report covers every historical attempt.`,
		Args: cobra.NoArgs,
		RunE: runCommandE,
	}

	cmd.Flags().StringVar(&promptDir, "prompt-dir", "", "Directory containing the .md problem statement files")
	cmd.Flags().StringVar(&modelName, "model-name", "", "Agent model name")
	cmd.Flags().StringVar(&image, "image", "", "Sandbox image for the agent deployment")
	cmd.Flags().StringVar(&repoPath, "repo-path", "", "Repository path inside the sandbox")
	cmd.Flags().StringArrayVar(&configPaths, "config", nil, "Agent config file (repeatable; later files override earlier ones)")
	cmd.Flags().StringVar(&hostRepoPath, "host-repo-path", "", "Host working copy for the post-task checkpoint commit")
	cmd.Flags().IntVar(&workers, "workers", 1, "Number of concurrent workers; 1 keeps post-task actions strictly ordered")
	cmd.Flags().IntVar(&sleepDuration, "sleep-duration", 5, "Seconds to wait after each task's cleanup; 0 disables")
	cmd.Flags().BoolVar(&skipDockerPrune, "skip-docker-prune", false, "Skip the sandbox prune step")
	cmd.Flags().BoolVar(&skipGitCommit, "skip-git-commit", false, "Skip the checkpoint commit step")
	cmd.Flags().StringVar(&outputBaseDir, "output-base-dir", "trajectories", "Base directory where the agent saves task outputs")
	cmd.Flags().StringVar(&userName, "user-name", "batch_user", "Username segment in the output trajectory path")
	cmd.Flags().StringVar(&agentBin, "agent-bin", "sweagent", "Agent executable to invoke")

	for _, name := range []string{"prompt-dir", "model-name", "image", "repo-path", "config", "host-repo-path"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func runCommandE(cmd *cobra.Command, args []string) error {
	// Preflight: the agent config files must at least be readable YAML.
	merged, err := agentconfig.Load(configPaths)
	if err != nil {
		return err
	}
	if summary, err := agentconfig.Decode(merged); err == nil {
		if name := summary.Agent.Model.Name; name != "" && name != modelName {
			slog.Warn("model in agent config differs from --model-name",
				"config_model", name, "flag_model", modelName)
		}
	}

	if workers > 1 {
		slog.Warn("post-task actions (prune/commit) may interleave with more than one worker; set --workers 1 for strict ordering",
			"workers", workers)
	}
	if !skipGitCommit {
		if info, err := os.Stat(hostRepoPath); err != nil || !info.IsDir() {
			slog.Warn("host repository path not found; checkpoint commits will be skipped",
				"path", hostRepoPath)
		}
	}

	cfg := orchestration.Config{
		PromptDir:  promptDir,
		Model:      modelName,
		AgentArgv:  buildAgentArgv(agentBin, configPaths, modelName, repoPath, image),
		OutputBase: outputBaseDir,
		User:       userName,
		Workers:    workers,
		Pipeline: postrun.Pipeline{
			RepoPath:    hostRepoPath,
			SettleDelay: time.Duration(sleepDuration) * time.Second,
			SkipPrune:   skipDockerPrune,
			SkipCommit:  skipGitCommit,
		},
	}

	runner := orchestration.NewRunner(cfg)
	runner.OnProgress(progressListener)

	fmt.Printf("Prompt directory: %s\n", promptDir)
	fmt.Printf("Model: %s\n", modelName)
	fmt.Printf("Output base: %s\n", filepath.Join(outputBaseDir, userName))
	fmt.Printf("Workers: %d\n\n", workers)

	report, err := runner.Run(context.Background())
	if err != nil {
		return err
	}

	printSummary(report)
	return nil
}

// buildAgentArgv assembles the base agent invocation. Per-task arguments
// (problem path, output directory) are appended by the executor.
func buildAgentArgv(bin string, configs []string, model, repo, image string) []string {
	argv := []string{bin, "run"}
	for _, c := range configs {
		argv = append(argv, "--config", c)
	}
	argv = append(argv,
		"--agent.model.name", model,
		"--env.repo.path", repo,
		"--env.deployment.image", image,
	)
	return argv
}

func progressListener(event orchestration.ProgressEvent) {
	switch event.EventType {
	case orchestration.EventBatchStart:
		if event.TotalTasks > 0 {
			fmt.Printf("Starting %d new task(s)...\n\n", event.TotalTasks)
		}
	case orchestration.EventTaskStart:
		fmt.Printf("[%d/%d] Running task: %s\n", event.TaskNum, event.TotalTasks, event.TaskName)
	case orchestration.EventTaskComplete:
		printCostSummary(event.TaskName, event.Outcome)
	case orchestration.EventSweepBackfill:
		fmt.Printf("Back-filled from existing output: %s\n", event.TaskName)
	}
}

// printCostSummary prints the immediate per-task summary as each task
// completes, interleaved when workers > 1.
func printCostSummary(taskName string, o *ledger.TaskOutcome) {
	if o == nil {
		return
	}

	fmt.Printf("--- Cost Summary for Task: %s ---\n", taskName)
	switch {
	case o.Success && o.HasStats():
		fmt.Println("  Status: SUCCESS")
		if o.InstanceCost != nil {
			fmt.Printf("  Task Cost: $%.4f\n", *o.InstanceCost)
		} else {
			fmt.Println("  Task Cost: N/A")
		}
		fmt.Printf("  Tokens Sent: %s\n", formatCount(o.TokensSent))
		fmt.Printf("  Tokens Received: %s\n", formatCount(o.TokensReceived))
		fmt.Printf("  API Calls: %s\n", formatCount(o.APICalls))
	case o.Success:
		fmt.Println("  Status: SUCCESS (but model_stats not found/parsed)")
		if o.Error != nil {
			fmt.Printf("  Cost information unavailable: %s\n", *o.Error)
		}
	default:
		fmt.Println("  Status: FAILED")
		msg := "Unknown execution error"
		if o.Error != nil {
			msg = *o.Error
		}
		fmt.Printf("  Task failed. Error: %s\n", truncate(firstLine(msg), 100))
	}
	fmt.Println()
}

func formatCount(v *int64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d", *v)
}
