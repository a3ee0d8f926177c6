// Command specflowd is the thin CLI wrapper around the core (§6): "Exit
// codes of any thin CLI wrapper: 0 success; 1 failure with user-actionable
// reason; 2 invalid usage." It wires the file-system registry and tasks
// document reader, the real agent CLI executor, and persistent state, then
// delegates every operation to internal/orchestrator.Orchestrator — it
// contains no orchestration logic of its own.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/specflow-dev/dashboard-core/internal/config"
	"github.com/specflow-dev/dashboard-core/internal/executor"
	"github.com/specflow-dev/dashboard-core/internal/orchestrator"
	"github.com/specflow-dev/dashboard-core/internal/questions"
	"github.com/specflow-dev/dashboard-core/internal/state"
	"github.com/specflow-dev/dashboard-core/internal/transcript"
	"github.com/specflow-dev/dashboard-core/internal/zaplog"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "--version", "-v", "version":
		fmt.Printf("specflowd %s\n", version)
		os.Exit(0)
	case "start", "status", "preview", "pause", "resume", "cancel",
		"trigger-merge", "recover", "goback", "answer", "transcript":
		os.Exit(run(os.Args[1], os.Args[2:]))
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  specflowd --version")
	fmt.Fprintln(os.Stderr, "  specflowd start --project <id> [--auto-merge] [--skip-design] [--skip-analyze] [--auto-heal] [--max-heal-attempts <n>] [--batch-size-fallback <n>] [--pause-between-batches]")
	fmt.Fprintln(os.Stderr, "  specflowd status --project <id>")
	fmt.Fprintln(os.Stderr, "  specflowd preview --project <id> [--batch-size-fallback <n>]")
	fmt.Fprintln(os.Stderr, "  specflowd pause --project <id>")
	fmt.Fprintln(os.Stderr, "  specflowd resume --project <id>")
	fmt.Fprintln(os.Stderr, "  specflowd cancel --project <id>")
	fmt.Fprintln(os.Stderr, "  specflowd trigger-merge --project <id>")
	fmt.Fprintln(os.Stderr, "  specflowd recover --project <id> --action <retry|skip|abort>")
	fmt.Fprintln(os.Stderr, "  specflowd goback --project <id> --step <design|analyze|implement|verify>")
	fmt.Fprintln(os.Stderr, "  specflowd answer --project <id> --workflow <id> --qa <qid=answer> [--qa <qid=answer> ...]")
	fmt.Fprintln(os.Stderr, "  specflowd transcript --project <id> --session <id> [--tail <n>]")
	fmt.Fprintln(os.Stderr, "common flags: [--registry <path>] [--agent-cli <path>] [--tasks-file <relpath>] [--tasks-pattern <glob>] [--debug]")
}

// run parses args for cmd, wires an Orchestrator, executes the operation,
// and returns the process exit code.
func run(cmd string, args []string) int {
	flags, positional, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if len(positional) != 0 {
		fmt.Fprintf(os.Stderr, "unexpected argument: %s\n", positional[0])
		return 2
	}

	projectID := flags["project"]
	if projectID == "" {
		fmt.Fprintln(os.Stderr, "--project is required")
		return 2
	}

	orch, err := wireOrchestrator(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer orch.Shutdown()

	ctx := context.Background()

	switch cmd {
	case "start":
		cfg, err := buildConfig(flags)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		exec, err := orch.Start(ctx, projectID, cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Printf("execution_id=%s\nphase=%s\nstatus=%s\n", exec.ID, exec.CurrentPhase, exec.Status)
		return 0

	case "status":
		exec, err := orch.Status(ctx, projectID)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		printStatus(exec)
		return 0

	case "preview":
		fallback := atoiOr(flags["batch-size-fallback"], 0)
		plan, err := orch.PreviewBatches(ctx, projectID, fallback)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Printf("used_fallback=%t\nbatches=%d\n", plan.UsedFallback, len(plan.Batches))
		for i, b := range plan.Batches {
			fmt.Printf("  [%d] %s: %s\n", i, b.Section, strings.Join(b.TaskIDs, ", "))
		}
		return 0

	case "pause":
		return simple(orch.Pause(ctx, projectID))
	case "resume":
		return simple(orch.Resume(ctx, projectID))
	case "cancel":
		return simple(orch.Cancel(ctx, projectID))
	case "trigger-merge":
		return simple(orch.TriggerMerge(ctx, projectID))

	case "recover":
		action := state.RecoveryOption(flags["action"])
		if action == "" {
			fmt.Fprintln(os.Stderr, "--action is required (retry|skip|abort)")
			return 2
		}
		return simple(orch.Recover(ctx, projectID, action))

	case "goback":
		step := flags["step"]
		if step == "" {
			fmt.Fprintln(os.Stderr, "--step is required")
			return 2
		}
		return simple(orch.GoBack(ctx, projectID, state.Phase(step)))

	case "answer":
		workflowID := flags["workflow"]
		if workflowID == "" {
			fmt.Fprintln(os.Stderr, "--workflow is required")
			return 2
		}
		answers, err := parseAnswers(flags.multi("qa"))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		return simple(orch.Answer(ctx, projectID, workflowID, answers))

	case "transcript":
		sessionID := flags["session"]
		if sessionID == "" {
			fmt.Fprintln(os.Stderr, "--session is required")
			return 2
		}
		tail := atoiOr(flags["tail"], 0)
		msgs, err := orch.Transcript(ctx, projectID, sessionID, tail)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		for _, m := range msgs {
			fmt.Printf("[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.Role, m.Content)
		}
		return 0

	default:
		usage()
		return 2
	}
}

func simple(err error) int {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println("ok")
	return 0
}

func printStatus(e state.OrchestrationExecution) {
	fmt.Printf("execution_id=%s\n", e.ID)
	fmt.Printf("phase=%s\n", e.CurrentPhase)
	fmt.Printf("status=%s\n", e.Status)
	if e.Status == state.StatusNeedsAttention && e.RecoveryContext != nil {
		fmt.Printf("issue=%s\n", e.RecoveryContext.Issue)
		fmt.Printf("options=%v\n", e.RecoveryContext.Options)
	}
	if e.CurrentPhase == state.PhaseImplement {
		fmt.Printf("batch=%d/%d\n", e.Batches.Current, e.Batches.Total)
	}
	if e.ErrorMessage != "" {
		fmt.Printf("error=%s\n", e.ErrorMessage)
	}
}

// wireOrchestrator constructs the process-wide Orchestrator with the real
// agent CLI executor and file-system collaborators, matching the teacher's
// top-level wiring in cmd/kilroy's attractor subcommands.
func wireOrchestrator(flags flagSet) (*orchestrator.Orchestrator, error) {
	log := zaplog.New(flags["debug"] == "true")

	defaults, err := config.LoadDefaults()
	if err != nil {
		return nil, err
	}

	binary, err := executor.ResolveAgentBinary(flags["agent-cli"])
	if err != nil {
		return nil, err
	}
	exec := executor.New(log, binary, defaults)

	registryPath := flags["registry"]
	if registryPath == "" {
		registryPath, err = defaultRegistryPath()
		if err != nil {
			return nil, err
		}
	}
	registry, err := loadRegistry(registryPath)
	if err != nil {
		return nil, err
	}

	tasksFile := flags["tasks-file"]
	if tasksFile == "" && flags["tasks-pattern"] == "" {
		tasksFile = filepath.Join(".specflow", "tasks.md")
	}
	tasksDoc := fileTasksDoc{relPath: tasksFile, pattern: flags["tasks-pattern"]}

	store := state.NewStore(log, defaults.DecisionLogRetention)
	queue := questions.NewQueue(defaults.MaxPendingQuestions)
	reader := transcript.NewReader(defaults.EditorToolAllowlist)

	return orchestrator.New(log, registry, store, exec, queue, reader, tasksDoc), nil
}

func defaultRegistryPath() (string, error) {
	home := os.Getenv("HOME")
	if strings.TrimSpace(home) == "" {
		return "", fmt.Errorf("HOME is not set")
	}
	return filepath.Join(home, ".config", "specflow", "projects.json"), nil
}

func buildConfig(flags flagSet) (config.OrchestrationConfig, error) {
	return config.OrchestrationConfig{
		AutoMerge:           flags["auto-merge"] == "true",
		SkipDesign:          flags["skip-design"] == "true",
		SkipAnalyze:         flags["skip-analyze"] == "true",
		AutoHealEnabled:     flags["auto-heal"] == "true",
		MaxHealAttempts:     atoiOr(flags["max-heal-attempts"], 0),
		BatchSizeFallback:   atoiOr(flags["batch-size-fallback"], 0),
		PauseBetweenBatches: flags["pause-between-batches"] == "true",
	}, nil
}

func parseAnswers(pairs []string) (map[string]string, error) {
	answers := map[string]string{}
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("--qa %q is invalid; expected qid=answer", pair)
		}
		answers[parts[0]] = parts[1]
	}
	if len(answers) == 0 {
		return nil, fmt.Errorf("at least one --qa qid=answer is required")
	}
	return answers, nil
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return fallback
		}
		n = n*10 + int(r-'0')
	}
	return n
}
