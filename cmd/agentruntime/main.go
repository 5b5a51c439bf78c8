// Command agentruntime runs one agent's sense-validate-decide-enforce-act-
// observe-explain control loop until it receives SIGINT/SIGTERM or its
// context is canceled.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/autonomic-run/agentruntime/advisor"
	"github.com/autonomic-run/agentruntime/ai"
	"github.com/autonomic-run/agentruntime/arbitrate"
	"github.com/autonomic-run/agentruntime/core"
	"github.com/autonomic-run/agentruntime/explain"
	"github.com/autonomic-run/agentruntime/fsm"
	"github.com/autonomic-run/agentruntime/governance"
	"github.com/autonomic-run/agentruntime/memory"
	"github.com/autonomic-run/agentruntime/orchestrator"
	"github.com/autonomic-run/agentruntime/perception"
	"github.com/autonomic-run/agentruntime/persistence"
	"github.com/autonomic-run/agentruntime/proof"
	"github.com/autonomic-run/agentruntime/restraint"
	"github.com/autonomic-run/agentruntime/runtime"
	"github.com/autonomic-run/agentruntime/stateadapter"
	"github.com/autonomic-run/agentruntime/telemetry"
)

const version = "1.0.0"

func main() {
	var (
		agentID      = flag.String("agent-id", "", "stable agent identifier (overrides AGENTRUNTIME_AGENT_ID)")
		env          = flag.String("env", "", "environment policy: dev|stage|prod (overrides AGENTRUNTIME_ENV)")
		loopInterval = flag.Float64("loop-interval", 0, "seconds between control loop cycles (overrides AGENTRUNTIME_LOOP_INTERVAL)")
		showVersion  = flag.Bool("version", false, "print the version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("agentruntime " + version)
		return
	}

	opts := []core.Option{}
	if *agentID != "" {
		opts = append(opts, core.WithAgentID(*agentID))
	}
	if *env != "" {
		opts = append(opts, core.WithEnv(*env))
	}
	if *loopInterval > 0 {
		opts = append(opts, core.WithLoopInterval(*loopInterval))
	}

	cfg, err := core.NewConfig(opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentruntime: configuration error:", err)
		os.Exit(1)
	}
	if cfg.AgentID == "" {
		cfg.AgentID = "agent-" + cfg.Env
	}

	logger := cfg.Logger()

	deps, closeFn, err := buildDependencies(cfg, logger)
	if err != nil {
		logger.Error("failed to build agent dependencies", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer closeFn()

	agent := runtime.New(cfg.AgentID, cfg.Env, time.Duration(cfg.LoopInterval*float64(time.Second)), deps)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdownTracing, err := telemetry.InitTracerProvider(ctx, telemetry.Config{OTLPEndpoint: cfg.Telemetry.OTLPEndpoint})
		if err != nil {
			logger.Error("failed to initialize tracing", map[string]interface{}{"error": err.Error()})
		} else {
			defer shutdownTracing(context.Background())
		}
		go func() {
			if err := telemetry.ServeMetrics(ctx, cfg.Telemetry.MetricsAddr); err != nil {
				logger.Error("metrics endpoint stopped", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	logger.Info("agent runtime starting", map[string]interface{}{
		"agent_id":      cfg.AgentID,
		"env":           cfg.Env,
		"loop_interval": cfg.LoopInterval,
		"demo_mode":     cfg.DemoMode,
		"version":       version,
	})

	if err := agent.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("agent runtime exited with error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	logger.Info("agent runtime stopped cleanly", map[string]interface{}{"agent_id": cfg.AgentID})
}

// buildDependencies wires every collaborator package into one
// runtime.Dependencies bundle per cfg, returning a cleanup func that
// releases anything buildDependencies opened (currently just the proof
// log file handle).
func buildDependencies(cfg *core.Config, logger core.Logger) (runtime.Dependencies, func(), error) {
	noop := func() {}

	proofLog, err := proof.Open(cfg.ProofLog.Path, logger)
	if err != nil {
		return runtime.Dependencies{}, noop, fmt.Errorf("opening proof log: %w", err)
	}
	closeFn := func() { proofLog.Close() }

	mem := memory.New(cfg.AgentID, cfg.Memory.MaxDecisions, cfg.Memory.MaxStatesPerApp)

	layer := perception.NewLayer(cfg.AgentID)
	layer.OnAdapterError(func(adapterIndex int, err error) {
		logger.Warn("perception adapter failed, treating its output as empty", map[string]interface{}{"adapter_index": adapterIndex, "error": err.Error()})
	})
	layer.RegisterAdapter(perception.NewSystemAlertAdapter())
	if onboarding, err := perception.NewOnboardingInputAdapter(cfg.Onboarding.WatchPath, logger); err != nil {
		logger.Warn("onboarding adapter disabled: failed to open watch file", map[string]interface{}{"error": err.Error()})
	} else {
		if err := onboarding.Start(context.Background()); err != nil {
			logger.Warn("onboarding adapter disabled: failed to start watcher", map[string]interface{}{"error": err.Error()})
		} else {
			layer.RegisterAdapter(onboarding)
		}
	}

	adapter := stateadapter.New(cfg.Env, proofLog)

	var advisorClient *advisor.Client
	if cfg.Development.MockAdvisor {
		logger.Info("advisor running in mock mode, no network calls will be made", nil)
	} else {
		advisorClient = advisor.New(advisor.Config{
			BaseURL:     cfg.Advisor.BaseURL,
			Timeout:     cfg.Advisor.Timeout,
			MaxFailures: cfg.Advisor.MaxFailures,
			Cooldown:    cfg.Advisor.Cooldown,
			Logger:      logger,
		})
	}

	selfRestraint := restraint.New(restraint.Config{
		MinConfidence:       cfg.SelfRestraint.MinConfidence,
		MaxInstabilityScore: int(cfg.SelfRestraint.MaxInstabilityScore),
		MaxRecentFailures:   cfg.SelfRestraint.MaxRecentFailures,
	})

	actionGovernance := governance.New(governance.Config{
		Env:              cfg.Env,
		CooldownPeriods:  cfg.Governance.CooldownPeriods,
		RepetitionLimit:  cfg.Governance.RepetitionLimit,
		RepetitionWindow: cfg.Governance.RepetitionWindow,
	})

	arbitrator := arbitrate.New(cfg.Arbitrator.ConfidenceThreshold)

	safeOrchestrator := orchestrator.New(orchestrator.Config{Env: cfg.Env, DemoMode: cfg.DemoMode}, proofLog)

	fsmManager := fsm.New(cfg.AgentID, logger)

	store, err := buildStore(cfg)
	if err != nil {
		return runtime.Dependencies{}, closeFn, err
	}

	explainer := buildExplainer(cfg, logger)

	return runtime.Dependencies{
		ProofLog:     proofLog,
		Memory:       mem,
		Perception:   layer,
		StateAdapter: adapter,
		Advisor:      advisorClient,
		Restraint:    selfRestraint,
		Governance:   actionGovernance,
		Arbitrator:   arbitrator,
		Orchestrator: safeOrchestrator,
		FSM:          fsmManager,
		Store:        store,
		Explainer:    explainer,
		Logger:       logger,
	}, closeFn, nil
}

func buildStore(cfg *core.Config) (persistence.Store, error) {
	switch cfg.Persistence.Backend {
	case "redis":
		if cfg.Persistence.RedisAddr == "" {
			return nil, fmt.Errorf("persistence.backend=redis requires a redis address")
		}
		return persistence.NewRedisStore(persistence.RedisConfig{Addr: cfg.Persistence.RedisAddr}), nil
	default:
		return persistence.NewInMemoryStore(), nil
	}
}

func buildExplainer(cfg *core.Config, logger core.Logger) explain.Explainer {
	switch cfg.Explainer.Provider {
	case "openai":
		client := ai.NewClient(ai.Config{APIKey: cfg.Explainer.APIKey})
		return explain.NewLLMExplainer(client, logger)
	case "mock":
		return explain.NewLLMExplainer(ai.NewMockClient(""), logger)
	default:
		return explain.NewTemplateExplainer()
	}
}
