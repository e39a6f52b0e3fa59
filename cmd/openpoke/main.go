package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/m0ahs/openpoke/pkg/agent"
	"github.com/m0ahs/openpoke/pkg/bus"
	"github.com/m0ahs/openpoke/pkg/channels"
	"github.com/m0ahs/openpoke/pkg/config"
	"github.com/m0ahs/openpoke/pkg/convlog"
	"github.com/m0ahs/openpoke/pkg/logger"
	"github.com/m0ahs/openpoke/pkg/providers"
	"github.com/m0ahs/openpoke/pkg/tools"
	"github.com/m0ahs/openpoke/pkg/trigger"
)

var version = "dev"

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("openpoke", version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "openpoke:", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".openpoke", "config.json")
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.InfoCF("main", "Starting openpoke", map[string]interface{}{"version": version})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	convLog, err := convlog.Open(cfg.ConversationLogPath())
	if err != nil {
		return err
	}
	defer convLog.Close()

	store, err := trigger.OpenStore(cfg.DataDir())
	if err != nil {
		return err
	}
	defer store.Close()

	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		return err
	}

	msgBus := bus.NewMessageBus()
	roster := agent.NewRoster()

	execRT := agent.NewExecutionRuntime(provider, cfg.Agents, roster, nil)
	interaction := agent.NewInteractionRuntime(provider, cfg, convLog, roster, execRT, msgBus)
	sched := trigger.NewScheduler(store, execRT, interaction, cfg.Triggers)

	// The trigger tools need the scheduler and the scheduler needs the
	// execution runtime, so the toolset is installed once both exist and
	// before anything runs.
	execRT.SetToolset(func(agentID string) *tools.ToolRegistry {
		registry := tools.NewToolRegistry()
		registry.Register(tools.NewCreateTriggerTool(store, sched, agentID))
		registry.Register(tools.NewUpdateTriggerTool(store, sched, agentID))
		registry.Register(tools.NewListTriggersTool(store, agentID))
		return registry
	})

	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	manager, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		return err
	}
	if cli, ok := manager.Get("cli"); ok {
		cli.(*channels.CLIChannel).SetCommandHandler(commandHandler(interaction, stop))
	}
	if err := manager.Start(ctx); err != nil {
		return err
	}

	go interaction.Run(ctx)

	logger.InfoCF("main", "openpoke ready",
		map[string]interface{}{"channels": strings.Join(manager.List(), ",")})

	<-ctx.Done()
	logger.InfoC("main", "Shutting down")

	shutdownCtx := context.Background()
	manager.Stop(shutdownCtx)
	interaction.Wait()
	return nil
}

func commandHandler(interaction *agent.InteractionRuntime, stop func()) func(string) string {
	return func(cmd string) string {
		switch strings.Fields(cmd)[0] {
		case "/clear":
			if err := interaction.ClearConversation(); err != nil {
				return "clear failed: " + err.Error()
			}
			return "conversation cleared"
		case "/agents":
			agents := interaction.ListAgents()
			if len(agents) == 0 {
				return "no agents yet"
			}
			var sb strings.Builder
			for _, a := range agents {
				sb.WriteString(fmt.Sprintf("- %s: %s\n", a.ID, a.Description))
			}
			return strings.TrimRight(sb.String(), "\n")
		case "/quit", "/exit":
			stop()
			return "bye"
		default:
			return "commands: /clear /agents /quit"
		}
	}
}
