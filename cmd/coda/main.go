// Command coda is an interactive coding agent for the terminal.
//
// Usage:
//
//	coda                  start the interactive session
//	coda tools            list the available tools
//	coda schema           print the configuration JSON schema
//	coda version          show version information
//
// Configuration comes from CODA_* environment variables (see `coda schema`);
// a .env file in the working directory is honored.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"golang.org/x/term"

	"github.com/kadirpekel/coda/pkg/agent"
	"github.com/kadirpekel/coda/pkg/cli"
	"github.com/kadirpekel/coda/pkg/config"
	"github.com/kadirpekel/coda/pkg/llms"
	"github.com/kadirpekel/coda/pkg/logger"
	"github.com/kadirpekel/coda/pkg/tools"
)

type CLI struct {
	Run     RunCmd     `cmd:"" default:"withargs" help:"Start the interactive coding agent."`
	Tools   ToolsCmd   `cmd:"" help:"List the available tools."`
	Schema  SchemaCmd  `cmd:"" help:"Print the configuration JSON schema."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

type RunCmd struct {
	Workdir    string `short:"w" help:"Working directory for file and shell tools." type:"path"`
	ApproveAll bool   `help:"Skip all approval prompts. Only for sandboxed or non-interactive use."`
	MCP        string `name:"mcp" help:"MCP stdio server command, e.g. 'npx -y @modelcontextprotocol/server-git'." placeholder:"COMMAND"`
}

func (c *RunCmd) Run() error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if c.Workdir != "" {
		cfg.WorkingDirectory = c.Workdir
	}
	if c.ApproveAll {
		cfg.ApproveAll = true
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if err := logger.Setup(cfg.LogLevel, cfg.LogFile, interactive); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	registry, builtins, err := buildRegistry(ctx, cfg, c.MCP)
	if err != nil {
		return err
	}

	provider := llms.NewOpenAIProvider(cfg)
	defer provider.Close()

	terminal := cli.NewTerminal(nil)
	loop, err := agent.NewAgentLoop(cfg, provider, registry, terminal)
	if err != nil {
		return err
	}
	terminal.AttachBus(loop.InterruptBus())

	// Agent-facing tools need the loop itself; they are registered after
	// construction to break the cycle.
	if err := builtins.RegisterTool(tools.NewAgentCallTool(loop)); err != nil {
		return err
	}
	if err := builtins.RegisterTool(tools.NewCompressContextTool(loop.History())); err != nil {
		return err
	}

	prefs := config.LoadPreferences(cfg.StateDir)
	if prefs.ShowTodoPanel {
		if todoTool, err := registry.GetTool("todo_write"); err == nil {
			if todo, ok := todoTool.(*tools.TodoTool); ok {
				loop.SetTodoTool(todo)
			}
		}
	}

	fmt.Printf("coda · %s · %s\n", cfg.Model, cfg.Host)
	fmt.Println("Type a task, 'exit' to quit. While the agent works, type extra instructions or ESC to cancel the current step.")

	terminal.Start()
	if err := loop.RunInteractive(ctx); err != nil {
		return err
	}

	fmt.Println("\nGoodbye!")
	return nil
}

// buildRegistry assembles the tool registry: builtins plus an optional MCP
// stdio source.
func buildRegistry(ctx context.Context, cfg *config.Config, mcpCommand string) (*tools.ToolRegistry, *tools.LocalToolSource, error) {
	builtins, err := tools.NewBuiltinToolSource(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build tools: %w", err)
	}

	registry := tools.NewToolRegistry()
	if err := registry.RegisterSource(builtins); err != nil {
		return nil, nil, err
	}

	if mcpCommand != "" {
		parts := strings.Fields(mcpCommand)
		source, err := tools.NewMCPToolSource("mcp", parts[0], nil, parts[1:]...)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid MCP command: %w", err)
		}
		if err := registry.RegisterSource(source); err != nil {
			return nil, nil, err
		}
	}

	if err := registry.DiscoverAllTools(ctx); err != nil {
		// A dead MCP server should not take the whole session down.
		slog.Warn("Tool discovery failed", "error", err)
	}
	return registry, builtins, nil
}

type ToolsCmd struct {
	JSON bool `help:"Print the full catalog as JSON."`
}

func (c *ToolsCmd) Run() error {
	cfg := &config.Config{WorkingDirectory: ".", StateDir: ".coda"}
	builtins, err := tools.NewBuiltinToolSource(cfg)
	if err != nil {
		return err
	}
	registry := tools.NewToolRegistry()
	if err := registry.RegisterSource(builtins); err != nil {
		return err
	}

	if c.JSON {
		data, err := registry.CatalogJSON()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	for _, info := range registry.ListTools() {
		fmt.Printf("%-18s %s\n", info.Name, info.Description)
	}
	return nil
}

type SchemaCmd struct{}

func (c *SchemaCmd) Run() error {
	data, err := config.GenerateSchema()
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("coda version %s\n", version)
	return nil
}

func main() {
	cliRoot := CLI{}
	ctx := kong.Parse(&cliRoot,
		kong.Name("coda"),
		kong.Description("coda - an interactive coding agent for the terminal"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cliRoot)
	ctx.FatalIfErrorf(err)
}
