// Command robopanel serves the robot control panel.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/robopanel"
	"github.com/deixis/robopanel/internal/broker"
	"github.com/deixis/robopanel/internal/channel"
	"github.com/deixis/robopanel/internal/config"
	"github.com/deixis/robopanel/internal/control"
	"github.com/deixis/robopanel/internal/logging"
	panelmcp "github.com/deixis/robopanel/internal/mcp"
	"github.com/deixis/robopanel/internal/report"
	"github.com/deixis/robopanel/internal/runner"
	"github.com/deixis/robopanel/internal/web"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("robopanel: ")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "serve":
		err = serveMain(args)
	case "mcp":
		err = mcpMain(args)
	case "run":
		err = runMain(args)
	case "watch":
		err = watchMain(args)
	case "version":
		fmt.Println(robopanel.Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "robopanel: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: robopanel <command> [flags]

Commands:
  serve       Serve the web panel and the real-time channel
  mcp         Start the MCP server
  run         Run one bounded command and print its outcome
  watch       Follow a device's real-time channel from the terminal
  version     Print the version
  help        Show this help

Use "robopanel <command> -h" for command-specific flags.`)
}

// --- serve ---

func serveMain(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a .robopanel file (default: search upward from the working directory)")
	listen := fs.String("listen", "", "override the listen address (e.g. :8000)")
	noChannel := fs.Bool("no-channel", false, "do not connect to the broker or serve /ws")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPanel(*configPath)
	if err != nil {
		return err
	}
	defer p.close()

	var ws http.Handler
	if !*noChannel {
		client, err := broker.Dial(p.cfg.Redis)
		if err != nil {
			return fmt.Errorf("connecting to broker: %w", err)
		}
		defer client.Close()
		if err := client.Ping(ctx); err != nil {
			p.logger.Warn("broker unreachable; the real-time channel will fail until it is up",
				"addr", p.cfg.Redis.Address(), "error", err)
		}
		ws = channel.NewHub(client, p.cfg.Channel, p.logger)
	}

	addr := p.cfg.ListenAddr()
	if *listen != "" {
		addr = *listen
	}
	return web.NewServer(p.ctl, p.runs, ws, p.logger).ListenAndServe(ctx, addr)
}

// --- mcp ---

func mcpMain(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a .robopanel file")
	instructions := fs.Bool("instructions", false, "print model instructions and exit")
	httpAddr := fs.String("http", "", "start HTTP server on address (e.g. :9090)")
	_ = fs.Parse(args)

	if *instructions {
		fmt.Print(panelmcp.Instructions)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	p, err := newPanel(*configPath)
	if err != nil {
		return err
	}
	defer p.close()

	server := panelmcp.NewServer(p.ctl, p.runs)
	if *httpAddr != "" {
		return serveMCPHTTP(ctx, server, *httpAddr)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveMCPHTTP(ctx context.Context, server *mcpsdk.Server, addr string) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	log.Printf("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// --- shared ---

// panel is the dependency graph shared by serve and mcp.
type panel struct {
	cfg    *config.Config
	logger *slog.Logger
	ctl    *control.Controller
	runs   *report.LRUStore
	close  func() error
}

func newPanel(configPath string) (*panel, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	if cfg.Scripts.Devicectl == "" {
		cfg.Scripts.Devicectl = resolveDevicectl()
	}

	runs := report.NewLRUStore(cfg.Runs.CacheSize(), report.NewDiskStore(cfg.Runs.Dir))
	r := &runner.Runner{
		Timeout:   cfg.Timeout(),
		MaxOutput: cfg.MaxOutputBytes(),
	}

	return &panel{
		cfg:    cfg,
		logger: logger,
		ctl: &control.Controller{
			Config: cfg,
			Runner: r,
			Store:  runs,
			Logger: logger,
		},
		runs:  runs,
		close: closeLog,
	}, nil
}

// resolveDevicectl locates the devicectl helper: on PATH first, then next
// to the running executable. Falls back to the bare name so a missing
// helper is reported by the runner as a launch failure.
func resolveDevicectl() string {
	if path, err := exec.LookPath(config.DefaultDevicectl); err == nil {
		return path
	}
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), config.DefaultDevicectl)
		if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
			return sibling
		}
	}
	return config.DefaultDevicectl
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return loaded.Config, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining working directory: %w", err)
	}
	loaded, err := config.Load(wd)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return loaded.Config, nil
}
