package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/danmuck/webuictl/internal/config"
	"github.com/danmuck/webuictl/internal/control"
	"github.com/danmuck/webuictl/internal/logging"
	"github.com/danmuck/webuictl/internal/observability"
	"github.com/danmuck/webuictl/internal/registry"
	"github.com/danmuck/webuictl/internal/server"
)

const version = "0.1.0"

func main() {
	logging.ConfigureRuntime()
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "help", "-h", "--help":
		usage()
	case "version", "-v", "--version":
		fmt.Println("webuictl", version)
	case "setup":
		err = cmdSetup(os.Args[2:])
	case "launch":
		err = cmdLaunch(os.Args[2:])
	case "stop":
		err = cmdStop(os.Args[2:])
	case "status":
		err = cmdStatus(os.Args[2:])
	case "tail":
		err = cmdTail(os.Args[2:])
	case "clear":
		err = cmdClear(os.Args[2:])
	case "serve":
		err = cmdServe(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "webuictl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`webuictl ` + version + `
Local control plane for managed WebUI tools: isolated venvs, shared model
assets, supervised processes.

USAGE
  webuictl <command> [options]

COMMANDS
  setup [tool|all]          Provision tool runtime(s); idempotent
  launch <tool>             Launch a tool [--profile NAME] [-- extra args]
  stop <tool>               Gracefully stop a tool (SIGKILL after timeout)
  status [tool|all]         Reconciled state, pid, port, uptime, last logs
  tail <tool>               Last buffered log lines [-n N]
  clear <tool>              Clear an errored record
  serve                     Serve the local HTTP surface [--addr HOST:PORT]
  version                   Print version

Options common to all commands:
  --config PATH   ctl config file (default webuictl.toml if present)`)
}

// bootstrap loads the ctl config plus the two documents the core depends
// on, failing fast on malformed input.
func bootstrap(fs *flag.FlagSet, args []string) (*control.Service, ctlConfig, []string, error) {
	configPath := fs.String("config", "", "ctl config file")
	if err := fs.Parse(args); err != nil {
		return nil, ctlConfig{}, nil, err
	}

	ctl := defaultCtlConfig()
	path := *configPath
	if path == "" {
		if _, err := os.Stat("webuictl.toml"); err == nil {
			path = "webuictl.toml"
		}
	}
	if path != "" {
		loaded, err := loadCtlConfig(path)
		if err != nil {
			return nil, ctlConfig{}, nil, err
		}
		ctl = loaded
	}

	reg, err := registry.Load(ctl.RegistryPath)
	if err != nil {
		return nil, ctlConfig{}, nil, err
	}
	ws := config.Default()
	if _, err := os.Stat(ctl.WorkspacePath); err == nil {
		ws, err = config.Load(ctl.WorkspacePath)
		if err != nil {
			return nil, ctlConfig{}, nil, err
		}
	}

	svc, err := control.NewService(control.ServiceConfig{
		Registry:  reg,
		Workspace: ws,
		Output:    os.Stdout,
	})
	if err != nil {
		return nil, ctlConfig{}, nil, err
	}
	return svc, ctl, fs.Args(), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func cmdSetup(args []string) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	svc, _, rest, err := bootstrap(fs, args)
	if err != nil {
		return err
	}
	target := control.All
	if len(rest) > 0 {
		target = rest[0]
	}

	ctx, cancel := signalContext()
	defer cancel()

	results, err := svc.Setup(ctx, target)
	if err != nil {
		return err
	}
	failed := 0
	for _, res := range results {
		if res.Ready {
			fmt.Printf("  %-12s ready\n", res.ToolID)
		} else {
			failed++
			fmt.Printf("  %-12s FAILED: %s\n", res.ToolID, res.Error)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tools failed setup", failed, len(results))
	}
	return nil
}

func cmdLaunch(args []string) error {
	fs := flag.NewFlagSet("launch", flag.ContinueOnError)
	profile := fs.String("profile", "", "hardware profile name")

	// split off tool extra args after "--" before flag parsing
	args, extra := splitExtra(args)
	svc, _, rest, err := bootstrap(fs, args)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return fmt.Errorf("launch requires a tool id")
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := svc.Launch(ctx, rest[0], *profile, extra)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s pid=%d port=%d\n", st.ToolID, st.State, st.PID, st.Port)
	if st.Degraded {
		fmt.Println("  note: centralization degraded, asset paths need manual maintenance")
	}
	return nil
}

func cmdStop(args []string) error {
	fs := flag.NewFlagSet("stop", flag.ContinueOnError)
	svc, _, rest, err := bootstrap(fs, args)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return fmt.Errorf("stop requires a tool id")
	}

	ctx, cancel := signalContext()
	defer cancel()

	state, err := svc.Stop(ctx, rest[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", rest[0], state)
	return nil
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	svc, _, rest, err := bootstrap(fs, args)
	if err != nil {
		return err
	}
	target := control.All
	if len(rest) > 0 {
		target = rest[0]
	}

	snap, err := svc.Status(target)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		st := snap[id]
		line := fmt.Sprintf("  %-12s %-9s port=%d", id, st.State, st.Port)
		if st.PID > 0 {
			line += fmt.Sprintf(" pid=%d", st.PID)
		}
		if st.Uptime > 0 {
			line += fmt.Sprintf(" up=%s", st.Uptime.Round(time.Second))
		}
		if st.Degraded {
			line += " centralization=manual"
		}
		if st.Failure != "" {
			line += " failure=" + st.Failure
		}
		fmt.Println(line)
	}
	return nil
}

func cmdTail(args []string) error {
	fs := flag.NewFlagSet("tail", flag.ContinueOnError)
	n := fs.Int("n", 50, "number of lines")
	svc, _, rest, err := bootstrap(fs, args)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return fmt.Errorf("tail requires a tool id")
	}
	lines, err := svc.Tail(rest[0], *n)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

func cmdClear(args []string) error {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	svc, _, rest, err := bootstrap(fs, args)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return fmt.Errorf("clear requires a tool id")
	}
	if err := svc.ClearError(rest[0]); err != nil {
		return err
	}
	fmt.Printf("%s: cleared\n", rest[0])
	return nil
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", "", "listen address")
	svc, ctl, _, err := bootstrap(fs, args)
	if err != nil {
		return err
	}
	if *addr != "" {
		ctl.ServeAddr = *addr
	}

	ctx, cancel := signalContext()
	defer cancel()
	go svc.ReconcileLoop(ctx)

	logger := observability.InitLogger("webuictl")
	srv := server.New(server.Config{
		Addr:        ctl.ServeAddr,
		CorsOrigins: ctl.CorsOrigins,
	}, svc, logger)
	logger.Info().Str("addr", ctl.ServeAddr).Msg("serving control surface")
	return srv.Run()
}

// splitExtra separates "... -- extra tool args" from the command's own
// arguments.
func splitExtra(args []string) ([]string, []string) {
	for i, arg := range args {
		if arg == "--" {
			return args[:i], args[i+1:]
		}
	}
	return args, nil
}
