package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/deixis/robopanel/internal/report"
	"github.com/deixis/robopanel/internal/runner"
)

// --- run ---

func runMain(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a .robopanel file")
	timeoutFlag := fs.Duration("timeout", 0, "override configured timeout (e.g. 5s)")
	shell := fs.Bool("shell", false, "run the arguments as one /bin/sh script")
	dir := fs.String("dir", "", "working directory")
	jsonFlag := fs.Bool("json", false, "output the run record as JSON")
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("run: no command given")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	req := runner.Command(fs.Args()...)
	if *shell {
		req = runner.Shell(strings.Join(fs.Args(), " "))
	}
	timeout := cfg.Timeout()
	if *timeoutFlag > 0 {
		timeout = *timeoutFlag
	}
	req = req.WithTimeout(timeout).WithDir(*dir)

	r := &runner.Runner{MaxOutput: cfg.MaxOutputBytes()}
	out := r.Run(ctx, req)

	if *jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report.NewRecord("run", fs.Args(), out)); err != nil {
			return err
		}
	} else {
		fmt.Print(formatRunCLI(out))
	}

	if !out.OK() {
		os.Exit(1)
	}
	return nil
}

// formatRunCLI prints stdout followed by the diagnostic text, the way a
// panel response would show them.
func formatRunCLI(out *runner.Outcome) string {
	var b []byte
	w := func(format string, args ...any) {
		b = fmt.Appendf(b, format, args...)
	}

	b = append(b, out.Output...)
	if len(out.Output) > 0 && out.Output[len(out.Output)-1] != '\n' {
		w("\n")
	}

	switch {
	case out.Failure != nil:
		w("%s\n", out.Failure.Diagnostic)
	case len(out.Stderr) > 0:
		w("%s", out.Stderr)
	}
	if out.Truncated {
		w("(output truncated)\n")
	}
	w("run %s: pid %d, %s", out.RunID, out.PID, out.Duration.Round(time.Millisecond))
	if out.Failure != nil {
		w(", %s", out.Failure.Reason)
	}
	w("\n")
	return string(b)
}
