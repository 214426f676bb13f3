// Package main provides the kcddice command-line calculator: die odds,
// target selections, turn and game simulation, live play books, and loadout
// ranking.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/kcddice/internal/config"
	"github.com/cory-johannsen/kcddice/internal/observability"
)

// command is one kcddice subcommand.
type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string, out io.Writer) error
}

var commands = map[string]command{
	"die":      {"show face probabilities of catalog dice", runDie},
	"target":   {"pick inventory dice most likely to show target faces", runTarget},
	"combo":    {"simulate turns of a six-dice pool", runCombo},
	"game":     {"simulate full games of two pools", runGame},
	"playbook": {"rank the decisions available on a live roll", runPlaybook},
	"loadouts": {"rank six-dice selections from the inventory", runLoadouts},
	"profiles": {"list the AI profiles", runProfiles},
	"variants": {"list the house-rule variants", runVariants},
	"history":  {"show or prune stored runs", runHistory},
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one kcddice invocation and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	start := time.Now()

	global := flag.NewFlagSet("kcddice", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", "", "path to configuration file; empty uses defaults and KCDDICE_ environment variables")
	variant := global.String("variant", "", "house-rule variant ID from content.variants")
	global.Usage = func() { usage(global, stderr) }
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	rest := global.Args()
	if len(rest) == 0 {
		usage(global, stderr)
		return 2
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", rest[0])
		usage(global, stderr)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("loading config: %v", err)
		return 1
	}
	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Printf("initializing logger: %v", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	// Interrupting a long simulation keeps its partial result.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, *variant, logger)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer a.Close()

	if err := cmd.run(ctx, a, rest[1:], stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	logger.Debug("command complete", zap.String("command", rest[0]), zap.Duration("elapsed", time.Since(start)))
	return 0
}

func usage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintln(w, "usage: kcddice [-config file] [-variant id] <command> [flags]")
	fmt.Fprintln(w, "\ncommands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-9s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w, "\nflags:")
	fs.PrintDefaults()
}
