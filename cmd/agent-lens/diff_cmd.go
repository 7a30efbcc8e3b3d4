package main

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/asheshgoplani/agent-lens/internal/config"
)

// resolveDiffKind maps the CLI spelling onto the API kind. "last-commit"
// is the user-facing name for the commit kind.
func resolveDiffKind(arg string) (string, error) {
	switch arg {
	case "", "unstaged":
		return "unstaged", nil
	case "staged":
		return "staged", nil
	case "last-commit", "commit":
		return "commit", nil
	case "branch":
		return "branch", nil
	default:
		return "", fmt.Errorf("unknown diff kind %q (want unstaged, staged, last-commit or branch)", arg)
	}
}

func handleDiff(args []string) {
	fs := flag.NewFlagSet("diff", flag.ContinueOnError)
	kindArg := fs.String("kind", "unstaged", "Diff kind: unstaged, staged, last-commit, branch")
	base := fs.String("base", "", "Base branch for -kind branch (default: repository default branch)")

	fs.Usage = func() {
		fmt.Println("Usage: agent-lens diff [options] [path]")
		fmt.Println()
		fmt.Println("Open a diff viewer for the repository at path (default: current")
		fmt.Println("directory). The daemon spawns or reuses a difit server and prints")
		fmt.Println("its URL.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  agent-lens diff")
		fmt.Println("  agent-lens diff -kind staged ~/projects/api")
		fmt.Println("  agent-lens diff -kind last-commit")
		fmt.Println("  agent-lens diff -kind branch -base develop")
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(1)
	}
	if fs.NArg() > 1 {
		fmt.Fprintf(os.Stderr, "Error: too many arguments: %v\n", fs.Args())
		os.Exit(1)
	}

	kind, err := resolveDiffKind(*kindArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	repo := "."
	if fs.NArg() == 1 {
		repo = fs.Arg(0)
	}
	absRepo, err := filepath.Abs(repo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot resolve path %q: %v\n", repo, err)
		os.Exit(1)
	}

	cfg, _ := config.Load()
	result, err := newAPIClient(cfg).openDiff(absRepo, kind, *base)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			fmt.Fprintln(os.Stderr, "Is the daemon running? Start it with 'agent-lens serve'.")
		}
		os.Exit(1)
	}

	if result.Reused {
		fmt.Printf("Diff viewer (reused): %s\n", result.URL)
	} else {
		fmt.Printf("Diff viewer: %s\n", result.URL)
	}
}
