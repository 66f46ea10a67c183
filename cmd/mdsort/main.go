// Command mdsort walks configured Maildir trees and applies the
// configured match/action rules to each message, per spec.md §6's CLI
// surface. Wiring mirrors the teacher's cmd/imap.go: a flag-parsed
// configuration struct, a narrow Logger, and a signal-free synchronous
// run (the core has no internal concurrency, per spec.md §5).
package main

import (
	"flag"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/geoffreyhinton/mdsort/internal/engine"
	"github.com/geoffreyhinton/mdsort/internal/mlog"
	"github.com/geoffreyhinton/mdsort/internal/reportapi"
	"github.com/geoffreyhinton/mdsort/internal/runlog"
	"github.com/geoffreyhinton/mdsort/internal/sortconf"
)

const (
	exitOK        = 0
	exitError     = 1
	exitUsage     = 2
	exitFaultOnly = 66
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("mdsort", flag.ContinueOnError)
	dryRun := fs.Bool("d", false, "dry run: verbose and inspect, apply nothing")
	syntaxOnly := fs.Bool("n", false, "check configuration syntax only")
	var verbosity int
	fs.Func("v", "increase verbosity (repeatable)", func(string) error {
		verbosity++
		return nil
	})
	configPath := fs.String("f", "", "alternate configuration path")
	mongoURI := fs.String("mongo-uri", "", "optional MongoDB URI for the run-log audit trail")
	httpAddr := fs.String("http", "", "optional address to serve the HTTP report API on")

	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 0 {
		fmt.Fprintf(os.Stderr, "mdsort: unexpected arguments: %v\n", fs.Args())
		return exitUsage
	}

	log := mlog.New("mdsort: ", verbosity)

	path := *configPath
	if path == "" {
		home, err := homeDir()
		if err != nil {
			log.Error("%v", err)
			return exitError
		}
		path = filepath.Join(home, ".mdsort.conf")
	}

	cfg, err := sortconf.Load(path)
	if err != nil {
		log.Error("%v", err)
		return exitError
	}

	var recorder *runlog.Recorder
	if *mongoURI != "" {
		recorder, err = runlog.Connect(*mongoURI)
		if err != nil {
			log.Error("runlog: %v", err)
			return exitError
		}
		defer recorder.Close()
	}

	if *httpAddr != "" && recorder != nil {
		srv := reportapi.New(recorder, log)
		go func() {
			if err := srv.ListenAndServe(*httpAddr); err != nil {
				log.Error("reportapi: %v", err)
			}
		}()
	}

	opts := engine.Options{
		DryRun:     *dryRun,
		SyntaxOnly: *syntaxOnly,
		Hostname:   hostname(),
		Log:        log,
		Out:        os.Stdout,
	}

	report, err := engine.Run(cfg, opts)
	if err != nil {
		log.Error("%v", err)
		return exitError
	}
	if recorder != nil {
		if err := recorder.Record(report); err != nil {
			log.Error("runlog: %v", err)
		}
	}

	for _, e := range report.Errors {
		log.Error("%v", e)
	}
	if len(report.Errors) > 0 {
		return exitError
	}
	return exitOK
}

// homeDir resolves $HOME, falling back to the passwd database per
// spec.md §6's environment note.
func homeDir() (string, error) {
	if h := os.Getenv("HOME"); h != "" {
		return h, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("mdsort: cannot determine home directory: %w", err)
	}
	return u.HomeDir, nil
}

// hostname resolves $HOSTNAME (falling back to os.Hostname), stripping
// any domain suffix, per spec.md §6.
func hostname() string {
	h := os.Getenv("HOSTNAME")
	if h == "" {
		h, _ = os.Hostname()
	}
	if i := strings.IndexByte(h, '.'); i >= 0 {
		h = h[:i]
	}
	return h
}
