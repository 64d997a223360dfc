// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"

	"github.com/elliotnunn/brickvault/internal/codecpool"
	"github.com/elliotnunn/brickvault/internal/datfs"
	"github.com/elliotnunn/brickvault/internal/extract"
	"github.com/spf13/pflag"
)

const usage = `usage: brickvault <command> [flags] ARCHIVE

commands:
  list      print every entry with its sizes and codec
  extract   write entries to a directory
  verify    decode every entry and report failures
  serve     browse the archive over HTTP
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// common holds the flags every command takes.
type common struct {
	verbose bool
	names   string
	noCache bool
}

func (c *common) addFlags(flagSet *pflag.FlagSet) {
	flagSet.BoolVarP(&c.verbose, "verbose", "v", false, "log debug messages")
	flagSet.StringVar(&c.names, "names", "", "directory of *.list files naming hashed entries (default: the archive's directory)")
	flagSet.BoolVar(&c.noCache, "no-cache", false, "ignore the index cache")
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	var cmd func(args []string, stdout, stderr io.Writer) error
	switch args[0] {
	case "list":
		cmd = cmdList
	case "extract":
		cmd = cmdExtract
	case "verify":
		cmd = cmdVerify
	case "serve":
		cmd = cmdServe
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n%s", args[0], usage)
		return 2
	}

	err := cmd(args[1:], stdout, stderr)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, pflag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "%s: %v\n", args[0], err)
		return 2
	default:
		fmt.Fprintf(stderr, "%s: %v\n", args[0], err)
		return 1
	}
}

var errUsage = errors.New("usage")

// parse handles the flags and the single archive argument.
func parse(flagSet *pflag.FlagSet, c *common, args []string) (string, error) {
	c.addFlags(flagSet)
	if err := flagSet.Parse(args); err != nil {
		return "", err
	}
	if c.verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
	if flagSet.NArg() != 1 {
		return "", fmt.Errorf("%w: want exactly one archive, got %d arguments", errUsage, flagSet.NArg())
	}
	return flagSet.Arg(0), nil
}

func cmdExtract(args []string, stdout, stderr io.Writer) error {
	var c common
	var out string
	var lower, quiet bool
	var workers int
	var include, exclude []string

	flagSet := pflag.NewFlagSet("extract", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&out, "out", "o", ".", "output directory")
	flagSet.BoolVar(&lower, "lower", false, "keep paths in lower case")
	flagSet.IntVarP(&workers, "jobs", "j", min(runtime.GOMAXPROCS(0), extract.MaxWorkers), "entries decoded at once")
	flagSet.StringArrayVar(&include, "include", nil, "extract only paths matching this glob (repeatable)")
	flagSet.StringArrayVar(&exclude, "exclude", nil, "skip paths matching this glob (repeatable)")
	flagSet.BoolVarP(&quiet, "quiet", "q", false, "do not print progress")
	name, err := parse(flagSet, &c, args)
	if err != nil {
		return err
	}

	arc, err := openArchive(name, c)
	if err != nil {
		return err
	}
	defer arc.Close()

	which, err := extract.Select(arc.a, include, exclude)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	opts := extract.Options{Workers: workers}
	if !quiet {
		opts.Progress = progress(stderr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	res, err := extract.Run(ctx, arc.a, codecpool.New(), which, extract.Dir{Root: out, Lower: lower}, opts)
	if !quiet {
		fmt.Fprintln(stderr)
	}
	return summarize(res, err, stdout)
}

func cmdVerify(args []string, stdout, stderr io.Writer) error {
	var c common
	var workers int
	flagSet := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.IntVarP(&workers, "jobs", "j", min(runtime.GOMAXPROCS(0), extract.MaxWorkers), "entries decoded at once")
	name, err := parse(flagSet, &c, args)
	if err != nil {
		return err
	}

	arc, err := openArchive(name, c)
	if err != nil {
		return err
	}
	defer arc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	res, err := extract.Run(ctx, arc.a, codecpool.New(), nil, extract.Discard, extract.Options{Workers: workers})
	for _, r := range res {
		if r.Err != nil {
			fmt.Fprintf(stdout, "FAIL %s: %v\n", r.Path, r.Err)
		}
	}
	return summarize(res, err, stdout)
}

func summarize(res []extract.Result, err error, stdout io.Writer) error {
	if err != nil {
		return err
	}
	var bytes int64
	for _, r := range res {
		bytes += r.Written
	}
	failed := extract.Failed(res)
	fmt.Fprintf(stdout, "%d entries, %d bytes, %d failed\n", len(res), bytes, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d entries failed", failed, len(res))
	}
	return nil
}

func progress(w io.Writer) func(done, total int) {
	return func(done, total int) {
		if done == total || done%64 == 0 {
			fmt.Fprintf(w, "\r%d/%d", done, total)
		}
	}
}

func cmdServe(args []string, stdout, stderr io.Writer) error {
	var c common
	var addr string
	flagSet := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&addr, "addr", ":1993", "listen address")
	name, err := parse(flagSet, &c, args)
	if err != nil {
		return err
	}

	arc, err := openArchive(name, c)
	if err != nil {
		return err
	}
	defer arc.Close()

	fsys := datfs.New(arc.a, codecpool.New(), arc.mtime)
	slog.Info("serving", "addr", addr, "archive", name, "entries", len(arc.a.Entries))
	return http.ListenAndServe(addr, http.FileServerFS(fsys))
}
