package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/smaillet-ms/llilum/compiler"
	"github.com/smaillet-ms/llilum/compiler/annot"
	"github.com/smaillet-ms/llilum/compiler/fixture"
	"github.com/smaillet-ms/llilum/compiler/inline"
	"github.com/smaillet-ms/llilum/compiler/perf"
)

var (
	errColor  = color.New(color.FgRed, color.Bold)
	infoColor = color.New(color.FgCyan)
)

func main() {
	cli.RunAndExit(newApp(), os.Args, os.Environ())
}

func newApp() *cli.Command {
	inlineCmd := &cli.Command{
		Name:        "inline",
		Description: "expand inline calls and print the resulting graphs",
		Action:      inlineAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("max-depth", compiler.DefaultMaxDepth, "inline exposed calls up to this depth"),
		},
	}

	compileCmd := &cli.Command{
		Name:        "compile",
		Description: "compile units and print the backend modules",
		Action:      compileAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("max-depth", compiler.DefaultMaxDepth, "inline exposed calls up to this depth"),
			cli.NewFlag("debug,g", false, "emit debug locations"),
			cli.NewFlag("perf", false, "print timing counters"),
		},
	}

	app := &cli.Command{
		Name:        "llinl",
		Description: "llinl inlines and lowers compilation units described in yaml",
		Before:      before,
		Flags: []*cli.Flag{
			cli.NewFlag("verbosity,v", "", "logger verbosity topics"),
		},
		Commands: []*cli.Command{
			inlineCmd,
			compileCmd,
		},
	}

	return app
}

func before(c *cli.Command) error {
	tlog.SetVerbosity(c.String("verbosity"))

	return nil
}

func inlineAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	return each(c.Args, func(name string) error {
		u, err := fixture.Load(ctx, name)
		if err != nil {
			return errors.Wrap(err, "load")
		}

		pc := perf.New()

		in := &inline.Inliner{
			Cache:    annot.NewCache(),
			Resolver: u,
			Perf:     pc,
		}

		n, err := compiler.Inline(ctx, u, in, c.Int("max-depth"))
		if err != nil {
			return errors.Wrap(err, "inline")
		}

		infoColor.Fprintf(os.Stderr, "%v: inlined %d calls, %d paths\n", name, n, in.Cache.Len())

		for _, m := range u.Methods {
			if g := u.Graph(m); g != nil {
				os.Stdout.Write(g.Dump(nil))
			}
		}

		return nil
	})
}

func compileAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	opts := compileOptions(c)

	return each(c.Args, func(name string) error {
		u, err := fixture.Load(ctx, name)
		if err != nil {
			return errors.Wrap(err, "load")
		}

		res, err := compiler.Compile(ctx, u, opts)
		if err != nil {
			return err
		}

		os.Stdout.Write(res.Module.Print(nil))

		if c.Bool("perf") {
			for _, x := range res.Perf.Snapshot() {
				infoColor.Fprintf(os.Stderr, "%-20s %6d calls %v\n", x.Name, x.Calls, x.Total)
			}
		}

		return nil
	})
}

func compileOptions(c *cli.Command) compiler.Options {
	return compiler.Options{
		MaxDepth: c.Int("max-depth"),
		Debug:    c.Bool("debug"),
	}
}

// each runs f for every file reporting failures as they happen.
func each(files []string, f func(name string) error) error {
	if len(files) == 0 {
		return errors.New("no input files")
	}

	failed := 0

	for _, name := range files {
		err := f(name)
		if err == nil {
			continue
		}

		failed++

		errColor.Fprintf(os.Stderr, "%v: ", name)
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}

	if failed != 0 {
		return errors.New("%d of %d units failed", failed, len(files))
	}

	return nil
}
