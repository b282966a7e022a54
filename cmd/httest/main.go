// SPDX-License-Identifier: GPL-3.0-or-later

// Command httest runs scripted protocol test drivers written in the
// line-oriented script language github.com/Veszner/httest implements.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	httest "github.com/Veszner/httest"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

type options struct {
	silent       bool
	noOutput     bool
	errorLevel   bool
	warnLevel    bool
	infoLevel    bool
	debugScript  bool
	debugSystem  bool
	listCommands bool
	helpCommand  string
	timestamp    bool
	shellMode    bool
	metricsAddr  string
}

func main() {
	opt := &options{}
	root := newRootCmd(opt)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd builds the cobra command tree, split out from main so tests
// can exercise flag parsing (notably -V, spec.md §6's version shorthand)
// without calling os.Exit through main itself.
func newRootCmd(opt *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "httest [flags] script...",
		Short:         "run scripted protocol test drivers",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opt, args)
		},
	}
	root.Flags().BoolVarP(&opt.noOutput, "", "n", false, "suppress OK|FAILED output")
	root.Flags().BoolVarP(&opt.silent, "", "s", false, "silent logging")
	root.Flags().BoolVarP(&opt.errorLevel, "", "e", false, "log level: error")
	root.Flags().BoolVarP(&opt.warnLevel, "", "w", false, "log level: warn")
	root.Flags().BoolVarP(&opt.infoLevel, "", "i", false, "log level: info")
	root.Flags().BoolVarP(&opt.debugScript, "", "d", false, "log level: debug-script")
	root.Flags().BoolVarP(&opt.debugSystem, "", "p", false, "log level: debug-system")
	root.Flags().BoolVarP(&opt.listCommands, "", "L", false, "list all commands and exit")
	root.Flags().StringVarP(&opt.helpCommand, "", "C", "", "print help for command and exit")
	root.Flags().BoolVarP(&opt.timestamp, "", "T", false, "prepend a timestamp to each run line")
	root.Flags().BoolVarP(&opt.shellMode, "", "S", false, "shell mode: read script from standard input")
	root.Flags().StringVar(&opt.metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address (ambient addition, see DESIGN.md)")
	// spec.md §6 names -V (capital) as the version shorthand; cobra's
	// InitDefaultVersionFlag only claims --version with no shorthand when
	// Version is set, so the flag is declared here instead, before cobra
	// would add its own.
	root.Flags().BoolP("version", "V", false, "print version and exit")
	root.SetVersionTemplate("httest version " + version + "\n")
	return root
}

func run(opt *options, args []string) error {
	logger := newLogger(opt)
	gc := httest.NewGlobalContext(httest.NewConfig(), logger)

	httest.RegisterBuiltins(gc)
	httest.RegisterBinaryModule(gc)
	httest.RegisterUDPModule(gc)
	httest.RegisterHTMLModule(gc)
	httest.RegisterLuaModule(gc)
	httest.RegisterPerfModule(gc)
	httest.RegisterDNSModule(gc)
	httest.RegisterHTTPModule(gc)

	if opt.listCommands {
		for _, c := range gc.Registry.All() {
			fmt.Printf("%s:%s %s\n\t%s\n", c.Module, c.Name, c.Syntax, c.Help)
		}
		return nil
	}
	if opt.helpCommand != "" {
		return printCommandHelp(gc, opt.helpCommand)
	}
	if opt.metricsAddr != "" {
		startMetricsServer(gc, opt.metricsAddr)
	}

	scripts := args
	if opt.shellMode || len(scripts) == 0 {
		scripts = []string{"-"}
	}

	failed := false
	for _, script := range scripts {
		path := script
		if path == "-" {
			tmp, err := spoolStdin()
			if err != nil {
				return err
			}
			defer os.Remove(tmp)
			path = tmp
		}

		gc.Vars.Set("__SCRIPT", httest.StringValue(path))

		asm := httest.NewAssembler(gc)
		err := asm.AssembleFile(path)

		ok := err == nil && gc.Latch.OK()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		if !ok {
			failed = true
		}
		if !opt.noOutput {
			printRunLine(opt, script, ok)
		}
	}

	if failed {
		os.Exit(1)
	}
	return nil
}

func newLogger(opt *options) httest.SLogger {
	if opt.silent {
		return httest.DefaultSLogger()
	}
	level := slog.LevelInfo
	switch {
	case opt.debugScript, opt.debugSystem:
		level = slog.LevelDebug
	case opt.warnLevel:
		level = slog.LevelWarn
	case opt.errorLevel:
		level = slog.LevelError
	case opt.infoLevel:
		level = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func printRunLine(opt *options, script string, ok bool) {
	prefix := ""
	if opt.timestamp {
		prefix = time.Now().Format(time.RFC1123Z) + " "
	}
	status := "OK"
	if !ok {
		status = "FAILED"
	}
	fmt.Printf("%srun %s\t%s\n", prefix, script, status)
}

func printCommandHelp(gc *httest.GlobalContext, name string) error {
	module, cmdName, ok := cutModule(name)
	for _, c := range gc.Registry.All() {
		if c.Name == cmdName && (!ok || c.Module == module) {
			fmt.Printf("%s:%s %s\n\t%s\n", c.Module, c.Name, c.Syntax, c.Help)
			return nil
		}
	}
	return fmt.Errorf("no such command: %s", name)
}

func cutModule(token string) (module, name string, ok bool) {
	for i := 0; i < len(token); i++ {
		if token[i] == ':' {
			return token[:i], token[i+1:], true
		}
	}
	return "", token, false
}

func spoolStdin() (string, error) {
	f, err := os.CreateTemp("", "httest-stdin-*.htt")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.ReadFrom(os.Stdin); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func startMetricsServer(gc *httest.GlobalContext, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			gc.Logger.Info("metrics server stopped", "error", err.Error())
		}
	}()
}
