package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/danmuck/cryptolctl/cryptol"
	"github.com/danmuck/cryptolctl/internal/observability"
)

const usage = `usage: cryptolctl [flags] <command> [args]

commands:
  load <module>          load a module by name
  load-file <path>       load a module from a server-side file
  eval <expr>            evaluate an expression
  call <fn> [arg...]     apply a function to Cryptol source arguments
  type <expr>            print the type of an expression
  prove <expr>           prove a predicate
  sat <expr>             find a satisfying assignment
  safe <expr>            check an expression for run-time errors
  names                  list names in scope
  focus                  print the focused module
  sha384 <input>         load SuiteB and hash a Cryptol literal`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type runFlags struct {
	configPath  string
	endpoint    string
	timeout     time.Duration
	prover      string
	results     int
	metricsAddr string
	trace       bool
	dump        bool
	preload     moduleList
}

type moduleList []string

func (m *moduleList) String() string { return strings.Join(*m, ",") }

func (m *moduleList) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	logger := observability.InitLogger("cryptolctl")

	fs := flag.NewFlagSet("cryptolctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, usage)
		fmt.Fprintln(stderr, "\nflags:")
		fs.PrintDefaults()
	}
	var f runFlags
	fs.StringVar(&f.configPath, "config", "", "cryptolctl TOML config path")
	fs.StringVar(&f.endpoint, "endpoint", "", "server URL (default $"+cryptol.EnvServerURL+")")
	fs.DurationVar(&f.timeout, "timeout", 0, "per-request timeout")
	fs.StringVar(&f.prover, "prover", "", "prover for prove, sat and safe")
	fs.IntVar(&f.results, "results", 1, "models to report for sat; -1 for all")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics and /health on this address")
	fs.BoolVar(&f.trace, "trace", false, "write call spans to stderr")
	fs.BoolVar(&f.dump, "dump", false, "dump decoded answers")
	fs.Var(&f.preload, "load", "module to load before the command (repeatable)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := resolveConfig(f, fs)
	if err != nil {
		logger.Error().Err(err).Msg("config")
		return 1
	}

	observability.RegisterMetrics()
	hooks := []cryptol.CallHook{observability.NewMetricsHook()}
	if cfg.Trace {
		tp, err := newTracerProvider(stderr)
		if err != nil {
			logger.Error().Err(err).Msg("tracing")
			return 1
		}
		defer func() { _ = tp.Shutdown(context.Background()) }()
		hooks = append(hooks, observability.NewTracingHook(observability.TracingConfig{
			TracerProvider: tp,
			Propagator:     propagation.TraceContext{},
		}))
	}
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, logger)
		defer func() { _ = srv.Close() }()
	}

	c, err := cryptol.Connect(ctx, f.endpoint, cfg.Session,
		cryptol.WithHooks(hooks...),
		cryptol.WithLogger(observability.Component("client")),
	)
	if err != nil {
		logger.Error().Err(err).Msg("connect")
		return 1
	}
	defer func() { _ = c.Disconnect() }()

	for _, m := range cfg.Preload {
		if err := c.LoadModule(ctx, m); err != nil {
			logger.Error().Err(err).Str("module", m).Msg("preload")
			return 1
		}
	}

	cmd := &command{client: c, cfg: cfg, results: f.results, out: stdout}
	if err := cmd.run(ctx, fs.Arg(0), fs.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(stderr, err)
			return 2
		}
		logger.Error().Err(err).Str("command", fs.Arg(0)).Msg("command failed")
		return 1
	}
	return 0
}

// resolveConfig layers defaults, the -config file and explicitly set flags.
func resolveConfig(f runFlags, fs *flag.FlagSet) (cliConfig, error) {
	cfg := defaultCLIConfig()
	if f.configPath != "" {
		loaded, err := loadCLIConfig(f.configPath)
		if err != nil {
			return cliConfig{}, err
		}
		cfg = loaded
	}
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "timeout":
			cfg.Session.RequestTimeout = f.timeout
		case "prover":
			cfg.Prover = f.prover
		case "metrics-addr":
			cfg.MetricsAddr = f.metricsAddr
		case "trace":
			cfg.Trace = f.trace
		case "dump":
			cfg.Dump = f.dump
		}
	})
	cfg.Preload = append(cfg.Preload, normalizeModules(f.preload)...)
	return cfg, nil
}

func newTracerProvider(w io.Writer) (*sdktrace.TracerProvider, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp)), nil
}

func serveMetrics(addr string, logger zerolog.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           observability.MetricsRouter(observability.Component("metrics")),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics listener")
		}
	}()
	return srv
}

var errUsage = errors.New("usage")

type command struct {
	client  *cryptol.Client
	cfg     cliConfig
	results int
	out     io.Writer
}

func (c *command) run(ctx context.Context, name string, args []string) error {
	switch name {
	case "load":
		if len(args) != 1 {
			return usageError("load <module>")
		}
		if err := c.client.LoadModule(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "loaded %s\n", args[0])
	case "load-file":
		if len(args) != 1 {
			return usageError("load-file <path>")
		}
		if err := c.client.LoadFile(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "loaded %s\n", args[0])
	case "eval":
		if len(args) == 0 {
			return usageError("eval <expr>")
		}
		tv, err := c.client.EvaluateTyped(ctx, strings.Join(args, " "), cryptol.Any())
		if err != nil {
			return err
		}
		c.printTyped(tv)
	case "call":
		if len(args) == 0 {
			return usageError("call <fn> [arg...]")
		}
		vals := make([]cryptol.Value, 0, len(args)-1)
		for _, a := range args[1:] {
			vals = append(vals, cryptol.Opaque(a))
		}
		tv, err := c.client.CallTyped(ctx, args[0], vals...)
		if err != nil {
			return err
		}
		c.printTyped(tv)
	case "type":
		if len(args) == 0 {
			return usageError("type <expr>")
		}
		td, err := c.client.CheckType(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, td.Text)
	case "prove", "sat", "safe":
		if len(args) == 0 {
			return usageError(name + " <expr>")
		}
		return c.query(ctx, name, strings.Join(args, " "))
	case "names":
		names, err := c.client.VisibleNames(ctx)
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintf(c.out, "%s : %s\n", n.Name, n.TypeString)
		}
	case "focus":
		info, err := c.client.FocusedModule(ctx)
		if err != nil {
			return err
		}
		if info.Name == "" {
			fmt.Fprintln(c.out, "(none)")
			return nil
		}
		fmt.Fprintln(c.out, info.Name)
	case "sha384":
		if len(args) != 1 {
			return usageError("sha384 <input>")
		}
		return c.sha384(ctx, args[0])
	default:
		return usageError(fmt.Sprintf("unknown command %q", name))
	}
	return nil
}

func usageError(msg string) error {
	return fmt.Errorf("%w: %s", errUsage, msg)
}

func (c *command) printTyped(tv cryptol.TypedValue) {
	if c.cfg.Dump {
		spew.Fdump(c.out, tv)
		return
	}
	if tv.TypeString == "" {
		fmt.Fprintln(c.out, tv.Value)
		return
	}
	fmt.Fprintf(c.out, "%s : %s\n", tv.Value, tv.TypeString)
}

func (c *command) query(ctx context.Context, name, expr string) error {
	opts := cryptol.ProverOptions{Prover: c.cfg.Prover, ResultCount: c.results}
	var (
		v   cryptol.Verdict
		err error
	)
	switch name {
	case "prove":
		v, err = c.client.Prove(ctx, expr, opts)
	case "sat":
		v, err = c.client.Sat(ctx, expr, opts)
	default:
		v, err = c.client.Safe(ctx, expr, opts)
	}
	if err != nil {
		return err
	}
	if c.cfg.Dump {
		spew.Fdump(c.out, v)
		return nil
	}
	fmt.Fprintln(c.out, v.Outcome)
	switch v.Outcome {
	case cryptol.OutcomeCounterexample:
		fmt.Fprintf(c.out, "%s: %s\n", v.CounterexampleType, v.Value)
	case cryptol.OutcomeSatisfiable:
		for _, m := range v.Models {
			fmt.Fprintln(c.out, m)
		}
	}
	return nil
}

func (c *command) sha384(ctx context.Context, input string) error {
	if err := c.client.LoadModule(ctx, "SuiteB"); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Calling SHA-384 on %s\n", input)
	digest, err := c.client.Call(ctx, "sha384", cryptol.Opaque(input))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "0x%s\n", digest.Hex())
	return nil
}
