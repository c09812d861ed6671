// streamfs-cksum manages the checksum sidecars of files in a streamfs store.
//
// It opens the store the same way the gateway does (configuration file,
// STREAMFS_* environment, optional storage URI) and runs one command:
//
//	streamfs-cksum [flags] calc <path> [algorithm]
//	streamfs-cksum [flags] get <path> [algorithm]
//	streamfs-cksum [flags] set <path> <algorithm> <value>
//	streamfs-cksum [flags] del <path>
//	streamfs-cksum [flags] verify <path> <algorithm> <value>
//	streamfs-cksum [flags] list <path>
//	streamfs-cksum [flags] put <local-file> <path>
//	streamfs-cksum [flags] rm <path>
//	streamfs-cksum names
//
// Exit status is 0 on success, 1 when a command fails or verify finds a
// mismatch, and 2 on usage errors.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/objectfs/streamfs/internal/adapter"
	"github.com/objectfs/streamfs/internal/config"
	"github.com/objectfs/streamfs/pkg/types"
	"github.com/objectfs/streamfs/pkg/utils"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
	programName = "streamfs-cksum"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	configPath string
	storage    string
	user       string
	group      string
	logLevel   string
	logFormat  string
	noStore    bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts options
	flagSet := pflag.NewFlagSet(programName, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML configuration file")
	flagSet.StringVar(&opts.storage, "storage", "", "storage URI overriding the configured backend (s3://bucket/prefix, file:///dir, mem://)")
	flagSet.StringVarP(&opts.user, "user", "u", currentUser(), "identity the backend connection is opened for")
	flagSet.StringVar(&opts.group, "group", "", "group of the identity")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "log level (DEBUG, INFO, WARN, ERROR); overrides the configuration")
	flagSet.StringVar(&opts.logFormat, "log-format", "", "log format (text, json); overrides the configuration")
	flagSet.BoolVar(&opts.noStore, "no-store", false, "calc: do not write computed checksums to the sidecar")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printHelp(stderr, flagSet)
			return exitOK
		}
		return exitUsage
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return exitOK
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printHelp(stderr, flagSet)
		return exitUsage
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "error: unknown command %q\n", rest[0])
		return exitUsage
	}
	cmdArgs := rest[1:]
	if len(cmdArgs) < cmd.minArgs || len(cmdArgs) > cmd.maxArgs {
		fmt.Fprintf(stderr, "usage: %s %s %s\n", programName, rest[0], cmd.usage)
		return exitUsage
	}

	// names needs no store
	if cmd.offline {
		if err := cmd.run(ctx, nil, cmdArgs, stdout); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return exitFailure
		}
		return exitOK
	}

	env, cleanup, err := setup(ctx, opts, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFailure
	}
	defer cleanup()

	if err := cmd.run(ctx, env, cmdArgs, stdout); err != nil {
		if err == errMismatch {
			return exitFailure
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFailure
	}
	return exitOK
}

// setup loads configuration and assembles the data path.
func setup(ctx context.Context, opts options, stderr io.Writer) (*environment, func(), error) {
	cfg := config.NewDefault()
	if opts.configPath != "" {
		if err := cfg.LoadFromFile(opts.configPath); err != nil {
			return nil, nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, nil, err
	}
	if opts.logLevel != "" {
		cfg.Global.LogLevel = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Global.LogFormat = opts.logFormat
	}
	// one-shot runs never serve metrics
	cfg.Monitoring.Metrics.Enabled = false

	maxSize := int64(0)
	if cfg.Global.LogMaxSize != "" {
		n, err := utils.ParseBytes(cfg.Global.LogMaxSize)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid global.log_max_size: %w", err)
		}
		maxSize = n >> 20
	}
	logger, logCloser, err := utils.NewLogger(utils.LogOptions{
		Level:      cfg.Global.LogLevel,
		Format:     cfg.Global.LogFormat,
		File:       cfg.Global.LogFile,
		MaxSizeMB:  maxSize,
		MaxBackups: cfg.Global.LogMaxBackups,
	}, stderr)
	if err != nil {
		return nil, nil, err
	}

	a, err := adapter.New(ctx, opts.storage, cfg, logger)
	if err != nil {
		_ = logCloser.Close()
		return nil, nil, err
	}

	env := &environment{
		adapter: a,
		id:      types.Identity{User: opts.user, Group: opts.group},
		store:   !opts.noStore,
		defAlg:  cfg.Checksum.DefaultAlgorithm,
	}
	cleanup := func() {
		if err := a.Close(); err != nil {
			logger.Warn("Failed to close backends", "error", err)
		}
		_ = logCloser.Close()
	}
	return env, cleanup, nil
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "nobody"
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `%s manages checksum sidecars in a streamfs store.

Usage:
  %s [flags] <command> [arguments]

Commands:
  calc <path> [algorithm]              compute a checksum (and store all of them)
  get <path> [algorithm]               print a stored checksum
  set <path> <algorithm> <value>       store a checksum
  del <path>                           delete the sidecar of path
  verify <path> <algorithm> <value>    compare against the stored checksum
  list <path>                          list stored algorithm names
  put <local-file> <path>              copy a local file in, recording checksums
  rm <path>                            remove path and its sidecar
  names                                list supported algorithms

The algorithm defaults to checksum.default_algorithm.

Examples:
  %s --storage s3://physics-data/store calc /atlas/run1.root adler32
  %s -c /etc/streamfs/streamfs.yaml verify /atlas/run1.root md5 d41d8cd98f00b204e9800998ecf8427e

Flags:
`, programName, programName, programName, programName)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}
