// Package main is the entry point for the cloudaux CLI.
//
// The CLI builds out IAM users, one at a time or for a whole account, and
// prints them as JSON. Built documents can be kept as snapshots on disk.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/anirudhbiyani/cloudaux/pkg/config"
	"github.com/anirudhbiyani/cloudaux/pkg/iam"
	"github.com/anirudhbiyani/cloudaux/pkg/orchestration"
	"github.com/anirudhbiyani/cloudaux/pkg/providers/aws"
	"github.com/anirudhbiyani/cloudaux/pkg/snapshot"
)

const version = "0.1.0"

const (
	exitError           = 1
	exitValidationError = 2
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := newApp(os.Stdout).rootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if orchestration.IsCategory(err, orchestration.ErrCategoryValidation) {
			os.Exit(exitValidationError)
		}
		os.Exit(exitError)
	}
}

// app carries CLI state shared by every command.
type app struct {
	out     io.Writer
	logger  *zap.Logger
	cfg     *config.Config
	factory aws.ClientFactory

	// flag values
	configPath  string
	verbose     bool
	flagNames   []string
	output      string
	partial     bool
	snapshotDir string
	account     string
	assumeRole  string
	region      string
	profile     string
	concurrency int
}

func newApp(out io.Writer) *app {
	return &app{out: out}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cloudaux",
		Short:         "Build out normalized IAM user documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", config.DefaultPath(), "config file")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	pf.StringSliceVar(&a.flagNames, "flags", nil, "flags to build out, e.g. ACCESS_KEYS,MFA_DEVICES (ALL, NONE)")
	pf.StringVarP(&a.output, "output", "o", "", "key style: camelized or underscored")
	pf.StringVar(&a.snapshotDir, "snapshot-dir", "", "save built documents under this directory")
	pf.StringVar(&a.account, "account", "", "target account number")
	pf.StringVar(&a.assumeRole, "assume-role", "", "role name or ARN to assume in the target account")
	pf.StringVar(&a.region, "region", "", "AWS region")
	pf.StringVar(&a.profile, "profile", "", "shared config profile")
	pf.IntVar(&a.concurrency, "concurrency", 0, "parallel IAM calls per user")

	root.AddCommand(a.userCmd(), a.usersCmd(), a.flagsCmd(), a.snapshotsCmd(), a.versionCmd())
	return root
}

// setup loads config, applies command-line overrides and builds the logger.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.output != "" {
		cfg.Output = a.output
	}
	if a.snapshotDir != "" {
		cfg.SnapshotDir = a.snapshotDir
	}
	if a.account != "" {
		cfg.Connection.AccountNumber = a.account
	}
	if a.assumeRole != "" {
		cfg.Connection.AssumeRole = a.assumeRole
	}
	if a.region != "" {
		cfg.Connection.Region = a.region
	}
	if a.profile != "" {
		cfg.Connection.Profile = a.profile
	}
	if a.concurrency != 0 {
		cfg.Concurrency = a.concurrency
	}
	if a.partial {
		cfg.PartialResults = true
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	if a.logger == nil {
		logger, err := buildLogger(cfg.Logging.Level)
		if err != nil {
			return err
		}
		a.logger = logger
	}
	if a.factory == nil {
		a.factory = aws.NewSDKFactory(aws.WithLogger(a.logger))
	}
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.Set(level); err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// libOptions maps the effective config onto library options.
func (a *app) libOptions() ([]iam.Option, error) {
	style, err := a.cfg.OutputStyle()
	if err != nil {
		return nil, err
	}
	opts := []iam.Option{
		iam.WithClientFactory(a.factory),
		iam.WithLogger(a.logger),
		iam.WithOutput(style),
		iam.WithConcurrency(a.cfg.Concurrency),
		iam.WithUserConcurrency(a.cfg.UserConcurrency),
	}
	if a.cfg.PartialResults {
		opts = append(opts, iam.WithPartialResults())
	}
	if a.cfg.SnapshotDir != "" {
		opts = append(opts, iam.WithSnapshots(snapshot.NewFileStore(a.cfg.SnapshotDir)))
	}
	return opts, nil
}

func (a *app) userCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "user <name|arn>",
		Short: "Build out one IAM user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags, err := a.selectFlags(a.cfg.UserFlags)
			if err != nil {
				return err
			}
			opts, err := a.libOptions()
			if err != nil {
				return err
			}

			user := orchestration.Document{"UserName": args[0]}
			if strings.HasPrefix(args[0], "arn:") {
				user = orchestration.Document{"Arn": args[0]}
			}
			doc, err := iam.GetUser(cmd.Context(), user, flags, a.cfg.Connection, opts...)
			if err != nil {
				return describe(err)
			}
			return a.printJSON(doc)
		},
	}
}

func (a *app) usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Build out every IAM user in the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags, err := a.selectFlags(a.cfg.BulkUserFlags)
			if err != nil {
				return err
			}
			opts, err := a.libOptions()
			if err != nil {
				return err
			}

			users, err := iam.GetAllUsers(cmd.Context(), flags, a.cfg.Connection, opts...)
			if users != nil {
				if perr := a.printJSON(users); perr != nil {
					return perr
				}
			}
			if err != nil {
				return describe(err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&a.partial, "partial", false, "keep going past per-user failures")
	return cmd
}

// selectFlags prefers --flags over the configured default.
func (a *app) selectFlags(fromConfig func() (orchestration.Flag, error)) (orchestration.Flag, error) {
	if len(a.flagNames) > 0 {
		return iam.UserFlags.Parse(a.flagNames)
	}
	return fromConfig()
}

func (a *app) flagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flags",
		Short: "List build-out flags and the keys they add",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(a.out, "%-22s %-20s %s\n", "FLAG", "KEY", "BULK DEFAULT")
			fmt.Fprintln(a.out, strings.Repeat("-", 56))
			for _, name := range iam.UserFlags.Names(iam.UserFlags.All()) {
				f := iam.UserFlags.MustFlag(name)
				key, _ := iam.UserRegistry.Key(f)
				bulk := "no"
				if iam.DefaultBulkFlags.Has(f) {
					bulk = "yes"
				}
				fmt.Fprintf(a.out, "%-22s %-20s %s\n", name, key, bulk)
			}
			return nil
		},
	}
}

func (a *app) snapshotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect saved snapshots",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <account>",
		Short: "List users with a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := a.snapshotStore().List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				fmt.Fprintln(a.out, "No snapshots found")
				return nil
			}
			for _, k := range keys {
				fmt.Fprintln(a.out, k.Name)
			}
			return nil
		},
	}, &cobra.Command{
		Use:   "show <account> <user>",
		Short: "Print one snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.snapshotStore().Get(cmd.Context(), snapshot.Key{Account: args[0], Name: args[1]})
			if err != nil {
				return err
			}
			style, err := a.cfg.OutputStyle()
			if err != nil {
				return err
			}
			return a.printJSON(orchestration.Modify(rec.Document, style))
		},
	})
	return cmd
}

func (a *app) snapshotStore() snapshot.Store {
	dir := a.cfg.SnapshotDir
	if dir == "" {
		dir = snapshot.DefaultDir()
	}
	return snapshot.NewFileStore(dir)
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(a.out, "cloudaux version %s\n", version)
			fmt.Fprintf(a.out, "  Flags: %s\n", strings.Join(iam.UserFlags.Names(iam.UserFlags.All()), ", "))
			return nil
		},
	}
}

func (a *app) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(a.out, string(data))
	return err
}

// describe adds the AWS error code to provider errors for the terminal.
func describe(err error) error {
	if code := aws.ErrorCode(err); code != "" {
		return fmt.Errorf("%s: %w", code, err)
	}
	return err
}
