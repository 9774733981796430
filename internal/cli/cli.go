// Package cli wires the cobra command tree: usage-script, tree, config
// and version. Generated scripts go to stdout, diagnostics to stderr.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/scigolib/nwbinfo"
	"github.com/scigolib/nwbinfo/internal/config"
	"github.com/scigolib/nwbinfo/internal/logging"
	"github.com/scigolib/nwbinfo/internal/nwb"
)

// Version carries build information injected through ldflags.
type Version struct {
	Version string
	Commit  string
	Date    string
}

type rootFlags struct {
	configFile string
	verbose    bool
	logFormat  string
}

type targetFlags struct {
	timeout   time.Duration
	blockSize int64
	diskCache bool
	cacheDir  string
	dandiAPI  string
	auth      bool
}

// New builds the command tree.
func New(v Version) *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "nwbinfo",
		Short:         "Inspect NWB files and generate Python usage scripts",
		Long:          "nwbinfo reads NWB (Neurodata Without Borders) files - local, remote,\nLINDI-indexed or DANDI-referenced - and prints Python code showing how\nto load and access their contents with PyNWB.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "config file (default ~/.config/nwbinfo/config.yaml)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")
	pf.StringVar(&flags.logFormat, "log-format", "", "log format: text or json")

	usage := newUsageScriptCmd(flags, "usage-script")
	root.AddCommand(usage)
	alias := newUsageScriptCmd(flags, "ai-usage-script")
	alias.Hidden = true
	root.AddCommand(alias)

	root.AddCommand(newTreeCmd(flags))
	root.AddCommand(newConfigCmd(flags))
	root.AddCommand(newVersionCmd(v))
	return root
}

// Execute runs the CLI, printing failures as one-line errors.
func Execute(v Version) int {
	if err := New(v).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func addTargetFlags(cmd *cobra.Command, tf *targetFlags) {
	f := cmd.Flags()
	f.DurationVar(&tf.timeout, "timeout", 0, "HTTP timeout (overrides config)")
	f.Int64Var(&tf.blockSize, "block-size", 0, "remote fetch block size in bytes")
	f.BoolVar(&tf.diskCache, "disk-cache", false, "cache fetched blocks on disk")
	f.StringVar(&tf.cacheDir, "cache-dir", "", "disk cache directory")
	f.StringVar(&tf.dandiAPI, "dandi-api", "", "DANDI API base URL")
	f.BoolVar(&tf.auth, "auth", false, "authenticate against the DANDI API")
}

// settings merges config file, environment and command-line flags.
func settings(cmd *cobra.Command, rf *rootFlags, tf *targetFlags) (config.Settings, error) {
	path := rf.configFile
	if path == "" {
		if p, err := config.DefaultPath(); err == nil {
			path = p
		}
	}
	s, err := config.Load(path)
	if err != nil {
		return config.Settings{}, err
	}

	if rf.verbose {
		s.Log.Level = logging.LevelDebug
	}
	if rf.logFormat != "" {
		s.Log.Format = rf.logFormat
	}
	if tf != nil {
		if tf.timeout > 0 {
			s.HTTP.Timeout = tf.timeout
		}
		if tf.blockSize > 0 {
			s.Remote.BlockSize = tf.blockSize
		}
		if cmd.Flags().Changed("disk-cache") {
			s.Remote.DiskCache = tf.diskCache
		}
		if tf.cacheDir != "" {
			s.Remote.CacheDir = tf.cacheDir
		}
		if tf.dandiAPI != "" {
			s.Dandi.APIURL = tf.dandiAPI
		}
		if tf.auth && s.Dandi.APIKey == "" {
			key, err := promptAPIKey(cmd)
			if err != nil {
				return config.Settings{}, err
			}
			s.Dandi.APIKey = key
		}
	}
	return s, s.Validate()
}

// promptAPIKey reads a DANDI API key without echo when stdin is a
// terminal; otherwise NWBINFO_DANDI_API_KEY must carry it.
func promptAPIKey(cmd *cobra.Command) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("--auth requires a terminal; set NWBINFO_DANDI_API_KEY instead")
	}
	fmt.Fprint(cmd.ErrOrStderr(), "DANDI API key: ")
	key, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read API key: %w", err)
	}
	return string(key), nil
}

func newUsageScriptCmd(rf *rootFlags, name string) *cobra.Command {
	tf := &targetFlags{}
	cmd := &cobra.Command{
		Use:   name + " <target>",
		Short: "Generate a Python script showing how to load an NWB file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings(cmd, rf, tf)
			if err != nil {
				return err
			}
			logger := logging.New(logging.Config{Level: s.Log.Level, Format: s.Log.Format, Output: cmd.ErrOrStderr()})

			out, err := nwbinfo.UsageScript(cmd.Context(), args[0],
				nwbinfo.WithSettings(s), nwbinfo.WithLogger(logger))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	addTargetFlags(cmd, tf)
	return cmd
}

func newTreeCmd(rf *rootFlags) *cobra.Command {
	tf := &targetFlags{}
	cmd := &cobra.Command{
		Use:   "tree <target>",
		Short: "List the structure of an NWB file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings(cmd, rf, tf)
			if err != nil {
				return err
			}
			logger := logging.New(logging.Config{Level: s.Log.Level, Format: s.Log.Format, Output: cmd.ErrOrStderr()})

			f, err := nwbinfo.Open(cmd.Context(), args[0],
				nwbinfo.WithSettings(s), nwbinfo.WithLogger(logger))
			if err != nil {
				return err
			}
			defer f.Close()

			return f.Tree(func(e nwb.TreeEntry) error {
				line := e.Path
				if e.Kind == "dataset" {
					line += fmt.Sprintf("  (dataset, shape %v, dtype %s)", e.Shape, e.Dtype)
				} else {
					line += "  (group)"
				}
				if e.TypeName != "" {
					line += " [" + e.TypeName + "]"
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
				return nil
			})
		},
	}
	addTargetFlags(cmd, tf)
	return cmd
}

func newConfigCmd(rf *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the nwbinfo configuration file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := rf.configFile
			if path == "" {
				var err error
				path, err = config.DefaultPath()
				if err != nil {
					return err
				}
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config file already exists at %s", path)
			}
			if err := config.Default().WriteFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := settings(cmd, rf, nil)
			if err != nil {
				return err
			}
			out, err := s.YAML()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	})

	return cmd
}

func newVersionCmd(v Version) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nwbinfo %s (commit %s, built %s)\n", v.Version, v.Commit, v.Date)
		},
	}
}
