package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bi0dread/sieve"
)

// RootOptions holds the flags shared by all commands.
type RootOptions struct {
	Config  string
	Input   string // "fq" | "json" | "xml"
	Verbose bool

	logger *slog.Logger
}

var validInputs = []string{"fq", "json", "xml"}

// NewRootCommand creates the sieve command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sieve",
		Short: "Compile search conditions into backend queries",
		Long: `sieve reads a search condition as FilterQuery text, JSON or XML,
validates it against a field set described in a YAML file and prints it
normalized, exported or compiled for a backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !contains(validInputs, opts.Input) {
				return fmt.Errorf("invalid input format %q: must be one of %v", opts.Input, validInputs)
			}
			level := slog.LevelWarn
			if opts.Verbose {
				level = slog.LevelDebug
			}
			opts.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "sieve.yaml", "field set configuration")
	cmd.PersistentFlags().StringVarP(&opts.Input, "input", "i", "fq", "input format (fq|json|xml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log normalization details to stderr")

	cmd.AddCommand(NewNormalizeCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewCompileCommand(opts))

	return cmd
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// session is the loaded configuration of one command run.
type session struct {
	cfg  *Config
	fs   *sieve.FieldSet
	opts *RootOptions
}

func newSession(opts *RootOptions) (*session, error) {
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return nil, err
	}
	fs, err := cfg.FieldSet()
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, fs: fs, opts: opts}, nil
}

// readQuery returns the query argument, or stdin when it is missing or "-".
func readQuery(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read query: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *session) process(input string) (*sieve.SearchCondition, error) {
	pc := s.cfg.processorConfig()
	pc.Logger = s.opts.logger
	p := sieve.NewProcessor(s.fs, pc)
	switch s.opts.Input {
	case "json":
		return p.ProcessJSON([]byte(input))
	case "xml":
		return p.ProcessXML([]byte(input))
	}
	return p.Process(input)
}

func (s *session) load(cmd *cobra.Command, args []string) (*sieve.SearchCondition, error) {
	q, err := readQuery(cmd, args)
	if err != nil {
		return nil, err
	}
	return s.process(q)
}
