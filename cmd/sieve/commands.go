package main

import (
	"fmt"
	"io"

	sq "github.com/Masterminds/squirrel"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/bi0dread/sieve"
)

// NewNormalizeCommand prints the normalized condition as FilterQuery text.
func NewNormalizeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize [query]",
		Short: "Validate and normalize a condition",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(rootOpts)
			if err != nil {
				return err
			}
			cond, err := s.load(cmd, args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sieve.ExportFilterQuery(cond))
			return nil
		},
	}
}

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	To string // "fq" | "json" | "xml"
}

// NewExportCommand converts a condition between the interchange formats.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export [query]",
		Short: "Export a condition as FilterQuery, JSON or XML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(opts.RootOptions)
			if err != nil {
				return err
			}
			cond, err := s.load(cmd, args)
			if err != nil {
				return err
			}
			return runExport(cmd.OutOrStdout(), cond, opts.To)
		},
	}

	cmd.Flags().StringVarP(&opts.To, "to", "t", "json", "output format (fq|json|xml)")

	return cmd
}

func runExport(w io.Writer, cond *sieve.SearchCondition, to string) error {
	var data []byte
	var err error
	switch to {
	case "fq":
		_, err = fmt.Fprintln(w, sieve.ExportFilterQuery(cond))
		return err
	case "json":
		data, err = sieve.ExportJSON(cond)
	case "xml":
		data, err = sieve.ExportXML(cond)
	default:
		return fmt.Errorf("invalid export format %q: must be one of [fq json xml]", to)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Target string
}

var validTargets = []string{"sql", "postgres", "oql", "elasticsearch", "mongo"}

// NewCompileCommand compiles a condition for one backend.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile [query]",
		Short: "Compile a condition into a backend query",
		Long: `Compile a condition into a backend query.

The sql and postgres targets print a complete SELECT on the configured
table followed by its arguments; oql prints the WHERE predicate with named
parameters; elasticsearch and mongo print the query document.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !contains(validTargets, opts.Target) {
				return fmt.Errorf("invalid target %q: must be one of %v", opts.Target, validTargets)
			}
			s, err := newSession(opts.RootOptions)
			if err != nil {
				return err
			}
			cond, err := s.load(cmd, args)
			if err != nil {
				return err
			}
			return s.compile(cmd.OutOrStdout(), cond, opts.Target)
		},
	}

	cmd.Flags().StringVarP(&opts.Target, "target", "t", "sql", "backend (sql|postgres|oql|elasticsearch|mongo)")

	return cmd
}

func (s *session) compile(w io.Writer, cond *sieve.SearchCondition, target string) error {
	fc := sieve.NewFieldConfig(s.fs)
	if err := s.cfg.Apply(fc); err != nil {
		return err
	}
	gopts := []sieve.GeneratorOption{sieve.WithFieldConfig(fc), sieve.WithLogger(s.opts.logger)}

	switch target {
	case "sql", "postgres":
		d := sieve.DialectSQL
		if target == "postgres" {
			d = sieve.DialectPostgres
		}
		out, err := sieve.NewSQLGenerator(cond, append(gopts, sieve.WithDialect(d))...).Generate()
		if err != nil {
			return err
		}
		return s.writeSelect(w, out, target == "postgres")
	case "oql":
		out, err := sieve.NewOQLGenerator(cond, gopts...).Generate()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, out.Predicate)
		for _, p := range out.Parameters {
			fmt.Fprintf(w, "  :%s = %v\n", p.Name, p.Value)
		}
		return nil
	case "elasticsearch":
		out, err := sieve.NewElasticsearchGenerator(cond, gopts...).Generate()
		if err != nil {
			return err
		}
		js, err := out.JSONIndent()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, js)
		return nil
	case "mongo":
		out, err := sieve.NewMongoGenerator(cond, gopts...).Generate()
		if err != nil {
			return err
		}
		doc := bson.D{{Key: "filter", Value: out.Filter}}
		if len(out.Sort) > 0 {
			doc = append(doc, bson.E{Key: "sort", Value: out.Sort})
		}
		js, err := bson.MarshalExtJSONIndent(doc, false, false, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal mongo filter: %w", err)
		}
		fmt.Fprintln(w, string(js))
		return nil
	}
	return fmt.Errorf("invalid target %q", target)
}

func (s *session) writeSelect(w io.Writer, out *sieve.SQLCondition, dollar bool) error {
	table := s.cfg.Table
	if table == "" {
		table = s.fs.Name()
	}
	columns := s.cfg.Columns
	if len(columns) == 0 {
		columns = []string{"*"}
	}
	sel := sq.Select(columns...).From(table).Where(out.Sqlizer())
	for _, o := range out.OrderBy {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		sel = sel.OrderBy(o.Column + " " + dir)
	}
	if dollar {
		sel = sel.PlaceholderFormat(sq.Dollar)
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return fmt.Errorf("build select: %w", err)
	}
	fmt.Fprintln(w, query)
	for i, a := range args {
		fmt.Fprintf(w, "  $%d = %v\n", i+1, a)
	}
	return nil
}
