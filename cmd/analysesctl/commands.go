package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/animus-labs/analyses-go/internal/catalog"
	"github.com/animus-labs/analyses-go/internal/domain"
	"github.com/animus-labs/analyses-go/internal/engine"
	"github.com/animus-labs/analyses-go/internal/repo"
)

// cliOptions are the persistent flags shared by every subcommand. Empty
// values fall back to the ANALYSES_* environment.
type cliOptions struct {
	store      string
	badgerPath string
	catalog    string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           "analysesctl",
		Short:         "Declare analyses and run them with memoized results",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.store, "store", "", "store backend: postgres, badger or memory (default $ANALYSES_STORE or badger)")
	root.PersistentFlags().StringVar(&opts.badgerPath, "badger-path", "", "badger data directory (default $ANALYSES_BADGER_PATH)")
	root.PersistentFlags().StringVar(&opts.catalog, "catalog", "", "catalog applied on startup; its commands become entry points (default $ANALYSES_CATALOG)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		newCatalogCmd(opts),
		newRunCmd(opts),
		newRunsCmd(opts),
		newPipelineCmd(opts),
	)
	return root
}

func (o *cliOptions) open(ctx context.Context, cmd *cobra.Command) (*engine.Engine, error) {
	cfg, err := engine.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if o.store != "" {
		cfg.Store = strings.ToLower(strings.TrimSpace(o.store))
	}
	if o.badgerPath != "" {
		cfg.BadgerPath = o.badgerPath
	}
	if o.catalog != "" {
		cfg.CatalogPath = o.catalog
	}

	var w io.Writer = io.Discard
	if o.verbose {
		w = cmd.ErrOrStderr()
	}
	return engine.Open(ctx, cfg, engine.WithLogger(slog.New(slog.NewTextHandler(w, nil))))
}

func newCatalogCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "catalog", Short: "Validate and apply catalog files"}

	var file string
	apply := &cobra.Command{
		Use:   "apply -f catalog.yaml",
		Short: "Declare every analysis, version and pipeline of a catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := catalog.Load(file)
			if err != nil {
				return err
			}
			e, err := opts.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			report, err := e.ApplyCatalog(cmd.Context(), c)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	apply.Flags().StringVarP(&file, "file", "f", "", "catalog file")
	_ = apply.MarkFlagRequired("file")

	var validateFile string
	validate := &cobra.Command{
		Use:   "validate -f catalog.yaml",
		Short: "Check a catalog without touching the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := catalog.Load(validateFile)
			if err != nil {
				return err
			}
			versions := 0
			for _, a := range c.Analyses {
				versions += len(a.Versions)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "catalog ok: %d analyses, %d versions, %d pipelines\n", len(c.Analyses), versions, len(c.Pipelines))
			return nil
		},
	}
	validate.Flags().StringVarP(&validateFile, "file", "f", "", "catalog file")
	_ = validate.MarkFlagRequired("file")

	cmd.AddCommand(apply, validate)
	return cmd
}

func newRunCmd(opts *cliOptions) *cobra.Command {
	var (
		version string
		sets    []string
	)
	cmd := &cobra.Command{
		Use:   "run <analysis>",
		Short: "Return the run for the given inputs, executing it only when needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := parseSets(sets)
			if err != nil {
				return err
			}
			e, err := opts.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			v, err := e.Analyses.Resolve(cmd.Context(), args[0], version)
			if err != nil {
				return err
			}
			res, err := e.Runs.GetOrExecute(cmd.Context(), v.ID, inputs)
			if err != nil && res.Run.ID == "" {
				return err
			}
			if werr := writeJSON(cmd.OutOrStdout(), runView(res.Run, res.Reused)); werr != nil {
				return werr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "version title (default "+domain.DefaultVersionTitle+")")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "input value as key=value (repeatable)")
	return cmd
}

func newRunsCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "runs", Short: "Inspect recorded runs"}

	var (
		versionID string
		status    string
		limit     int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			items, err := e.Runs.List(cmd.Context(), repo.RunFilter{
				AnalysisVersionID: versionID,
				Status:            domain.NormalizeRunStatus(status),
				Limit:             limit,
			})
			if err != nil {
				return err
			}
			out := make([]map[string]any, 0, len(items))
			for _, item := range items {
				out = append(out, runView(item, false))
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	list.Flags().StringVar(&versionID, "version-id", "", "filter by analysis version id")
	list.Flags().StringVar(&status, "status", "", "filter by status")
	list.Flags().IntVar(&limit, "limit", 50, "maximum number of runs")

	cmd.AddCommand(list)
	return cmd
}

func newPipelineCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "pipeline", Short: "Inspect and execute pipelines"}

	var sets []string
	run := &cobra.Command{
		Use:   "run <title>",
		Short: "Execute a pipeline in dependency order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := parseNodeSets(sets)
			if err != nil {
				return err
			}
			e, err := opts.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			p, err := e.Pipelines.GetByTitle(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("pipeline %q: %w", args[0], err)
			}
			exec, err := e.Pipelines.Execute(cmd.Context(), p.ID, inputs)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), exec); err != nil {
				return err
			}
			if !exec.Succeeded() {
				return fmt.Errorf("pipeline %q did not succeed", p.Title)
			}
			return nil
		},
	}
	run.Flags().StringArrayVar(&sets, "set", nil, "node input as node.key=value (repeatable)")

	entry := &cobra.Command{
		Use:   "entry-nodes <title>",
		Short: "List the nodes no pipe feeds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			p, err := e.Pipelines.GetByTitle(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("pipeline %q: %w", args[0], err)
			}
			nodes, err := e.Pipelines.EntryNodes(cmd.Context(), p.ID)
			if err != nil {
				return err
			}
			for _, n := range nodes {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", n.ID, n.Name)
			}
			return nil
		},
	}

	cmd.AddCommand(run, entry)
	return cmd
}

// parseSets turns key=value pairs into raw inputs. Values are read as YAML
// scalars or flow sequences, so 10 is an integer and [a, b] a list.
func parseSets(sets []string) (map[string]any, error) {
	out := make(map[string]any, len(sets))
	for _, s := range sets {
		key, raw, ok := strings.Cut(s, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("--set %q: want key=value", s)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("--set %s: %w", key, err)
		}
		if v == nil {
			v = raw
		}
		out[key] = v
	}
	return out, nil
}

func parseNodeSets(sets []string) (map[string]map[string]any, error) {
	flat, err := parseSets(sets)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]any)
	for k, v := range flat {
		node, key, ok := strings.Cut(k, ".")
		if !ok || node == "" || key == "" {
			return nil, fmt.Errorf("--set %q: want node.key=value", k)
		}
		if out[node] == nil {
			out[node] = map[string]any{}
		}
		out[node][key] = v
	}
	return out, nil
}

func runView(r domain.Run, reused bool) map[string]any {
	view := map[string]any{
		"run_id":             r.ID,
		"version_id":         r.AnalysisVersionID,
		"configuration_hash": r.ConfigurationHash,
		"attempt":            r.Attempt,
		"status":             string(r.Status),
		"reused":             reused,
		"inputs":             r.Configuration().Interface(),
		"outputs":            r.Results().Interface(),
		"started_at":         r.StartedAt,
	}
	if r.Error != nil {
		view["error"] = r.Error
	}
	return view
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
