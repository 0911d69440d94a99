/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomoncle/tablelab"
	"github.com/tomoncle/tablelab/database"
	"github.com/tomoncle/tablelab/query"
	"github.com/tomoncle/tablelab/types"
	"github.com/tomoncle/tablelab/utils"
)

var (
	configFile string
	envPrefix  string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:           "tablelab",
	Short:         "Inspect and search tables through the tablelab access layer",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		utils.ConfigureConsoleLogFormat(logFormat)
		utils.ConfigureLogLevel(logLevel)
		utils.ConfigureLogOutput(os.Stderr)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (yaml, json or toml)")
	flags.StringVar(&envPrefix, "env-prefix", "TABLELAB_", "prefix of environment overrides")
	flags.StringVar(&logLevel, "log-level", utils.EnvDefaultString("LOG_LEVEL", "warn"), "log level")
	flags.StringVar(&logFormat, "log-format", "text", "console log format: text or json")

	rootCmd.AddCommand(
		tablesCmd(),
		viewsCmd(),
		columnsCmd(),
		entriesCmd(),
		schemaCmd(),
		searchCmd(),
		aggregateCmd("mode", "Most frequent value of a column", (*tablelab.Table[types.Fields]).Mode),
		aggregateCmd("mean", "Average of a numeric column", (*tablelab.Table[types.Fields]).Mean),
		migrateCmd(),
		healthCmd(),
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if cerr := database.CloseDB(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context) (*database.Store, error) {
	cfg, err := database.LoadConfig(configFile, envPrefix)
	if err != nil {
		return nil, err
	}
	return database.InitDB(ctx, cfg)
}

// openTable binds the generic Fields mapper to table.
func openTable(ctx context.Context, desc types.Descriptor) (*tablelab.Table[types.Fields], error) {
	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	return tablelab.New(store, desc, types.FieldsMapper())
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(v)
}

func printLines(items []string) {
	for _, s := range items {
		fmt.Println(s)
	}
}

func tablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			names, err := store.ListTables(cmd.Context())
			if err != nil {
				return err
			}
			printLines(names)
			return nil
		},
	}
}

func viewsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "views",
		Short: "List views",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			names, err := store.ListViews(cmd.Context())
			if err != nil {
				return err
			}
			printLines(names)
			return nil
		},
	}
}

func columnsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "columns TABLE",
		Short: "List the columns of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			cols, err := store.ListColumns(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printLines(cols)
			return nil
		},
	}
}

func entriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entries TABLE",
		Short: "Count the rows of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := openTable(cmd.Context(), types.Descriptor{Table: args[0]})
			if err != nil {
				return err
			}
			n, err := t.Entries(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		},
	}
}

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print every table and view with its columns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			t, err := tablelab.New(store, types.Descriptor{Table: "schema"}, types.FieldsMapper())
			if err != nil {
				return err
			}
			text, err := t.Schema(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Print(text)
			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	var (
		s          query.Search
		desc       types.Descriptor
		start, end int64
		page, size int
	)
	cmd := &cobra.Command{
		Use:   "search TABLE",
		Short: "Search a table and print matching rows as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			desc.Table = args[0]
			if !cmd.Flags().Changed("columns") {
				s.SearchColumns = nil
			}
			if cmd.Flags().Changed("start") || cmd.Flags().Changed("end") {
				if end == 0 {
					end = time.Now().UnixMilli()
				}
				s.Range = types.NewTimeRange(time.UnixMilli(start), time.UnixMilli(end))
			}

			t, err := openTable(ctx, desc)
			if err != nil {
				return err
			}
			if page > 0 {
				result, err := t.Page(ctx, s, types.NewPageRequest(page, size))
				if err != nil {
					return err
				}
				return printJSON(result)
			}
			rows, err := t.Select(ctx, s)
			if err != nil {
				return err
			}
			for _, r := range rows {
				if err := printJSON(r); err != nil {
					return err
				}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&s.SearchColumns, "columns", nil, "columns to match the query against")
	f.StringVarP(&s.Query, "query", "q", "", "search text")
	f.BoolVar(&s.Exact, "exact", false, "require equality on every column instead of a substring on any")
	f.Int64Var(&s.ID, "id", 0, "look up a single key, ignoring other filters")
	f.BoolVar(&s.OrderByTime, "order-by-time", false, "order by the time column instead of alphabetically")
	f.BoolVar(&s.Ascending, "asc", false, "ascending order")
	f.StringVar(&desc.OrderColumn, "order-column", "", "column for alphabetical ordering")
	f.StringVar(&desc.TimeColumn, "time-column", types.CreatedColumn, "column holding Unix-millisecond timestamps")
	f.StringVar(&s.GroupBy, "group-by", "", "GROUP BY expression")
	f.StringVar(&s.Having, "having", "", "HAVING expression")
	f.IntVar(&s.Limit, "limit", 0, "maximum rows")
	f.Int64Var(&start, "start", 0, "range start, Unix ms, exclusive")
	f.Int64Var(&end, "end", 0, "range end, Unix ms, exclusive (now when omitted)")
	f.IntVar(&page, "page", 0, "1-based page to print with the total count")
	f.IntVar(&size, "page-size", 10, "rows per page")
	return cmd
}

type aggregateFunc func(t *tablelab.Table[types.Fields], ctx context.Context, table, column string) (types.Fields, error)

func aggregateCmd(use, short string, fn aggregateFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " TABLE COLUMN",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := openTable(cmd.Context(), types.Descriptor{Table: args[0]})
			if err != nil {
				return err
			}
			out, err := fn(t, cmd.Context(), "", args[1])
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the tables declared in the schema file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := openStore(cmd.Context()); err != nil {
				return err
			}
			if err := database.RunMigrations(cmd.Context()); err != nil {
				return err
			}
			applied, err := database.NewMigrationManager(database.GetDatabaseManager().GetDB(), database.GetLogger()).
				GetAppliedMigrations(cmd.Context())
			if err != nil {
				return err
			}
			for _, v := range applied {
				fmt.Printf("%s\tv%d\t%s\n", v.Name, v.Version, v.AppliedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the database connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := openStore(cmd.Context()); err != nil {
				return err
			}
			return printJSON(database.GetHealthStatus(cmd.Context()))
		},
	}
}
