package cli

import (
	"fmt"

	"github.com/asaidimu/go-pocketdb/core/document"
	"github.com/asaidimu/go-pocketdb/core/persistence"
	"github.com/asaidimu/go-pocketdb/core/query"
	"github.com/asaidimu/go-pocketdb/utils"
	"github.com/spf13/cobra"
)

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &query.Options{}

	cmd := &cobra.Command{
		Use:   "find <collection> [filter-json]",
		Short: "Print records matching a filter",
		Long: `Print the records of a collection matching a JSON filter, for example
'{"age": {"$gte": 21}}'. Without a filter every record is printed.`,
		Args:         cobra.RangeArgs(1, 2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := filterArg(args)
			if err != nil {
				return err
			}
			s, c, err := rootOpts.collection(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			docs, err := c.Find(cmd.Context(), q, opts)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), docs)
		},
	}

	cmd.Flags().StringVar(&opts.Sort, "sort", "", "sort field, prefix with - for descending")
	cmd.Flags().IntVar(&opts.Skip, "skip", 0, "number of results to skip")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of results (0 for all)")

	return cmd
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "count <collection> [filter-json]",
		Short:        "Count records matching a filter",
		Args:         cobra.RangeArgs(1, 2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := filterArg(args)
			if err != nil {
				return err
			}
			s, c, err := rootOpts.collection(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := c.Count(cmd.Context(), q, nil)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
			return err
		},
	}
}

// NewInsertCommand creates the insert command.
func NewInsertCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "insert <collection> <json-array>",
		Short:        "Insert records and print them with their ids",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var records []document.Document
			if err := utils.DecodeJSON([]byte(args[1]), &records); err != nil {
				return fmt.Errorf("%w: records must be a JSON array of objects: %w", persistence.ErrInvalidInput, err)
			}
			for i, record := range records {
				records[i] = document.Normalize(record)
			}
			s, c, err := rootOpts.collection(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			created, err := c.InsertMany(cmd.Context(), records)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), created)
		},
	}
}

// NewDropCommand creates the drop command.
func NewDropCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "drop <collection>",
		Short:        "Delete a collection and its stored data",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := rootOpts.collection(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.db.RemoveCollection(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "dropped %s\n", args[0])
			return err
		},
	}
}

// filterArg turns the optional second argument into a query. A missing filter
// selects every record.
func filterArg(args []string) (query.Query, error) {
	if len(args) < 2 {
		return query.All(), nil
	}
	f, err := query.ParseFilter([]byte(args[1]))
	if err != nil {
		return query.Query{}, fmt.Errorf("%w: %w", persistence.ErrInvalidInput, err)
	}
	return query.Where(f), nil
}
