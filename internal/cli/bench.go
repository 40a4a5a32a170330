package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/asaidimu/go-pocketdb/core/document"
	"github.com/asaidimu/go-pocketdb/core/persistence"
	"github.com/asaidimu/go-pocketdb/core/query"
	"github.com/spf13/cobra"
)

const (
	benchCollection = "documents"
	defaultBenchN   = 1000
)

// NewBenchCommand creates the bench command.
func NewBenchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bench [n]",
		Short: "Time the collection verbs over n generated records",
		Long: `Insert n generated records into a scratch collection, time each
collection verb against them, report the stored size and drop the collection.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			n := defaultBenchN
			if len(args) == 1 {
				v, err := strconv.Atoi(args[0])
				if err != nil || v < 1 {
					return fmt.Errorf("%w: record count must be a positive integer, got %q", persistence.ErrInvalidInput, args[0])
				}
				n = v
			}

			s, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			return runBench(cmd.Context(), s.db, n, cmd.OutOrStdout())
		},
	}
}

type benchStep struct {
	name string
	run  func(ctx context.Context, c *persistence.Collection) error
}

func benchSteps(n int) []benchStep {
	records := make([]document.Document, n)
	for i := range records {
		records[i] = document.Document{
			"title":     fmt.Sprintf("PocketDB FTW %d", i+1),
			"published": fmt.Sprintf("today %d", i+1),
			"rating":    fmt.Sprintf("5 stars %d", i+1),
		}
	}

	target := (n + 1) / 2
	ids := map[int64]struct{}{int64(target - 1): {}, int64(target): {}, int64(target + 1): {}}
	byID := query.Func(func(doc document.Document) bool {
		id, _ := doc.ID()
		_, ok := ids[id]
		return ok
	})
	byFilter := query.Where(query.Filter{"published": fmt.Sprintf("today %d", target)})
	sorted := &query.Options{Sort: "rating"}
	patch := document.Document{"published": fmt.Sprintf("tomorrow %d", target)}

	find := func(q query.Query, opts *query.Options) func(context.Context, *persistence.Collection) error {
		return func(ctx context.Context, c *persistence.Collection) error {
			_, err := c.Find(ctx, q, opts)
			return err
		}
	}
	findOne := func(q query.Query, opts *query.Options) func(context.Context, *persistence.Collection) error {
		return func(ctx context.Context, c *persistence.Collection) error {
			_, err := c.FindOne(ctx, q, opts)
			return err
		}
	}

	return []benchStep{
		{"insertMany()", func(ctx context.Context, c *persistence.Collection) error {
			_, err := c.InsertMany(ctx, records)
			return err
		}},
		{"find()", find(query.All(), nil)},
		{"find(fn)", find(byID, nil)},
		{"find({query})", find(byFilter, nil)},
		{"find({}, {sort})", find(query.All(), sorted)},
		{"findOne()", findOne(query.All(), nil)},
		{"findOne(fn)", findOne(byID, nil)},
		{"findOne({query})", findOne(byFilter, nil)},
		{"findOne({}, {sort})", findOne(query.All(), sorted)},
		{"count()", func(ctx context.Context, c *persistence.Collection) error {
			_, err := c.Count(ctx, query.All(), nil)
			return err
		}},
		{"updateOne({query}, {update})", func(ctx context.Context, c *persistence.Collection) error {
			_, err := c.UpdateOne(ctx, query.Where(query.Filter{"id": target}), patch)
			return err
		}},
		{"removeOne({query})", func(ctx context.Context, c *persistence.Collection) error {
			_, err := c.RemoveOne(ctx, query.Where(query.Filter{"id": 1}))
			return err
		}},
		{"insertOne()", func(ctx context.Context, c *persistence.Collection) error {
			_, err := c.InsertOne(ctx, records[0])
			return err
		}},
	}
}

func runBench(ctx context.Context, db *persistence.Database, n int, w io.Writer) error {
	c, err := db.LoadCollection(ctx, benchCollection)
	if err != nil {
		return err
	}
	if count, err := c.Count(ctx, query.All(), nil); err != nil {
		return err
	} else if count > 0 {
		return fmt.Errorf("%w: collection %q already holds %d records", persistence.ErrCollectionExists, benchCollection, count)
	}

	fmt.Fprintf(w, "--- Test for %d documents ---\n", n)
	for _, step := range benchSteps(n) {
		start := time.Now()
		if err := step.run(ctx, c); err != nil {
			return fmt.Errorf("bench step %s failed: %w", step.name, err)
		}
		fmt.Fprintf(w, "collection.%s: %s\n", step.name, time.Since(start))
	}

	if info, err := os.Stat(c.Path()); err == nil {
		fmt.Fprintf(w, "File size before deletion : %.6f MB\n", float64(info.Size())/1e6)
	}

	start := time.Now()
	if err := db.RemoveCollection(ctx, benchCollection); err != nil {
		return err
	}
	fmt.Fprintf(w, "db.removeCollection(): %s\n", time.Since(start))
	fmt.Fprintf(w, "--- Test for %d documents ---\n", n)
	return nil
}
