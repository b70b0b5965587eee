package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lanternai/lantern/internal/db"
	"github.com/lanternai/lantern/internal/memory"
)

var memoryTags []string

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Search and manage the memory store",
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search archival memory",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(func(ctx context.Context, store *memory.Store) error {
			results, err := store.Search(ctx, strings.Join(args, " "), 0)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("no matches")
				return nil
			}
			for _, r := range results {
				tags := ""
				if len(r.Tags) > 0 {
					tags = " [" + strings.Join(r.Tags, ", ") + "]"
				}
				fmt.Printf("%s%s\n  %s\n", r.ID, tags, r.Text)
			}
			return nil
		})
	},
}

var memorySaveCmd = &cobra.Command{
	Use:   "save <text>",
	Short: "Save an archival memory",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(func(ctx context.Context, store *memory.Store) error {
			rec, err := store.Save(ctx, strings.Join(args, " "), memoryTags)
			if err != nil {
				return err
			}
			fmt.Println("saved", rec.ID)
			return nil
		})
	},
}

var memoryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(func(ctx context.Context, store *memory.Store) error {
			st, err := store.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("current: %d\nsuperseded: %d\n", st.Current, st.Superseded)
			return nil
		})
	},
}

func withMemory(fn func(ctx context.Context, store *memory.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, err := db.Open(cfg.DBPath())
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(context.Background(), memory.NewStore(conn))
}

func init() {
	memorySaveCmd.Flags().StringSliceVar(&memoryTags, "tag", nil, "tag to attach (repeatable)")
	memoryCmd.AddCommand(memorySearchCmd, memorySaveCmd, memoryStatsCmd)
}
