package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lanternai/lantern/internal/db"
	"github.com/lanternai/lantern/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage stored sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(func(ctx context.Context, mgr *session.Manager) error {
			sessions, err := mgr.List(ctx)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			for _, s := range sessions {
				title := s.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Printf("%s  %-10s  %6d tokens  %s\n", s.ID, s.Status, s.Usage.Total(), title)
			}
			return nil
		})
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session's turns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(func(ctx context.Context, mgr *session.Manager) error {
			turns, err := mgr.Turns(ctx, args[0])
			if err != nil {
				return err
			}
			for i, t := range turns {
				kind := ""
				if t.IsSummary() {
					kind = " [summary]"
				}
				fmt.Printf("--- turn %d%s (%d tokens)\n", i+1, kind, t.Usage.Total())
				for _, m := range t.Messages {
					if text := m.Text(); text != "" {
						fmt.Printf("%s: %s\n", m.Role, text)
					}
				}
			}
			return nil
		})
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session and its turns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(func(ctx context.Context, mgr *session.Manager) error {
			if err := mgr.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println("deleted", args[0])
			return nil
		})
	},
}

func withSessions(fn func(ctx context.Context, mgr *session.Manager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, err := db.Open(cfg.DBPath())
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(context.Background(), session.NewManager(conn, 0))
}

func renderYAML(v any) (string, error) {
	out, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func init() {
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionDeleteCmd)
}
