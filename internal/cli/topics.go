package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ppiankov/topicrelay/internal/config"
	"github.com/ppiankov/topicrelay/internal/telegram"
)

var topicsGroup string

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List forum topics of a group, to find topic ids for the config",
	RunE:  topicsAction,
}

func init() {
	topicsCmd.Flags().StringVar(&topicsGroup, "group", "", "group username or t.me link (required)")
	rootCmd.AddCommand(topicsCmd)
}

func topicsAction(cmd *cobra.Command, _ []string) error {
	if strings.TrimSpace(topicsGroup) == "" {
		return errors.New("--group is required")
	}

	cfg, err := config.Read(configPath, overrides())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateCredentials(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := newLogger()
	defer func() { _ = log.Sync() }()

	ctx := commandContext(cmd)
	return withSession(ctx, cfg, log, func(ctx context.Context, s session) error {
		title, topics, err := s.Topics(ctx, topicsGroup)
		if err != nil {
			return err
		}
		printTopics(os.Stdout, title, topics)
		return nil
	})
}

func printTopics(w io.Writer, title string, topics []telegram.Topic) {
	fmt.Fprintf(w, "%s (%d topics)\n", title, len(topics))
	if len(topics) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Title", "Flags"})
	for _, tp := range topics {
		var flags []string
		if tp.Pinned {
			flags = append(flags, "pinned")
		}
		if tp.Closed {
			flags = append(flags, "closed")
		}
		t.AppendRow(table.Row{strconv.Itoa(tp.ID), tp.Title, strings.Join(flags, ",")})
	}
	t.Render()
}
