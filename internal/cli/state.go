package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ppiankov/topicrelay/internal/config"
	"github.com/ppiankov/topicrelay/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or reset saved watermarks",
	RunE:  stateListAction,
}

var stateResetCmd = &cobra.Command{
	Use:   "reset KEY",
	Short: "Forget the watermark for one source (group:topic_id)",
	Args:  cobra.ExactArgs(1),
	RunE:  stateResetAction,
}

func init() {
	stateCmd.AddCommand(stateResetCmd)
	rootCmd.AddCommand(stateCmd)
}

func openState() (*config.Config, state.Store, error) {
	cfg, err := config.Read(configPath, overrides())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	st, err := state.Open(cfg.State.Backend, cfg.State.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open state: %w", err)
	}
	return cfg, st, nil
}

func stateListAction(cmd *cobra.Command, _ []string) error {
	cfg, st, err := openState()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx := commandContext(cmd)
	marks, err := st.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if len(marks) == 0 {
		fmt.Printf("No watermarks in %s (%s).\n", cfg.State.Path, cfg.State.Backend)
		return nil
	}
	printWatermarks(ctx, os.Stdout, st, marks)
	return nil
}

func printWatermarks(ctx context.Context, w io.Writer, st state.Store, marks state.Watermarks) {
	sq, withTimes := st.(*state.SQLiteStore)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	header := table.Row{"Source", "Last message"}
	if withTimes {
		header = append(header, "Updated")
	}
	t.AppendHeader(header)

	for _, k := range marks.Keys() {
		row := table.Row{k.String(), strconv.Itoa(marks[k])}
		if withTimes {
			updated := "-"
			if at, err := sq.UpdatedAt(ctx, k); err == nil {
				updated = humanize.Time(at)
			}
			row = append(row, updated)
		}
		t.AppendRow(row)
	}
	t.Render()
}

func stateResetAction(cmd *cobra.Command, args []string) error {
	key, err := state.ParseKey(args[0])
	if err != nil {
		return err
	}

	_, st, err := openState()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx := commandContext(cmd)
	marks, err := st.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	prev, ok := marks.Get(key)
	if !ok {
		fmt.Printf("warning: no watermark recorded for %s\n", key)
		return nil
	}
	delete(marks, key)
	if err := st.Save(ctx, marks); err != nil {
		return err
	}
	fmt.Printf("Reset %s (was %d). The next sync backfills from today.\n", key, prev)
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
