package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/topicrelay/internal/config"
	"github.com/ppiankov/topicrelay/internal/relay"
	"github.com/ppiankov/topicrelay/internal/state"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check config, state, and Telegram session",
	RunE:  doctorAction,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	ok := true

	cfg, err := config.Read(configPath, overrides())
	if err != nil {
		printCheck(false, "%s: %v", configPath, err)
		return fmt.Errorf("some checks failed")
	}
	printCheck(true, "%s", configPath)

	if err := cfg.ValidateCredentials(); err != nil {
		printCheck(false, "telegram credentials: %v", err)
		ok = false
	} else {
		printCheck(true, "telegram credentials (api id %d)", cfg.Telegram.APIID)
	}

	plan, err := relay.PlanSources(cfg.Sources)
	if err != nil {
		printCheck(false, "sources: %v", err)
		ok = false
	} else {
		printCheck(true, "sources (%d to sync, %d skipped)", len(plan.Sources), len(plan.Skipped))
		for _, sk := range plan.Skipped {
			printInfo("sources[%d]: unsupported type %q is skipped", sk.Index, sk.Type)
		}
	}

	if !cfg.HasSlack() && !cfg.HasKafka() {
		printInfo("no slack.webhook_url or kafka.brokers: messages are only tracked")
	} else {
		if cfg.HasSlack() {
			printCheck(true, "slack webhook")
		}
		if cfg.HasKafka() {
			printCheck(true, "kafka %v -> %s", cfg.Kafka.Brokers, cfg.Kafka.Topic)
		}
	}

	st, err := state.Open(cfg.State.Backend, cfg.State.Path)
	if err != nil {
		printCheck(false, "state: %v", err)
		ok = false
	} else {
		defer func() { _ = st.Close() }()
		marks, err := st.Load(commandContext(cmd))
		if err != nil {
			printCheck(false, "state %s: %v", cfg.State.Path, err)
			ok = false
		} else {
			printCheck(true, "state %s (%s, %d watermarks)", cfg.State.Path, cfg.State.Backend, len(marks))
		}
	}

	if _, err := os.Stat(cfg.Telegram.SessionPath); err != nil {
		printInfo("telegram session %s not found: the next sync will ask to log in", cfg.Telegram.SessionPath)
	} else {
		printCheck(true, "telegram session %s", cfg.Telegram.SessionPath)
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}
