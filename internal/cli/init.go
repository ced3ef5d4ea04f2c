package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an example config file",
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initAction(_ *cobra.Command, _ []string) error {
	wrote, err := writeIfNotExists(configPath, []byte(exampleConfig))
	if err != nil {
		return err
	}
	if !wrote {
		fmt.Printf("Config %s already exists.\n", configPath)
		return nil
	}
	fmt.Println("Edit the sources list, then run `topicrelay topics --group @name` to find topic ids.")
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(path string, data []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# topicrelay configuration

telegram:
  api_id_env: TELEGRAM_API_ID
  api_hash_env: TELEGRAM_API_HASH
  session_path: .topicrelay/session.json

sources:
  - type: group_topic
    group: "@your_group_here"
    topic_id: 1

slack:
  webhook_url: ""
  # webhook_url: https://hooks.slack.com/services/T000/B000/XXX

kafka:
  brokers: []
  # brokers: ["localhost:9092"]
  topic: topicrelay.messages

state:
  backend: yaml   # yaml, sqlite, or pebble
  # path defaults to state.yaml, state.db, or state.pebble by backend

sync:
  backfill_limit: 10
  resume_limit: 42

privacy:
  redact:
    enabled: false
    patterns: []
`
