package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/ppiankov/topicrelay/internal/state"
	"github.com/ppiankov/topicrelay/internal/telegram"
)

func TestInitWritesExampleOnce(t *testing.T) {
	useFakeSession(t, &fakeSession{})
	configPath = filepath.Join(t.TempDir(), "config.yaml")

	out, err := captureStdout(t, func() error { return initAction(&cobra.Command{}, nil) })
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	requireContains(t, out, "created: "+configPath)

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	requireContains(t, string(data), "type: group_topic")

	out, err = captureStdout(t, func() error { return initAction(&cobra.Command{}, nil) })
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	requireContains(t, out, "already exists")
}

func seedState(t *testing.T, backend, path string, marks state.Watermarks) {
	t.Helper()
	st, err := state.Open(backend, path)
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	defer func() { _ = st.Close() }()
	if err := st.Save(context.Background(), marks); err != nil {
		t.Fatalf("seed state: %v", err)
	}
}

func TestStateListAndReset(t *testing.T) {
	useFakeSession(t, &fakeSession{})

	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.yaml")
	configPath = writeConfig(t, dir, "state:\n  path: "+statePath+"\n")
	seedState(t, state.BackendYAML, statePath, state.Watermarks{
		{Group: "@a", TopicID: 1}: 10,
		{Group: "@b", TopicID: 2}: 20,
	})

	out, err := captureStdout(t, func() error { return stateListAction(&cobra.Command{}, nil) })
	if err != nil {
		t.Fatalf("state list: %v", err)
	}
	requireContains(t, out, "@a:1")
	requireContains(t, out, "@b:2")
	if strings.Index(out, "@a:1") > strings.Index(out, "@b:2") {
		t.Fatalf("keys not sorted:\n%s", out)
	}

	out, err = captureStdout(t, func() error { return stateResetAction(&cobra.Command{}, []string{"@a:1"}) })
	if err != nil {
		t.Fatalf("state reset: %v", err)
	}
	requireContains(t, out, "Reset @a:1 (was 10)")

	st, err := state.Open(state.BackendYAML, statePath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	marks, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := marks.Get(state.Key{Group: "@a", TopicID: 1}); ok {
		t.Fatal("@a:1 still present after reset")
	}
	if v, _ := marks.Get(state.Key{Group: "@b", TopicID: 2}); v != 20 {
		t.Fatalf("@b:2 = %d, want 20", v)
	}
}

func TestStateListSQLiteShowsUpdated(t *testing.T) {
	useFakeSession(t, &fakeSession{})

	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.db")
	configPath = writeConfig(t, dir, "state:\n  backend: sqlite\n  path: "+statePath+"\n")
	seedState(t, state.BackendSQLite, statePath, state.Watermarks{{Group: "@a", TopicID: 1}: 10})

	out, err := captureStdout(t, func() error { return stateListAction(&cobra.Command{}, nil) })
	if err != nil {
		t.Fatalf("state list: %v", err)
	}
	requireContains(t, out, "UPDATED")
	requireContains(t, out, "@a:1")
}

func TestStateResetUnknownKey(t *testing.T) {
	useFakeSession(t, &fakeSession{})

	dir := t.TempDir()
	configPath = writeConfig(t, dir, "state:\n  path: "+filepath.Join(dir, "state.yaml")+"\n")

	out, err := captureStdout(t, func() error { return stateResetAction(&cobra.Command{}, []string{"@nope:3"}) })
	if err != nil {
		t.Fatalf("state reset: %v", err)
	}
	requireContains(t, out, "warning: no watermark recorded for @nope:3")
}

func TestStateResetInvalidKey(t *testing.T) {
	if err := stateResetAction(&cobra.Command{}, []string{"nocolon"}); err == nil {
		t.Fatal("expected error for invalid key")
	}
}

func TestTopicsPrintsTable(t *testing.T) {
	useFakeSession(t, &fakeSession{
		title: "HackTricks",
		topics: []telegram.Topic{
			{ID: 1, Title: "General", Pinned: true},
			{ID: 7, Title: "Releases", Closed: true},
		},
	})
	configPath = writeConfig(t, t.TempDir(), "telegram: {api_id: 1, api_hash: h}\n")
	topicsGroup = "@hacktricks"

	out, err := captureStdout(t, func() error { return topicsAction(&cobra.Command{}, nil) })
	if err != nil {
		t.Fatalf("topics: %v", err)
	}
	requireContains(t, out, "HackTricks (2 topics)")
	requireContains(t, out, "Releases")
	requireContains(t, out, "pinned")
	requireContains(t, out, "closed")
}

func TestTopicsRequiresGroup(t *testing.T) {
	useFakeSession(t, &fakeSession{})
	topicsGroup = ""

	err := topicsAction(&cobra.Command{}, nil)
	if err == nil {
		t.Fatal("expected error without --group")
	}
	requireContains(t, err.Error(), "--group is required")
}

func TestDoctorReportsChecks(t *testing.T) {
	useFakeSession(t, &fakeSession{})

	dir := t.TempDir()
	configPath = writeConfig(t, dir, `
telegram: {api_id: 1, api_hash: h, session_path: `+filepath.Join(dir, "missing.json")+`}
sources:
  - {type: group_topic, group: "@g", topic_id: 1}
  - {type: rss}
state: {path: `+filepath.Join(dir, "state.yaml")+`}
`)

	out, err := captureStdout(t, func() error { return doctorAction(&cobra.Command{}, nil) })
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	requireContains(t, out, "[ OK ] telegram credentials")
	requireContains(t, out, "1 to sync, 1 skipped")
	requireContains(t, out, "messages are only tracked")
	requireContains(t, out, "not found")
	requireContains(t, out, "All checks passed.")
}

func TestDoctorFailsWithoutCredentials(t *testing.T) {
	useFakeSession(t, &fakeSession{})
	dir := t.TempDir()
	configPath = writeConfig(t, dir, "state: {path: "+filepath.Join(dir, "state.yaml")+"}\n")

	out, err := captureStdout(t, func() error { return doctorAction(&cobra.Command{}, nil) })
	if err == nil {
		t.Fatal("expected doctor to fail")
	}
	requireContains(t, out, "[FAIL] telegram credentials")
}
