package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/topicrelay/internal/config"
	"github.com/ppiankov/topicrelay/internal/relay"
	"github.com/ppiankov/topicrelay/internal/telegram"
)

// fakeSession serves fixed topic contents and honors the resume offset.
type fakeSession struct {
	title    string
	messages map[int][]relay.Message
	fetchErr error
	topics   []telegram.Topic
	requests []relay.FetchRequest
}

func (f *fakeSession) Fetch(_ context.Context, req relay.FetchRequest) (relay.Batch, error) {
	f.requests = append(f.requests, req)
	if f.fetchErr != nil {
		return relay.Batch{}, f.fetchErr
	}
	var out []relay.Message
	for _, m := range f.messages[req.TopicID] {
		if req.Window.OffsetID > 0 && m.ID <= req.Window.OffsetID {
			continue
		}
		out = append(out, m)
	}
	if req.Window.Limit > 0 && len(out) > req.Window.Limit {
		out = out[:req.Window.Limit]
	}
	return relay.Batch{Title: f.title, Messages: out}, nil
}

func (f *fakeSession) Topics(_ context.Context, _ string) (string, []telegram.Topic, error) {
	return f.title, f.topics, nil
}

// useFakeSession swaps the Telegram connection for fs and restores the
// command globals afterwards.
func useFakeSession(t *testing.T, fs *fakeSession) {
	t.Helper()

	oldSession := withSession
	oldConfig, oldOffset, oldLimit, oldEvery, oldMetrics := configPath, syncOffsetID, syncLimit, syncEvery, syncMetricsAddr
	oldID, oldHash, oldGroup := apiID, apiHash, topicsGroup
	t.Cleanup(func() {
		withSession = oldSession
		configPath, syncOffsetID, syncLimit, syncEvery, syncMetricsAddr = oldConfig, oldOffset, oldLimit, oldEvery, oldMetrics
		apiID, apiHash, topicsGroup = oldID, oldHash, oldGroup
	})

	withSession = func(ctx context.Context, _ *config.Config, _ *zap.Logger, fn func(context.Context, session) error) error {
		return fn(ctx, fs)
	}
	syncOffsetID, syncLimit, syncEvery, syncMetricsAddr = 0, 0, "", ""
	apiID, apiHash = 0, ""
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, config.DefaultConfigFile)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func todayMsg(id int, offset time.Duration, text string) relay.Message {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return relay.Message{ID: id, Date: midnight.Add(offset), Text: text}
}

func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("open stdout pipe: %v", err)
	}

	os.Stdout = writer
	runErr := fn()
	_ = writer.Close()
	os.Stdout = oldStdout

	out, readErr := io.ReadAll(reader)
	_ = reader.Close()
	if readErr != nil {
		t.Fatalf("read stdout pipe: %v", readErr)
	}
	return string(out), runErr
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()

	if !strings.Contains(got, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, got)
	}
}
