package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"warn", WarnLevel},
		{"error", ErrorLevel},
		{"info", InfoLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestInitJSONOutputWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	logger := WithComponent("queue")
	logger.Info().Str("job_id", "job-1").Msg("Job completed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "queue", line["component"])
	assert.Equal(t, "job-1", line["job_id"])
	assert.Equal(t, "Job completed", line["message"])
	assert.Equal(t, "info", line["level"])
}

func TestScopedLoggers(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})
	base := WithComponent("executor")

	tests := []struct {
		name   string
		logger func() zerolog.Logger
		want   map[string]any
	}{
		{
			name:   "task",
			logger: func() zerolog.Logger { return ForTask(base, "task-1", "user-1") },
			want:   map[string]any{"component": "executor", "task_id": "task-1", "user_id": "user-1"},
		},
		{
			name:   "message",
			logger: func() zerolog.Logger { return ForMessage(base, "user-1", "chat-1", "msg-1") },
			want:   map[string]any{"user_id": "user-1", "chat_id": "chat-1", "message_id": "msg-1"},
		},
		{
			name:   "job",
			logger: func() zerolog.Logger { return ForJob(base, "job-1", "reminder", 2) },
			want:   map[string]any{"job_id": "job-1", "name": "reminder", "attempt": float64(2)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			l := tt.logger()
			l.Info().Msg("x")

			var line map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
			for k, v := range tt.want {
				assert.Equal(t, v, line[k], k)
			}
		})
	}
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})
	defer Init(Config{Level: InfoLevel, Output: &bytes.Buffer{}})

	Logger.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	Logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), `"level":"warn"`)
}
