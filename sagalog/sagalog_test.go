package sagalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjaus/saga"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{ServiceName: "billing", Level: zerolog.WarnLevel, Output: &buf})

	l.Info().Msg("hidden")
	l.Warn().Msg("shown")

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "shown", got[0]["message"])
	assert.Equal(t, "billing", got[0]["service"])
	assert.Equal(t, "warn", got[0]["level"])
	assert.Contains(t, got[0], "time")
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{ServiceName: "billing", Format: "console", Output: &buf})

	l.Info().Msg("hello")

	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "service=billing")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, ParseLevel(in))
		})
	}
}

func TestHooks(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{ServiceName: "billing", Level: zerolog.DebugLevel, Output: &buf})

	reg := saga.NewRegistry()
	reg.HandleFunc("checkout", func(ctx context.Context, _ *saga.Payload, _ bool) (*saga.Result, error) {
		zerolog.Ctx(ctx).Info().Msg("charging")
		return nil, errors.New("card declined")
	})
	r := saga.New("billing", reg, Hooks(logger)...)

	p, err := saga.NewPayload("checkout", nil)
	require.NoError(t, err)
	body, err := json.Marshal(p)
	require.NoError(t, err)

	err = r.Dispatch(context.Background(), saga.RawEnvelope{MessageID: "m-1", Body: string(body)})
	require.Error(t, err)

	got := lines(t, &buf)
	require.Len(t, got, 2)

	assert.Equal(t, "charging", got[0]["message"])
	assert.Equal(t, "m-1", got[0]["message_id"], "handler logger carries record fields")
	assert.Equal(t, "saga", got[0]["kind"])
	assert.Equal(t, "checkout", got[0]["key"])

	assert.Equal(t, "record failed", got[1]["message"])
	assert.Equal(t, "error", got[1]["level"])
	assert.Equal(t, "card declined", got[1]["error"])
	assert.Equal(t, "m-1", got[1]["message_id"])
}

func TestHooks_Skip(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{ServiceName: "billing", Level: zerolog.DebugLevel, Output: &buf})
	r := saga.New("billing", saga.NewRegistry(), Hooks(logger)...)

	require.NoError(t, r.Dispatch(context.Background(), saga.RawEnvelope{MessageID: "m-2", Body: "plain"}))

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "raw", got[0]["kind"])
	assert.Equal(t, "m-2", got[0]["message_id"])
	assert.NotContains(t, got[0], "key")
}
