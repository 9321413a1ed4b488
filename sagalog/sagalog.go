// Package sagalog wires zerolog into the saga router hooks.
package sagalog

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bjaus/saga"
)

// Options configures the structured logger.
type Options struct {
	ServiceName string
	// Level is the minimum level written. The zero value is debug.
	Level zerolog.Level
	// Format is "json" (default) or "console".
	Format string
	Output io.Writer
}

// New builds a logger that stamps every entry with the service name.
func New(opts Options) zerolog.Logger {
	output := opts.Output
	if output == nil {
		output = os.Stdout
	}
	if opts.Format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05", NoColor: true}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Str("service", opts.ServiceName).
		Logger().
		Level(opts.Level)
}

// ParseLevel parses a level name, falling back to info.
func ParseLevel(value string) zerolog.Level {
	s := strings.ToLower(strings.TrimSpace(value))
	if s == "" {
		return zerolog.InfoLevel
	}
	if lvl, err := zerolog.ParseLevel(s); err == nil && lvl != zerolog.NoLevel {
		return lvl
	}
	return zerolog.InfoLevel
}

// Hooks returns router options that log through l. The classify hook puts a
// logger carrying message_id, kind and key into the context; handlers can
// pick it up with zerolog.Ctx.
func Hooks(l zerolog.Logger) []saga.Option {
	return []saga.Option{
		saga.WithOnClassify(func(ctx context.Context, messageID string, kind saga.Kind, key string) context.Context {
			c := l.With().Str("kind", string(kind))
			if messageID != "" {
				c = c.Str("message_id", messageID)
			}
			if key != "" {
				c = c.Str("key", key)
			}
			return c.Logger().WithContext(ctx)
		}),
		saga.WithOnSuccess(func(ctx context.Context, _ saga.Kind, _ string, d time.Duration) {
			from(ctx, l).Debug().Dur("duration", d).Msg("record handled")
		}),
		saga.WithOnFailure(func(ctx context.Context, _ saga.Kind, _ string, err error, d time.Duration) {
			from(ctx, l).Error().Err(err).Dur("duration", d).Msg("record failed")
		}),
		saga.WithOnSkip(func(ctx context.Context, _ saga.Kind, _ string) {
			from(ctx, l).Debug().Msg("no handler registered, record consumed")
		}),
		saga.WithOnRepublish(func(ctx context.Context, p *saga.Payload, err error) {
			ev := from(ctx, l).Debug()
			if err != nil {
				ev = from(ctx, l).Error().Err(err)
			}
			ev.Str("saga", p.Saga()).
				Str("correlation_id", p.CorrelationID()).
				Int("decorations", len(p.Decorations())).
				Msg("payload republished")
		}),
		saga.WithOnRedrive(func(ctx context.Context, fb saga.FailedBatch, staged int, err error) {
			ev := from(ctx, l).Warn()
			if err != nil {
				ev = from(ctx, l).Error().Err(err)
			}
			ev.Str("shard_id", fb.ShardID).
				Str("start", fb.StartSequenceNumber).
				Str("end", fb.EndSequenceNumber).
				Str("condition", fb.Condition).
				Int("staged", staged).
				Msg("failed batch redriven")
		}),
	}
}

// from returns the logger the classify hook stored in ctx, or l.
func from(ctx context.Context, l zerolog.Logger) *zerolog.Logger {
	if cl := zerolog.Ctx(ctx); cl != nil && cl.GetLevel() != zerolog.Disabled {
		return cl
	}
	return &l
}
