package api

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/soyeahso/minichat/internal/logging"
)

// leveledLogger adapts the subsystem logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	log *logging.Logger
}

func (l leveledLogger) Error(msg string, kv ...any) { fields(l.log.Error(), kv).Msg(msg) }
func (l leveledLogger) Warn(msg string, kv ...any)  { fields(l.log.Warn(), kv).Msg(msg) }

// retryablehttp logs each attempt at info and debug; both shift down one level.
func (l leveledLogger) Info(msg string, kv ...any)  { fields(l.log.Debug(), kv).Msg(msg) }
func (l leveledLogger) Debug(msg string, kv ...any) { fields(l.log.Trace(), kv).Msg(msg) }

func fields(ev *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		if err, ok := kv[i+1].(error); ok {
			ev = ev.AnErr(key, err)
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	return ev
}
