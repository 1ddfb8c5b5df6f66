package logging

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the leveled, structured logger interface handed to every component.
type Logger interface {
	Debug(args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	// Fatal logs at error level and exits the process.
	Fatal(args ...interface{})

	// Sublogger returns a logger named "<parent>.<subname>" sharing the parent's appenders.
	Sublogger(subname string) Logger
	AddAppender(appender Appender)
	SetLevel(level Level)
	GetLevel() Level
}

type impl struct {
	name  string
	level AtomicLevel
	inUTC bool

	appenders []Appender
}

func (imp *impl) AddAppender(appender Appender) {
	imp.appenders = append(imp.appenders, appender)
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

func (imp *impl) Sublogger(subname string) Logger {
	newName := subname
	if imp.name != "" {
		newName = fmt.Sprintf("%s.%s", imp.name, subname)
	}

	return &impl{
		name:      newName,
		level:     NewAtomicLevelAt(imp.level.Get()),
		inUTC:     imp.inUTC,
		appenders: imp.appenders,
	}
}

func (imp *impl) enabled(level Level) bool {
	return GlobalLogLevel.Level() == zapcore.DebugLevel || level >= imp.level.Get()
}

func (imp *impl) Debug(args ...interface{}) { imp.emit(DEBUG, fmt.Sprint(args...), nil) }
func (imp *impl) Info(args ...interface{})  { imp.emit(INFO, fmt.Sprint(args...), nil) }
func (imp *impl) Warn(args ...interface{})  { imp.emit(WARN, fmt.Sprint(args...), nil) }
func (imp *impl) Error(args ...interface{}) { imp.emit(ERROR, fmt.Sprint(args...), nil) }

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	imp.emit(DEBUG, msg, keysAndValues)
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	imp.emit(INFO, msg, keysAndValues)
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	imp.emit(WARN, msg, keysAndValues)
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	imp.emit(ERROR, msg, keysAndValues)
}

func (imp *impl) Fatal(args ...interface{}) {
	imp.emit(ERROR, fmt.Sprint(args...), nil)
	os.Exit(1)
}

// emit must be called directly from the exported method: the caller lookup skips a fixed number
// of frames.
func (imp *impl) emit(level Level, msg string, keysAndValues []interface{}) {
	if !imp.enabled(level) {
		return
	}
	entry := zapcore.Entry{
		Level:      level.AsZap(),
		Time:       time.Now(),
		LoggerName: imp.name,
		Message:    msg,
		Caller:     getCaller(),
	}
	if imp.inUTC {
		entry.Time = entry.Time.UTC()
	}
	fields := toFields(keysAndValues)
	for _, appender := range imp.appenders {
		if err := appender.Write(entry, fields); err != nil {
			fmt.Fprint(os.Stderr, err)
		}
	}
}

// toFields pairs each key with the value after it. Values are json serialized, so only public
// fields of structs show up.
func toFields(keysAndValues []interface{}) []zapcore.Field {
	fields := make([]zapcore.Field, 0, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 < len(keysAndValues) {
			fields = append(fields, zap.Any(key, keysAndValues[i+1]))
		} else {
			fields = append(fields, zap.Any(key, errors.New("unpaired log key")))
		}
	}
	return fields
}

// getCaller returns the site that called the exported log method, e.g. "pipeline/session.go:270".
func getCaller() zapcore.EntryCaller {
	// getCaller, emit, the exported method, its caller
	const skipToLogCaller = 3
	var entryCaller zapcore.EntryCaller
	var ok bool
	entryCaller.PC, entryCaller.File, entryCaller.Line, ok = runtime.Caller(skipToLogCaller)
	if !ok {
		return entryCaller
	}
	entryCaller.Defined = true
	if fn := runtime.FuncForPC(entryCaller.PC); fn != nil {
		entryCaller.Function = fn.Name()
	}
	return entryCaller
}
