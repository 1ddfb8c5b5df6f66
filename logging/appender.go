package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultTimeFormatStr is the default time format string for log appenders.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// Appender is an output for log entries. This is a subset of the `zapcore.Core` interface.
type Appender interface {
	// Write submits a structured log entry to the appender for logging.
	Write(zapcore.Entry, []zapcore.Field) error
	// Sync is for signaling that any buffered logs to `Write` should be flushed. E.g: at shutdown.
	Sync() error
}

// ConsoleAppender will create human readable (tab-separated) log lines.
type ConsoleAppender struct {
	mu sync.Mutex
	io.Writer
}

// NewStdoutAppender creates a new appender that outputs to stdout.
func NewStdoutAppender() *ConsoleAppender {
	return &ConsoleAppender{Writer: os.Stdout}
}

// NewWriterAppender creates a new appender that outputs to the input writer.
func NewWriterAppender(writer io.Writer) *ConsoleAppender {
	return &ConsoleAppender{Writer: writer}
}

// NewRotatingFileAppender returns an appender writing to the file at path, rotated once it grows
// past maxSizeMB. The returned closer releases the file.
func NewRotatingFileAppender(path string, maxSizeMB, maxBackups int) (*ConsoleAppender, io.Closer) {
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	return NewWriterAppender(file), file
}

// Write outputs the log entry to the underlying stream.
func (appender *ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	const maxLength = 10
	toPrint := make([]string, 0, maxLength)
	toPrint = append(toPrint, entry.Time.Format(DefaultTimeFormatStr))

	toPrint = append(toPrint, strings.ToUpper(entry.Level.String()))
	if entry.LoggerName != "" {
		toPrint = append(toPrint, entry.LoggerName)
	}
	if entry.Caller.Defined {
		toPrint = append(toPrint, callerToString(&entry.Caller))
	}
	toPrint = append(toPrint, entry.Message)

	if len(fields) > 0 {
		// Use zap's json encoder which will encode our slice of fields in-order. As opposed to the
		// random iteration order of a map. Call it with an empty Entry object such that only the
		// fields become "map-ified".
		jsonEncoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
		buf, err := jsonEncoder.EncodeEntry(zapcore.Entry{}, fields)
		if err != nil {
			return err
		}
		toPrint = append(toPrint, buf.String())
	}

	appender.mu.Lock()
	defer appender.mu.Unlock()
	_, err := fmt.Fprintln(appender.Writer, strings.Join(toPrint, "\t"))
	return err
}

// Sync is a no-op.
func (appender *ConsoleAppender) Sync() error {
	return nil
}

// callerToString renders "dir/file.go:line", the same form zap's short caller encoder uses.
func callerToString(caller *zapcore.EntryCaller) string {
	return caller.TrimmedPath()
}
