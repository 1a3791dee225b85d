package logging

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

// testAppender routes entries through tb.Log so they show up under the running test.
type testAppender struct {
	tb testing.TB
}

// NewTestAppender returns an appender writing tab separated lines through tb.Log. Fields are
// rendered as one JSON object at the end of the line.
func NewTestAppender(tb testing.TB) Appender {
	return &testAppender{tb}
}

func (tapp *testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	tapp.tb.Helper()
	parts := []string{
		entry.Time.Format(DefaultTimeFormatStr),
		strings.ToUpper(entry.Level.String()),
		entry.LoggerName,
	}
	if entry.Caller.Defined {
		parts = append(parts, callerToString(entry.Caller))
	}
	parts = append(parts, entry.Message)

	var err error
	if len(fields) > 0 {
		enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
		buf, encErr := enc.EncodeEntry(zapcore.Entry{}, fields)
		if encErr == nil {
			parts = append(parts, buf.String())
			buf.Free()
		}
		err = encErr
	}
	tapp.tb.Log(strings.Join(parts, "\t"))
	return err
}

func (tapp *testAppender) Sync() error {
	return nil
}

// callerToString keeps the last directory and the file name, e.g. "stereo/pipeline.go:42".
func callerToString(caller zapcore.EntryCaller) string {
	file := filepath.ToSlash(caller.File)
	dir := filepath.Base(filepath.Dir(file))
	return fmt.Sprintf("%s/%s:%d", dir, filepath.Base(file), caller.Line)
}
