package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

type BasicStruct struct {
	X int
	y string
}

// assertLogMatches will fuzzy match log lines. Notably, this checks the time format, but ignores
// the exact time. And it expects a match on the filename, but the exact line number can be wrong.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualParts := strings.Split(strings.TrimSuffix(output, "\n"), "\t")
	expectedParts := strings.Split(expected, "\t")
	// Use the length of the first string as a weak verification of checking that the result looks like a date.
	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	test.That(t, actualParts[1], test.ShouldEqual, expectedParts[1])
	test.That(t, actualParts[2], test.ShouldEqual, expectedParts[2])

	actualFilename, actualLineNumber, found := strings.Cut(actualParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	expectedFilename, _, found := strings.Cut(expectedParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	test.That(t, actualFilename, test.ShouldEqual, expectedFilename)
	_, err = strconv.Atoi(actualLineNumber)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, actualParts[4], test.ShouldEqual, expectedParts[4])
	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))
	if len(actualParts) == 5 {
		return
	}

	expectedMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(expectedParts[5]), &expectedMap), test.ShouldBeNil)
	actualMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(actualParts[5]), &actualMap), test.ShouldBeNil)
	test.That(t, actualMap, test.ShouldResemble, expectedMap)
}

func TestConsoleOutputFormat(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := &impl{"session", NewAtomicLevelAt(DEBUG), true, []Appender{NewWriterAppender(notStdout)}}

	logger.Info("frame dropped")
	assertLogMatches(t, notStdout,
		"2023-10-30T09:12:09.459Z\tINFO\tsession\tlogging/impl_test.go:60\tframe dropped")

	logger.Errorw("no stable image", "candidates", 5)
	assertLogMatches(t, notStdout,
		"2023-10-30T09:12:09.459Z\tERROR\tsession\tlogging/impl_test.go:64\tno stable image\t"+
			`{"candidates":5}`)

	logger.Warnw("segment rejected", "points", 12, "BasicStruct", BasicStruct{1, "hidden"})
	assertLogMatches(t, notStdout,
		"2023-10-30T09:12:09.459Z\tWARN\tsession\tlogging/impl_test.go:68\tsegment rejected\t"+
			`{"points":12,"BasicStruct":{"X":1}}`)
}

func TestLevelFiltering(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := &impl{"", NewAtomicLevelAt(WARN), true, []Appender{NewWriterAppender(notStdout)}}

	logger.Debug("hidden")
	logger.Info("hidden")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	logger.Error("shown")
	test.That(t, notStdout.String(), test.ShouldContainSubstring, "shown")

	logger.SetLevel(DEBUG)
	test.That(t, logger.GetLevel(), test.ShouldEqual, DEBUG)
	logger.Debugw("now shown", "frame", 1)
	test.That(t, notStdout.String(), test.ShouldContainSubstring, "now shown")
}

func TestUnpairedKey(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	logger.Warnw("odd fields", "stamp", 3, "dangling")
	fields := observed.All()[0].ContextMap()
	test.That(t, fields["stamp"], test.ShouldEqual, int64(3))
	test.That(t, fields["dangling"], test.ShouldNotBeNil)
}

func TestSubloggerSharesAppenders(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	sub := logger.Sublogger("motion").Sublogger("gate")

	sub.Infow("steady", "elapsed", time.Second)
	entries := observed.All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "motion.gate")
	test.That(t, entries[0].Level, test.ShouldEqual, zapcore.InfoLevel)
	test.That(t, entries[0].ContextMap()["elapsed"], test.ShouldEqual, time.Second)
}

func TestLevelFromString(t *testing.T) {
	for input, expected := range map[string]Level{"debug": DEBUG, "INFO": INFO, "Warn": WARN, "error": ERROR} {
		level, err := LevelFromString(input)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, expected)
	}
	_, err := LevelFromString("verbose")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestThrottle(t *testing.T) {
	throttle := NewThrottle(time.Hour)
	calls := 0
	for i := 0; i < 5; i++ {
		throttle.Do(func() { calls++ })
	}
	test.That(t, calls, test.ShouldEqual, 1)
}

func TestRotatingFileAppender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stableseg.log")
	appender, closer := NewRotatingFileAppender(path, 1, 1)
	logger := NewBlankLogger("replay")
	logger.AddAppender(appender)

	logger.Warnw("dropping frame", "stamp", 12)
	test.That(t, closer.Close(), test.ShouldBeNil)

	//nolint:gosec
	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldContainSubstring, "WARN\treplay")
	test.That(t, string(data), test.ShouldContainSubstring, "dropping frame")
	test.That(t, string(data), test.ShouldContainSubstring, `"stamp":12`)
}
