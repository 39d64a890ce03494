package datarecording

import (
	"os"
	"strings"
	"time"
)

// A RunInfo entry is one property of the recorded run.
type RunInfo struct {
	Property string
	Value    string
}

// RunLogger records metadata about one simulator invocation in a `run_info`
// table: start time, command line, scenario, and end time on Flush.
type RunLogger struct {
	recorder DataRecorder
	entries  []RunInfo
}

// NewRunLogger creates a run logger on the given recorder and records the
// invocation itself.
func NewRunLogger(recorder DataRecorder) *RunLogger {
	l := &RunLogger{recorder: recorder}

	l.recorder.CreateTable("run_info", RunInfo{})

	l.entries = append(l.entries, RunInfo{
		Property: "start_time",
		Value:    time.Now().Format("2006-01-02 15:04:05"),
	})
	l.entries = append(l.entries, RunInfo{
		Property: "command",
		Value:    strings.Join(os.Args, " "),
	})

	return l
}

// Record adds one property of the run.
func (l *RunLogger) Record(property, value string) {
	l.entries = append(l.entries, RunInfo{Property: property, Value: value})
}

// Flush writes the buffered properties plus the end time into the database.
func (l *RunLogger) Flush() {
	l.entries = append(l.entries, RunInfo{
		Property: "end_time",
		Value:    time.Now().Format("2006-01-02 15:04:05"),
	})

	for _, entry := range l.entries {
		l.recorder.InsertData("run_info", entry)
	}
	l.entries = nil

	l.recorder.Flush()
}
