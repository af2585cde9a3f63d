// Package progress holds the stateless helpers used to report merge progress
// and to estimate output size.
package progress

import (
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Stage names a step of the output assembly pipeline.
type Stage string

const (
	StageIdle         Stage = "idle"
	StageCreating     Stage = "creating"
	StageCopyingPages Stage = "copying_pages"
	StageAnnotating   Stage = "annotating"
	StageOptimizing   Stage = "optimizing"
	StageSerializing  Stage = "serializing"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// Event is one progress notification. Percent is derived from Current/Total.
type Event struct {
	Stage   Stage  `json:"stage"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
	Warning bool   `json:"warning,omitempty"`
}

// NewEvent fills in Percent.
func NewEvent(stage Stage, current, total int, msg string) Event {
	return Event{Stage: stage, Current: current, Total: total, Percent: Percent(current, total), Message: msg}
}

// Reporter receives progress events. Implementations must not block for long;
// the pipeline calls Report synchronously between page copies.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Event)

func (f ReporterFunc) Report(e Event) { f(e) }

// Discard drops every event.
var Discard Reporter = ReporterFunc(func(Event) {})

// Multi fans an event out to several reporters in order.
func Multi(rs ...Reporter) Reporter {
	return ReporterFunc(func(e Event) {
		for _, r := range rs {
			if r != nil {
				r.Report(e)
			}
		}
	})
}

// LogReporter writes events to the global zerolog logger. Page-level events go
// to debug, stage boundaries and warnings to info/warn.
type LogReporter struct {
	Fields map[string]string
}

func (l LogReporter) Report(e Event) {
	var ev *zerolog.Event
	switch {
	case e.Warning:
		ev = log.Warn()
	case e.Stage == StageCopyingPages && e.Current > 0 && e.Current < e.Total:
		ev = log.Debug()
	default:
		ev = log.Info()
	}
	for k, v := range l.Fields {
		ev = ev.Str(k, v)
	}
	ev.Str("stage", string(e.Stage)).Int("current", e.Current).Int("total", e.Total).Int("percent", e.Percent).Msg(e.Message)
}

// Percent returns round(curr/total*100). A non-positive total is treated as 1.
func Percent(curr, total int) int {
	if total < 1 {
		total = 1
	}
	return int(math.Round(float64(curr) / float64(total) * 100))
}

const (
	optimizedRatio = 0.8
	plainRatio     = 0.95
)

// Estimate is the heuristic output size for a queue totalling totalBytes.
func Estimate(totalBytes int64, optimize bool) int64 {
	ratio := plainRatio
	if optimize {
		ratio = optimizedRatio
	}
	return int64(math.Round(float64(totalBytes) * ratio))
}
