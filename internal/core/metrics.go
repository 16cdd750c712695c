package core

import "time"

// Recorder receives engine events for metrics.  Implementations must be safe
// for concurrent use since sessions share one recorder.
type Recorder interface {
	ObserveGeneration(site, kind string, d time.Duration)
	Transition(from, to string)
	ForcedAdvance(topic int)
	EchoDiscarded(reason string)
}

// NopRecorder discards all events.
type NopRecorder struct{}

func (NopRecorder) ObserveGeneration(string, string, time.Duration) {}
func (NopRecorder) Transition(string, string) {}
func (NopRecorder) ForcedAdvance(int) {}
func (NopRecorder) EchoDiscarded(string) {}
