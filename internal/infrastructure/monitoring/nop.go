package monitoring

import (
	"time"

	"liveclass/internal/core/domain"
)

// NopCollector discards all metrics. Used when prometheus is disabled
// and in tests.
type NopCollector struct{}

func (NopCollector) SessionStarted(domain.SessionKind)          {}
func (NopCollector) SessionEnded(domain.SessionKind)            {}
func (NopCollector) PeerJoined(domain.SessionKind)              {}
func (NopCollector) PeerLeft(domain.SessionKind)                {}
func (NopCollector) ProducerOpened(domain.MediaKind)            {}
func (NopCollector) ProducerClosed(domain.MediaKind)            {}
func (NopCollector) ConsumerOpened()                            {}
func (NopCollector) ConsumerClosed()                            {}
func (NopCollector) SpeakRequested()                            {}
func (NopCollector) SpeakDecided(bool)                          {}
func (NopCollector) RecordingStarted(domain.RecordKind)         {}
func (NopCollector) RecordingStopped(domain.RecordKind)         {}
func (NopCollector) RecorderRequest(string, time.Duration, error) {}
