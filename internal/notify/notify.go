// Package notify fans session-state changes out to the daemon's sinks:
// the web server's subscribers, the metrics gauges, and Slack.
package notify

import (
	"github.com/asheshgoplani/agent-lens/internal/metrics"
	"github.com/asheshgoplani/agent-lens/internal/monitor"
)

type multiNotifier []monitor.Notifier

func (m multiNotifier) StateChanged(snap monitor.Snapshot) {
	for _, n := range m {
		n.StateChanged(snap)
	}
}

// Multi combines notifiers into one. Nil entries are skipped; a call with
// no usable notifiers returns nil, which the store treats as "none".
func Multi(notifiers ...monitor.Notifier) monitor.Notifier {
	out := make(multiNotifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Gauges mirrors session counts into the metrics registry on every change.
type Gauges struct {
	m *metrics.Metrics
}

// NewGauges returns a gauge-mirroring notifier, or nil when metrics are off.
func NewGauges(m *metrics.Metrics) *Gauges {
	if m == nil {
		return nil
	}
	return &Gauges{m: m}
}

// StateChanged implements monitor.Notifier.
func (g *Gauges) StateChanged(snap monitor.Snapshot) {
	if g == nil || g.m == nil {
		return
	}
	g.m.Sessions.Set(float64(len(snap.Sessions)))
	g.m.SessionsWaiting.Set(float64(snap.Waiting))
}
