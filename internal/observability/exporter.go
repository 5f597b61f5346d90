package observability

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/catflash/catflash/internal/eventbus"
)

// WorkflowSnapshot is a point-in-time view of the daemon workflows.
type WorkflowSnapshot struct {
	InstallInProgress bool
	InstallCompleted  bool
	InstallFailed     bool
	Flashing          bool
	WebSocketClients  int
}

// PrometheusExporter renders daemon metrics in Prometheus text format.
type PrometheusExporter struct {
	bus      *eventbus.Bus
	counter  *EventCounter
	workflow func() WorkflowSnapshot
}

// NewPrometheusExporter constructs an exporter backed by the provided bus and event counter.
func NewPrometheusExporter(bus *eventbus.Bus, counter *EventCounter) *PrometheusExporter {
	return &PrometheusExporter{
		bus:     bus,
		counter: counter,
	}
}

// WithWorkflow enables exporting install and flash gauges.
func (e *PrometheusExporter) WithWorkflow(provider func() WorkflowSnapshot) {
	e.workflow = provider
}

// Export produces the metrics payload in Prometheus' text exposition format.
func (e *PrometheusExporter) Export() []byte {
	var buf bytes.Buffer

	e.writeEventCounters(&buf)
	e.writeBusMetrics(&buf)
	e.writeWorkflowMetrics(&buf)

	return buf.Bytes()
}

func (e *PrometheusExporter) writeEventCounters(buf *bytes.Buffer) {
	if e.counter == nil {
		return
	}

	counts := e.counter.Snapshot()
	if len(counts) == 0 {
		return
	}

	buf.WriteString("# HELP catflash_eventbus_events_total Total number of published events per topic.\n")
	buf.WriteString("# TYPE catflash_eventbus_events_total counter\n")

	topics := make([]string, 0, len(counts))
	for topic := range counts {
		topics = append(topics, string(topic))
	}
	sort.Strings(topics)
	for _, topicName := range topics {
		fmt.Fprintf(buf, "catflash_eventbus_events_total{topic=%q} %d\n", topicName, counts[eventbus.Topic(topicName)])
	}

	bySource := e.counter.SourceSnapshot()
	buf.WriteString("# HELP catflash_eventbus_source_events_total Total number of published events per source component.\n")
	buf.WriteString("# TYPE catflash_eventbus_source_events_total counter\n")
	sources := make([]string, 0, len(bySource))
	for source := range bySource {
		sources = append(sources, string(source))
	}
	sort.Strings(sources)
	for _, name := range sources {
		fmt.Fprintf(buf, "catflash_eventbus_source_events_total{source=%q} %d\n", name, bySource[eventbus.Source(name)])
	}
}

func (e *PrometheusExporter) writeBusMetrics(buf *bytes.Buffer) {
	if e.bus == nil {
		return
	}
	metrics := e.bus.Metrics()

	buf.WriteString("# HELP catflash_eventbus_publish_total Total number of events published on the bus.\n")
	buf.WriteString("# TYPE catflash_eventbus_publish_total counter\n")
	fmt.Fprintf(buf, "catflash_eventbus_publish_total %d\n", metrics.PublishTotal)

	buf.WriteString("# HELP catflash_eventbus_dropped_total Total number of events dropped by slow subscribers.\n")
	buf.WriteString("# TYPE catflash_eventbus_dropped_total counter\n")
	fmt.Fprintf(buf, "catflash_eventbus_dropped_total %d\n", metrics.DroppedTotal)
}

func (e *PrometheusExporter) writeWorkflowMetrics(buf *bytes.Buffer) {
	if e.workflow == nil {
		return
	}
	snap := e.workflow()

	buf.WriteString("# HELP catflash_install_state Install workflow state, one series per flag.\n")
	buf.WriteString("# TYPE catflash_install_state gauge\n")
	fmt.Fprintf(buf, "catflash_install_state{state=\"in_progress\"} %d\n", boolValue(snap.InstallInProgress))
	fmt.Fprintf(buf, "catflash_install_state{state=\"completed\"} %d\n", boolValue(snap.InstallCompleted))
	fmt.Fprintf(buf, "catflash_install_state{state=\"error\"} %d\n", boolValue(snap.InstallFailed))

	buf.WriteString("# HELP catflash_flash_active Whether a flash session is running.\n")
	buf.WriteString("# TYPE catflash_flash_active gauge\n")
	fmt.Fprintf(buf, "catflash_flash_active %d\n", boolValue(snap.Flashing))

	buf.WriteString("# HELP catflash_websocket_clients Number of connected websocket clients.\n")
	buf.WriteString("# TYPE catflash_websocket_clients gauge\n")
	fmt.Fprintf(buf, "catflash_websocket_clients %d\n", snap.WebSocketClients)
}

func boolValue(b bool) int {
	if b {
		return 1
	}
	return 0
}
