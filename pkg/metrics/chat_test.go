package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestChatMetricsNilSafe(t *testing.T) {
	var m *ChatMetrics
	m.RecordConnectionAccepted()
	m.RecordConnectionClosed()
	m.RecordConnectionForceClosed()
	m.SetActiveConnections(3)
	m.RecordCommand("LOGIN")
	m.RecordDirectMessage()
	m.RecordGroupMessage()
	m.RecordDiscoveryReply()
}

func TestRegistryAndCollectors(t *testing.T) {
	InitRegistry()
	InitRegistry() // idempotent
	if !IsEnabled() {
		t.Fatal("registry not enabled after InitRegistry")
	}

	m := NewChatMetrics()
	if m == nil {
		t.Fatal("NewChatMetrics returned nil with registry enabled")
	}
	m.RecordConnectionAccepted()
	m.SetActiveConnections(1)
	m.RecordCommand("LOGIN")
	m.RecordDirectMessage()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"lanchat_connections_accepted_total 1",
		"lanchat_active_connections 1",
		`lanchat_commands_total{command="LOGIN"} 1`,
		"lanchat_direct_messages_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
