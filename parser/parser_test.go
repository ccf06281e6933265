package parser

import (
	"strconv"
	"testing"

	"github.com/chenlehua/vnidsd/types"
)

func TestParseHappyPathAlert(t *testing.T) {
	line := `{"timestamp":"2024-01-15T10:30:45.123456+0000","event_type":"alert","src_ip":"10.0.0.1","src_port":1234,"dest_ip":"10.0.0.2","dest_port":80,"proto":"TCP","alert":{"signature_id":1000001,"gid":1,"severity":2,"signature":"TEST ALERT"}}`

	result, event, _, err := Parse(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != ResultEvent {
		t.Fatalf("expected ResultEvent, got %v", result)
	}
	if event.Severity != types.SeverityHigh {
		t.Errorf("expected severity high, got %v", event.Severity)
	}
	if event.Kind != types.EventKindAlert {
		t.Errorf("expected kind alert, got %v", event.Kind)
	}
	if event.RuleSID != 1000001 {
		t.Errorf("expected rule sid 1000001, got %d", event.RuleSID)
	}
	if event.Message != "TEST ALERT" {
		t.Errorf("expected message TEST ALERT, got %q", event.Message)
	}
	if event.SrcAddr != "10.0.0.1" || event.SrcPort != 1234 {
		t.Errorf("unexpected src: %s:%d", event.SrcAddr, event.SrcPort)
	}
	if event.DstAddr != "10.0.0.2" || event.DstPort != 80 {
		t.Errorf("unexpected dst: %s:%d", event.DstAddr, event.DstPort)
	}
	if event.Protocol != types.ProtocolTCP {
		t.Errorf("expected protocol tcp, got %v", event.Protocol)
	}
}

func TestParseAnomalyDefaults(t *testing.T) {
	line := `{"event_type":"anomaly","src_ip":"1.1.1.1","dest_ip":"2.2.2.2"}`
	result, event, _, err := Parse(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != ResultEvent {
		t.Fatalf("expected ResultEvent, got %v", result)
	}
	if event.Severity != types.SeverityMedium {
		t.Errorf("expected medium severity, got %v", event.Severity)
	}
	if event.Message != "Network anomaly detected" {
		t.Errorf("unexpected default message: %q", event.Message)
	}
}

func TestParseFlowSkipped(t *testing.T) {
	result, event, stats, err := Parse(`{"event_type":"flow","src_ip":"1.1.1.1"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != ResultSkip || event != nil || stats != nil {
		t.Fatalf("expected skip with no payload, got result=%v event=%v stats=%v", result, event, stats)
	}
}

func TestParseStats(t *testing.T) {
	line := `{"event_type":"stats","stats":{"uptime":3600,"capture":{"kernel_packets":1000,"kernel_drops":5},"decoder":{"bytes":50000},"detect":{"alert":12},"flow_mgr":{"flows_active":42},"flow":{"memuse":2097152}}}`
	result, event, stats, err := Parse(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != ResultStats || event != nil {
		t.Fatalf("expected ResultStats, got %v", result)
	}
	if stats.UptimeSeconds != 3600 {
		t.Errorf("expected uptime 3600, got %d", stats.UptimeSeconds)
	}
	if stats.PacketsCaptured != 1000 || stats.PacketsDropped != 5 {
		t.Errorf("unexpected capture stats: %+v", stats)
	}
	if stats.MemUsedMB != 2 {
		t.Errorf("expected 2MB memuse, got %v", stats.MemUsedMB)
	}
}

func TestParseUnknownTypeWithAlertFallsBackToAlert(t *testing.T) {
	line := `{"event_type":"weird","alert":{"signature_id":5,"severity":1,"signature":"X"}}`
	result, event, _, err := Parse(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != ResultEvent || event.Kind != types.EventKindAlert {
		t.Fatalf("expected fallback to alert, got result=%v event=%+v", result, event)
	}
}

func TestParseUnknownTypeWithoutAlertIsError(t *testing.T) {
	_, _, _, err := Parse(`{"event_type":"weird"}`)
	if err == nil {
		t.Fatal("expected parse error for unrecognized type without alert object")
	}
}

func TestParseMalformedJSON(t *testing.T) {
	_, _, _, err := Parse(`not json`)
	if err == nil {
		t.Fatal("expected parse error for malformed json")
	}
}

func TestParseSomeIPMetadataOverridesProtocol(t *testing.T) {
	line := `{"event_type":"alert","proto":"TCP","alert":{"signature_id":1,"severity":1,"signature":"x"},"someip":{"service_id":7,"method_id":2,"client_id":3,"session_id":4,"message_type":1,"return_code":0}}`
	_, event, _, err := Parse(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Protocol != types.ProtocolSOMEIP {
		t.Fatalf("expected protocol overridden to someip, got %v", event.Protocol)
	}
	if event.Metadata == nil || event.Metadata.SomeIP == nil || event.Metadata.SomeIP.ServiceID != 7 {
		t.Fatalf("expected someip metadata populated, got %+v", event.Metadata)
	}
}

func TestParseDoIPMetadataOverridesProtocol(t *testing.T) {
	line := `{"event_type":"alert","proto":"TCP","alert":{"signature_id":1,"severity":1,"signature":"x"},"doip":{"payload_type":9,"source_address":1,"target_address":2,"uds_service":3,"activation_type":4}}`
	_, event, _, err := Parse(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Protocol != types.ProtocolDoIP {
		t.Fatalf("expected protocol overridden to doip, got %v", event.Protocol)
	}
	if event.Metadata == nil || event.Metadata.DoIP == nil || event.Metadata.DoIP.PayloadType != 9 {
		t.Fatalf("expected doip metadata populated, got %+v", event.Metadata)
	}
}

func TestParseAppProtoWinsOverTransportProto(t *testing.T) {
	_, event, _, err := Parse(`{"event_type":"alert","proto":"TCP","app_proto":"dns","alert":{"signature_id":1,"severity":1,"signature":"x"}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Protocol != types.ProtocolDNS {
		t.Fatalf("expected app_proto (dns) to win over proto (tcp), got %v", event.Protocol)
	}
}

func TestParseRoundTripEverySeverity(t *testing.T) {
	cases := []struct {
		priority int
		want     types.Severity
	}{
		{1, types.SeverityCritical},
		{2, types.SeverityHigh},
		{3, types.SeverityMedium},
		{4, types.SeverityLow},
		{99, types.SeverityLow},
	}
	for _, tc := range cases {
		line := `{"event_type":"alert","alert":{"signature_id":1,"severity":` + strconv.Itoa(tc.priority) + `,"signature":"x"}}`
		_, event, _, err := Parse(line)
		if err != nil {
			t.Fatalf("unexpected error for priority %d: %v", tc.priority, err)
		}
		if event.Severity != tc.want {
			t.Errorf("priority %d: expected severity %v, got %v", tc.priority, tc.want, event.Severity)
		}
	}
}
