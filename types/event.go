// Package types defines the daemon's core data model: the security event
// record produced by the parser, carried through the queue and dispatcher,
// and persisted by storage; the detector statistics snapshot; and the
// supervisor's state machine.
package types

import "time"

// EventKind classifies a security event. Determines which parser branch
// produced it and which subscribers match it.
type EventKind string

const (
	EventKindAlert   EventKind = "alert"
	EventKindAnomaly EventKind = "anomaly"
	EventKindFlow    EventKind = "flow"
	EventKindStats   EventKind = "stats"
)

// Protocol is the inferred network or application protocol tag.
type Protocol string

const (
	ProtocolUnknown  Protocol = "unknown"
	ProtocolTCP      Protocol = "tcp"
	ProtocolUDP      Protocol = "udp"
	ProtocolICMP     Protocol = "icmp"
	ProtocolIGMP     Protocol = "igmp"
	ProtocolSOMEIP   Protocol = "someip"
	ProtocolDoIP     Protocol = "doip"
	ProtocolGBT32960 Protocol = "gbt32960"
	ProtocolHTTP     Protocol = "http"
	ProtocolTLS      Protocol = "tls"
	ProtocolDNS      Protocol = "dns"
	ProtocolMQTT     Protocol = "mqtt"
	ProtocolFTP      Protocol = "ftp"
	ProtocolTelnet   Protocol = "telnet"
)

// SomeIPMetadata is the automotive SOME/IP service-call summary.
type SomeIPMetadata struct {
	ServiceID   uint16 `json:"service_id"`
	MethodID    uint16 `json:"method_id"`
	ClientID    uint16 `json:"client_id"`
	SessionID   uint16 `json:"session_id"`
	MessageType uint8  `json:"message_type"`
	ReturnCode  uint8  `json:"return_code"`
}

// DoIPMetadata is the automotive diagnostics-over-IP addressing summary.
type DoIPMetadata struct {
	PayloadType     uint16 `json:"payload_type"`
	SourceAddress   uint16 `json:"source_address"`
	TargetAddress   uint16 `json:"target_address"`
	UDSService      uint8  `json:"uds_service"`
	ActivationType  uint8  `json:"activation_type"`
}

// GBT32960Metadata is the telematics (GB/T 32960) command summary.
type GBT32960Metadata struct {
	Command    uint8  `json:"command"`
	VIN        string `json:"vin"`
	Encryption uint8  `json:"encryption"`
}

// HTTPMetadata is an HTTP request/response summary.
type HTTPMetadata struct {
	Method      string `json:"method"`
	URI         string `json:"uri"`
	Host        string `json:"host"`
	UserAgent   string `json:"user_agent"`
	StatusCode  uint16 `json:"status_code"`
	ContentType string `json:"content_type"`
}

// DNSMetadata is a DNS query/response summary.
type DNSMetadata struct {
	QueryType    string `json:"query_type"`
	QueryName    string `json:"query_name"`
	ResponseCode string `json:"response_code"`
}

// FloodMetadata is a denial-of-service flood-detection summary.
type FloodMetadata struct {
	AttackType  string `json:"attack_type"`
	PacketCount uint64 `json:"packet_count"`
	DurationMs  uint32 `json:"duration_ms"`
	PPSRate     uint32 `json:"pps_rate"`
	Threshold   uint32 `json:"threshold"`
}

// Metadata is the tagged per-protocol metadata variant. At most one field
// is non-nil; which one is non-nil is consistent with Protocol.
type Metadata struct {
	SomeIP   *SomeIPMetadata   `json:"someip,omitempty"`
	DoIP     *DoIPMetadata     `json:"doip,omitempty"`
	GBT32960 *GBT32960Metadata `json:"gbt32960,omitempty"`
	HTTP     *HTTPMetadata     `json:"http,omitempty"`
	DNS      *DNSMetadata      `json:"dns,omitempty"`
	Flood    *FloodMetadata    `json:"flood,omitempty"`
}

// SecurityEvent is one detector finding. Copied by value across the queue
// and into storage; never aliased across goroutines.
type SecurityEvent struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Kind          EventKind `json:"event_type"`
	Severity      Severity  `json:"severity"`
	SrcAddr       string    `json:"src_addr"`
	SrcPort       int       `json:"src_port"`
	DstAddr       string    `json:"dst_addr"`
	DstPort       int       `json:"dst_port"`
	Protocol      Protocol  `json:"protocol"`
	RuleSID       int64     `json:"rule_sid"`
	RuleGID       int       `json:"rule_gid"`
	Message       string    `json:"message"`
	Metadata      *Metadata `json:"metadata,omitempty"`
	Interface     string    `json:"interface,omitempty"`
}

// Stats is a snapshot of detector-reported counters. The daemon overwrites
// this in place; the latest snapshot is the source of truth.
type Stats struct {
	UptimeSeconds   uint64  `json:"uptime_seconds"`
	PacketsCaptured uint64  `json:"packets_captured"`
	BytesCaptured   uint64  `json:"bytes_captured"`
	PacketsDropped  uint64  `json:"packets_dropped"`
	CaptureErrors   uint64  `json:"capture_errors"`
	AlertsTotal     uint64  `json:"alerts_total"`
	RulesLoaded     uint32  `json:"rules_loaded"`
	RulesFailed     uint32  `json:"rules_failed"`
	FlowsActive     uint32  `json:"flows_active"`
	FlowsTotal      uint64  `json:"flows_total"`
	MemUsedMB       float64 `json:"memory_used_mb"`
	MemLimitMB      uint32  `json:"memory_limit_mb"`
	AvgLatencyUs    uint32  `json:"avg_latency_us"`
	P99LatencyUs    uint32  `json:"p99_latency_us"`
	PPS             uint32  `json:"pps"`
}
