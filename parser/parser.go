// Package parser decodes a single newline-terminated EVE JSON line from the
// detector's event stream into a typed security event or a detector-stats
// snapshot, per spec.md §4.3.
//
// Grounded line-for-line on original_source/vnidsd/src/eve_parser.c for
// branch order, the severity-from-priority mapping, protocol inference, and
// the automotive-metadata-forces-protocol override, which the source applies
// *after* the type-specific branch — preserved exactly here. encoding/json
// fills the role of the structured-log codec spec.md §1 names as an
// out-of-scope collaborator: the codec itself is a black box, not a
// component this package owns.
package parser

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chenlehua/vnidsd/types"
	"github.com/chenlehua/vnidsd/vnidserr"
)

// Result classifies what Parse produced.
type Result int

const (
	// ResultEvent means Event is populated with a security event.
	ResultEvent Result = iota
	// ResultStats means Stats is populated with a detector-stats snapshot.
	ResultStats
	// ResultSkip means the line was well-formed but carries nothing the
	// dispatcher needs (a flow-telemetry event). Stats frames always yield
	// ResultStats.
	ResultSkip
)

// eveRoot is the subset of the EVE JSON schema this parser understands.
// Fields are probed individually rather than via one monolithic struct tag
// set, mirroring the source's per-key cJSON_GetObjectItem lookups.
type eveRoot struct {
	Timestamp string `json:"timestamp"`
	EventType string `json:"event_type"`
	SrcIP     string `json:"src_ip"`
	SrcPort   int    `json:"src_port"`
	DestIP    string `json:"dest_ip"`
	DestPort  int    `json:"dest_port"`
	Proto     string `json:"proto"`
	AppProto  string `json:"app_proto"`
	Iface     string `json:"iface"`

	Alert *struct {
		SignatureID int64  `json:"signature_id"`
		GID         int    `json:"gid"`
		Severity    int    `json:"severity"`
		Signature   string `json:"signature"`
	} `json:"alert"`

	Anomaly *struct {
		Type string `json:"type"`
	} `json:"anomaly"`

	SomeIP *struct {
		ServiceID   uint16 `json:"service_id"`
		MethodID    uint16 `json:"method_id"`
		ClientID    uint16 `json:"client_id"`
		SessionID   uint16 `json:"session_id"`
		MessageType uint8  `json:"message_type"`
		ReturnCode  uint8  `json:"return_code"`
	} `json:"someip"`

	DoIP *struct {
		PayloadType    uint16 `json:"payload_type"`
		SourceAddress  uint16 `json:"source_address"`
		TargetAddress  uint16 `json:"target_address"`
		UDSService     uint8  `json:"uds_service"`
		ActivationType uint8  `json:"activation_type"`
	} `json:"doip"`

	Stats *eveStats `json:"stats"`
}

type eveStats struct {
	Uptime uint64 `json:"uptime"`

	Capture struct {
		KernelPackets uint64 `json:"kernel_packets"`
		KernelDrops   uint64 `json:"kernel_drops"`
	} `json:"capture"`

	Decoder struct {
		Bytes uint64 `json:"bytes"`
	} `json:"decoder"`

	Detect struct {
		Alert uint64 `json:"alert"`
	} `json:"detect"`

	FlowMgr struct {
		FlowsActive uint32 `json:"flows_active"`
	} `json:"flow_mgr"`

	Flow struct {
		MemUse uint64 `json:"memuse"`
	} `json:"flow"`
}

// Parse decodes one EVE JSON line. It returns (ResultEvent, event, nil),
// (ResultStats, nil, stats), (ResultSkip, nil, nil), or a non-nil
// *vnidserr.Error with Code CodeParse on malformed input. Never panics.
func Parse(line string) (Result, *types.SecurityEvent, *types.Stats, error) {
	var root eveRoot
	if err := json.Unmarshal([]byte(line), &root); err != nil {
		return ResultSkip, nil, nil, vnidserr.Wrap(vnidserr.CodeParse, "malformed eve json", err)
	}

	if root.EventType == "" {
		return ResultSkip, nil, nil, vnidserr.New(vnidserr.CodeParse, "missing event_type")
	}

	if root.EventType == "stats" {
		if root.Stats == nil {
			return ResultSkip, nil, nil, vnidserr.New(vnidserr.CodeParse, "stats event missing stats object")
		}
		return ResultStats, nil, parseStats(root.Stats), nil
	}

	event := &types.SecurityEvent{}
	event.Timestamp = parseTimestamp(root.Timestamp)
	applyFlowFields(&root, event)

	switch root.EventType {
	case "alert":
		if err := applyAlert(&root, event); err != nil {
			return ResultSkip, nil, nil, err
		}
	case "anomaly":
		applyAnomaly(&root, event)
	case "flow":
		// Flow events are connection telemetry, not findings; skip per
		// spec.md §4.3 and the source's "skip flow events" comment.
		return ResultSkip, nil, nil, nil
	default:
		// Unrecognized type: treat as alert only if an alert object is
		// present, per spec.md §4.3 / eve_parser.c's fallback branch.
		if root.Alert != nil {
			if err := applyAlert(&root, event); err != nil {
				return ResultSkip, nil, nil, err
			}
		} else {
			return ResultSkip, nil, nil, vnidserr.New(vnidserr.CodeParse, fmt.Sprintf("unrecognized event_type %q", root.EventType))
		}
	}

	// Protocol-specific metadata extraction runs after the type-specific
	// branch and overrides protocol inference, exactly as eve_parser.c does.
	applyMetadataOverrides(&root, event)

	return ResultEvent, event, nil, nil
}

func parseStats(s *eveStats) *types.Stats {
	return &types.Stats{
		UptimeSeconds:   s.Uptime,
		PacketsCaptured: s.Capture.KernelPackets,
		PacketsDropped:  s.Capture.KernelDrops,
		BytesCaptured:   s.Decoder.Bytes,
		AlertsTotal:     s.Detect.Alert,
		FlowsActive:     s.FlowMgr.FlowsActive,
		MemUsedMB:       float64(s.Flow.MemUse) / (1024 * 1024),
	}
}

func applyFlowFields(root *eveRoot, event *types.SecurityEvent) {
	event.SrcAddr = root.SrcIP
	event.SrcPort = root.SrcPort
	event.DstAddr = root.DestIP
	event.DstPort = root.DestPort
	event.Interface = root.Iface
	event.Protocol = inferProtocol(root.Proto, root.AppProto)
}

func applyAlert(root *eveRoot, event *types.SecurityEvent) error {
	event.Kind = types.EventKindAlert
	if root.Alert == nil {
		return vnidserr.New(vnidserr.CodeParse, "alert event missing alert object")
	}
	event.RuleSID = root.Alert.SignatureID
	event.RuleGID = root.Alert.GID
	if event.RuleGID == 0 {
		event.RuleGID = 1 // EVE convention: GID 1 is the builtin rule group.
	}
	event.Severity = types.SeverityFromPriority(root.Alert.Severity)
	event.Message = root.Alert.Signature
	return nil
}

func applyAnomaly(root *eveRoot, event *types.SecurityEvent) {
	event.Kind = types.EventKindAnomaly
	event.Severity = types.SeverityMedium
	if root.Anomaly != nil && root.Anomaly.Type != "" {
		event.Message = root.Anomaly.Type
	} else {
		event.Message = "Network anomaly detected"
	}
}

func applyMetadataOverrides(root *eveRoot, event *types.SecurityEvent) {
	if root.SomeIP != nil && root.SomeIP.ServiceID != 0 {
		event.Protocol = types.ProtocolSOMEIP
		event.Metadata = &types.Metadata{SomeIP: &types.SomeIPMetadata{
			ServiceID:   root.SomeIP.ServiceID,
			MethodID:    root.SomeIP.MethodID,
			ClientID:    root.SomeIP.ClientID,
			SessionID:   root.SomeIP.SessionID,
			MessageType: root.SomeIP.MessageType,
			ReturnCode:  root.SomeIP.ReturnCode,
		}}
	}
	if root.DoIP != nil && root.DoIP.PayloadType != 0 {
		event.Protocol = types.ProtocolDoIP
		event.Metadata = &types.Metadata{DoIP: &types.DoIPMetadata{
			PayloadType:    root.DoIP.PayloadType,
			SourceAddress:  root.DoIP.SourceAddress,
			TargetAddress:  root.DoIP.TargetAddress,
			UDSService:     root.DoIP.UDSService,
			ActivationType: root.DoIP.ActivationType,
		}}
	}
}

// inferProtocol prefers the application-protocol tag over the transport tag,
// per spec.md §4.3 and eve_parser.c's parse_protocol.
func inferProtocol(proto, appProto string) types.Protocol {
	if tag, ok := protocolFromAppProto(appProto); ok {
		return tag
	}
	switch strings.ToUpper(proto) {
	case "TCP":
		return types.ProtocolTCP
	case "UDP":
		return types.ProtocolUDP
	case "ICMP":
		return types.ProtocolICMP
	case "IGMP":
		return types.ProtocolIGMP
	default:
		return types.ProtocolUnknown
	}
}

func protocolFromAppProto(appProto string) (types.Protocol, bool) {
	switch strings.ToLower(appProto) {
	case "http":
		return types.ProtocolHTTP, true
	case "tls":
		return types.ProtocolTLS, true
	case "dns":
		return types.ProtocolDNS, true
	case "mqtt":
		return types.ProtocolMQTT, true
	case "ftp":
		return types.ProtocolFTP, true
	case "telnet":
		return types.ProtocolTelnet, true
	case "someip":
		return types.ProtocolSOMEIP, true
	case "doip":
		return types.ProtocolDoIP, true
	case "gbt32960":
		return types.ProtocolGBT32960, true
	default:
		return "", false
	}
}

// parseTimestamp parses the detector's ISO-8601-like timestamp
// ("YYYY-MM-DDTHH:MM:SS.uuuuuu±ZZZZ") into a time.Time carrying
// seconds+microseconds. A malformed or empty timestamp yields the zero
// time rather than a parse error, matching the source's tolerant behavior
// (parse_timestamp is a best-effort decoration, not a required field).
func parseTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		"2006-01-02T15:04:05.999999-0700",
		"2006-01-02T15:04:05-0700",
		time.RFC3339Nano,
		time.RFC3339,
	} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t
		}
	}
	return time.Time{}
}

// TimestampToUsec splits a time.Time into seconds-since-epoch and the
// residual microsecond component, per spec.md §3's "seconds + microseconds"
// field shape. storage/model.go's fromEvent does the same split inline for
// the persisted timestamp_usec column.
func TimestampToUsec(t time.Time) (sec int64, usec int64) {
	return t.Unix(), int64(t.Nanosecond() / 1000)
}
