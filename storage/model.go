package storage

import "github.com/chenlehua/vnidsd/types"

// eventRow is the gorm model for the events table, matching spec.md §6's
// persisted-state layout and the exact schema recovered from
// original_source/vnidsd/src/storage.c.
//
// event_id is stored as TEXT rather than the source's INTEGER: spec.md §3
// names the security event's id as textual (a UUID), and this store keeps
// that shape rather than reintroducing a numeric surrogate the rest of the
// core never produces. signature_rev has no extractor in parser.Parse (EVE
// alert objects carry a "rev" field this parser does not read per spec.md
// §4.3's branch table); this column stores the rule group id (RuleGID)
// instead, the closest identifier the event actually carries.
type eventRow struct {
	ID             uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	EventID        string `gorm:"column:event_id;index"`
	Timestamp      int64  `gorm:"column:timestamp;index:idx_events_timestamp,sort:desc"`
	TimestampUsec  int64  `gorm:"column:timestamp_usec"`
	EventType      string `gorm:"column:event_type"`
	Severity       int    `gorm:"column:severity;index:idx_events_severity"`
	Protocol       string `gorm:"column:protocol"`
	SrcIP          string `gorm:"column:src_ip"`
	SrcPort        int    `gorm:"column:src_port"`
	DstIP          string `gorm:"column:dst_ip"`
	DstPort        int    `gorm:"column:dst_port"`
	SignatureID    int64  `gorm:"column:signature_id;index:idx_events_signature"`
	SignatureRev   int    `gorm:"column:signature_rev"`
	SignatureMsg   string `gorm:"column:signature_msg"`
	Classification string `gorm:"column:classification"`
	Interface      string `gorm:"column:interface"`
	CreatedAt      int64  `gorm:"column:created_at;autoCreateTime"`
}

func (eventRow) TableName() string {
	return "events"
}

// fromEvent converts a domain SecurityEvent into its storage row.
func fromEvent(event types.SecurityEvent) eventRow {
	sec, usec := event.Timestamp.Unix(), int64(event.Timestamp.Nanosecond()/1000)
	return eventRow{
		EventID:       event.ID,
		Timestamp:     sec,
		TimestampUsec: usec,
		EventType:     string(event.Kind),
		Severity:      int(event.Severity),
		Protocol:      string(event.Protocol),
		SrcIP:         event.SrcAddr,
		SrcPort:       event.SrcPort,
		DstIP:         event.DstAddr,
		DstPort:       event.DstPort,
		SignatureID:   event.RuleSID,
		SignatureRev:  event.RuleGID,
		SignatureMsg:  event.Message,
		Interface:     event.Interface,
	}
}

// toEvent converts a storage row back into a domain SecurityEvent for
// list_events responses. Metadata is not persisted (spec.md §4.8 does not
// name it among the stored columns) so round-tripped events carry a nil
// Metadata field.
func (r eventRow) toEvent() types.SecurityEvent {
	return types.SecurityEvent{
		ID:        r.EventID,
		Timestamp: secUsecToTime(r.Timestamp, r.TimestampUsec),
		Kind:      types.EventKind(r.EventType),
		Severity:  types.Severity(r.Severity),
		SrcAddr:   r.SrcIP,
		SrcPort:   r.SrcPort,
		DstAddr:   r.DstIP,
		DstPort:   r.DstPort,
		Protocol:  types.Protocol(r.Protocol),
		RuleSID:   r.SignatureID,
		RuleGID:   r.SignatureRev,
		Message:   r.SignatureMsg,
		Interface: r.Interface,
	}
}
