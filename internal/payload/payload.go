// Package payload decodes the JSON string carried by an inbound channel
// message into a shared envelope plus a channel-specific record.
//
// Only syntactically invalid JSON is an error. A valid document that is not
// an object, or an object missing the expected fields, decodes to an
// envelope with empty fields, matching how the screens read optional keys.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/large-farva/agentron/internal/channel"
)

// ErrParse marks a payload that is not valid JSON.
var ErrParse = errors.New("payload parse error")

// Envelope is the decoded form of a channel payload.
type Envelope struct {
	// UUID is the analysis session id, present on most channels.
	UUID string `json:"uuid,omitempty"`
	// TrackingID is only extracted for TRACKING_STATUS.
	TrackingID string `json:"tracking_id,omitempty"`
	// Raw holds the original document; nil when the payload was empty.
	Raw json.RawMessage `json:"raw,omitempty"`
	// Record is the channel-specific view of the document.
	Record any `json:"record,omitempty"`
}

// Empty reports whether no payload was supplied at all.
func (e Envelope) Empty() bool {
	return len(e.Raw) == 0
}

// ErrorReport is the record for ERROR_REPORT payloads.
type ErrorReport struct {
	UUID string `json:"uuid"`
}

// SelfCheck is the record for SELF_CHECKLIST payloads.
type SelfCheck struct {
	UUID string `json:"uuid"`
}

// ActionRec is the record for ACTION_REC payloads.
type ActionRec struct {
	UUID     string `json:"uuid"`
	ReportID string `json:"report_id,omitempty"`
}

// PartSelect is the record for PART_SELECT payloads. The event carries a
// messaging session record.
type PartSelect struct {
	SessionID string `json:"session_id,omitempty"`
	ReportID  string `json:"report_id,omitempty"`
	UUID      string `json:"uuid,omitempty"`
}

// SelfQuote is the record for SELF_QUOTE payloads.
type SelfQuote struct {
	ServiceQuoteID string `json:"service_quote_id,omitempty"`
	AccountID      string `json:"account_id,omitempty"`
}

// Tracking is the record for TRACKING_STATUS payloads.
type Tracking struct {
	TrackingID string `json:"tracking_id"`
}

// Decode parses jsonString for channel c. An empty string yields an empty
// envelope and no error.
func Decode(c channel.Channel, jsonString string) (Envelope, error) {
	if strings.TrimSpace(jsonString) == "" {
		return Envelope{}, nil
	}
	raw := []byte(jsonString)
	if !json.Valid(raw) {
		return Envelope{}, fmt.Errorf("%w: %s: invalid JSON", ErrParse, c)
	}

	env := Envelope{Raw: json.RawMessage(raw)}
	fields := objectFields(raw)

	env.UUID = stringField(fields, "uuid")
	if c == channel.TrackingStatus {
		env.TrackingID = stringField(fields, "trackingId")
	}
	env.Record = decodeRecord(c, fields)
	return env, nil
}

func decodeRecord(c channel.Channel, f map[string]json.RawMessage) any {
	switch c {
	case channel.ErrorReport:
		return ErrorReport{UUID: stringField(f, "uuid")}
	case channel.SelfCheckList:
		return SelfCheck{UUID: stringField(f, "uuid")}
	case channel.ActionRec:
		return ActionRec{
			UUID:     stringField(f, "uuid"),
			ReportID: firstString(f, "reportId", "RiskAnalyzeReportId__c"),
		}
	case channel.PartSelect:
		return PartSelect{
			SessionID: stringField(f, "Id"),
			ReportID:  stringField(f, "RiskAnalyzeReportId__c"),
			UUID:      stringField(f, "uuid"),
		}
	case channel.SelfQuote:
		return SelfQuote{
			ServiceQuoteID: firstString(f, "ServiceQuoteId__c", "ServiceQuote__c", "serviceQuoteId", "Id"),
			AccountID:      firstString(f, "accountId", "AccountId"),
		}
	case channel.TrackingStatus:
		return Tracking{TrackingID: stringField(f, "trackingId")}
	default:
		return nil
	}
}

// objectFields returns the top-level members of raw, or nil if raw is not
// a JSON object.
func objectFields(raw []byte) map[string]json.RawMessage {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// stringField reads key as a string. Numbers are accepted in their literal
// form since record ids sometimes arrive unquoted.
func stringField(m map[string]json.RawMessage, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	return ""
}

func firstString(m map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		if s := stringField(m, k); s != "" {
			return s
		}
	}
	return ""
}
