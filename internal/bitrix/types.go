package bitrix

import "time"

// UnknownDuration marks a call whose duration the portal did not report.
const UnknownDuration = -1

// Direction of a call relative to the portal.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionUnknown  Direction = "unknown"
)

// ContactRef points at a CRM entity linked to a call.
type ContactRef struct {
	EntityType string `json:"entity_type,omitempty"` // CONTACT, LEAD, COMPANY, DEAL
	EntityID   string `json:"entity_id,omitempty"`
	ActivityID string `json:"activity_id,omitempty"`
}

func (r ContactRef) Empty() bool { return r.EntityType == "" || r.EntityID == "" }

// Call is one telephony event from voximplant statistics.
type Call struct {
	ID               string
	CallID           string
	StartTime        time.Time
	StartRaw         string
	DurationSeconds  int
	RecordingAddress string
	Direction        Direction
	Contact          ContactRef
	PhoneNumber      string
}

// HasDuration reports whether the portal supplied a duration.
func (c Call) HasDuration() bool { return c.DurationSeconds != UnknownDuration }

// statRow mirrors a voximplant.statistic.get item. Bitrix sends most numbers as strings.
type statRow struct {
	ID            flexString `json:"ID"`
	CallID        flexString `json:"CALL_ID"`
	CallType      flexString `json:"CALL_TYPE"`
	CallStartDate flexString `json:"CALL_START_DATE"`
	CallDuration  flexString `json:"CALL_DURATION"`
	CallRecordURL flexString `json:"CALL_RECORD_URL"`
	CRMEntityType flexString `json:"CRM_ENTITY_TYPE"`
	CRMEntityID   flexString `json:"CRM_ENTITY_ID"`
	CRMActivityID flexString `json:"CRM_ACTIVITY_ID"`
	PhoneNumber   flexString `json:"PHONE_NUMBER"`
}
