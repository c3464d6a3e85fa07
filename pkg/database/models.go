package database

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

const systemInfoID = 1

// SystemInfo is the single row recording which schema and software version
// last opened the database
type SystemInfo struct {
	ID              uint      `gorm:"primarykey" json:"-"`
	SchemaVersion   int       `gorm:"not null" json:"schema_version"`
	SoftwareVersion string    `gorm:"size:64" json:"software_version"`
	StartedAt       time.Time `json:"started_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName specifies the table name for SystemInfo
func (SystemInfo) TableName() string {
	return "system_info"
}

// Call is one finished voice stream seen by the gateway
type Call struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	StreamID    uint32    `gorm:"index" json:"stream_id"`
	SourceID    uint32    `gorm:"index;not null" json:"source_id"`
	TalkgroupID uint32    `gorm:"index;not null" json:"talkgroup_id"`
	Timeslot    int       `gorm:"not null" json:"timeslot"`
	RepeaterID  uint32    `gorm:"index" json:"repeater_id"`
	Duration    float64   `gorm:"not null" json:"duration"` // Duration in seconds
	StartTime   time.Time `gorm:"index;not null" json:"start_time"`
	EndTime     time.Time `gorm:"not null" json:"end_time"`
	PacketCount int       `gorm:"default:0" json:"packet_count"`
	TimedOut    bool      `json:"timed_out"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for Call
func (Call) TableName() string {
	return "calls"
}

// BeforeCreate hook to ensure StartTime and EndTime are set
func (c *Call) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.StartTime.IsZero() {
		c.StartTime = now
	}
	if c.EndTime.IsZero() {
		c.EndTime = c.StartTime
	}
	return nil
}

// Subscriber is one entry of the radio id directory, used to put callsigns
// on calls
type Subscriber struct {
	RadioID   uint32    `gorm:"primarykey;autoIncrement:false" json:"radio_id"`
	Callsign  string    `gorm:"index;size:20" json:"callsign"`
	Name      string    `gorm:"size:100" json:"name"`
	City      string    `gorm:"size:50" json:"city"`
	State     string    `gorm:"size:50" json:"state"`
	Country   string    `gorm:"size:50" json:"country"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for Subscriber
func (Subscriber) TableName() string {
	return "subscribers"
}

// Location joins the non-empty city, state and country
func (s *Subscriber) Location() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{s.City, s.State, s.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
