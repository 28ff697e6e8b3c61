package models

import "time"

// API credentials
type APIKey struct {
	ID         int64      `gorm:"primaryKey;autoIncrement"`
	UserID     int64      `gorm:"index;not null"`
	Name       string     `gorm:"type:varchar(255)"`
	ClientKey  string     `gorm:"type:varchar(100);uniqueIndex:idx_client_secret;not null"`
	SecretKey  string     `gorm:"type:varchar(100);uniqueIndex:idx_client_secret;not null"`
	Status     string     `gorm:"type:varchar(20);not null;default:active"`
	ExpiresAt  *time.Time `gorm:"index"`
	LastUsedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (APIKey) TableName() string {
	return "api_keys"
}

// Per-route rate limits
type APIKeyLimit struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	APIKeyID    int64  `gorm:"index;not null"`
	RoutePrefix string `gorm:"type:varchar(255);not null;default:*"`
	PerMin      int    `gorm:"not null"`
	Burst       *int
	CreatedAt   time.Time
}

func (APIKeyLimit) TableName() string {
	return "api_key_limits"
}

// IP allowlist
type APIKeyIP struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	APIKeyID  int64  `gorm:"index;not null"`
	IPPattern string `gorm:"type:varchar(64);not null"`
	CreatedAt time.Time
}

func (APIKeyIP) TableName() string {
	return "api_key_ips"
}

// Credential owners
type User struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"type:varchar(255)"`
	Email     string `gorm:"type:varchar(255)"`
	Organizer string `gorm:"type:varchar(20);index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (User) TableName() string {
	return "users"
}

// EbsEvent is a row of the event-based surveillance tables. The central and
// provincial sources share this shape, so it carries no named indexes.
type EbsEvent struct {
	EventID           int64      `gorm:"primaryKey;autoIncrement" json:"event_id"`
	EventNotifierDate *time.Time `gorm:"type:date" json:"event_notifier_date"`
	DiseaseName       string     `gorm:"type:varchar(255)" json:"disease_name"`
	DiseaseGroup      string     `gorm:"type:varchar(100)" json:"disease_group"`
	ProvinceID        int        `json:"province_id"`
	EventByZone       string     `gorm:"type:varchar(100)" json:"event_by_zone"`
	EventByProvince   string     `gorm:"type:varchar(100)" json:"event_by_province"`
	EventDetail       string     `gorm:"type:text" json:"event_detail"`
	ReporterName      string     `gorm:"type:varchar(255)" json:"reporter_name"`
	ReporterPhone     string     `gorm:"type:varchar(50)" json:"reporter_phone"`
	Attachments       string     `gorm:"column:AAAS;type:text" json:"attachments"`
}

// EbsSources maps the public source name to its table.
var EbsSources = map[string]string{
	"ebs":      "ebs_ddc_api",
	"ebs_prov": "ebs_prov_api",
}
