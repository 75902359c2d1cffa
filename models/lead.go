package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// LeadVariables are the per-lead values substituted into message templates.
type LeadVariables map[string]string

// Scan implements the sql.Scanner interface for LeadVariables.
func (v *LeadVariables) Scan(value any) error {
	if value == nil {
		*v = LeadVariables{}
		return nil
	}
	var data []byte
	switch t := value.(type) {
	case string:
		data = []byte(t)
	case []byte:
		data = t
	default:
		return fmt.Errorf("cannot scan %T into LeadVariables", value)
	}
	out := LeadVariables{}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*v = out
	return nil
}

// Value implements the driver.Valuer interface for LeadVariables.
func (v LeadVariables) Value() (driver.Value, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Lead is the read model of a CRM lead. Lead records are owned by the CRM; this
// service only reads the fields needed to address and personalize a message.
type Lead struct {
	ID        uint          `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string        `gorm:"type:varchar(255)" json:"name"`
	Phone     string        `gorm:"type:varchar(32);not null;index" json:"phone"`
	Variables LeadVariables `gorm:"type:jsonb" json:"variables,omitempty"`
	CreatedAt time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Lead) TableName() string { return "leads" }

// TemplateData merges the built-in fields with the lead's custom variables.
func (l Lead) TemplateData() map[string]string {
	data := make(map[string]string, len(l.Variables)+2)
	for k, v := range l.Variables {
		data[k] = v
	}
	data["name"] = l.Name
	data["phone"] = l.Phone
	return data
}
