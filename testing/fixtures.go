package testing

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/amirphl/leadflow/models"
	"github.com/amirphl/leadflow/utils"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestLead creates a lead with a random Iranian mobile number
func (tf *TestFixtures) CreateTestLead(name string, vars map[string]string) (*models.Lead, error) {
	lead := &models.Lead{
		Name:      name,
		Phone:     fmt.Sprintf("989%09d", rand.Intn(900000000)+100000000),
		Variables: models.LeadVariables(vars),
	}
	if err := tf.DB.DB.Create(lead).Error; err != nil {
		return nil, fmt.Errorf("failed to create test lead: %w", err)
	}
	return lead, nil
}

// CreateTestTemplate creates a message template
func (tf *TestFixtures) CreateTestTemplate(body string) (*models.MessageTemplate, error) {
	tpl := &models.MessageTemplate{
		Name: fmt.Sprintf("template-%d", rand.Intn(1000000)),
		Body: body,
	}
	if err := tf.DB.DB.Create(tpl).Error; err != nil {
		return nil, fmt.Errorf("failed to create test template: %w", err)
	}
	return tpl, nil
}

// CreateTestColumn creates an active column at the given order
func (tf *TestFixtures) CreateTestColumn(name string, order int, spec models.RecurrenceSpec, templateID *uint) (*models.AutomationColumn, error) {
	if spec.Anchor.IsZero() {
		spec.Anchor = utils.UTCNow()
	}
	column := &models.AutomationColumn{
		Name:       name,
		Order:      order,
		IsActive:   true,
		Recurrence: spec,
		TemplateID: templateID,
	}
	if err := tf.DB.DB.Create(column).Error; err != nil {
		return nil, fmt.Errorf("failed to create test column %s: %w", name, err)
	}
	return column, nil
}

// CreateTestPosition places a lead in a column with the given status and next fire
func (tf *TestFixtures) CreateTestPosition(leadID, columnID uint, status models.PositionStatus, next *time.Time) (*models.LeadAutomationPosition, error) {
	pos := &models.LeadAutomationPosition{
		LeadID:          leadID,
		ColumnID:        columnID,
		Status:          status,
		NextScheduledAt: utils.TimeToUTCPtr(next),
	}
	if err := tf.DB.DB.Create(pos).Error; err != nil {
		return nil, fmt.Errorf("failed to create test position: %w", err)
	}
	return pos, nil
}
