package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"

	"github.com/smallbiznis/tumblebus/internal/cart"
	"github.com/smallbiznis/tumblebus/internal/status"
)

type Enrollment struct {
	ID                snowflake.ID                       `gorm:"primaryKey" json:"id"`
	Email             string                             `gorm:"not null;uniqueIndex" json:"email"`
	ParentFirstName   string                             `gorm:"not null" json:"parent_first_name"`
	ParentLastName    string                             `gorm:"not null" json:"parent_last_name"`
	Phone             string                             `gorm:"not null" json:"phone"`
	Address           string                             `json:"address,omitempty"`
	EmergencyName     string                             `json:"emergency_name,omitempty"`
	EmergencyPhone    string                             `json:"emergency_phone,omitempty"`
	EmergencyRelation string                             `json:"emergency_relation,omitempty"`
	ReferralSource    string                             `json:"referral_source,omitempty"`
	Notes             string                             `json:"notes,omitempty"`
	PackageID         string                             `gorm:"index" json:"package_id,omitempty"`
	PlanDescriptor    string                             `json:"plan_descriptor,omitempty"`
	Selection         datatypes.JSONType[cart.Selection] `json:"selection"`
	AmountCents       int64                              `gorm:"not null" json:"amount_cents"`
	Currency          string                             `gorm:"not null;default:'usd'" json:"currency"`
	Status            string                             `gorm:"not null;index;default:'pending'" json:"status"`
	EnrolledAt        time.Time                          `gorm:"not null" json:"enrolled_at"`
	LastPaymentAt     *time.Time                         `json:"last_payment_at"`
	IsNew             bool                               `gorm:"not null;default:false" json:"is_new"`
	ReviewedAt        *time.Time                         `json:"reviewed_at,omitempty"`
	CheckoutProvider  string                             `json:"checkout_provider,omitempty"`
	CheckoutReference string                             `gorm:"index" json:"checkout_reference,omitempty"`
	Children          []Child                            `gorm:"foreignKey:EnrollmentID;constraint:OnDelete:CASCADE" json:"children"`
	CreatedAt         time.Time                          `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time                          `gorm:"not null" json:"updated_at"`
}

func (Enrollment) TableName() string { return "enrollments" }

func (e Enrollment) ParentName() string {
	return strings.TrimSpace(e.ParentFirstName + " " + e.ParentLastName)
}

// Evaluate derives the effective status at now. Malformed stored values
// come back as *status.InvalidRecordError tagged with the record id.
func (e Enrollment) Evaluate(now time.Time) (status.Evaluation, error) {
	eval, err := status.Evaluate(e.Status, e.LastPaymentAt, now)
	if err != nil {
		return status.Evaluation{}, status.WithRecord(err, e.ID.String())
	}
	return eval, nil
}

type Child struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	EnrollmentID      snowflake.ID `gorm:"not null;index" json:"enrollment_id"`
	Position          int          `gorm:"not null" json:"position"`
	FirstName         string       `gorm:"not null" json:"first_name"`
	LastName          string       `gorm:"not null" json:"last_name"`
	Age               int          `gorm:"not null" json:"age"`
	BirthDate         *time.Time   `json:"birth_date,omitempty"`
	Sex               string       `json:"sex,omitempty"`
	School            string       `gorm:"not null" json:"school"`
	Classroom         string       `json:"classroom,omitempty"`
	ShirtSize         string       `gorm:"not null" json:"shirt_size"`
	TreatAllowed      bool         `gorm:"not null;default:false" json:"treat_allowed"`
	Allergies         string       `json:"allergies,omitempty"`
	MedicalConditions string       `json:"medical_conditions,omitempty"`
}

func (Child) TableName() string { return "enrollment_children" }

func (c Child) Name() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}
