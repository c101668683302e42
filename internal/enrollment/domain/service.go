package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/smallbiznis/tumblebus/internal/cart"
	"github.com/smallbiznis/tumblebus/internal/status"
	"github.com/smallbiznis/tumblebus/pkg/db/pagination"
)

type ChildInput struct {
	FirstName         string `json:"first_name"`
	LastName          string `json:"last_name"`
	Age               *int   `json:"age"`
	BirthDate         string `json:"birth_date"`
	Sex               string `json:"sex"`
	School            string `json:"school"`
	Classroom         string `json:"classroom"`
	ShirtSize         string `json:"shirt_size"`
	TreatAllowed      bool   `json:"treat_allowed"`
	Allergies         string `json:"allergies"`
	MedicalConditions string `json:"medical_conditions"`
}

type CreateEnrollmentRequest struct {
	// ID may be allocated by the caller before checkout; zero generates one.
	ID                snowflake.ID
	Email             string
	ParentFirstName   string
	ParentLastName    string
	Phone             string
	Address           string
	EmergencyName     string
	EmergencyPhone    string
	EmergencyRelation string
	ReferralSource    string
	Notes             string
	PackageID         string
	PlanDescriptor    string
	Selection         cart.Selection
	AmountCents       int64
	Currency          string
	Status            string
	Children          []ChildInput
	CheckoutProvider  string
	CheckoutReference string
}

type UpdateEnrollmentRequest struct {
	ID                string
	Email             *string
	ParentFirstName   *string
	ParentLastName    *string
	Phone             *string
	Address           *string
	EmergencyName     *string
	EmergencyPhone    *string
	EmergencyRelation *string
	Notes             *string
	PlanDescriptor    *string
	AmountCents       *int64
	Children          *[]ChildInput
}

type ListEnrollmentRequest struct {
	Text      string
	Status    string
	SortBy    string
	SortOrder string
	Page      int
	Limit     int
}

// Listing is one directory row: the record plus its derived status. Invalid
// is set instead of Evaluation when the record cannot be evaluated.
type Listing struct {
	Enrollment Enrollment         `json:"enrollment"`
	Evaluation *status.Evaluation `json:"evaluation,omitempty"`
	Message    string             `json:"message,omitempty"`
	Invalid    string             `json:"invalid,omitempty"`
}

type ListEnrollmentResponse struct {
	pagination.PageInfo
	Items    []Listing `json:"items"`
	Warnings []string  `json:"warnings,omitempty"`
}

type ChangeStatusRequest struct {
	ID     string
	Status string
}

type DeleteEnrollmentRequest struct {
	ID      string
	Confirm bool
}

type DeleteEnrollmentResult struct {
	Deleted bool `json:"deleted"`
}

type RecordPaymentRequest struct {
	ID          snowflake.ID
	PaidAt      time.Time
	AmountCents int64
}

type RecordPaymentResult struct {
	Enrollment Enrollment `json:"enrollment"`
	// Applied is false when the payment was not newer than the last one.
	Applied bool `json:"applied"`
}

type LookupResult struct {
	Found    bool    `json:"found"`
	Person   *Person `json:"person,omitempty"`
	Children []Child `json:"children,omitempty"`
}

type Person struct {
	FirstName         string `json:"first_name"`
	LastName          string `json:"last_name"`
	Email             string `json:"email"`
	Phone             string `json:"phone"`
	Address           string `json:"address,omitempty"`
	EmergencyName     string `json:"emergency_name,omitempty"`
	EmergencyPhone    string `json:"emergency_phone,omitempty"`
	EmergencyRelation string `json:"emergency_relation,omitempty"`
}

type Service interface {
	Create(context.Context, CreateEnrollmentRequest) (Enrollment, error)
	Reenroll(context.Context, CreateEnrollmentRequest) (Enrollment, error)
	Get(context.Context, string) (Enrollment, error)
	FindByEmail(context.Context, string) (Enrollment, error)
	List(context.Context, ListEnrollmentRequest) (ListEnrollmentResponse, error)
	ListActive(context.Context) ([]Enrollment, error)
	Update(context.Context, UpdateEnrollmentRequest) (Enrollment, error)
	ChangeStatus(context.Context, ChangeStatusRequest) (Enrollment, error)
	Delete(context.Context, DeleteEnrollmentRequest) (DeleteEnrollmentResult, error)
	RecordPayment(context.Context, RecordPaymentRequest) (RecordPaymentResult, error)
	AttachCheckout(ctx context.Context, id snowflake.ID, provider, reference string) error
	FindByCheckout(ctx context.Context, provider, reference string) (Enrollment, error)
	MarkReviewed(context.Context, string) (Enrollment, error)
	ExpireNewFlags(ctx context.Context, olderThan time.Duration) (int64, error)
	Lookup(context.Context, string) (LookupResult, error)
}

var (
	ErrInvalidID       = errors.New("invalid_id")
	ErrNotFound        = errors.New("not_found")
	ErrInvalidEmail    = errors.New("invalid_email")
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidPhone    = errors.New("invalid_phone")
	ErrNoChildren      = errors.New("no_children")
	ErrInvalidChild    = errors.New("invalid_child")
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidStatus   = errors.New("invalid_status")
	ErrInvalidPayment  = errors.New("invalid_payment")
	ErrEmailTaken      = errors.New("email_taken")
	ErrConfirmRequired = errors.New("confirmation_required")
)
