package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/tumblebus/internal/cart"
	enrollmentdomain "github.com/smallbiznis/tumblebus/internal/enrollment/domain"
	"github.com/smallbiznis/tumblebus/internal/status"
)

const demoNode = 1000

type demoFamily struct {
	email     string
	first     string
	last      string
	phone     string
	packageID string
	amount    int64
	status    status.Stored
	// paidDaysAgo is nil for families that never paid.
	paidDaysAgo *int
	children    []demoChild
}

type demoChild struct {
	first string
	age   int
	shirt string
}

func days(n int) *int { return &n }

func demoFamilies() []demoFamily {
	return []demoFamily{
		{
			email: "jordan.park@example.com", first: "Jordan", last: "Park", phone: "555-0142",
			packageID: "pkg_1child_noreg", amount: 5000, status: status.StoredPending,
			children: []demoChild{{first: "Remy", age: 4, shirt: "toddler"}},
		},
		{
			email: "alex.moreno@example.com", first: "Alex", last: "Moreno", phone: "555-0187",
			packageID: "pkg_2child_noreg", amount: 9000, status: status.StoredActive, paidDaysAgo: days(10),
			children: []demoChild{{first: "Luz", age: 6, shirt: "youth-s"}, {first: "Teo", age: 3, shirt: "toddler"}},
		},
		{
			email: "casey.nguyen@example.com", first: "Casey", last: "Nguyen", phone: "555-0106",
			packageID: "pkg_1child_noreg", amount: 5000, status: status.StoredActive, paidDaysAgo: days(40),
			children: []demoChild{{first: "Kai", age: 5, shirt: "youth-xs"}},
		},
		{
			email: "morgan.lee@example.com", first: "Morgan", last: "Lee", phone: "555-0171",
			packageID: "pkg_1child_noreg", amount: 5000, status: status.StoredCancelled,
			children: []demoChild{{first: "Ivy", age: 7, shirt: "youth-m"}},
		},
	}
}

// EnsureDemoEnrollments inserts a handful of demo families covering the
// pending, active, overdue and cancelled states. Families already present
// by email are left untouched. It returns how many were created.
func EnsureDemoEnrollments(db *gorm.DB) (int, error) {
	if db == nil {
		return 0, errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(demoNode)
	if err != nil {
		return 0, err
	}

	ctx := context.Background()
	created := 0
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, f := range demoFamilies() {
			var count int64
			if err := tx.Model(&enrollmentdomain.Enrollment{}).Where("email = ?", f.email).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			if err := tx.Create(demoEnrollment(node, f, now)).Error; err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

func demoEnrollment(node *snowflake.Node, f demoFamily, now time.Time) *enrollmentdomain.Enrollment {
	e := &enrollmentdomain.Enrollment{
		ID:              node.Generate(),
		Email:           f.email,
		ParentFirstName: f.first,
		ParentLastName:  f.last,
		Phone:           f.phone,
		PackageID:       f.packageID,
		Selection:       datatypes.NewJSONType(cart.Selection{PackageID: f.packageID, Children: len(f.children)}),
		AmountCents:     f.amount,
		Currency:        "usd",
		Status:          string(f.status),
		EnrolledAt:      now.AddDate(0, -2, 0),
		ReferralSource:  "demo",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if f.paidDaysAgo != nil {
		paid := now.AddDate(0, 0, -*f.paidDaysAgo)
		e.LastPaymentAt = &paid
	}
	for i, c := range f.children {
		e.Children = append(e.Children, enrollmentdomain.Child{
			ID:        node.Generate(),
			Position:  i,
			FirstName: c.first,
			LastName:  f.last,
			Age:       c.age,
			School:    "Little Oaks",
			ShirtSize: c.shirt,
		})
	}
	return e
}
