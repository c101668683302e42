package wizard

import (
	"strings"
	"time"

	"github.com/smallbiznis/tumblebus/internal/cart"
)

const BirthDateLayout = "2006-01-02"

type ChildDraft struct {
	FirstName         string `json:"first_name"`
	LastName          string `json:"last_name"`
	Age               *int   `json:"age,omitempty"`
	BirthDate         string `json:"birth_date,omitempty"`
	Sex               string `json:"sex,omitempty"`
	School            string `json:"school"`
	Classroom         string `json:"classroom,omitempty"`
	ShirtSize         string `json:"shirt_size"`
	TreatAllowed      bool   `json:"treat_allowed"`
	Allergies         string `json:"allergies,omitempty"`
	MedicalConditions string `json:"medical_conditions,omitempty"`
}

// ResolvedAge returns the entered age, or the age derived from a valid
// birth date.
func (c ChildDraft) ResolvedAge(now time.Time) (int, bool) {
	if c.Age != nil {
		return *c.Age, true
	}
	dob, err := time.Parse(BirthDateLayout, strings.TrimSpace(c.BirthDate))
	if err != nil || dob.After(now) {
		return 0, false
	}
	return AgeAt(dob, now), true
}

// AgeAt returns whole years between dob and now.
func AgeAt(dob, now time.Time) int {
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}

type ParentDraft struct {
	FirstName         string `json:"first_name"`
	LastName          string `json:"last_name"`
	Email             string `json:"email"`
	Phone             string `json:"phone"`
	Address           string `json:"address,omitempty"`
	EmergencyName     string `json:"emergency_name"`
	EmergencyPhone    string `json:"emergency_phone"`
	EmergencyRelation string `json:"emergency_relation"`
	ReferralSource    string `json:"referral_source,omitempty"`
	Notes             string `json:"notes,omitempty"`
}

// Draft is the accumulated, not yet submitted enrollment. Drafts are never
// changed in place: every setter and engine transition returns a copy.
type Draft struct {
	Step         int            `json:"step"`
	Email        string         `json:"email"`
	Selection    cart.Selection `json:"selection"`
	Children     []ChildDraft   `json:"children"`
	Parent       ParentDraft    `json:"parent"`
	Acknowledged bool           `json:"acknowledged"`
	// Surplus counts drafted children beyond the selected package's count.
	// They are kept until ConfirmTrim is called.
	Surplus    int  `json:"surplus,omitempty"`
	Returning  bool `json:"returning,omitempty"`
	Submitting bool `json:"submitting"`
	Submitted  bool `json:"submitted"`
}

func (d Draft) clone() Draft {
	out := d
	if d.Children != nil {
		out.Children = make([]ChildDraft, len(d.Children))
		copy(out.Children, d.Children)
	}
	if d.Selection.AddOns != nil {
		out.Selection.AddOns = make([]cart.AddOnQuantity, len(d.Selection.AddOns))
		copy(out.Selection.AddOns, d.Selection.AddOns)
	}
	return out
}

func (d Draft) WithEmail(email string) Draft {
	out := d.clone()
	out.Email = strings.TrimSpace(email)
	if out.Parent.Email == "" || out.Parent.Email == d.Email {
		out.Parent.Email = out.Email
	}
	return out
}

// WithChild sets the child at index i, appending when i equals the current
// length. Other indexes are ignored. An append past an existing surplus adds
// to it.
func (d Draft) WithChild(i int, child ChildDraft) Draft {
	if i < 0 || i > len(d.Children) {
		return d
	}
	out := d.clone()
	if i == len(out.Children) {
		out.Children = append(out.Children, child)
		if out.Surplus > 0 {
			out.Surplus++
		}
	} else {
		out.Children[i] = child
	}
	return out
}

func (d Draft) WithoutChild(i int) Draft {
	if i < 0 || i >= len(d.Children) {
		return d
	}
	out := d.clone()
	out.Children = append(out.Children[:i], out.Children[i+1:]...)
	if out.Surplus > 0 {
		out.Surplus--
	}
	return out
}

func (d Draft) WithParent(p ParentDraft) Draft {
	out := d.clone()
	out.Parent = p
	if out.Email == "" {
		out.Email = strings.TrimSpace(p.Email)
	}
	return out
}

func (d Draft) WithAcknowledgement(ok bool) Draft {
	out := d.clone()
	out.Acknowledged = ok
	return out
}

// WithPackage selects a package; children is only meaningful for sibling
// priced packages and may be zero.
func (d Draft) WithPackage(id string, children int) Draft {
	out := d.clone()
	out.Selection.PackageID = strings.TrimSpace(id)
	out.Selection.Children = children
	return out
}

// WithAddOn sets the quantity of an add-on; zero removes it.
func (d Draft) WithAddOn(id string, quantity int) Draft {
	out := d.clone()
	items := out.Selection.AddOns[:0]
	found := false
	for _, item := range out.Selection.AddOns {
		if item.ID == id {
			found = true
			if quantity == 0 {
				continue
			}
			item.Quantity = quantity
		}
		items = append(items, item)
	}
	if !found && quantity != 0 {
		items = append(items, cart.AddOnQuantity{ID: id, Quantity: quantity})
	}
	if len(items) == 0 {
		items = nil
	}
	out.Selection.AddOns = items
	return out
}
