package patient

import (
	"strings"
	"time"
)

type Patient struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     *string   `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PatientUpdate is a partial update; nil fields are left unchanged.
type PatientUpdate struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Phone *string `json:"phone"`
}

// Apply copies the non-nil fields of u onto p.
func (p *Patient) Apply(u PatientUpdate) {
	if u.Name != nil {
		p.Name = strings.TrimSpace(*u.Name)
	}
	if u.Email != nil {
		p.Email = normalizeEmail(*u.Email)
	}
	if u.Phone != nil {
		phone := strings.TrimSpace(*u.Phone)
		if phone == "" {
			p.Phone = nil
		} else {
			p.Phone = &phone
		}
	}
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
