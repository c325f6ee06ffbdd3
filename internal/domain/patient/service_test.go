package patient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/odonto/payments/internal/platform/apperr"
)

// -- Mock Patient Repository --

type mockPatientRepo struct {
	patients map[int64]*Patient
	nextID   int64
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{patients: make(map[int64]*Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	m.nextID++
	p.ID = m.nextID
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id int64) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient %d not found", id)
	}
	cp := *p
	return &cp, nil
}

func (m *mockPatientRepo) GetByEmail(_ context.Context, email string) (*Patient, error) {
	for _, p := range m.patients {
		if p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("no patient with email %s", email)
}

func (m *mockPatientRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := m.patients[p.ID]; !ok {
		return apperr.NotFound("patient %d not found", p.ID)
	}
	p.UpdatedAt = time.Now()
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockPatientRepo) Delete(_ context.Context, id int64) (bool, error) {
	if _, ok := m.patients[id]; !ok {
		return false, nil
	}
	delete(m.patients, id)
	return true, nil
}

func (m *mockPatientRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	var result []*Patient
	for id := int64(1); id <= m.nextID; id++ {
		if p, ok := m.patients[id]; ok {
			result = append(result, p)
		}
	}
	total := len(result)
	if offset >= total {
		return []*Patient{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return result[offset:end], total, nil
}

func newTestService() (*Service, *mockPatientRepo) {
	repo := newMockPatientRepo()
	return NewService(repo), repo
}

func strPtr(s string) *string { return &s }

func TestCreatePatient(t *testing.T) {
	svc, _ := newTestService()
	p := &Patient{Name: " Ana Gómez ", Email: "Ana@Example.com", Phone: strPtr("555-0101")}
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID == 0 {
		t.Error("expected ID to be set")
	}
	if p.Name != "Ana Gómez" {
		t.Errorf("expected trimmed name, got %q", p.Name)
	}
	if p.Email != "ana@example.com" {
		t.Errorf("expected normalized email, got %q", p.Email)
	}
}

func TestCreatePatient_Validation(t *testing.T) {
	svc, _ := newTestService()
	tests := []struct {
		name string
		p    Patient
	}{
		{"missing name", Patient{Email: "a@example.com"}},
		{"missing email", Patient{Name: "Ana"}},
		{"bad email", Patient{Name: "Ana", Email: "not-an-email"}},
		{"long phone", Patient{Name: "Ana", Email: "a@example.com", Phone: strPtr("0123456789012345678901")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.p
			err := svc.CreatePatient(context.Background(), &p)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreatePatient_DuplicateEmail(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	first := &Patient{Name: "Ana", Email: "ana@example.com"}
	if err := svc.CreatePatient(ctx, first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dup := &Patient{Name: "Other", Email: "ANA@example.com"}
	err := svc.CreatePatient(ctx, dup)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for duplicate email, got %v", err)
	}

	if len(repo.patients) != 1 {
		t.Errorf("expected 1 patient stored, got %d", len(repo.patients))
	}
	stored, _ := repo.GetByID(ctx, first.ID)
	if stored.Name != "Ana" {
		t.Errorf("expected existing patient unaffected, got name %q", stored.Name)
	}
}

func TestUpdatePatient_Partial(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := &Patient{Name: "Ana", Email: "ana@example.com", Phone: strPtr("555-0101")}
	svc.CreatePatient(ctx, p)

	updated, err := svc.UpdatePatient(ctx, p.ID, PatientUpdate{Name: strPtr("Ana María")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Name != "Ana María" {
		t.Errorf("expected name updated, got %q", updated.Name)
	}
	if updated.Email != "ana@example.com" {
		t.Errorf("expected email unchanged, got %q", updated.Email)
	}
	if updated.Phone == nil || *updated.Phone != "555-0101" {
		t.Errorf("expected phone unchanged, got %v", updated.Phone)
	}
}

func TestUpdatePatient_ClearPhone(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := &Patient{Name: "Ana", Email: "ana@example.com", Phone: strPtr("555-0101")}
	svc.CreatePatient(ctx, p)

	updated, err := svc.UpdatePatient(ctx, p.ID, PatientUpdate{Phone: strPtr("")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Phone != nil {
		t.Errorf("expected phone cleared, got %v", *updated.Phone)
	}
}

func TestUpdatePatient_EmailTaken(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	a := &Patient{Name: "Ana", Email: "ana@example.com"}
	b := &Patient{Name: "Luis", Email: "luis@example.com"}
	svc.CreatePatient(ctx, a)
	svc.CreatePatient(ctx, b)

	_, err := svc.UpdatePatient(ctx, b.ID, PatientUpdate{Email: strPtr("ana@example.com")})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	// Re-submitting one's own email is not a conflict.
	if _, err := svc.UpdatePatient(ctx, a.ID, PatientUpdate{Email: strPtr("ana@example.com")}); err != nil {
		t.Errorf("unexpected error re-using own email: %v", err)
	}
}

func TestUpdatePatient_NotFound(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.UpdatePatient(context.Background(), 99, PatientUpdate{Name: strPtr("X")})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestDeletePatient(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := &Patient{Name: "Ana", Email: "ana@example.com"}
	svc.CreatePatient(ctx, p)

	if err := svc.DeletePatient(ctx, p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.GetPatient(ctx, p.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected patient to be gone, got %v", err)
	}
	if err := svc.DeletePatient(ctx, p.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found on second delete, got %v", err)
	}
}
