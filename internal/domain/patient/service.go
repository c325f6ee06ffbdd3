package patient

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/rs/zerolog"

	"github.com/odonto/payments/internal/platform/apperr"
)

type Service struct {
	patients Repository
}

func NewService(patients Repository) *Service {
	return &Service{patients: patients}
}

func validate(p *Patient) error {
	if p.Name == "" {
		return apperr.Validation("name is required")
	}
	if len(p.Name) > 100 {
		return apperr.Validation("name must be at most 100 characters")
	}
	if p.Email == "" {
		return apperr.Validation("email is required")
	}
	if addr, err := mail.ParseAddress(p.Email); err != nil || addr.Address != p.Email {
		return apperr.Validation("email %q is not a valid address", p.Email)
	}
	if p.Phone != nil && len(*p.Phone) > 20 {
		return apperr.Validation("phone must be at most 20 characters")
	}
	return nil
}

// ensureEmailFree fails when email belongs to a patient other than selfID.
func (s *Service) ensureEmailFree(ctx context.Context, email string, selfID int64) error {
	existing, err := s.patients.GetByEmail(ctx, email)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID != selfID {
		return apperr.Validation("email %s is already registered", email)
	}
	return nil
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = normalizeEmail(p.Email)
	if p.Phone != nil && strings.TrimSpace(*p.Phone) == "" {
		p.Phone = nil
	}
	if err := validate(p); err != nil {
		return err
	}
	if err := s.ensureEmailFree(ctx, p.Email, 0); err != nil {
		return err
	}
	if err := s.patients.Create(ctx, p); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Int64("patient_id", p.ID).Msg("patient created")
	return nil
}

func (s *Service) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

func (s *Service) UpdatePatient(ctx context.Context, id int64, u PatientUpdate) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	oldEmail := p.Email
	p.Apply(u)
	if err := validate(p); err != nil {
		return nil, err
	}
	if p.Email != oldEmail {
		if err := s.ensureEmailFree(ctx, p.Email, p.ID); err != nil {
			return nil, err
		}
	}
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) DeletePatient(ctx context.Context, id int64) error {
	ok, err := s.patients.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("patient %d not found", id)
	}
	zerolog.Ctx(ctx).Info().Int64("patient_id", id).Msg("patient deleted")
	return nil
}
