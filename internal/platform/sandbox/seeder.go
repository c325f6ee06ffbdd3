// Package sandbox generates reproducible demo data (patients, dental
// treatments and pending invoices) for development and demo environments.
package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/odonto/payments/internal/domain/billing"
	"github.com/odonto/payments/internal/domain/patient"
	"github.com/odonto/payments/internal/domain/treatment"
	"github.com/odonto/payments/pkg/money"
)

// SeedConfig controls the volume and shape of generated data.
type SeedConfig struct {
	PatientCount       int   `json:"patientCount"`
	InvoicesPerPatient int   `json:"invoicesPerPatient"`
	Seed               int64 `json:"seed"`
}

func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		PatientCount:       20,
		InvoicesPerPatient: 2,
		Seed:               1,
	}
}

// SeedResult summarizes a seed run.
type SeedResult struct {
	Patients   int           `json:"patients"`
	Treatments int           `json:"treatments"`
	Invoices   int           `json:"invoices"`
	Duration   time.Duration `json:"duration"`
}

type PatientCreator interface {
	CreatePatient(ctx context.Context, p *patient.Patient) error
}

type TreatmentCreator interface {
	CreateTreatment(ctx context.Context, t *treatment.Treatment) error
}

type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, patientID int64, req billing.NewInvoice) (*billing.Invoice, error)
}

// ---------------------------------------------------------------------------
// Pools
// ---------------------------------------------------------------------------

var firstNames = []string{
	"Ana", "Luis", "María", "Carlos", "Lucía", "Jorge", "Sofía", "Diego",
	"Valentina", "Andrés", "Camila", "Mateo", "Isabela", "Santiago", "Daniela",
}

var lastNames = []string{
	"Gómez", "Pérez", "Rodríguez", "Martínez", "López", "García", "Hernández",
	"Torres", "Ramírez", "Flores", "Castro", "Vargas",
}

type treatmentDef struct {
	Name string
	Cost string
}

var treatmentCatalog = []treatmentDef{
	{"Limpieza dental", "80.50"},
	{"Resina compuesta", "150.00"},
	{"Endodoncia", "620.00"},
	{"Extracción simple", "95.00"},
	{"Corona de porcelana", "1200.00"},
	{"Blanqueamiento", "350.00"},
	{"Implante dental", "2500.00"},
	{"Ortodoncia", "5000.00"},
}

// ---------------------------------------------------------------------------
// Seeder
// ---------------------------------------------------------------------------

type Seeder struct {
	cfg        SeedConfig
	patients   PatientCreator
	treatments TreatmentCreator
	invoices   InvoiceCreator
}

func NewSeeder(cfg SeedConfig, patients PatientCreator, treatments TreatmentCreator, invoices InvoiceCreator) *Seeder {
	return &Seeder{cfg: cfg, patients: patients, treatments: treatments, invoices: invoices}
}

// Seed creates the treatment catalog, then PatientCount patients each with
// InvoicesPerPatient pending invoices. The same Seed yields the same data.
func (s *Seeder) Seed(ctx context.Context) (*SeedResult, error) {
	start := time.Now()
	rng := rand.New(rand.NewSource(s.cfg.Seed))
	result := &SeedResult{}

	catalog := make([]*treatment.Treatment, 0, len(treatmentCatalog))
	for _, def := range treatmentCatalog {
		t := &treatment.Treatment{Name: def.Name, TotalCost: money.MustParse(def.Cost)}
		if err := s.treatments.CreateTreatment(ctx, t); err != nil {
			return result, fmt.Errorf("seed treatment %q: %w", def.Name, err)
		}
		catalog = append(catalog, t)
		result.Treatments++
	}

	for i := 0; i < s.cfg.PatientCount; i++ {
		p := s.syntheticPatient(rng, i)
		if err := s.patients.CreatePatient(ctx, p); err != nil {
			return result, fmt.Errorf("seed patient %s: %w", p.Email, err)
		}
		result.Patients++

		for j := 0; j < s.cfg.InvoicesPerPatient; j++ {
			t := catalog[rng.Intn(len(catalog))]
			if _, err := s.invoices.CreateInvoice(ctx, p.ID, billing.NewInvoice{TreatmentID: t.ID}); err != nil {
				return result, fmt.Errorf("seed invoice for patient %d: %w", p.ID, err)
			}
			result.Invoices++
		}
	}

	result.Duration = time.Since(start)
	zerolog.Ctx(ctx).Info().
		Int("patients", result.Patients).
		Int("treatments", result.Treatments).
		Int("invoices", result.Invoices).
		Dur("duration", result.Duration).
		Msg("sandbox data seeded")
	return result, nil
}

func (s *Seeder) syntheticPatient(rng *rand.Rand, n int) *patient.Patient {
	first := firstNames[rng.Intn(len(firstNames))]
	last := lastNames[rng.Intn(len(lastNames))]
	p := &patient.Patient{
		Name:  first + " " + last,
		Email: fmt.Sprintf("%s.%s.%d@example.com", asciiLower(first), asciiLower(last), n+1),
	}
	if rng.Intn(3) > 0 {
		phone := fmt.Sprintf("555-%04d", rng.Intn(10000))
		p.Phone = &phone
	}
	return p
}

var accentReplacer = strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ñ", "n")

func asciiLower(s string) string {
	return accentReplacer.Replace(strings.ToLower(s))
}
