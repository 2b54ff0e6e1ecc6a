package bankrules

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/condupay/comprobante/internal/domain"
)

// LoadProfiles reads entity profiles from a JSON file. The file holds an
// array of domain.EntityProfile objects; it is read once at startup and the
// resulting table is immutable.
func LoadProfiles(path string) ([]*domain.EntityProfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read entity profiles: %w", err)
	}

	var profiles []*domain.EntityProfile
	if err := json.Unmarshal(raw, &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse entity profiles: %w", err)
	}
	return profiles, nil
}

// DefaultProfiles returns the built-in rule table for the Colombian banks
// and wallets the platform accepts. Deployments override this with a
// profiles file or rows in the repository.
func DefaultProfiles() []*domain.EntityProfile {
	return []*domain.EntityProfile{
		{
			ID:               "bancolombia",
			Name:             "Bancolombia",
			Aliases:          []string{"bancol", "banco colombia"},
			ReferencePattern: `[0-9]{8,12}`,
			MinAmount:        1000,
			MaxAmount:        10_000_000,
			OpensAt:          "00:00",
			ClosesAt:         "23:59",
			TypicalMinAmount: 50_000,
			TypicalMaxAmount: 2_000_000,
			Enabled:          true,
		},
		{
			ID:               "nequi",
			Name:             "Nequi",
			ReferencePattern: `[A-Za-z0-9]{8,12}`,
			MinAmount:        1000,
			MaxAmount:        2_000_000,
			OpensAt:          "00:00",
			ClosesAt:         "23:59",
			TypicalMinAmount: 20_000,
			TypicalMaxAmount: 1_000_000,
			Enabled:          true,
		},
		{
			ID:               "daviplata",
			Name:             "Daviplata",
			Aliases:          []string{"davi plata", "davivienda"},
			ReferencePattern: `[0-9]{6,12}`,
			MinAmount:        1000,
			MaxAmount:        2_000_000,
			OpensAt:          "00:00",
			ClosesAt:         "23:59",
			TypicalMinAmount: 20_000,
			TypicalMaxAmount: 1_000_000,
			Enabled:          true,
		},
		{
			ID:               "banco-bogota",
			Name:             "Banco de Bogota",
			Aliases:          []string{"banco de bogotá", "bogota"},
			ReferencePattern: `[0-9]{8,14}`,
			MinAmount:        10_000,
			MaxAmount:        20_000_000,
			OpensAt:          "06:00",
			ClosesAt:         "21:00",
			TypicalMinAmount: 100_000,
			TypicalMaxAmount: 5_000_000,
			Enabled:          true,
		},
		{
			ID:               "efecty",
			Name:             "Efecty",
			ReferencePattern: `[0-9]{10,15}`,
			MinAmount:        5000,
			MaxAmount:        3_000_000,
			OpensAt:          "07:00",
			ClosesAt:         "20:00",
			TypicalMinAmount: 50_000,
			TypicalMaxAmount: 1_500_000,
			Enabled:          true,
		},
	}
}
