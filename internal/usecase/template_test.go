package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autokita/wa-campaign-engine/internal/model"
)

func TestRenderTemplate(t *testing.T) {
	contact := model.Contact{
		Name:            "Budi",
		Phone:           "628123456789",
		Email:           "budi@example.com",
		VehicleInterest: "Avanza",
		Budget:          150000000,
	}

	testCases := []struct {
		name     string
		template string
		contact  model.Contact
		expected string
	}{
		{
			name:     "name and vehicle",
			template: "Halo [Nama], ada promo untuk [Kendaraan]!",
			contact:  contact,
			expected: "Halo Budi, ada promo untuk Avanza!",
		},
		{
			name:     "lowercase name token",
			template: "hai [nama]",
			contact:  contact,
			expected: "hai Budi",
		},
		{
			name:     "budget formatted with thousands separators",
			template: "Budget Anda [Budget]",
			contact:  contact,
			expected: "Budget Anda 150,000,000",
		},
		{
			name:     "phone and email",
			template: "[Phone] / [Email]",
			contact:  contact,
			expected: "628123456789 / budi@example.com",
		},
		{
			name:     "unknown token left untouched",
			template: "Halo [Alamat], promo [Kendaraan]",
			contact:  contact,
			expected: "Halo [Alamat], promo Avanza",
		},
		{
			name:     "empty fields render empty",
			template: "Halo [Nama], budget [Budget]",
			contact:  model.Contact{},
			expected: "Halo , budget ",
		},
		{
			name:     "repeated tokens all replaced",
			template: "[Nama] [Nama]",
			contact:  contact,
			expected: "Budi Budi",
		},
		{
			name:     "no tokens passes through",
			template: "Promo akhir tahun!",
			contact:  contact,
			expected: "Promo akhir tahun!",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, RenderTemplate(tc.template, tc.contact))
		})
	}
}
