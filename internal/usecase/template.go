package usecase

import (
	"strings"

	"github.com/autokita/wa-campaign-engine/internal/model"
	"github.com/autokita/wa-campaign-engine/pkg/utils"
)

// RenderTemplate expands the personalization tokens in a campaign or
// follow-up template with the contact's fields. Tokens without a value render
// as an empty string; text that is not a known token passes through verbatim,
// square brackets included.
func RenderTemplate(template string, contact model.Contact) string {
	budget := ""
	if contact.Budget > 0 {
		budget = utils.FormatThousands(contact.Budget)
	}

	replacer := strings.NewReplacer(
		"[Nama]", contact.Name,
		"[nama]", contact.Name,
		"[Phone]", contact.Phone,
		"[Email]", contact.Email,
		"[Kendaraan]", contact.VehicleInterest,
		"[Budget]", budget,
	)
	return replacer.Replace(template)
}
