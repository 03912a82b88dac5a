package embedding

import (
	"strings"

	"github.com/developer-mesh/hubspot-mcp/pkg/models"
)

// serializationFields fixes the property order per kind for embedding input.
// The order matches the curated property subset fetched from the CRM.
var serializationFields = map[models.EntityKind][]string{
	models.KindContact: {
		"firstname", "lastname", "email", "phone", "jobtitle",
		"company", "lifecyclestage", "city", "country", "createdate",
	},
	models.KindCompany: {
		"name", "domain", "industry", "numberofemployees",
		"city", "country", "description", "createdate",
	},
	models.KindDeal: {
		"dealname", "amount", "dealstage", "pipeline", "closedate",
		"hubspot_owner_id", "description", "createdate",
	},
	models.KindEngagement: {
		"engagementType", "subject", "body", "createdate", "updatedAt", "ownerId",
	},
}

// EntityText serializes a record into the text that gets embedded: one
// "name: value" line per populated property, in the kind's fixed order.
// Records with no populated properties serialize to the kind name so they
// still embed to something.
func EntityText(e models.Entity) string {
	var b strings.Builder
	for _, field := range serializationFields[e.Kind] {
		value, ok := e.Property(field)
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(field)
		b.WriteString(": ")
		b.WriteString(value)
	}
	if b.Len() == 0 {
		return string(e.Kind)
	}
	return b.String()
}
