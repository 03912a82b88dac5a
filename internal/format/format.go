// Package format renders CRM records, property schemas, and error payloads
// as the Markdown + fenced-JSON hybrid returned by every tool. Rendering is
// pure: the same records always produce the same text, which is what makes
// whole tool results safe to cache.
package format

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/developer-mesh/hubspot-mcp/pkg/models"
)

const maxBodyRunes = 200

// kindEmojis decorate list and schema titles per entity kind.
var kindEmojis = map[models.EntityKind]string{
	models.KindContact:    "👤",
	models.KindCompany:    "🏢",
	models.KindDeal:       "💰",
	models.KindEngagement: "📞",
}

var kindTitles = map[models.EntityKind]string{
	models.KindContact:    "Contact",
	models.KindCompany:    "Company",
	models.KindDeal:       "Deal",
	models.KindEngagement: "Engagement",
}

var kindPlurals = map[models.EntityKind]string{
	models.KindContact:    "Contacts",
	models.KindCompany:    "Companies",
	models.KindDeal:       "Deals",
	models.KindEngagement: "Engagements",
}

// currencySymbols maps ISO currency codes to display symbols. Codes outside
// the map fall back to the euro sign.
var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
}

type fieldSpec struct {
	prop  string
	label string
}

// stanzaFields lists the Label: value lines rendered per kind, in the same
// order the embedding manager serializes records. Properties consumed by the
// display name are not repeated here.
var stanzaFields = map[models.EntityKind][]fieldSpec{
	models.KindContact: {
		{"email", "Email"},
		{"phone", "Phone"},
		{"jobtitle", "Job Title"},
		{"company", "Company"},
		{"lifecyclestage", "Lifecycle Stage"},
		{"city", "City"},
		{"country", "Country"},
		{"createdate", "Created"},
	},
	models.KindCompany: {
		{"domain", "Domain"},
		{"industry", "Industry"},
		{"numberofemployees", "Employees"},
		{"city", "City"},
		{"country", "Country"},
		{"description", "Description"},
		{"createdate", "Created"},
	},
	models.KindDeal: {
		{"amount", "Amount"},
		{"dealstage", "Stage"},
		{"pipeline", "Pipeline"},
		{"closedate", "Close Date"},
		{"hubspot_owner_id", "Owner ID"},
		{"description", "Description"},
		{"createdate", "Created"},
	},
	models.KindEngagement: {
		{"engagementType", "Type"},
		{"body", "Body"},
		{"createdate", "Created"},
		{"updatedAt", "Updated"},
		{"ownerId", "Owner ID"},
	},
}

// Emoji returns the marker used in titles for a kind.
func Emoji(kind models.EntityKind) string {
	if e, ok := kindEmojis[kind]; ok {
		return e
	}
	return "📄"
}

// KindTitle returns the singular display name of a kind.
func KindTitle(kind models.EntityKind) string {
	if t, ok := kindTitles[kind]; ok {
		return t
	}
	s := string(kind)
	if s == "" {
		return "Record"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// KindPlural returns the plural display name of a kind.
func KindPlural(kind models.EntityKind) string {
	if p, ok := kindPlurals[kind]; ok {
		return p
	}
	return KindTitle(kind) + "s"
}

func prop(e models.Entity, name string) string {
	v, _ := e.Property(name)
	return v
}

// DisplayName derives the headline of a record stanza. Contacts combine
// first and last name and fall back to the email address; every kind falls
// back to the record ID when its naming properties are empty.
func DisplayName(e models.Entity) string {
	switch e.Kind {
	case models.KindContact:
		name := strings.TrimSpace(strings.TrimSpace(prop(e, "firstname")) + " " + strings.TrimSpace(prop(e, "lastname")))
		if name != "" {
			return name
		}
		if email := prop(e, "email"); email != "" {
			return email
		}
	case models.KindCompany:
		if name := prop(e, "name"); name != "" {
			return name
		}
	case models.KindDeal:
		if name := prop(e, "dealname"); name != "" {
			return name
		}
	case models.KindEngagement:
		if subject := prop(e, "subject"); subject != "" {
			return subject
		}
		if typ := prop(e, "engagementType"); typ != "" {
			return typ
		}
	}
	if e.ID != "" {
		return "Record " + e.ID
	}
	return "Record"
}

// EntityStanza renders one record: a bold display name, the populated
// Label: value lines in the kind's field order, and the record ID.
func EntityStanza(e models.Entity) string {
	var b strings.Builder
	b.WriteString("**")
	b.WriteString(DisplayName(e))
	b.WriteString("**")
	for _, f := range stanzaFields[e.Kind] {
		value := prop(e, f.prop)
		if value == "" {
			continue
		}
		if e.Kind == models.KindDeal && f.prop == "amount" {
			value = FormatAmount(value, prop(e, "deal_currency_code"))
		}
		if f.prop == "body" {
			value = truncateRunes(value, maxBodyRunes)
		}
		b.WriteString("\n")
		b.WriteString(f.label)
		b.WriteString(": ")
		b.WriteString(value)
	}
	if e.ID != "" {
		b.WriteString("\nID: ")
		b.WriteString(e.ID)
	}
	return b.String()
}

// EntityList renders a page of records under an emoji title. A non-empty
// cursor is appended so callers can request the next page.
func EntityList(kind models.EntityKind, entities []models.Entity, nextCursor string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s **%s** (%d found)", Emoji(kind), KindPlural(kind), len(entities))
	if len(entities) == 0 {
		b.WriteString("\n\nNo matching records.")
	}
	for _, e := range entities {
		b.WriteString("\n\n")
		b.WriteString(EntityStanza(e))
	}
	if nextCursor != "" {
		fmt.Fprintf(&b, "\n\nNext page cursor: `%s`", nextCursor)
	}
	return b.String()
}

// SingleEntity renders one record under a custom title, e.g. "Deal Created".
func SingleEntity(kind models.EntityKind, title string, e models.Entity) string {
	return fmt.Sprintf("%s **%s**\n\n%s", Emoji(kind), title, EntityStanza(e))
}

// FormatAmount renders a numeric amount with thousands separators, two
// decimals, and the currency symbol for the given ISO code. Unknown codes
// render with €; values that fail to parse are returned unchanged.
func FormatAmount(raw, currencyCode string) string {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return raw
	}
	symbol, ok := currencySymbols[strings.ToUpper(strings.TrimSpace(currencyCode))]
	if !ok {
		symbol = "€"
	}
	return symbol + groupThousands(f)
}

// groupThousands formats f with two decimals and comma separators.
func groupThousands(f float64) string {
	s := strconv.FormatFloat(f, 'f', 2, 64)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, decPart, _ := strings.Cut(s, ".")
	if len(intPart) > 3 {
		var groups []string
		for len(intPart) > 3 {
			groups = append([]string{intPart[len(intPart)-3:]}, groups...)
			intPart = intPart[:len(intPart)-3]
		}
		groups = append([]string{intPart}, groups...)
		intPart = strings.Join(groups, ",")
	}
	return sign + intPart + "." + decPart
}

// Properties renders the CRM property schema of a kind, grouped by property
// group and ordered by label within each group.
func Properties(kind models.EntityKind, descriptors []models.PropertyDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔧 **%s Properties** (%d found)", KindTitle(kind), len(descriptors))

	groups := make(map[string][]models.PropertyDescriptor)
	for _, d := range descriptors {
		name := d.GroupName
		if name == "" {
			name = "other"
		}
		groups[name] = append(groups[name], d)
	}
	groupNames := make([]string, 0, len(groups))
	for name := range groups {
		groupNames = append(groupNames, name)
	}
	sort.Strings(groupNames)

	for _, name := range groupNames {
		props := groups[name]
		sort.Slice(props, func(i, j int) bool {
			li, lj := props[i].Label, props[j].Label
			if li == "" {
				li = props[i].Name
			}
			if lj == "" {
				lj = props[j].Name
			}
			if li == lj {
				return props[i].Name < props[j].Name
			}
			return li < lj
		})
		fmt.Fprintf(&b, "\n\n### %s\n", name)
		for _, d := range props {
			label := d.Label
			if label == "" {
				label = d.Name
			}
			fmt.Fprintf(&b, "\n- **%s** (`%s`, %s)", label, d.Name, propertyType(d))
			if d.Description != "" {
				fmt.Fprintf(&b, "\n  %s", d.Description)
			}
			if options := optionSummary(d); options != "" {
				fmt.Fprintf(&b, "\n  Options: %s", options)
			}
		}
	}
	return b.String()
}

func propertyType(d models.PropertyDescriptor) string {
	if d.FieldType != "" && d.FieldType != d.Type {
		return d.Type + "/" + d.FieldType
	}
	if d.Type != "" {
		return d.Type
	}
	return "string"
}

// optionSummary lists the first three enumeration option labels and counts
// the rest.
func optionSummary(d models.PropertyDescriptor) string {
	if len(d.Options) == 0 {
		return ""
	}
	labels := make([]string, 0, 3)
	for _, o := range d.Options {
		label := o.Label
		if label == "" {
			label = o.Value
		}
		labels = append(labels, label)
		if len(labels) == 3 {
			break
		}
	}
	summary := strings.Join(labels, ", ")
	if extra := len(d.Options) - len(labels); extra > 0 {
		summary += fmt.Sprintf(" … and %d others", extra)
	}
	return summary
}

// NotFound renders the standard missing-record message, e.g.
// "❌ **Deal Not Found**" followed by the reason.
func NotFound(what, reason string) string {
	return fmt.Sprintf("❌ **%s Not Found**\n\n%s", what, reason)
}

// ErrorMessage renders a failure headline and detail for tool error payloads.
func ErrorMessage(title, detail string) string {
	return fmt.Sprintf("❌ **%s**\n\n%s", title, detail)
}

// JSONBlock renders any value as an indented JSON fenced code block.
func JSONBlock(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		data = []byte(`"unserializable result"`)
	}
	return "```json\n" + string(data) + "\n```"
}

// EntityJSON renders the records' original CRM payloads as a JSON array.
// Records fetched from the API carry their raw bytes; synthetic records fall
// back to marshalling the entity itself.
func EntityJSON(entities []models.Entity) string {
	raws := make([]json.RawMessage, 0, len(entities))
	for _, e := range entities {
		raws = append(raws, entityRaw(e))
	}
	return JSONBlock(raws)
}

// SingleEntityJSON renders one record's original CRM payload.
func SingleEntityJSON(e models.Entity) string {
	return JSONBlock(entityRaw(e))
}

func entityRaw(e models.Entity) json.RawMessage {
	if len(e.Raw) > 0 {
		return e.Raw
	}
	data, err := json.Marshal(e)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}

// DescriptorJSON renders property descriptors' original payloads as a JSON
// array.
func DescriptorJSON(descriptors []models.PropertyDescriptor) string {
	raws := make([]json.RawMessage, 0, len(descriptors))
	for _, d := range descriptors {
		if len(d.Raw) > 0 {
			raws = append(raws, d.Raw)
			continue
		}
		data, err := json.Marshal(d)
		if err != nil {
			data = []byte("null")
		}
		raws = append(raws, data)
	}
	return JSONBlock(raws)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
