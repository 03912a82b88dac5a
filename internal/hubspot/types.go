package hubspot

import (
	"encoding/json"
	"time"

	"github.com/developer-mesh/hubspot-mcp/pkg/models"
)

// DefaultMaxEntities caps IterateAll when the caller does not choose a limit.
const DefaultMaxEntities = 10000

// MaxPageSize is the largest page the CRM serves per request.
const MaxPageSize = 100

// objectPath maps an entity kind to its CRM objects API path segment.
func objectPath(kind models.EntityKind) string {
	switch kind {
	case models.KindContact:
		return "contacts"
	case models.KindCompany:
		return "companies"
	case models.KindDeal:
		return "deals"
	case models.KindEngagement:
		return "engagements"
	default:
		return string(kind)
	}
}

// defaultProperties is the curated subset fetched per kind when the caller
// does not name properties. The lists double as the serialization field
// orders used by the embedding manager.
var defaultProperties = map[models.EntityKind][]string{
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

// DefaultProperties returns a copy of the curated property subset for a kind.
func DefaultProperties(kind models.EntityKind) []string {
	props := defaultProperties[kind]
	out := make([]string, len(props))
	copy(out, props)
	return out
}

// Search predicate selection. Identifier-like fields compare exactly;
// text-like fields match on contained tokens. A field in both sets uses
// contains_token.
var equalsFields = map[string]bool{
	"owner_id":  true,
	"dealstage": true,
	"pipeline":  true,
}

var containsTokenFields = map[string]bool{
	"dealname":  true,
	"email":     true,
	"firstname": true,
	"lastname":  true,
	"company":   true,
	"name":      true,
	"domain":    true,
	"industry":  true,
	"country":   true,
}

// filterFieldAliases maps tool-level filter keys to CRM property names where
// they differ.
var filterFieldAliases = map[string]string{
	"owner_id": "hubspot_owner_id",
}

const (
	operatorEQ            = "EQ"
	operatorContainsToken = "CONTAINS_TOKEN"
)

// operatorFor selects the search operator for a filter field.
func operatorFor(field string) string {
	if containsTokenFields[field] {
		return operatorContainsToken
	}
	if equalsFields[field] {
		return operatorEQ
	}
	return operatorEQ
}

// propertyNameFor resolves a filter field to the CRM property it queries.
func propertyNameFor(field string) string {
	if alias, ok := filterFieldAliases[field]; ok {
		return alias
	}
	return field
}

// Wire shapes of the CRM v3 API.

type listResponse struct {
	Results []json.RawMessage `json:"results"`
	Paging  *paging           `json:"paging"`
}

type paging struct {
	Next *pagingNext `json:"next"`
}

type pagingNext struct {
	After string `json:"after"`
}

type searchRequest struct {
	FilterGroups []filterGroup `json:"filterGroups"`
	Properties   []string      `json:"properties,omitempty"`
	Limit        int           `json:"limit"`
}

type filterGroup struct {
	Filters []filter `json:"filters"`
}

type filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type searchResponse struct {
	Total   int               `json:"total"`
	Results []json.RawMessage `json:"results"`
}

type propertiesResponse struct {
	Results []json.RawMessage `json:"results"`
}

type writeRequest struct {
	Properties map[string]string `json:"properties"`
}

type recordEnvelope struct {
	ID         string             `json:"id"`
	Properties map[string]*string `json:"properties"`
	CreatedAt  *time.Time         `json:"createdAt"`
	UpdatedAt  *time.Time         `json:"updatedAt"`
}

// parseEntity decodes one raw CRM record, keeping the raw bytes attached.
func parseEntity(kind models.EntityKind, raw json.RawMessage) (models.Entity, error) {
	var env recordEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.Entity{}, err
	}
	props := make(map[string]string, len(env.Properties))
	for name, value := range env.Properties {
		if value == nil || *value == "" {
			continue
		}
		props[name] = *value
	}
	return models.Entity{
		ID:         env.ID,
		Kind:       kind,
		Properties: props,
		CreatedAt:  env.CreatedAt,
		UpdatedAt:  env.UpdatedAt,
		Raw:        raw,
	}, nil
}

func parseEntities(kind models.EntityKind, raws []json.RawMessage) ([]models.Entity, error) {
	entities := make([]models.Entity, 0, len(raws))
	for _, raw := range raws {
		entity, err := parseEntity(kind, raw)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, nil
}
