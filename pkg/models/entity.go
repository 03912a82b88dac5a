// Package models holds the CRM data shapes exchanged between the HubSpot
// client, the embedding manager, and the formatter.
package models

import (
	"encoding/json"
	"time"
)

// EntityKind names one of the four CRM record kinds.
type EntityKind string

const (
	KindContact    EntityKind = "contact"
	KindCompany    EntityKind = "company"
	KindDeal       EntityKind = "deal"
	KindEngagement EntityKind = "engagement"
)

// allKinds holds every kind in merge order: cross-kind result ties are broken
// by this ordering, then by id.
var allKinds = []EntityKind{KindContact, KindCompany, KindDeal, KindEngagement}

// AllKinds returns the four kinds in merge order. Callers get a fresh slice.
func AllKinds() []EntityKind {
	out := make([]EntityKind, len(allKinds))
	copy(out, allKinds)
	return out
}

// Valid reports whether k is one of the four known kinds.
func (k EntityKind) Valid() bool {
	switch k {
	case KindContact, KindCompany, KindDeal, KindEngagement:
		return true
	}
	return false
}

// MergeRank returns the kind's position in the cross-kind tie-break order.
func (k EntityKind) MergeRank() int {
	for i, kind := range allKinds {
		if kind == k {
			return i
		}
	}
	return len(allKinds)
}

// ParseEntityKind accepts both singular and plural spellings used by tool
// arguments ("contact", "contacts", ...).
func ParseEntityKind(s string) (EntityKind, bool) {
	switch s {
	case "contact", "contacts":
		return KindContact, true
	case "company", "companies":
		return KindCompany, true
	case "deal", "deals":
		return KindDeal, true
	case "engagement", "engagements":
		return KindEngagement, true
	}
	return "", false
}

// Entity is one CRM record. Properties is an open map whose meaning comes
// from the property schema. Raw preserves the record exactly as the CRM
// returned it so formatted output can embed it verbatim.
type Entity struct {
	ID         string            `json:"id"`
	Kind       EntityKind        `json:"kind"`
	Properties map[string]string `json:"properties"`
	CreatedAt  *time.Time        `json:"createdAt,omitempty"`
	UpdatedAt  *time.Time        `json:"updatedAt,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Property returns the named property and whether it is present and non-empty.
func (e *Entity) Property(name string) (string, bool) {
	v, ok := e.Properties[name]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// PropertyOption is one allowed value of an enumeration property.
type PropertyOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// PropertyDescriptor describes one property from the CRM schema. Raw keeps
// the descriptor exactly as the CRM returned it.
type PropertyDescriptor struct {
	Name        string           `json:"name"`
	Label       string           `json:"label"`
	Type        string           `json:"type"`
	FieldType   string           `json:"fieldType"`
	Description string           `json:"description"`
	GroupName   string           `json:"groupName"`
	Options     []PropertyOption `json:"options,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Page is one page of a cursor-paginated listing. NextCursor is empty when
// the upstream reported no further pages.
type Page struct {
	Entities   []Entity
	NextCursor string
}
