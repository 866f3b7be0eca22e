package shelfsync

import (
	"strings"
	"time"
)

// metaEpoch is the sentinel timestamp for defaulted field metadata.
var metaEpoch = time.Unix(0, 0).UTC()

// systemAuthor marks field metadata that was defaulted rather than written
// by a known author.
const systemAuthor = "system"

// IdentityKey derives the canonical identity key for an entity from its
// display name and description. The key is case-insensitive, collapses
// runs of whitespace, and joins the two normalized parts with "::" so that
// entities sharing a display name do not collide.
//
// IdentityKey is pure and total: any pair of strings yields a key.
func IdentityKey(name, description string) string {
	return normalizeKeyPart(name) + "::" + normalizeKeyPart(description)
}

func normalizeKeyPart(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// EnsureFieldMeta returns the metadata record for the given field, creating
// a defaulted record if none exists. The default carries the epoch-zero
// timestamp sentinel, the system author, the entity's current revision, and
// a base revision of zero. It never errors.
func EnsureFieldMeta(p *Product, field string) FieldMeta {
	if p.Meta == nil {
		p.Meta = make(map[string]FieldMeta)
	}
	if m, ok := p.Meta[field]; ok {
		return m
	}
	m := FieldMeta{
		TS:      metaEpoch,
		By:      systemAuthor,
		Rev:     p.Rev,
		BaseRev: 0,
	}
	p.Meta[field] = m
	return m
}

// UpdateFieldMeta overwrites the metadata for a field unconditionally; the
// server owns field metadata and the last write always wins. An empty
// changesetID leaves the recorded changeset link untouched.
func UpdateFieldMeta(p *Product, field string, ts time.Time, by string, rev, baseRev int64, changesetID string) {
	if p.Meta == nil {
		p.Meta = make(map[string]FieldMeta)
	}
	m := p.Meta[field]
	m.TS = ts
	m.By = by
	m.Rev = rev
	m.BaseRev = baseRev
	if changesetID != "" {
		m.ChangesetID = changesetID
	}
	p.Meta[field] = m
}
