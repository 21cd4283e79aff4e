// Package models defines the shared data types for fedi3's social graph:
// ActivityPub activities and objects, resolved actor summaries, follow
// edges, reactions, and the relay-side directory/telemetry/migration
// records. Types carry JSON tags matching the wire formats and match the
// storage port's logical schemas.
package models

import (
	"encoding/json"
	"time"
)

// Audience normalizes the to/cc/bcc/audience fields of an activity or
// object into explicit sets, per the Design Notes' "normalize recipient
// audiences before dispatch" guidance.
type Audience struct {
	To        []string `json:"to,omitempty"`
	Cc        []string `json:"cc,omitempty"`
	Bcc       []string `json:"bcc,omitempty"`
	Audience  []string `json:"audience,omitempty"`
}

// All returns the union of every recipient list.
func (a Audience) All() []string {
	out := make([]string, 0, len(a.To)+len(a.Cc)+len(a.Bcc)+len(a.Audience))
	out = append(out, a.To...)
	out = append(out, a.Cc...)
	out = append(out, a.Bcc...)
	out = append(out, a.Audience...)
	return out
}

// PublicMagic is the AS2 "public" audience marker.
const PublicMagic = "https://www.w3.org/ns/activitystreams#Public"

// IsPublic reports whether the audience contains the public magic value or
// the given followers collection URL.
func (a Audience) IsPublic(followersURL string) bool {
	for _, v := range a.All() {
		if v == PublicMagic || v == "as:Public" || (followersURL != "" && v == followersURL) {
			return true
		}
	}
	return false
}

// RefOrInline models the "implicit string-or-object field" pattern from the
// Design Notes (e.g. Accept.object may be a bare activity id string or an
// embedded activity object). json.RawMessage preserves whichever shape the
// wire sent; StringValue/IsString let callers branch without re-parsing.
type RefOrInline struct {
	raw json.RawMessage
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *RefOrInline) UnmarshalJSON(data []byte) error {
	r.raw = append(r.raw[:0], data...)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r RefOrInline) MarshalJSON() ([]byte, error) {
	if r.raw == nil {
		return []byte("null"), nil
	}
	return r.raw, nil
}

// IsString reports whether the wire value was a JSON string (a bare
// reference) rather than an embedded object.
func (r RefOrInline) IsString() bool {
	trimmed := trimLeadingSpace(r.raw)
	return len(trimmed) > 0 && trimmed[0] == '"'
}

// StringValue returns the string form if IsString is true.
func (r RefOrInline) StringValue() (string, bool) {
	if !r.IsString() {
		return "", false
	}
	var s string
	if err := json.Unmarshal(r.raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Inline unmarshals the embedded object form into v.
func (r RefOrInline) Inline(v interface{}) error {
	return json.Unmarshal(r.raw, v)
}

// Raw returns the underlying bytes.
func (r RefOrInline) Raw() json.RawMessage { return r.raw }

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return b[i:]
}

// Activity is the generic envelope for any ActivityPub activity accepted or
// produced by fedi3. Object is left as json.RawMessage at the wire-parsing
// layer because it may be a bare id string or an embedded object/activity
// (the processor resolves it with RefOrInline).
type Activity struct {
	Context   interface{}     `json:"@context,omitempty"`
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type"`
	Actor     string          `json:"actor,omitempty"`
	Object    json.RawMessage `json:"object,omitempty"`
	Published *time.Time      `json:"published,omitempty"`
	To        []string        `json:"to,omitempty"`
	Cc        []string        `json:"cc,omitempty"`
	Bcc       []string        `json:"bcc,omitempty"`
	Audience  []string        `json:"audience,omitempty"`
	InReplyTo string          `json:"inReplyTo,omitempty"`
	Content   string          `json:"content,omitempty"`

	// raw retains the exact bytes the activity was parsed from, so
	// round-trip storage and dedup hashing operate on what was actually
	// received/sent, not a re-marshaled approximation.
	raw json.RawMessage `json:"-"`
}

// SetRaw stashes the original wire bytes (for storage/round-trip and for
// dedup-id computation when `id` is absent).
func (a *Activity) SetRaw(b []byte) { a.raw = b }

// Raw returns the original wire bytes, if set.
func (a *Activity) Raw() json.RawMessage { return a.raw }

// AudienceSets projects the activity's recipient fields into an Audience.
func (a Activity) AudienceSets() Audience {
	return Audience{To: a.To, Cc: a.Cc, Bcc: a.Bcc, Audience: a.Audience}
}

// Object is addressable content (Note, Article, Tombstone, ...).
type Object struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	AttributedTo string          `json:"attributedTo,omitempty"`
	Content      string          `json:"content,omitempty"`
	InReplyTo    string          `json:"inReplyTo,omitempty"`
	Published    *time.Time      `json:"published,omitempty"`
	To           []string        `json:"to,omitempty"`
	Cc           []string        `json:"cc,omitempty"`
	Attachment   []Attachment    `json:"attachment,omitempty"`
	Tag          []Tag           `json:"tag,omitempty"`
	Deleted      bool            `json:"-"`
	raw          json.RawMessage `json:"-"`
}

func (o *Object) SetRaw(b []byte)      { o.raw = b }
func (o *Object) Raw() json.RawMessage { return o.raw }

// Attachment is a media attachment expanded from a locally stored media item.
type Attachment struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Blurhash  string `json:"blurhash,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Tag is a Hashtag or Mention tag attached to an outbox Note/Article.
type Tag struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Href string `json:"href,omitempty"`
}

// Tombstone marks an Object as deleted while preserving its id (invariant 5).
type Tombstone struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	FormerType string     `json:"formerType,omitempty"`
	Deleted    *time.Time `json:"deleted,omitempty"`
}
