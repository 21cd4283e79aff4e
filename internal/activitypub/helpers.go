package activitypub

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/fedi3/fedi3/internal/models"
)

// activityAsMap re-serializes an Activity into the generic map shape an
// outbound Accept/Reject embeds as its object, preserving the original
// wire bytes when available rather than a re-marshaled approximation.
func activityAsMap(activity models.Activity) map[string]interface{} {
	if raw := activity.Raw(); raw != nil {
		var m map[string]interface{}
		if err := json.Unmarshal(raw, &m); err == nil {
			return m
		}
	}
	return map[string]interface{}{
		"id":     activity.ID,
		"type":   activity.Type,
		"actor":  activity.Actor,
		"object": json.RawMessage(activity.Object),
	}
}

// parseFollowReference extracts either the follow-id (string form) or the
// inner actor (embedded-object form) from an Accept/Reject's object field.
func parseFollowReference(raw json.RawMessage) (followID, innerActor string, ok bool) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "" {
			return "", "", false
		}
		return asString, "", true
	}

	var asMap map[string]interface{}
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return "", "", false
	}
	actor, _ := asMap["actor"].(string)
	objType, _ := asMap["type"].(string)
	if objType != "" && objType != "Follow" {
		return "", "", false
	}
	if actor == "" {
		return "", "", false
	}
	return "", actor, true
}

// mapToObject extracts the subset of an AS2 object fedi3 stores. Modeled
// on the klppl-klistr example's mapToNote generic-map-extraction helper.
func mapToObject(m map[string]interface{}) models.Object {
	obj := models.Object{
		ID:           stringField(m, "id"),
		Type:         stringField(m, "type"),
		AttributedTo: stringField(m, "attributedTo"),
		Content:      stringField(m, "content"),
		InReplyTo:    stringField(m, "inReplyTo"),
	}
	if raw, err := json.Marshal(m); err == nil {
		obj.SetRaw(raw)
	}
	if published := stringField(m, "published"); published != "" {
		if t, err := time.Parse(time.RFC3339, published); err == nil {
			obj.Published = &t
		}
	}
	obj.To = stringSliceField(m, "to")
	obj.Cc = stringSliceField(m, "cc")
	obj.Attachment = attachmentsField(m, "attachment")
	obj.Tag = tagsField(m, "tag")
	return obj
}

func mapToTombstone(m map[string]interface{}) models.Tombstone {
	ts := models.Tombstone{
		ID:         stringField(m, "id"),
		Type:       "Tombstone",
		FormerType: stringField(m, "formerType"),
	}
	if deleted := stringField(m, "deleted"); deleted != "" {
		if t, err := time.Parse(time.RFC3339, deleted); err == nil {
			ts.Deleted = &t
		}
	}
	return ts
}

func stringField(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return v
}

func stringSliceField(m map[string]interface{}, key string) []string {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func attachmentsField(m map[string]interface{}, key string) []models.Attachment {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]models.Attachment, 0, len(raw))
	for _, e := range raw {
		am, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		a := models.Attachment{
			Type:      stringField(am, "type"),
			MediaType: stringField(am, "mediaType"),
			URL:       stringField(am, "url"),
			Name:      stringField(am, "name"),
			Blurhash:  stringField(am, "blurhash"),
		}
		out = append(out, a)
	}
	return out
}

func tagsField(m map[string]interface{}, key string) []models.Tag {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]models.Tag, 0, len(raw))
	for _, e := range raw {
		tm, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, models.Tag{
			Type: stringField(tm, "type"),
			Name: stringField(tm, "name"),
			Href: stringField(tm, "href"),
		})
	}
	return out
}

// sameOrigin reports whether actorURL and objectOwnerURL share the same
// host, the ownership check for Delete activities: only the owner of the
// referenced object URL may mark it deleted.
func sameOrigin(objectOwnerURL, actorURL string) bool {
	if objectOwnerURL == "" || actorURL == "" {
		return false
	}
	if objectOwnerURL == actorURL {
		return true
	}
	ou, err1 := url.Parse(objectOwnerURL)
	au, err2 := url.Parse(actorURL)
	if err1 != nil || err2 != nil {
		return false
	}
	return strings.EqualFold(ou.Host, au.Host)
}
