package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Document is a schemaless record as stored by the working store and the
// legal archive. Fields this pipeline does not know about are carried through
// every copy unchanged.
type Document map[string]any

// Field names shared by items, versions, history entries and queue rows.
const (
	FieldID                  = "_id"
	FieldVersion             = "_current_version"
	FieldETag                = "_etag"
	FieldVersionID           = "_id_document"
	FieldState               = "state"
	FieldExpiry              = "expiry"
	FieldExpiryStatus        = "expiry_status"
	FieldTask                = "task"
	FieldTaskDesk            = "desk"
	FieldTaskStage           = "stage"
	FieldTaskUser            = "user"
	FieldOriginalCreator     = "original_creator"
	FieldVersionCreator      = "version_creator"
	FieldUniqueName          = "unique_name"
	FieldMovedToLegal        = "moved_to_legal"
	FieldMovedToLegalVersion = "moved_to_legal_version"
	FieldLockUser            = "lock_user"
	FieldLockSession         = "lock_session"
	FieldLockTime            = "lock_time"
	FieldLockAction          = "lock_action"
	FieldItemID              = "item_id"
	FieldItemVersion         = "item_version"
	FieldSubscriberID        = "subscriber_id"
	FieldOrigSubscriberID    = "_subscriber_id"
	FieldPublishSequenceNo   = "publish_sequence_no"
	FieldUpdate              = "update"
	FieldPriorVersion        = "_legal_prior_version"
	FieldName                = "name"
)

// WorkingStoreOnlyFields never reach the legal archive.
var WorkingStoreOnlyFields = []string{
	FieldETag,
	FieldLockUser,
	FieldLockSession,
	FieldLockTime,
	FieldLockAction,
}

// ExpiryStatusInvalid marks items the expiry job could not remove.
const ExpiryStatusInvalid = "invalid"

// UnknownUniqueName is stored when an item has no unique_name.
const UnknownUniqueName = "#unknown#"

// DecodeDocument unmarshals JSON keeping numbers as json.Number so large
// integers survive a round trip.
func DecodeDocument(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return cloneValue(d).(Document)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		out := make(Document, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return t
	}
}

// ID returns the document id as a string.
func (d Document) ID() string {
	return d.String(FieldID)
}

// Version returns _current_version, 0 when absent.
func (d Document) Version() int {
	return d.Int(FieldVersion)
}

// ETag returns the concurrency-control tag.
func (d Document) ETag() string {
	return d.String(FieldETag)
}

// State returns the workflow state.
func (d Document) State() string {
	return d.String(FieldState)
}

// Has reports whether the field is present and not null.
func (d Document) Has(field string) bool {
	v, ok := d[field]
	return ok && v != nil
}

// String returns a field rendered as a string, "" when absent.
func (d Document) String(field string) string {
	return AsString(d[field])
}

// Int returns a numeric field as int, 0 when absent or not numeric.
func (d Document) Int(field string) int {
	n, _ := AsInt(d[field])
	return n
}

// Bool returns a boolean field, false when absent.
func (d Document) Bool(field string) bool {
	b, _ := d[field].(bool)
	return b
}

// Time returns a timestamp field, zero when absent or unparseable.
func (d Document) Time(field string) time.Time {
	t, _ := AsTime(d[field])
	return t
}

// Map returns a nested object field, nil when absent.
func (d Document) Map(field string) map[string]any {
	switch t := d[field].(type) {
	case map[string]any:
		return t
	case Document:
		return t
	}
	return nil
}

// Without returns a copy with the given fields removed.
func (d Document) Without(fields ...string) Document {
	out := d.Clone()
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// AsString renders ids and scalars as strings. Ids can come back from JSON as
// numbers, so those are formatted too.
func AsString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// AsInt converts JSON and Go numeric representations to int.
func AsInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int32:
		return int(t), true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			f, ferr := t.Float64()
			if ferr != nil {
				return 0, false
			}
			return int(f), true
		}
		return int(n), true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	}
	return 0, false
}

// AsTime accepts time.Time or an RFC 3339 string.
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}
