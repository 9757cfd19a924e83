// Package schema declares the event tables and the per-field rules used to
// validate log requests and normalize mutation patches. Adding an event table
// means adding one entry to tables.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/TungSeven30/henrii-sub000/internal/models"
	"github.com/go-playground/validator/v10"
)

type Kind int

const (
	Text Kind = iota + 1
	Int
	Time
)

const HappenedAt = "happened_at"

type Field struct {
	Name     string
	Kind     Kind
	Rule     string
	Required bool
}

type Table struct {
	Name      string
	EventType string
	Fields    []Field
}

var tables = []Table{
	{
		Name:      "feedings",
		EventType: "feeding",
		Fields: []Field{
			{Name: "feeding_type", Kind: Text, Rule: "oneof=breast bottle solid", Required: true},
			{Name: "amount_ml", Kind: Int, Rule: "gte=0,lte=2000"},
			{Name: "duration_minutes", Kind: Int, Rule: "gte=0,lte=600"},
			{Name: "side", Kind: Text, Rule: "oneof=left right both"},
			{Name: "notes", Kind: Text, Rule: "max=1000"},
		},
	},
	{
		Name:      "sleep_sessions",
		EventType: "sleep",
		Fields: []Field{
			{Name: "ended_at", Kind: Time},
			{Name: "location", Kind: Text, Rule: "oneof=crib bassinet bed stroller car arms other"},
			{Name: "notes", Kind: Text, Rule: "max=1000"},
		},
	},
	{
		Name:      "diaper_changes",
		EventType: "diaper",
		Fields: []Field{
			{Name: "diaper_kind", Kind: Text, Rule: "oneof=wet dirty mixed dry", Required: true},
			{Name: "color", Kind: Text, Rule: "max=40"},
			{Name: "notes", Kind: Text, Rule: "max=1000"},
		},
	},
}

var happenedAtField = Field{Name: HappenedAt, Kind: Time, Required: true}

var validate = validator.New()

func Tables() []Table {
	return append([]Table(nil), tables...)
}

func Lookup(name string) (Table, bool) {
	for _, t := range tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

func ForEventType(eventType string) (Table, bool) {
	eventType = strings.ToLower(strings.TrimSpace(eventType))
	for _, t := range tables {
		if t.EventType == eventType {
			return t, true
		}
	}
	return Table{}, false
}

func (t Table) Field(name string) (Field, bool) {
	if name == HappenedAt {
		return happenedAtField, true
	}
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (t Table) Columns() []string {
	cols := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		cols = append(cols, f.Name)
	}
	return cols
}

type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid field %s: %s", e.Field, e.Reason)
}

// NormalizePatch keeps the fields of patch that the table knows and that pass
// their rule. Everything else is dropped without error.
func (t Table) NormalizePatch(patch map[string]any) map[string]any {
	out := map[string]any{}
	for name, raw := range patch {
		f, ok := t.Field(name)
		if !ok {
			continue
		}
		v, err := f.coerce(raw)
		if err != nil {
			continue
		}
		out[name] = v
	}
	return out
}

// NormalizeInsert is the strict variant used for new events: unknown keys are
// ignored, but an invalid value or a missing required field is an error.
// happened_at is handled by the caller.
func (t Table) NormalizeInsert(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(t.Fields))
	for _, f := range t.Fields {
		raw, present := fields[f.Name]
		if !present || raw == nil {
			if f.Required {
				return nil, &FieldError{Field: f.Name, Reason: "required"}
			}
			out[f.Name] = nil
			continue
		}
		v, err := f.coerce(raw)
		if err != nil {
			return nil, err
		}
		if v == nil && f.Required {
			return nil, &FieldError{Field: f.Name, Reason: "required"}
		}
		out[f.Name] = v
	}
	return out, nil
}

func (f Field) coerce(raw any) (any, error) {
	if raw == nil {
		if f.Required {
			return nil, &FieldError{Field: f.Name, Reason: "required"}
		}
		return nil, nil
	}
	var v any
	switch f.Kind {
	case Text:
		s, ok := raw.(string)
		if !ok {
			return nil, &FieldError{Field: f.Name, Reason: "expected string"}
		}
		s = strings.TrimSpace(s)
		if s == "" {
			if f.Required {
				return nil, &FieldError{Field: f.Name, Reason: "required"}
			}
			return nil, nil
		}
		v = s
	case Int:
		n, err := toInt64(raw)
		if err != nil {
			return nil, &FieldError{Field: f.Name, Reason: err.Error()}
		}
		v = n
	case Time:
		ts, err := toTime(raw)
		if err != nil {
			return nil, &FieldError{Field: f.Name, Reason: err.Error()}
		}
		v = ts
	default:
		return nil, &FieldError{Field: f.Name, Reason: "unknown kind"}
	}
	if f.Rule != "" {
		if err := validate.Var(v, f.Rule); err != nil {
			return nil, &FieldError{Field: f.Name, Reason: "failed rule " + f.Rule}
		}
	}
	return v, nil
}

func toInt64(raw any) (int64, error) {
	switch n := raw.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, fmt.Errorf("expected integer")
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	default:
		return 0, fmt.Errorf("expected integer")
	}
}

func toTime(raw any) (time.Time, error) {
	switch t := raw.(type) {
	case time.Time:
		return t.UTC().Truncate(time.Microsecond), nil
	case string:
		return models.ParseTime(strings.TrimSpace(t))
	default:
		return time.Time{}, fmt.Errorf("expected RFC 3339 timestamp")
	}
}
