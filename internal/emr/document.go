package emr

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aurelia-health/emrgraph/internal/types"
)

// ValueType classifies a field value in the graph store.
type ValueType string

const (
	TypeString ValueType = "string"
	TypeInt    ValueType = "int"
	TypeDate   ValueType = "date"
	TypeBool   ValueType = "boolean"
	TypeDict   ValueType = "dict"
)

// Field is one field/value pair of a section. For dict-typed fields Value is
// the entry identifier and Props carries the entry's attributes.
type Field struct {
	Name  string
	Type  ValueType
	Unit  string
	Value any
	Props map[string]any
}

// Section is a named group of fields with its patient relationship type.
type Section struct {
	Name         string
	Relationship string
	Fields       []Field
}

// Document is a structured clinical record for one patient, the unit of
// ingestion. Documents are immutable once parsed.
type Document struct {
	PatientID string
	Sections  []Section
}

// ParseRecords parses raw document bytes into one Document per record.
// The source format is either a single JSON object or an array of objects,
// each keyed by "patient_id" plus named section objects.
func ParseRecords(data []byte, reg *Registry) ([]Document, error) {
	var records []map[string]any

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, types.WrapError(types.DOCUMENT_INVALID, "failed to parse record array", err)
		}
	} else {
		var single map[string]any
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, types.WrapError(types.DOCUMENT_INVALID, "failed to parse record", err)
		}
		records = []map[string]any{single}
	}

	docs := make([]Document, 0, len(records))
	for i, rec := range records {
		doc, err := parseRecord(rec, reg)
		if err != nil {
			return nil, types.WrapError(types.DOCUMENT_INVALID,
				fmt.Sprintf("record %d invalid", i), err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func parseRecord(rec map[string]any, reg *Registry) (Document, error) {
	pid, _ := rec["patient_id"].(string)
	if pid == "" {
		return Document{}, fmt.Errorf("missing patient_id")
	}

	doc := Document{PatientID: pid}

	// Deterministic section order keeps repeated parses identical.
	keys := make([]string, 0, len(rec))
	for k := range rec {
		if k != "patient_id" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw, ok := rec[key].(map[string]any)
		if !ok {
			continue
		}

		if def, known := reg.LookupRawKey(key); known {
			doc.Sections = append(doc.Sections, parseSection(def, raw))
			continue
		}

		// Unknown sections are preserved under the generic relationship
		// instead of minting new relationship types.
		doc.Sections = append(doc.Sections, parseOtherSection(key, raw))
	}

	return doc, nil
}

func parseSection(def *SectionDef, raw map[string]any) Section {
	sec := Section{Name: def.Name, Relationship: def.Relationship}

	for _, fd := range def.Scalars {
		val, ok := coerce(firstKey(raw, fd.Keys), fd.Type)
		if !ok {
			continue
		}
		sec.Fields = append(sec.Fields, Field{
			Name: fd.Name, Type: fd.Type, Unit: fd.Unit, Value: val,
		})
	}

	for _, fd := range def.Lists {
		items, ok := firstKey(raw, fd.Keys).([]any)
		if !ok {
			continue
		}
		for _, item := range items {
			s := strings.TrimSpace(fmt.Sprint(item))
			if item == nil || s == "" {
				continue
			}
			sec.Fields = append(sec.Fields, Field{
				Name: fd.Name, Type: fd.Type, Value: s,
			})
		}
	}

	for _, md := range def.Maps {
		entries, ok := firstKey(raw, md.Keys).(map[string]any)
		if !ok {
			continue
		}
		ids := make([]string, 0, len(entries))
		for id := range entries {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			attrs, ok := entries[id].(map[string]any)
			if !ok {
				continue
			}
			props := make(map[string]any, len(md.Attrs))
			for _, ad := range md.Attrs {
				if v, ok := coerce(firstKey(attrs, ad.Keys), ad.Type); ok {
					props[ad.Prop] = v
				}
			}
			sec.Fields = append(sec.Fields, Field{
				Name: md.Name, Type: TypeDict, Value: id, Props: props,
			})
		}
	}

	return sec
}

// parseOtherSection flattens an unregistered section into scalar fields with
// inferred types. Whole numbers become ints; fractional numbers are kept as
// strings so nothing is truncated.
func parseOtherSection(rawKey string, raw map[string]any) Section {
	sec := Section{Name: canonicalName(rawKey), Relationship: RelOther}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		var f Field
		switch v := raw[k].(type) {
		case bool:
			f = Field{Name: canonicalName(k), Type: TypeBool, Value: v}
		case float64:
			if v == math.Trunc(v) {
				f = Field{Name: canonicalName(k), Type: TypeInt, Value: int64(v)}
			} else {
				f = Field{Name: canonicalName(k), Type: TypeString, Value: strconv.FormatFloat(v, 'f', -1, 64)}
			}
		case string:
			if strings.TrimSpace(v) == "" {
				continue
			}
			f = Field{Name: canonicalName(k), Type: TypeString, Value: v}
		default:
			continue
		}
		sec.Fields = append(sec.Fields, f)
	}

	return sec
}

// canonicalName converts a raw key like "blood work" or "Blood_Work" to
// CamelCase ("BloodWork").
func canonicalName(raw string) string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-'
	})
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// firstKey returns the first present, non-nil value among the given keys.
func firstKey(m map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// coerce converts a raw JSON value to the requested value type, mirroring the
// lenient coercion of the source record format. Returns ok=false for null,
// empty, or unconvertible values, which are skipped rather than ingested.
func coerce(raw any, t ValueType) (any, bool) {
	if raw == nil {
		return nil, false
	}
	if s, ok := raw.(string); ok && strings.TrimSpace(s) == "" {
		return nil, false
	}

	switch t {
	case TypeString:
		return fmt.Sprint(raw), true

	case TypeInt:
		switch v := raw.(type) {
		case float64:
			return int64(v), true
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, false
			}
			return n, true
		}
		return nil, false

	case TypeDate:
		s, ok := raw.(string)
		if !ok {
			return nil, false
		}
		d, err := time.Parse("2006-01-02", strings.TrimSpace(s))
		if err != nil {
			return nil, false
		}
		return d, true

	case TypeBool:
		switch v := raw.(type) {
		case bool:
			return v, true
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "yes", "y", "1":
				return true, true
			case "false", "no", "n", "0":
				return false, true
			}
			return nil, false
		case float64:
			if v == 1 {
				return true, true
			}
			if v == 0 {
				return false, true
			}
			return nil, false
		}
		return nil, false
	}

	return nil, false
}
