package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Decode parses a checkpoint. Fields are decoded one at a time so a
// rejected value is reported with its full path (e.g. "step1.releaseScope").
// Unknown steps and fields are rejected.
func Decode(data []byte) (*Document, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, &DeserializationError{Err: err}
	}
	if top == nil {
		return nil, &DeserializationError{Err: errors.New("document is null")}
	}

	doc := &Document{}
	targets := doc.stepTargets()
	for name, raw := range top {
		target, ok := targets[name]
		if !ok {
			return nil, &DeserializationError{Field: name, Err: errors.New("unknown step")}
		}
		if isNull(raw) {
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, &DeserializationError{Field: name, Err: err}
		}
		for field, value := range fields {
			if err := decodeField(target, field, value); err != nil {
				return nil, &DeserializationError{Field: name + "." + field + nestedPath(err), Err: err}
			}
		}
	}
	doc.normalize()
	return doc, nil
}

func (d *Document) stepTargets() map[string]any {
	return map[string]any{
		"step1":  &d.Step1,
		"step2":  &d.Step2,
		"step3":  &d.Step3,
		"step4":  &d.Step4,
		"step5":  &d.Step5,
		"step6":  &d.Step6,
		"step7":  &d.Step7,
		"step8":  &d.Step8,
		"step9":  &d.Step9,
		"step10": &d.Step10,
		"step11": &d.Step11,
	}
}

func decodeField(target any, field string, value json.RawMessage) error {
	obj, err := json.Marshal(map[string]json.RawMessage{field: value})
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(obj))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		if strings.HasPrefix(err.Error(), "json: unknown field") {
			return fmt.Errorf("unknown field")
		}
		return err
	}
	return nil
}

// nestedPath extends the field path with the sub-path recorded by
// encoding/json for type mismatches inside nested objects.
func nestedPath(err error) string {
	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &typeErr) || typeErr.Field == "" {
		return ""
	}
	_, rest, found := strings.Cut(typeErr.Field, ".")
	if !found {
		return ""
	}
	return "." + rest
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Encode renders the checkpoint with 4-space indentation. Struct fields keep
// declaration order and map keys are sorted, so equal documents encode to
// identical bytes.
func Encode(d *Document) ([]byte, error) {
	if d == nil {
		d = NewDocument()
	}
	data, err := json.MarshalIndent(d, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encode pipeline state: %w", err)
	}
	return data, nil
}
