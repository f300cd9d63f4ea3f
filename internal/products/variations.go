package products

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedVariations is returned when an embedded variation list cannot
// be decoded. Callers treat it as "no variations" for the row.
var ErrMalformedVariations = errors.New("products: malformed variations")

// FlexString accepts a JSON string, number or boolean and keeps its text.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.(type) {
	case float64, bool:
		*f = FlexString(data)
		return nil
	}
	return fmt.Errorf("products: unsupported value %s", data)
}

type encodedVariation struct {
	Name  FlexString `json:"name"`
	Value FlexString `json:"value"`
}

// DecodeVariations parses the variation list embedded in a CSV cell. The
// cell holds a JSON array of {name, value} objects whose quotes were doubled
// by CSV quoting; doubled quotes are collapsed before parsing. Names and
// values are sanitized and entries without a name are dropped. On failure
// an empty list is returned together with ErrMalformedVariations.
func DecodeVariations(raw string) ([]VariationInput, error) {
	out := []VariationInput{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	var decoded []encodedVariation
	collapsed := strings.ReplaceAll(raw, `""`, `"`)
	if err := json.Unmarshal([]byte(collapsed), &decoded); err != nil {
		// A cell already unquoted by the CSV reader can contain a legitimate
		// empty string ("") that the collapse step just broke.
		if rawErr := json.Unmarshal([]byte(raw), &decoded); rawErr != nil {
			return out, fmt.Errorf("%w: %v", ErrMalformedVariations, err)
		}
	}
	for _, v := range decoded {
		name, ok := SanitizeString(string(v.Name))
		if !ok {
			continue
		}
		value, _ := SanitizeString(string(v.Value))
		out = append(out, VariationInput{Name: name, Value: value})
	}
	return out, nil
}
