package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/catalog-sync/internal/products"
)

var validate = validator.New()

// RemoteProduct is one element of the remote catalog snapshot.
type RemoteProduct struct {
	ID         FlexInt           `json:"id" validate:"gt=0"`
	Name       string            `json:"name"`
	Image      string            `json:"image"`
	Price      decimal.Decimal   `json:"price"`
	CreatedAt  Timestamp         `json:"created_at"`
	Variations []RemoteVariation `json:"variations"`
}

// Validate checks the record before it is reconciled.
func (p RemoteProduct) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("upstream: invalid product: %w", err)
	}
	return nil
}

// RemoteVariation holds the attributes of one nested variation object. Keys
// other than the recognized attribute names are carried but never read.
type RemoteVariation map[string]json.RawMessage

// Attr returns the textual value of the named attribute. Absent, null and
// non-scalar values report ok=false.
func (v RemoteVariation) Attr(name string) (string, bool) {
	raw, ok := v[name]
	if !ok {
		return "", false
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", false
	}
	var s products.FlexString
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return string(s), true
}

// FlexInt accepts a JSON number or a numeric string.
type FlexInt int64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	text := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if text == "" || text == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return fmt.Errorf("upstream: invalid integer %s", data)
	}
	*f = FlexInt(n)
	return nil
}

// Timestamp accepts an RFC 3339 string, a unix seconds number or null.
type Timestamp struct {
	time.Time
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*t = Timestamp{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				*t = Timestamp{Time: parsed.UTC(), Valid: true}
				return nil
			}
		}
		return fmt.Errorf("upstream: invalid timestamp %q", s)
	}
	secs, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("upstream: invalid timestamp %s", data)
	}
	*t = Timestamp{Time: time.Unix(secs, 0).UTC(), Valid: true}
	return nil
}

// Ptr returns the time or nil when unset.
func (t Timestamp) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	out := t.Time
	return &out
}
