package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
)

const dateLayout = "2006-01-02"

const ageSchema = `{
  "type": "object",
  "properties": {
    "birth_date": {"type": "string", "description": "Birth date as YYYY-MM-DD"},
    "as_of": {"type": "string", "description": "Reference date as YYYY-MM-DD, defaults to today"}
  },
  "required": ["birth_date"]
}`

// AgeResult is the outcome of an international (full years) age calculation.
type AgeResult struct {
	BirthDate string
	AsOf      string
	Age       int
}

func (r AgeResult) ToMap() (map[string]any, error) {
	return map[string]any{
		"birth_date":        r.BirthDate,
		"as_of":             r.AsOf,
		"international_age": r.Age,
	}, nil
}

// InternationalAge counts completed years between a birth date and a reference date.
type InternationalAge struct {
	now func() time.Time
}

func NewInternationalAge() *InternationalAge {
	return &InternationalAge{now: time.Now}
}

func (*InternationalAge) Name() string { return "calculate_international_age" }
func (*InternationalAge) Description() string {
	return "Calculate the international age (completed years) for a birth date."
}

func (*InternationalAge) ArgsSchema() (json.RawMessage, error) { return json.RawMessage(ageSchema), nil }

func (t *InternationalAge) Run(_ context.Context, kwargs ports.Args) (any, error) {
	rawBirth, err := stringArg(kwargs, "birth_date")
	if err != nil {
		return nil, err
	}
	if rawBirth == "" {
		return nil, errors.New("birth_date is required")
	}
	birth, err := time.Parse(dateLayout, rawBirth)
	if err != nil {
		return nil, fmt.Errorf("invalid birth_date %q: %w", rawBirth, err)
	}

	asOf := t.now().UTC().Truncate(24 * time.Hour)
	rawAsOf, err := stringArg(kwargs, "as_of")
	if err != nil {
		return nil, err
	}
	if rawAsOf != "" {
		if asOf, err = time.Parse(dateLayout, rawAsOf); err != nil {
			return nil, fmt.Errorf("invalid as_of %q: %w", rawAsOf, err)
		}
	}
	if birth.After(asOf) {
		return nil, fmt.Errorf("birth_date %s is after %s", birth.Format(dateLayout), asOf.Format(dateLayout))
	}

	return AgeResult{
		BirthDate: birth.Format(dateLayout),
		AsOf:      asOf.Format(dateLayout),
		Age:       completedYears(birth, asOf),
	}, nil
}

func completedYears(birth, asOf time.Time) int {
	years := asOf.Year() - birth.Year()
	if asOf.Month() < birth.Month() || (asOf.Month() == birth.Month() && asOf.Day() < birth.Day()) {
		years--
	}
	return years
}

var (
	_ ports.SyncRunnable   = (*InternationalAge)(nil)
	_ ports.SchemaProvider = (*InternationalAge)(nil)
	_ ports.Serializable   = AgeResult{}
)
