package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
)

const clockSchema = `{"type":"object","properties":{"timezone":{"type":"string","description":"IANA time zone, defaults to UTC"}}}`

// TimeResult renders as JSON text.
type TimeResult struct {
	Timezone string    `json:"timezone"`
	Time     time.Time `json:"time"`
	Unix     int64     `json:"unix"`
}

func (r TimeResult) ToJSON() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CurrentTime reports the wall clock in a requested time zone.
type CurrentTime struct {
	now func() time.Time
}

func NewCurrentTime() *CurrentTime {
	return &CurrentTime{now: time.Now}
}

func (*CurrentTime) Name() string        { return "current_time" }
func (*CurrentTime) Description() string { return "Get the current date and time, optionally in a time zone." }

func (*CurrentTime) ArgsSchema() (json.RawMessage, error) { return json.RawMessage(clockSchema), nil }

func (*CurrentTime) SideEffectFree() bool { return true }

func (t *CurrentTime) InvokeAsync(ctx context.Context, args ports.Args) <-chan ports.Outcome {
	out := make(chan ports.Outcome, 1)
	go func() {
		defer close(out)
		if err := ctx.Err(); err != nil {
			out <- ports.Outcome{Err: err}
			return
		}
		v, err := t.lookup(args)
		out <- ports.Outcome{Value: v, Err: err}
	}()
	return out
}

func (t *CurrentTime) lookup(args ports.Args) (TimeResult, error) {
	zone, err := stringArg(args, "timezone")
	if err != nil {
		return TimeResult{}, err
	}
	if zone == "" {
		zone = "UTC"
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return TimeResult{}, fmt.Errorf("unknown timezone %q: %w", zone, err)
	}
	now := t.now().In(loc)
	return TimeResult{Timezone: loc.String(), Time: now, Unix: now.Unix()}, nil
}

var (
	_ ports.AsyncInvokable = (*CurrentTime)(nil)
	_ ports.SchemaProvider = (*CurrentTime)(nil)
	_ ports.SideEffectFree = (*CurrentTime)(nil)
	_ ports.JSONEncodable  = TimeResult{}
)
