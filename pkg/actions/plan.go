package actions

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrInvalidPlan is returned when a plan cannot be executed at all
var ErrInvalidPlan = errors.New("invalid plan")

// Step is one included action, ready to run
type Step struct {
	Name   string
	Order  int
	Action Action
}

// Warning records a plan entry that was skipped
type Warning struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Name, w.Message)
}

// Plan is a parsed plan: its included steps in execution order
type Plan struct {
	Steps    []Step
	Warnings []Warning
}

// ParsePlan validates raw plan JSON and returns the included steps sorted by
// executionOrderIfIncluded. Ties keep document order. Entries with unknown
// names or malformed parameters become warnings; only a plan that is not a
// JSON document with an "actions" object fails.
func ParsePlan(raw []byte) (*Plan, error) {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidPlan)
	}

	entries := gjson.GetBytes(raw, "actions")
	if !entries.Exists() {
		return nil, fmt.Errorf("%w: missing actions", ErrInvalidPlan)
	}
	if !entries.IsObject() {
		return nil, fmt.Errorf("%w: actions must be an object", ErrInvalidPlan)
	}

	plan := &Plan{}
	entries.ForEach(func(key, value gjson.Result) bool {
		name := key.String()

		if !value.IsObject() {
			plan.warn(name, "entry is not an object")
			return true
		}

		included := value.Get("isIncluded")
		if included.Type != gjson.True {
			if included.Exists() && included.Type != gjson.False {
				plan.warn(name, "isIncluded must be a boolean")
			}
			return true
		}

		order := value.Get("executionOrderIfIncluded")
		if order.Type != gjson.Number || order.Float() != float64(order.Int()) {
			plan.warn(name, "executionOrderIfIncluded must be an integer")
			return true
		}

		kind := Kind(name)
		if !kind.Valid() {
			plan.warn(name, "unknown action")
			return true
		}

		action, err := Decode(kind, []byte(value.Raw))
		if err != nil {
			plan.warn(name, err.Error())
			return true
		}

		plan.Steps = append(plan.Steps, Step{Name: name, Order: int(order.Int()), Action: action})
		return true
	})

	sort.SliceStable(plan.Steps, func(i, j int) bool {
		return plan.Steps[i].Order < plan.Steps[j].Order
	})

	return plan, nil
}

func (p *Plan) warn(name, msg string) {
	p.Warnings = append(p.Warnings, Warning{Name: name, Message: msg})
}

// NewPlan encodes actions as plan JSON, included and ordered as given
func NewPlan(actions ...Action) (json.RawMessage, error) {
	raw := []byte(`{"actions":{}}`)
	for i, a := range actions {
		path := "actions." + string(a.Kind())

		var err error
		if raw, err = sjson.SetBytes(raw, path, a); err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", a.Kind(), err)
		}
		if raw, err = sjson.SetBytes(raw, path+".isIncluded", true); err != nil {
			return nil, err
		}
		if raw, err = sjson.SetBytes(raw, path+".executionOrderIfIncluded", i+1); err != nil {
			return nil, err
		}
	}
	return raw, nil
}
