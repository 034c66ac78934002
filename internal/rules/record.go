package rules

import "github.com/sells-group/rewards-engine/internal/model"

// Record is a flat view of an event: metadata keys merged to the top level
// alongside the event's own fields.
type Record map[string]any

// Get returns the value of field. A nil value is reported as absent.
func (r Record) Get(field string) (any, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Flatten builds the Record for e. The event's own fields win over
// metadata keys of the same name.
func Flatten(e model.Event) Record {
	r := make(Record, len(e.Metadata)+5)
	for k, v := range e.Metadata {
		r[k] = v
	}
	r["id"] = e.ID
	r["employee_id"] = e.EmployeeID
	r["type"] = e.Type
	r["timestamp"] = e.Timestamp
	if !e.CreatedAt.IsZero() {
		r["created_at"] = e.CreatedAt
	}
	return r
}
