package storage

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB marshals a Go value into a Postgres jsonb column and back. Carried
// over from the teacher's database client (its driver.Valuer/Scanner pair
// is domain-neutral). DBDriver does not use it: it marshals its payload
// columns with encoding/json directly.
type JSONB struct {
	V interface{}
}

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if j.V == nil {
		return nil, nil
	}
	return json.Marshal(j.V)
}

// Scan implements sql.Scanner.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		j.V = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	var out interface{}
	if err := json.Unmarshal(bytes, &out); err != nil {
		return err
	}
	j.V = out
	return nil
}
