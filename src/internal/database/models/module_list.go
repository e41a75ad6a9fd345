package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ModuleList is a JSON-encoded list of remote module API names stored in a
// single text column. It works across all three supported databases.
type ModuleList []string

// Value implements driver.Valuer
func (m ModuleList) Value() (driver.Value, error) {
	if m == nil {
		return "[]", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (m *ModuleList) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported module list type %T", value)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(data, m)
}
