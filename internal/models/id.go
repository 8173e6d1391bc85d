package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
)

// ID identifies users and items. The backend sends either an integer or an opaque string;
// both are kept in their text form.
type ID string

var integerID = regexp.MustCompile(`^(0|-?[1-9][0-9]*)$`)

func (id ID) IsZero() bool {
	return id == ""
}

func (id ID) String() string {
	return string(id)
}

// Integer ids are written back as JSON numbers, anything else as strings
func (id ID) MarshalJSON() ([]byte, error) {
	switch {
	case id.IsZero():
		return []byte("null"), nil
	case integerID.MatchString(string(id)):
		return []byte(id), nil
	default:
		return json.Marshal(string(id))
	}
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a number or a string: %w", err)
	}
	*id = ID(n.String())
	return nil
}
