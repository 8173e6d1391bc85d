package models

import (
	"encoding/json"
	"fmt"
)

// Item is a managed record. Fields the client does not know are kept in Extra
// and sent back untouched.
type Item struct {
	ID          ID
	Name        string
	Description string
	Extra       map[string]json.RawMessage
}

// Payload to create item, server assigns the id
type ItemInput struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=255"`
}

// Partial update, nil fields are not sent
type ItemPatch struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=255"`
}

var itemKnownFields = []string{"id", "name", "description"}

func (i *Item) UnmarshalJSON(data []byte) error {
	var known struct {
		ID          ID      `json:"id"`
		Name        string  `json:"name"`
		Description *string `json:"description"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	var extra map[string]json.RawMessage
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	for _, key := range itemKnownFields {
		delete(extra, key)
	}

	*i = Item{ID: known.ID, Name: known.Name}
	if known.Description != nil {
		i.Description = *known.Description
	}
	if len(extra) > 0 {
		i.Extra = extra
	}

	return nil
}

func (i Item) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(i.Extra)+len(itemKnownFields))
	for key, value := range i.Extra {
		out[key] = value
	}
	out["id"] = i.ID
	out["name"] = i.Name
	out["description"] = i.Description

	return json.Marshal(out)
}

// Merge applies fields of the JSON object on top of the item (shallow merge, object fields win)
func (i Item) Merge(object []byte) (Item, error) {
	base, err := json.Marshal(i)
	if err != nil {
		return i, err
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(base, &fields); err != nil {
		return i, err
	}

	var patch map[string]json.RawMessage
	if err := json.Unmarshal(object, &patch); err != nil {
		return i, fmt.Errorf("merge object is not valid JSON object: %w", err)
	}
	for key, value := range patch {
		fields[key] = value
	}

	merged, err := json.Marshal(fields)
	if err != nil {
		return i, err
	}

	var out Item
	if err := json.Unmarshal(merged, &out); err != nil {
		return i, err
	}
	return out, nil
}
