package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestItem_JSON(t *testing.T) {
	t.Run("unknown fields kept", func(t *testing.T) {
		var item Item

		err := json.Unmarshal([]byte(`{"id": 7, "name": "desk", "description": null, "employeeName": "Bob Lee"}`), &item)

		require.NoError(t, err)
		require.Equal(t, ID("7"), item.ID)
		require.Equal(t, "desk", item.Name)
		require.Empty(t, item.Description)
		require.JSONEq(t, `"Bob Lee"`, string(item.Extra["employeeName"]))

		out, err := json.Marshal(item)
		require.NoError(t, err)
		require.JSONEq(t, `{"id": 7, "name": "desk", "description": "", "employeeName": "Bob Lee"}`, string(out))
	})

	t.Run("not an object", func(t *testing.T) {
		var item Item
		require.Error(t, json.Unmarshal([]byte(`[1, 2]`), &item))
	})
}

func TestID_JSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  ID
		out   string
	}{
		{"integer", `1`, "1", `1`},
		{"negative integer", `-15`, "-15", `-15`},
		{"opaque string", `"a1b2"`, "a1b2", `"a1b2"`},
		{"uuid", `"7f6c2a52-5a8e-4f0b-9d57-3c1d9b6f1a10"`, "7f6c2a52-5a8e-4f0b-9d57-3c1d9b6f1a10", `"7f6c2a52-5a8e-4f0b-9d57-3c1d9b6f1a10"`},
		{"digits with leading zero stay a string", `"007"`, "007", `"007"`},
		{"null", `null`, "", `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id ID

			require.NoError(t, json.Unmarshal([]byte(tt.input), &id))
			require.Equal(t, tt.want, id)

			out, err := json.Marshal(id)
			require.NoError(t, err)
			require.JSONEq(t, tt.out, string(out))
		})
	}

	t.Run("not an id", func(t *testing.T) {
		var id ID
		require.Error(t, json.Unmarshal([]byte(`{"id": 1}`), &id))
		require.Error(t, json.Unmarshal([]byte(`true`), &id))
	})

	t.Run("item list with mixed ids", func(t *testing.T) {
		var items []Item

		err := json.Unmarshal([]byte(`[{"id": 1, "name": "desk"}, {"id": "a1b2", "name": "lamp"}]`), &items)

		require.NoError(t, err)
		require.Equal(t, []ID{"1", "a1b2"}, []ID{items[0].ID, items[1].ID})
	})

	t.Run("integer user id", func(t *testing.T) {
		var u User

		require.NoError(t, json.Unmarshal([]byte(`{"id": 1, "username": "alice", "email": "alice@example.com"}`), &u))

		require.Equal(t, ID("1"), u.ID)
	})
}

func TestItem_Merge(t *testing.T) {
	t.Run("server fields win", func(t *testing.T) {
		item := Item{ID: "42", Name: "old", Description: "old"}

		merged, err := item.Merge([]byte(`{"id": 42, "name": "x", "description": "old"}`))

		require.NoError(t, err)
		require.Equal(t, Item{ID: "42", Name: "x", Description: "old"}, merged)
	})

	t.Run("fields missing in object are kept", func(t *testing.T) {
		item := Item{ID: "1", Name: "chair", Description: "wooden", Extra: map[string]json.RawMessage{"color": json.RawMessage(`"red"`)}}

		merged, err := item.Merge([]byte(`{"name": "stool"}`))

		require.NoError(t, err)
		require.Equal(t, "stool", merged.Name)
		require.Equal(t, "wooden", merged.Description)
		require.JSONEq(t, `"red"`, string(merged.Extra["color"]))
	})

	t.Run("invalid object", func(t *testing.T) {
		item := Item{ID: "1"}

		merged, err := item.Merge([]byte(`"nope"`))

		require.Error(t, err)
		require.Equal(t, item, merged, "item must be returned unchanged on error")
	})
}

func TestTimestamp(t *testing.T) {
	expected := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"RFC3339", `"2025-03-01T12:30:00Z"`, expected},
		{"with offset", `"2025-03-01T15:30:00+03:00"`, expected},
		{"python isoformat without zone", `"2025-03-01T12:30:00"`, expected},
		{"python isoformat with micros", `"2025-03-01T12:30:00.000000"`, expected},
		{"space separated", `"2025-03-01 12:30:00"`, expected},
		{"epoch seconds", `1740832200`, expected},
		{"epoch millis", `1740832200000`, expected},
		{"null", `null`, time.Time{}},
		{"empty string", `""`, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp

			err := json.Unmarshal([]byte(tt.input), &ts)

			require.NoError(t, err)
			require.True(t, tt.want.Equal(ts.Time), "want %v, got %v", tt.want, ts.Time)
		})
	}

	t.Run("garbage", func(t *testing.T) {
		var ts Timestamp
		require.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
		require.Error(t, json.Unmarshal([]byte(`true`), &ts))
	})

	t.Run("token response", func(t *testing.T) {
		var resp TokenResponse

		err := json.Unmarshal([]byte(`{
			"access_token": "abc",
			"token_type": "bearer",
			"expires_at": "2025-03-01T12:30:00",
			"user": {"id": "u-1", "username": "alice", "email": "alice@example.com", "is_active": true}
		}`), &resp)

		require.NoError(t, err)
		require.Equal(t, "abc", resp.AccessToken)
		require.True(t, expected.Equal(resp.ExpiresAt.Time))
		require.Equal(t, &User{ID: "u-1", Username: "alice", Email: "alice@example.com", IsActive: true}, resp.User)
	})
}
