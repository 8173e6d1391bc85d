package session

import (
	"encoding/json"
	"slices"
	"time"

	"golang.org/x/oauth2"

	"github.com/nkiryanov/itemsadmin/internal/models"
)

// State is the authentication state plus the cached item collection
type State struct {
	// Current identity, nil when unauthenticated
	User *models.User

	// Credential: empty AccessToken means absent, zero Expiry means absent
	// TokenType is set even when unauthenticated
	Token oauth2.Token

	Items     []models.Item
	LastFetch time.Time
}

func emptyState() State {
	return State{Token: oauth2.Token{TokenType: models.DefaultTokenType}}
}

func (s State) Authenticated() bool {
	return s.User != nil && s.Token.AccessToken != ""
}

func (s State) clone() State {
	out := s
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	out.Items = slices.Clone(s.Items)
	return out
}

// Persisted document, field names are kept stable across versions
type document struct {
	User        *models.User  `json:"user"`
	Token       string        `json:"token,omitempty"`
	TokenType   string        `json:"tokenType"`
	TokenExpiry *time.Time    `json:"tokenExpiry,omitempty"`
	Items       []models.Item `json:"items"`
	LastFetch   int64         `json:"lastFetch,omitempty"` // unix milliseconds
}

func encodeState(s State) ([]byte, error) {
	doc := document{
		User:      s.User,
		Token:     s.Token.AccessToken,
		TokenType: s.Token.TokenType,
		Items:     s.Items,
	}
	if !s.Token.Expiry.IsZero() {
		expiry := s.Token.Expiry.UTC()
		doc.TokenExpiry = &expiry
	}
	if !s.LastFetch.IsZero() {
		doc.LastFetch = s.LastFetch.UnixMilli()
	}
	if doc.Items == nil {
		doc.Items = []models.Item{}
	}

	return json.Marshal(doc)
}

func decodeState(data []byte) (State, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return emptyState(), err
	}

	s := emptyState()
	s.User = doc.User
	s.Token.AccessToken = doc.Token
	s.Items = doc.Items
	if doc.TokenType != "" {
		s.Token.TokenType = doc.TokenType
	}
	if doc.TokenExpiry != nil {
		s.Token.Expiry = doc.TokenExpiry.UTC()
	}
	if doc.LastFetch != 0 {
		s.LastFetch = time.UnixMilli(doc.LastFetch).UTC()
	}

	// User without token is unauthenticated
	if s.Token.AccessToken == "" {
		s.User = nil
		s.Token.Expiry = time.Time{}
	}

	return s, nil
}
