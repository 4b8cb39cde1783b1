package lookup

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID is an identifier the backend sends either as a number or as a string.
// The original encoding is preserved.
type ID struct {
	raw json.RawMessage
}

// String returns the identifier without JSON quoting.
func (id ID) String() string {
	var s string
	if err := json.Unmarshal(id.raw, &s); err == nil {
		return s
	}
	return string(id.raw)
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if len(id.raw) == 0 {
		return []byte("null"), nil
	}
	return id.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("lookup: empty id")
	}
	switch c := trimmed[0]; {
	case c == '"', c == '-', c >= '0' && c <= '9', string(trimmed) == "null":
		id.raw = append(json.RawMessage(nil), trimmed...)
		return nil
	default:
		return fmt.Errorf("lookup: id must be a number or string, got %s", trimmed)
	}
}

type Broadcaster struct {
	ID             ID     `json:"id"`
	CompanyName    string `json:"companyName,omitempty"`
	Name           string `json:"name,omitempty"`
	Description    string `json:"description,omitempty"`
	Status         string `json:"status,omitempty"`
	CompanyAddress string `json:"companyAddress,omitempty"`
	ContactPerson  string `json:"contactPerson,omitempty"`
	Email          string `json:"email,omitempty"`
	Mobile         string `json:"mobile,omitempty"`
}

type Channel struct {
	ID             ID       `json:"id"`
	Name           string   `json:"name,omitempty"`
	BroadcasterID  *int64   `json:"broadcasterId,omitempty"`
	LCN            *int64   `json:"lcn,omitempty"`
	Price          *float64 `json:"price,omitempty"`
	Description    string   `json:"description,omitempty"`
	Status         string   `json:"status,omitempty"`
	AccessCriteria *int64   `json:"accessCriteria,omitempty"`
}

type Package struct {
	ID          ID       `json:"id"`
	Name        string   `json:"name,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Duration    *int64   `json:"duration,omitempty"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status,omitempty"`
}

type StbVendor struct {
	ID             ID     `json:"id"`
	CompanyName    string `json:"companyName,omitempty"`
	CompanyAddress string `json:"companyAddress,omitempty"`
	ContactPerson  string `json:"contactPerson,omitempty"`
	Email          string `json:"email,omitempty"`
	Mobile         string `json:"mobile,omitempty"`
}

type Subscriber struct {
	ID       ID     `json:"id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"fullName,omitempty"`
}
