// Package identity defines the client-asserted namespace that every stored
// image belongs to, and resolves it from request parameters or a credentials frame.
package identity

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/fly-io/imageuploader/pkg/errors"
	"github.com/fly-io/imageuploader/pkg/security"
)

// Tuple is the (organization, username, mission) namespace.
// Many records share one tuple.
type Tuple struct {
	Organization string `json:"organization"`
	Username     string `json:"username"`
	Mission      string `json:"mission"`
}

// Dir returns the directory holding the tuple's images under root.
func (t Tuple) Dir(root string) string {
	return filepath.Join(root, t.Organization, t.Username, t.Mission)
}

func (t Tuple) String() string {
	return t.Organization + "/" + t.Username + "/" + t.Mission
}

// Record is one persisted image: a tuple plus the image id and the file it lives in.
type Record struct {
	Tuple
	ID       string
	Filepath string
}

// NewRecord builds a record, refusing an empty id or filepath so that
// mutations always carry both.
func NewRecord(t Tuple, id, path string) (Record, error) {
	if id == "" {
		return Record{}, fmt.Errorf("%w: record id is empty", errors.ErrContractViolation)
	}
	if path == "" {
		return Record{}, fmt.Errorf("%w: record filepath is empty", errors.ErrContractViolation)
	}
	return Record{Tuple: t, ID: id, Filepath: path}, nil
}

// Credentials is the JSON shape of a credentials frame. ID and Filepath are
// accepted for compatibility with existing clients and otherwise ignored.
type Credentials struct {
	Organization string  `json:"organization"`
	Username     string  `json:"username"`
	Mission      string  `json:"mission"`
	ID           *string `json:"id,omitempty"`
	Filepath     *string `json:"filepath,omitempty"`
}

// Resolver turns request parameters or a credentials frame into a validated Tuple.
type Resolver struct {
	validator *security.Validator
}

// NewResolver creates a resolver that checks every field with validator.
func NewResolver(validator *security.Validator) *Resolver {
	return &Resolver{validator: validator}
}

// FromQuery reads the tuple from URL query parameters.
func (r *Resolver) FromQuery(values url.Values) (Tuple, error) {
	return r.validate(Tuple{
		Organization: values.Get("organization"),
		Username:     values.Get("username"),
		Mission:      values.Get("mission"),
	})
}

// FromFields validates a tuple given field by field, as on a command line.
func (r *Resolver) FromFields(organization, username, mission string) (Tuple, error) {
	return r.validate(Tuple{Organization: organization, Username: username, Mission: mission})
}

// FromFrame reads the tuple from a JSON credentials frame.
func (r *Resolver) FromFrame(payload []byte) (Tuple, error) {
	var creds Credentials
	if err := json.Unmarshal(payload, &creds); err != nil {
		return Tuple{}, fmt.Errorf("%w: malformed credentials frame: %v", errors.ErrCredential, err)
	}
	return r.validate(Tuple{
		Organization: creds.Organization,
		Username:     creds.Username,
		Mission:      creds.Mission,
	})
}

func (r *Resolver) validate(t Tuple) (Tuple, error) {
	fields := []struct{ name, value string }{
		{"organization", t.Organization},
		{"username", t.Username},
		{"mission", t.Mission},
	}
	for _, f := range fields {
		if err := r.validator.ValidateSegment(f.name, f.value); err != nil {
			return Tuple{}, err
		}
	}
	return t, nil
}
