// Package schema validates serialized snapshots before they are decoded.
//
// Bytes read from local storage or received from the remote document are
// checked against embedded JSON Schemas so that a partially shaped payload is
// rejected whole instead of being half applied.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var files embed.FS

const (
	sessionURL = "https://porta.local/schemas/session.schema.json"
	profileURL = "https://porta.local/schemas/profile.schema.json"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("snapshot does not match schema")

var (
	once    sync.Once
	session *jsonschema.Schema
	profile *jsonschema.Schema
	loadErr error
)

func load() {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for url, name := range map[string]string{
		sessionURL: "schemas/session.schema.json",
		profileURL: "schemas/profile.schema.json",
	} {
		data, err := files.ReadFile(name)
		if err != nil {
			loadErr = fmt.Errorf("read %s: %w", name, err)
			return
		}
		if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
			loadErr = fmt.Errorf("add %s: %w", name, err)
			return
		}
	}
	if session, loadErr = c.Compile(sessionURL); loadErr != nil {
		return
	}
	profile, loadErr = c.Compile(profileURL)
}

// ValidateSession checks raw against the session snapshot schema.
func ValidateSession(raw []byte) error {
	return validate(raw, func() *jsonschema.Schema { return session })
}

// ValidateProfile checks raw against the profile snapshot schema.
func ValidateProfile(raw []byte) error {
	return validate(raw, func() *jsonschema.Schema { return profile })
}

func validate(raw []byte, pick func() *jsonschema.Schema) error {
	once.Do(load)
	if loadErr != nil {
		return fmt.Errorf("compile schemas: %w", loadErr)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := pick().Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
