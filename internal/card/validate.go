// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

// Package card implements the validator: parsing a raw JSON document into
// an a2acard.Card, checking it against the format's structural rules, and
// computing its canonical content hash.
package card

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/a2aregistry/registry/pkg/a2acard"
	"github.com/a2aregistry/registry/types"
)

// FieldError is one accumulated validation failure, naming the offending
// field path (dotted, with bracketed indices — e.g. "skills[2].tags") and
// the reason it was rejected.
type FieldError struct {
	FieldPath string `json:"fieldPath"`
	Reason    string `json:"reason"`
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", e.FieldPath, e.Reason)
}

// Result is what validation produces: a canonicalized card and its content
// hash on success, or the complete set of field errors on failure. A
// Validator never stops at the first error.
type Result struct {
	Card        *a2acard.Card
	ContentHash string
	Errors      []FieldError
}

// OK reports whether the card passed validation.
func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// AsError converts accumulated field errors into a single *types.Error,
// or nil if there were none.
func (r Result) AsError() error {
	if r.OK() {
		return nil
	}
	details := make([]string, 0, len(r.Errors))
	for _, fe := range r.Errors {
		details = append(details, fe.String())
	}
	return types.NewError(types.ErrInvalidCard, "agent card failed validation").
		WithDetail(strings.Join(details, "; "))
}

// MaxCardBytes is the largest raw card document the registry accepts,
// matching the by-URL fetcher's own response size cap so both ingestion
// paths enforce the same limit.
const MaxCardBytes = 256 * 1024

var oauth2Flows = map[a2acard.OAuth2Flow]bool{
	a2acard.OAuth2FlowClientCredentials: true,
	a2acard.OAuth2FlowAuthorizationCode: true,
	a2acard.OAuth2FlowPassword:          true,
}

var securitySchemeTypes = map[a2acard.SecuritySchemeType]bool{
	a2acard.SecuritySchemeAPIKey: true,
	a2acard.SecuritySchemeOAuth2: true,
	a2acard.SecuritySchemeJWT:    true,
	a2acard.SecuritySchemeMTLS:   true,
}

var transports = map[a2acard.Transport]bool{
	a2acard.TransportJSONRPC: true,
	a2acard.TransportGRPC:    true,
	a2acard.TransportHTTP:    true,
}

// Validate parses raw JSON into an a2acard.Card and checks every structural
// rule the format imposes, accumulating every failure rather than stopping
// at the first. On success the returned Result also carries the canonical
// content hash.
func Validate(raw []byte) Result {
	if len(raw) > MaxCardBytes {
		return Result{Errors: []FieldError{{FieldPath: "$", Reason: fmt.Sprintf("card exceeds maximum size of %d bytes", MaxCardBytes)}}}
	}

	var c a2acard.Card
	if err := json.Unmarshal(raw, &c); err != nil {
		return Result{Errors: []FieldError{{FieldPath: "$", Reason: "not a valid JSON object: " + err.Error()}}}
	}

	var errs []FieldError
	errs = append(errs, validateCore(&c)...)
	errs = append(errs, validateSecuritySchemes(c.SecuritySchemes)...)
	errs = append(errs, validateSkills(c.Skills)...)
	errs = append(errs, validateInterface(c.Interface)...)
	errs = append(errs, validateSignature(c.Signature)...)

	if len(errs) > 0 {
		return Result{Errors: errs}
	}

	hash, err := ContentHash(&c)
	if err != nil {
		return Result{Errors: []FieldError{{FieldPath: "$", Reason: "failed to canonicalize: " + err.Error()}}}
	}

	return Result{Card: &c, ContentHash: hash}
}

func validateCore(c *a2acard.Card) []FieldError {
	var errs []FieldError

	if c.Name == "" {
		errs = append(errs, FieldError{"name", "required"})
	}
	if c.Description == "" {
		errs = append(errs, FieldError{"description", "required"})
	}
	if c.URL == "" {
		errs = append(errs, FieldError{"url", "required"})
	} else if u, err := url.Parse(c.URL); err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, FieldError{"url", "must be an absolute http or https URL"})
	}
	if c.Version == "" {
		errs = append(errs, FieldError{"version", "required"})
	} else if _, err := semver.NewVersion(c.Version); err != nil {
		errs = append(errs, FieldError{"version", "must be a valid semantic version"})
	}
	if len(c.SecuritySchemes) == 0 {
		errs = append(errs, FieldError{"securitySchemes", "required, at least one scheme"})
	}
	if len(c.Skills) == 0 {
		errs = append(errs, FieldError{"skills", "required, at least one skill"})
	}

	return errs
}

func validateSecuritySchemes(schemes []a2acard.SecurityScheme) []FieldError {
	var errs []FieldError
	for i, s := range schemes {
		path := fmt.Sprintf("securitySchemes[%d]", i)
		if !securitySchemeTypes[s.Type] {
			errs = append(errs, FieldError{path + ".type", "must be one of apiKey, oauth2, jwt, mTLS"})
			continue
		}
		switch s.Type {
		case a2acard.SecuritySchemeAPIKey:
			if s.In == "" || s.Name == "" {
				errs = append(errs, FieldError{path, "apiKey scheme requires in and name"})
			}
		case a2acard.SecuritySchemeOAuth2:
			if !oauth2Flows[s.Flow] {
				errs = append(errs, FieldError{path + ".flow", "oauth2 requires flow in client_credentials, authorization_code, password"})
			}
			if s.TokenURL == "" {
				errs = append(errs, FieldError{path + ".tokenUrl", "oauth2 requires tokenUrl"})
			}
		case a2acard.SecuritySchemeJWT:
			// jwksUrl is optional; no scheme-specific fields required.
		case a2acard.SecuritySchemeMTLS:
			// no scheme-specific fields required.
		}
	}
	return errs
}

func validateSkills(skills []a2acard.Skill) []FieldError {
	var errs []FieldError
	seen := make(map[string]bool, len(skills))
	for i, s := range skills {
		path := fmt.Sprintf("skills[%d]", i)
		if s.ID == "" {
			errs = append(errs, FieldError{path + ".id", "required"})
		} else if seen[s.ID] {
			errs = append(errs, FieldError{path + ".id", "duplicate skill id: " + s.ID})
		} else {
			seen[s.ID] = true
		}
		if s.Name == "" {
			errs = append(errs, FieldError{path + ".name", "required"})
		}
		if len(s.Tags) == 0 {
			errs = append(errs, FieldError{path + ".tags", "must be non-empty"})
		}
	}
	return errs
}

func validateInterface(iface a2acard.Interface) []FieldError {
	var errs []FieldError
	if !transports[iface.PreferredTransport] {
		errs = append(errs, FieldError{"interface.preferredTransport", "must be one of jsonrpc, grpc, http"})
	}
	if len(iface.DefaultInputModes) == 0 {
		errs = append(errs, FieldError{"interface.defaultInputModes", "must be non-empty"})
	}
	if len(iface.DefaultOutputModes) == 0 {
		errs = append(errs, FieldError{"interface.defaultOutputModes", "must be non-empty"})
	}
	return errs
}

func validateSignature(sig *a2acard.Signature) []FieldError {
	if sig == nil {
		return nil
	}
	var errs []FieldError
	if sig.Algorithm == "" {
		errs = append(errs, FieldError{"signature.algorithm", "required when signature is present"})
	}
	if sig.Value == "" {
		errs = append(errs, FieldError{"signature.value", "required when signature is present"})
	}
	return errs
}
