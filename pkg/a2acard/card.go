// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

// Package a2acard defines the Agent Card wire type: the self-contained JSON
// document a producer publishes describing an agent's endpoint, skills,
// security requirements, and interface. It is the normative external
// contract between publishers, the registry, and discovery clients — every
// other package that deals with a card's bytes imports this package rather
// than defining its own shape.
package a2acard

import "encoding/json"

// SecuritySchemeType enumerates the authentication mechanisms a card may
// declare in securitySchemes.
type SecuritySchemeType string

const (
	SecuritySchemeAPIKey SecuritySchemeType = "apiKey"
	SecuritySchemeOAuth2 SecuritySchemeType = "oauth2"
	SecuritySchemeJWT    SecuritySchemeType = "jwt"
	SecuritySchemeMTLS   SecuritySchemeType = "mTLS"
)

// OAuth2Flow enumerates the grant types a SecuritySchemeOAuth2 scheme may use.
type OAuth2Flow string

const (
	OAuth2FlowClientCredentials OAuth2Flow = "client_credentials"
	OAuth2FlowAuthorizationCode OAuth2Flow = "authorization_code"
	OAuth2FlowPassword          OAuth2Flow = "password"
)

// Transport enumerates the wire protocols a card's interface may prefer.
type Transport string

const (
	TransportJSONRPC Transport = "jsonrpc"
	TransportGRPC    Transport = "grpc"
	TransportHTTP    Transport = "http"
)

// SecurityScheme describes one authentication mechanism an agent accepts.
// Only the fields relevant to Type are meaningful; the rest are left zero.
type SecurityScheme struct {
	Type SecuritySchemeType `json:"type"`

	// apiKey
	In   string `json:"in,omitempty"`   // "header" or "query"
	Name string `json:"name,omitempty"` // header or query parameter name

	// oauth2
	Flow             OAuth2Flow        `json:"flow,omitempty"`
	TokenURL         string            `json:"tokenUrl,omitempty"`
	AuthorizationURL string            `json:"authorizationUrl,omitempty"`
	Scopes           map[string]string `json:"scopes,omitempty"`

	// jwt
	JWKSURL string `json:"jwksUrl,omitempty"`
}

// Skill describes one discrete capability an agent exposes to callers.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	InputModes  []string `json:"inputModes,omitempty"`
	OutputModes []string `json:"outputModes,omitempty"`
}

// Interface describes how callers should talk to the agent: the preferred
// transport and the content modalities it accepts and produces by default.
type Interface struct {
	PreferredTransport Transport `json:"preferredTransport"`
	DefaultInputModes  []string  `json:"defaultInputModes"`
	DefaultOutputModes []string  `json:"defaultOutputModes"`
}

// Provider identifies the organization that operates the agent, distinct
// from the registry publisher namespace (which may be a reseller or a
// peer registry's synthetic identity).
type Provider struct {
	Organization string `json:"organization"`
	URL          string `json:"url,omitempty"`
}

// Signature is a detached signature over the card's canonical bytes. Only
// its structure is checked (card.Validate); no part of the registry
// verifies it cryptographically against JWKSURL.
type Signature struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
	KeyID     string `json:"keyId,omitempty"`
	JWKSURL   string `json:"jwksUrl,omitempty"`
}

// Capabilities is the card's capability flag set. Known flags are typed
// fields; any additional boolean flags a producer declares are preserved
// verbatim in Extra rather than discarded, per the format's "unknown flags
// are permitted but preserved" rule.
type Capabilities struct {
	Streaming              bool
	PushNotifications      bool
	StateTransitionHistory bool
	Extra                  map[string]bool
}

var knownCapabilityFlags = map[string]func(*Capabilities) *bool{
	"streaming":              func(c *Capabilities) *bool { return &c.Streaming },
	"pushNotifications":      func(c *Capabilities) *bool { return &c.PushNotifications },
	"stateTransitionHistory": func(c *Capabilities) *bool { return &c.StateTransitionHistory },
}

// MarshalJSON flattens known and unknown flags into a single JSON object.
func (c Capabilities) MarshalJSON() ([]byte, error) {
	out := make(map[string]bool, len(c.Extra)+3)
	for name, accessor := range knownCapabilityFlags {
		cc := c
		if v := *accessor(&cc); v {
			out[name] = v
		}
	}
	for name, v := range c.Extra {
		if _, known := knownCapabilityFlags[name]; !known {
			out[name] = v
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits known flags into their typed fields and keeps
// everything else in Extra.
func (c *Capabilities) UnmarshalJSON(data []byte) error {
	var raw map[string]bool
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Capabilities{}
	for name, v := range raw {
		if accessor, known := knownCapabilityFlags[name]; known {
			*accessor(c) = v
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]bool)
		}
		c.Extra[name] = v
	}
	return nil
}

// Has reports whether a named flag, known or extra, is set true.
func (c Capabilities) Has(name string) bool {
	if accessor, known := knownCapabilityFlags[name]; known {
		cc := c
		return *accessor(&cc)
	}
	return c.Extra[name]
}

// Card is the Agent Card: the document a publisher submits describing an
// agent, and the document a consumer fetches to learn how to reach one.
type Card struct {
	Name             string           `json:"name"`
	Description      string           `json:"description"`
	URL              string           `json:"url"`
	Version          string           `json:"version"`
	Capabilities     Capabilities     `json:"capabilities"`
	SecuritySchemes  []SecurityScheme `json:"securitySchemes"`
	Skills           []Skill          `json:"skills"`
	Interface        Interface        `json:"interface"`
	Provider         *Provider        `json:"provider,omitempty"`
	DocumentationURL string           `json:"documentationUrl,omitempty"`
	Signature        *Signature       `json:"signature,omitempty"`
}

// SkillByID returns the skill with the given id, if the card declares one.
func (c *Card) SkillByID(id string) (Skill, bool) {
	for _, s := range c.Skills {
		if s.ID == id {
			return s, true
		}
	}
	return Skill{}, false
}

// HasSecurityScheme reports whether the card declares a scheme of the
// given type.
func (c *Card) HasSecurityScheme(t SecuritySchemeType) bool {
	for _, s := range c.SecuritySchemes {
		if s.Type == t {
			return true
		}
	}
	return false
}
