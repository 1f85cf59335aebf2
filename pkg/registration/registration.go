// Package registration validates and upserts agent metadata under the authenticated
// provider's ownership.
package registration

import (
	"context"
	"net/url"
	"strings"

	"github.com/nexora-systems/registry-central/pkg/registryerr"
	"github.com/nexora-systems/registry-central/pkg/store"
)

// AgentStore is the subset of store.Store the registration service depends on.
type AgentStore interface {
	UpsertAgent(ctx context.Context, a *store.Agent) error
}

// Service validates and persists agent registrations.
type Service struct {
	store      AgentStore
	production bool
}

// New builds a registration Service. production toggles the HTTPS-only
// endpoint constraint.
func New(store AgentStore, production bool) *Service {
	return &Service{store: store, production: production}
}

// Request carries every advertised field of an Agent, minus the fields the
// registry itself owns (status, timestamps).
type Request struct {
	ID            string
	Name          string
	Endpoint      string
	Description   string
	Intents       []string
	Tasks         []string
	Tags          []string
	Categories    []string
	LocationScope string
	Languages     []string
	Version       string
	InputSchema   []byte
	Meta          []byte
}

// Register validates req and upserts the Agent under providerCallerID,
// overwriting every field (including ownership) if an agent with the same
// id already exists. It returns the agent id on success.
func (s *Service) Register(ctx context.Context, providerCallerID string, req Request) (string, error) {
	fields := s.validate(req)
	if len(fields) > 0 {
		return "", registryerr.Validation(fields...)
	}

	agent := &store.Agent{
		ID:            req.ID,
		Name:          req.Name,
		Endpoint:      req.Endpoint,
		Description:   req.Description,
		Intents:       req.Intents,
		Tasks:         req.Tasks,
		Tags:          req.Tags,
		Categories:    req.Categories,
		LocationScope: defaultLocationScope(req.LocationScope),
		Languages:     req.Languages,
		Version:       req.Version,
		InputSchema:   req.InputSchema,
		Meta:          req.Meta,
		CallerID:      providerCallerID,
	}

	if err := s.store.UpsertAgent(ctx, agent); err != nil {
		return "", registryerr.Wrap(registryerr.KindInternal, "persist agent", err)
	}
	return agent.ID, nil
}

func defaultLocationScope(scope string) string {
	if strings.TrimSpace(scope) == "" {
		return "Global"
	}
	return scope
}

// validate returns the list of violated field names, empty if req is valid.
func (s *Service) validate(req Request) []string {
	var fields []string

	if strings.TrimSpace(req.ID) == "" {
		fields = append(fields, "id: required")
	}
	if strings.TrimSpace(req.Name) == "" {
		fields = append(fields, "name: required")
	}
	if strings.TrimSpace(req.Description) == "" {
		fields = append(fields, "description: required")
	}
	if len(req.Intents) == 0 {
		fields = append(fields, "intents: at least one required")
	}
	if len(req.Categories) == 0 {
		fields = append(fields, "categories: at least one required")
	}
	if len(req.Languages) == 0 {
		fields = append(fields, "languages: at least one required")
	}
	for _, s := range req.Intents {
		if strings.TrimSpace(s) == "" {
			fields = append(fields, "intents: must not contain empty strings")
			break
		}
	}
	for _, c := range req.Categories {
		if strings.TrimSpace(c) == "" {
			fields = append(fields, "categories: must not contain empty strings")
			break
		}
	}

	if err := s.validateEndpoint(req.Endpoint); err != nil {
		fields = append(fields, "endpoint: "+err.Error())
	}

	return fields
}

// validateEndpoint enforces the URL and environment rules: the
// endpoint must parse as an absolute URL; in production it must be HTTPS;
// in development, http:// is only accepted against localhost or 127.0.0.1.
func (s *Service) validateEndpoint(endpoint string) error {
	if strings.TrimSpace(endpoint) == "" {
		return errRequired
	}
	u, err := url.Parse(endpoint)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return errInvalidURL
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if s.production {
			return errHTTPSRequired
		}
		host := u.Hostname()
		if host == "localhost" || host == "127.0.0.1" {
			return nil
		}
		return errLocalOnly
	default:
		return errInvalidURL
	}
}

type validationMsg string

func (m validationMsg) Error() string { return string(m) }

const (
	errRequired      validationMsg = "required"
	errInvalidURL    validationMsg = "must be a syntactically valid URL"
	errHTTPSRequired validationMsg = "must use https:// in production mode"
	errLocalOnly     validationMsg = "must use https://, or http://localhost or http://127.0.0.1 in development mode"
)
