// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/a2aregistry/registry/internal/card"
	"github.com/a2aregistry/registry/internal/publish"
	"github.com/a2aregistry/registry/types"
)

// maxPublishBodyBytes bounds the whole publish request body, not just the
// card field, giving the JSON envelope (cardUrl, public,
// publisherOverride) some slack over the card size limit itself.
const maxPublishBodyBytes = card.MaxCardBytes + 4096

// PublishHandlers serves POST /agents/publish.
type PublishHandlers struct {
	svc    *publish.Service
	logger *zap.Logger
}

// NewPublishHandlers builds the publish handler.
func NewPublishHandlers(svc *publish.Service, logger *zap.Logger) *PublishHandlers {
	return &PublishHandlers{svc: svc, logger: logger}
}

// publishRequest mirrors POST /agents/publish's body: exactly one of
// Card or CardURL must be set.
type publishRequest struct {
	Card              json.RawMessage `json:"card"`
	CardURL           string          `json:"cardUrl"`
	Public            bool            `json:"public"`
	PublisherOverride string          `json:"publisherOverride"`
}

// HandlePublish serves POST /agents/publish: publish by value or by URL,
// converging on the same result shape.
func (h *PublishHandlers) HandlePublish(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r)
	if !ok {
		writeError(w, r, types.NewError(types.ErrUnauthenticated, "bearer token required"), h.logger)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPublishBodyBytes)

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, types.NewError(types.ErrInvalidCard, "agent card failed validation").
				WithDetail("card exceeds maximum size of 256 KiB"), h.logger)
			return
		}
		writeError(w, r, types.NewError(types.ErrValidation, "invalid JSON body").WithCause(err), h.logger)
		return
	}

	var (
		result publish.Result
		err    error
	)
	switch {
	case len(req.Card) > 0:
		result, err = h.svc.PublishByValue(r.Context(), publish.ByValueRequest{
			Principal:         principal,
			CardJSON:          req.Card,
			Public:            req.Public,
			PublisherOverride: req.PublisherOverride,
		})
	case req.CardURL != "":
		result, err = h.svc.PublishByURL(r.Context(), publish.ByURLRequest{
			Principal:         principal,
			CardURL:           req.CardURL,
			Public:            req.Public,
			PublisherOverride: req.PublisherOverride,
		})
	default:
		err = types.NewError(types.ErrValidation, "one of card or cardUrl is required")
	}
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}
