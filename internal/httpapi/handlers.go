package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cloud-gov/external-domain-broker/internal/broker"
	"github.com/cloud-gov/external-domain-broker/internal/pkg/brokererr"
	"github.com/cloud-gov/external-domain-broker/internal/pkg/response"
	"github.com/cloud-gov/external-domain-broker/internal/pkg/ulid"
)

type provisionRequest struct {
	ServiceID  string                 `json:"service_id"`
	PlanID     string                 `json:"plan_id"`
	Parameters broker.ProvisionParams `json:"parameters"`
}

type updateRequest struct {
	ServiceID  string              `json:"service_id"`
	PlanID     string              `json:"plan_id"`
	Parameters broker.UpdateParams `json:"parameters"`
}

type operationResponse struct {
	Operation string `json:"operation,omitempty"`
}

type lastOperationResponse struct {
	State       string `json:"state"`
	Description string `json:"description"`
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, s.broker.Catalog())
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, brokererr.BadRequest("invalid request body: %v", err))
		return
	}

	operation, err := s.broker.Provision(r.Context(),
		chi.URLParam(r, "instance_id"),
		req.PlanID,
		req.Parameters,
		acceptsIncomplete(r),
		correlationID(r),
	)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Accepted(w, operationResponse{Operation: operation})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, brokererr.BadRequest("invalid request body: %v", err))
		return
	}

	async, operation, err := s.broker.Update(r.Context(),
		chi.URLParam(r, "instance_id"),
		req.Parameters,
		acceptsIncomplete(r),
		correlationID(r),
	)
	if err != nil {
		response.Error(w, err)
		return
	}
	if !async {
		response.OK(w, struct{}{})
		return
	}
	response.Accepted(w, operationResponse{Operation: operation})
}

func (s *Server) handleDeprovision(w http.ResponseWriter, r *http.Request) {
	operation, err := s.broker.Deprovision(r.Context(),
		chi.URLParam(r, "instance_id"),
		acceptsIncomplete(r),
		correlationID(r),
	)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Accepted(w, operationResponse{Operation: operation})
}

func (s *Server) handleLastOperation(w http.ResponseWriter, r *http.Request) {
	op, err := s.broker.LastOperation(r.Context(),
		chi.URLParam(r, "instance_id"),
		r.URL.Query().Get("operation"),
	)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, lastOperationResponse{
		State:       string(op.State),
		Description: op.StepDescription,
	})
}

func acceptsIncomplete(r *http.Request) bool {
	return r.URL.Query().Get("accepts_incomplete") == "true"
}

// correlationID takes the platform-supplied id when present and mints a ULID
// otherwise, so every pipeline log line stays traceable.
func correlationID(r *http.Request) string {
	if id := r.Header.Get("X-Correlation-ID"); id != "" {
		return id
	}
	return ulid.New()
}
