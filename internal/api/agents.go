package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tracehub/tracehub/internal/agents"
)

const agentBodyLimit = 16 << 10

type agentResponse struct {
	AgentName string `json:"agent_name"`
	ProjectID string `json:"project_id"`
	APIKey    string `json:"api_key"`
}

type agentListResponse struct {
	Agents     []agents.Mapping `json:"agents"`
	TotalCount int              `json:"total_count"`
}

// AgentsHandler resolves an agent to its project and API key, creating or
// repairing the mapping as needed. GET reads agent_name from the query, POST
// from a JSON body.
func AgentsHandler(options RouterOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet, http.MethodPost) {
			return
		}

		agentName := r.URL.Query().Get("agent_name")
		if r.Method == http.MethodPost {
			var body struct {
				AgentName string `json:"agent_name"`
			}
			if err := decodeJSONBody(w, r, agentBodyLimit, &body); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			agentName = body.AgentName
		}
		agentName = strings.TrimSpace(agentName)
		if agentName == "" {
			writeError(w, http.StatusBadRequest, "agent_name is required")
			return
		}

		resolution, err := options.Agents.Resolve(r.Context(), agentName)
		if err != nil {
			if errors.Is(err, agents.ErrAgentNameRequired) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			options.Logger.ErrorContext(r.Context(), "agent resolve failed", "agent_name", agentName, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to resolve agent")
			return
		}

		options.Logger.InfoContext(r.Context(), "agent resolved",
			"agent_name", resolution.AgentName,
			"project_id", resolution.ProjectID,
			"outcome", string(resolution.Outcome),
		)
		writeJSON(w, http.StatusOK, agentResponse{
			AgentName: resolution.AgentName,
			ProjectID: resolution.ProjectID,
			APIKey:    resolution.APIKey,
		})
	})
}

// AgentListHandler returns the authoritative mapping of every agent.
func AgentListHandler(options RouterOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}

		mappings, err := options.Agents.List(r.Context())
		if err != nil {
			options.Logger.ErrorContext(r.Context(), "agent list failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list agents")
			return
		}
		if mappings == nil {
			mappings = []agents.Mapping{}
		}
		writeJSON(w, http.StatusOK, agentListResponse{
			Agents:     mappings,
			TotalCount: len(mappings),
		})
	})
}
