package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tracehub/tracehub/internal/auth"
	"github.com/tracehub/tracehub/internal/projects"
)

const projectBodyLimit = 16 << 10

type apiKeyResponse struct {
	ProjectID string `json:"project_id"`
	APIKey    string `json:"api_key"`
}

type projectResponse struct {
	Project *projects.Project `json:"project"`
	APIKey  string            `json:"api_key,omitempty"`
}

// APIKeysHandler rotates a project credential on POST and looks a project up
// by its x-api-key on GET. The plaintext key is returned once.
func APIKeysHandler(options RouterOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			handleRotateAPIKey(w, r, options)
		case http.MethodGet:
			handleProjectByAPIKey(w, r, options)
		default:
			requireMethod(w, r, http.MethodGet, http.MethodPost)
		}
	})
}

func handleRotateAPIKey(w http.ResponseWriter, r *http.Request, options RouterOptions) {
	var body struct {
		ProjectID string `json:"project_id"`
	}
	if err := decodeJSONBody(w, r, projectBodyLimit, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	projectID := strings.TrimSpace(body.ProjectID)
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}

	ctx := r.Context()
	if _, err := options.Projects.FindProject(ctx, projectID); err != nil {
		writeProjectError(w, r, options, projectID, err)
		return
	}

	apiKey, err := auth.GenerateAPIKey()
	if err != nil {
		options.Logger.ErrorContext(ctx, "api key generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to generate api key")
		return
	}
	if err := options.Projects.UpdateProjectCredential(ctx, projectID, auth.HashAPIKey(apiKey)); err != nil {
		writeProjectError(w, r, options, projectID, err)
		return
	}

	options.Logger.InfoContext(ctx, "project api key rotated", "project_id", projectID)
	writeJSON(w, http.StatusCreated, apiKeyResponse{ProjectID: projectID, APIKey: apiKey})
}

func handleProjectByAPIKey(w http.ResponseWriter, r *http.Request, options RouterOptions) {
	apiKey, err := auth.KeyFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "x-api-key header is required")
		return
	}
	project, err := options.Projects.FindProjectByAPIKeyHash(r.Context(), auth.HashAPIKey(apiKey))
	if err != nil {
		if errors.Is(err, projects.ErrNotFound) {
			writeError(w, http.StatusNotFound, "invalid API key or project not found")
			return
		}
		options.Logger.ErrorContext(r.Context(), "project lookup by api key failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to look up project")
		return
	}
	writeJSON(w, http.StatusOK, projectResponse{Project: project})
}

// ProjectsHandler creates a project in the default team on POST and reads
// one by project_id on GET.
func ProjectsHandler(options RouterOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			handleCreateProject(w, r, options)
		case http.MethodGet:
			projectID := strings.TrimSpace(r.URL.Query().Get("project_id"))
			if projectID == "" {
				writeError(w, http.StatusBadRequest, "project_id is required")
				return
			}
			project, err := options.Projects.FindProject(r.Context(), projectID)
			if err != nil {
				writeProjectError(w, r, options, projectID, err)
				return
			}
			writeJSON(w, http.StatusOK, projectResponse{Project: project})
		default:
			requireMethod(w, r, http.MethodGet, http.MethodPost)
		}
	})
}

func handleCreateProject(w http.ResponseWriter, r *http.Request, options RouterOptions) {
	body := struct {
		Name           string `json:"name"`
		Description    string `json:"description"`
		Type           string `json:"type"`
		GenerateAPIKey *bool  `json:"generateApiKey"`
	}{}
	if err := decodeJSONBody(w, r, projectBodyLimit, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "project name is required")
		return
	}

	ctx := r.Context()
	team, err := options.Projects.FindOrCreateTeam(ctx, options.DefaultTeam)
	if err != nil {
		options.Logger.ErrorContext(ctx, "default team lookup failed", "team", options.DefaultTeam, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create project")
		return
	}

	var apiKey, hash string
	if body.GenerateAPIKey == nil || *body.GenerateAPIKey {
		if apiKey, err = auth.GenerateAPIKey(); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to generate api key")
			return
		}
		hash = auth.HashAPIKey(apiKey)
	}

	description := strings.TrimSpace(body.Description)
	if description == "" {
		description = fmt.Sprintf("Auto-created project: %s", name)
	}
	project, err := options.Projects.CreateProject(ctx, projects.NewProject{
		TeamID:      team.ID,
		Name:        name,
		Description: description,
		Type:        strings.TrimSpace(body.Type),
		APIKeyHash:  hash,
	})
	if err != nil {
		options.Logger.ErrorContext(ctx, "project create failed", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create project")
		return
	}

	writeJSON(w, http.StatusCreated, projectResponse{Project: project, APIKey: apiKey})
}

func writeProjectError(w http.ResponseWriter, r *http.Request, options RouterOptions, projectID string, err error) {
	if errors.Is(err, projects.ErrNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	options.Logger.ErrorContext(r.Context(), "project store failed", "project_id", projectID, "error", err)
	writeError(w, http.StatusInternalServerError, "project store unavailable")
}
