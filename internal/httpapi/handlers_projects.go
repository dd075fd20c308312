package httpapi

import (
	"net/http"
	"strconv"

	"taigabridge/internal/domain"
)

func (a *api) handleProjectsList(w http.ResponseWriter, r *http.Request) {
	upstream, ok := CurrentUpstream(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}

	projects, err := upstream.ListProjects(r.Context())
	if err != nil {
		a.logger.Warn("list projects failed", "err", err)
		WriteDomainError(w, err)
		return
	}
	if projects == nil {
		projects = []domain.Project{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (a *api) handleProjectsGet(w http.ResponseWriter, r *http.Request) {
	upstream, ok := CurrentUpstream(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		WriteDomainError(w, domain.NewValidationError(map[string]string{"id": "must be a positive integer"}))
		return
	}

	project, err := upstream.GetProject(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, project)
}
