package app

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"pdca/api/internal/analysis"
	"pdca/api/internal/rbac"
)

const maxImportBytes = 10 << 20

func (s *HTTPServer) adminRoutes(r chi.Router) {
	r.Use(s.requireAdmin)

	r.Get("/departments", s.handleListDepartments)
	r.Post("/departments", s.handleCreateDepartment)
	r.Put("/departments/{departmentID}", s.handleUpdateDepartment)
	r.Delete("/departments/{departmentID}", s.handleDeleteDepartment)
	r.Get("/departments/{departmentID}/teams", s.handleListTeams)
	r.Post("/departments/{departmentID}/teams", s.handleCreateTeam)

	r.Put("/users/{userID}/role", s.handleUpdateUserRole)
	r.Put("/users/{userID}/status", s.handleUpdateUserStatus)
	r.Get("/users/{userID}/departments", s.handleUserDepartments)
	r.Put("/users/{userID}/departments", s.handleReplaceUserDepartments)

	r.Get("/workflow-configurations", s.handleListConfigurations)
	r.Post("/workflow-configurations", s.handleCreateConfiguration)
	r.Put("/workflow-configurations/{configID}", s.handleUpdateConfiguration)
	r.Post("/workflow-configurations/{configID}/activate", s.handleActivateConfiguration)
	r.Get("/workflow-configurations/{configID}/history", s.handleConfigurationHistory)

	r.Get("/workflow-rules", s.handleListRules)
	r.Post("/workflow-rules", s.handleCreateRule)
	r.Put("/workflow-rules/{ruleID}", s.handleUpdateRule)
	r.Delete("/workflow-rules/{ruleID}", s.handleDeleteRule)

	r.Get("/ai-config", s.handleGetAIConfig)
	r.Put("/ai-config", s.handleSaveAIConfig)
	r.Get("/goals-with-analysis", s.handleGoalsWithAnalysis)

	r.Get("/export/users", s.handleExportUsers)
	r.Get("/export/goals", s.handleExportGoals)
	r.Post("/import/users", s.handleImportUsers)
}

func (s *HTTPServer) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rbac.Normalize(sessionFrom(r).Role) != rbac.RoleAdmin {
			s.fail(w, r, errForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	users, err := s.service.ListUsers(r.Context(), sessionFrom(r), UserListQuery{
		Query:      query.Get("q"),
		Role:       query.Get("role"),
		Department: query.Get("department"),
	}, pageFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *HTTPServer) handleListDepartments(w http.ResponseWriter, r *http.Request) {
	departments, err := s.service.ListDepartments(r.Context(), sessionFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"departments": departments})
}

func (s *HTTPServer) handleCreateDepartment(w http.ResponseWriter, r *http.Request) {
	var body DepartmentInput
	if !s.bind(w, r, &body) {
		return
	}
	department, err := s.service.CreateDepartment(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"department": department})
}

func (s *HTTPServer) handleUpdateDepartment(w http.ResponseWriter, r *http.Request) {
	var body DepartmentInput
	if !s.bind(w, r, &body) {
		return
	}
	department, err := s.service.UpdateDepartment(r.Context(), sessionFrom(r), chi.URLParam(r, "departmentID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"department": department})
}

func (s *HTTPServer) handleDeleteDepartment(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteDepartment(r.Context(), sessionFrom(r), chi.URLParam(r, "departmentID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *HTTPServer) handleListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.service.ListTeams(r.Context(), sessionFrom(r), chi.URLParam(r, "departmentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": teams})
}

func (s *HTTPServer) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var body TeamInput
	if !s.bind(w, r, &body) {
		return
	}
	team, err := s.service.CreateTeam(r.Context(), sessionFrom(r), chi.URLParam(r, "departmentID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"team": team})
}

func (s *HTTPServer) handleUpdateUserRole(w http.ResponseWriter, r *http.Request) {
	var body RoleInput
	if !s.bind(w, r, &body) {
		return
	}
	user, err := s.service.UpdateUserRole(r.Context(), sessionFrom(r), chi.URLParam(r, "userID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *HTTPServer) handleUpdateUserStatus(w http.ResponseWriter, r *http.Request) {
	var body StatusInput
	if !s.bind(w, r, &body) {
		return
	}
	user, err := s.service.SetUserActive(r.Context(), sessionFrom(r), chi.URLParam(r, "userID"), *body.IsActive)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *HTTPServer) handleUserDepartments(w http.ResponseWriter, r *http.Request) {
	departments, err := s.service.UserDepartments(r.Context(), sessionFrom(r), chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"departments": departments})
}

func (s *HTTPServer) handleReplaceUserDepartments(w http.ResponseWriter, r *http.Request) {
	var body DepartmentsInput
	if !s.bind(w, r, &body) {
		return
	}
	departments, err := s.service.ReplaceUserDepartments(r.Context(), sessionFrom(r), chi.URLParam(r, "userID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"departments": departments})
}

func (s *HTTPServer) handleListConfigurations(w http.ResponseWriter, r *http.Request) {
	configs, err := s.service.ListConfigurations(r.Context(), sessionFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"configurations": configs})
}

func (s *HTTPServer) handleCreateConfiguration(w http.ResponseWriter, r *http.Request) {
	var body ConfigurationInput
	if !s.bind(w, r, &body) {
		return
	}
	cfg, err := s.service.CreateConfiguration(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"configuration": cfg})
}

func (s *HTTPServer) handleUpdateConfiguration(w http.ResponseWriter, r *http.Request) {
	var body ConfigurationInput
	if !s.bind(w, r, &body) {
		return
	}
	cfg, err := s.service.UpdateConfiguration(r.Context(), sessionFrom(r), chi.URLParam(r, "configID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"configuration": cfg})
}

func (s *HTTPServer) handleActivateConfiguration(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.service.ActivateConfiguration(r.Context(), sessionFrom(r), chi.URLParam(r, "configID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"configuration": cfg})
}

func (s *HTTPServer) handleConfigurationHistory(w http.ResponseWriter, r *http.Request) {
	revisions, err := s.service.ConfigurationHistory(r.Context(), sessionFrom(r), chi.URLParam(r, "configID"), queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revisions": revisions})
}

func (s *HTTPServer) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.service.ListRules(r.Context(), sessionFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *HTTPServer) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var body RuleInput
	if !s.bind(w, r, &body) {
		return
	}
	rule, err := s.service.CreateRule(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"rule": rule})
}

func (s *HTTPServer) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var body RuleInput
	if !s.bind(w, r, &body) {
		return
	}
	rule, err := s.service.UpdateRule(r.Context(), sessionFrom(r), chi.URLParam(r, "ruleID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rule": rule})
}

func (s *HTTPServer) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteRule(r.Context(), sessionFrom(r), chi.URLParam(r, "ruleID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *HTTPServer) handleGetAIConfig(w http.ResponseWriter, r *http.Request) {
	settings, err := s.service.AIConfig(r.Context(), sessionFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"config": settings})
}

func (s *HTTPServer) handleSaveAIConfig(w http.ResponseWriter, r *http.Request) {
	var body analysis.Settings
	if !s.bind(w, r, &body) {
		return
	}
	settings, err := s.service.SaveAIConfig(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"config": settings})
}

func (s *HTTPServer) handleGoalsWithAnalysis(w http.ResponseWriter, r *http.Request) {
	goals, err := s.service.GoalsWithAnalysis(r.Context(), sessionFrom(r), pageFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, goals)
}

func (s *HTTPServer) handleExportUsers(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ExportUsers(r.Context(), sessionFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeFile(w, result)
}

func (s *HTTPServer) handleExportGoals(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ExportGoals(r.Context(), sessionFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeFile(w, result)
}

// handleImportUsers accepts the workbook either as the "file" field of a
// multipart form or as the raw request body.
func (s *HTTPServer) handleImportUsers(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)

	var source io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", "Workbook exceeds the upload limit", nil)
				return
			}
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart form", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", map[string]string{"file": "is required"})
			return
		}
		defer file.Close()
		source = file
	}

	report, err := s.service.ImportUsers(r.Context(), sessionFrom(r), source)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
