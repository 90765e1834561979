package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"cosem-go/internal/automation"
)

const maxScriptBody = 1 << 20

type saveAutomationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	LuaCode     string `json:"lua_code"`
	Enabled     bool   `json:"enabled"`
}

func (s *Server) handleAPIListAutomations(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeJSON(w, http.StatusOK, []any{})
		return
	}
	scripts, err := s.scriptMgr.List()
	if err != nil {
		s.logger.Error("list scripts", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if scripts == nil {
		scripts = []*automation.Script{}
	}
	s.writeJSON(w, http.StatusOK, scripts)
}

// getScript writes the error response itself and returns nil when the
// script cannot be loaded.
func (s *Server) getScript(w http.ResponseWriter, id string) *automation.Script {
	if s.scriptMgr == nil {
		s.writeError(w, http.StatusNotFound, "script not found")
		return nil
	}
	script, err := s.scriptMgr.Get(id)
	switch {
	case errors.Is(err, automation.ErrScriptNotFound):
		s.writeError(w, http.StatusNotFound, "script not found")
		return nil
	case err != nil:
		s.writeError(w, http.StatusBadRequest, err.Error())
		return nil
	}
	return script
}

func (s *Server) handleAPIGetAutomation(w http.ResponseWriter, r *http.Request) {
	if script := s.getScript(w, r.PathValue("id")); script != nil {
		s.writeJSON(w, http.StatusOK, script)
	}
}

func (s *Server) decodeScriptRequest(w http.ResponseWriter, r *http.Request) (saveAutomationRequest, bool) {
	var req saveAutomationRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxScriptBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return req, false
	}
	return req, true
}

func (s *Server) handleAPICreateAutomation(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeError(w, http.StatusServiceUnavailable, "automations not available")
		return
	}
	req, ok := s.decodeScriptRequest(w, r)
	if !ok {
		return
	}

	saved, err := s.scriptMgr.Save(&automation.Script{
		Meta: automation.ScriptMeta{
			Name:        req.Name,
			Description: req.Description,
			Enabled:     req.Enabled,
		},
		LuaCode: req.LuaCode,
	})
	if err != nil {
		s.logger.Error("create script", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.reloadScript(saved)
	s.writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleAPIUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	existing := s.getScript(w, r.PathValue("id"))
	if existing == nil {
		return
	}
	req, ok := s.decodeScriptRequest(w, r)
	if !ok {
		return
	}

	existing.Meta.Name = req.Name
	existing.Meta.Description = req.Description
	existing.Meta.Enabled = req.Enabled
	existing.LuaCode = req.LuaCode

	saved, err := s.scriptMgr.Save(existing)
	if err != nil {
		s.logger.Error("update script", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.reloadScript(saved)
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleAPIDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeError(w, http.StatusNotFound, "script not found")
		return
	}
	id := r.PathValue("id")
	if s.autoEngine != nil {
		s.autoEngine.StopScript(id)
	}

	err := s.scriptMgr.Delete(id)
	switch {
	case errors.Is(err, automation.ErrScriptNotFound):
		s.writeError(w, http.StatusNotFound, "script not found")
		return
	case err != nil:
		s.logger.Error("delete script", "id", id, "err", err)
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIToggleAutomation(w http.ResponseWriter, r *http.Request) {
	script := s.getScript(w, r.PathValue("id"))
	if script == nil {
		return
	}
	script.Meta.Enabled = !script.Meta.Enabled
	saved, err := s.scriptMgr.Save(script)
	if err != nil {
		s.logger.Error("toggle script", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.reloadScript(saved)
	s.writeJSON(w, http.StatusOK, saved)
}

// handleAPIRunAutomation dry-runs a stored script.
func (s *Server) handleAPIRunAutomation(w http.ResponseWriter, r *http.Request) {
	if s.autoEngine == nil {
		s.writeError(w, http.StatusServiceUnavailable, "automation engine not available")
		return
	}
	s.writeJSON(w, http.StatusOK, s.autoEngine.RunScript(r.PathValue("id")))
}

// handleAPIRunInline dry-runs Lua code from the request body.
func (s *Server) handleAPIRunInline(w http.ResponseWriter, r *http.Request) {
	if s.autoEngine == nil {
		s.writeError(w, http.StatusServiceUnavailable, "automation engine not available")
		return
	}
	var req struct {
		LuaCode string `json:"lua_code"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxScriptBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.writeJSON(w, http.StatusOK, s.autoEngine.RunLuaCode(req.LuaCode))
}

// reloadScript brings the engine in line with the saved script: enabled
// scripts restart, disabled ones stop.
func (s *Server) reloadScript(saved *automation.Script) {
	if s.autoEngine == nil {
		return
	}
	if err := s.autoEngine.ReloadScript(saved.ID); err != nil {
		s.logger.Error("reload script", "id", saved.ID, "err", err)
	}
}
