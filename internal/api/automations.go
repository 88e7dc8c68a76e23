package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/emberhome/ember-core/internal/automation"
)

// handleListAutomations returns all automation rules with live stats.
func (s *Server) handleListAutomations(w http.ResponseWriter, _ *http.Request) {
	rules := s.engine.GetRules()
	writeJSON(w, http.StatusOK, map[string]any{"automations": rules, "count": len(rules)})
}

// handleGetAutomation returns a single automation rule by ID.
func (s *Server) handleGetAutomation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rule, err := s.engine.GetRule(id)
	if err != nil {
		if errors.Is(err, automation.ErrRuleNotFound) {
			writeNotFound(w, "automation not found")
			return
		}
		writeInternalError(w, "failed to get automation")
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// handleCreateAutomation creates a new automation rule.
//
// The rule is admitted to the live engine first; the engine's
// constructor is the validation gate, so a config the engine rejects is
// never persisted. If persistence fails afterwards the rule is evicted
// again to keep the engine and the store consistent.
func (s *Server) handleCreateAutomation(w http.ResponseWriter, r *http.Request) {
	var cfg automation.RuleConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if cfg.ID == "" {
		cfg.ID = automation.GenerateID()
	}

	if err := s.engine.AddRule(&cfg); err != nil {
		if errors.Is(err, automation.ErrRuleExists) {
			writeConflict(w, "automation already exists")
			return
		}
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.ruleRepo.Create(r.Context(), &cfg); err != nil {
		//nolint:errcheck // Best-effort rollback; the rule was just added
		s.engine.RemoveRule(cfg.ID)
		if errors.Is(err, automation.ErrRuleExists) {
			writeConflict(w, "automation already exists")
			return
		}
		s.logger.Error("failed to persist automation", "automation_id", cfg.ID, "error", err)
		writeInternalError(w, "failed to save automation")
		return
	}

	writeJSON(w, http.StatusCreated, cfg)
}

// handleUpdateAutomation replaces an automation rule.
func (s *Server) handleUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var cfg automation.RuleConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	cfg.ID = id

	if err := s.engine.UpdateRule(&cfg); err != nil {
		if errors.Is(err, automation.ErrRuleNotFound) {
			writeNotFound(w, "automation not found")
			return
		}
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.ruleRepo.Update(r.Context(), &cfg); err != nil {
		s.logger.Error("failed to persist automation update", "automation_id", id, "error", err)
		writeInternalError(w, "failed to save automation")
		return
	}

	// Return the live snapshot so carried-over stats are visible
	rule, err := s.engine.GetRule(id)
	if err != nil {
		writeInternalError(w, "failed to get automation")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// handleDeleteAutomation removes an automation rule.
func (s *Server) handleDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.engine.RemoveRule(id); err != nil {
		if errors.Is(err, automation.ErrRuleNotFound) {
			writeNotFound(w, "automation not found")
			return
		}
		writeInternalError(w, "failed to delete automation")
		return
	}

	if err := s.ruleRepo.Delete(r.Context(), id); err != nil && !errors.Is(err, automation.ErrRuleNotFound) {
		s.logger.Error("failed to delete persisted automation", "automation_id", id, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleEnableAutomation enables a rule. Idempotent.
func (s *Server) handleEnableAutomation(w http.ResponseWriter, r *http.Request) {
	s.setAutomationEnabled(w, r, true)
}

// handleDisableAutomation disables a rule. Idempotent.
func (s *Server) handleDisableAutomation(w http.ResponseWriter, r *http.Request) {
	s.setAutomationEnabled(w, r, false)
}

func (s *Server) setAutomationEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := chi.URLParam(r, "id")

	var err error
	if enabled {
		err = s.engine.EnableRule(id)
	} else {
		err = s.engine.DisableRule(id)
	}
	if err != nil {
		if errors.Is(err, automation.ErrRuleNotFound) {
			writeNotFound(w, "automation not found")
			return
		}
		writeInternalError(w, "failed to update automation")
		return
	}

	// Persist the new enabled flag from the live snapshot
	rule, err := s.engine.GetRule(id)
	if err == nil {
		if persistErr := s.ruleRepo.Update(r.Context(), &rule); persistErr != nil {
			s.logger.Error("failed to persist enabled flag", "automation_id", id, "error", persistErr)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
}

// handleTriggerAutomation manually fires a rule: the trigger check is
// bypassed, conditions and actions still run. Asynchronous.
func (s *Server) handleTriggerAutomation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// The execution outlives this request, so detach its context
	if err := s.engine.TriggerRule(context.WithoutCancel(r.Context()), id); err != nil {
		if errors.Is(err, automation.ErrRuleNotFound) {
			writeNotFound(w, "automation not found")
			return
		}
		writeInternalError(w, "failed to trigger automation")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":      id,
		"status":  "accepted",
		"message": "automation dispatched, results will follow via WebSocket",
	})
}
