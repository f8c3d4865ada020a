package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/search"
	"github.com/hyperjump/shashin/internal/storage"
)

type registerRequest struct {
	Name      string `json:"name"`
	ImagePath string `json:"image_path"`
}

func (s *Server) handleRegisterPerson(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("register request", zap.String("name", req.Name), zap.String("image", req.ImagePath))
	profile, replaced, err := s.registry.Register(r.Context(), req.Name, req.ImagePath)
	if err != nil {
		s.logger.Error("registration failed", zap.Error(err))
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	status := http.StatusCreated
	if replaced {
		status = http.StatusOK
	}
	s.respondJSON(w, status, map[string]interface{}{
		"profile":  profile,
		"replaced": replaced,
	})
}

func (s *Server) handleListPeople(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.registry.List(r.Context())
	if err != nil {
		s.logger.Error("list people failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"people": profiles,
		"total":  len(profiles),
	})
}

func (s *Server) handleGetPerson(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	profile, err := s.registry.Get(r.Context(), name)
	if err != nil {
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, profile)
}

func (s *Server) handleDeletePerson(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.logger.Debug("delete person request", zap.String("name", name))
	if err := s.registry.Remove(r.Context(), name); err != nil {
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"name": name, "status": "deleted"})
}

func (s *Server) handleBuildIndex(w http.ResponseWriter, r *http.Request) {
	report, err := s.Rebuild(r.Context())
	if err != nil {
		s.logger.Error("index build failed", zap.Error(err))
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

type personSearchRequest struct {
	Name          string   `json:"name"`
	FaceThreshold *float64 `json:"face_threshold,omitempty"`
	Limit         int      `json:"limit,omitempty"`
}

func (s *Server) handleSearchPerson(w http.ResponseWriter, r *http.Request) {
	engine := s.currentEngine()
	if engine == nil {
		s.respondError(w, http.StatusConflict, "no index has been built")
		return
	}
	var req personSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	resp, err := engine.SearchByName(r.Context(), req.Name, &search.Options{
		FaceThreshold: req.FaceThreshold,
		Limit:         req.Limit,
	})
	if err != nil {
		s.logger.Error("person search failed", zap.Error(err))
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type activitySearchRequest struct {
	Name              string   `json:"name"`
	Activity          string   `json:"activity"`
	FaceThreshold     *float64 `json:"face_threshold,omitempty"`
	ActivityThreshold *float64 `json:"activity_threshold,omitempty"`
	FaceWeight        *float64 `json:"face_weight,omitempty"`
	ActivityWeight    *float64 `json:"activity_weight,omitempty"`
	Limit             int      `json:"limit,omitempty"`
}

func (s *Server) handleSearchActivity(w http.ResponseWriter, r *http.Request) {
	engine := s.currentEngine()
	if engine == nil {
		s.respondError(w, http.StatusConflict, "no index has been built")
		return
	}
	var req activitySearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	resp, err := engine.SearchByNameAndActivity(r.Context(), req.Name, req.Activity, &search.Options{
		FaceThreshold:     req.FaceThreshold,
		ActivityThreshold: req.ActivityThreshold,
		FaceWeight:        req.FaceWeight,
		ActivityWeight:    req.ActivityWeight,
		Limit:             req.Limit,
	})
	if err != nil {
		s.logger.Error("activity search failed", zap.Error(err))
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type semanticSearchRequest struct {
	Text      string   `json:"text"`
	Threshold *float64 `json:"threshold,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

func (s *Server) handleSearchSemantic(w http.ResponseWriter, r *http.Request) {
	engine := s.currentEngine()
	if engine == nil {
		s.respondError(w, http.StatusConflict, "no index has been built")
		return
	}
	var req semanticSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := engine.SearchSemantic(r.Context(), req.Text, &search.Options{
		SemanticThreshold: req.Threshold,
		Limit:             req.Limit,
	})
	if err != nil {
		s.logger.Error("semantic search failed", zap.Error(err))
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearchFilename(w http.ResponseWriter, r *http.Request) {
	engine := s.currentEngine()
	if engine == nil {
		s.respondError(w, http.StatusConflict, "no index has been built")
		return
	}
	query := r.URL.Query().Get("q")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	resp, err := engine.SearchByFilename(r.Context(), query, limit)
	if err != nil {
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := map[string]interface{}{}

	recordCount, err := s.store.CountRecords(ctx)
	if err != nil {
		s.logger.Error("status: count records failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp["records"] = recordCount

	profiles, err := s.store.ListProfiles(ctx)
	if err != nil {
		s.logger.Error("status: list profiles failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp["people"] = len(profiles)

	if manifest, err := s.store.Manifest(ctx); err == nil {
		resp["index"] = manifest
	}

	s.mu.RLock()
	if s.vectorIndex != nil {
		resp["vector_index_size"] = s.vectorIndex.Size()
	}
	s.mu.RUnlock()

	configInfo := map[string]interface{}{
		"mode":                 s.config.Index.Mode,
		"vector_index_type":    s.config.Index.VectorIndexType,
		"embedding_dimensions": s.config.Embedding.Dimensions,
		"photo_directory":      s.config.Index.PhotoDirectory,
		"database_path":        s.config.Storage.DatabasePath,
		"vector_index_path":    s.config.Storage.VectorIndexPath,
		"bleve_index_path":     s.config.Storage.BleveIndexPath,
	}
	if diskBytes, err := storage.DiskUsageBytes(
		s.config.Storage.DatabasePath,
		s.config.Storage.VectorIndexPath,
		s.config.Storage.BleveIndexPath,
	); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	resp["config"] = configInfo
	s.respondJSON(w, http.StatusOK, resp)
}

// statusForError maps the error taxonomy to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNoFaceDetected), errors.Is(err, models.ErrAmbiguousFace):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrConfig):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnsupportedMode):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
