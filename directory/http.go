package directory

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/GGPrompts/vibe4vets-sub003/shield"
)

// Handler returns the admin API with the shield middleware stack applied.
func (svc *Service) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack(svc.logger) {
		r.Use(mw)
	}
	svc.RegisterHTTP(r)
	return r
}

// RegisterHTTP mounts the admin routes on r.
func (svc *Service) RegisterHTTP(r chi.Router) {
	runLimit := shield.NewRateLimiter(30, 5)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", svc.handleStatus)
		r.Get("/sources", svc.handleSources)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", svc.handleScheduledJobs)
			r.Get("/history", svc.handleHistory)
			r.With(runLimit.Middleware).Post("/{name}/run", svc.handleRunJob)
		})

		r.Route("/resources", func(r chi.Router) {
			r.Get("/", svc.handleListResources)
			r.Get("/{id}", svc.handleGetResource)
			r.Post("/{id}/verify", svc.handleVerify)
			r.Get("/{id}/changes", svc.handleChanges)
			r.Get("/{id}/link-checks", svc.handleLinkChecks)
		})

		r.Route("/reviews", func(r chi.Router) {
			r.Get("/", svc.handleListReviews)
			r.Post("/{id}/approve", svc.handleResolve(true))
			r.Post("/{id}/reject", svc.handleResolve(false))
		})

		r.Get("/audit", svc.handleAudit)
	})
}

func (svc *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := svc.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (svc *Service) handleSources(w http.ResponseWriter, r *http.Request) {
	list, err := svc.ListSources(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (svc *Service) handleScheduledJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, svc.ScheduledJobs())
}

func (svc *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(svc.History(limit)))
}

// handleRunJob triggers a job. With wait it answers 200 and the result,
// otherwise 202 at once.
func (svc *Service) handleRunJob(w http.ResponseWriter, r *http.Request) {
	var req runJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, errors.Join(ErrInvalidInput, err))
		return
	}
	req.Name = chi.URLParam(r, "name")
	if v := r.URL.Query().Get("wait"); v != "" {
		req.Wait, _ = strconv.ParseBool(v)
	}

	resp, err := svc.endpoints.runJob(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !req.Wait {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

func (svc *Service) handleListResources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ResourceFilter{Status: q.Get("status"), Category: q.Get("category"), State: q.Get("state")}
	var err error
	if f.Limit, err = queryInt(r, "limit", 50); err != nil {
		writeError(w, r, err)
		return
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeError(w, r, err)
		return
	}
	list, err := svc.ListResources(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (svc *Service) handleGetResource(w http.ResponseWriter, r *http.Request) {
	res, err := svc.GetResource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (svc *Service) handleVerify(w http.ResponseWriter, r *http.Request) {
	res, err := svc.endpoints.verify(r.Context(), &idRequest{ID: chi.URLParam(r, "id")})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (svc *Service) handleChanges(w http.ResponseWriter, r *http.Request) {
	list, err := svc.ChangeLog(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (svc *Service) handleLinkChecks(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := svc.LinkChecks(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (svc *Service) handleListReviews(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := svc.ListReviews(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (svc *Service) handleResolve(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := svc.endpoints.resolve(r.Context(), &resolveRequest{ID: chi.URLParam(r, "id"), Approve: approve})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func (svc *Service) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	list, err := svc.AuditLog(r.Context(), AuditFilter{Action: q.Get("action"), Status: q.Get("status"), Limit: limit})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.Join(ErrInvalidInput, errors.New(key+" must be a non-negative integer"))
	}
	return n, nil
}

// nonNil keeps empty lists as [] rather than null.
func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// httpStatus maps service errors to status codes.
func httpStatus(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidSchedule):
		return http.StatusBadRequest
	case errors.Is(err, ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	if status >= 500 {
		shield.GetLogger(r.Context()).Error("http: handler failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
