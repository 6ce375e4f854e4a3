package sparkrest

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	sparkws "github.com/fireflyhq/spark-server/spark-ws"
	"github.com/fireflyhq/spark-server/spark-ws/memberdao"
	"github.com/fireflyhq/spark-server/spark-ws/sparkdao"
)

// API exposes spark CRUD over the same stores the coordinator reads.
type API struct {
	Sparks     sparkdao.Store
	Members    memberdao.Store
	SessionTTL time.Duration
}

// Mount attaches the spark routes to a router.
func (a *API) Mount(r chi.Router) {
	r.Route("/api/sparks", func(r chi.Router) {
		r.Post("/", a.createSpark)
		r.Get("/{id}", a.getSpark)
		r.Get("/{id}/connections", a.getSparkConnections)
		r.Patch("/{id}/activity", a.setSparkActivity)
	})
}

// NewSparkID generates an external spark token, e.g. FLY-9A41CF.
func NewSparkID() string {
	u := uuid.New()
	return "FLY-" + strings.ToUpper(hex.EncodeToString(u[:3]))
}

func (a *API) createSpark(w http.ResponseWriter, req *http.Request) {
	var body struct {
		FlashColor string `json:"flashColor"`
	}
	if req.Body != nil {
		// An empty body is fine; the color just defaults.
		json.NewDecoder(req.Body).Decode(&body)
	}
	if body.FlashColor == "" {
		body.FlashColor = sparkws.DefaultFlashColor
	}

	now := time.Now()
	spark := sparkdao.Spark{
		ID:         NewSparkID(),
		FlashColor: body.FlashColor,
		CreatedAt:  now,
		ExpiresAt:  now.Add(a.SessionTTL),
		IsActive:   true,
	}

	if err := a.Sparks.Put(req.Context(), spark); err != nil {
		zerolog.Ctx(req.Context()).Error().Err(err).Msg("failed to create spark")
		writeError(w, http.StatusBadRequest, "Failed to create spark")
		return
	}

	zerolog.Ctx(req.Context()).Info().Str("spark_id", spark.ID).Msg("spark created")
	writeJSON(w, http.StatusOK, spark)
}

func (a *API) getSpark(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")

	spark, ok, err := a.Sparks.Spark(req.Context(), id)
	if err != nil {
		zerolog.Ctx(req.Context()).Error().Err(err).Str("spark_id", id).Msg("failed to get spark")
		writeError(w, http.StatusInternalServerError, "Failed to get spark")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Spark not found")
		return
	}
	if spark.Expired(time.Now()) {
		writeError(w, http.StatusGone, "Spark expired")
		return
	}

	writeJSON(w, http.StatusOK, spark)
}

func (a *API) getSparkConnections(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")

	_, ok, err := a.Sparks.Spark(req.Context(), id)
	if err != nil {
		zerolog.Ctx(req.Context()).Error().Err(err).Str("spark_id", id).Msg("failed to get spark")
		writeError(w, http.StatusInternalServerError, "Failed to get connections")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Spark not found")
		return
	}

	members, err := a.Members.BySpark(req.Context(), id)
	if err != nil {
		zerolog.Ctx(req.Context()).Error().Err(err).Str("spark_id", id).Msg("failed to query members")
		writeError(w, http.StatusInternalServerError, "Failed to get connections")
		return
	}
	if members == nil {
		members = []memberdao.Member{}
	}

	writeJSON(w, http.StatusOK, members)
}

func (a *API) setSparkActivity(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")

	var body struct {
		IsActive *bool `json:"isActive"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.IsActive == nil {
		writeError(w, http.StatusBadRequest, "isActive is required")
		return
	}

	_, ok, err := a.Sparks.Spark(req.Context(), id)
	if err != nil {
		zerolog.Ctx(req.Context()).Error().Err(err).Str("spark_id", id).Msg("failed to get spark")
		writeError(w, http.StatusInternalServerError, "Failed to update spark")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Spark not found")
		return
	}

	if err := a.Sparks.SetActivity(req.Context(), id, *body.IsActive); err != nil {
		zerolog.Ctx(req.Context()).Error().Err(err).Str("spark_id", id).Msg("failed to update spark activity")
		writeError(w, http.StatusInternalServerError, "Failed to update spark")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
