package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const readinessTimeout = 3 * time.Second

// DependencyCheck reports whether an external dependency is reachable.
type DependencyCheck func(ctx context.Context) error

// MongoCheck pings the database.
func MongoCheck(db *mongo.Database) DependencyCheck {
	return func(ctx context.Context) error {
		return db.RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err()
	}
}

// RedisCheck pings the Redis server.
func RedisCheck(rdb *redis.Client) DependencyCheck {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

// Dependency is an external service checked by the readiness probe.
type Dependency struct {
	Name  string
	Check DependencyCheck
	// Optional dependencies are reported but never fail readiness.
	Optional bool
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	deps []Dependency
	log  zerolog.Logger
}

func NewHealthHandler(log zerolog.Logger, deps ...Dependency) *HealthHandler {
	return &HealthHandler{deps: deps, log: log}
}

// Liveness handles GET /health. It only confirms the process is serving.
func (h *HealthHandler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type dependencyStatus struct {
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
}

type readinessResponse struct {
	Status       string                      `json:"status"`
	Dependencies map[string]dependencyStatus `json:"dependencies"`
}

// Readiness handles GET /health/ready. A failing required dependency answers
// 503 "unavailable"; a failing optional one answers 200 "degraded". Failure
// details go to the log only.
//
// @Summary      Readiness probe
// @Tags         health
// @Produce      json
// @Success      200  {object}  readinessResponse
// @Failure      503  {object}  readinessResponse
// @Router       /health/ready [get]
func (h *HealthHandler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessTimeout)
	defer cancel()

	statuses := make(map[string]dependencyStatus, len(h.deps))
	requiredDown, optionalDown := false, false
	for _, d := range h.deps {
		if err := d.Check(ctx); err != nil {
			h.log.Warn().Err(err).Str("dependency", d.Name).Bool("optional", d.Optional).Msg("readiness check failed")
			statuses[d.Name] = dependencyStatus{Status: "down", Optional: d.Optional}
			if d.Optional {
				optionalDown = true
			} else {
				requiredDown = true
			}
			continue
		}
		statuses[d.Name] = dependencyStatus{Status: "ok", Optional: d.Optional}
	}

	status, code := "ok", http.StatusOK
	switch {
	case requiredDown:
		status, code = "unavailable", http.StatusServiceUnavailable
	case optionalDown:
		status = "degraded"
	}

	return c.JSON(code, readinessResponse{
		Status:       status,
		Dependencies: statuses,
	})
}
