// Package httpapi exposes check-in and the seat, waiting-room and attendance
// read state over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"seatcheck/internal/audit"
	"seatcheck/internal/auth"
	"seatcheck/internal/checkin"
	"seatcheck/internal/httpmiddleware"
	"seatcheck/internal/ledger"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the collaborators the router serves.
type Deps struct {
	Coordinator *checkin.Coordinator
	Store       ledger.Store
	Events      audit.Reader
	Limiter     *httpmiddleware.TokenBucket
	Metrics     http.Handler
	Health      map[string]HealthCheck

	JWTSigningKey string
	JWTIssuer     string
	// DevTokens enables POST /v1/dev/tokens for local testing.
	DevTokens   bool
	AccessTTL   time.Duration
	CORSOrigins []string
	Clock       func() time.Time
}

type api struct {
	Deps
}

// NewRouter builds the gin engine.
func NewRouter(d Deps) *gin.Engine {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.AccessTTL <= 0 {
		d.AccessTTL = 12 * time.Hour
	}
	a := &api{Deps: d}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(corsConfig(d.CORSOrigins)))
	r.Use(securityHeaders())

	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}
	r.GET("/healthz", a.healthz)

	if d.DevTokens {
		r.POST("/v1/dev/tokens", a.issueDevToken)
	}

	v1 := r.Group("/v1", auth.StudentAuth(d.JWTSigningKey, d.JWTIssuer))
	checkins := []gin.HandlerFunc{}
	if d.Limiter != nil {
		checkins = append(checkins, d.Limiter.GinMiddleware(callerKey))
	}
	checkins = append(checkins, a.checkIn)
	v1.POST("/checkins", checkins...)
	v1.POST("/seats/release", a.releaseSeat)
	v1.GET("/academies/:academy/rooms/:room/seats/:seat", a.seatOccupant)
	v1.GET("/academies/:academy/waiting", a.listWaiting)
	v1.POST("/academies/:academy/waiting/leave", a.leaveWaiting)
	v1.GET("/attendance", a.getAttendance)
	if d.Events != nil {
		v1.GET("/events", a.listEvents)
	}
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	cfg.MaxAge = 24 * time.Hour
	return cfg
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

// callerKey rate-limits by student, falling back to the client address.
func callerKey(c *gin.Context) string {
	if id, ok := auth.IdentityFrom(c); ok && id.StudentID != "" {
		return "student:" + id.StudentID
	}
	return "ip:" + httpmiddleware.ClientIP(c)
}

func (a *api) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	body := gin.H{}
	healthy := true
	if a.Store != nil {
		ok := a.Store.Ping(ctx) == nil
		body["store"] = ok
		healthy = healthy && ok
	}
	for name, check := range a.Health {
		ok := check(ctx)
		body[name] = ok
		healthy = healthy && ok
	}
	status := http.StatusOK
	body["status"] = "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}
