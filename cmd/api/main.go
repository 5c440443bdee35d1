package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"snackticket/internal/auth"
	"snackticket/internal/clock"
	"snackticket/internal/config"
	"snackticket/internal/eligibility"
	"snackticket/internal/geo"
	"snackticket/internal/history"
	"snackticket/internal/httpmiddleware"
	"snackticket/internal/ledger"
	"snackticket/internal/queue"
	"snackticket/internal/schedule"
	"snackticket/internal/store"
	"snackticket/internal/ticket"
	"snackticket/internal/user"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	registry, err := schedule.Load(cfg.ScheduleJSON)
	if err != nil {
		return err
	}
	rules, err := loadRules(cfg)
	if err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var kv store.KV
	if cfg.StoreBackend == "memory" {
		kv = store.NewMemory()
	} else {
		kv = redisClient.KV()
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "tickets:redemptions")
	}

	// History lives in Postgres; the API tolerates it being down and then
	// serves today's flags only.
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable, past history disabled: %v", err)
		_ = db.Close()
		db = nil
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()
	var histRepo *history.Repository
	if db != nil {
		histRepo = history.NewRepository(db.Client)
	}

	schoolClock := clock.New(cfg.UTCOffsetHours)
	led := ledger.New(kv)
	dir := user.NewDirectory(kv)
	gate := geo.Gate{
		Target:      geo.Coordinate{Latitude: cfg.SchoolLatitude, Longitude: cfg.SchoolLongitude},
		ThresholdKm: cfg.RadiusKm,
	}
	svc := ticket.NewService(schoolClock, registry, led, gate, rules, cfg.PrivilegedTestID, q)

	if cfg.SeedUsers {
		if err := dir.Seed(context.Background()); err != nil {
			log.Printf("warning: user seed failed: %v", err)
		}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		status, payload := healthReport(cfg, redisHealthy, db != nil)
		c.JSON(status, payload)
	})

	r.POST("/v1/auth/login", func(c *gin.Context) {
		var req struct {
			ID       string `json:"id" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		u, err := dir.Authenticate(c.Request.Context(), req.ID, req.Password)
		if err != nil {
			if errors.Is(err, user.ErrInvalidCredentials) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
			return
		}

		tokens, err := auth.Issue(u.ID, u.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
			"role":          u.Role,
			"name":          u.Name,
			"class":         u.Class,
		})
	})

	r.POST("/v1/auth/reset-password", func(c *gin.Context) {
		var req struct {
			ID          string `json:"id" binding:"required,len=8,numeric"`
			NewPassword string `json:"new_password" binding:"required,min=6"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := dir.ResetPassword(c.Request.Context(), req.ID, req.NewPassword); err != nil {
			if errors.Is(err, user.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reset failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "password updated"})
	})

	studentGroup := r.Group("/v1/tickets",
		auth.RequireAuth(cfg.JWTSigningKey, cfg.JWTIssuer),
		auth.RequireRole(user.RoleStudent),
	)

	studentGroup.GET("/status", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		u, err := dir.Get(c.Request.Context(), claims.Subject)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown student"})
			return
		}

		st, err := svc.Status(c.Request.Context(), u)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, statusPayload(st))
	})

	studentGroup.POST("/redeem", func(c *gin.Context) {
		var req struct {
			Latitude       *float64 `json:"latitude"`
			Longitude      *float64 `json:"longitude"`
			LocationStatus string   `json:"location_status"` // "unavailable" when permission denied
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		claims, _ := auth.FromContext(c)
		u, err := dir.Get(c.Request.Context(), claims.Subject)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown student"})
			return
		}

		var reported *geo.Coordinate
		if req.LocationStatus != "unavailable" && req.Latitude != nil && req.Longitude != nil {
			reported = &geo.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude}
		}

		t, err := svc.Redeem(c.Request.Context(), u, reported)
		if err != nil {
			writeRedeemError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"ticket_number": t.Number,
			"student":       t.Student.Name,
			"class":         t.Class.Name,
			"issued_at":     t.IssuedAt,
		})
	})

	adminGroup := r.Group("/v1/admin",
		auth.RequireAuth(cfg.JWTSigningKey, cfg.JWTIssuer),
		auth.RequireRole(user.RoleAdmin),
	)

	adminGroup.POST("/students", func(c *gin.Context) {
		var req struct {
			ID       string `json:"id" binding:"required,len=8,numeric"`
			Password string `json:"password" binding:"required,min=6"`
			Name     string `json:"name" binding:"required,min=3"`
			Class    string `json:"class" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if _, ok := registry.Lookup(req.Class); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown class"})
			return
		}

		err := dir.Register(c.Request.Context(), user.User{
			ID:       req.ID,
			Password: req.Password,
			Role:     user.RoleStudent,
			Name:     req.Name,
			Class:    req.Class,
		})
		if err != nil {
			if errors.Is(err, user.ErrDuplicateID) {
				c.JSON(http.StatusConflict, gin.H{"error": "id already registered"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": req.ID, "class": req.Class})
	})

	adminGroup.GET("/classes", func(c *gin.Context) {
		classes := registry.All()
		out := make([]gin.H, 0, len(classes))
		for _, cl := range classes {
			out = append(out, gin.H{
				"id":          cl.ID,
				"name":        cl.Name,
				"break_start": cl.StartClock(),
				"break_end":   cl.EndClock(),
			})
		}
		c.JSON(http.StatusOK, gin.H{"classes": out})
	})

	adminGroup.GET("/classes/:id/history", func(c *gin.Context) {
		classID := c.Param("id")
		class, ok := registry.Lookup(classID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown class"})
			return
		}

		today, err := svc.ClassToday(c.Request.Context(), dir, classID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}

		var events []history.Event
		if histRepo != nil {
			events, err = histRepo.ListByClass(c.Request.Context(), classID, limit, offset)
			if err != nil {
				log.Printf("history list failed: %v", err)
				events = nil
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"class": gin.H{
				"id":          class.ID,
				"name":        class.Name,
				"break_start": class.StartClock(),
				"break_end":   class.EndClock(),
			},
			"today":  today,
			"events": events,
		})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// healthReport grades store and queue health separately: a memory backend
// is always up, but it never excuses the other backend still on redis.
func healthReport(cfg config.App, redisHealthy, historyUp bool) (int, gin.H) {
	storeHealthy := redisHealthy || cfg.StoreBackend == "memory"
	queueHealthy := redisHealthy || cfg.QueueBackend == "memory"
	status := http.StatusOK
	if !storeHealthy || !queueHealthy {
		status = http.StatusServiceUnavailable
	}
	return status, gin.H{
		"status":  "ok",
		"store":   storeHealthy,
		"queue":   queueHealthy,
		"history": historyUp,
	}
}

func loadRules(cfg config.App) (eligibility.Rules, error) {
	opening, err := schedule.ParseClock(cfg.OpeningTime)
	if err != nil {
		return eligibility.Rules{}, err
	}
	closing, err := schedule.ParseClock(cfg.ClosingTime)
	if err != nil {
		return eligibility.Rules{}, err
	}
	return eligibility.Rules{
		OpeningMinute:    opening,
		ClosingMinute:    closing,
		PreWindowMinutes: cfg.PreWindowMinutes,
	}, nil
}

func statusPayload(st ticket.Status) gin.H {
	payload := gin.H{
		"state":       st.Decision.State,
		"redeemed":    st.Redeemed,
		"now":         st.Now,
		"class":       st.Class.Name,
		"break_start": st.Class.StartClock(),
		"break_end":   st.Class.EndClock(),
	}
	if st.Decision.Countdown != nil {
		payload["countdown"] = st.Decision.Countdown.String()
	}
	return payload
}

func writeRedeemError(c *gin.Context, err error) {
	var notEligible *ticket.NotEligibleError
	switch {
	case errors.As(err, &notEligible):
		payload := gin.H{"error": "not eligible", "state": notEligible.Decision.State}
		if notEligible.Decision.Countdown != nil {
			payload["countdown"] = notEligible.Decision.Countdown.String()
		}
		c.JSON(http.StatusConflict, payload)
	case errors.Is(err, ticket.ErrLocationUnknown):
		c.JSON(http.StatusConflict, gin.H{"error": "location unavailable", "state": "location_unknown"})
	case errors.Is(err, ticket.ErrOutOfRange):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "state": "location_out_of_range"})
	case errors.Is(err, ticket.ErrUnknownClass):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "redeem failed"})
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
