package core

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultPerPage    = 20
	maxPerPage        = 100
	minPasswordLength = 8
)

// RouterDeps are the components the HTTP layer drives.
type RouterDeps struct {
	Flow     *LoginFlow
	Users    UserRepository
	Sessions *SessionRegistry
	Metrics  *MetricsService
	Notifier CredentialsNotifier
	Logger   *slog.Logger
}

// NewRouter constructs the Gin engine with routes wired.
func NewRouter(cfg Config, store *sessions.CookieStore, deps RouterDeps) *gin.Engine {
	startedAt := time.Now()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	flow := deps.Flow
	userRepo := deps.Users
	r := gin.Default()

	// Global middleware: origin/CORS -> session -> CSRF
	r.Use(OriginRefererMiddleware(cfg))
	r.Use(SessionMiddleware(cfg, store))
	r.Use(CSRFMiddleware(cfg, store))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	{
		api.POST("/auth/login", func(c *gin.Context) {
			var req struct {
				Username string `json:"username"`
				Password string `json:"password"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
				return
			}

			att, err := flow.PasswordLogin(c.Request.Context(), sessionID(c), req.Username, req.Password)
			if err != nil {
				respondLoginError(c, err)
				return
			}
			recordLogin(c.Request.Context(), logger, userRepo, att)
			if !rotateSessionCookie(c, cfg, flow) {
				return
			}
			c.JSON(http.StatusOK, gin.H{"user": att.Identity, "token": att.Token, "method": att.Method})
		})

		api.POST("/auth/face-login", func(c *gin.Context) {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(cfg.MaxFrameBytes)+4096)
			var req struct {
				Image string `json:"image"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					respondError(c, http.StatusRequestEntityTooLarge, "FRAME_TOO_LARGE", "captured frame is too large")
					return
				}
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
				return
			}
			if strings.TrimSpace(req.Image) == "" {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "image is required")
				return
			}
			if len(req.Image) > cfg.MaxFrameBytes {
				respondError(c, http.StatusRequestEntityTooLarge, "FRAME_TOO_LARGE", "captured frame is too large")
				return
			}

			att, err := flow.FacialLogin(c.Request.Context(), sessionID(c), req.Image)
			if err != nil {
				respondLoginError(c, err)
				return
			}
			recordLogin(c.Request.Context(), logger, userRepo, att)
			if !rotateSessionCookie(c, cfg, flow) {
				return
			}
			c.JSON(http.StatusOK, gin.H{"user": att.Identity, "token": att.Token, "method": att.Method})
		})

		api.POST("/auth/logout", func(c *gin.Context) {
			if _, ok := requireLogin(c, flow); !ok {
				return
			}
			flow.Logout(c.Request.Context(), sessionID(c))
			if !expireSessionCookie(c, cfg) {
				return
			}
			c.Status(http.StatusNoContent)
		})

		// Escape hatch for a browser stuck in a bad state: always clears, never requires auth.
		api.POST("/auth/clear-session", func(c *gin.Context) {
			flow.Logout(c.Request.Context(), sessionID(c))
			if !expireSessionCookie(c, cfg) {
				return
			}
			c.Status(http.StatusNoContent)
		})

		api.GET("/session", func(c *gin.Context) {
			snap := flow.Session(c.Request.Context(), sessionID(c))
			resp := gin.H{
				"authenticated": snap.State == StateAuthenticated,
				"state":         snap.State.String(),
				"token":         snap.Token,
			}
			if snap.Identity != nil {
				resp["user"] = snap.Identity
			}
			c.JSON(http.StatusOK, resp)
		})

		api.GET("/users/me", func(c *gin.Context) {
			id, ok := requireLogin(c, flow)
			if !ok {
				return
			}
			u, err := userRepo.FindByUsername(c.Request.Context(), id.Username)
			if err != nil {
				if errors.Is(err, ErrUserNotFound) {
					respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "user no longer exists")
					return
				}
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to load user")
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"id":            u.ID,
				"username":      u.Username,
				"name":          u.Name,
				"email":         u.Email,
				"department":    u.Department,
				"role":          u.Role,
				"face_enabled":  u.FaceSubject != nil,
				"last_login_at": u.LastLoginAt,
				"created_at":    u.CreatedAt,
			})
		})

		admin := api.Group("/admin", AdminOnly(flow))
		{
			admin.GET("/users", func(c *gin.Context) {
				page, perPage, err := parsePagination(c.Query("page"), c.Query("per_page"))
				if err != nil {
					respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
					return
				}
				items, total, err := userRepo.List(c.Request.Context(), page, perPage)
				if err != nil {
					respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to fetch users")
					return
				}
				c.JSON(http.StatusOK, gin.H{
					"items":       items,
					"page":        page,
					"per_page":    perPage,
					"total_items": total,
					"total_pages": calcTotalPages(total, perPage),
				})
			})

			admin.POST("/users", func(c *gin.Context) {
				var req struct {
					Username    string `json:"username"`
					Password    string `json:"password"`
					Name        string `json:"name"`
					Email       string `json:"email"`
					Department  string `json:"department"`
					Role        string `json:"role"`
					FaceSubject string `json:"face_subject"`
				}
				if err := c.ShouldBindJSON(&req); err != nil {
					respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
					return
				}
				in := UserCreateInput{
					Username:    strings.TrimSpace(req.Username),
					Name:        strings.TrimSpace(req.Name),
					Email:       strings.TrimSpace(req.Email),
					Department:  strings.TrimSpace(req.Department),
					Role:        strings.TrimSpace(req.Role),
					FaceSubject: strings.TrimSpace(req.FaceSubject),
				}
				if in.Username == "" || in.Name == "" || in.Email == "" {
					respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "username, name and email are required")
					return
				}
				if len(req.Password) < minPasswordLength {
					respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "password must be at least 8 characters")
					return
				}
				if in.Role == "" {
					in.Role = "user"
				}
				if in.Role != "user" && in.Role != "admin" {
					respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid role")
					return
				}

				hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
				if err != nil {
					respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to hash password")
					return
				}
				in.PasswordHash = string(hash)

				ctx := c.Request.Context()
				id, err := userRepo.Create(ctx, in)
				if err != nil {
					if errors.Is(err, ErrUserExists) {
						respondError(c, http.StatusConflict, "CONFLICT", "username already exists")
						return
					}
					logger.Error("create user", "username", in.Username, "error", err)
					respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to create user")
					return
				}

				// The account exists either way; delivery failure is reported, not rolled back.
				notified := false
				if deps.Notifier != nil {
					notice := CredentialsNotice{Name: in.Name, Email: in.Email, Username: in.Username, Password: req.Password}
					if err := deps.Notifier.Notify(ctx, notice); err != nil {
						logger.Warn("credentials notice failed", "username", in.Username, "error", err)
					} else {
						notified = true
					}
				}

				c.JSON(http.StatusCreated, gin.H{
					"id":       id,
					"username": in.Username,
					"role":     in.Role,
					"notified": notified,
				})
			})

			admin.PUT("/users/:username/face", func(c *gin.Context) {
				var req struct {
					Subject   string    `json:"subject"`
					Embedding []float32 `json:"embedding"`
				}
				if err := c.ShouldBindJSON(&req); err != nil {
					respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
					return
				}
				username := c.Param("username")
				err := userRepo.EnrollFace(c.Request.Context(), username, strings.TrimSpace(req.Subject), req.Embedding)
				if err != nil {
					if errors.Is(err, ErrUserNotFound) {
						respondError(c, http.StatusNotFound, "NOT_FOUND", "user not found")
						return
					}
					logger.Error("enroll face", "username", username, "error", err)
					respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to enroll face")
					return
				}
				c.Status(http.StatusNoContent)
			})

			admin.GET("/system/status", func(c *gin.Context) {
				c.JSON(http.StatusOK, CollectSystemStatus(c.Request.Context(), deps.Sessions, deps.Metrics, startedAt))
			})
		}
	}

	return r
}

// respondLoginError maps a login path failure to its HTTP response.
func respondLoginError(c *gin.Context, err error) {
	var fe *FacialLoginError
	switch {
	case errors.Is(err, ErrInvalidInput):
		respondError(c, http.StatusBadRequest, "INVALID_INPUT", "username and password are required")
	case errors.Is(err, ErrInvalidCredentials):
		respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password")
	case errors.Is(err, ErrAttemptSuperseded):
		respondError(c, http.StatusConflict, "SUPERSEDED", "session changed while the login was pending")
	case errors.Is(err, ErrUserStoreUnavailable):
		respondError(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "login is temporarily unavailable")
	case errors.As(err, &fe):
		switch fe.Kind {
		case FaceNone:
			respondError(c, http.StatusUnprocessableEntity, "NO_FACE", fe.Guidance())
		case FaceMultiple:
			respondError(c, http.StatusUnprocessableEntity, "MULTIPLE_FACES", fe.Guidance())
		case FaceUnknown:
			respondError(c, http.StatusUnauthorized, "UNKNOWN_FACE", fe.Guidance())
		case FaceBusy:
			respondError(c, http.StatusTooManyRequests, "BUSY", fe.Guidance())
		case FaceAttemptsExhausted:
			respondError(c, http.StatusTooManyRequests, "ATTEMPTS_EXHAUSTED", fe.Guidance())
		default:
			respondErrorDetail(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", fe.Guidance(), fe.Message)
		}
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "login failed")
	}
}

// recordLogin updates last-login bookkeeping; failures never undo the login.
func recordLogin(ctx context.Context, logger *slog.Logger, users UserRepository, att *LoginAttempt) {
	if users == nil || !att.Succeeded() {
		return
	}
	if err := users.RecordLogin(ctx, att.Identity.ID, att.StartedAt); err != nil {
		logger.Warn("record last login", "user", att.Identity.Username, "error", err)
	}
}

func requireLogin(c *gin.Context, flow *LoginFlow) (Identity, bool) {
	id, ok := flow.Current(c.Request.Context(), sessionID(c))
	if !ok {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "login required")
		return Identity{}, false
	}
	return id, true
}

// rotateSessionCookie issues a fresh browser session id and CSRF token after a
// login so an id planted before authentication is worthless afterwards.
func rotateSessionCookie(c *gin.Context, cfg Config, flow *LoginFlow) bool {
	sessionAny, _ := c.Get(ctxSession)
	sess, _ := sessionAny.(*sessions.Session)
	if sess == nil {
		return true
	}
	csrf, err := generateCSRFToken()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to issue csrf token")
		return false
	}
	next := flow.RotateSession(c.Request.Context(), sessionID(c))
	sess.Values[ctxSessionID] = next
	sess.Values["csrf_token"] = csrf
	applySessionOptions(cfg, sess)
	if err := sess.Save(c.Request, c.Writer); err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to persist session")
		return false
	}
	c.Set(ctxSessionID, next)
	c.Header("X-CSRF-Token", csrf)
	return true
}

func expireSessionCookie(c *gin.Context, cfg Config) bool {
	sessionAny, _ := c.Get(ctxSession)
	sess, _ := sessionAny.(*sessions.Session)
	if sess == nil {
		return true
	}
	sess.Values = map[interface{}]interface{}{}
	applySessionOptions(cfg, sess)
	sess.Options.MaxAge = -1 // Must be set AFTER applySessionOptions to properly delete cookie
	if err := sess.Save(c.Request, c.Writer); err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to clear session")
		return false
	}
	return true
}

func parsePagination(pageStr, perPageStr string) (int, int, error) {
	page := 1
	perPage := defaultPerPage
	if strings.TrimSpace(pageStr) != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p <= 0 {
			return 0, 0, errors.New("page must be a positive integer")
		}
		page = p
	}
	if strings.TrimSpace(perPageStr) != "" {
		p, err := strconv.Atoi(perPageStr)
		if err != nil || p <= 0 {
			return 0, 0, errors.New("per_page must be a positive integer")
		}
		if p > maxPerPage {
			p = maxPerPage
		}
		perPage = p
	}
	return page, perPage, nil
}

func calcTotalPages(total, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}
