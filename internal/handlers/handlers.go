package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"authgate/api/internal/cache"
	"authgate/api/internal/config"
	"authgate/api/internal/middleware"
	"authgate/api/internal/repository"
	"authgate/api/internal/security"
	"authgate/api/internal/service"
)

type HandlerSet struct {
	log       zerolog.Logger
	cfg       *config.AppConfig
	auth      *service.AuthService
	issuer    *security.TokenIssuer
	users     service.UserStore
	userCache *cache.UserCache
	db        *pgxpool.Pool
	rdb       *redis.Client
}

func NewHandlerSet(log zerolog.Logger, db *pgxpool.Pool, rdb *redis.Client, cfg *config.AppConfig) HandlerSet {
	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	hasher := security.NewPasswordHasher()
	issuer := security.NewTokenIssuer(
		cfg.Security.JWTSecret,
		cfg.Security.JWTAccessTTL,
		cfg.Security.JWTRefreshTTL,
	)
	auth := service.NewAuthService(userRepo, sessionRepo, hasher, issuer, log)

	return HandlerSet{
		log:       log,
		cfg:       cfg,
		auth:      auth,
		issuer:    issuer,
		users:     userRepo,
		userCache: cache.NewUserCache(rdb, cfg.Security.UserCacheTTL),
		db:        db,
		rdb:       rdb,
	}
}

func (h HandlerSet) Routes(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/logout", h.Logout)

		protected := v1.Group("/auth")
		protected.Use(middleware.Auth(h.issuer, h.users, h.userCache))
		protected.GET("/me", h.Me)
	}
}
