// Package apiserver is the HTTP facade over the tables: wallet reads, the
// casino tier catalog, matchmaking, and the player action surface. The
// real-time event stream stays on the Broadcaster collaborator; this facade
// carries the request/response half of the protocol.
package apiserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/jackhouse/internal/casino"
	"github.com/MarkoPoloResearchLab/jackhouse/internal/game"
	"github.com/MarkoPoloResearchLab/jackhouse/internal/rooms"
	"github.com/MarkoPoloResearchLab/jackhouse/pkg/asset"
	"github.com/MarkoPoloResearchLab/jackhouse/pkg/blackjack"
	"github.com/MarkoPoloResearchLab/jackhouse/pkg/dlock"
)

// Config holds the HTTP facade settings.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
}

// Server serves the HTTP facade.
type Server struct {
	cfg     Config
	ledger  *asset.Service
	catalog *casino.Catalog
	manager *rooms.Manager
	engine  *game.Service
	logger  *zap.Logger
	router  *gin.Engine
}

// New wires the facade router.
func New(cfg Config, ledger *asset.Service, catalog *casino.Catalog, manager *rooms.Manager, engine *game.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &Server{
		cfg:     cfg,
		ledger:  ledger,
		catalog: catalog,
		manager: manager,
		engine:  engine,
		logger:  logger,
	}
	server.router = server.setupRouter()
	return server
}

func (server *Server) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/casinos", server.handleCasinos)
	api.GET("/wallet/:owner", server.handleWallet)
	api.POST("/rooms/join", server.handleJoin)
	api.POST("/rooms/action", server.handleAction)

	return router
}

// Handler exposes the router, for tests.
func (server *Server) Handler() http.Handler {
	return server.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.router,
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (server *Server) handleCasinos(ctx *gin.Context) {
	tiers, err := server.catalog.All(ctx.Request.Context())
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payload := make([]tierPayload, 0, len(tiers))
	for _, tier := range tiers {
		payload = append(payload, tierPayload{
			Level:  tier.Level,
			MinBet: tier.MinBet,
			MaxBet: tier.MaxBet,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"casinos": payload})
}

func (server *Server) handleWallet(ctx *gin.Context) {
	owner, err := asset.NewOwnerID(ctx.Param("owner"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_owner", "owner id required"))
		return
	}
	account, err := server.ledger.Account(ctx.Request.Context(), owner, asset.TokenJack)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"wallet": walletPayload{
			OwnerID: account.Owner.String(),
			Token:   account.Token.String(),
			Amount:  account.Amount,
			Version: account.Version,
		},
	})
}

func (server *Server) handleJoin(ctx *gin.Context) {
	var request joinRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	if request.PlayerID == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_player", "player id required"))
		return
	}
	if err := server.manager.Join(ctx.Request.Context(), request.PlayerID, request.Level); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "joined"})
}

func (server *Server) handleAction(ctx *gin.Context) {
	var request actionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	if request.PlayerID == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_player", "player id required"))
		return
	}
	err := server.engine.PlayerAction(ctx.Request.Context(), request.PlayerID, blackjack.Action(request.Action), request.Amount)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps domain errors onto HTTP statuses. Lock contention is a
// throttling signal, not a failure.
func (server *Server) respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, asset.ErrAccountNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("account_not_found", "no such wallet"))
	case errors.Is(err, casino.ErrNoSuchTier):
		ctx.JSON(http.StatusNotFound, errorResponse("no_such_tier", "unknown casino level"))
	case errors.Is(err, rooms.ErrRoomNotFound), errors.Is(err, game.ErrNoActiveHand):
		ctx.JSON(http.StatusNotFound, errorResponse("no_active_room", "no room for player"))
	case errors.Is(err, rooms.ErrNotEligible):
		ctx.JSON(http.StatusForbidden, errorResponse("not_eligible", "balance below tier minimum"))
	case errors.Is(err, game.ErrBetOutOfRange):
		ctx.JSON(http.StatusBadRequest, errorResponse("bet_out_of_range", "bet outside tier range"))
	case errors.Is(err, game.ErrInsufficientFunds):
		ctx.JSON(http.StatusBadRequest, errorResponse("insufficient_funds", "balance too low"))
	case errors.Is(err, game.ErrAlreadyActioned):
		ctx.JSON(http.StatusConflict, errorResponse("already_actioned", "action already taken"))
	case errors.Is(err, game.ErrActionUnavailable):
		ctx.JSON(http.StatusConflict, errorResponse("action_unavailable", "action not offered"))
	case errors.Is(err, dlock.ErrLockUnavailable):
		ctx.JSON(http.StatusTooManyRequests, errorResponse("busy", "try again"))
	default:
		server.logger.Error("request failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "internal error"))
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type joinRequest struct {
	PlayerID string `json:"playerId"`
	Level    int    `json:"level"`
}

type actionRequest struct {
	PlayerID string `json:"playerId"`
	Action   string `json:"action"`
	Amount   int64  `json:"amount"`
}

type tierPayload struct {
	Level  int   `json:"level"`
	MinBet int64 `json:"minBet"`
	MaxBet int64 `json:"maxBet"`
}

type walletPayload struct {
	OwnerID string `json:"ownerId"`
	Token   string `json:"token"`
	Amount  int64  `json:"amount"`
	Version int64  `json:"version"`
}
