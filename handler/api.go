package handler

import (
	"context"
	"errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"live-monitor/constant"
	"live-monitor/dto"
	"live-monitor/entities"
	"live-monitor/pkg/eventbus"
	"live-monitor/repository"
	"net/http"
	"strconv"
)

const (
	userHeader = "X-User-ID"
	userKey    = "user"
)

// AccountManager is the part of the coordinator the API drives.
type AccountManager interface {
	Evaluate(ctx context.Context, accountID uuid.UUID) error
	RemoveAccount(ctx context.Context, accountID uuid.UUID) error
}

type API struct {
	store    repository.SessionStore
	bus      *eventbus.Bus
	accounts AccountManager
	ws       WSConfig
}

func NewAPI(store repository.SessionStore, bus *eventbus.Bus, accounts AccountManager, ws WSConfig) *API {
	return &API{store: store, bus: bus, accounts: accounts, ws: ws.withDefaults()}
}

func (a *API) Register(r gin.IRouter) {
	api := r.Group("/api", a.authenticate)
	api.GET("/accounts", a.listAccounts)
	api.POST("/accounts", a.createAccount)
	api.GET("/accounts/:id", a.getAccount)
	api.DELETE("/accounts/:id", a.deleteAccount)
	api.GET("/sessions/:id/segments", a.listSegments)
	api.GET("/notifications", a.listNotifications)
	api.POST("/notifications/read", a.markNotificationsRead)

	admin := api.Group("", requireAdmin)
	admin.GET("/alerts", a.listAlerts)
	admin.POST("/alerts/:id/resolve", a.resolveAlert)

	ws := r.Group("/ws", a.authenticate)
	ws.GET("/notifications", a.streamNotifications)
	ws.GET("/lives/:id", a.streamLive)
	ws.GET("/moderation", a.streamModeration)
}

// authenticate resolves the caller from the X-User-ID header, or the user_id
// query parameter for browser websockets. Identity is asserted by the
// fronting auth proxy.
func (a *API) authenticate(c *gin.Context) {
	raw := c.GetHeader(userHeader)
	if raw == "" {
		raw = c.Query("user_id")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid user id"})
		return
	}
	user, err := a.store.GetUser(c.Request.Context(), id)
	if err != nil {
		a.internalError(c, err)
		return
	}
	if user == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
		return
	}
	c.Set(userKey, user)
	c.Next()
}

func requireAdmin(c *gin.Context) {
	if !currentUser(c).IsAdmin() {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only"})
		return
	}
	c.Next()
}

func currentUser(c *gin.Context) *entities.User {
	user, _ := c.MustGet(userKey).(*entities.User)
	return user
}

func principal(user *entities.User) eventbus.Principal {
	return eventbus.Principal{UserID: user.ID, Admin: user.IsAdmin()}
}

func (a *API) internalError(c *gin.Context, err error) {
	zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

type accountView struct {
	*entities.TrackedAccount
	Status constant.AccountStatus `json:"status"`
}

func (a *API) view(ctx context.Context, account *entities.TrackedAccount) (accountView, error) {
	status, err := a.store.AccountStatus(ctx, account.ID)
	return accountView{TrackedAccount: account, Status: status}, err
}

func (a *API) listAccounts(c *gin.Context) {
	accounts, err := a.store.ListAccountsByOwner(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		a.internalError(c, err)
		return
	}
	out := make([]accountView, 0, len(accounts))
	for _, account := range accounts {
		v, err := a.view(c.Request.Context(), account)
		if err != nil {
			a.internalError(c, err)
			return
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) createAccount(c *gin.Context) {
	var req dto.CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.NormalizedHandle() == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "handle is empty"})
		return
	}

	account := &entities.TrackedAccount{
		OwnerId: currentUser(c).ID,
		Handle:  req.NormalizedHandle(),
		URL:     req.URL,
	}
	err := a.store.CreateAccount(c.Request.Context(), account)
	if errors.Is(err, repository.ErrDuplicateAccount) {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		a.internalError(c, err)
		return
	}

	evalCtx := context.WithoutCancel(c.Request.Context())
	go func() {
		if err := a.accounts.Evaluate(evalCtx, account.ID); err != nil {
			zerolog.Ctx(evalCtx).Error().Err(err).Str("account", account.Handle).Msg("initial evaluation failed")
		}
	}()

	c.JSON(http.StatusCreated, account)
}

// ownedAccount loads the account and checks the caller may see it.
func (a *API) ownedAccount(c *gin.Context, id uuid.UUID) (*entities.TrackedAccount, bool) {
	account, err := a.store.GetAccount(c.Request.Context(), id)
	if err != nil {
		a.internalError(c, err)
		return nil, false
	}
	user := currentUser(c)
	if account == nil || (account.OwnerId != user.ID && !user.IsAdmin()) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return nil, false
	}
	return account, true
}

func (a *API) getAccount(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	account, ok := a.ownedAccount(c, id)
	if !ok {
		return
	}
	v, err := a.view(c.Request.Context(), account)
	if err != nil {
		a.internalError(c, err)
		return
	}
	sessions, err := a.store.ListSessions(c.Request.Context(), account.ID)
	if err != nil {
		a.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": v, "sessions": sessions})
}

func (a *API) deleteAccount(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if _, ok := a.ownedAccount(c, id); !ok {
		return
	}
	err := a.accounts.RemoveAccount(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	if err != nil {
		a.internalError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) listSegments(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	session, err := a.store.GetSession(c.Request.Context(), id)
	if err != nil {
		a.internalError(c, err)
		return
	}
	if session == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if _, ok := a.ownedAccount(c, session.AccountId); !ok {
		return
	}
	segments, err := a.store.ListSegments(c.Request.Context(), id)
	if err != nil {
		a.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, segments)
}

func (a *API) listAlerts(c *gin.Context) {
	status := constant.AlertStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	alerts, err := a.store.ListAlerts(c.Request.Context(), currentUser(c).ID, status)
	if err != nil {
		a.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

func (a *API) resolveAlert(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.ResolveAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	alert, err := a.store.ResolveAlert(c.Request.Context(), id, currentUser(c).ID, req.Status, req.Notes)
	switch {
	case errors.Is(err, repository.ErrInvalidStatus):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrAlreadyResolved):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "alert not found"})
	case err != nil:
		a.internalError(c, err)
	default:
		c.JSON(http.StatusOK, alert)
	}
}

func (a *API) listNotifications(c *gin.Context) {
	unread, _ := strconv.ParseBool(c.Query("unread"))
	notifications, err := a.store.ListNotifications(c.Request.Context(), currentUser(c).ID, unread)
	if err != nil {
		a.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, notifications)
}

func (a *API) markNotificationsRead(c *gin.Context) {
	var sessionID *uuid.UUID
	if raw := c.Query("session_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
			return
		}
		sessionID = &id
	}
	n, err := a.store.MarkNotificationsRead(c.Request.Context(), currentUser(c).ID, sessionID)
	if err != nil {
		a.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}
