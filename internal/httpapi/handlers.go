package httpapi

import (
	"net/http"
	"strconv"

	"channel-platform/internal/auth"
	"channel-platform/internal/channels"
	"channel-platform/internal/evolution"
	"channel-platform/internal/rbac"
	"channel-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Channels *channels.Service
	Linker   *channels.Linker
	Lister   *channels.Lister
	Webhook  *channels.WebhookHandler
}

// caller builds the service principal from the identity set by
// auth.RequireAccessToken.
func caller(c *gin.Context) (channels.Caller, bool) {
	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		abort(c, http.StatusUnauthorized, CodeUnauthorized, "identity required")
		return channels.Caller{}, false
	}
	return channels.Caller{
		UserID:   id.UserID,
		ClientID: id.ClientID,
		Role:     id.Role,
		Admin:    rbac.IsAdmin(id.Role),
	}, true
}

// --- Channels ---

func (h Handlers) ListChannels(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	page, err := queryInt(c, "page", 1)
	if err != nil {
		abort(c, http.StatusBadRequest, CodeValidation, "page must be an integer")
		return
	}
	limit, err := queryInt(c, "limit", channels.DefaultPageLimit)
	if err != nil {
		abort(c, http.StatusBadRequest, CodeValidation, "limit must be an integer")
		return
	}
	res, err := h.Lister.List(c.Request.Context(), who, channels.Filters{
		Status: c.Query("status"),
		Type:   c.Query("type"),
		Search: c.Query("search"),
	}, channels.Page{Page: page, Limit: limit})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type createChannelRequest struct {
	InstanceName    string         `json:"instanceName" binding:"required,instancename"`
	QRCode          *bool          `json:"qrcode"`
	Integration     string         `json:"integration"`
	Token           string         `json:"token"`
	Number          string         `json:"number"`
	ClientID        string         `json:"client_id"`
	AgentID         string         `json:"agent_id"`
	RejectCall      bool           `json:"rejectCall"`
	MsgCall         string         `json:"msgCall"`
	GroupsIgnore    bool           `json:"groupsIgnore"`
	AlwaysOnline    bool           `json:"alwaysOnline"`
	ReadMessages    bool           `json:"readMessages"`
	ReadStatus      bool           `json:"readStatus"`
	SyncFullHistory bool           `json:"syncFullHistory"`
	Webhook         map[string]any `json:"webhook"`
	ProxyHost       string         `json:"proxyHost"`
	ProxyPort       string         `json:"proxyPort"`
	ProxyProtocol   string         `json:"proxyProtocol"`
	ProxyUsername   string         `json:"proxyUsername"`
	ProxyPassword   string         `json:"proxyPassword"`

	Bot evolution.BotOptions `json:"bot"`
}

func (r createChannelRequest) toService() channels.CreateRequest {
	qr := true
	if r.QRCode != nil {
		qr = *r.QRCode
	}
	return channels.CreateRequest{
		Instance: evolution.CreateInstanceRequest{
			InstanceName:    r.InstanceName,
			QRCode:          qr,
			Integration:     r.Integration,
			Token:           r.Token,
			Number:          r.Number,
			RejectCall:      r.RejectCall,
			MsgCall:         r.MsgCall,
			GroupsIgnore:    r.GroupsIgnore,
			AlwaysOnline:    r.AlwaysOnline,
			ReadMessages:    r.ReadMessages,
			ReadStatus:      r.ReadStatus,
			SyncFullHistory: r.SyncFullHistory,
			Webhook:         r.Webhook,
			ProxyHost:       r.ProxyHost,
			ProxyPort:       r.ProxyPort,
			ProxyProtocol:   r.ProxyProtocol,
			ProxyUsername:   r.ProxyUsername,
			ProxyPassword:   r.ProxyPassword,
		},
		ClientID: r.ClientID,
		AgentID:  r.AgentID,
		Bot:      r.Bot,
	}
}

func (h Handlers) CreateChannel(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	var req createChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeValidation, bindMessage(err))
		return
	}
	res, err := h.Channels.Create(c.Request.Context(), who, req.toService())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h Handlers) ConnectChannel(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	resp, err := h.Channels.Connect(c.Request.Context(), who, c.Param("instance"), c.Query("number"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h Handlers) ChannelState(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	resp, err := h.Channels.State(c.Request.Context(), who, c.Param("instance"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h Handlers) LogoutChannel(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	resp, err := h.Channels.Logout(c.Request.Context(), who, c.Param("instance"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h Handlers) DeleteChannel(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	resp, err := h.Channels.Delete(c.Request.Context(), who, c.Param("instance"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ChannelQR answers {qrcode, pairingCode, ref} when the instance exposes
// pairing material, else the raw connection state.
func (h Handlers) ChannelQR(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	qr, raw, found, err := h.Channels.QR(c.Request.Context(), who, c.Param("instance"))
	if err != nil {
		writeError(c, err)
		return
	}
	if found {
		c.JSON(http.StatusOK, qr)
		return
	}
	c.JSON(http.StatusOK, raw)
}

// --- Agent integration ---

type linkRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
	evolution.BotOptions
}

func (h Handlers) GetIntegration(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	v, err := h.Channels.Integration(c.Request.Context(), who, c.Param("instance"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// LinkAgent links or re-links an agent without a connectivity check.
func (h Handlers) LinkAgent(c *gin.Context) {
	h.link(c, false)
}

// ConfigureAgent links an agent on an instance that must be connected.
func (h Handlers) ConfigureAgent(c *gin.Context) {
	h.link(c, true)
}

func (h Handlers) link(c *gin.Context, requireConnected bool) {
	who, ok := caller(c)
	if !ok {
		return
	}
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeValidation, bindMessage(err))
		return
	}
	lr := channels.LinkRequest{AgentID: req.AgentID, Options: req.BotOptions}

	var (
		ch  channels.Channel
		err error
	)
	if requireConnected {
		ch, err = h.Linker.ConfigureConnected(c.Request.Context(), who, c.Param("instance"), lr)
	} else {
		ch, err = h.Linker.Link(c.Request.Context(), who, c.Param("instance"), lr)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (h Handlers) UnlinkAgent(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	ch, err := h.Linker.Unlink(c.Request.Context(), who, c.Param("instance"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (h Handlers) BotSessions(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	sessions, err := h.Channels.Sessions(c.Request.Context(), who, c.Param("instance"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sessions})
}

type sessionStatusRequest struct {
	RemoteJID string `json:"remoteJid" binding:"required"`
	Status    string `json:"status" binding:"required,oneof=opened paused closed"`
}

func (h Handlers) ChangeSessionStatus(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	var req sessionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeValidation, bindMessage(err))
		return
	}
	resp, err := h.Channels.ChangeSessionStatus(c.Request.Context(), who, c.Param("instance"), req.RemoteJID, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type ignoreJIDRequest struct {
	RemoteJID string `json:"remoteJid" binding:"required"`
	Action    string `json:"action" binding:"required,oneof=add remove"`
}

func (h Handlers) IgnoreJID(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	var req ignoreJIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeValidation, bindMessage(err))
		return
	}
	resp, err := h.Channels.IgnoreJID(c.Request.Context(), who, c.Param("instance"), req.RemoteJID, req.Action)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// --- Admin ---

func (h Handlers) AdminListChannels(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	rows, err := h.Channels.ListAll(c.Request.Context(), who)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "total": len(rows)})
}

type claimRequest struct {
	InstanceName string `json:"instance_name" binding:"required,instancename"`
	ClientID     string `json:"client_id" binding:"required,uuid"`
}

func (h Handlers) AdminClaimChannel(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeValidation, bindMessage(err))
		return
	}
	ch, err := h.Channels.Claim(c.Request.Context(), who, channels.ClaimRequest{InstanceName: req.InstanceName, ClientID: req.ClientID})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ch)
}

func (h Handlers) AdminRaw(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	out, err := h.Channels.Raw(c.Request.Context(), who, c.Query("instance"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Webhooks ---

// EvolutionWebhook always answers 200 so the gateway never retries.
func (h Handlers) EvolutionWebhook(c *gin.Context) {
	var ev channels.WebhookEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		logger.FromGin(c).WarnContext(c.Request.Context(), "webhook body not decodable", "err", err)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	h.Webhook.Handle(c.Request.Context(), ev)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
