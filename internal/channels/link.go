package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"channel-platform/internal/agents"
	"channel-platform/internal/audit"
	"channel-platform/internal/connstate"
	"channel-platform/internal/evolution"
	"channel-platform/pkg/utils"
)

// LinkerConfig wires a Linker. Locker, Keys and Audit are optional.
type LinkerConfig struct {
	Gateway   Gateway
	Store     Store
	Agents    agents.Directory
	Keys      agents.Decryptor
	Locker    LinkLocker
	Audit     Auditor
	PublicURL string
	Logger    *slog.Logger
	Now       func() time.Time
}

// Linker runs the channel to agent integration state machine:
//
//	none -> configured | error
//	configured | error -> configured | error   (re-link, retry)
//	any -> none                                (unlink)
//
// The remote bot call always happens before the local write. If the local
// write then fails the gateway and the database disagree until the next
// link or unlink.
type Linker struct {
	gw        Gateway
	store     Store
	agents    agents.Directory
	keys      agents.Decryptor
	locker    LinkLocker
	audit     Auditor
	publicURL string
	logger    *slog.Logger
	now       func() time.Time
}

func NewLinker(cfg LinkerConfig) *Linker {
	l := &Linker{
		gw:        cfg.Gateway,
		store:     cfg.Store,
		agents:    cfg.Agents,
		keys:      cfg.Keys,
		locker:    cfg.Locker,
		audit:     cfg.Audit,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// LinkRequest names the agent to link and the bot options to apply.
type LinkRequest struct {
	AgentID string
	Options evolution.BotOptions
}

// Link links ref (instance name or channel id) to an agent, creating or
// updating the remote bot. A gateway failure is persisted as integration
// error and then returned.
func (l *Linker) Link(ctx context.Context, caller Caller, ref string, req LinkRequest) (Channel, error) {
	ch, err := l.resolveChannel(ctx, caller, ref)
	if err != nil {
		return Channel{}, err
	}
	return l.guardedLink(ctx, caller, ch, req, false)
}

// ConfigureConnected is Link for an instance that must be observed as
// connected first. If the connectivity check itself fails the link proceeds
// with a warning; the bot call fails on its own when the instance is down.
func (l *Linker) ConfigureConnected(ctx context.Context, caller Caller, instance string, req LinkRequest) (Channel, error) {
	ch, err := l.resolveChannel(ctx, caller, instance)
	if err != nil {
		return Channel{}, err
	}
	return l.guardedLink(ctx, caller, ch, req, true)
}

func (l *Linker) guardedLink(ctx context.Context, caller Caller, ch Channel, req LinkRequest, requireConnected bool) (Channel, error) {
	a, err := l.resolveAgent(ctx, caller, ch.ClientID, req.AgentID)
	if err != nil {
		return Channel{}, err
	}

	release, err := l.lock(ctx, ch.InstanceName)
	if err != nil {
		return Channel{}, err
	}
	defer release()

	if requireConnected {
		if err := l.checkConnected(ctx, ch); err != nil {
			return Channel{}, err
		}
	}

	u, gwErr := l.configure(ctx, ch, a, req.Options)
	saved, err := l.store.UpdateIntegration(ctx, ch.ID, u)
	if err != nil {
		l.logger.ErrorContext(ctx, "integration not persisted after gateway call",
			"instance", ch.InstanceName,
			"agent_id", a.ID,
			"integration_status", u.Status,
			"err", err,
		)
		return Channel{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	l.record(ctx, caller, saved, audit.EventChannelLink, map[string]any{
		"agent_id":           a.ID,
		"integration_status": saved.IntegrationStatus,
	})
	if gwErr != nil {
		return saved, gwErr
	}
	return saved, nil
}

// Unlink clears the integration. Remote bot deletion is best-effort and
// never blocks the local clear.
func (l *Linker) Unlink(ctx context.Context, caller Caller, ref string) (Channel, error) {
	ch, err := l.resolveChannel(ctx, caller, ref)
	if err != nil {
		return Channel{}, err
	}

	release, err := l.lock(ctx, ch.InstanceName)
	if err != nil {
		return Channel{}, err
	}
	defer release()

	l.deleteRemoteBot(ctx, ch)

	saved, err := l.store.UpdateIntegration(ctx, ch.ID, Cleared())
	if err != nil {
		return Channel{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	l.record(ctx, caller, saved, audit.EventChannelUnlink, nil)
	return saved, nil
}

func (l *Linker) deleteRemoteBot(ctx context.Context, ch Channel) {
	if ch.EvoAIConfig == nil || ch.EvoAIConfig.BotID == "" {
		return
	}
	botID := ch.EvoAIConfig.BotID
	utils.BestEffort(ctx, l.logger, "delete_bot", func(ctx context.Context) error {
		_, err := l.gw.DeleteBot(ctx, botID, ch.InstanceName)
		return err
	}, "instance", ch.InstanceName, "bot_id", botID)
}

// resolveChannel finds ref by instance name, then by id, and applies tenant
// authorization.
func (l *Linker) resolveChannel(ctx context.Context, caller Caller, ref string) (Channel, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Channel{}, fmt.Errorf("%w: channel reference is required", ErrInvalidArgument)
	}
	if !caller.Admin && caller.ClientID == "" {
		return Channel{}, ErrNoTenant
	}

	ch, err := l.store.GetByInstanceName(ctx, ref)
	if errors.Is(err, ErrChannelNotFound) {
		ch, err = l.store.GetByID(ctx, ref)
	}
	if errors.Is(err, ErrChannelNotFound) {
		return Channel{}, err
	}
	if err != nil {
		return Channel{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !caller.Owns(ch) {
		return Channel{}, fmt.Errorf("%w: channel belongs to another client", ErrForbidden)
	}
	return ch, nil
}

// resolveAgent loads the agent. A non-admin caller only sees agents of the
// channel's client; others are reported as not found.
func (l *Linker) resolveAgent(ctx context.Context, caller Caller, ownerClientID, agentID string) (agents.Agent, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return agents.Agent{}, fmt.Errorf("%w: agent_id is required", ErrInvalidArgument)
	}
	a, err := l.agents.Get(ctx, agentID)
	if errors.Is(err, agents.ErrNotFound) {
		return agents.Agent{}, ErrAgentNotFound
	}
	if err != nil {
		return agents.Agent{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !caller.Admin && a.ClientID != "" && a.ClientID != ownerClientID {
		return agents.Agent{}, ErrAgentNotFound
	}
	return a, nil
}

func (l *Linker) lock(ctx context.Context, instance string) (func(), error) {
	if l.locker == nil {
		return func() {}, nil
	}
	release, ok, err := l.locker.Acquire(ctx, "channel-link:"+instance)
	if err != nil {
		l.logger.WarnContext(ctx, "link lock unavailable, continuing unlocked", "instance", instance, "err", err)
		return func() {}, nil
	}
	if !ok {
		return nil, ErrLinkInProgress
	}
	return release, nil
}

func (l *Linker) checkConnected(ctx context.Context, ch Channel) error {
	state, err := l.gw.ConnectionState(ctx, ch.InstanceName)
	if err != nil {
		l.logger.WarnContext(ctx, "connectivity check failed, proceeding with link", "instance", ch.InstanceName, "err", err)
		return nil
	}
	if st := connstate.NormalizeConnectionStatus(state, string(ch.Status)); st != connstate.Connected {
		return fmt.Errorf("%w: instance %q is %s", ErrNotConnected, ch.InstanceName, st)
	}
	return nil
}

// configure creates or updates the remote bot and returns the integration
// fields to persist. gwErr is the gateway error, if any, after retries.
func (l *Linker) configure(ctx context.Context, ch Channel, a agents.Agent, opts evolution.BotOptions) (u IntegrationUpdate, gwErr error) {
	agentURL := l.agentURL(a)
	apiKey := l.apiKey(ctx, a)

	known := ""
	if ch.EvoAIConfig != nil {
		known = ch.EvoAIConfig.BotID
	}

	bots, err := l.gw.FindBots(ctx, ch.InstanceName)
	if err != nil {
		l.logger.WarnContext(ctx, "bot lookup failed, creating a new bot", "instance", ch.InstanceName, "err", err)
		bots = nil
	}
	existing := pickBot(bots, known)

	var resp evolution.Payload
	if existing != "" {
		resp, err = l.gw.UpdateBot(ctx, existing, ch.InstanceName, agentURL, apiKey, opts)
	} else {
		resp, err = l.gw.CreateBot(ctx, ch.InstanceName, agentURL, apiKey, opts)
	}

	o := opts
	cfg := &EvoAIConfig{AgentURL: agentURL, Options: &o}
	u = IntegrationUpdate{ExternalAgentID: a.ID, Config: cfg}

	if err != nil {
		cfg.BotID = existing
		cfg.Status = IntegrationError
		cfg.LastError = err.Error()
		u.Status = IntegrationError
		l.logger.WarnContext(ctx, "bot configuration failed", "instance", ch.InstanceName, "agent_id", a.ID, "err", err)
		return u, err
	}

	botID, problem := interpretBotResponse(resp, existing)
	if problem != "" {
		cfg.BotID = existing
		cfg.Status = IntegrationError
		cfg.LastError = problem
		u.Status = IntegrationError
		l.logger.WarnContext(ctx, "bot configuration not confirmed", "instance", ch.InstanceName, "agent_id", a.ID, "reason", problem)
		return u, nil
	}

	now := l.now().UTC()
	cfg.BotID = botID
	cfg.ConfiguredAt = &now
	cfg.Status = IntegrationConfigured
	u.Status = IntegrationConfigured
	l.logger.InfoContext(ctx, "bot configured", "instance", ch.InstanceName, "agent_id", a.ID, "bot_id", botID)
	return u, nil
}

// agentURL is the agent's card URL without the well-known card suffix, or
// the runtime's A2A endpoint for the agent.
func (l *Linker) agentURL(a agents.Agent) string {
	if u := strings.TrimRight(strings.TrimSpace(a.CardURL), "/"); u != "" {
		return strings.TrimSuffix(u, "/.well-known/agent.json")
	}
	return l.publicURL + "/api/v1/a2a/" + a.ID
}

// apiKey decrypts the agent key. Failure degrades to an empty key.
func (l *Linker) apiKey(ctx context.Context, a agents.Agent) string {
	if a.EncryptedAPIKey == "" || l.keys == nil {
		return ""
	}
	key, err := l.keys.Decrypt(a.EncryptedAPIKey)
	if err != nil {
		l.logger.WarnContext(ctx, "agent api key not decryptable, linking without key", "agent_id", a.ID, "err", err)
		return ""
	}
	return key
}

func (l *Linker) record(ctx context.Context, caller Caller, ch Channel, action audit.EventType, details map[string]any) {
	if l.audit == nil {
		return
	}
	utils.BestEffort(ctx, l.logger, "audit", func(ctx context.Context) error {
		return l.audit.LogChannelAction(ctx, ch.ClientID, caller.UserID, caller.Role, action, ch.InstanceName, details)
	}, "instance", ch.InstanceName)
}

// pickBot returns the bot whose id is known, else the first bot.
func pickBot(bots []evolution.Payload, known string) string {
	first := ""
	for _, b := range bots {
		id := idOf(b)
		if id == "" {
			continue
		}
		if known != "" && id == known {
			return id
		}
		if first == "" {
			first = id
		}
	}
	return first
}

// interpretBotResponse extracts the bot id from a create/update answer,
// trying data.id, response.id, then id. A 2xx answer is a success unless it
// says otherwise through success=false or an error status. An update answer
// without an id keeps the bot that was updated. problem is empty on success.
func interpretBotResponse(p evolution.Payload, updated string) (botID, problem string) {
	if explicitFailure(p) {
		return "", "gateway reported failure: " + describe(p)
	}
	for _, key := range []string{"data", "response"} {
		if inner, ok := p[key].(map[string]any); ok {
			if id := idOf(inner); id != "" {
				return id, ""
			}
		}
	}
	if id := idOf(p); id != "" {
		return id, ""
	}
	if updated != "" {
		return updated, ""
	}
	return "", "gateway response carried no bot id"
}

func explicitFailure(p evolution.Payload) bool {
	if v, ok := p["success"]; ok {
		if b, isBool := v.(bool); isBool && !b {
			return true
		}
	}
	if s, ok := p["status"].(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "error", "fail", "failed", "failure":
			return true
		}
	}
	return false
}

func describe(p evolution.Payload) string {
	for _, k := range []string{"message", "error", "status"} {
		if s := text(p[k]); s != "" {
			return s
		}
	}
	return "unknown error"
}

func idOf(m map[string]any) string {
	return text(m["id"])
}

// text renders scalar JSON values; objects and arrays render empty.
func text(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprint(t)
	case bool:
		return fmt.Sprint(t)
	default:
		return ""
	}
}
