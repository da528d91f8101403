package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"channel-platform/internal/agents"
	"channel-platform/internal/audit"
	"channel-platform/internal/connstate"
	"channel-platform/internal/evolution"
	"channel-platform/pkg/utils"
)

// Service runs the channel lifecycle against the gateway and the ownership
// store: create, delete, connect, state, logout, QR, claim and the bot
// session passthroughs.
type Service struct {
	gw     Gateway
	store  Store
	linker *Linker
	audit  Auditor
	logger *slog.Logger
}

func NewService(gw Gateway, store Store, linker *Linker, auditor Auditor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gw: gw, store: store, linker: linker, audit: auditor, logger: logger}
}

// CreateRequest creates a gateway instance and its ownership row.
// ClientID may only be set by admins. With AgentID set the channel is
// linked in the same request.
type CreateRequest struct {
	Instance evolution.CreateInstanceRequest
	ClientID string
	AgentID  string
	Bot      evolution.BotOptions
}

type CreateResult struct {
	Channel Channel           `json:"channel"`
	Gateway evolution.Payload `json:"gateway"`
}

func (s *Service) Create(ctx context.Context, caller Caller, req CreateRequest) (CreateResult, error) {
	name := strings.TrimSpace(req.Instance.InstanceName)
	if !ValidInstanceName(name) {
		return CreateResult{}, fmt.Errorf("%w: instance name must be 3-50 characters of letters, digits, '_' or '-'", ErrInvalidArgument)
	}
	req.Instance.InstanceName = name

	clientID, err := createTenant(caller, strings.TrimSpace(req.ClientID))
	if err != nil {
		return CreateResult{}, err
	}

	if _, err := s.store.GetByInstanceName(ctx, name); err == nil {
		return CreateResult{}, fmt.Errorf("%w: instance %q already has an active channel", ErrConflict, name)
	} else if !errors.Is(err, ErrChannelNotFound) {
		return CreateResult{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	var a agents.Agent
	agentID := strings.TrimSpace(req.AgentID)
	linkAgent := agentID != ""
	if linkAgent {
		if a, err = s.linker.resolveAgent(ctx, caller, clientID, agentID); err != nil {
			return CreateResult{}, err
		}
	}

	req.Instance.Integration = NormalizeIntegration(req.Instance.Integration)
	channelType, known := ChannelTypeFor(req.Instance.Integration)
	if !known {
		s.logger.WarnContext(ctx, "unknown integration, recording channel as whatsapp", "instance", name, "integration", req.Instance.Integration)
	}

	// The inline link takes the same per-instance lock as Link and Unlink.
	// It is held across the instance create so a link racing the new row
	// cannot configure a second bot.
	if linkAgent {
		release, err := s.linker.lock(ctx, name)
		if err != nil {
			return CreateResult{}, err
		}
		defer release()
	}

	resp, err := s.gw.CreateInstance(ctx, req.Instance)
	if err != nil {
		return CreateResult{}, err
	}

	ch := Channel{
		InstanceName: name,
		ClientID:     clientID,
		Type:         channelType,
		Status:       StatusDisconnected,
		Config:       instanceConfig(req.Instance),
	}
	if _, ok := connstate.ExtractQR(resp); ok {
		ch.Status = StatusQRPending
	}

	if linkAgent {
		u, gwErr := s.linker.configure(ctx, ch, a, req.Bot)
		if gwErr != nil {
			s.logger.WarnContext(ctx, "channel created with failed agent link", "instance", name, "agent_id", a.ID, "err", gwErr)
		}
		ch.ExternalAgentID = u.ExternalAgentID
		ch.EvoAIConfig = u.Config
		ch.IntegrationStatus = u.Status
	}

	saved, err := s.store.Create(ctx, ch)
	if errors.Is(err, ErrConflict) {
		return CreateResult{}, err
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "gateway instance created but channel row not written", "instance", name, "client_id", clientID, "err", err)
		return CreateResult{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	details := map[string]any{
		"integration":        req.Instance.Integration,
		"integration_status": saved.IntegrationStatus,
	}
	if clientID != "" {
		details["client_id"] = clientID
	}
	if linkAgent {
		details["agent_id"] = a.ID
	}
	s.record(ctx, caller, saved.ClientID, name, audit.EventChannelCreate, details)
	return CreateResult{Channel: saved, Gateway: resp}, nil
}

// createTenant picks the owning client: an admin-supplied client, else the
// caller's client. Admins without either create an unowned row.
func createTenant(caller Caller, requested string) (string, error) {
	switch {
	case requested != "":
		if !caller.Admin {
			return "", fmt.Errorf("%w: only administrators can specify a client_id", ErrForbidden)
		}
		return requested, nil
	case caller.ClientID != "":
		return caller.ClientID, nil
	case caller.Admin:
		return "", nil
	default:
		return "", fmt.Errorf("%w: no client associated with this user", ErrForbidden)
	}
}

// instanceConfig is the create request as stored on the row, without
// credentials.
func instanceConfig(req evolution.CreateInstanceRequest) JSONMap {
	b, err := json.Marshal(req)
	if err != nil {
		return JSONMap{}
	}
	var m JSONMap
	if err := json.Unmarshal(b, &m); err != nil {
		return JSONMap{}
	}
	delete(m, "token")
	delete(m, "proxyPassword")
	return m
}

// Delete removes the gateway instance and soft-deletes its row. A gateway
// 404 means the instance is already gone and is not an error.
func (s *Service) Delete(ctx context.Context, caller Caller, instance string) (evolution.Payload, error) {
	if !caller.Admin && caller.ClientID == "" {
		return nil, fmt.Errorf("%w: no client associated with this user", ErrForbidden)
	}

	ch, err := s.store.GetByInstanceName(ctx, instance)
	hasRow := err == nil
	if err != nil && !errors.Is(err, ErrChannelNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !caller.Admin && (!hasRow || ch.ClientID != caller.ClientID) {
		return nil, fmt.Errorf("%w: you do not own this channel", ErrForbidden)
	}

	if hasRow {
		s.linker.deleteRemoteBot(ctx, ch)
	}

	resp, err := s.gw.DeleteInstance(ctx, instance)
	if evolution.IsStatus(err, http.StatusNotFound) {
		s.logger.WarnContext(ctx, "gateway instance already gone", "instance", instance)
		resp, err = evolution.Payload{}, nil
	}
	if err != nil {
		return nil, err
	}

	if hasRow {
		if ch.ClientID != "" {
			_, err = s.store.SoftDeleteOwnership(ctx, instance, ch.ClientID)
		} else {
			_, err = s.store.SoftDelete(ctx, ch.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
	}

	details := map[string]any{"had_row": hasRow}
	if ch.ClientID != "" {
		details["client_id"] = ch.ClientID
	}
	s.record(ctx, caller, ch.ClientID, instance, audit.EventChannelDelete, details)
	return resp, nil
}

// ListAll returns every active ownership row (admin view).
func (s *Service) ListAll(ctx context.Context, caller Caller) ([]Channel, error) {
	if !caller.Admin {
		return nil, fmt.Errorf("%w: admin only", ErrForbidden)
	}
	rows, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return rows, nil
}

// guard authorizes access to one instance. Admins may reach instances with
// no row; the returned channel is then zero apart from InstanceName.
func (s *Service) guard(ctx context.Context, caller Caller, instance string) (Channel, bool, error) {
	instance = strings.TrimSpace(instance)
	if instance == "" {
		return Channel{}, false, fmt.Errorf("%w: instance is required", ErrInvalidArgument)
	}
	if !caller.Admin && caller.ClientID == "" {
		return Channel{}, false, ErrNoTenant
	}
	ch, err := s.store.GetByInstanceName(ctx, instance)
	if errors.Is(err, ErrChannelNotFound) {
		if caller.Admin {
			return Channel{InstanceName: instance}, false, nil
		}
		return Channel{}, false, fmt.Errorf("%w: you do not own this channel", ErrForbidden)
	}
	if err != nil {
		return Channel{}, false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !caller.Owns(ch) {
		return Channel{}, false, fmt.Errorf("%w: you do not own this channel", ErrForbidden)
	}
	return ch, true, nil
}

// Connect starts a session. number requests a pairing code instead of a QR.
func (s *Service) Connect(ctx context.Context, caller Caller, instance, number string) (evolution.Payload, error) {
	ch, hasRow, err := s.guard(ctx, caller, instance)
	if err != nil {
		return nil, err
	}
	resp, err := s.gw.ConnectInstance(ctx, ch.InstanceName, strings.TrimSpace(number))
	if err != nil {
		return nil, err
	}
	_, hasQR := connstate.ExtractQR(resp)
	if hasRow && hasQR {
		s.syncStatus(ctx, ch.InstanceName, StatusQRPending)
	}
	s.record(ctx, caller, ch.ClientID, ch.InstanceName, audit.EventChannelConnect, map[string]any{"has_qr": hasQR})
	return resp, nil
}

func (s *Service) State(ctx context.Context, caller Caller, instance string) (evolution.Payload, error) {
	ch, _, err := s.guard(ctx, caller, instance)
	if err != nil {
		return nil, err
	}
	resp, err := s.gw.ConnectionState(ctx, ch.InstanceName)
	if err != nil {
		return nil, err
	}
	st := connstate.NormalizeConnectionStatus(resp, string(ch.Status))
	s.record(ctx, caller, ch.ClientID, ch.InstanceName, audit.EventChannelState, map[string]any{"status": st})
	return resp, nil
}

func (s *Service) Logout(ctx context.Context, caller Caller, instance string) (evolution.Payload, error) {
	ch, hasRow, err := s.guard(ctx, caller, instance)
	if err != nil {
		return nil, err
	}
	resp, err := s.gw.LogoutInstance(ctx, ch.InstanceName)
	if err != nil {
		return nil, err
	}
	if hasRow {
		s.syncStatus(ctx, ch.InstanceName, StatusDisconnected)
	}
	s.record(ctx, caller, ch.ClientID, ch.InstanceName, audit.EventChannelLogout, nil)
	return resp, nil
}

// QR returns the pairing material of the instance. When none is present
// found is false and raw carries the connection state as returned.
func (s *Service) QR(ctx context.Context, caller Caller, instance string) (qr connstate.QR, raw evolution.Payload, found bool, err error) {
	ch, _, err := s.guard(ctx, caller, instance)
	if err != nil {
		return connstate.QR{}, nil, false, err
	}
	raw, err = s.gw.ConnectionState(ctx, ch.InstanceName)
	if err != nil {
		return connstate.QR{}, nil, false, err
	}
	qr, found = connstate.ExtractQR(raw)
	if found {
		s.record(ctx, caller, ch.ClientID, ch.InstanceName, audit.EventChannelQR, map[string]any{
			"has_qr":      qr.QRCode != "",
			"has_pairing": qr.PairingCode != "",
			"has_ref":     qr.Ref != "",
		})
	}
	return qr, raw, found, nil
}

// ClaimRequest records ownership of an instance that already exists on the
// gateway.
type ClaimRequest struct {
	InstanceName string
	ClientID     string
}

func (s *Service) Claim(ctx context.Context, caller Caller, req ClaimRequest) (Channel, error) {
	if !caller.Admin {
		return Channel{}, fmt.Errorf("%w: only administrators can claim instances", ErrForbidden)
	}
	name := strings.TrimSpace(req.InstanceName)
	clientID := strings.TrimSpace(req.ClientID)
	if !ValidInstanceName(name) {
		return Channel{}, fmt.Errorf("%w: instance name %q", ErrInvalidArgument, name)
	}
	if clientID == "" {
		return Channel{}, fmt.Errorf("%w: client_id is required", ErrInvalidArgument)
	}

	instances, err := s.gw.ListInstances(ctx)
	if err != nil {
		return Channel{}, err
	}
	remote, ok := findInstance(instances, name)
	if !ok {
		return Channel{}, fmt.Errorf("%w: instance %q is not known to the gateway", ErrChannelNotFound, name)
	}

	integration := firstText(remote, "integration")
	channelType, known := ChannelTypeFor(integration)
	if !known && integration != "" {
		s.logger.WarnContext(ctx, "unknown integration, recording channel as whatsapp", "instance", name, "integration", integration)
	}
	cfg := JSONMap{"claimed": true}
	if integration != "" {
		cfg["integration"] = integration
	}

	ch, err := s.store.CreateOwnership(ctx, clientID, name, channelType, cfg)
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidArgument) {
		return Channel{}, err
	}
	if err != nil {
		return Channel{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	s.record(ctx, caller, clientID, name, audit.EventChannelClaim, map[string]any{"client_id": clientID})
	return ch, nil
}

func findInstance(instances []evolution.Payload, name string) (evolution.Payload, bool) {
	for _, it := range instances {
		if inner, ok := it["instance"].(map[string]any); ok {
			it = inner
		}
		if firstText(it, "instanceName", "instance", "name", "id") == name {
			return it, true
		}
	}
	return nil, false
}

// IntegrationView is the current link state of a channel.
type IntegrationView struct {
	InstanceName      string            `json:"instance_name"`
	IntegrationStatus IntegrationStatus `json:"integration_status"`
	ExternalAgentID   string            `json:"external_agent_id,omitempty"`
	EvoAIConfig       *EvoAIConfig      `json:"evoai_config,omitempty"`
}

func (s *Service) Integration(ctx context.Context, caller Caller, instance string) (IntegrationView, error) {
	ch, err := s.linker.resolveChannel(ctx, caller, instance)
	if err != nil {
		return IntegrationView{}, err
	}
	return IntegrationView{
		InstanceName:      ch.InstanceName,
		IntegrationStatus: ch.IntegrationStatus,
		ExternalAgentID:   ch.ExternalAgentID,
		EvoAIConfig:       ch.EvoAIConfig,
	}, nil
}

// Sessions lists the bot conversations of a linked channel.
func (s *Service) Sessions(ctx context.Context, caller Caller, instance string) ([]evolution.Payload, error) {
	ch, botID, err := s.linkedChannel(ctx, caller, instance)
	if err != nil {
		return nil, err
	}
	return s.gw.FetchSessions(ctx, botID, ch.InstanceName)
}

func (s *Service) ChangeSessionStatus(ctx context.Context, caller Caller, instance, remoteJID, status string) (evolution.Payload, error) {
	switch status {
	case evolution.SessionOpened, evolution.SessionPaused, evolution.SessionClosed:
	default:
		return nil, fmt.Errorf("%w: session status %q", ErrInvalidArgument, status)
	}
	if strings.TrimSpace(remoteJID) == "" {
		return nil, fmt.Errorf("%w: remoteJid is required", ErrInvalidArgument)
	}
	ch, _, err := s.linkedChannel(ctx, caller, instance)
	if err != nil {
		return nil, err
	}
	return s.gw.ChangeSessionStatus(ctx, ch.InstanceName, remoteJID, status)
}

func (s *Service) IgnoreJID(ctx context.Context, caller Caller, instance, remoteJID, action string) (evolution.Payload, error) {
	if action != evolution.IgnoreAdd && action != evolution.IgnoreRemove {
		return nil, fmt.Errorf("%w: action %q", ErrInvalidArgument, action)
	}
	if strings.TrimSpace(remoteJID) == "" {
		return nil, fmt.Errorf("%w: remoteJid is required", ErrInvalidArgument)
	}
	ch, _, err := s.linkedChannel(ctx, caller, instance)
	if err != nil {
		return nil, err
	}
	return s.gw.IgnoreJID(ctx, ch.InstanceName, remoteJID, action)
}

func (s *Service) linkedChannel(ctx context.Context, caller Caller, instance string) (Channel, string, error) {
	ch, err := s.linker.resolveChannel(ctx, caller, instance)
	if err != nil {
		return Channel{}, "", err
	}
	if ch.EvoAIConfig == nil || ch.EvoAIConfig.BotID == "" {
		return Channel{}, "", fmt.Errorf("%w: channel has no linked bot", ErrInvalidArgument)
	}
	return ch, ch.EvoAIConfig.BotID, nil
}

// Raw returns gateway payloads as received, for diagnosing mapping issues.
func (s *Service) Raw(ctx context.Context, caller Caller, instance string) (map[string]any, error) {
	if !caller.Admin {
		return nil, fmt.Errorf("%w: admin only", ErrForbidden)
	}
	instances, err := s.gw.ListInstances(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string]any{"fetchInstances": instances}
	if instance = strings.TrimSpace(instance); instance != "" {
		state, err := s.gw.ConnectionState(ctx, instance)
		if err != nil {
			return nil, err
		}
		out["connectionState"] = state
	}
	return out, nil
}

func (s *Service) syncStatus(ctx context.Context, instance string, st Status) {
	utils.BestEffort(ctx, s.logger, "sync_status", func(ctx context.Context) error {
		_, err := s.store.UpdateStatusFromWebhook(ctx, instance, st, "", "")
		return err
	}, "instance", instance)
}

func (s *Service) record(ctx context.Context, caller Caller, clientID, instance string, action audit.EventType, details map[string]any) {
	if s.audit == nil {
		return
	}
	utils.BestEffort(ctx, s.logger, "audit", func(ctx context.Context) error {
		return s.audit.LogChannelAction(ctx, clientID, caller.UserID, caller.Role, action, instance, details)
	}, "instance", instance)
}
