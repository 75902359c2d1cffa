package businessflow

import (
	"context"
	"errors"

	"github.com/amirphl/leadflow/app/connection"
	"github.com/amirphl/leadflow/app/dto"
	"github.com/amirphl/leadflow/app/quota"
	"github.com/amirphl/leadflow/utils"
	"go.uber.org/zap"
)

// SessionTransport is the part of the WhatsApp transport the operator controls.
type SessionTransport interface {
	Connect(ctx context.Context) error
	Disconnect()
	Logout(ctx context.Context) error
}

// ConnectionFlow handles the operator controls of the WhatsApp session.
type ConnectionFlow interface {
	// Connect starts the session at boot. It is a no-op when a session is already being set up.
	Connect(ctx context.Context) error
	RequestStatus(ctx context.Context) (*dto.ConnectionStatusResponse, error)
	RequestQRCode(ctx context.Context) (*dto.QRCodeResponse, error)
	Reconnect(ctx context.Context) (*dto.ConnectionStatusResponse, error)
	Logout(ctx context.Context) (*dto.ConnectionStatusResponse, error)
}

// ConnectionFlowImpl implements ConnectionFlow.
type ConnectionFlowImpl struct {
	store     connection.StateStore
	transport SessionTransport
	tracker   quota.Tracker
	settings  AutomationSettingsFlow
	clock     utils.Clock
	logger    *zap.Logger
}

// NewConnectionFlow creates a new connection flow. transport may be nil when WhatsApp is
// disabled; status queries still work in that case.
func NewConnectionFlow(
	store connection.StateStore,
	transport SessionTransport,
	tracker quota.Tracker,
	settings AutomationSettingsFlow,
	clock utils.Clock,
	logger *zap.Logger,
) ConnectionFlow {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionFlowImpl{
		store:     store,
		transport: transport,
		tracker:   tracker,
		settings:  settings,
		clock:     clock,
		logger:    logger,
	}
}

func (f *ConnectionFlowImpl) Connect(ctx context.Context) error {
	if f.transport == nil {
		return NewBusinessError("TRANSPORT_NOT_READY", "WhatsApp transport is not configured", ErrTransportNotReady)
	}
	state := f.store.Current()
	switch state.Kind {
	case connection.StateIdle, connection.StateDisconnected, connection.StateError:
		// an unrecoverable error waits for an operator reconnect
		if state.IsFrozen() {
			return nil
		}
		if _, err := f.store.Dispatch(connection.Initialize()); err != nil {
			return NewBusinessError("CONNECT_FAILED", "Failed to initialize connection", err)
		}
	default:
		return nil
	}
	if err := f.transport.Connect(ctx); err != nil {
		f.logger.Error("WhatsApp connect failed", zap.Error(err))
		return NewBusinessError("CONNECT_FAILED", "Failed to connect WhatsApp session", err)
	}
	return nil
}

func (f *ConnectionFlowImpl) RequestStatus(ctx context.Context) (*dto.ConnectionStatusResponse, error) {
	resp := f.statusOf(f.store.Current())
	resp.Message = "Connection status retrieved successfully"

	if f.tracker != nil && f.settings != nil {
		usage, err := buildQuotaUsage(ctx, f.tracker, f.settings, f.clock.Now())
		if err != nil {
			// status stays readable when redis or the database is struggling
			f.logger.Warn("Failed to attach quota usage to status", zap.Error(err))
		} else {
			resp.Quota = usage
		}
	}
	return resp, nil
}

func (f *ConnectionFlowImpl) RequestQRCode(ctx context.Context) (*dto.QRCodeResponse, error) {
	state := f.store.Current()
	if state.Kind != connection.StateQRAvailable || state.QRCode == "" {
		return nil, NewBusinessErrorf("QR_NOT_AVAILABLE", "No QR code available while connection is %s", ErrQRNotAvailable, state.Kind)
	}
	return &dto.QRCodeResponse{
		Message: "QR code retrieved successfully",
		QRCode:  state.QRCode,
		Attempt: state.QRAttempt,
	}, nil
}

// Reconnect tears the session down and starts it again. It also clears an unrecoverable error.
func (f *ConnectionFlowImpl) Reconnect(ctx context.Context) (*dto.ConnectionStatusResponse, error) {
	if f.transport == nil {
		return nil, NewBusinessError("TRANSPORT_NOT_READY", "WhatsApp transport is not configured", ErrTransportNotReady)
	}

	f.transport.Disconnect()
	if _, err := f.store.Dispatch(connection.Reset()); err != nil {
		return nil, NewBusinessError("RECONNECT_FAILED", "Failed to reset connection", err)
	}
	if _, err := f.store.Dispatch(connection.Initialize()); err != nil {
		return nil, NewBusinessError("RECONNECT_FAILED", "Failed to initialize connection", err)
	}

	if err := f.transport.Connect(ctx); err != nil {
		f.logger.Error("WhatsApp reconnect failed", zap.Error(err))
		return nil, NewBusinessError("RECONNECT_FAILED", "Failed to reconnect WhatsApp session", err)
	}

	f.logger.Info("WhatsApp reconnect requested")
	resp := f.statusOf(f.store.Current())
	resp.Message = "Reconnect started"
	return resp, nil
}

// Logout unpairs the device. A fresh QR pairing is required on the next reconnect.
func (f *ConnectionFlowImpl) Logout(ctx context.Context) (*dto.ConnectionStatusResponse, error) {
	if f.transport == nil {
		return nil, NewBusinessError("TRANSPORT_NOT_READY", "WhatsApp transport is not configured", ErrTransportNotReady)
	}

	logoutErr := f.transport.Logout(ctx)
	if _, err := f.store.Dispatch(connection.Reset()); err != nil {
		return nil, NewBusinessError("LOGOUT_FAILED", "Failed to reset connection", errors.Join(logoutErr, err))
	}
	if logoutErr != nil {
		f.logger.Warn("WhatsApp logout reported an error", zap.Error(logoutErr))
		return nil, NewBusinessError("LOGOUT_FAILED", "Failed to log out WhatsApp session", logoutErr)
	}

	f.logger.Info("WhatsApp session logged out")
	resp := f.statusOf(f.store.Current())
	resp.Message = "Logged out successfully"
	return resp, nil
}

func (f *ConnectionFlowImpl) statusOf(s connection.State) *dto.ConnectionStatusResponse {
	resp := &dto.ConnectionStatusResponse{
		State:       string(s.Kind),
		QRAvailable: s.Kind == connection.StateQRAvailable && s.QRCode != "",
		Reason:      s.Reason,
		Error:       s.Message,
		Recoverable: s.Recoverable,
		Since:       formatTime(s.Since),
	}
	if s.Account != nil {
		resp.Account = &dto.AccountDTO{
			JID:      s.Account.JID,
			PushName: s.Account.PushName,
			Platform: s.Account.Platform,
		}
	}
	return resp
}
