package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/amirphl/leadflow/app/connection"
	"github.com/amirphl/leadflow/utils"
	_ "github.com/lib/pq" // postgres driver for the whatsmeow device store
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

var (
	ErrNotConnected = errors.New("whatsapp session is not connected")
	ErrInvalidPhone = errors.New("phone number has no digits")
)

// WhatsAppTransport owns the single whatsmeow session. Lifecycle signals from whatsmeow are
// translated into connection events and dispatched to the state store.
type WhatsAppTransport struct {
	container *sqlstore.Container
	store     connection.StateStore
	logger    *zap.Logger
	waLogger  waLog.Logger

	mu       sync.Mutex
	client   *whatsmeow.Client
	qrCancel context.CancelFunc
}

// NewWhatsAppTransport opens the device store at dsn. The store tables live next to the
// automation tables and are upgraded on open.
func NewWhatsAppTransport(ctx context.Context, dsn string, store connection.StateStore, logger *zap.Logger) (*WhatsAppTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	waLogger := NewZapWALogger(logger.Named("whatsmeow"))
	container, err := sqlstore.New(ctx, "postgres", dsn, waLogger.Sub("store"))
	if err != nil {
		return nil, fmt.Errorf("failed to open whatsapp device store: %w", err)
	}
	return &WhatsAppTransport{
		container: container,
		store:     store,
		logger:    logger,
		waLogger:  waLogger,
	}, nil
}

// Connect starts the session. Without a paired device a QR channel is opened first and every
// code is surfaced as a QR_RECEIVED event.
func (t *WhatsAppTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil && t.client.IsConnected() {
		return nil
	}
	t.teardownLocked()

	device, err := t.container.GetFirstDevice(ctx)
	if err != nil {
		t.fail(fmt.Sprintf("load device: %v", err), true)
		return fmt.Errorf("failed to load whatsapp device: %w", err)
	}

	client := whatsmeow.NewClient(device, t.waLogger.Sub("client"))
	client.AddEventHandler(func(evt any) { t.handleEvent(client, evt) })
	t.client = client

	if client.Store.ID == nil {
		qrCtx, cancel := context.WithCancel(context.Background())
		qrChan, err := client.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			t.fail(fmt.Sprintf("open qr channel: %v", err), true)
			return fmt.Errorf("failed to open qr channel: %w", err)
		}
		t.qrCancel = cancel
		go t.consumeQR(qrChan)
	}

	if err := client.Connect(); err != nil {
		t.fail(fmt.Sprintf("connect: %v", err), true)
		return fmt.Errorf("failed to connect whatsapp client: %w", err)
	}
	return nil
}

// Disconnect closes the socket but keeps the paired device.
func (t *WhatsAppTransport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.teardownLocked()
}

// Logout unpairs the device. The next Connect starts a fresh QR pairing.
func (t *WhatsAppTransport) Logout(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil || t.client.Store.ID == nil {
		t.teardownLocked()
		return nil
	}
	err := t.client.Logout(ctx)
	t.teardownLocked()
	if err != nil {
		return fmt.Errorf("failed to log out whatsapp session: %w", err)
	}
	return nil
}

// Close releases the session and the device store.
func (t *WhatsAppTransport) Close() error {
	t.Disconnect()
	return t.container.Close()
}

// SendMessage delivers a plain text message to the WhatsApp account of phone.
func (t *WhatsAppTransport) SendMessage(ctx context.Context, phone, body string) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()

	if client == nil || !client.IsConnected() || !client.IsLoggedIn() {
		return ErrNotConnected
	}
	user := utils.NormalizePhone(phone)
	if user == "" {
		return ErrInvalidPhone
	}

	jid := types.NewJID(user, types.DefaultUserServer)
	resp, err := client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)})
	if err != nil {
		return err
	}
	t.logger.Debug("whatsapp message sent", zap.String("to", jid.String()), zap.String("message_id", resp.ID))
	return nil
}

func (t *WhatsAppTransport) teardownLocked() {
	if t.qrCancel != nil {
		t.qrCancel()
		t.qrCancel = nil
	}
	if t.client != nil {
		t.client.Disconnect()
		t.client = nil
	}
}

func (t *WhatsAppTransport) consumeQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			t.dispatch(connection.QRReceived(item.Code))
		case "success":
			t.dispatch(connection.QRScanned())
		case "timeout":
			t.fail("qr pairing timed out", true)
		case whatsmeow.QRChannelEventError:
			t.fail(fmt.Sprintf("pairing failed: %v", item.Error), true)
		default:
			t.fail("pairing failed: "+item.Event, true)
		}
	}
}

func (t *WhatsAppTransport) handleEvent(client *whatsmeow.Client, evt any) {
	switch v := evt.(type) {
	case *events.Connected:
		// whatsmeow reconnects on its own after a drop
		if t.store.Current().Kind == connection.StateDisconnected {
			t.dispatch(connection.Initialize())
		}
		t.dispatch(connection.Connected(accountOf(client)))
	case *events.Disconnected:
		t.dispatch(connection.Disconnected("connection lost"))
	case *events.PairSuccess:
		t.logger.Info("whatsapp device paired", zap.String("jid", v.ID.String()), zap.String("platform", v.Platform))
	case *events.LoggedOut:
		t.fail("logged out: "+v.Reason.String(), false)
	case *events.StreamReplaced:
		t.fail("session replaced by another client", false)
	case *events.TemporaryBan:
		t.fail("temporary ban: "+v.String(), false)
	case *events.ConnectFailure:
		t.fail(fmt.Sprintf("connect failure: %s %s", v.Reason.String(), v.Message), true)
	case *events.ClientOutdated:
		t.fail("whatsapp client version is outdated", false)
	}
}

func accountOf(client *whatsmeow.Client) *connection.AccountInfo {
	if client == nil || client.Store.ID == nil {
		return nil
	}
	return &connection.AccountInfo{
		JID:      client.Store.ID.String(),
		PushName: client.Store.PushName,
		Platform: client.Store.Platform,
	}
}

func (t *WhatsAppTransport) fail(msg string, recoverable bool) {
	t.dispatch(connection.Failure(msg, recoverable))
}

func (t *WhatsAppTransport) dispatch(ev connection.Event) {
	if _, err := t.store.Dispatch(ev); err != nil {
		t.logger.Debug("connection event not applied", zap.String("event", string(ev.Kind)), zap.Error(err))
	}
}

// zapWALogger bridges whatsmeow logging to zap.
type zapWALogger struct {
	s *zap.SugaredLogger
}

// NewZapWALogger wraps logger as a whatsmeow logger.
func NewZapWALogger(logger *zap.Logger) waLog.Logger {
	return &zapWALogger{s: logger.Sugar()}
}

func (l *zapWALogger) Debugf(msg string, args ...any) { l.s.Debugf(msg, args...) }
func (l *zapWALogger) Infof(msg string, args ...any)  { l.s.Infof(msg, args...) }
func (l *zapWALogger) Warnf(msg string, args ...any)  { l.s.Warnf(msg, args...) }
func (l *zapWALogger) Errorf(msg string, args ...any) { l.s.Errorf(msg, args...) }

func (l *zapWALogger) Sub(module string) waLog.Logger {
	return &zapWALogger{s: l.s.Named(module)}
}
