package whatsapp

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// whatsmeowClient adapts go.mau.fi/whatsmeow to the Client interface.
type whatsmeowClient struct {
	c        *whatsmeow.Client
	handlers EventHandlers
	logger   *logrus.Logger
}

// rawRef is what whatsmeowClient stows in Message.Raw: the chat to reply to
// and, for media messages, the downloadable part.
type rawRef struct {
	chat  types.JID
	image *waProto.ImageMessage
}

// NewWhatsmeowFactory returns a ClientFactory backed by whatsmeow with a
// SQLite session store at sessionPath.
func NewWhatsmeowFactory(sessionPath string, logger *logrus.Logger) ClientFactory {
	return func(handlers EventHandlers) (Client, error) {
		container, err := sqlstore.New("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", sessionPath), waLog.Noop)
		if err != nil {
			return nil, fmt.Errorf("failed to open session store: %w", err)
		}
		device, err := container.GetFirstDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to load device: %w", err)
		}

		client := &whatsmeowClient{
			c:        whatsmeow.NewClient(device, waLog.Noop),
			handlers: handlers,
			logger:   logger,
		}
		client.c.AddEventHandler(client.dispatchEvent)
		return client, nil
	}
}

func (w *whatsmeowClient) Connect(ctx context.Context) error {
	if w.c.Store.ID == nil {
		// No stored credentials; pairing codes arrive on the QR channel,
		// which must be requested before connecting.
		qrChan, err := w.c.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("failed to open QR channel: %w", err)
		}
		go w.consumeQRChannel(qrChan)
	}
	if err := w.c.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func (w *whatsmeowClient) Destroy(ctx context.Context) error {
	w.c.Disconnect()
	return nil
}

func (w *whatsmeowClient) SendReply(ctx context.Context, msg Message, text string) error {
	ref, ok := msg.Raw.(rawRef)
	if !ok {
		return fmt.Errorf("message carries no reply target")
	}
	_, err := w.c.SendMessage(ctx, ref.chat, &waProto.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (w *whatsmeowClient) DownloadMedia(ctx context.Context, msg Message) ([]byte, error) {
	ref, ok := msg.Raw.(rawRef)
	if !ok || ref.image == nil {
		return nil, fmt.Errorf("message carries no media")
	}
	data, err := w.c.Download(ref.image)
	if err != nil {
		return nil, fmt.Errorf("failed to download media: %w", err)
	}
	return data, nil
}

func (w *whatsmeowClient) consumeQRChannel(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			w.handlers.OnQR(item.Code)
		case "success":
			// PairSuccess fires separately; nothing to do here.
		case "timeout":
			w.handlers.OnAuthFailure("pairing timed out")
		default:
			w.handlers.OnAuthFailure(fmt.Sprintf("pairing failed: %s", item.Event))
		}
	}
}

func (w *whatsmeowClient) dispatchEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.PairSuccess:
		w.handlers.OnAuthenticated()
	case *events.PairError:
		w.handlers.OnAuthFailure(v.Error.Error())
	case *events.Connected:
		w.handlers.OnReady()
	case *events.LoggedOut:
		w.handlers.OnDisconnected(fmt.Sprintf("logged out (%s)", v.Reason))
	case *events.Disconnected:
		w.handlers.OnDisconnected("connection closed")
	case *events.StreamReplaced:
		w.handlers.OnAbnormal("session taken over by another connection")
	case *events.TemporaryBan:
		w.handlers.OnAbnormal(fmt.Sprintf("temporarily banned: %s", v.String()))
	case *events.ClientOutdated:
		w.handlers.OnAbnormal("client version no longer accepted")
	case *events.Message:
		w.dispatchMessage(v)
	}
}

func (w *whatsmeowClient) dispatchMessage(evt *events.Message) {
	if evt.Info.IsFromMe {
		return
	}

	msg := Message{
		ID:       evt.Info.ID,
		SenderID: canonicalUserID(evt.Info.Sender),
		IsGroup:  evt.Info.IsGroup,
		Raw:      rawRef{chat: evt.Info.Chat},
	}

	switch {
	case evt.Message.GetConversation() != "":
		msg.Text = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage().GetText() != "":
		msg.Text = evt.Message.GetExtendedTextMessage().GetText()
	case evt.Message.GetImageMessage() != nil:
		img := evt.Message.GetImageMessage()
		msg.Text = img.GetCaption()
		msg.HasMedia = true
		msg.MimeType = img.GetMimetype()
		msg.Raw = rawRef{chat: evt.Info.Chat, image: img}
	default:
		// Stickers, reactions, receipts and the rest are out of scope.
		return
	}

	w.handlers.OnMessage(msg)
}

// canonicalUserID renders a sender JID in the <digits>@c.us form the
// authorization list stores.
func canonicalUserID(jid types.JID) string {
	user := jid.User
	if i := strings.IndexAny(user, ":."); i >= 0 {
		user = user[:i]
	}
	return user + "@c.us"
}
