package helpers

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/m3rciful/sessiongen/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// API is the subset of *tele.Bot used for outbound messages.
type API interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Messenger delivers plain text and files to chats through the retrying sender.
type Messenger struct {
	api    API
	sender *sender.Sender
}

// NewMessenger wraps api. A nil sender sends each message once.
func NewMessenger(api API, s *sender.Sender) (*Messenger, error) {
	if api == nil {
		return nil, errors.New("helpers: nil telegram api")
	}
	if s == nil {
		s = sender.New(sender.Options{})
	}
	return &Messenger{api: api, sender: s}, nil
}

// SendText sends raw text without parse mode, so user input is never interpreted as markup.
func (m *Messenger) SendText(ctx context.Context, chatID int64, text string) error {
	return m.sender.Do(ctx, "send.text", "sendMessage", func() error {
		_, err := m.api.Send(tele.ChatID(chatID), text)
		return err
	})
}

// SendDocument uploads the file at path to the chat.
func (m *Messenger) SendDocument(ctx context.Context, chatID int64, path, caption string) error {
	return m.sender.Do(ctx, "send.document", "sendDocument", func() error {
		doc := &tele.Document{
			File:     tele.FromDisk(path),
			FileName: filepath.Base(path),
			Caption:  caption,
		}
		_, err := m.api.Send(tele.ChatID(chatID), doc)
		return err
	})
}
