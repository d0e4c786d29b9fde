package messagecenter

import (
	"context"
	"time"

	"github.com/ageniuscoder/mmchat/realtime/internal/model"
	"github.com/ageniuscoder/mmchat/realtime/internal/protocol"
)

type inert struct{}

// Inert returns the facade used while no user is signed in. Views are empty,
// the connection reads as disconnected and every operation does nothing.
func Inert() Center { return inert{} }

func (inert) Messages() []model.Message                 { return nil }
func (inert) SelectedConversation() *model.Conversation { return nil }
func (inert) Conversations() []model.Conversation       { return nil }
func (inert) TypingUsers() []model.TypingStatus         { return nil }
func (inert) ConnectionState() model.ConnectionState    { return model.Disconnected }
func (inert) ReconnectAttempts() int                    { return 0 }
func (inert) IsLoading() bool                           { return false }

func (inert) UnreadCounts() model.UnreadCounts {
	return model.UnreadCounts{ByType: map[model.ConversationType]int{}}
}

func (inert) Connect(context.Context) error                            { return nil }
func (inert) Disconnect()                                              {}
func (inert) Ping(context.Context) (time.Duration, error)              { return 0, nil }
func (inert) SelectConversation(context.Context, string) error         { return nil }
func (inert) LoadOlder(context.Context) error                          { return nil }
func (inert) MarkAsRead(string, string)                                {}
func (inert) SetTyping(string, bool)                                   {}
func (inert) EditMessage(string, string, string) error                 { return nil }
func (inert) DeleteMessage(string, string) error                       { return nil }
func (inert) ForwardMessage(string, string, []string) error            { return nil }
func (inert) PinMessage(string, string, bool) error                    { return nil }
func (inert) AddReaction(string, string, string) error                 { return nil }
func (inert) UpdateConversation(string, model.ConversationPatch) error { return nil }
func (inert) ArchiveConversation(string) error                         { return nil }
func (inert) DeleteConversation(string) error                          { return nil }
func (inert) SaveDraft(context.Context, string, string)                {}
func (inert) GetDraft(string) string                                   { return "" }
func (inert) ClearDraft(context.Context, string)                       {}
func (inert) UpdateStatus(model.Presence) error                        { return nil }
func (inert) JoinProject(string) error                                 { return nil }
func (inert) Close()                                                   {}
func (inert) Subscribe(func()) func()                                  { return func() {} }

func (inert) SendMessage(context.Context, model.MessageDraft) (model.Message, error) {
	return model.Message{}, nil
}

func (inert) CreateConversation(model.Conversation) (model.Conversation, error) {
	return model.Conversation{}, nil
}

func (inert) SearchMessages(string, string) []model.Message { return nil }

func (inert) FilterConversations(model.ConversationFilter) []model.Conversation { return nil }

func (inert) SendProjectNotification(protocol.ProjectNotificationPayload) error { return nil }
