package ws

import (
	"encoding/json"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/folio-dev/foliochat/internal/chat"
	"github.com/folio-dev/foliochat/internal/server/storage"
)

const historyLimit = 100

// Client is one authenticated websocket connection. The bearer token was
// validated at upgrade time, so User is always set.
type Client struct {
	Hub  *Hub
	Conn *websocket.Conn
	Send chan []byte
	User *storage.User
	IP   string

	log zerolog.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, user *storage.User, ip string, logger zerolog.Logger) *Client {
	return &Client{
		Hub:  hub,
		Conn: conn,
		Send: make(chan []byte, 256),
		User: user,
		IP:   ip,
		log:  logger.With().Str("user_id", user.ID).Logger(),
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}

		var env chat.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn().Err(err).Msg("malformed frame dropped")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) WritePump() {
	defer c.Conn.Close()
	for data := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (c *Client) dispatch(env chat.Envelope) {
	switch env.Kind {
	case chat.KindAnnounce:
		// Identity comes from the login token; the announce is what makes
		// the connection visible to everyone else.
		c.Hub.Register <- c

	case chat.KindSendMessage:
		var p chat.SendMessagePayload
		if !c.decode(env, &p) {
			return
		}
		c.handleSend(p)

	case chat.KindEditMessage:
		var p chat.EditMessagePayload
		if !c.decode(env, &p) {
			return
		}
		c.handleEdit(p)

	case chat.KindDeleteMessage:
		var p chat.DeleteMessagePayload
		if !c.decode(env, &p) {
			return
		}
		c.handleDelete(p)

	case chat.KindSetTyping:
		var p chat.TypingPayload
		if !c.decode(env, &p) {
			return
		}
		p.ParticipantID = c.User.ID
		p.Seq = c.Hub.NextTypingSeq()
		c.fanOut(chat.ConversationKey{Scope: p.Scope, Target: p.Target}, chat.NewEnvelope(chat.KindTyping, p))

	case chat.KindGetHistory:
		var p chat.HistoryRequestPayload
		if !c.decode(env, &p) {
			return
		}
		c.handleHistory(p)

	case chat.KindMarkRead:
		var p chat.MarkReadPayload
		if !c.decode(env, &p) {
			return
		}
		if err := c.Hub.Store.MarkRead(c.User.ID, p.Scope, p.Target); err != nil {
			c.log.Error().Err(err).Msg("persisting read receipt")
		}

	case chat.KindCreateGroup:
		var p chat.CreateGroupPayload
		if !c.decode(env, &p) {
			return
		}
		c.handleCreateGroup(p)

	case chat.KindJoinGroup:
		var p chat.GroupRefPayload
		if !c.decode(env, &p) {
			return
		}
		c.handleJoinGroup(p.GroupID)

	case chat.KindLeaveGroup:
		var p chat.GroupRefPayload
		if !c.decode(env, &p) {
			return
		}
		c.handleMemberRemoval(p.GroupID, c.User.ID, chat.KindGroupLeft, "")

	case chat.KindAddMember:
		var p chat.MemberRefPayload
		if !c.decode(env, &p) {
			return
		}
		c.handleAddMember(p)

	case chat.KindRemoveMember:
		var p chat.MemberRefPayload
		if !c.decode(env, &p) {
			return
		}
		if !c.requireAdmin(p.GroupID) {
			return
		}
		c.handleMemberRemoval(p.GroupID, p.UserID, chat.KindMemberRemoved, c.User.ID)

	default:
		c.log.Warn().Str("kind", env.Kind).Msg("unrecognized event kind dropped")
	}
}

func (c *Client) handleSend(p chat.SendMessagePayload) {
	if strings.TrimSpace(p.Body) == "" {
		c.SendError("empty_body", "message body must not be empty")
		return
	}

	msg, err := c.Hub.Store.InsertMessage(p.Scope, p.Target, c.User.ID, c.User.DisplayName, p.Body)
	if err != nil {
		c.log.Error().Err(err).Msg("storing message")
		c.SendError("storage", "message could not be stored")
		return
	}
	c.fanOut(msg.Key(), chat.NewEnvelope(chat.KindNewMessage, msg))
}

func (c *Client) handleEdit(p chat.EditMessagePayload) {
	msg, err := c.Hub.Store.EditMessage(p.ID, c.User.ID, p.Body)
	if err != nil {
		c.SendError("not_found", "message not found or not editable")
		return
	}
	c.fanOut(msg.Key(), chat.NewEnvelope(chat.KindMessageEdited, chat.MessageEditedPayload{
		Scope:    msg.Scope,
		Target:   msg.Target,
		SenderID: msg.SenderID,
		ID:       msg.ID,
		Body:     msg.Body,
		EditedAt: *msg.EditedAt,
	}))
}

func (c *Client) handleDelete(p chat.DeleteMessagePayload) {
	msg, err := c.Hub.Store.DeleteMessage(p.ID, c.User.ID)
	if err != nil {
		c.SendError("not_found", "message not found or not deletable")
		return
	}
	c.fanOut(msg.Key(), chat.NewEnvelope(chat.KindMessageDeleted, chat.MessageDeletedPayload{
		Scope:     msg.Scope,
		Target:    msg.Target,
		SenderID:  msg.SenderID,
		ID:        msg.ID,
		DeletedAt: *msg.DeletedAt,
	}))
}

func (c *Client) handleHistory(p chat.HistoryRequestPayload) {
	msgs, err := c.Hub.Store.History(p.Scope, p.Target, c.User.ID, historyLimit)
	if err != nil {
		c.log.Error().Err(err).Msg("loading history")
		c.SendError("storage", "history could not be loaded")
		return
	}
	if err := c.Hub.Store.SenderNames(msgs); err != nil {
		c.log.Warn().Err(err).Msg("resolving sender names")
	}
	c.SendEnvelope(chat.NewEnvelope(chat.KindHistory, chat.HistoryPayload{
		Scope:    p.Scope,
		Target:   p.Target,
		Messages: msgs,
	}))
}

func (c *Client) handleCreateGroup(p chat.CreateGroupPayload) {
	if strings.TrimSpace(p.Name) == "" {
		c.SendError("empty_name", "group name must not be empty")
		return
	}

	g, err := c.Hub.Store.CreateGroup(p.Name, p.Description, c.User.ID, p.Members)
	if err != nil {
		c.log.Error().Err(err).Msg("creating group")
		c.SendError("storage", "group could not be created")
		return
	}
	// Groups are discoverable, so everyone learns about them.
	c.Hub.Broadcast(chat.NewEnvelope(chat.KindGroupCreated, chat.GroupCreatedPayload{Group: g}))
}

func (c *Client) handleJoinGroup(groupID string) {
	if _, err := c.Hub.Store.GetGroup(groupID); err != nil {
		c.SendError("not_found", "group not found")
		return
	}
	if err := c.Hub.Store.AddGroupMember(groupID, c.User.ID); err != nil {
		c.log.Error().Err(err).Msg("joining group")
		c.SendError("storage", "group could not be joined")
		return
	}
	c.Hub.Broadcast(chat.NewEnvelope(chat.KindGroupJoined, chat.GroupMemberPayload{
		GroupID:     groupID,
		Participant: c.User.Participant(),
	}))
}

func (c *Client) handleAddMember(p chat.MemberRefPayload) {
	if !c.requireAdmin(p.GroupID) {
		return
	}
	user, err := c.Hub.Store.GetUserByID(p.UserID)
	if err != nil {
		c.SendError("not_found", "user not found")
		return
	}
	if err := c.Hub.Store.AddGroupMember(p.GroupID, p.UserID); err != nil {
		c.log.Error().Err(err).Msg("adding member")
		c.SendError("storage", "member could not be added")
		return
	}
	c.Hub.Broadcast(chat.NewEnvelope(chat.KindMemberAdded, chat.GroupMemberPayload{
		GroupID:     p.GroupID,
		Participant: user.Participant(),
		AddedBy:     c.User.ID,
	}))
}

func (c *Client) handleMemberRemoval(groupID, userID, kind, actor string) {
	if _, err := c.Hub.Store.GetGroup(groupID); err != nil {
		c.SendError("not_found", "group not found")
		return
	}
	if err := c.Hub.Store.RemoveGroupMember(groupID, userID); err != nil {
		c.log.Error().Err(err).Msg("removing member")
		c.SendError("storage", "member could not be removed")
		return
	}
	c.Hub.Broadcast(chat.NewEnvelope(kind, chat.GroupLeavePayload{
		GroupID:   groupID,
		UserID:    userID,
		RemovedBy: actor,
	}))
}

func (c *Client) requireAdmin(groupID string) bool {
	isAdmin, err := c.Hub.Store.IsGroupAdmin(groupID, c.User.ID)
	if err != nil {
		c.log.Error().Err(err).Msg("checking admin rights")
		c.SendError("storage", "admin check failed")
		return false
	}
	if !isAdmin {
		c.SendError("forbidden", "admin rights required")
		return false
	}
	return true
}

// fanOut routes an envelope to the audience of a conversation: everyone for
// public, the two ends for private, the member set for groups.
func (c *Client) fanOut(key chat.ConversationKey, env chat.Envelope) {
	switch key.Scope {
	case chat.ScopePublic:
		c.Hub.Broadcast(env)
	case chat.ScopePrivate:
		c.Hub.SendToUser(c.User.ID, env)
		if key.Target != c.User.ID {
			c.Hub.SendToUser(key.Target, env)
		}
	case chat.ScopeGroup:
		members, err := c.Hub.Store.GroupMemberIDs(key.Target)
		if err != nil {
			c.log.Error().Err(err).Msg("resolving group members")
			return
		}
		c.Hub.SendToUsers(members, env)
	}
}

func (c *Client) SendEnvelope(env chat.Envelope) {
	data, _ := json.Marshal(env)
	select {
	case c.Send <- data:
	default:
		c.log.Warn().Msg("send buffer full, dropping frame")
	}
}

func (c *Client) SendError(code, message string) {
	c.SendEnvelope(chat.NewEnvelope(chat.KindError, chat.ErrorPayload{Code: code, Message: message}))
}

func (c *Client) decode(env chat.Envelope, v any) bool {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		c.log.Warn().Err(err).Str("kind", env.Kind).Msg("malformed payload dropped")
		return false
	}
	return true
}
