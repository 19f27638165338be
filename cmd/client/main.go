package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/folio-dev/foliochat/internal/chat"
	"github.com/folio-dev/foliochat/internal/client/profile"
)

// --- Styles ---

var (
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#10B981")
	mutedColor     = lipgloss.Color("#9CA3AF")
	errorColor     = lipgloss.Color("#EF4444")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	ownMessageStyle = lipgloss.NewStyle().
			Foreground(secondaryColor)

	otherMessageStyle = lipgloss.NewStyle().
				Foreground(primaryColor)

	unreadStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)
)

// --- View State ---

type viewState int

const (
	viewLogin viewState = iota
	viewConversations
	viewChat
	viewNewGroup
)

// --- Messages ---

type sessionEvent struct {
	ev chat.Event
}

type sessionReady struct {
	session *chat.Session
}

type loginSucceeded struct {
	token string
	user  chat.Participant
}

type loginFailed struct {
	err error
}

type connectFailed struct {
	err error
}

// entry is one row in the conversation list.
type entry struct {
	key   chat.ConversationKey
	title string
}

// --- Main Model ---

type model struct {
	serverURL string
	log       zerolog.Logger

	session *chat.Session
	self    chat.Participant
	token   string

	// Login form
	registering bool
	nameInput   textinput.Model
	emailInput  textinput.Model
	passInput   textinput.Model
	loginFocus  int
	loginError  string

	// Conversations
	entries  []entry
	selected int
	current  chat.ConversationKey

	// Chat view
	messageInput textinput.Model
	chatViewport viewport.Model
	wasTyping    bool

	// New group form
	groupNameInput textinput.Model
	groupDescInput textinput.Model

	view   viewState
	width  int
	height int
	err    error
}

func initialModel(serverURL string, logger zerolog.Logger) model {
	nameInput := textinput.New()
	nameInput.Placeholder = "Display name"
	nameInput.CharLimit = 64
	nameInput.Width = 30

	emailInput := textinput.New()
	emailInput.Placeholder = "Email"
	emailInput.Focus()
	emailInput.CharLimit = 128
	emailInput.Width = 30

	passInput := textinput.New()
	passInput.Placeholder = "Password"
	passInput.EchoMode = textinput.EchoPassword
	passInput.CharLimit = 64
	passInput.Width = 30

	messageInput := textinput.New()
	messageInput.Placeholder = "Type a message..."
	messageInput.CharLimit = 1000
	messageInput.Width = 50

	groupNameInput := textinput.New()
	groupNameInput.Placeholder = "Group name"
	groupNameInput.CharLimit = 64
	groupNameInput.Width = 30

	groupDescInput := textinput.New()
	groupDescInput.Placeholder = "Description (optional)"
	groupDescInput.CharLimit = 128
	groupDescInput.Width = 30

	return model{
		serverURL:      serverURL,
		log:            logger,
		nameInput:      nameInput,
		emailInput:     emailInput,
		passInput:      passInput,
		messageInput:   messageInput,
		groupNameInput: groupNameInput,
		groupDescInput: groupDescInput,
		chatViewport:   viewport.New(80, 20),
		view:           viewLogin,
	}
}

// --- Commands ---

func loginCmd(serverURL string, registering bool, name, email, password string) tea.Cmd {
	return func() tea.Msg {
		endpoint := serverURL + "/login"
		body := map[string]string{"email": email, "password": password}
		if registering {
			endpoint = serverURL + "/register"
			body["display_name"] = name
		}

		data, _ := json.Marshal(body)
		resp, err := http.Post(endpoint, "application/json", bytes.NewReader(data))
		if err != nil {
			return loginFailed{err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return loginFailed{err: fmt.Errorf("server said %s", resp.Status)}
		}

		var out struct {
			Token string           `json:"token"`
			User  chat.Participant `json:"user"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return loginFailed{err: err}
		}
		return loginSucceeded{token: out.Token, user: out.User}
	}
}

func connectCmd(serverURL, token string, identity chat.Participant, logger zerolog.Logger) tea.Cmd {
	return func() tea.Msg {
		wsURL := strings.Replace(serverURL, "http", "ws", 1) + "/ws"
		transport := chat.NewWebsocketTransport(wsURL, identity, logger)
		session := chat.NewSession(chat.Config{
			Transport: transport,
			Identity:  identity,
			Logger:    logger,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := session.Connect(ctx, token); err != nil {
			return connectFailed{err: err}
		}
		return sessionReady{session: session}
	}
}

func waitForEvent(s *chat.Session) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-s.Events()
		if !ok {
			return nil
		}
		return sessionEvent{ev: ev}
	}
}

// --- Init ---

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

// --- Update ---

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if next, cmd, handled := m.handleKey(msg); handled {
			return next, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chatViewport.Width = msg.Width - 4
		m.chatViewport.Height = msg.Height - 8

	case loginSucceeded:
		m.self = msg.user
		m.token = msg.token
		m.loginError = ""
		profile.Save("default", profile.Profile{
			ServerURL:   m.serverURL,
			Token:       msg.token,
			DisplayName: msg.user.DisplayName,
			Email:       msg.user.Email,
			Avatar:      msg.user.Avatar,
		})
		return m, connectCmd(m.serverURL, msg.token, msg.user, m.log)

	case loginFailed:
		m.loginError = msg.err.Error()

	case connectFailed:
		m.loginError = msg.err.Error()

	case sessionReady:
		m.session = msg.session
		m.view = viewConversations
		m.rebuildEntries()
		return m, waitForEvent(m.session)

	case sessionEvent:
		m.applyEvent(msg.ev)
		if m.session != nil {
			cmds = append(cmds, waitForEvent(m.session))
		}
	}

	// Route remaining messages to the focused inputs.
	switch m.view {
	case viewLogin:
		var cmd tea.Cmd
		switch m.loginFocus {
		case 0:
			m.emailInput, cmd = m.emailInput.Update(msg)
		case 1:
			m.passInput, cmd = m.passInput.Update(msg)
		case 2:
			m.nameInput, cmd = m.nameInput.Update(msg)
		}
		cmds = append(cmds, cmd)
	case viewChat:
		before := m.messageInput.Value()
		var cmd tea.Cmd
		m.messageInput, cmd = m.messageInput.Update(msg)
		cmds = append(cmds, cmd)
		m.chatViewport, _ = m.chatViewport.Update(msg)

		if m.session != nil && m.messageInput.Value() != before {
			typing := m.messageInput.Value() != ""
			if typing != m.wasTyping || typing {
				m.session.SetTyping(m.current, typing)
				m.wasTyping = typing
			}
		}
	case viewNewGroup:
		var cmd tea.Cmd
		if m.loginFocus == 0 {
			m.groupNameInput, cmd = m.groupNameInput.Update(msg)
		} else {
			m.groupDescInput, cmd = m.groupDescInput.Update(msg)
		}
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg) (model, tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		if m.session != nil {
			m.session.Disconnect()
		}
		return m, tea.Quit, true

	case "q":
		if m.view == viewConversations {
			if m.session != nil {
				m.session.Disconnect()
			}
			return m, tea.Quit, true
		}

	case "tab":
		switch m.view {
		case viewLogin:
			fields := 2
			if m.registering {
				fields = 3
			}
			m.loginFocus = (m.loginFocus + 1) % fields
			m.focusLoginField()
			return m, nil, true
		case viewNewGroup:
			m.loginFocus = (m.loginFocus + 1) % 2
			if m.loginFocus == 0 {
				m.groupDescInput.Blur()
				m.groupNameInput.Focus()
			} else {
				m.groupNameInput.Blur()
				m.groupDescInput.Focus()
			}
			return m, nil, true
		}

	case "ctrl+r":
		if m.view == viewLogin {
			m.registering = !m.registering
			m.loginFocus = 0
			m.focusLoginField()
			return m, nil, true
		}

	case "enter":
		switch m.view {
		case viewLogin:
			if m.emailInput.Value() != "" && m.passInput.Value() != "" {
				return m, loginCmd(m.serverURL, m.registering,
					m.nameInput.Value(), m.emailInput.Value(), m.passInput.Value()), true
			}
			return m, nil, true

		case viewConversations:
			if len(m.entries) > 0 {
				m.current = m.entries[m.selected].key
				m.view = viewChat
				m.messageInput.Focus()
				m.session.SetActive(m.current)
				m.refreshChat()
				return m, nil, true
			}

		case viewChat:
			if m.messageInput.Value() != "" {
				body := m.messageInput.Value()
				m.messageInput.SetValue("")
				m.wasTyping = false
				if err := m.session.Send(m.current, body); err != nil {
					m.log.Warn().Err(err).Msg("send rejected")
				}
				return m, nil, true
			}

		case viewNewGroup:
			if m.groupNameInput.Value() != "" {
				name := m.groupNameInput.Value()
				desc := m.groupDescInput.Value()
				m.groupNameInput.SetValue("")
				m.groupDescInput.SetValue("")
				m.view = viewConversations
				if err := m.session.CreateGroup(name, desc, nil); err != nil {
					m.log.Warn().Err(err).Msg("group creation rejected")
				}
				return m, nil, true
			}
		}

	case "up", "k":
		if m.view == viewConversations && m.selected > 0 {
			m.selected--
			return m, nil, true
		}

	case "down", "j":
		if m.view == viewConversations && m.selected < len(m.entries)-1 {
			m.selected++
			return m, nil, true
		}

	case "n":
		if m.view == viewConversations {
			m.view = viewNewGroup
			m.loginFocus = 0
			m.groupNameInput.Focus()
			return m, nil, true
		}

	case "g":
		// Join the selected group when not yet a member.
		if m.view == viewConversations && len(m.entries) > 0 {
			key := m.entries[m.selected].key
			if key.Scope == chat.ScopeGroup {
				m.session.JoinGroup(key.Target)
				return m, nil, true
			}
		}

	case "esc":
		switch m.view {
		case viewChat:
			m.session.SetTyping(m.current, false)
			m.session.ClearActive()
			m.messageInput.Blur()
			m.view = viewConversations
			return m, nil, true
		case viewNewGroup:
			m.view = viewConversations
			return m, nil, true
		}
	}

	return m, nil, false
}

func (m *model) focusLoginField() {
	m.emailInput.Blur()
	m.passInput.Blur()
	m.nameInput.Blur()
	switch m.loginFocus {
	case 0:
		m.emailInput.Focus()
	case 1:
		m.passInput.Focus()
	case 2:
		m.nameInput.Focus()
	}
}

// applyEvent folds a session event into the view state.
func (m *model) applyEvent(ev chat.Event) {
	switch ev := ev.(type) {
	case chat.RosterUpdated, chat.GroupUpdated, chat.UnreadChanged:
		m.rebuildEntries()

	case chat.MessageReceived:
		if m.view == viewChat && ev.Key == m.current {
			m.refreshChat()
		}
		m.rebuildEntries()

	case chat.HistoryLoaded:
		if m.view == viewChat && ev.Key == m.current {
			m.refreshChat()
		}

	case chat.MessageEdited:
		if m.view == viewChat && ev.Key == m.current {
			m.refreshChat()
		}

	case chat.MessageDeleted:
		if m.view == viewChat && ev.Key == m.current {
			m.refreshChat()
		}

	case chat.TypingChanged:
		if m.view == viewChat && ev.Key == m.current {
			m.refreshChat()
		}

	case chat.ErrorReceived:
		m.log.Warn().Err(ev.Err).Msg("server error")

	case chat.Disconnected:
		if ev.Err != nil {
			m.err = ev.Err
		}
	}
}

// rebuildEntries lists the public room, one private conversation per roster
// participant, and every known group.
func (m *model) rebuildEntries() {
	if m.session == nil {
		return
	}

	entries := []entry{{key: chat.Public(), title: "# general"}}

	for _, p := range m.session.Roster() {
		if p.ID == m.self.ID {
			continue
		}
		entries = append(entries, entry{key: chat.Private(p.ID), title: "@ " + p.DisplayName})
	}

	groups := m.session.Groups()
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	for _, g := range groups {
		marker := "  "
		if !g.IsMember(m.self.ID) {
			marker = " ·"
		}
		entries = append(entries, entry{key: chat.Group(g.ID), title: "&" + marker + g.Name})
	}

	m.entries = entries
	if m.selected >= len(entries) {
		m.selected = len(entries) - 1
	}
}

func (m *model) refreshChat() {
	var content strings.Builder
	for _, msg := range m.session.Messages(m.current) {
		timestamp := mutedStyle.Render(msg.SentAt.Local().Format("15:04"))
		style := otherMessageStyle
		if msg.SenderID == m.self.ID {
			style = ownMessageStyle
		}

		body := msg.Body
		switch {
		case msg.DeletedAt != nil:
			body = mutedStyle.Render("(deleted)")
		case msg.EditedAt != nil:
			body += mutedStyle.Render(" (edited)")
		}

		content.WriteString(fmt.Sprintf("%s %s: %s\n", timestamp, style.Render(msg.SenderName), body))
	}
	m.chatViewport.SetContent(content.String())
	m.chatViewport.GotoBottom()
}

// --- View ---

func (m model) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Connection lost: %v\n\nPress ctrl+c to quit.", m.err))
	}

	switch m.view {
	case viewLogin:
		return m.loginView()
	case viewConversations:
		return m.conversationsView()
	case viewChat:
		return m.chatView()
	case viewNewGroup:
		return m.newGroupView()
	}
	return ""
}

func (m model) loginView() string {
	var s strings.Builder

	s.WriteString("\n")
	s.WriteString(titleStyle.Render("FOLIOCHAT"))
	s.WriteString("\n\n")

	if m.registering {
		s.WriteString(mutedStyle.Render("  Login   "))
		s.WriteString(selectedStyle.Render("→ Register\n"))
	} else {
		s.WriteString(selectedStyle.Render("  → Login"))
		s.WriteString(mutedStyle.Render("   Register\n"))
	}
	s.WriteString(helpStyle.Render("  (Ctrl+R to switch)\n\n"))

	s.WriteString("  Email:\n")
	s.WriteString("  " + m.emailInput.View() + "\n\n")
	s.WriteString("  Password:\n")
	s.WriteString("  " + m.passInput.View() + "\n\n")
	if m.registering {
		s.WriteString("  Display name:\n")
		s.WriteString("  " + m.nameInput.View() + "\n\n")
	}

	if m.loginError != "" {
		s.WriteString(errorStyle.Render("  " + m.loginError + "\n\n"))
	}

	s.WriteString(helpStyle.Render("  Tab to switch fields • Enter to submit • Ctrl+C to quit\n"))
	return s.String()
}

func (m model) conversationsView() string {
	var s strings.Builder

	header := fmt.Sprintf("FOLIOCHAT - %s", m.self.DisplayName)
	if total := m.session.TotalUnread(); total > 0 {
		header += unreadStyle.Render(fmt.Sprintf("  (%d unread)", total))
	}
	s.WriteString(titleStyle.Render(header))
	s.WriteString("\n\n")

	for i, e := range m.entries {
		prefix := "  "
		style := lipgloss.NewStyle()
		if i == m.selected {
			prefix = "→ "
			style = selectedStyle
		}

		line := prefix + e.title
		if n := m.session.Unread(e.key); n > 0 {
			line += unreadStyle.Render(fmt.Sprintf(" [%d]", n))
		}
		if typing := m.session.Typing(e.key); len(typing) > 0 {
			line += mutedStyle.Render(" ✎")
		}

		s.WriteString(style.Render(line))
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render("  ↑/↓ navigate • Enter to open • n new group • g join group • q to quit"))
	return s.String()
}

func (m model) chatView() string {
	var s strings.Builder

	title := m.current.String()
	for _, e := range m.entries {
		if e.key == m.current {
			title = e.title
		}
	}

	s.WriteString(titleStyle.Render(title))
	s.WriteString("\n")
	s.WriteString(strings.Repeat("─", max(m.width-2, 1)))
	s.WriteString("\n")
	s.WriteString(m.chatViewport.View())
	s.WriteString("\n")

	if typing := m.session.Typing(m.current); len(typing) > 0 {
		names := m.typingNames(typing)
		s.WriteString(mutedStyle.Render(strings.Join(names, ", ") + " typing..."))
	}
	s.WriteString("\n")
	s.WriteString(strings.Repeat("─", max(m.width-2, 1)))
	s.WriteString("\n")
	s.WriteString(m.messageInput.View())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("Enter to send • Esc to go back"))
	return s.String()
}

func (m model) typingNames(ids []string) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		name := id
		for _, p := range m.session.Roster() {
			if p.ID == id {
				name = p.DisplayName
				break
			}
		}
		names = append(names, name)
	}
	return names
}

func (m model) newGroupView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("New Group"))
	s.WriteString("\n\n")
	s.WriteString("  Name:\n")
	s.WriteString("  " + m.groupNameInput.View() + "\n\n")
	s.WriteString("  Description:\n")
	s.WriteString("  " + m.groupDescInput.View() + "\n\n")
	s.WriteString(helpStyle.Render("  Tab to switch fields • Enter to create • Esc to cancel"))
	return s.String()
}

// --- Main ---

func openLogFile() zerolog.Logger {
	dir := profile.ConfigDir("default")
	if dir == "" {
		return zerolog.Nop()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return zerolog.Nop()
	}
	f, err := os.OpenFile(filepath.Join(dir, "client.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return zerolog.Nop()
	}
	return zerolog.New(f).With().Timestamp().Logger()
}

func main() {
	serverURL := os.Getenv("FOLIOCHAT_SERVER")
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}

	logger := openLogFile()

	p := tea.NewProgram(initialModel(serverURL, logger), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
