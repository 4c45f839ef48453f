package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edgard/webmax"
	"github.com/edgard/webmax/internal/config"
	"github.com/edgard/webmax/internal/database"
	"github.com/edgard/webmax/models"
)

const (
	botID   = 42
	adminID = 7
	chatID  = 1000
)

type fakeMessenger struct {
	mu        sync.Mutex
	replies   []string
	deleted   []models.MessageID
	loggedOut bool
	replyErr  error
	nextID    int
}

func (f *fakeMessenger) Reply(_ context.Context, msg *models.Message, text string, _ ...webmax.SendOption) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return nil, f.replyErr
	}
	f.replies = append(f.replies, text)
	f.nextID++
	return &models.Message{
		Chat:   msg.Chat,
		Sender: botID,
		ID:     models.MessageID(fmt.Sprintf("sent-%d", f.nextID)),
		Time:   time.Now(),
		Text:   text,
	}, nil
}

func (f *fakeMessenger) Delete(_ context.Context, msg *models.Message, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, msg.ID)
	return nil
}

func (f *fakeMessenger) Me() *models.User {
	return &models.User{Contact: models.Contact{ID: botID, Names: []models.Name{{Name: "Helper"}}}}
}

func (f *fakeMessenger) Logout(context.Context) error {
	f.loggedOut = true
	return nil
}

type fakeStore struct {
	database.Store
	mu         sync.Mutex
	saved      []*database.Message
	history    []*database.Message
	historyErr error
	cleared    []int64
	deletedFor []string
	saveErrs   int
}

func (s *fakeStore) SaveMessage(_ context.Context, m *database.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErrs > 0 {
		s.saveErrs--
		return errors.New("database is locked")
	}
	s.saved = append(s.saved, m)
	return nil
}

func (s *fakeStore) GetRecentMessagesInChat(context.Context, int64, int) ([]*database.Message, error) {
	return s.history, s.historyErr
}

func (s *fakeStore) DeleteChatMessages(_ context.Context, chatID int64) (int64, error) {
	s.cleared = append(s.cleared, chatID)
	return 3, nil
}

func (s *fakeStore) DeleteSession(_ context.Context, phone string) error {
	s.deletedFor = append(s.deletedFor, phone)
	return nil
}

type fakeGemini struct {
	answer   string
	err      error
	history  []*database.Message
	question string
	botName  string
}

func (g *fakeGemini) GenerateReply(_ context.Context, history []*database.Message, question string, _ int64, botName string) (string, error) {
	g.history, g.question, g.botName = history, question, botName
	return g.answer, g.err
}

func testDeps(store *fakeStore, ai *fakeGemini) HandlerDeps {
	cfg := &config.Config{Messages: config.DefaultMessages}
	cfg.Bot.AdminUserID = adminID
	cfg.Bot.HistoryLimit = 10
	deps := HandlerDeps{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config: cfg,
		Store:  store,
	}
	if ai != nil {
		deps.GeminiClient = ai
	}
	return deps
}

func message(sender int64, text string) *models.Message {
	return &models.Message{Chat: models.Chat{ID: chatID}, Sender: sender, ID: "m1", Text: text, Time: time.Now()}
}

func TestSimpleCommands(t *testing.T) {
	t.Parallel()
	deps := testDeps(&fakeStore{}, nil)

	tests := []struct {
		name   string
		handle handleFunc
		want   string
	}{
		{name: "start", handle: startHandler{deps}.handle, want: config.DefaultMessages.Welcome},
		{name: "help", handle: helpHandler{deps}.handle, want: config.DefaultMessages.Help},
		{name: "ping", handle: pingHandler{deps}.handle, want: config.DefaultMessages.Pong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &fakeMessenger{}
			require.NoError(t, tt.handle(context.Background(), c, message(1, "/"+tt.name)))
			require.Equal(t, []string{tt.want}, c.replies)
			require.Empty(t, c.deleted)
		})
	}
}

func TestStartFillsBotName(t *testing.T) {
	t.Parallel()
	deps := testDeps(&fakeStore{}, nil)
	deps.Config.Messages.Welcome = "Hi, I am @botname."
	c := &fakeMessenger{}

	require.NoError(t, startHandler{deps}.handle(context.Background(), c, message(1, "/start")))
	require.Equal(t, []string{"Hi, I am Helper."}, c.replies)
}

func TestPingDeletesRequestWhenConfigured(t *testing.T) {
	t.Parallel()
	deps := testDeps(&fakeStore{}, nil)
	deps.Config.Bot.DeletePing = true
	c := &fakeMessenger{}

	require.NoError(t, pingHandler{deps}.handle(context.Background(), c, message(1, "/ping")))
	require.Equal(t, []models.MessageID{"m1"}, c.deleted)
}

func TestReplyFailureIsReturned(t *testing.T) {
	t.Parallel()
	c := &fakeMessenger{replyErr: errors.New("offline")}

	err := helpHandler{testDeps(&fakeStore{}, nil)}.handle(context.Background(), c, message(1, "/help"))
	require.ErrorContains(t, err, "offline")
}

func TestAsk(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		c := &fakeMessenger{}
		require.NoError(t, askHandler{testDeps(&fakeStore{}, nil)}.handle(ctx, c, message(1, "/ask hi")))
		require.Equal(t, []string{config.DefaultMessages.AskDisabled}, c.replies)
	})

	t.Run("no question", func(t *testing.T) {
		t.Parallel()
		c := &fakeMessenger{}
		ai := &fakeGemini{answer: "unused"}
		require.NoError(t, askHandler{testDeps(&fakeStore{}, ai)}.handle(ctx, c, message(1, "/ask   ")))
		require.Equal(t, []string{config.DefaultMessages.ProvideQuestion}, c.replies)
		require.Empty(t, ai.question)
	})

	t.Run("answers and stores reply", func(t *testing.T) {
		t.Parallel()
		req := require.New(t)
		history := []*database.Message{{ChatID: chatID, UserID: 1, Content: "earlier"}}
		store := &fakeStore{history: history}
		ai := &fakeGemini{answer: "Forty-two."}
		c := &fakeMessenger{}

		req.NoError(askHandler{testDeps(store, ai)}.handle(ctx, c, message(1, "/ask what is\nthe answer?")))
		req.Equal("what is\nthe answer?", ai.question)
		req.Equal("Helper", ai.botName)
		req.Equal(history, ai.history)
		req.Equal([]string{"Forty-two."}, c.replies)
		req.Len(store.saved, 1)
		req.Equal(int64(botID), store.saved[0].UserID)
		req.Equal("Forty-two.", store.saved[0].Content)
	})

	t.Run("history failure still answers", func(t *testing.T) {
		t.Parallel()
		ai := &fakeGemini{answer: "ok"}
		c := &fakeMessenger{}
		store := &fakeStore{historyErr: errors.New("locked")}
		require.NoError(t, askHandler{testDeps(store, ai)}.handle(ctx, c, message(1, "/ask q")))
		require.Nil(t, ai.history)
		require.Equal(t, []string{"ok"}, c.replies)
	})

	t.Run("generation error", func(t *testing.T) {
		t.Parallel()
		ai := &fakeGemini{err: errors.New("quota")}
		c := &fakeMessenger{}
		store := &fakeStore{}
		err := askHandler{testDeps(store, ai)}.handle(ctx, c, message(1, "/ask q"))
		require.ErrorContains(t, err, "quota")
		require.Equal(t, []string{config.DefaultMessages.GeneralError}, c.replies)
		require.Empty(t, store.saved)
	})
}

func TestCommandPayload(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"/ask":              "",
		"/ask ":             "",
		"/ask hello":        "hello",
		"  /ask  a  b  ":    "a  b",
		"/ask\nmulti\nline": "multi\nline",
	}
	for in, want := range tests {
		require.Equal(t, want, commandPayload(in), in)
	}
}

func TestHistoryRetriesSave(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	store := &fakeStore{saveErrs: 1}
	msg := message(5, "hello there")

	req.NoError(saveMessage(context.Background(), testDeps(store, nil), msg, "message"))
	req.Len(store.saved, 1)
	req.Equal(int64(chatID), store.saved[0].ChatID)
	req.Equal(int64(5), store.saved[0].UserID)
	req.Equal("m1", store.saved[0].MessageID)

	req.ErrorIs(saveMessage(context.Background(), testDeps(store, nil), message(5, "  "), "message"), errEmptyMessage)
}

func TestHasText(t *testing.T) {
	t.Parallel()
	require.True(t, HasText.Match(nil, message(1, "hi")))
	require.False(t, HasText.Match(nil, message(1, " \n")))
}

func TestAdminOnly(t *testing.T) {
	t.Parallel()
	deps := testDeps(&fakeStore{}, nil)

	c := &fakeMessenger{}
	require.True(t, allowAdmin(context.Background(), deps, c, message(adminID, "/forget")))
	require.Empty(t, c.replies)

	require.False(t, allowAdmin(context.Background(), deps, c, message(1, "/forget")))
	require.Equal(t, []string{config.DefaultMessages.NotAuthorized}, c.replies)

	called := false
	next := func(context.Context, *webmax.Client, *models.Message) error {
		called = true
		return nil
	}
	require.NoError(t, AdminOnly(deps)(next)(context.Background(), nil, message(adminID, "/forget")))
	require.True(t, called)
}

func TestForgetClearsChat(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	c := &fakeMessenger{}

	require.NoError(t, forgetHandler{testDeps(store, nil)}.handle(context.Background(), c, message(adminID, "/forget")))
	require.Equal(t, []int64{chatID}, store.cleared)
	require.Equal(t, []string{config.DefaultMessages.HistoryCleared}, c.replies)
}

func TestLogout(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	deps := testDeps(store, nil)
	deps.Config.Max.Phone = "+79990001122"
	c := &fakeMessenger{}

	require.NoError(t, logoutHandler{deps}.handle(context.Background(), c, message(adminID, "/logout")))
	require.True(t, c.loggedOut)
	require.Equal(t, []string{"+79990001122"}, store.deletedFor)
	require.Equal(t, []string{config.DefaultMessages.LoggedOut}, c.replies)
}

func TestAllCommandsOrder(t *testing.T) {
	t.Parallel()
	var names []string
	for _, h := range AllCommands(testDeps(&fakeStore{}, nil)) {
		names = append(names, h.Name)
	}
	require.Equal(t, []string{"start", "help", "ping", "ask", "forget", "logout", "history"}, names)
}
