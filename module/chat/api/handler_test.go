package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"talkify/global"
	midsec "talkify/middleware/security"
	"talkify/module/chat/model"
	"talkify/tools/errs"

	"github.com/gin-gonic/gin"
)

type fakeStore struct {
	err    error
	sender string
}

func (f *fakeStore) CreateMessage(_ context.Context, senderID, chatID, content string) (*model.PopulatedMessage, error) {
	f.sender = senderID
	if f.err != nil {
		return nil, f.err
	}
	return &model.PopulatedMessage{
		ID:      "m1",
		Sender:  model.UserRef{ID: senderID},
		Content: content,
		Chat:    model.ChatRef{ID: chatID, Users: []model.UserRef{{ID: senderID}, {ID: "other"}}},
	}, nil
}

type fakeRelay struct{ msgs []*model.PopulatedMessage }

func (f *fakeRelay) RelayPersisted(_ context.Context, m *model.PopulatedMessage) error {
	f.msgs = append(f.msgs, m)
	return nil
}

func newEngine(store *fakeStore, relay *fakeRelay, user string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	auth := func(c *gin.Context) {
		if user != "" {
			c.Set(midsec.PPCtxSessionKey, &global.UserSession{UserID: user})
		}
		c.Next()
	}
	NewHandler(store, relay).Register(r, auth)
	return r
}

func post(r *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestSendMessagePersistsThenRelays(t *testing.T) {
	store, relay := &fakeStore{}, &fakeRelay{}
	w := post(newEngine(store, relay, "u1"), `{"chatId":"c1","content":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body=%s", w.Code, w.Body.String())
	}
	if store.sender != "u1" || len(relay.msgs) != 1 || relay.msgs[0].Chat.ID != "c1" {
		t.Fatalf("sender=%q relayed=%v", store.sender, relay.msgs)
	}
	var got model.PopulatedMessage
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.ID != "m1" || got.Content != "hi" {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestSendMessageRejections(t *testing.T) {
	cases := []struct {
		name  string
		user  string
		body  string
		err   error
		code  int
		ecode int
	}{
		{"no session", "", `{"chatId":"c1","content":"hi"}`, nil, 401, errs.UnauthorizedRequestCode},
		{"missing content", "u1", `{"chatId":"c1"}`, nil, 400, errs.MalformedEventCode},
		{"bad json", "u1", `{`, nil, 400, errs.MalformedEventCode},
		{"not a member", "u1", `{"chatId":"c1","content":"hi"}`, errs.ErrUnauthorizedRoomJoin.WrapMsg("x"), 403, errs.UnauthorizedRoomJoinCode},
		{"store down", "u1", `{"chatId":"c1","content":"hi"}`, errs.ErrPersistence.WrapMsg("x"), 500, errs.PersistenceCode},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			relay := &fakeRelay{}
			w := post(newEngine(&fakeStore{err: tc.err}, relay, tc.user), tc.body)
			var m global.Msg
			_ = json.Unmarshal(w.Body.Bytes(), &m)
			if w.Code != tc.code || m.Code != tc.ecode {
				t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
			}
			if len(relay.msgs) != 0 {
				t.Fatalf("relayed on failure")
			}
		})
	}
}
