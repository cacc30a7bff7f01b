package chat

import (
	"encoding/json"
	"strings"

	"talkify/tools/decode"
	"talkify/tools/errs"
)

// 事件名即线上协议，不能改
const (
	EventSetup           = "setup"
	EventConnected       = "connected"
	EventJoinChat        = "join chat"
	EventNewMessage      = "new message"
	EventMessageReceived = "message received"
	EventTyping          = "typing"
	EventStopTyping      = "stop typing"
	EventUserOnline      = "user online"
	EventUserOffline     = "user offline"
	EventOnlineUsers     = "get online users"
	EventUserStatus      = "user status"
	EventError           = "error"
)

// Frame 一个文本帧对应一个事件：{"event":"<name>","data":<payload>}
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func ParseFrameJSON(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errs.ErrMalformedEvent.WrapMsg("unmarshal frame: " + err.Error())
	}
	if strings.TrimSpace(f.Event) == "" {
		return nil, errs.ErrMalformedEvent.WrapMsg("missing event name")
	}
	return &f, nil
}

// BuildFrame data 为 nil 时不带 data 字段；json.RawMessage 原样透传
func BuildFrame(event string, data any) ([]byte, error) {
	f := Frame{Event: event}
	if data != nil {
		switch v := data.(type) {
		case json.RawMessage:
			f.Data = v
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, errs.WrapMsg(err, "marshal payload", "event", event)
			}
			f.Data = b
		}
	}
	return json.Marshal(f)
}

// ---- 服务端下行 ----

type UserStatusPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

type ErrorPayload struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// ---- 客户端上行：有限的几种事件变体，在分发入口统一校验 ----

type Event interface {
	EventName() string
}

type AnnounceEvent struct {
	UserID string `json:"_id"`
	Token  string `json:"token"`
}

type JoinRoomEvent struct {
	RoomID string
}

type NewMessageEvent struct {
	MessageID string
	SenderID  string
	ChatID    string
	Content   string
	Members   []string
	Raw       json.RawMessage // 原样转发给接收方
}

type TypingEvent struct {
	RoomID string
}

type StopTypingEvent struct {
	RoomID string
}

type UserStatusSignal struct {
	UserID string
	Online bool
}

func (AnnounceEvent) EventName() string   { return EventSetup }
func (JoinRoomEvent) EventName() string   { return EventJoinChat }
func (NewMessageEvent) EventName() string { return EventNewMessage }
func (TypingEvent) EventName() string     { return EventTyping }
func (StopTypingEvent) EventName() string { return EventStopTyping }
func (e UserStatusSignal) EventName() string {
	if e.Online {
		return EventUserOnline
	}
	return EventUserOffline
}

// DecodeEvent 把帧解成对应的事件变体；未知事件与非法载荷都是 MalformedEventError
func DecodeEvent(f *Frame) (Event, error) {
	if f == nil {
		return nil, errs.ErrMalformedEvent.WrapMsg("nil frame")
	}
	var data any
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, &data); err != nil {
			return nil, errs.ErrMalformedEvent.WrapMsg("unmarshal payload", "event", f.Event)
		}
	}

	switch f.Event {
	case EventSetup:
		return decodeAnnounce(data)
	case EventJoinChat:
		room, err := requireID(f.Event, data)
		if err != nil {
			return nil, err
		}
		return JoinRoomEvent{RoomID: room}, nil
	case EventTyping:
		room, err := requireID(f.Event, data)
		if err != nil {
			return nil, err
		}
		return TypingEvent{RoomID: room}, nil
	case EventStopTyping:
		room, err := requireID(f.Event, data)
		if err != nil {
			return nil, err
		}
		return StopTypingEvent{RoomID: room}, nil
	case EventUserOnline, EventUserOffline:
		uid, err := requireID(f.Event, data)
		if err != nil {
			return nil, err
		}
		return UserStatusSignal{UserID: uid, Online: f.Event == EventUserOnline}, nil
	case EventNewMessage:
		return decodeNewMessage(data, f.Data)
	}
	return nil, errs.ErrMalformedEvent.WrapMsg("unknown event", "event", f.Event)
}

// setup 载荷可以是 {"_id": "...", "token": "..."}，也可以是裸字符串
func decodeAnnounce(data any) (Event, error) {
	var ev AnnounceEvent
	switch v := data.(type) {
	case string:
		ev.UserID = v
	case map[string]any:
		if err := decode.Decode(v, &ev); err != nil {
			return nil, errs.ErrMalformedEvent.WrapMsg(err.Error(), "event", EventSetup)
		}
	default:
		return nil, errs.ErrMalformedEvent.WrapMsg("setup payload must be object or string")
	}
	ev.UserID = strings.TrimSpace(ev.UserID)
	if ev.UserID == "" {
		return nil, errs.ErrMalformedEvent.WrapMsg("setup without user id")
	}
	return ev, nil
}

type wireMessage struct {
	ID      string `json:"_id"`
	Sender  any    `json:"sender"`
	Content string `json:"content"`
	Chat    struct {
		ID    string `json:"_id"`
		Users []any  `json:"users"`
	} `json:"chat"`
}

func decodeNewMessage(data any, raw json.RawMessage) (Event, error) {
	m, ok := data.(map[string]any)
	if !ok {
		return nil, errs.ErrMalformedEvent.WrapMsg("new message payload must be object")
	}
	var w wireMessage
	if err := decode.Decode(m, &w); err != nil {
		return nil, errs.ErrMalformedEvent.WrapMsg(err.Error(), "event", EventNewMessage)
	}
	ev := NewMessageEvent{
		MessageID: w.ID,
		SenderID:  idOf(w.Sender),
		ChatID:    w.Chat.ID,
		Content:   w.Content,
		Raw:       raw,
	}
	if ev.SenderID == "" {
		return nil, errs.ErrMalformedEvent.WrapMsg("new message without sender._id")
	}
	if len(w.Chat.Users) == 0 {
		return nil, errs.ErrMalformedEvent.WrapMsg("chat.users not defined", "chat", ev.ChatID)
	}
	for _, u := range w.Chat.Users {
		id := idOf(u)
		if id == "" {
			return nil, errs.ErrMalformedEvent.WrapMsg("chat member without _id", "chat", ev.ChatID)
		}
		ev.Members = append(ev.Members, id)
	}
	return ev, nil
}

// requireID 房间号 / 用户号：裸字符串，或带 _id 的对象
func requireID(event string, data any) (string, error) {
	id := strings.TrimSpace(idOf(data))
	if id == "" {
		return "", errs.ErrMalformedEvent.WrapMsg("missing id", "event", event)
	}
	return id, nil
}

// idOf 成员既可能是 {"_id": ...} 也可能直接是字符串
func idOf(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case map[string]any:
		s, err := decode.ReadString(x, "_id")
		if err != nil {
			return ""
		}
		return s
	}
	return ""
}
