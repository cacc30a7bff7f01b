package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Message struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Sender    primitive.ObjectID `bson:"sender" json:"sender"`
	Content   string             `bson:"content" json:"content"`
	Chat      primitive.ObjectID `bson:"chat" json:"chat"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}

func (m *Message) GetTableName() string {
	return "messages"
}

// UserRef 消息里内联的用户摘要
type UserRef struct {
	ID       string `json:"_id"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	IsOnline bool   `json:"isOnline"`
}

// ChatRef 消息里内联的会话，Users 是创建消息那一刻的成员快照
type ChatRef struct {
	ID          string    `json:"_id"`
	ChatName    string    `json:"chatName,omitempty"`
	IsGroupChat bool      `json:"isGroupChat"`
	Users       []UserRef `json:"users"`
}

// PopulatedMessage 已落库并展开 sender / chat.users 的消息，也是 "message received" 的载荷
type PopulatedMessage struct {
	ID        string    `json:"_id"`
	Sender    UserRef   `json:"sender"`
	Content   string    `json:"content"`
	Chat      ChatRef   `json:"chat"`
	CreatedAt time.Time `json:"createdAt"`
}

// MemberIDs 成员快照
func (m *PopulatedMessage) MemberIDs() []string {
	out := make([]string, 0, len(m.Chat.Users))
	for _, u := range m.Chat.Users {
		out = append(out, u.ID)
	}
	return out
}
