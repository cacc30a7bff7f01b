package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Chat 单聊/群聊；Users 即成员列表，房间鉴权以它为准
type Chat struct {
	ID            primitive.ObjectID   `bson:"_id,omitempty" json:"_id"`
	ChatName      string               `bson:"chatName" json:"chatName"`
	IsGroupChat   bool                 `bson:"isGroupChat" json:"isGroupChat"`
	Users         []primitive.ObjectID `bson:"users" json:"users"`
	LatestMessage *primitive.ObjectID  `bson:"latestMessage,omitempty" json:"latestMessage,omitempty"`
	Admin         *primitive.ObjectID  `bson:"admin,omitempty" json:"admin,omitempty"`
	CreatedAt     time.Time            `bson:"createdAt,omitempty" json:"createdAt,omitempty"`
	UpdatedAt     time.Time            `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

func (c *Chat) GetTableName() string {
	return "chats"
}

// HasMember 成员判断
func (c *Chat) HasMember(userID primitive.ObjectID) bool {
	for _, u := range c.Users {
		if u == userID {
			return true
		}
	}
	return false
}
