package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User 用户主档；isOnline 只由在线状态模块写
type User struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Name     string             `bson:"name" json:"name"`
	Email    string             `bson:"email" json:"email"`
	Avatar   string             `bson:"avatar,omitempty" json:"avatar,omitempty"`
	IsOnline bool               `bson:"isOnline" json:"isOnline"`

	// 密码哈希由鉴权服务维护，读出时用投影排除
	Password string `bson:"password,omitempty" json:"-"`

	CreatedAt time.Time `bson:"createdAt,omitempty" json:"createdAt,omitempty"`
	UpdatedAt time.Time `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

func (u *User) GetUserID() string {
	return u.ID.Hex()
}

func (u *User) GetTableName() string {
	return "users"
}
