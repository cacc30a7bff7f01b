package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"talkify/data/database"
	"talkify/module/chat/model"
	usermodel "talkify/module/user/model"
	"talkify/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type DBProvider func() (*mongo.Database, bool)

// ChatStore 会话成员查询与消息落库
type ChatStore struct {
	db DBProvider
}

func NewChatStore(db DBProvider) *ChatStore {
	return &ChatStore{db: db}
}

func (s *ChatStore) database() (*mongo.Database, error) {
	db, ok := s.db()
	if !ok {
		return nil, errs.ErrPersistence.WrapMsg("mongo not ready")
	}
	return db, nil
}

func parseID(kind, id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, errs.ErrMalformedEvent.WrapMsg("invalid "+kind+" id", "id", id)
	}
	return oid, nil
}

// IsMember chatID 不存在时返回 false
func (s *ChatStore) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	cid, err := parseID("chat", chatID)
	if err != nil {
		return false, err
	}
	uid, err := parseID("user", userID)
	if err != nil {
		return false, err
	}
	db, err := s.database()
	if err != nil {
		return false, err
	}
	n, err := database.Collection(db, &model.Chat{}).CountDocuments(ctx,
		bson.M{"_id": cid, "users": uid},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, errs.ErrPersistence.WrapMsg(err.Error(), "op", "IsMember", "chat", chatID)
	}
	return n > 0, nil
}

// FindByID 不存在返回 (nil, nil)
func (s *ChatStore) FindByID(ctx context.Context, chatID string) (*model.Chat, error) {
	cid, err := parseID("chat", chatID)
	if err != nil {
		return nil, err
	}
	db, err := s.database()
	if err != nil {
		return nil, err
	}
	var c model.Chat
	err = database.Collection(db, &model.Chat{}).FindOne(ctx, bson.M{"_id": cid}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.ErrPersistence.WrapMsg(err.Error(), "op", "FindChat", "chat", chatID)
	}
	return &c, nil
}

// CreateMessage 落库并返回展开后的消息（含会话成员快照）；发送者必须是成员
func (s *ChatStore) CreateMessage(ctx context.Context, senderID, chatID, content string) (*model.PopulatedMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errs.ErrMalformedEvent.WrapMsg("empty content")
	}
	sid, err := parseID("user", senderID)
	if err != nil {
		return nil, err
	}
	chat, err := s.FindByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, errs.ErrMalformedEvent.WrapMsg("chat not found", "chat", chatID)
	}
	if !chat.HasMember(sid) {
		return nil, errs.ErrUnauthorizedRoomJoin.WrapMsg("sender is not a chat member", "chat", chatID, "user", senderID)
	}

	db, err := s.database()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	msg := model.Message{
		ID:        primitive.NewObjectID(),
		Sender:    sid,
		Content:   content,
		Chat:      chat.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := database.Collection(db, &msg).InsertOne(ctx, msg); err != nil {
		return nil, errs.ErrPersistence.WrapMsg(err.Error(), "op", "InsertMessage", "chat", chatID)
	}
	if _, err := database.Collection(db, chat).UpdateOne(ctx,
		bson.M{"_id": chat.ID},
		bson.M{"$set": bson.M{"latestMessage": msg.ID, "updatedAt": now}},
	); err != nil {
		return nil, errs.ErrPersistence.WrapMsg(err.Error(), "op", "UpdateLatestMessage", "chat", chatID)
	}

	members, err := s.loadUsers(ctx, db, chat.Users)
	if err != nil {
		return nil, err
	}
	out := &model.PopulatedMessage{
		ID:        msg.ID.Hex(),
		Content:   content,
		CreatedAt: now,
		Chat: model.ChatRef{
			ID:          chat.ID.Hex(),
			ChatName:    chat.ChatName,
			IsGroupChat: chat.IsGroupChat,
			Users:       make([]model.UserRef, 0, len(chat.Users)),
		},
	}
	// 按会话里的成员顺序输出；用户记录缺失时只保留 ID
	for _, uid := range chat.Users {
		ref, ok := members[uid]
		if !ok {
			ref = model.UserRef{ID: uid.Hex()}
		}
		out.Chat.Users = append(out.Chat.Users, ref)
		if uid == sid {
			out.Sender = ref
		}
	}
	return out, nil
}

func (s *ChatStore) loadUsers(ctx context.Context, db *mongo.Database, ids []primitive.ObjectID) (map[primitive.ObjectID]model.UserRef, error) {
	out := make(map[primitive.ObjectID]model.UserRef, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cur, err := database.Collection(db, &usermodel.User{}).Find(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetProjection(bson.M{"name": 1, "email": 1, "avatar": 1, "isOnline": 1}),
	)
	if err != nil {
		return nil, errs.ErrPersistence.WrapMsg(err.Error(), "op", "LoadMembers")
	}
	var users []usermodel.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, errs.ErrPersistence.WrapMsg(err.Error(), "op", "LoadMembers")
	}
	for _, u := range users {
		out[u.ID] = model.UserRef{
			ID:       u.ID.Hex(),
			Name:     u.Name,
			Email:    u.Email,
			Avatar:   u.Avatar,
			IsOnline: u.IsOnline,
		}
	}
	return out, nil
}
