package store

import (
	"context"
	"errors"
	"time"

	"talkify/data/database"
	"talkify/module/user/model"
	"talkify/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DBProvider 返回当前可用的库；Mongo 未就绪时 ok=false
type DBProvider func() (*mongo.Database, bool)

// UserStore 用户集合的读写，isOnline 相关写操作只给 presence 模块用
type UserStore struct {
	db DBProvider
}

func NewUserStore(db DBProvider) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) coll() (*mongo.Collection, error) {
	db, ok := s.db()
	if !ok {
		return nil, errs.ErrPersistence.WrapMsg("mongo not ready")
	}
	return database.Collection(db, &model.User{}), nil
}

// ParseID 用户 ID 必须是 ObjectID hex
func ParseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, errs.ErrMalformedEvent.WrapMsg("invalid user id", "id", id)
	}
	return oid, nil
}

var publicProjection = bson.M{"password": 0}

// FindByID 不存在返回 (nil, nil)
func (s *UserStore) FindByID(ctx context.Context, id string) (*model.User, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	c, err := s.coll()
	if err != nil {
		return nil, err
	}
	var u model.User
	err = c.FindOne(ctx, bson.M{"_id": oid}, options.FindOne().SetProjection(publicProjection)).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.ErrPersistence.WrapMsg(err.Error(), "op", "FindByID", "id", id)
	}
	return &u, nil
}

// FindOnlineUsers 全表扫 isOnline=true，只取 _id
func (s *UserStore) FindOnlineUsers(ctx context.Context) ([]string, error) {
	c, err := s.coll()
	if err != nil {
		return nil, err
	}
	cur, err := c.Find(ctx, bson.M{"isOnline": true}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, errs.ErrPersistence.WrapMsg(err.Error(), "op", "FindOnlineUsers")
	}
	defer cur.Close(ctx)

	out := make([]string, 0)
	for cur.Next(ctx) {
		var row struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, errs.ErrPersistence.WrapMsg(err.Error(), "op", "FindOnlineUsers")
		}
		out = append(out, row.ID.Hex())
	}
	if err := cur.Err(); err != nil {
		return nil, errs.ErrPersistence.WrapMsg(err.Error(), "op", "FindOnlineUsers")
	}
	return out, nil
}

// ListOnlineUsers 在线用户资料（不含密码），exclude 通常是请求方自己
func (s *UserStore) ListOnlineUsers(ctx context.Context, exclude string) ([]*model.User, error) {
	c, err := s.coll()
	if err != nil {
		return nil, err
	}
	filter := bson.M{"isOnline": true}
	if exclude != "" {
		if oid, err := primitive.ObjectIDFromHex(exclude); err == nil {
			filter["_id"] = bson.M{"$ne": oid}
		}
	}
	cur, err := c.Find(ctx, filter, options.Find().SetProjection(publicProjection))
	if err != nil {
		return nil, errs.ErrPersistence.WrapMsg(err.Error(), "op", "ListOnlineUsers")
	}
	out := make([]*model.User, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.ErrPersistence.WrapMsg(err.Error(), "op", "ListOnlineUsers")
	}
	return out, nil
}

// SetOnlineFlag 未匹配到用户也算失败，避免给不存在的用户记在线
func (s *UserStore) SetOnlineFlag(ctx context.Context, id string, online bool) error {
	oid, err := ParseID(id)
	if err != nil {
		return err
	}
	c, err := s.coll()
	if err != nil {
		return err
	}
	res, err := c.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"isOnline": online, "updatedAt": time.Now()}},
	)
	if err != nil {
		return errs.ErrPersistence.WrapMsg(err.Error(), "op", "SetOnlineFlag", "id", id)
	}
	if res.MatchedCount == 0 {
		return errs.ErrPersistence.WrapMsg("user not found", "op", "SetOnlineFlag", "id", id)
	}
	return nil
}
