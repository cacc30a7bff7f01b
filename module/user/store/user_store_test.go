package store

import (
	"context"
	"errors"
	"testing"

	"talkify/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func storeFor(mt *mtest.T) *UserStore {
	db := mt.DB
	return NewUserStore(func() (*mongo.Database, bool) { return db, true })
}

func TestFindOnlineUsers(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("returns ids", func(mt *mtest.T) {
		a, b := primitive.NewObjectID(), primitive.NewObjectID()
		ns := mt.DB.Name() + ".users"
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			bson.D{{Key: "_id", Value: a}},
			bson.D{{Key: "_id", Value: b}},
		))
		got, err := storeFor(mt).FindOnlineUsers(context.Background())
		if err != nil {
			mt.Fatalf("find: %v", err)
		}
		if len(got) != 2 || got[0] != a.Hex() || got[1] != b.Hex() {
			mt.Fatalf("got %v", got)
		}
	})

	mt.Run("command error is persistence error", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Message: "bad", Name: "BadValue"}))
		_, err := storeFor(mt).FindOnlineUsers(context.Background())
		if !errors.Is(err, errs.ErrPersistence) {
			mt.Fatalf("expected persistence error, got %v", err)
		}
	})
}

func TestSetOnlineFlag(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	id := primitive.NewObjectID().Hex()

	mt.Run("matched", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))
		if err := storeFor(mt).SetOnlineFlag(context.Background(), id, true); err != nil {
			mt.Fatalf("set: %v", err)
		}
	})

	mt.Run("no such user", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0},
			bson.E{Key: "nModified", Value: 0},
		))
		err := storeFor(mt).SetOnlineFlag(context.Background(), id, true)
		if !errors.Is(err, errs.ErrPersistence) {
			mt.Fatalf("expected persistence error, got %v", err)
		}
	})

	mt.Run("invalid id", func(mt *mtest.T) {
		err := storeFor(mt).SetOnlineFlag(context.Background(), "not-hex", false)
		if !errors.Is(err, errs.ErrMalformedEvent) {
			mt.Fatalf("expected malformed error, got %v", err)
		}
	})
}

func TestFindByIDMissing(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	mt.Run("no documents", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, mt.DB.Name()+".users", mtest.FirstBatch))
		u, err := storeFor(mt).FindByID(context.Background(), primitive.NewObjectID().Hex())
		if err != nil || u != nil {
			mt.Fatalf("got %v %v", u, err)
		}
	})
}

func TestMongoNotReady(t *testing.T) {
	s := NewUserStore(func() (*mongo.Database, bool) { return nil, false })
	if _, err := s.FindOnlineUsers(context.Background()); !errors.Is(err, errs.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
}
