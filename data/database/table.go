package database

import "go.mongodb.org/mongo-driver/mongo"

// Table 模型与集合名绑定，store 通过它拿到集合
type Table interface {
	GetTableName() string
}

func Collection(db *mongo.Database, t Table) *mongo.Collection {
	return db.Collection(t.GetTableName())
}
