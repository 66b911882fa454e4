// Copyright © 2024 OpenIM. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mongodriver is a backend.Driver over a MongoDB collection: each
// key is stored as a document {_id: key, v: value}. Mongo document keys
// (_id as a string) have a 1024-byte limit, so this driver implements
// backend.KeyLimiter. Single-document reads and writes go through
// github.com/openimsdk/tools/db/mongoutil's generic helpers, the same way
// pkg/common/storage/database/mgo's collections do (mongoutil.FindOne,
// mongoutil.UpdateOne, mongoutil.DeleteOne) instead of calling
// *mongo.Collection directly.
package mongodriver

import (
	"context"
	"errors"

	"github.com/openimsdk/tools/db/mongoutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kvmesh/cbl/pkg/backend"
	"github.com/kvmesh/cbl/pkg/glob"
)

// maxKeyLen is MongoDB's _id-as-string practical limit.
const maxKeyLen = 1024

// doc is the on-disk shape of a stored entry.
type doc struct {
	ID    string `bson:"_id"`
	Value any    `bson:"v"`
}

// Driver is a backend.Driver backed by a *mongo.Collection.
type Driver struct {
	coll *mongo.Collection
}

// New wraps an existing collection.
func New(coll *mongo.Collection) *Driver {
	return &Driver{coll: coll}
}

// MaxKeyLen implements backend.KeyLimiter.
func (d *Driver) MaxKeyLen() int { return maxKeyLen }

func (d *Driver) Init(ctx context.Context) error {
	return backend.WrapIO(d.coll.Database().Client().Ping(ctx, nil), "mongodriver: init")
}

func (d *Driver) Get(ctx context.Context, key string) (any, error) {
	out, err := mongoutil.FindOne[doc](ctx, d.coll, bson.M{"_id": key})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, backend.WrapIO(err, "mongodriver: get", "key", key)
	}
	return out.Value, nil
}

func (d *Driver) Set(ctx context.Context, key string, v any) error {
	err := mongoutil.UpdateOne(ctx, d.coll, bson.M{"_id": key}, bson.M{"$set": bson.M{"v": v}}, true)
	return backend.WrapIO(err, "mongodriver: set", "key", key)
}

func (d *Driver) Remove(ctx context.Context, key string) error {
	return backend.WrapIO(mongoutil.DeleteOne(ctx, d.coll, bson.M{"_id": key}), "mongodriver: remove", "key", key)
}

// FindKeys matches "_id" against pattern (translated to a regex the same
// way pkg/glob does for in-process matching, so the wildcard semantics
// are identical across backends) excluding anything matching notPattern.
func (d *Driver) FindKeys(ctx context.Context, pattern, notPattern string) ([]string, error) {
	filter := bson.M{"_id": bson.M{"$regex": glob.Compile(pattern).RegexpString()}}
	if notPattern != "" {
		filter["_id"].(bson.M)["$not"] = bson.M{"$regex": glob.Compile(notPattern).RegexpString()}
	}

	keys, err := mongoutil.Find[string](ctx, d.coll, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, backend.WrapIO(err, "mongodriver: findKeys", "pattern", pattern)
	}
	return keys, nil
}

// DoBulk applies ops as a single ordered bulk write. mongoutil has no
// multi-model bulk-write wrapper of its own: every mgo collection in the
// teacher issues InsertMany/UpdateOne/DeleteOne individually even when
// batching logically (see pkg/common/storage/database/mgo/group_member.go's
// AddMember), so this one call goes directly through *mongo.Collection.
func (d *Driver) DoBulk(ctx context.Context, ops []backend.Op) error {
	if len(ops) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(ops))
	for _, op := range ops {
		switch op.Type {
		case backend.OpSet:
			models = append(models, mongo.NewUpdateOneModel().
				SetFilter(bson.M{"_id": op.Key}).
				SetUpdate(bson.M{"$set": bson.M{"v": op.Value}}).
				SetUpsert(true))
		case backend.OpRemove:
			models = append(models, mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": op.Key}))
		}
	}
	_, err := d.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	return backend.WrapIO(err, "mongodriver: doBulk")
}

func (d *Driver) Close(ctx context.Context) error {
	return backend.WrapIO(d.coll.Database().Client().Disconnect(ctx), "mongodriver: close")
}
