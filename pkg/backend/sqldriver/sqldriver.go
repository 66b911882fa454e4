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

// Package sqldriver is a backend.Driver over a relational table via gorm,
// the relational-storage stack the teacher already carries (gorm.io/gorm
// is an indirect dependency of the teacher through its MySQL-backed
// services; this package is the first direct user of it). Each key is one
// row; FindKeys translates the glob pattern to SQL LIKE via pkg/glob's
// ToLike, matching spec §4.1's explicit "*" -> "%" requirement.
package sqldriver

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kvmesh/cbl/pkg/backend"
	"github.com/kvmesh/cbl/pkg/glob"
)

const likeEscape = '\\'

// TableName is the table entries are stored in.
const TableName = "kv_entries"

// entry is the row shape of a stored key. Value is always text: callers
// should pair this driver with cbl.WithJSON so structured values are
// marshaled before they ever reach the column.
type entry struct {
	Key   string `gorm:"column:key;primaryKey;size:767"`
	Value string `gorm:"column:value;type:text"`
}

func (entry) TableName() string { return TableName }

// Driver is a backend.Driver backed by a *gorm.DB.
type Driver struct {
	db *gorm.DB
}

// New wraps an existing *gorm.DB. The caller owns its connection pool and
// dialect (MySQL, Postgres, SQLite, ...); this driver issues only
// dialect-portable SQL.
func New(db *gorm.DB) *Driver {
	return &Driver{db: db}
}

func (d *Driver) Init(ctx context.Context) error {
	return backend.WrapIO(d.db.WithContext(ctx).AutoMigrate(&entry{}), "sqldriver: init")
}

func (d *Driver) Get(ctx context.Context, key string) (any, error) {
	var row entry
	err := d.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, backend.WrapIO(err, "sqldriver: get", "key", key)
	}
	return row.Value, nil
}

func (d *Driver) Set(ctx context.Context, key string, v any) error {
	s, err := toText(v)
	if err != nil {
		return backend.WrapIO(err, "sqldriver: set", "key", key)
	}
	row := entry{Key: key, Value: s}
	err = d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
	return backend.WrapIO(err, "sqldriver: set", "key", key)
}

func (d *Driver) Remove(ctx context.Context, key string) error {
	err := d.db.WithContext(ctx).Where("key = ?", key).Delete(&entry{}).Error
	return backend.WrapIO(err, "sqldriver: remove", "key", key)
}

func (d *Driver) FindKeys(ctx context.Context, pattern, notPattern string) ([]string, error) {
	esc := string(likeEscape)
	q := d.db.WithContext(ctx).Model(&entry{}).Where("key LIKE ? ESCAPE ?", glob.ToLike(pattern, likeEscape), esc)
	if notPattern != "" {
		q = q.Where("key NOT LIKE ? ESCAPE ?", glob.ToLike(notPattern, likeEscape), esc)
	}
	var keys []string
	if err := q.Pluck("key", &keys).Error; err != nil {
		return nil, backend.WrapIO(err, "sqldriver: findKeys", "pattern", pattern)
	}
	return keys, nil
}

// DoBulk applies ops inside a single transaction, in submission order.
func (d *Driver) DoBulk(ctx context.Context, ops []backend.Op) error {
	if len(ops) == 0 {
		return nil
	}
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, op := range ops {
			switch op.Type {
			case backend.OpSet:
				s, err := toText(op.Value)
				if err != nil {
					return err
				}
				row := entry{Key: op.Key, Value: s}
				if err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "key"}},
					DoUpdates: clause.AssignmentColumns([]string{"value"}),
				}).Create(&row).Error; err != nil {
					return err
				}
			case backend.OpRemove:
				if err := tx.Where("key = ?", op.Key).Delete(&entry{}).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	return backend.WrapIO(err, "sqldriver: doBulk")
}

func (d *Driver) Close(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return backend.WrapIO(err, "sqldriver: close")
	}
	return backend.WrapIO(sqlDB.Close(), "sqldriver: close")
}

// toText renders v as the text column payload. Like redisdriver, a text
// column only ever receives a Go string: enable cbl.WithJSON to store
// structured values.
func toText(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", ErrNonString
	}
	return s, nil
}

// ErrNonString is returned when a non-string value reaches this driver;
// enable cbl.WithJSON to store structured values.
var ErrNonString = errors.New("sqldriver: non-string value; enable cbl.WithJSON to store structured values")
