package commonrepo

import (
	"context"
	"database/sql"

	"gorm.io/gorm"
)

// DB is the subset of *gorm.DB the repositories use. A transaction handle
// satisfies it as well as the root connection.
type DB interface {
	Model(value any) (tx *gorm.DB)
	Create(value any) (tx *gorm.DB)
	Where(query any, args ...any) (tx *gorm.DB)
	Table(name string, args ...any) (tx *gorm.DB)
	Scopes(funcs ...func(*gorm.DB) *gorm.DB) (tx *gorm.DB)
	Exec(sql string, values ...any) (tx *gorm.DB)
	Transaction(fn func(tx *gorm.DB) error, opts ...*sql.TxOptions) error
	WithContext(ctx context.Context) *gorm.DB
	DB() (*sql.DB, error)
}
