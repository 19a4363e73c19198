package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrConflict 唯一约束冲突
	ErrConflict = errors.New("record already exists")
	// ErrInvalidReference 外键引用的记录不存在（患者 / 设备）
	ErrInvalidReference = errors.New("referenced record does not exist")
)

// PostgreSQL 错误码
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// translatePQError 将约束冲突映射为仓库层错误，其他错误原样返回
func translatePQError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pqUniqueViolation:
		return ErrConflict
	case pqForeignKeyViolation:
		return ErrInvalidReference
	}
	return err
}
