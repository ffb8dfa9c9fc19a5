package utils

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/factory_backend/config"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct runs go-playground/validator tags over a request payload.
// Violations come back as a BusinessRuleError so the HTTP layer maps them to 4xx.
func ValidateStruct(obj interface{}) error {
	if err := validate.Struct(obj); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return err
		}
		return &BusinessRuleError{Msg: err.Error()}
	}
	return nil
}

// check if id exists, using ctx's workspace_id in WHERE, return RecordNotFound error
func ValidateResourceId[T any](ctx context.Context, workspaceId string, id interface{}) error {

	count, err := ResourceCountWhere[T](ctx, workspaceId, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}

	return nil
}

// check if ALL id exists, using ctx's workspace_id in WHERE, return RecordNotFound error
func ValidateResourcesId[M any, ID comparable](ctx context.Context, workspaceId string, ids []ID) error {
	unqIds := UniqueSlice(ids)

	count, err := ResourceCountWhere[M](ctx, workspaceId, "id IN ?", unqIds)
	if err != nil {
		return err
	}
	if count != int64(len(unqIds)) {
		return ErrorRecordNotFound
	}

	return nil
}

// count records, using WHERE workspace_id = ? AND $condition
// workspace_id can be blank for admin user
func ResourceCountWhere[T any](ctx context.Context, workspaceId string, condition string, value ...interface{}) (int64, error) {
	var model T

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&model)
	var count int64
	if workspaceId != "" {
		dbCtx.Where("workspace_id = ?", workspaceId)
	}
	dbCtx.Where(condition, value...)
	if err := dbCtx.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func UniqueSlice[T comparable](in []T) []T {
	seen := make(map[T]bool, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
