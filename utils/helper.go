package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/config"
	"github.com/bsm/redislock"
)

// WorkspaceLock orders multi-key workflows (delivery completion, transfers)
// per workspace across instances so they queue instead of piling up on row
// lock waits. Callers must defer the returned release. Correctness does not
// depend on it: each posted key is serialized by the FOR UPDATE snapshot row
// lock in models.LockSnapshot, held until the transaction commits.
func WorkspaceLock(ctx context.Context, workspaceId string, lockType string, moduleName string, functionName string) (func(), error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Avoid nil-pointer panics when Redis lock isn't initialized yet.
		config.LogError(logger, moduleName, functionName, "Redis lock not initialized", workspaceId, errors.New("redis lock is nil"))
		return nil, errors.New("service not ready (redis lock not initialized)")
	}
	lockKey := fmt.Sprintf("%s:%s", lockType, workspaceId)
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "Could not obtain lock for workspaceID", workspaceId, err)
		return nil, errors.New("could not obtain lock for workspaceID")
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining lock for workspaceID", workspaceId, err)
		return nil, err
	}

	return func() {
		_ = lock.Release(ctx)
	}, nil
}

func MergeIntSlices(a []int, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, v := range a {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range b {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func NewInt(v int) *int {
	return &v
}

func NewString(v string) *string {
	return &v
}
