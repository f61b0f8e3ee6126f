package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/mirastock/warehouse_backend/config"
	"gorm.io/gorm"
)

// AcquireCompanyPostingLock serializes posting per company across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same *gorm.DB that will do the posting transaction.
func AcquireCompanyPostingLock(tx *gorm.DB, companyId string) error {
	lockName := fmt.Sprintf("posting:%s", companyId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire posting lock for company_id=%s", companyId)
	}
	return nil
}

func ReleaseCompanyPostingLock(tx *gorm.DB, companyId string) {
	lockName := fmt.Sprintf("posting:%s", companyId)
	var released int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&released).Error
}

// obtainDocumentLock takes a short redis lock keyed by document id so a
// double-submitted lifecycle operation cannot run twice concurrently across
// instances. Returns a release func. When redis is not configured the lock
// degrades to a no-op; the DB row lock still serializes within one instance.
func obtainDocumentLock(ctx context.Context, documentId string) (func(), error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return func() {}, nil
	}
	lock, err := locker.Obtain(ctx, "ledger:document:"+documentId, 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		return nil, errConflict("document operation already in flight", err)
	}
	if err != nil {
		return nil, err
	}
	return func() { _ = lock.Release(ctx) }, nil
}
