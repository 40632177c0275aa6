package txnlock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPessimisticRollbackEligible(t *testing.T) {
	tests := []struct {
		name   string
		lock   LockInfo
		action Action
		want   bool
	}{
		{
			name:   "optimistic lock never eligible",
			lock:   LockInfo{LockType: LockTypeLock, ForUpdateTs: 0},
			action: ActionTTLExpireRollback,
			want:   false,
		},
		{
			name:   "pessimistic lock with non-rollback action",
			lock:   LockInfo{LockType: LockTypeLock, ForUpdateTs: 5},
			action: ActionCommitted,
			want:   false,
		},
		{
			name:   "pessimistic lock, lock-not-exist rollback",
			lock:   LockInfo{LockType: LockTypeLock, ForUpdateTs: 5},
			action: ActionLockNotExistRollback,
			want:   true,
		},
		{
			name:   "pessimistic lock, ttl-expire pessimistic rollback",
			lock:   LockInfo{LockType: LockTypeLock, ForUpdateTs: 5},
			action: ActionTTLExpirePessimisticRollback,
			want:   true,
		},
		{
			name:   "pessimistic put lock is not a Lock-type lock",
			lock:   LockInfo{LockType: LockTypePut, ForUpdateTs: 5},
			action: ActionTTLExpireRollback,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPessimisticRollbackEligible(tt.lock, tt.action))
		})
	}
}

func TestIsResolveEligible(t *testing.T) {
	tests := []struct {
		name   string
		status TxnStatus
		want   bool
	}{
		{
			name:   "committed transaction resolves",
			status: TxnStatus{CommitTs: 100},
			want:   true,
		},
		{
			name:   "expired optimistic lock rolls back",
			status: TxnStatus{CommitTs: 0, LockTtl: 0},
			want:   true,
		},
		{
			name:   "still live lock is not eligible",
			status: TxnStatus{CommitTs: 0, LockTtl: 1000},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsResolveEligible(tt.status))
		})
	}
}

func TestLockInfoIsPessimistic(t *testing.T) {
	assert.True(t, LockInfo{ForUpdateTs: 1}.IsPessimistic())
	assert.False(t, LockInfo{ForUpdateTs: 0}.IsPessimistic())
}
