// Package txnlock holds the wire-level data model shared by the region
// store/index service surface: the lock a scan turns up, the status a
// primary-key probe returns, and the classification rules that decide what
// the scan-and-resolve engine does with each lock. Field names and the
// status/action enumeration follow the kvrpcpb vocabulary used throughout
// kv/transaction/commands in the teacher repo (LockType Lock/Put/Delete,
// Action LockNotExistRollback/TTLExpireRollback/...).
package txnlock

import (
	"time"

	"github.com/HaotMan/dingo/internal/tsoclient"
)

// LockType mirrors kvrpcpb.Op/LockInfo.LockType: the kind of write a lock
// is guarding.
type LockType int32

const (
	LockTypeUnknown LockType = iota
	LockTypeLock
	LockTypePut
	LockTypeDelete
)

// Action mirrors kvrpcpb.Action: the disposition a CheckTxnStatus probe
// attached to a primary key.
type Action int32

const (
	ActionNoAction Action = iota
	ActionLockNotExistRollback
	ActionTTLExpireRollback
	ActionTTLExpirePessimisticRollback
	ActionCommitted
	ActionMinCommitTSPushed
)

// LockInfo describes a live lock observed on a region scan.
type LockInfo struct {
	Key         []byte
	PrimaryLock []byte
	LockTs      tsoclient.Timestamp
	ForUpdateTs tsoclient.Timestamp
	LockType    LockType
	LockTtl     time.Duration
}

// IsPessimistic reports whether this lock was acquired during the
// transaction's read phase, per spec.md §3 ("nonzero iff the lock was
// taken pessimistically").
func (l LockInfo) IsPessimistic() bool {
	return l.ForUpdateTs != 0
}

// TxnResult carries an authoritative-status-not-obtained indicator on a
// CheckTxnStatus/PessimisticRollback/ResolveLock response. A non-nil
// TxnResult means the probe or action is indeterminate and must be treated
// as a failure by the caller (spec.md §4.6 step 2/3/4).
type TxnResult struct {
	Err error
}

// TxnStatus is the response of a CheckTxnStatus probe against a lock's
// primary key.
type TxnStatus struct {
	CommitTs  tsoclient.Timestamp
	LockTtl   time.Duration
	Action    Action
	TxnResult *TxnResult
}

var pessimisticRollbackActions = map[Action]bool{
	ActionLockNotExistRollback:         true,
	ActionTTLExpirePessimisticRollback: true,
	ActionTTLExpireRollback:            true,
}

// IsPessimisticRollbackEligible implements the classification in spec.md
// §3: lockType == Lock ∧ forUpdateTs ≠ 0 ∧ action ∈ {rollback actions}.
func IsPessimisticRollbackEligible(lock LockInfo, action Action) bool {
	return lock.LockType == LockTypeLock && lock.IsPessimistic() && pessimisticRollbackActions[action]
}

// IsResolveEligible implements the classification in spec.md §3:
// commitTs > 0 (commit path) or lockTtl == 0 ∧ commitTs == 0 (expired
// optimistic lock, rollback path).
func IsResolveEligible(status TxnStatus) bool {
	if status.CommitTs != 0 {
		return true
	}
	return status.LockTtl == 0 && status.CommitTs == 0
}
