package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "chainvault"
)

// Ключи для Sets (состояние)
const (
	RedisKeyFrozenWallets  = RedisNamespace + ":wallets:frozen_set"
	RedisKeyLockFrozenWarm = RedisNamespace + ":lock:warmup:frozen"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanApprovalDecisions — решения оператора (HITL): "record_id:STATUS".
	RedisChanApprovalDecisions = RedisNamespace + ":approvals:decisions"
	// RedisChanApprovalCreated — новые запросы на подтверждение (для нотификаторов).
	RedisChanApprovalCreated = RedisNamespace + ":approvals:created"
	RedisChanFreeze          = RedisNamespace + ":wallets:freeze-signal"
	RedisChanPolicyUpdate    = RedisNamespace + ":policies:update"
)

// QuotaKey — месячный счетчик действий владельца: chainvault:quota:{owner}:{yyyymm}.
func QuotaKey(ownerID, yearMonth string) string {
	return fmt.Sprintf("%s:quota:%s:%s", RedisNamespace, ownerID, yearMonth)
}
