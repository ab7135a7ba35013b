package health

import (
	"context"
	"time"

	"github.com/hivemind-ai/hive/internal/store"
)

// KVChecker probes the key-value store with a read on a reserved key.
type KVChecker struct {
	kv      store.KV
	timeout time.Duration
}

func NewKVChecker(kv store.KV) *KVChecker {
	return &KVChecker{kv: kv, timeout: 3 * time.Second}
}

func (c *KVChecker) Name() string           { return "kv" }
func (c *KVChecker) IsCritical() bool       { return true }
func (c *KVChecker) Timeout() time.Duration { return c.timeout }

func (c *KVChecker) Check(ctx context.Context) CheckResult {
	_, _, err := c.kv.Get(ctx, store.Key("health", "probe"))
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "kv reachable"}
}

// JournalChecker probes the workflow history database.
type JournalChecker struct {
	journal *store.HistoryStore
	timeout time.Duration
}

func NewJournalChecker(journal *store.HistoryStore) *JournalChecker {
	return &JournalChecker{journal: journal, timeout: 3 * time.Second}
}

func (c *JournalChecker) Name() string           { return "journal" }
func (c *JournalChecker) IsCritical() bool       { return false }
func (c *JournalChecker) Timeout() time.Duration { return c.timeout }

func (c *JournalChecker) Check(ctx context.Context) CheckResult {
	if err := c.journal.Ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "journal reachable"}
}
