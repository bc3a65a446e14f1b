package redisstore

import "github.com/dripgate/dripgate/internal/core/engine"

var (
	_ engine.WindowStore = (*WindowStore)(nil)
	_ engine.CursorStore = (*CursorStore)(nil)
	_ engine.LedgerStore = (*LedgerStore)(nil)
	_ engine.AuditSink   = (*AuditStore)(nil)
)
