package mirix

import (
	"time"

	"github.com/google/uuid"
)

// Entity ID prefixes. Every entity id is "{prefix}_{uuid}"; IDs are opaque
// strings beyond the prefix.
const (
	PrefixEpisodic       = "ep_mem"
	PrefixSemantic       = "sem_item"
	PrefixProcedural     = "proc_item"
	PrefixResource       = "res_item"
	PrefixKnowledgeVault = "kv_item"
	PrefixCoreBlock      = "core_block"
	PrefixCloudMapping   = "cloud_map"
	PrefixMessage        = "msg"
	PrefixUpload         = "upload"
)

// NewID generates a prefixed, time-sortable UUIDv7 (RFC 9562) entity id.
func NewID(prefix string) string {
	return prefix + "_" + uuid.Must(uuid.NewV7()).String()
}

// NowUTC returns the current time in UTC. All timestamps are stored in UTC
// and converted to the caller's timezone at read time.
func NowUTC() time.Time {
	return time.Now().UTC()
}
