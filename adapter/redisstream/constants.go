package redisstream

// Stream entry fields (avoid typos/allocs)
const (
	fieldKey          = "key"
	fieldValue        = "value" // raw []byte, no base64
	fieldPartition    = "partition"
	fieldHeaderPrefix = "h:"

	// dead-letter entries carry the origin as well
	fieldOrigTopic = "orig_topic"
	fieldOrigID    = "orig_id"
	fieldError     = "error"
)
