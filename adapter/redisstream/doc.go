// Package redisstream provides a Redis Streams broker for xdispatch.
//
// Broker name: "redis-streams"
//
// Sends use XADD, polls use XREADGROUP across the configured topics, commits
// use XACK and idle pending entries of crashed consumers are reclaimed with
// XAUTOCLAIM. Streams have no partitions or numeric offsets: records carry the
// entry ID in RawRecord.ID and the ID's millisecond part as Timestamp.
//
// Config keys:
//   - addr: "host:port" (default "127.0.0.1:6379")
//   - group: consumer group name (default "xdispatch")
//   - consumer: consumer name (default "xdispatch-<host>-<pid>")
//   - topics: streams to poll
//   - block: upper bound for one XREADGROUP BLOCK (default 5s)
//   - auto_create: create group/stream if missing (default true)
//   - auto_delete_on_ack: XDEL after XACK (default false)
//   - dead_letter: stream receiving records rejected by DeadLetterHandler
//   - max_len_approx: approximate MAXLEN for XADD
//   - claim_min_idle, claim_batch: XAUTOCLAIM settings
//
// Example builder usage:
//
//	client, _ := xdispatch.NewBuilder().
//	    WithBroker(redisstream.BrokerName, map[string]any{
//	        "addr":        "localhost:6379",
//	        "group":       "payments",
//	        "consumer":    "service-a",
//	        "topics":      []string{"orders"},
//	        "block":       "2s",
//	        "dead_letter": "payments-dlq",
//	    }).
//	    Build()
package redisstream
