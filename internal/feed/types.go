// Package feed carries index mutations over Kafka: producers publish
// MutationEvents keyed by document id, and the indexer service consumes
// them through the mutation engine. Keying by id keeps all events for one
// document on one partition, so they replay in publish order.
package feed

import "strconv"

// Mutation operation names as they appear on the wire.
const (
	OpInsert = "insert"
	OpDelete = "delete"
	OpModify = "modify"
)

// MutationEvent is one index mutation on the feed topic. DocID zero on an
// insert means "assign one"; delete and modify require it.
type MutationEvent struct {
	Op    string `json:"op"`
	DocID int64  `json:"doc_id,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Key is the Kafka partition key for the event.
func (e MutationEvent) Key() string {
	return strconv.FormatInt(e.DocID, 10)
}
