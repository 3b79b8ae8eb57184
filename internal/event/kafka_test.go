package event

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"gotest.tools/v3/assert"

	"github.com/Guizzs26/dao_governance_stream/internal/model"
	"github.com/Guizzs26/dao_governance_stream/internal/normalize"
)

func TestMatches(t *testing.T) {
	headers := []kafka.Header{
		{Key: HeaderSchemaID, Value: []byte("0xAAA")},
		{Key: HeaderPublisher, Value: []byte("0xPub")},
	}
	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{name: "empty filter", filter: Filter{}, want: true},
		{name: "schema match", filter: Filter{SchemaID: "0xaaa"}, want: true},
		{name: "schema mismatch", filter: Filter{SchemaID: "0xBBB"}, want: false},
		{name: "publisher match", filter: Filter{SchemaID: "0xAAA", Publisher: "0xpub"}, want: true},
		{name: "publisher mismatch", filter: Filter{SchemaID: "0xAAA", Publisher: "0xOther"}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, Matches(headers, tc.filter), tc.want)
		})
	}
}

func TestMessageDecodesToNormalizableEvent(t *testing.T) {
	v := model.Vote{ProposalID: "p1", Voter: "0xV", Support: true, Timestamp: 1700000000}
	msg, err := Message(Item{SchemaID: "0xAAA", Publisher: "0xPub", Key: "p1", Fields: normalize.VoteFrom(v)})
	assert.NilError(t, err)
	assert.Equal(t, string(msg.Key), "p1")
	assert.Assert(t, Matches(msg.Headers, Filter{SchemaID: "0xAAA", Publisher: "0xPub"}))

	raw, err := Decode(msg.Value)
	assert.NilError(t, err)
	assert.DeepEqual(t, normalize.VoteEvent(raw), model.Fields{
		"proposalId": "p1",
		"voter":      "0xV",
		"support":    true,
		"timestamp":  int64(1700000000),
	})
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("{"))
	assert.ErrorContains(t, err, "decode stream item")
}
