package normalize

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/Guizzs26/dao_governance_stream/internal/model"
	"gotest.tools/v3/assert"
)

func TestNormalizeShapesAgree(t *testing.T) {
	want := model.Fields{"proposalId": "p3", "title": "T", "proposer": "0xP"}

	cases := []struct {
		name string
		raw  any
	}{
		{
			name: "array of fields",
			raw: []any{
				map[string]any{"name": "proposalId", "value": "p3"},
				map[string]any{"name": "title", "value": map[string]any{"value": "T"}},
				map[string]any{"name": "proposer", "value": "0xP"},
			},
		},
		{
			name: "keyed object with wrapped values",
			raw: map[string]any{
				"proposalId": map[string]any{"value": "p3"},
				"title":      map[string]any{"value": "T"},
				"proposer":   map[string]any{"value": "0xP"},
			},
		},
		{
			name: "keyed object with scalars",
			raw:  map[string]any{"proposalId": "p3", "title": "T", "proposer": "0xP"},
		},
		{
			name: "fields under data envelope",
			raw: map[string]any{
				"schemaId": "0xabc",
				"data": []any{
					map[string]any{"name": "proposalId", "value": "p3"},
					map[string]any{"name": "title", "value": "T"},
					map[string]any{"name": "proposer", "value": "0xP"},
				},
			},
		},
		{
			name: "typed field list",
			raw: []Field{
				{Name: "proposalId", Value: "p3"},
				{Name: "title", Value: "T"},
				{Name: "proposer", Value: "0xP"},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.DeepEqual(t, Normalize(tc.raw), want)
		})
	}
}

func TestNormalizeUnknownShapes(t *testing.T) {
	for _, raw := range []any{42, nil, "text", true, []int{1, 2}, map[string]any{}} {
		got := Normalize(raw)
		assert.Assert(t, got != nil)
		assert.Equal(t, len(got), 0)
	}
}

func TestNormalizeSkipsEnvelopeKeys(t *testing.T) {
	got := Normalize(map[string]any{
		"publisher": "0xPub",
		"schemaId":  "0xabc",
		"metadata":  map[string]any{"block": 1},
		"voter":     map[string]any{"value": "0xV"},
		"timestamp": int64(100),
	})
	assert.DeepEqual(t, got, model.Fields{"voter": "0xV", "timestamp": int64(100)})
}

func TestNormalizeLargeIntegers(t *testing.T) {
	huge, _ := new(big.Int).SetString("340282366920938463463374607431768211456", 10)
	got := Normalize([]any{
		map[string]any{"name": "small", "value": big.NewInt(7)},
		map[string]any{"name": "huge", "value": map[string]any{"value": huge}},
		map[string]any{"name": "number", "value": json.Number("12")},
		map[string]any{"name": "float", "value": float64(3)},
	})
	assert.DeepEqual(t, got, model.Fields{
		"small":  int64(7),
		"huge":   "340282366920938463463374607431768211456",
		"number": int64(12),
		"float":  int64(3),
	})
}

func TestNormalizeIsPure(t *testing.T) {
	raw := map[string]any{"proposalId": map[string]any{"value": "p1"}}
	first := Normalize(raw)
	second := Normalize(raw)
	assert.DeepEqual(t, first, second)
	assert.DeepEqual(t, raw, map[string]any{"proposalId": map[string]any{"value": "p1"}})
}

func TestJSON(t *testing.T) {
	got := JSON([]byte(`[{"name":"proposalId","value":{"value":"p9"}},{"name":"timestamp","value":1700000000}]`))
	assert.DeepEqual(t, got, model.Fields{"proposalId": "p9", "timestamp": int64(1700000000)})

	assert.Equal(t, len(JSON([]byte(`not json`))), 0)
}

func TestVoteEventSupportTruthiness(t *testing.T) {
	for _, support := range []any{true, "true", int64(1), float64(1)} {
		f := VoteEvent(map[string]any{"proposalId": "p1", "voter": "0xV", "support": support})
		assert.Equal(t, f["support"], true, "support=%v", support)
	}
	for _, support := range []any{false, "false", int64(0), "yes"} {
		f := VoteEvent(map[string]any{"proposalId": "p1", "voter": "0xV", "support": support})
		assert.Equal(t, f["support"], false, "support=%v", support)
	}
}

func TestEventAliases(t *testing.T) {
	p := ProposalEvent(map[string]any{"id": "p1", "title": "A", "sender": "0xA"})
	assert.Equal(t, p["proposalId"], "p1")
	assert.Equal(t, p["proposer"], "0xA")

	v := VoteEvent(map[string]any{"proposal_id": "p1", "sender": "0xV", "timestamp": "100"})
	assert.Equal(t, v["proposalId"], "p1")
	assert.Equal(t, v["voter"], "0xV")
	assert.Equal(t, v["timestamp"], int64(100))

	noTS := VoteEvent(map[string]any{"proposalId": "p1", "voter": "0xV"})
	_, ok := noTS["timestamp"]
	assert.Assert(t, !ok)
}
