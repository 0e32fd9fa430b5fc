package firehose

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/Priya8975/firehose-webhooks/internal/domain"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame_CommitWithPost(t *testing.T) {
	msg := postFrame(t, 42, "did:plc:alice", testPost{rkey: "3kabc", text: "say HelloWorld today"})

	frame, err := DecodeFrame(msg)
	require.NoError(t, err)

	assert.Equal(t, "#commit", frame.Type)
	assert.Equal(t, int64(42), frame.Seq)
	require.Len(t, frame.Posts, 1)

	post := frame.Posts[0]
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3kabc", post.URI)
	assert.Equal(t, "did:plc:alice", post.AuthorDID)
	assert.Equal(t, "say HelloWorld today", post.Record.Text)
	assert.Equal(t, []string{"en"}, post.Record.Langs)
	assert.Equal(t, int64(42), post.Seq)
	assert.True(t, strings.HasPrefix(post.CID, "bafyrei"), "cid %q should be base32 dag-cbor", post.CID)
}

func TestDecodeFrame_KeepsFullRecordForPayload(t *testing.T) {
	thumb := cidFor([]byte("thumbnail"))
	rec, err := cbor.Marshal(map[string]any{
		"$type":     domain.PostCollection,
		"text":      "look at this golang gopher",
		"createdAt": "2024-11-05T12:00:00.000Z",
		"embed": map[string]any{
			"$type": "app.bsky.embed.external",
			"external": map[string]any{
				"uri":   "https://go.dev",
				"title": "The Go Programming Language",
				"thumb": map[string]any{
					"$type":    "blob",
					"ref":      link(thumb),
					"mimeType": "image/jpeg",
					"size":     1234,
				},
			},
		},
		"labels": map[string]any{
			"$type":  "com.atproto.label.defs#selfLabels",
			"values": []map[string]any{{"val": "graphic-media"}},
		},
		"sig": []byte{0xde, 0xad},
	})
	require.NoError(t, err)
	ops := []map[string]any{
		{"action": "create", "path": "app.bsky.feed.post/e", "cid": link(cidFor(rec))},
	}

	frame, err := DecodeFrame(commitFrame(t, 5, "did:plc:alice", ops, rec))
	require.NoError(t, err)
	require.Len(t, frame.Posts, 1)
	post := frame.Posts[0]
	assert.Equal(t, "look at this golang gopher", post.Record.Text)

	body, err := json.Marshal(domain.WebhookPayload{URI: post.URI, Post: post.RecordFields()})
	require.NoError(t, err)

	var got struct {
		Post struct {
			Text  string `json:"text"`
			Embed struct {
				External struct {
					URI   string `json:"uri"`
					Thumb struct {
						Ref  map[string]string `json:"ref"`
						Size int               `json:"size"`
					} `json:"thumb"`
				} `json:"external"`
			} `json:"embed"`
			Labels struct {
				Values []map[string]string `json:"values"`
			} `json:"labels"`
			Sig map[string]string `json:"sig"`
		} `json:"post"`
	}
	require.NoError(t, json.Unmarshal(body, &got))

	assert.Equal(t, "look at this golang gopher", got.Post.Text)
	assert.Equal(t, "https://go.dev", got.Post.Embed.External.URI)
	assert.Equal(t, cidString(thumb), got.Post.Embed.External.Thumb.Ref["$link"])
	assert.Equal(t, 1234, got.Post.Embed.External.Thumb.Size)
	require.Len(t, got.Post.Labels.Values, 1)
	assert.Equal(t, "graphic-media", got.Post.Labels.Values[0]["val"])
	assert.Equal(t, "3q0", got.Post.Sig["$bytes"])
}

func TestPost_RecordFieldsFallsBackToTypedRecord(t *testing.T) {
	p := domain.Post{Record: domain.PostRecord{Type: domain.PostCollection, Text: "hi"}}
	fields := p.RecordFields()
	assert.Equal(t, "hi", fields["text"])
	assert.Equal(t, domain.PostCollection, fields["$type"])
}

func TestDecodeFrame_MultiplePostsKeepOrder(t *testing.T) {
	msg := postFrame(t, 7, "did:plc:bob",
		testPost{rkey: "a", text: "first"},
		testPost{rkey: "b", text: "second"},
	)

	frame, err := DecodeFrame(msg)
	require.NoError(t, err)
	require.Len(t, frame.Posts, 2)
	assert.Equal(t, "first", frame.Posts[0].Record.Text)
	assert.Equal(t, "second", frame.Posts[1].Record.Text)
}

func TestDecodeFrame_MentionFacets(t *testing.T) {
	msg := postFrame(t, 1, "did:plc:alice", testPost{
		rkey:     "m",
		text:     "@bob @carol @bob",
		mentions: []string{"did:plc:bob", "did:plc:carol", "did:plc:bob"},
	})

	frame, err := DecodeFrame(msg)
	require.NoError(t, err)
	require.Len(t, frame.Posts, 1)
	assert.Equal(t, []string{"did:plc:bob", "did:plc:carol"}, frame.Posts[0].MentionedDIDs())
}

func TestDecodeFrame_FiltersOtherRecords(t *testing.T) {
	like, err := cbor.Marshal(map[string]any{"$type": "app.bsky.feed.like", "createdAt": "2024-11-05T12:00:00.000Z"})
	require.NoError(t, err)
	post := postRecord(t, testPost{text: "edited"})

	tests := []struct {
		name   string
		ops    []map[string]any
		blocks [][]byte
	}{
		{
			name: "like record",
			ops: []map[string]any{
				{"action": "create", "path": "app.bsky.feed.like/1", "cid": link(cidFor(like))},
			},
			blocks: [][]byte{like},
		},
		{
			name: "post update",
			ops: []map[string]any{
				{"action": "update", "path": "app.bsky.feed.post/1", "cid": link(cidFor(post))},
			},
			blocks: [][]byte{post},
		},
		{
			name: "post delete",
			ops: []map[string]any{
				{"action": "delete", "path": "app.bsky.feed.post/1", "cid": nil},
			},
		},
		{
			name: "wrong type under post path",
			ops: []map[string]any{
				{"action": "create", "path": "app.bsky.feed.post/1", "cid": link(cidFor(like))},
			},
			blocks: [][]byte{like},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := DecodeFrame(commitFrame(t, 9, "did:plc:x", tt.ops, tt.blocks...))
			require.NoError(t, err)
			assert.Empty(t, frame.Posts)
			assert.Zero(t, frame.Skipped)
			assert.Equal(t, int64(9), frame.Seq)
		})
	}
}

func TestDecodeFrame_MissingBlockIsSkipped(t *testing.T) {
	post := postRecord(t, testPost{text: "orphan"})
	ops := []map[string]any{
		{"action": "create", "path": "app.bsky.feed.post/1", "cid": link(cidFor(post))},
	}

	frame, err := DecodeFrame(commitFrame(t, 3, "did:plc:x", ops))
	require.NoError(t, err)
	assert.Empty(t, frame.Posts)
	assert.Equal(t, 1, frame.Skipped)
}

func TestDecodeFrame_SeqOnlyFrames(t *testing.T) {
	for _, typ := range []string{"#identity", "#account", "#sync"} {
		t.Run(typ, func(t *testing.T) {
			msg := encodeFrame(t,
				map[string]any{"op": 1, "t": typ},
				map[string]any{"seq": 100, "did": "did:plc:x"},
			)
			frame, err := DecodeFrame(msg)
			require.NoError(t, err)
			assert.Equal(t, int64(100), frame.Seq)
			assert.Empty(t, frame.Posts)
		})
	}
}

func TestDecodeFrame_Malformed(t *testing.T) {
	post := postRecord(t, testPost{text: "x"})
	badCAR := encodeFrame(t,
		map[string]any{"op": 1, "t": "#commit"},
		map[string]any{
			"seq":  1,
			"repo": "did:plc:x",
			"ops": []map[string]any{
				{"action": "create", "path": "app.bsky.feed.post/1", "cid": link(cidFor(post))},
			},
			"blocks": []byte{0xff},
		},
	)

	tests := []struct {
		name string
		msg  []byte
	}{
		{name: "garbage", msg: []byte{0xff, 0xff, 0xff}},
		{name: "empty", msg: nil},
		{name: "header only", msg: func() []byte {
			b, _ := cbor.Marshal(map[string]any{"op": 1, "t": "#commit"})
			return b
		}()},
		{name: "error frame", msg: encodeFrame(t,
			map[string]any{"op": -1},
			map[string]any{"error": "FutureCursor", "message": "cursor in the future"},
		)},
		{name: "unknown op", msg: encodeFrame(t, map[string]any{"op": 7}, map[string]any{})},
		{name: "truncated car", msg: badCAR},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(tt.msg)
			assert.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}

func TestReadCAR_IndexesBlocksByCID(t *testing.T) {
	a := postRecord(t, testPost{text: "a"})
	b := postRecord(t, testPost{text: "b"})

	blocks, err := ReadCAR(buildCAR(t, a, b))
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, a, blocks[string(cidFor(a))])
	assert.Equal(t, b, blocks[string(cidFor(b))])
}

func TestReadCAR_CIDv0(t *testing.T) {
	hdr, err := cbor.Marshal(map[string]any{"version": 1, "roots": []cbor.Tag{}})
	require.NoError(t, err)

	cid := append([]byte{0x12, 0x20}, make([]byte, 32)...)
	data := []byte("block")
	car := append([]byte{byte(len(hdr))}, hdr...)
	car = append(car, byte(len(cid)+len(data)))
	car = append(car, cid...)
	car = append(car, data...)

	blocks, err := ReadCAR(car)
	require.NoError(t, err)
	assert.Equal(t, data, blocks[string(cid)])
}

func TestReadCAR_RejectsBadInput(t *testing.T) {
	v2, err := cbor.Marshal(map[string]any{"version": 2})
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "header overrun", data: []byte{0x40, 0x01}},
		{name: "wrong version", data: append([]byte{byte(len(v2))}, v2...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCAR(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestCursor_OnlyMovesForward(t *testing.T) {
	var c Cursor

	assert.True(t, c.Advance(10))
	assert.False(t, c.Advance(5))
	assert.False(t, c.Advance(10))
	assert.True(t, c.Advance(11))
	assert.Equal(t, int64(11), c.Load())
}

func TestPost_MentionedDIDsIgnoresOtherFeatures(t *testing.T) {
	p := domain.Post{Record: domain.PostRecord{Facets: []domain.Facet{{
		Features: []domain.FacetFeature{
			{Type: "app.bsky.richtext.facet#link", URI: "https://example.com"},
			{Type: domain.MentionFeature, DID: "did:plc:z"},
		},
	}}}}
	assert.Equal(t, []string{"did:plc:z"}, p.MentionedDIDs())
}
