package firehose

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/Priya8975/firehose-webhooks/internal/domain"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

type testPost struct {
	rkey     string
	text     string
	mentions []string
}

func cidFor(block []byte) []byte {
	sum := sha256.Sum256(block)
	return append([]byte{0x01, 0x71, 0x12, 0x20}, sum[:]...)
}

func link(cid []byte) cbor.Tag {
	return cbor.Tag{Number: cidLinkTag, Content: append([]byte{0}, cid...)}
}

func buildCAR(t *testing.T, blocks ...[]byte) []byte {
	t.Helper()
	roots := []cbor.Tag{}
	if len(blocks) > 0 {
		roots = append(roots, link(cidFor(blocks[0])))
	}
	hdr, err := cbor.Marshal(map[string]any{"version": 1, "roots": roots})
	require.NoError(t, err)

	buf := binary.AppendUvarint(nil, uint64(len(hdr)))
	buf = append(buf, hdr...)
	for _, b := range blocks {
		c := cidFor(b)
		buf = binary.AppendUvarint(buf, uint64(len(c)+len(b)))
		buf = append(buf, c...)
		buf = append(buf, b...)
	}
	return buf
}

func postRecord(t *testing.T, p testPost) []byte {
	t.Helper()
	rec := domain.PostRecord{
		Type:      domain.PostCollection,
		Text:      p.text,
		CreatedAt: "2024-11-05T12:00:00.000Z",
		Langs:     []string{"en"},
	}
	for _, did := range p.mentions {
		rec.Facets = append(rec.Facets, domain.Facet{
			Index:    domain.FacetIndex{ByteStart: 0, ByteEnd: 4},
			Features: []domain.FacetFeature{{Type: domain.MentionFeature, DID: did}},
		})
	}
	b, err := cbor.Marshal(rec)
	require.NoError(t, err)
	return b
}

func encodeFrame(t *testing.T, header, body any) []byte {
	t.Helper()
	h, err := cbor.Marshal(header)
	require.NoError(t, err)
	b, err := cbor.Marshal(body)
	require.NoError(t, err)
	return append(h, b...)
}

func commitFrame(t *testing.T, seq int64, repo string, ops []map[string]any, blocks ...[]byte) []byte {
	t.Helper()
	return encodeFrame(t,
		map[string]any{"op": 1, "t": "#commit"},
		map[string]any{
			"seq":    seq,
			"repo":   repo,
			"ops":    ops,
			"blocks": buildCAR(t, blocks...),
			"tooBig": false,
			"time":   "2024-11-05T12:00:00.000Z",
		},
	)
}

// postFrame builds a commit frame creating one post per entry.
func postFrame(t *testing.T, seq int64, repo string, posts ...testPost) []byte {
	t.Helper()
	var ops []map[string]any
	var blocks [][]byte
	for _, p := range posts {
		rec := postRecord(t, p)
		blocks = append(blocks, rec)
		ops = append(ops, map[string]any{
			"action": "create",
			"path":   domain.PostCollection + "/" + p.rkey,
			"cid":    link(cidFor(rec)),
		})
	}
	return commitFrame(t, seq, repo, ops, blocks...)
}
