package firehose

import (
	"bytes"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/Priya8975/firehose-webhooks/internal/domain"
	"github.com/fxamacker/cbor/v2"
)

// ErrMalformedFrame wraps every frame-level decoding failure.
var ErrMalformedFrame = errors.New("malformed frame")

const (
	opMessage = 1
	opError   = -1

	cidLinkTag = 42
)

var decMode = mustDecMode()

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		MaxNestedLevels: 64,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

var cidEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

type frameHeader struct {
	Op int64  `cbor:"op"`
	T  string `cbor:"t"`
}

type errorBody struct {
	Error   string `cbor:"error"`
	Message string `cbor:"message"`
}

type commitBody struct {
	Seq    int64    `cbor:"seq"`
	Repo   string   `cbor:"repo"`
	Ops    []repoOp `cbor:"ops"`
	Blocks []byte   `cbor:"blocks"`
	TooBig bool     `cbor:"tooBig"`
}

type repoOp struct {
	Action string    `cbor:"action"`
	Path   string    `cbor:"path"`
	CID    *cbor.Tag `cbor:"cid"`
}

// seqBody covers #identity, #account and #sync, whose only interest is the cursor.
type seqBody struct {
	Seq int64 `cbor:"seq"`
}

// Frame is one decoded firehose message.
type Frame struct {
	Type string
	Seq  int64

	// Posts holds the post creations carried by a commit.
	Posts []domain.Post

	// Skipped counts post ops whose record could not be decoded.
	Skipped int
}

// DecodeFrame decodes one binary firehose message. Every returned error wraps
// ErrMalformedFrame.
func DecodeFrame(msg []byte) (Frame, error) {
	dec := decMode.NewDecoder(bytes.NewReader(msg))

	var hdr frameHeader
	if err := dec.Decode(&hdr); err != nil {
		return Frame{}, fmt.Errorf("%w: header: %v", ErrMalformedFrame, err)
	}

	switch hdr.Op {
	case opError:
		var body errorBody
		if err := dec.Decode(&body); err != nil {
			return Frame{}, fmt.Errorf("%w: error body: %v", ErrMalformedFrame, err)
		}
		return Frame{}, fmt.Errorf("%w: upstream error %s: %s", ErrMalformedFrame, body.Error, body.Message)
	case opMessage:
	default:
		return Frame{}, fmt.Errorf("%w: unknown op %d", ErrMalformedFrame, hdr.Op)
	}

	frame := Frame{Type: hdr.T}
	switch hdr.T {
	case "#commit":
		var body commitBody
		if err := dec.Decode(&body); err != nil {
			return Frame{}, fmt.Errorf("%w: commit body: %v", ErrMalformedFrame, err)
		}
		frame.Seq = body.Seq
		if err := decodeCommit(&frame, &body); err != nil {
			return Frame{}, err
		}
	case "#identity", "#account", "#sync":
		var body seqBody
		if err := dec.Decode(&body); err != nil {
			return Frame{}, fmt.Errorf("%w: %s body: %v", ErrMalformedFrame, hdr.T, err)
		}
		frame.Seq = body.Seq
	}
	return frame, nil
}

func decodeCommit(frame *Frame, body *commitBody) error {
	var wanted []repoOp
	for _, op := range body.Ops {
		if op.Action == "create" && strings.HasPrefix(op.Path, domain.PostCollection+"/") {
			wanted = append(wanted, op)
		}
	}
	if len(wanted) == 0 || body.TooBig {
		return nil
	}

	blocks, err := ReadCAR(body.Blocks)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	for _, op := range wanted {
		cid, err := linkBytes(op.CID)
		if err != nil {
			frame.Skipped++
			continue
		}
		block, ok := blocks[string(cid)]
		if !ok {
			frame.Skipped++
			continue
		}
		var rec domain.PostRecord
		if err := decMode.Unmarshal(block, &rec); err != nil {
			frame.Skipped++
			continue
		}
		if rec.Type != domain.PostCollection {
			continue
		}
		raw, err := rawRecord(block)
		if err != nil {
			frame.Skipped++
			continue
		}
		frame.Posts = append(frame.Posts, domain.Post{
			Seq:       body.Seq,
			URI:       "at://" + body.Repo + "/" + op.Path,
			CID:       cidString(cid),
			AuthorDID: body.Repo,
			Record:    rec,
			Raw:       raw,
		})
	}
	return nil
}

func cidString(cid []byte) string {
	return "b" + strings.ToLower(cidEncoding.EncodeToString(cid))
}

// rawRecord decodes a DAG-CBOR record into its JSON data model.
func rawRecord(block []byte) (map[string]any, error) {
	var v any
	if err := decMode.Unmarshal(block, &v); err != nil {
		return nil, err
	}
	m, ok := jsonValue(v).(map[string]any)
	if !ok {
		return nil, errors.New("record is not a map")
	}
	return m, nil
}

func jsonValue(v any) any {
	switch v := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(v))
		for k, val := range v {
			if ks, ok := k.(string); ok {
				m[ks] = jsonValue(val)
			}
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(v))
		for k, val := range v {
			m[k] = jsonValue(val)
		}
		return m
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = jsonValue(val)
		}
		return out
	case []byte:
		return map[string]any{"$bytes": base64.RawStdEncoding.EncodeToString(v)}
	case cbor.Tag:
		if cid, err := linkBytes(&v); err == nil {
			return map[string]any{"$link": cidString(cid)}
		}
		return jsonValue(v.Content)
	default:
		return v
	}
}

// linkBytes unwraps a DAG-CBOR link (tag 42, identity multibase prefix).
func linkBytes(t *cbor.Tag) ([]byte, error) {
	if t == nil || t.Number != cidLinkTag {
		return nil, errors.New("not a cid link")
	}
	b, ok := t.Content.([]byte)
	if !ok || len(b) < 2 || b[0] != 0 {
		return nil, errors.New("bad cid link content")
	}
	return b[1:], nil
}
