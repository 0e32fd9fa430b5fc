package domain

import "encoding/json"

// Post is a newly created app.bsky.feed.post record surfaced from the firehose.
type Post struct {
	// Seq is the firehose sequence number of the commit that carried the post.
	Seq int64 `json:"-"`

	// URI is the AT-URI of the post (at://<did>/app.bsky.feed.post/<rkey>).
	URI string `json:"uri"`

	CID       string     `json:"cid"`
	AuthorDID string     `json:"author"`
	Record    PostRecord `json:"-"`

	// Raw is the full record in its JSON form, links as {"$link": cid} and
	// bytes as {"$bytes": base64}. It carries fields PostRecord does not model.
	Raw map[string]any `json:"post"`
}

// RecordFields returns the record forwarded in webhook payloads. Posts built
// without a raw record fall back to the typed fields.
func (p *Post) RecordFields() map[string]any {
	if p.Raw != nil {
		return p.Raw
	}
	b, err := json.Marshal(p.Record)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}

// PostRecord holds the record fields used for matching.
type PostRecord struct {
	Type      string    `json:"$type" cbor:"$type"`
	Text      string    `json:"text" cbor:"text"`
	CreatedAt string    `json:"createdAt" cbor:"createdAt"`
	Langs     []string  `json:"langs,omitempty" cbor:"langs,omitempty"`
	Tags      []string  `json:"tags,omitempty" cbor:"tags,omitempty"`
	Facets    []Facet   `json:"facets,omitempty" cbor:"facets,omitempty"`
	Reply     *ReplyRef `json:"reply,omitempty" cbor:"reply,omitempty"`
}

type Facet struct {
	Index    FacetIndex     `json:"index" cbor:"index"`
	Features []FacetFeature `json:"features" cbor:"features"`
}

type FacetIndex struct {
	ByteStart int `json:"byteStart" cbor:"byteStart"`
	ByteEnd   int `json:"byteEnd" cbor:"byteEnd"`
}

// FacetFeature covers mention, link and tag features.
type FacetFeature struct {
	Type string `json:"$type" cbor:"$type"`
	DID  string `json:"did,omitempty" cbor:"did,omitempty"`
	URI  string `json:"uri,omitempty" cbor:"uri,omitempty"`
	Tag  string `json:"tag,omitempty" cbor:"tag,omitempty"`
}

type ReplyRef struct {
	Root   StrongRef `json:"root" cbor:"root"`
	Parent StrongRef `json:"parent" cbor:"parent"`
}

type StrongRef struct {
	URI string `json:"uri" cbor:"uri"`
	CID string `json:"cid" cbor:"cid"`
}

const (
	PostCollection = "app.bsky.feed.post"
	MentionFeature = "app.bsky.richtext.facet#mention"
)

// MentionedDIDs returns the DIDs referenced by mention facets, in order of
// appearance and without duplicates.
func (p *Post) MentionedDIDs() []string {
	var dids []string
	seen := make(map[string]struct{})
	for _, f := range p.Record.Facets {
		for _, feat := range f.Features {
			if feat.Type != MentionFeature || feat.DID == "" {
				continue
			}
			if _, ok := seen[feat.DID]; ok {
				continue
			}
			seen[feat.DID] = struct{}{}
			dids = append(dids, feat.DID)
		}
	}
	return dids
}
