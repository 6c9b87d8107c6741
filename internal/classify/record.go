package classify

import "encoding/json"

// postRecord is the subset of an app.bsky.feed.post record the
// classifier inspects.
type postRecord struct {
	CreatedAt string          `json:"createdAt"`
	Reply     *replyRef       `json:"reply"`
	Images    json.RawMessage `json:"images"`
}

// replyRef points at the parent of a reply post.
type replyRef struct {
	Parent uriRef `json:"parent"`
}

// uriRef is the object form of a record subject: a reference by AT-URI.
type uriRef struct {
	URI string `json:"uri"`
}

// subjectRecord covers repost, like, follow and block records, whose
// only field of interest is the polymorphic subject.
type subjectRecord struct {
	Subject json.RawMessage `json:"subject"`
}

// subjectDID reads a subject as the bare-DID string variant used by
// follow and block records. ok is false for any other shape.
func subjectDID(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}

// subjectURI reads a subject as the {uri} object variant used by like
// and repost records. ok is false for any other shape.
func subjectURI(raw json.RawMessage) (string, bool) {
	var ref uriRef
	if err := json.Unmarshal(raw, &ref); err != nil || ref.URI == "" {
		return "", false
	}
	return ref.URI, true
}

// ParseRkey returns the record key of an AT-URI: its final 13
// characters. Shorter input is returned unchanged.
func ParseRkey(uri string) string {
	if len(uri) <= 13 {
		return uri
	}
	return uri[len(uri)-13:]
}
