// Package llm defines the uniform contract over the heterogeneous AI
// backends: one request shape, one error taxonomy, one cancellation
// mechanism. Adapters live under providers/ and implement Provider; callers
// never see a raw transport error or a provider-specific payload.
package llm

import "context"

// PartType discriminates the members of the ContentPart union.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ContentPart is one unit of a multi-modal request payload: either a text
// segment or an image attachment. Part order is preserved end-to-end into
// the provider payload.
type ContentPart struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	Data     string   `json:"data,omitempty"` // base64 encoded image bytes
	MimeType string   `json:"mime_type,omitempty"`
}

// TextPart builds a text ContentPart.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart builds an image ContentPart from base64 data and a MIME type.
func ImagePart(data, mimeType string) ContentPart {
	return ContentPart{Type: PartImage, Data: data, MimeType: mimeType}
}

// DeltaFunc receives one incremental text fragment, in arrival order.
type DeltaFunc func(delta string)

// StatusFunc receives transient, replaceable status messages (retry waits).
// An empty string clears any previously reported status.
type StatusFunc func(status string)

// Request carries one logical call. Content is used by Complete and Stream;
// Parts is used by StreamParts. Cancel and OnStatus are optional.
type Request struct {
	// System is the system prompt for the call.
	System string
	// Content is the plain-text user content.
	Content string
	// Parts is the ordered multi-modal payload. Callers must not pass image
	// parts to Complete or Stream; that routing is the orchestration layer's
	// responsibility, not the adapter's.
	Parts []ContentPart
	// Model overrides the configured model when non-empty.
	Model string
	// Cancel is polled before the network call and after each streamed chunk.
	Cancel *Token
	// OnStatus receives retry-wait notices. Best effort.
	OnStatus StatusFunc
}

// Provider is the uniform three-operation contract every backend adapter
// implements. All operations retry internally per the retry package policy
// and return text already run through the output normalizer with the
// provider's own hint.
type Provider interface {
	// Name returns the provider's stable identifier.
	Name() string

	// Complete performs a single request/response call.
	Complete(ctx context.Context, req *Request) (string, error)

	// Stream performs a streaming text call. onDelta is invoked once per
	// received fragment in arrival order; the return value is the
	// normalized concatenation of all fragments.
	Stream(ctx context.Context, req *Request, onDelta DeltaFunc) (string, error)

	// StreamParts is Stream over an ordered list of text/image parts, for
	// backends that accept attachments.
	StreamParts(ctx context.Context, req *Request, onDelta DeltaFunc) (string, error)
}

// Status reports a transient message through fn if it is set.
func (r *Request) Status(msg string) {
	if r != nil && r.OnStatus != nil {
		r.OnStatus(msg)
	}
}
