package saga

import (
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// maxUnwrapDepth bounds how many wrapper layers Unwrap peels off.
const maxUnwrapDepth = 32

// RawEnvelope is one ingested record reduced to the message id the delivery
// service understands and the innermost body text.
type RawEnvelope struct {
	MessageID string
	Body      string
}

// EnvelopeKind names one of the wrapper shapes the extractor knows.
type EnvelopeKind int

const (
	// EnvelopeUnknown is any value that matches no known wrapper.
	EnvelopeUnknown EnvelopeKind = iota
	// EnvelopeQueueMessage is a queue record: messageId + body.
	EnvelopeQueueMessage
	// EnvelopeStreamRecord is a stream record with base64 data under "kinesis".
	EnvelopeStreamRecord
	// EnvelopeNotificationRecord is a fan-out delivery record wrapping "Sns".
	EnvelopeNotificationRecord
	// EnvelopeNotification is a bare notification: MessageId + Message.
	EnvelopeNotification
)

func (k EnvelopeKind) String() string {
	switch k {
	case EnvelopeQueueMessage:
		return "queue"
	case EnvelopeStreamRecord:
		return "stream"
	case EnvelopeNotificationRecord:
		return "notification-record"
	case EnvelopeNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// envelopeDecoder knows how to recognize one wrapper kind, where its
// message id lives and how to reach the value it wraps.
type envelopeDecoder struct {
	kind   EnvelopeKind
	disc   Discriminator
	idPath string
	inner  func(v gjson.Result, depth int) string
}

// envelopes lists the known wrapper kinds in the order they are tried.
var envelopes []envelopeDecoder

func init() {
	envelopes = []envelopeDecoder{
		{
			kind:   EnvelopeQueueMessage,
			disc:   IsQueueMessage,
			idPath: "messageId",
			inner: func(v gjson.Result, depth int) string {
				return unwrapValue(v.Get("body"), depth)
			},
		},
		{
			kind:   EnvelopeStreamRecord,
			disc:   IsStreamRecord,
			idPath: "kinesis.sequenceNumber",
			inner: func(v gjson.Result, depth int) string {
				return unwrapText(decodeStreamData(v.Get("kinesis.data").String()), depth)
			},
		},
		{
			kind:   EnvelopeNotificationRecord,
			disc:   IsNotificationRecord,
			idPath: "Sns.MessageId",
			inner: func(v gjson.Result, depth int) string {
				return unwrapValue(v.Get("Sns"), depth)
			},
		},
		{
			kind:   EnvelopeNotification,
			disc:   IsNotification,
			idPath: "MessageId",
			inner: func(v gjson.Result, depth int) string {
				return unwrapValue(v.Get("Message"), depth)
			},
		},
	}
}

// Extract turns an ingestion batch from a stream, a queue or a notification
// service into one RawEnvelope per record, in input order. It returns
// ErrInvalidEvent when the batch carries no record list.
func Extract(raw []byte) ([]RawEnvelope, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, ErrInvalidJSON)
	}
	records := gjson.GetBytes(raw, "Records")
	if !records.IsArray() {
		return nil, fmt.Errorf("%w: no Records list", ErrInvalidEvent)
	}

	items := records.Array()
	out := make([]RawEnvelope, 0, len(items))
	for _, rec := range items {
		out = append(out, RawEnvelope{
			MessageID: messageID(rec),
			Body:      unwrapValue(rec, 0),
		})
	}
	return out, nil
}

// Unwrap peels every known wrapper off body and returns the innermost text.
// Bodies that are not wrapped are returned unchanged.
func Unwrap(body string) string {
	return unwrapText(body, 0)
}

// KindOf reports which wrapper kind raw is, if any.
func KindOf(raw []byte) EnvelopeKind {
	if !gjson.ValidBytes(raw) {
		return EnvelopeUnknown
	}
	if dec, ok := matchEnvelope(gjson.ParseBytes(raw)); ok {
		return dec.kind
	}
	return EnvelopeUnknown
}

// messageID returns the id of the outermost wrapper only.
func messageID(rec gjson.Result) string {
	dec, ok := matchEnvelope(rec)
	if !ok {
		return ""
	}
	return rec.Get(dec.idPath).String()
}

func matchEnvelope(v gjson.Result) (envelopeDecoder, bool) {
	if !v.IsObject() {
		return envelopeDecoder{}, false
	}
	view := viewOf(v)
	for _, dec := range envelopes {
		if dec.disc.Match(view) {
			return dec, true
		}
	}
	return envelopeDecoder{}, false
}

func unwrapValue(v gjson.Result, depth int) string {
	if v.Type == gjson.String {
		return unwrapText(v.Str, depth)
	}
	if depth >= maxUnwrapDepth {
		return v.Raw
	}
	if dec, ok := matchEnvelope(v); ok {
		return dec.inner(v, depth+1)
	}
	return v.Raw
}

// unwrapText is the base case: text that is not a known wrapper object is
// the body itself.
func unwrapText(s string, depth int) string {
	if depth >= maxUnwrapDepth || !gjson.Valid(s) {
		return s
	}
	v := gjson.Parse(s)
	dec, ok := matchEnvelope(v)
	if !ok {
		return s
	}
	return dec.inner(v, depth+1)
}

// decodeStreamData returns the decoded record data when it is valid UTF-8
// text, and the base64 string untouched otherwise.
func decodeStreamData(data string) string {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil || !utf8.Valid(decoded) {
		return data
	}
	return string(decoded)
}
