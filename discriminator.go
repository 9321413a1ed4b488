package saga

import "slices"

// Discriminator decides whether a record has a given shape by looking at
// field presence and values only, without decoding it.
type Discriminator interface {
	Match(v View) bool
}

// MatchFunc adapts a plain function to a Discriminator.
type MatchFunc func(v View) bool

// Match calls f(v).
func (f MatchFunc) Match(v View) bool { return f(v) }

// The wrapper shapes records arrive in, the retries-exhausted notice a
// stream consumer's failure destination receives, and the saga payload.
var (
	IsQueueMessage       = HasFields("messageId", "body")
	IsStreamRecord       = And(HasString("kinesis.data"), HasFields("kinesis.sequenceNumber"))
	IsNotificationRecord = HasFields("Sns")
	IsNotification       = HasFields("Message", "MessageId")
	RedriveNotification  = HasFields("KinesisBatchInfo")
	IsSagaPayload        = FieldEquals("version", Version)
)

// HasFields matches when every path exists. No paths always matches.
func HasFields(paths ...string) Discriminator {
	return MatchFunc(func(v View) bool {
		return !slices.ContainsFunc(paths, func(p string) bool { return !v.HasField(p) })
	})
}

// HasString matches when path holds a JSON string, whatever its value.
func HasString(path string) Discriminator {
	return MatchFunc(func(v View) bool {
		_, ok := v.GetString(path)
		return ok
	})
}

// FieldEquals matches when path holds the string value. Numbers, booleans
// and objects never match, even when their text is equal.
func FieldEquals(path, value string) Discriminator {
	return MatchFunc(func(v View) bool {
		s, ok := v.GetString(path)
		return ok && s == value
	})
}

// And matches when all of ds match.
func And(ds ...Discriminator) Discriminator {
	return MatchFunc(func(v View) bool {
		return !slices.ContainsFunc(ds, func(d Discriminator) bool { return !d.Match(v) })
	})
}
