package saga

import (
	"errors"

	"github.com/tidwall/gjson"
)

// ErrInvalidJSON is returned when the input is not valid JSON.
var ErrInvalidJSON = errors.New("invalid JSON")

// Inspector turns a record body into a View the router and the extractor
// can query before deciding how to decode it.
type Inspector interface {
	Inspect(raw []byte) (View, error)
}

// View answers field queries on one record. Paths use gjson syntax, so
// "kinesis.sequenceNumber" reaches into nested objects.
type View interface {
	HasField(path string) bool

	// GetString reports the value at path when it is a JSON string.
	GetString(path string) (string, bool)

	// GetBytes reports the raw JSON text at path, quotes included.
	GetBytes(path string) ([]byte, bool)
}

// JSONInspector is the default Inspector. It validates once and parses
// lazily on each query.
func JSONInspector() Inspector {
	return jsonInspector{}
}

type jsonInspector struct{}

func (jsonInspector) Inspect(raw []byte) (View, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrInvalidJSON
	}
	return jsonView{res: gjson.ParseBytes(raw)}, nil
}

// jsonView wraps an already parsed gjson value, so nested envelopes can be
// matched without re-serializing them.
type jsonView struct {
	res gjson.Result
}

func viewOf(res gjson.Result) View {
	return jsonView{res: res}
}

func (v jsonView) HasField(path string) bool {
	return v.res.Get(path).Exists()
}

func (v jsonView) GetString(path string) (string, bool) {
	r := v.res.Get(path)
	if !r.Exists() || r.Type != gjson.String {
		return "", false
	}
	return r.Str, true
}

func (v jsonView) GetBytes(path string) ([]byte, bool) {
	r := v.res.Get(path)
	if !r.Exists() {
		return nil, false
	}
	return []byte(r.Raw), true
}
