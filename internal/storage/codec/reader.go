package codec

import (
	"fmt"
	"time"
)

// Reader extracts typed fields from a normalized document. The first failure
// is kept and reported by Err; later reads return zero values.
type Reader struct {
	doc Document
	err error
}

func NewReader(doc Document) *Reader {
	return &Reader{doc: doc}
}

func (r *Reader) Err() error { return r.err }

func (r *Reader) fail(key, want string, got any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: field %q: want %s, got %T", ErrMalformed, key, want, got)
	}
}

func (r *Reader) raw(key string, required bool) (any, bool) {
	if r.err != nil {
		return nil, false
	}
	v, ok := r.doc[key]
	if !ok || v == nil {
		if required {
			r.fail(key, "a value", nil)
		}
		return nil, false
	}
	return v, true
}

// String reads a required string.
func (r *Reader) String(key string) string {
	v, ok := r.raw(key, true)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.fail(key, "string", v)
	}
	return s
}

// OptString reads an optional string, returning "" when absent.
func (r *Reader) OptString(key string) string {
	v, ok := r.raw(key, false)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.fail(key, "string", v)
	}
	return s
}

// OptStringPtr reads an optional string, returning nil when absent.
func (r *Reader) OptStringPtr(key string) *string {
	v, ok := r.raw(key, false)
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		r.fail(key, "string", v)
		return nil
	}
	return &s
}

// Int reads a required integer.
func (r *Reader) Int(key string) int64 {
	v, ok := r.raw(key, true)
	if !ok {
		return 0
	}
	n, ok := v.(int64)
	if !ok {
		r.fail(key, "int64", v)
	}
	return n
}

// Time reads required epoch milliseconds. Zero decodes to the zero time.
func (r *Reader) Time(key string) time.Time {
	return millisToTime(r.Int(key))
}

// OptTime reads optional epoch milliseconds.
func (r *Reader) OptTime(key string) time.Time {
	v, ok := r.raw(key, false)
	if !ok {
		return time.Time{}
	}
	n, ok := v.(int64)
	if !ok {
		r.fail(key, "int64", v)
		return time.Time{}
	}
	return millisToTime(n)
}

// Duration reads a duration string; "" decodes to zero.
func (r *Reader) Duration(key string) time.Duration {
	s := r.OptString(key)
	if s == "" || r.err != nil {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		r.fail(key, "duration string", s)
	}
	return d
}

// OptDurationPtr reads an optional duration string, returning nil when absent.
func (r *Reader) OptDurationPtr(key string) *time.Duration {
	s := r.OptStringPtr(key)
	if s == nil {
		return nil
	}
	if *s == "" {
		var zero time.Duration
		return &zero
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		r.fail(key, "duration string", *s)
		return nil
	}
	return &d
}

// Doc reads a required nested document.
func (r *Reader) Doc(key string) Document {
	v, ok := r.raw(key, true)
	if !ok {
		return nil
	}
	d, ok := v.(map[string]any)
	if !ok {
		r.fail(key, "document", v)
	}
	return d
}

// OptDoc reads an optional nested document.
func (r *Reader) OptDoc(key string) (Document, bool) {
	v, ok := r.raw(key, false)
	if !ok {
		return nil, false
	}
	d, ok := v.(map[string]any)
	if !ok {
		r.fail(key, "document", v)
		return nil, false
	}
	return d, true
}

// Strings reads an optional list of strings.
func (r *Reader) Strings(key string) []string {
	v, ok := r.raw(key, false)
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		r.fail(key, "list", v)
		return nil
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		s, ok := e.(string)
		if !ok {
			r.fail(key, "list of strings", e)
			return nil
		}
		out = append(out, s)
	}
	return out
}

// Docs reads an optional list of documents.
func (r *Reader) Docs(key string) []Document {
	v, ok := r.raw(key, false)
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		r.fail(key, "list", v)
		return nil
	}
	out := make([]Document, 0, len(list))
	for _, e := range list {
		d, ok := e.(map[string]any)
		if !ok {
			r.fail(key, "list of documents", e)
			return nil
		}
		out = append(out, d)
	}
	return out
}

// StringMap reads an optional document of string values.
func (r *Reader) StringMap(key string) map[string]string {
	d, ok := r.OptDoc(key)
	out := make(map[string]string, len(d))
	if !ok {
		return out
	}
	for k, v := range d {
		s, ok := v.(string)
		if !ok {
			r.fail(key+"."+k, "string", v)
			return out
		}
		out[k] = s
	}
	return out
}

// Millis converts a time to epoch milliseconds, mapping the zero time to 0.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func millisToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
