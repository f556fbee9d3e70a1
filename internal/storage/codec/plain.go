package codec

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	timeType     = reflect.TypeFor[time.Time]()
	durationType = reflect.TypeFor[time.Duration]()
	uuidType     = reflect.TypeFor[uuid.UUID]()
)

// PlainAdapter encodes simple value structs field by field. Exported fields
// are stored under their `doc` tag name (or the field name); `doc:"-"`
// skips a field and `omitempty` drops zero values. Supported leaves are
// strings, integers, booleans, floats (as strings), time.Time (epoch
// millis), time.Duration (duration string) and uuid.UUID; nested structs,
// pointers, slices and string-keyed maps recurse. A value that refers back
// to itself fails with ErrCircularReference.
type PlainAdapter struct{}

func (PlainAdapter) CanHandle(t reflect.Type) bool {
	if t == nil {
		return false
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct && t != timeType
}

func (PlainAdapter) Serialize(v any) (Document, error) {
	rv := reflect.ValueOf(v)
	e := &plainEncoder{}
	out, err := e.encode(rv)
	if err != nil {
		return nil, err
	}
	doc, ok := out.(Document)
	if !ok {
		return nil, fmt.Errorf("%w: %T does not encode to a document", ErrUnsupported, v)
	}
	return doc, nil
}

func (PlainAdapter) Deserialize(doc Document, t reflect.Type) (any, error) {
	if t.Kind() == reflect.Pointer {
		ptr := reflect.New(t.Elem())
		if err := decodeInto(doc, ptr.Elem()); err != nil {
			return nil, err
		}
		return ptr.Interface(), nil
	}
	out := reflect.New(t).Elem()
	if err := decodeInto(doc, out); err != nil {
		return nil, err
	}
	return out.Interface(), nil
}

type visit struct {
	ptr uintptr
	typ reflect.Type
}

type plainEncoder struct {
	path map[visit]bool
}

// enter marks a reference as being on the current encoding path.
func (e *plainEncoder) enter(rv reflect.Value) (func(), error) {
	if e.path == nil {
		e.path = make(map[visit]bool)
	}
	key := visit{ptr: rv.Pointer(), typ: rv.Type()}
	if e.path[key] {
		return nil, fmt.Errorf("%w through %v", ErrCircularReference, rv.Type())
	}
	e.path[key] = true
	return func() { delete(e.path, key) }, nil
}

func (e *plainEncoder) encode(rv reflect.Value) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}
	switch rv.Type() {
	case timeType:
		return Millis(rv.Interface().(time.Time)), nil
	case durationType:
		return time.Duration(rv.Int()).String(), nil
	case uuidType:
		return rv.Interface().(uuid.UUID).String(), nil
	}

	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		leave, err := e.enter(rv)
		if err != nil {
			return nil, err
		}
		defer leave()
		return e.encode(rv.Elem())
	case reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return e.encode(rv.Elem())
	case reflect.Struct:
		return e.encodeStruct(rv)
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return NormalizeValue(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, rv.Type().Bits()), nil
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Len() > 0 {
			leave, err := e.enter(rv)
			if err != nil {
				return nil, err
			}
			defer leave()
		}
		return e.encodeList(rv)
	case reflect.Array:
		return e.encodeList(rv)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map key %v", ErrUnsupported, rv.Type().Key())
		}
		if rv.IsNil() {
			return nil, nil
		}
		leave, err := e.enter(rv)
		if err != nil {
			return nil, err
		}
		defer leave()
		out := make(Document, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			v, err := e.encode(iter.Value())
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnsupported, rv.Type())
}

func (e *plainEncoder) encodeList(rv reflect.Value) (any, error) {
	out := make([]any, rv.Len())
	for i := range rv.Len() {
		v, err := e.encode(rv.Index(i))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *plainEncoder) encodeStruct(rv reflect.Value) (any, error) {
	out := Document{}
	for _, f := range fieldsOf(rv.Type()) {
		fv := rv.FieldByIndex(f.index)
		if f.omitEmpty && fv.IsZero() {
			continue
		}
		v, err := e.encode(fv)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.name, err)
		}
		out[f.name] = v
	}
	return out, nil
}

type plainField struct {
	name      string
	index     []int
	omitEmpty bool
}

func fieldsOf(t reflect.Type) []plainField {
	var out []plainField
	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("doc")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = sf.Name
		}
		out = append(out, plainField{name: name, index: sf.Index, omitEmpty: opts == "omitempty"})
	}
	return out
}

func decodeInto(v any, rv reflect.Value) error {
	if v == nil {
		rv.SetZero()
		return nil
	}
	switch rv.Type() {
	case timeType:
		ms, ok := v.(int64)
		if !ok {
			return mismatch(v, rv)
		}
		rv.Set(reflect.ValueOf(millisToTime(ms)))
		return nil
	case durationType:
		s, ok := v.(string)
		if !ok {
			return mismatch(v, rv)
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		rv.SetInt(int64(d))
		return nil
	case uuidType:
		s, ok := v.(string)
		if !ok {
			return mismatch(v, rv)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		rv.Set(reflect.ValueOf(id))
		return nil
	}

	switch rv.Kind() {
	case reflect.Pointer:
		ptr := reflect.New(rv.Type().Elem())
		if err := decodeInto(v, ptr.Elem()); err != nil {
			return err
		}
		rv.Set(ptr)
		return nil
	case reflect.Interface:
		val := reflect.ValueOf(v)
		if !val.Type().AssignableTo(rv.Type()) {
			return mismatch(v, rv)
		}
		rv.Set(val)
		return nil
	case reflect.Struct:
		doc, ok := v.(map[string]any)
		if !ok {
			return mismatch(v, rv)
		}
		for _, f := range fieldsOf(rv.Type()) {
			if err := decodeInto(doc[f.name], rv.FieldByIndex(f.index)); err != nil {
				return fmt.Errorf("field %s: %w", f.name, err)
			}
		}
		return nil
	case reflect.String:
		s, ok := v.(string)
		if !ok {
			return mismatch(v, rv)
		}
		rv.SetString(s)
		return nil
	case reflect.Bool:
		b, ok := v.(bool)
		if !ok {
			return mismatch(v, rv)
		}
		rv.SetBool(b)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := v.(int64)
		if !ok || rv.OverflowInt(n) {
			return mismatch(v, rv)
		}
		rv.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, ok := v.(int64)
		if !ok || n < 0 || rv.OverflowUint(uint64(n)) {
			return mismatch(v, rv)
		}
		rv.SetUint(uint64(n))
		return nil
	case reflect.Float32, reflect.Float64:
		s, ok := v.(string)
		if !ok {
			return mismatch(v, rv)
		}
		f, err := strconv.ParseFloat(s, rv.Type().Bits())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		rv.SetFloat(f)
		return nil
	case reflect.Slice, reflect.Array:
		list, ok := v.([]any)
		if !ok {
			return mismatch(v, rv)
		}
		if rv.Kind() == reflect.Slice {
			rv.Set(reflect.MakeSlice(rv.Type(), len(list), len(list)))
		} else if len(list) != rv.Len() {
			return mismatch(v, rv)
		}
		for i, e := range list {
			if err := decodeInto(e, rv.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		doc, ok := v.(map[string]any)
		if !ok || rv.Type().Key().Kind() != reflect.String {
			return mismatch(v, rv)
		}
		m := reflect.MakeMapWithSize(rv.Type(), len(doc))
		for k, e := range doc {
			ev := reflect.New(rv.Type().Elem()).Elem()
			if err := decodeInto(e, ev); err != nil {
				return fmt.Errorf("key %s: %w", k, err)
			}
			m.SetMapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()), ev)
		}
		rv.Set(m)
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnsupported, rv.Type())
}

func mismatch(v any, rv reflect.Value) error {
	return fmt.Errorf("%w: cannot decode %T into %v", ErrMalformed, v, rv.Type())
}
