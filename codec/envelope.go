package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrFingerprintMismatch = errors.New("message fingerprint mismatch")

	fingerprints sync.Map // reflect.Type -> Fingerprint
)

// Fingerprint is the content-addressed identity of a Go type: a truncated
// SHA-256 over the canonical structural signature of the type. Two nodes
// built from identical type definitions produce identical fingerprints, which
// is what makes an envelope routable across the wire without carrying the
// type itself.
type Fingerprint [16]byte

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Message is the envelope every mailbox and every wire link carries: the
// fingerprint of the payload type and the encoded payload. The payload is
// decoded only by a receiver that expects that exact fingerprint.
type Message struct {
	Fingerprint Fingerprint
	Payload     []byte
}

// NewMessage encodes the value into an envelope stamped with the fingerprint
// of its dynamic type.
func NewMessage(value any) (*Message, error) {
	if value == nil {
		return nil, errors.New("cannot encode nil message")
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return nil, errors.Wrap(err, "encode message")
	}
	return &Message{
		Fingerprint: FingerprintOfType(reflect.TypeOf(value)),
		Payload:     buf.Bytes(),
	}, nil
}

// Decode produces the typed payload. It is defined only when the envelope's
// fingerprint equals the fingerprint of T; any other envelope yields
// ErrFingerprintMismatch without touching the payload.
func Decode[T any](m *Message) (T, error) {
	var value T
	if m.Fingerprint != FingerprintOf[T]() {
		return value, ErrFingerprintMismatch
	}
	if err := gob.NewDecoder(bytes.NewReader(m.Payload)).Decode(&value); err != nil {
		return value, errors.Wrap(err, "decode message")
	}
	return value, nil
}

// Matches reports whether the envelope carries a payload of type T.
func Matches[T any](m *Message) bool {
	return m.Fingerprint == FingerprintOf[T]()
}

func FingerprintOf[T any]() Fingerprint {
	return FingerprintOfType(reflect.TypeOf((*T)(nil)).Elem())
}

func FingerprintOfType(t reflect.Type) Fingerprint {
	if f, ok := fingerprints.Load(t); ok {
		return f.(Fingerprint)
	}
	var b strings.Builder
	writeSignature(&b, t, map[reflect.Type]bool{})
	sum := sha256.Sum256([]byte(b.String()))
	var f Fingerprint
	copy(f[:], sum[:])
	fingerprints.Store(t, f)
	return f
}

// writeSignature renders the canonical structural signature of a type. Named
// types are rendered as their qualified name followed by their expansion the
// first time they occur, which keeps the signature finite for recursive
// types and deterministic across builds.
func writeSignature(b *strings.Builder, t reflect.Type, seen map[reflect.Type]bool) {
	if name := t.Name(); name != "" && t.PkgPath() != "" {
		b.WriteString(t.PkgPath())
		b.WriteByte('.')
		b.WriteString(name)
		if seen[t] {
			return
		}
		seen[t] = true
		b.WriteByte('=')
	}

	switch t.Kind() {
	case reflect.Pointer:
		b.WriteByte('*')
		writeSignature(b, t.Elem(), seen)
	case reflect.Slice:
		b.WriteString("[]")
		writeSignature(b, t.Elem(), seen)
	case reflect.Array:
		fmt.Fprintf(b, "[%d]", t.Len())
		writeSignature(b, t.Elem(), seen)
	case reflect.Map:
		b.WriteString("map[")
		writeSignature(b, t.Key(), seen)
		b.WriteByte(']')
		writeSignature(b, t.Elem(), seen)
	case reflect.Struct:
		b.WriteString("struct{")
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if i > 0 {
				b.WriteByte(';')
			}
			b.WriteString(field.Name)
			b.WriteByte(' ')
			writeSignature(b, field.Type, seen)
		}
		b.WriteByte('}')
	case reflect.Interface:
		b.WriteString("interface{")
		methods := make([]string, 0, t.NumMethod())
		for i := 0; i < t.NumMethod(); i++ {
			methods = append(methods, t.Method(i).Name)
		}
		sort.Strings(methods)
		b.WriteString(strings.Join(methods, ";"))
		b.WriteByte('}')
	default:
		b.WriteString(t.Kind().String())
	}
}
