package bytes

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWriteVarBytes(t *testing.T) {
	tests := map[string]struct {
		input []byte
		want  []byte
	}{
		"nil slice": {
			input: nil,
			want:  []byte{0x00, 0x00},
		},
		"empty slice": {
			input: []byte{},
			want:  []byte{0x00, 0x00},
		},
		"arbitrary bytes": {
			input: []byte("parley"),
			want:  []byte{0x00, 0x06, 'p', 'a', 'r', 'l', 'e', 'y'},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			w := NewWriter(0)
			if err := w.WriteVarBytes(tt.input); err != nil {
				t.Fatalf("WriteVarBytes() returned an unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, w.Bytes()); diff != "" {
				t.Errorf("WriteVarBytes() produced the wrong bytes; diff:\n%s", diff)
			}
		})
	}
}

func TestWriteVarBytes_TooLong(t *testing.T) {
	w := NewWriter(0)
	err := w.WriteVarBytes(make([]byte, MaxVarBytesLength+1))
	if !errors.Is(err, ErrMalformedField) {
		t.Fatalf("expected ErrMalformedField, got %v", err)
	}
	if w.Len() != 0 {
		t.Errorf("expected nothing to be written, got %d bytes", w.Len())
	}
}

func TestReadVarBytes(t *testing.T) {
	tests := map[string]struct {
		input   []byte
		want    []byte
		wantErr error
	}{
		"empty field": {
			input: []byte{0x00, 0x00},
			want:  []byte{},
		},
		"field with trailing data": {
			input: []byte{0x00, 0x02, 0xAB, 0xCD, 0xEF},
			want:  []byte{0xAB, 0xCD},
		},
		"missing length": {
			input:   []byte{0x01},
			wantErr: ErrMalformedField,
		},
		"negative length": {
			input:   []byte{0x80, 0x00},
			wantErr: ErrMalformedField,
		},
		"truncated payload": {
			input:   []byte{0x00, 0x05, 0x01, 0x02},
			wantErr: ErrMalformedField,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := NewReader(tt.input).ReadVarBytes()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected error %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadVarBytes() returned an unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ReadVarBytes() returned the wrong bytes; diff:\n%s", diff)
			}
		})
	}
}

func TestReader_Fields(t *testing.T) {
	w := NewWriter(32)
	w.PutUint8(0xFE)
	w.PutInt8(-3)
	w.PutBool(true)
	w.PutUint16(0x1234)
	w.PutUint32(0xDEADBEEF)
	w.PutInt64(-42)
	if err := w.WriteString("héllo"); err != nil {
		t.Fatalf("WriteString() returned an unexpected error: %v", err)
	}

	r := NewReader(w.Bytes())
	u8, _ := r.Uint8()
	i8, _ := r.Int8()
	b, _ := r.Bool()
	u16, _ := r.Uint16()
	u32, _ := r.Uint32()
	i64, _ := r.Int64()
	s, err := r.ReadString()
	if err != nil {
		t.Fatalf("ReadString() returned an unexpected error: %v", err)
	}

	if u8 != 0xFE || i8 != -3 || !b || u16 != 0x1234 || u32 != 0xDEADBEEF || i64 != -42 || s != "héllo" {
		t.Errorf("fields did not survive a round trip: %v %v %v %v %v %v %q", u8, i8, b, u16, u32, i64, s)
	}
	if r.Remaining() != 0 {
		t.Errorf("expected reader to be drained, %d bytes remain", r.Remaining())
	}
	if _, err := r.Uint8(); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("expected ErrShortBuffer reading past the end, got %v", err)
	}
}

func TestReadString_InvalidUTF8(t *testing.T) {
	_, err := NewReader([]byte{0x00, 0x02, 0xC3, 0x28}).ReadString()
	if !errors.Is(err, ErrMalformedField) {
		t.Fatalf("expected ErrMalformedField, got %v", err)
	}
}
