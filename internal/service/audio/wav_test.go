package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func TestFormat_BytesFor(t *testing.T) {
	f := DefaultFormat()

	tests := []struct {
		d    time.Duration
		want int
	}{
		{100 * time.Millisecond, 3200},
		{time.Second, 32000},
		{0, 0},
		{31 * time.Microsecond, 0},
	}
	for _, tt := range tests {
		if got := f.BytesFor(tt.d); got != tt.want {
			t.Errorf("BytesFor(%v) = %d, want %d", tt.d, got, tt.want)
		}
	}
}

func TestFormat_Validate(t *testing.T) {
	tests := []struct {
		name    string
		f       Format
		wantErr bool
	}{
		{"default", DefaultFormat(), false},
		{"stereo 24-bit", Format{SampleRate: 48000, Channels: 2, BitsPerSample: 24}, false},
		{"zero rate", Format{Channels: 1, BitsPerSample: 16}, true},
		{"odd bits", Format{SampleRate: 16000, Channels: 1, BitsPerSample: 12}, true},
		{"no channels", Format{SampleRate: 16000, BitsPerSample: 16}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.f.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncodeWAV_Header(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6}
	data, err := EncodeWAV(DefaultFormat(), pcm)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}

	if len(data) != 44+len(pcm) {
		t.Fatalf("length = %d, want %d", len(data), 44+len(pcm))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" || string(data[36:40]) != "data" {
		t.Errorf("bad magic in header: %q", data[:44])
	}
	if got := binary.LittleEndian.Uint32(data[4:8]); got != uint32(36+len(pcm)) {
		t.Errorf("chunk size = %d, want %d", got, 36+len(pcm))
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(data[28:32]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint32(data[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
	if !bytes.Equal(data[44:], pcm) {
		t.Errorf("payload = %v, want %v", data[44:], pcm)
	}
}

func TestReadWAVHeader_RoundTrip(t *testing.T) {
	want := Format{SampleRate: 8000, Channels: 2, BitsPerSample: 16}
	data, err := EncodeWAV(want, make([]byte, 40))
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}

	r := bytes.NewReader(data)
	got, size, err := ReadWAVHeader(r)
	if err != nil {
		t.Fatalf("ReadWAVHeader: %v", err)
	}
	if got != want {
		t.Errorf("format = %+v, want %+v", got, want)
	}
	if size != 40 {
		t.Errorf("data size = %d, want 40", size)
	}
	if r.Len() != 40 {
		t.Errorf("reader left %d bytes, want 40", r.Len())
	}
}

func TestReadWAVHeader_Rejects(t *testing.T) {
	data, _ := EncodeWAV(DefaultFormat(), nil)

	notWAV := append([]byte(nil), data...)
	copy(notWAV[0:4], "RIFX")
	if _, _, err := ReadWAVHeader(bytes.NewReader(notWAV)); !errors.Is(err, ErrNotWAV) {
		t.Errorf("error = %v, want ErrNotWAV", err)
	}

	compressed := append([]byte(nil), data...)
	binary.LittleEndian.PutUint16(compressed[20:22], 3)
	if _, _, err := ReadWAVHeader(bytes.NewReader(compressed)); !errors.Is(err, ErrNotPCM) {
		t.Errorf("error = %v, want ErrNotPCM", err)
	}

	if _, _, err := ReadWAVHeader(bytes.NewReader(data[:10])); err == nil {
		t.Error("expected error for truncated header")
	}
}
