package recording

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", config.SampleRate)
	}
	if config.Channels != 1 {
		t.Errorf("Channels = %d, want 1", config.Channels)
	}
	if config.Format != "s16" {
		t.Errorf("Format = %q, want s16", config.Format)
	}
	if config.ChannelBufferSize != 30 {
		t.Errorf("ChannelBufferSize = %d, want 30", config.ChannelBufferSize)
	}
}

func TestNewDefaultRecorder(t *testing.T) {
	recorder := NewDefaultRecorder()
	if recorder.IsRecording() {
		t.Error("recorder should not be recording initially")
	}
	if recorder.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", recorder.Dropped())
	}
	if err := recorder.Stop(); err != nil {
		t.Errorf("Stop() on idle recorder = %v, want nil", err)
	}
}

func TestRecorderValidateConfig(t *testing.T) {
	valid := DefaultConfig()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid default config", func(*Config) {}, false},
		{"invalid sample rate", func(c *Config) { c.SampleRate = 0 }, true},
		{"negative sample rate", func(c *Config) { c.SampleRate = -1 }, true},
		{"invalid channels", func(c *Config) { c.Channels = 0 }, true},
		{"invalid buffer size", func(c *Config) { c.BufferSize = 0 }, true},
		{"invalid channel buffer size", func(c *Config) { c.ChannelBufferSize = 0 }, true},
		{"empty format", func(c *Config) { c.Format = "" }, true},
		{"float format", func(c *Config) { c.Format = "f32" }, true},
		{"unaligned buffer size", func(c *Config) { c.BufferSize = 8193 }, false},
		{"stereo", func(c *Config) { c.Channels = 2; c.SampleRate = 48000 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := NewRecorder(cfg, nil).validateConfig()
			if (err != nil) != tt.wantErr {
				t.Errorf("validateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRecorderBuildPwRecordArgs(t *testing.T) {
	cfg := DefaultConfig()
	got := NewRecorder(cfg, nil).buildPwRecordArgs()
	want := []string{"--format", "s16", "--rate", "16000", "--channels", "1", "-"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("args = %v, want %v", got, want)
	}

	cfg.Device = "alsa_input.usb"
	got = NewRecorder(cfg, nil).buildPwRecordArgs()
	if got[len(got)-2] != "--target" || got[len(got)-1] != "alsa_input.usb" {
		t.Errorf("args = %v, want trailing --target alsa_input.usb", got)
	}
}

func TestPCMDecoderCarriesPartialFrames(t *testing.T) {
	d := newPCMDecoder(1)
	data := EncodePCM([]int16{1, -2, 300})

	first := d.decode(data[:3])
	second := d.decode(data[3:])

	got := append(first, second...)
	want := []int16{1, -2, 300}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("decoded = %v, want %v", got, want)
	}
}

func TestPCMDecoderDownmixesStereo(t *testing.T) {
	d := newPCMDecoder(2)
	got := d.decode(EncodePCM([]int16{100, 300, -50, -150}))
	want := []int16{200, -100}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("decoded = %v, want %v", got, want)
	}
}

func TestEncodeDecodePCM(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768}
	if got := DecodePCM(EncodePCM(in)); !reflect.DeepEqual(got, in) {
		t.Errorf("DecodePCM(EncodePCM(x)) = %v, want %v", got, in)
	}
}

func writeTestWAV(t *testing.T, sampleRate, channels int, data []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}

func TestFileSourceEmitsAllSamples(t *testing.T) {
	const rate = 8000
	data := make([]int, rate/2) // 500ms
	for i := range data {
		data[i] = i % 100
	}
	path := writeTestWAV(t, rate, 1, data)

	src, err := OpenFile(FileConfig{Path: path, FrameDuration: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if src.SampleRate() != rate {
		t.Errorf("SampleRate() = %d, want %d", src.SampleRate(), rate)
	}

	frames, errs, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var total, count int
	for f := range frames {
		count++
		total += len(f.Samples)
		if len(f.Samples) > rate/10 {
			t.Errorf("frame has %d samples, want <= %d", len(f.Samples), rate/10)
		}
	}
	if err := <-errs; err != nil {
		t.Fatalf("source error = %v", err)
	}
	src.Wait()

	if total != len(data) {
		t.Errorf("total samples = %d, want %d", total, len(data))
	}
	if count != 5 {
		t.Errorf("frames = %d, want 5", count)
	}
}

func TestOpenFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	if err := os.WriteFile(path, []byte("definitely not riff"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFile(FileConfig{Path: path}); err == nil {
		t.Error("OpenFile() should reject a non-wav file")
	}
}

func TestDownmix(t *testing.T) {
	tests := []struct {
		name     string
		data     []int
		channels int
		bitDepth int
		want     []int16
	}{
		{"mono 16", []int{1, -1}, 1, 16, []int16{1, -1}},
		{"stereo 16", []int{10, 20, -10, -30}, 2, 16, []int16{15, -20}},
		{"mono 24", []int{256, -512}, 1, 24, []int16{1, -2}},
		{"mono 8 unsigned", []int{128, 129}, 1, 8, []int16{0, 256}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := downmix(tt.data, tt.channels, tt.bitDepth)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("downmix() = %v, want %v", got, tt.want)
			}
		})
	}
}
