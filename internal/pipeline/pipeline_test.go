package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sciber-ai/audiosync/internal/model"
)

func TestStagesWithDefaults(t *testing.T) {
	s := Stages{}.WithDefaults()
	ctx := context.Background()

	tr, err := s.Transcriber.Transcribe(ctx, "/x.wav", model.TagBase)
	if err != nil {
		t.Fatalf("Transcribe() failed: %v", err)
	}
	if tr.Text != "" || tr.Duration != 0 {
		t.Errorf("stub transcription = %+v, want empty", tr)
	}

	tl, err := s.Translator.Translate(ctx, "", "ru", TargetLanguage)
	if err != nil {
		t.Fatalf("Translate() failed: %v", err)
	}
	if tl.DetectedSource != "ru" {
		t.Errorf("DetectedSource = %q, want ru", tl.DetectedSource)
	}

	sum, err := s.Summarizer.Summarize(ctx, "")
	if err != nil {
		t.Fatalf("Summarize() failed: %v", err)
	}
	if sum.Summary != "" || len(sum.Highlights) != 0 {
		t.Errorf("stub summary = %+v, want empty", sum)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := s.Transcriber.Transcribe(cancelled, "/x.wav", model.TagBase); err == nil {
		t.Error("Transcribe() should honour a cancelled context")
	}
}

func TestFailed(t *testing.T) {
	if Failed(StageTranscribe, nil) != nil {
		t.Error("Failed(nil) should be nil")
	}

	cause := errors.New("model crashed")
	err := Failed(StageTranscribe, cause)
	if !errors.Is(err, ErrStageFailed) {
		t.Errorf("Failed() = %v, should match ErrStageFailed", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Failed() = %v, should wrap the cause", err)
	}
	if again := Failed(StageTranslate, err); again != err {
		t.Errorf("Failed() rewrapped an existing stage failure: %v", again)
	}
}

func TestParseSummary(t *testing.T) {
	reply := "The talk covers queues.\nIt ends with a demo.\n\nHighlights:\n- durable jobs\n- retries\nnot a bullet\n"
	got := parseSummary(reply)

	if got.Summary != "The talk covers queues.\nIt ends with a demo." {
		t.Errorf("Summary = %q", got.Summary)
	}
	if len(got.Highlights) != 2 || got.Highlights[0] != "durable jobs" || got.Highlights[1] != "retries" {
		t.Errorf("Highlights = %v", got.Highlights)
	}

	plain := parseSummary("Just a paragraph.")
	if plain.Summary != "Just a paragraph." || len(plain.Highlights) != 0 {
		t.Errorf("parseSummary(plain) = %+v", plain)
	}
}

type fakeMessages struct {
	reply  string
	err    error
	prompt string
	calls  int
}

func (f *fakeMessages) New(_ context.Context, body anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.calls++
	if len(body.Messages) > 0 && len(body.Messages[0].Content) > 0 {
		if text := body.Messages[0].Content[0].OfText; text != nil {
			f.prompt = text.Text
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: f.reply}},
	}, nil
}

func testClient(f *fakeMessages) *claudeClient {
	return &claudeClient{messages: f, model: DefaultClaudeModel, maxTokens: 100}
}

func TestClaudeTranslator(t *testing.T) {
	ctx := context.Background()
	fake := &fakeMessages{reply: "  Hello there  "}
	tr := &ClaudeTranslator{client: testClient(fake)}

	out, err := tr.Translate(ctx, "Привет", "ru", "")
	if err != nil {
		t.Fatalf("Translate() failed: %v", err)
	}
	if out.TranslatedText != "Hello there" {
		t.Errorf("TranslatedText = %q", out.TranslatedText)
	}
	if out.DetectedSource != "ru" {
		t.Errorf("DetectedSource = %q", out.DetectedSource)
	}

	if _, err := tr.Translate(ctx, "   ", "ru", "en"); err != nil {
		t.Fatalf("Translate(blank) failed: %v", err)
	}
	if fake.calls != 1 {
		t.Errorf("blank input should not call the API, calls = %d", fake.calls)
	}

	fake.err = errors.New("overloaded")
	_, err = tr.Translate(ctx, "text", "ru", "en")
	if !errors.Is(err, ErrStageFailed) {
		t.Errorf("Translate() error = %v, want stage failure", err)
	}
}

func TestClaudeSummarizer(t *testing.T) {
	fake := &fakeMessages{reply: "Short.\nHighlights:\n- one"}
	s := &ClaudeSummarizer{client: testClient(fake)}

	out, err := s.Summarize(context.Background(), "long text")
	if err != nil {
		t.Fatalf("Summarize() failed: %v", err)
	}
	if out.Summary != "Short." || len(out.Highlights) != 1 {
		t.Errorf("Summarize() = %+v", out)
	}
}

func TestNewClaudeTranslator_RequiresKey(t *testing.T) {
	if _, err := NewClaudeTranslator(ClaudeConfig{}); err == nil {
		t.Error("NewClaudeTranslator() should require an API key")
	}
	if _, err := NewClaudeSummarizer(ClaudeConfig{APIKey: "k"}); err != nil {
		t.Errorf("NewClaudeSummarizer() failed: %v", err)
	}
}

// id3v2 builds a minimal ID3v2.3 tag with a TIT2 frame.
func id3v2(title string) []byte {
	frame := append([]byte{0}, title...)
	size := len(frame)
	b := []byte("ID3")
	b = append(b, 3, 0, 0)
	total := 10 + size
	b = append(b, 0, 0, byte(total>>7)&0x7f, byte(total)&0x7f)
	b = append(b, "TIT2"...)
	b = append(b, byte(size>>24), byte(size>>16), byte(size>>8), byte(size))
	b = append(b, 0, 0)
	return append(b, frame...)
}

func TestProbe(t *testing.T) {
	dir := t.TempDir()

	mp3 := filepath.Join(dir, "song.mp3")
	data := append(id3v2("Hello"), make([]byte, 64)...)
	if err := os.WriteFile(mp3, data, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Probe(mp3)
	if err != nil {
		t.Fatalf("Probe() failed: %v", err)
	}
	if got.ContentType != model.ContentTypeMPEG {
		t.Errorf("ContentType = %q", got.ContentType)
	}
	if got.FileType != "MP3" {
		t.Errorf("FileType = %q, want MP3", got.FileType)
	}
	if got.Title != "Hello" {
		t.Errorf("Title = %q, want Hello", got.Title)
	}

	wav := filepath.Join(dir, "talk.WAV")
	if err := os.WriteFile(wav, []byte("RIFF....WAVEfmt "), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = Probe(wav)
	if err != nil {
		t.Fatalf("Probe() failed: %v", err)
	}
	if got.ContentType != model.ContentTypeWAV {
		t.Errorf("ContentType = %q, want %q", got.ContentType, model.ContentTypeWAV)
	}

	if _, err := Probe(filepath.Join(dir, "missing.mp3")); err == nil {
		t.Error("Probe() should fail for a missing file")
	}
}
