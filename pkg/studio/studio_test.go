package studio

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/imanolz/songstudio/pkg/oracle"
	"github.com/imanolz/songstudio/pkg/release"
	"github.com/imanolz/songstudio/pkg/song"
	"github.com/imanolz/songstudio/pkg/songwriter"
)

type fakeOracle struct {
	json    string
	jsonErr error
	img     []byte
	imgErr  error
	prompts []string

	// When set, GenerateJSON signals started and blocks until gate closes.
	started chan struct{}
	gate    chan struct{}
}

func (f *fakeOracle) Chat(ctx context.Context, system string, history []oracle.Message) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeOracle) Complete(ctx context.Context, prompt string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeOracle) GenerateJSON(ctx context.Context, prompt string, out any) error {
	f.prompts = append(f.prompts, prompt)
	if f.started != nil {
		f.started <- struct{}{}
		<-f.gate
	}
	if f.jsonErr != nil {
		return f.jsonErr
	}
	return json.Unmarshal([]byte(f.json), out)
}

func (f *fakeOracle) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	f.prompts = append(f.prompts, prompt)
	return f.img, f.imgErr
}

type fakePublisher struct {
	sub release.Submission
	err error
}

func (f *fakePublisher) Publish(ctx context.Context, sub release.Submission) error {
	f.sub = sub
	return f.err
}

func docJSON(title string) string {
	doc := &song.Song{
		Title: title,
		Parts: []song.Part{
			{Label: "Verse 1", Lines: []string{"first line", "second line"}},
			{Label: "Chorus", Lines: []string{"the hook"}},
		},
	}
	b, _ := json.Marshal(doc)
	return string(b)
}

func newSession(f *fakeOracle, pub Publisher) *Session {
	return New(&Config{
		Writer:    songwriter.New(&songwriter.Config{Oracle: f}),
		Oracle:    f,
		Publisher: pub,
	})
}

var params = songwriter.Params{Theme: "night trains", Genre: "Folk", Mood: "Wistful"}

func TestGenerate(t *testing.T) {
	f := &fakeOracle{json: docJSON("Night Trains")}
	s := newSession(f, nil)

	if s.State() != Empty {
		t.Fatalf("State() = %v, want %v", s.State(), Empty)
	}
	doc, err := s.Generate(context.Background(), params)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if doc.Title != "Night Trains" {
		t.Errorf("Title = %q", doc.Title)
	}
	if s.State() != Ready {
		t.Errorf("State() = %v, want %v", s.State(), Ready)
	}
	if !s.Current().Equal(s.Original()) {
		t.Error("current and original differ after generation")
	}
	turns := s.Transcript()
	if len(turns) != 1 || turns[0].Role != oracle.Assistant || !strings.Contains(turns[0].Text, "came up with") {
		t.Errorf("Transcript() = %+v", turns)
	}
	if got := s.ActionLabel(params); got != LabelRegenerate {
		t.Errorf("ActionLabel(same) = %q, want %q", got, LabelRegenerate)
	}
	other := params
	other.Mood = "Joyful"
	if got := s.ActionLabel(other); got != LabelGenerateNew {
		t.Errorf("ActionLabel(other) = %q, want %q", got, LabelGenerateNew)
	}
}

func TestGenerateFailureKeepsDocument(t *testing.T) {
	f := &fakeOracle{json: docJSON("First")}
	s := newSession(f, nil)
	if _, err := s.Generate(context.Background(), params); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	before := s.Current()

	f.jsonErr = errors.New("quota")
	if _, err := s.Generate(context.Background(), params); err == nil {
		t.Fatal("Generate() error = nil, want failure")
	}
	if s.State() != Ready {
		t.Errorf("State() = %v, want %v", s.State(), Ready)
	}
	if !s.Current().Equal(before) {
		t.Error("failed generation mutated the document")
	}
}

// Entering a generation clears the edit transcript, cover and submitted flag
// even when the generation itself fails; only the documents are kept.
func TestGenerateEntryClearsArtifacts(t *testing.T) {
	f := &fakeOracle{json: docJSON("First"), img: []byte{1, 2}}
	pub := &fakePublisher{}
	s := newSession(f, pub)
	ctx := context.Background()
	if _, err := s.Generate(ctx, params); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	f.json = docJSON("Edited")
	if _, err := s.Edit(ctx, "rename it"); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if _, err := s.GenerateCover(ctx, ""); err != nil {
		t.Fatalf("GenerateCover() error = %v", err)
	}
	if err := s.Submit(ctx, "Ada", "ada@example.com"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	f.jsonErr = errors.New("quota")
	if _, err := s.Generate(ctx, params); err == nil {
		t.Fatal("Generate() error = nil, want failure")
	}
	if turns := s.Transcript(); len(turns) != 0 {
		t.Errorf("Transcript() = %+v, want empty", turns)
	}
	if s.Cover() != nil {
		t.Error("cover art survived the generation entry")
	}
	if s.Submitted() {
		t.Error("submitted flag survived the generation entry")
	}
	if got := s.Current().Title; got != "Edited" {
		t.Errorf("Title = %q, want %q", got, "Edited")
	}
}

func TestGenerateReplacesEverything(t *testing.T) {
	f := &fakeOracle{json: docJSON("First"), img: []byte{1, 2, 3}}
	pub := &fakePublisher{}
	s := newSession(f, pub)
	ctx := context.Background()
	if _, err := s.Generate(ctx, params); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, err := s.GenerateCover(ctx, ""); err != nil {
		t.Fatalf("GenerateCover() error = %v", err)
	}
	if err := s.Submit(ctx, "Ada", "ada@example.com"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	f.json = docJSON("Second")
	if _, err := s.Generate(ctx, params); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if s.Cover() != nil {
		t.Error("cover survived regeneration")
	}
	if s.Submitted() {
		t.Error("submitted flag survived regeneration")
	}
	if got := s.Current().Title; got != "Second" {
		t.Errorf("Title = %q", got)
	}
}

func TestEdit(t *testing.T) {
	f := &fakeOracle{json: docJSON("Original")}
	s := newSession(f, nil)
	ctx := context.Background()
	if _, err := s.Generate(ctx, params); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	f.json = docJSON("Edited")
	doc, err := s.Edit(ctx, "rename it")
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if doc.Title != "Edited" {
		t.Errorf("Title = %q", doc.Title)
	}
	if got := s.Original().Title; got != "Original" {
		t.Errorf("Original().Title = %q", got)
	}
	if !s.HasDiverged() {
		t.Error("HasDiverged() = false after edit")
	}
	turns := s.Transcript()
	if len(turns) != 3 {
		t.Fatalf("Transcript() = %+v", turns)
	}
	if turns[1].Role != oracle.User || turns[1].Text != "rename it" {
		t.Errorf("turns[1] = %+v", turns[1])
	}
	if turns[2].Role != oracle.Assistant || turns[2].Text != "How's this?" {
		t.Errorf("turns[2] = %+v", turns[2])
	}
}

func TestEditFailureAtomic(t *testing.T) {
	f := &fakeOracle{json: docJSON("Original")}
	s := newSession(f, nil)
	ctx := context.Background()
	if _, err := s.Generate(ctx, params); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	before := s.Current()

	f.jsonErr = errors.New("down")
	if _, err := s.Edit(ctx, "try something"); err == nil {
		t.Fatal("Edit() error = nil, want failure")
	}
	if !s.Current().Equal(before) {
		t.Error("failed edit mutated the document")
	}
	if s.State() != Ready {
		t.Errorf("State() = %v, want %v", s.State(), Ready)
	}
	turns := s.Transcript()
	if len(turns) != 3 {
		t.Fatalf("Transcript() = %+v", turns)
	}
	if !strings.Contains(turns[2].Text, "rephrasing") {
		t.Errorf("turns[2] = %+v", turns[2])
	}
	if s.HasDiverged() {
		t.Error("HasDiverged() = true after failed edit")
	}
}

func TestEditWithoutSong(t *testing.T) {
	s := newSession(&fakeOracle{}, nil)
	if _, err := s.Edit(context.Background(), "x"); !errors.Is(err, ErrState) {
		t.Errorf("Edit() error = %v, want ErrState", err)
	}
}

func TestBusy(t *testing.T) {
	f := &fakeOracle{
		json:    docJSON("Slow"),
		started: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	s := newSession(f, nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := s.Generate(ctx, params)
		done <- err
	}()
	<-f.started

	if s.State() != Generating {
		t.Errorf("State() = %v, want %v", s.State(), Generating)
	}
	if _, err := s.Generate(ctx, params); !errors.Is(err, ErrBusy) {
		t.Errorf("Generate() while busy: error = %v, want ErrBusy", err)
	}
	if _, err := s.Edit(ctx, "x"); !errors.Is(err, ErrBusy) {
		t.Errorf("Edit() while busy: error = %v, want ErrBusy", err)
	}
	if _, err := s.Revert(); !errors.Is(err, ErrBusy) {
		t.Errorf("Revert() while busy: error = %v, want ErrBusy", err)
	}
	valid := &song.Song{Parts: []song.Part{{Label: "Verse", Lines: []string{"a"}}, {Label: "Chorus", Lines: []string{"b"}}}}
	if err := s.Import(valid); !errors.Is(err, ErrBusy) {
		t.Errorf("Import() while busy: error = %v, want ErrBusy", err)
	}

	close(f.gate)
	if err := <-done; err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if s.State() != Ready {
		t.Errorf("State() = %v, want %v", s.State(), Ready)
	}
}

func TestRevert(t *testing.T) {
	f := &fakeOracle{json: docJSON("Original")}
	s := newSession(f, nil)
	ctx := context.Background()
	if _, err := s.Generate(ctx, params); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, err := s.Revert(); !errors.Is(err, ErrState) {
		t.Errorf("Revert() before divergence: error = %v, want ErrState", err)
	}

	f.json = docJSON("Edited")
	if _, err := s.Edit(ctx, "rename"); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	doc, err := s.Revert()
	if err != nil {
		t.Fatalf("Revert() error = %v", err)
	}
	if doc.Title != "Original" {
		t.Errorf("Title = %q", doc.Title)
	}
	if s.HasDiverged() {
		t.Error("HasDiverged() = true after revert")
	}
}

func TestDirectEdits(t *testing.T) {
	f := &fakeOracle{json: docJSON("Original")}
	s := newSession(f, nil)
	ctx := context.Background()
	if _, err := s.Generate(ctx, params); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	doc, err := s.SetTitle("Renamed")
	if err != nil {
		t.Fatalf("SetTitle() error = %v", err)
	}
	if doc.Title != "Renamed" {
		t.Errorf("Title = %q", doc.Title)
	}
	doc, err = s.SetPartLines(1, []string{"a new hook"})
	if err != nil {
		t.Fatalf("SetPartLines() error = %v", err)
	}
	if doc.Parts[1].Lines[0] != "a new hook" {
		t.Errorf("Parts[1] = %+v", doc.Parts[1])
	}
	if _, err := s.SetPartLines(9, nil); !errors.Is(err, song.ErrPartIndex) {
		t.Errorf("SetPartLines(9) error = %v, want ErrPartIndex", err)
	}
	if len(s.Transcript()) != 1 {
		t.Errorf("direct edits touched the transcript: %+v", s.Transcript())
	}
	if got := s.Original().Title; got != "Original" {
		t.Errorf("direct edits touched the original: %q", got)
	}
	if !s.HasDiverged() {
		t.Error("HasDiverged() = false after direct edits")
	}
}

func TestImport(t *testing.T) {
	s := newSession(&fakeOracle{}, nil)
	doc := &song.Song{
		Title: "From Chat",
		Parts: []song.Part{{Label: "Verse", Lines: []string{"hello"}}, {Label: "Chorus", Lines: []string{"again"}}},
	}
	if err := s.Import(doc); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if s.State() != Ready {
		t.Errorf("State() = %v, want %v", s.State(), Ready)
	}
	turns := s.Transcript()
	if len(turns) != 1 || !strings.Contains(turns[0].Text, "from our chat") {
		t.Errorf("Transcript() = %+v", turns)
	}
	if got := s.ActionLabel(params); got != LabelGenerateNew {
		t.Errorf("ActionLabel() after import = %q, want %q", got, LabelGenerateNew)
	}

	// Handoff is a value copy.
	doc.Parts[0].Lines[0] = "mutated"
	if s.Current().Parts[0].Lines[0] != "hello" {
		t.Error("imported song shares memory with caller")
	}
}

func TestImportInvalid(t *testing.T) {
	s := newSession(&fakeOracle{}, nil)
	if err := s.Import(&song.Song{Title: "x"}); !errors.Is(err, songwriter.ErrInvalidSong) {
		t.Errorf("Import() error = %v, want ErrInvalidSong", err)
	}
}

func TestGenerateCover(t *testing.T) {
	f := &fakeOracle{json: docJSON("Night Trains"), img: []byte{0x89, 0x50}}
	s := newSession(f, nil)
	ctx := context.Background()

	if _, err := s.GenerateCover(ctx, ""); !errors.Is(err, ErrNoSong) {
		t.Errorf("GenerateCover() without song: error = %v, want ErrNoSong", err)
	}
	if _, err := s.Generate(ctx, params); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	img, err := s.GenerateCover(ctx, "")
	if err != nil {
		t.Fatalf("GenerateCover() error = %v", err)
	}
	if len(img) != 2 {
		t.Errorf("cover = %v", img)
	}
	prompt := f.prompts[len(f.prompts)-1]
	if !strings.Contains(prompt, `"Night Trains"`) || !strings.Contains(prompt, "Album cover art") {
		t.Errorf("cover prompt = %q", prompt)
	}
	if s.Cover() == nil {
		t.Error("Cover() = nil after generation")
	}

	// A free-text description replaces the title as the theme.
	if _, err := s.GenerateCover(ctx, "a lighthouse in a storm, oil on canvas"); err != nil {
		t.Fatalf("GenerateCover() error = %v", err)
	}
	prompt = f.prompts[len(f.prompts)-1]
	if !strings.Contains(prompt, `"a lighthouse in a storm, oil on canvas"`) {
		t.Errorf("cover prompt = %q", prompt)
	}
	if strings.Contains(prompt, "Night Trains") {
		t.Errorf("described cover prompt still uses the title: %q", prompt)
	}
}

func TestSubmit(t *testing.T) {
	f := &fakeOracle{json: docJSON("Night Trains"), img: []byte{1}}
	pub := &fakePublisher{}
	s := newSession(f, pub)
	ctx := context.Background()

	if err := s.Submit(ctx, "Ada", "ada@example.com"); !errors.Is(err, ErrNoSong) {
		t.Errorf("Submit() without song: error = %v, want ErrNoSong", err)
	}
	if _, err := s.Generate(ctx, params); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, err := s.GenerateCover(ctx, ""); err != nil {
		t.Fatalf("GenerateCover() error = %v", err)
	}
	if err := s.Submit(ctx, "Ada", "ada@example.com"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !s.Submitted() {
		t.Error("Submitted() = false")
	}
	if pub.sub.Name != "Ada" || pub.sub.Title != "Night Trains" {
		t.Errorf("submission = %+v", pub.sub)
	}
	if want := "[Verse 1]\nfirst line\nsecond line\n\n[Chorus]\nthe hook"; pub.sub.Lyrics != want {
		t.Errorf("Lyrics = %q, want %q", pub.sub.Lyrics, want)
	}
	if len(pub.sub.Cover) != 1 {
		t.Errorf("Cover = %v", pub.sub.Cover)
	}
}

func TestSubmitFailure(t *testing.T) {
	f := &fakeOracle{json: docJSON("x")}
	pub := &fakePublisher{err: errors.New("endpoint down")}
	s := newSession(f, pub)
	ctx := context.Background()
	if _, err := s.Generate(ctx, params); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if err := s.Submit(ctx, "Ada", "a@b.c"); err == nil {
		t.Fatal("Submit() error = nil")
	}
	if s.Submitted() {
		t.Error("Submitted() = true after failed submission")
	}
}
