package mentions

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/iwasamnot/campuschat/internal/directory"
	"github.com/iwasamnot/campuschat/internal/models"
	"github.com/iwasamnot/campuschat/internal/notify"
)

type stubDirectory struct {
	users []directory.User
}

func (s *stubDirectory) List(ctx context.Context, limit int) ([]directory.User, error) {
	return s.users, nil
}

func newCache(t *testing.T, users ...directory.User) *directory.Cache {
	t.Helper()
	c := directory.NewCache(&stubDirectory{users: users}, time.Minute, 100)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return c
}

func TestResolve_MatchesDisplayName(t *testing.T) {
	r := NewResolver(newCache(t, directory.User{ID: "u1", Name: "Alice"}))

	got := r.Resolve("@Alice are you free?")
	if len(got) != 1 || got[0] != "u1" {
		t.Fatalf("expected [u1], got %v", got)
	}
}

func TestResolve_CaseInsensitive(t *testing.T) {
	r := NewResolver(newCache(t, directory.User{ID: "u1", Name: "Alice"}))

	got := r.Resolve("hey @alice and @ALICE")
	if len(got) != 1 || got[0] != "u1" {
		t.Fatalf("expected deduplicated [u1], got %v", got)
	}
}

func TestResolve_UnmatchedTokenIgnored(t *testing.T) {
	r := NewResolver(newCache(t, directory.User{ID: "u1", Name: "Alice"}))

	if got := r.Resolve("ping @nobody about lunch"); got != nil {
		t.Fatalf("expected no mentions, got %v", got)
	}
}

func TestResolve_AmbiguousNameIgnored(t *testing.T) {
	r := NewResolver(newCache(t,
		directory.User{ID: "u1", Name: "Sam"},
		directory.User{ID: "u2", Name: "sam"},
	))

	if got := r.Resolve("@sam?"); got != nil {
		t.Fatalf("ambiguous mention should resolve to nothing, got %v", got)
	}
}

func TestResolve_MultipleMentionsInOrder(t *testing.T) {
	r := NewResolver(newCache(t,
		directory.User{ID: "u1", Name: "Alice"},
		directory.User{ID: "u2", Name: "Bob"},
	))

	got := r.Resolve("@Bob then @Alice")
	if len(got) != 2 || got[0] != "u2" || got[1] != "u1" {
		t.Fatalf("expected [u2 u1], got %v", got)
	}
}

func TestNotifyMentions_SkipsAuthor(t *testing.T) {
	var shown []notify.Notification
	n := NewNotifier(notify.FuncSink(func(nn notify.Notification) error {
		shown = append(shown, nn)
		return nil
	}))

	n.NotifyMentions(models.Message{
		ID:                "m1",
		AuthorID:          "u1",
		AuthorDisplayName: "Alice",
		DisplayText:       "@Bob @Alice meeting at 3",
		Mentions:          []string{"u1", "u2"},
	})

	if len(shown) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(shown))
	}
	if !strings.Contains(shown[0].Title, "Alice") {
		t.Errorf("title should name the author, got %q", shown[0].Title)
	}
	if !strings.HasPrefix(shown[0].Tag, "mention:m1:") {
		t.Errorf("unexpected tag %q", shown[0].Tag)
	}
}

func TestNotifyMentions_TruncatesPreview(t *testing.T) {
	var shown []notify.Notification
	n := NewNotifier(notify.FuncSink(func(nn notify.Notification) error {
		shown = append(shown, nn)
		return nil
	}))

	long := strings.Repeat("a", 200)
	n.NotifyMentions(models.Message{
		ID:          "m1",
		AuthorID:    "u1",
		DisplayText: long,
		Mentions:    []string{"u2"},
	})

	if len(shown) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(shown))
	}
	if len(shown[0].Body) > PreviewLength+len("…") {
		t.Errorf("preview not truncated: %d bytes", len(shown[0].Body))
	}
}
