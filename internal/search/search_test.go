package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/chatd/internal/history"
)

type fakeSource struct {
	transcripts []history.Transcript
	err         error
	calls       int
}

func (f *fakeSource) Transcripts(context.Context) ([]history.Transcript, error) {
	f.calls++
	return f.transcripts, f.err
}

func transcript(id, title string, status history.Status, msgs ...string) history.Transcript {
	t := history.Transcript{Session: history.Session{ID: id, Title: title, Status: status}}
	for i, c := range msgs {
		role := history.RoleUser
		if i%2 == 1 {
			role = history.RoleAssistant
		}
		t.Messages = append(t.Messages, history.Message{SessionID: id, Role: role, Content: c})
	}
	return t
}

func TestSearch_EmptyQuery(t *testing.T) {
	src := &fakeSource{}
	r := NewRanker(src, 10)
	for _, q := range []string{"", "   ", "\n"} {
		_, err := r.Search(context.Background(), q, 5)
		require.ErrorIs(t, err, ErrEmptyQuery)
	}
	require.Zero(t, src.calls)
}

func TestSearch_EmptyCorpus(t *testing.T) {
	r := NewRanker(&fakeSource{}, 10)
	got, err := r.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestSearch_SourceError(t *testing.T) {
	boom := errors.New("db gone")
	_, err := NewRanker(&fakeSource{err: boom}, 10).Search(context.Background(), "x", 1)
	require.ErrorIs(t, err, boom)
}

func TestSearch_RanksRelevantFirst(t *testing.T) {
	src := &fakeSource{transcripts: []history.Transcript{
		transcript("cook", "Dinner ideas", history.StatusActive, "How do I bake sourdough bread?", "Start with an active starter."),
		transcript("go", "Go questions", history.StatusEnded, "How do goroutines and channels work?", "Channels connect goroutines."),
		transcript("misc", "", history.StatusActive, "Hello"),
	}}
	got, err := NewRanker(src, 10).Search(context.Background(), "goroutines channels", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)

	require.Equal(t, "go", got[0].ChatID)
	require.Equal(t, "Go questions", got[0].Title)
	require.Equal(t, history.StatusEnded, got[0].Status)
	require.Greater(t, got[0].Score, 0.0)
	require.LessOrEqual(t, got[0].Score, 1.0)
	require.Equal(t, "Channels connect goroutines.", got[0].Snippet)

	require.Zero(t, got[1].Score)
	require.Zero(t, got[2].Score)
	// Zero scores keep corpus order.
	require.Equal(t, "cook", got[1].ChatID)
	require.Equal(t, "misc", got[2].ChatID)
	require.Equal(t, "Session misc", got[2].Title)
}

func TestSearch_KnownScores(t *testing.T) {
	// Both terms appear in two of the three fitted texts, so they share an
	// IDF and the scores reduce to plain geometry.
	src := &fakeSource{transcripts: []history.Transcript{
		{Session: history.Session{ID: "both", Title: "apple banana"}, Messages: []history.Message{{Role: "user", Content: "zz"}}},
		{Session: history.Session{ID: "apple", Title: "apple"}, Messages: []history.Message{{Role: "user", Content: "zz"}}},
	}}
	got, err := NewRanker(src, 10).Search(context.Background(), "banana", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "both", got[0].ChatID)
	require.Greater(t, got[0].Score, 0.0)
	require.Zero(t, got[1].Score)
}

func TestSearch_TiesPreferNewerChat(t *testing.T) {
	src := &fakeSource{transcripts: []history.Transcript{
		transcript("newer", "", history.StatusActive, "kubernetes deployment rollout"),
		transcript("older", "", history.StatusActive, "kubernetes deployment rollout"),
	}}
	got, err := NewRanker(src, 10).Search(context.Background(), "kubernetes", 10)
	require.NoError(t, err)
	require.Equal(t, "newer", got[0].ChatID)
	require.Equal(t, "older", got[1].ChatID)
	require.Equal(t, got[0].Score, got[1].Score)
}

func TestSearch_LimitAndDefault(t *testing.T) {
	var ts []history.Transcript
	for _, id := range []string{"a", "b", "c", "d"} {
		ts = append(ts, transcript(id, "", history.StatusActive, "weather forecast "+id))
	}
	src := &fakeSource{transcripts: ts}

	got, err := NewRanker(src, 3).Search(context.Background(), "weather", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = NewRanker(src, 3).Search(context.Background(), "weather", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
}

func TestSearch_ScoresRoundedToFourPlaces(t *testing.T) {
	src := &fakeSource{transcripts: []history.Transcript{
		transcript("x", "Trip", history.StatusActive, "Plan a trip to Lisbon in spring with museums and food"),
	}}
	got, err := NewRanker(src, 10).Search(context.Background(), "Lisbon food", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, round4(got[0].Score), got[0].Score)
}

func TestFitTransform_Geometry(t *testing.T) {
	vecs := fitTransform([]string{"apple banana", "apple", "banana"})
	require.InDelta(t, 0.7071, cosine(vecs[2], vecs[0]), 1e-4)
	require.Zero(t, cosine(vecs[2], vecs[1]))
	require.InDelta(t, 1.0, cosine(vecs[0], vecs[0]), 1e-9)
}

func TestTokenize_DropsStopWordsAndShortTokens(t *testing.T) {
	require.Equal(t, []string{"quick", "brown", "fox", "jumps", "café", "42"},
		tokenize("The quick brown fox jumps over a café; 42 x"))
}

func TestDocument(t *testing.T) {
	tr := transcript("s1", "Title", history.StatusActive, "hi", "hello")
	require.Equal(t, "Title\nuser: hi\nassistant: hello", Document(tr))

	tr.Session.Title = ""
	require.Equal(t, "user: hi\nassistant: hello", Document(tr))
}

func TestSnippet(t *testing.T) {
	long := strings.Repeat("a", 200)
	got := Snippet(long)
	require.Len(t, got, 160)
	require.True(t, strings.HasSuffix(got, "..."))

	short := strings.Repeat("b", 50)
	require.Equal(t, short, Snippet(short))

	exact := strings.Repeat("c", 160)
	require.Equal(t, exact, Snippet(exact))

	spaced := strings.Repeat("d", 150) + "       " + strings.Repeat("e", 50)
	require.Equal(t, strings.Repeat("d", 150)+"...", Snippet(spaced))
}
