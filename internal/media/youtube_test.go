package media

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/orop-community/orop-server/internal/apperror"
	"github.com/orop-community/orop-server/internal/config"
	"github.com/orop-community/orop-server/internal/logger"
)

func item(videoID, title, desc string) map[string]any {
	return map[string]any{
		"snippet": map[string]any{
			"publishedAt": "2023-03-05T18:00:00Z",
			"title":       title,
			"description": desc,
			"thumbnails":  map[string]any{"medium": map[string]any{"url": "https://i.ytimg.com/" + videoID + ".jpg"}},
			"resourceId":  map[string]any{"videoId": videoID},
		},
	}
}

// newPlaylistServer serves pages in order, following pageToken=1, 2, ...
func newPlaylistServer(t *testing.T, pages ...[]map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/playlistItems" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("key") != "test-key" || r.URL.Query().Get("playlistId") != "PL1" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		page := 0
		if tok := r.URL.Query().Get("pageToken"); tok != "" {
			page = int(tok[0] - '0')
		}
		body := map[string]any{"items": pages[page]}
		if page+1 < len(pages) {
			body["nextPageToken"] = string(rune('0' + page + 1))
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestYouTube(apiURL string) *YouTube {
	return NewYouTube(config.YouTubeConfig{
		APIURL:     apiURL,
		APIKey:     "test-key",
		PlaylistID: "PL1",
		MaxPages:   5,
	}, 2*time.Second, logger.Discard())
}

func TestFind_MatchOnSecondPageWithChapter(t *testing.T) {
	srv := newPlaylistServer(t,
		[]map[string]any{item("v1", "OROP #1", "00:00 Intro\n01:10 Azul\n05:00 Outro")},
		[]map[string]any{item("v2", "OROP #2", "00:00 Intro\n02:30 Catan\n07:45 Brass\n10:00 Outro")},
	)
	y := newTestYouTube(srv.URL)

	v, err := y.Find(context.Background(), "brass")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if v == nil {
		t.Fatal("Find() = nil, want a video")
	}
	if v.Timestamp == nil || *v.Timestamp != 600 {
		t.Errorf("Timestamp = %v, want 600 (the chapter after the title)", v.Timestamp)
	}
	if v.URL != "https://www.youtube.com/watch?v=v2&list=PL1&t=600s" {
		t.Errorf("URL = %s", v.URL)
	}
	if v.PublishedDate != "03/05/2023" {
		t.Errorf("PublishedDate = %s, want 03/05/2023", v.PublishedDate)
	}
	if v.VideoTitle != "OROP #2" || v.Thumbnail != "https://i.ytimg.com/v2.jpg" {
		t.Errorf("got %+v", v)
	}
}

func TestFind_AccentsAndCase(t *testing.T) {
	srv := newPlaylistServer(t,
		[]map[string]any{item("v1", "Les Aventuriers du Rail et Café", "no chapters here")},
	)
	y := newTestYouTube(srv.URL)

	v, err := y.Find(context.Background(), "cafe")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if v == nil {
		t.Fatal("Find() = nil, want accent-insensitive match")
	}
	if v.Timestamp != nil {
		t.Errorf("Timestamp = %d, want none without chapters", *v.Timestamp)
	}
	if v.URL != "https://www.youtube.com/watch?v=v1&list=PL1" {
		t.Errorf("URL = %s", v.URL)
	}
}

func TestFind_NoMatch(t *testing.T) {
	srv := newPlaylistServer(t, []map[string]any{item("v1", "OROP #1", "00:00 Intro")})
	y := newTestYouTube(srv.URL)

	v, err := y.Find(context.Background(), "brass")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if v != nil {
		t.Errorf("Find() = %+v, want nil", v)
	}
}

func TestFind_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	y := newTestYouTube(srv.URL)

	_, err := y.Find(context.Background(), "brass")
	if !errors.Is(err, apperror.ErrUpstream) {
		t.Errorf("Find() error = %v, want ErrUpstream", err)
	}
}

func TestChapterTimestamp(t *testing.T) {
	tests := []struct {
		name   string
		desc   string
		title  string
		want   int
		wantOK bool
	}{
		{"chapter after title", "00:00 intro 03:15 catan 08:20 azul", "catan", 500, true},
		{"no 00:00 marker", "03:15 catan 08:20 azul", "catan", 0, false},
		{"title not in chapters", "00:00 intro 03:15 azul", "catan", 0, false},
		{"no time after title", "00:00 intro catan", "catan", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := chapterTimestamp(tt.desc, tt.title)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("chapterTimestamp() = %d, %v, want %d, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
