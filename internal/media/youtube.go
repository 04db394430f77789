// Package media finds the curator's video for a game in the curator's
// YouTube playlist.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/orop-community/orop-server/internal/apperror"
	"github.com/orop-community/orop-server/internal/config"
)

// Video is a playlist entry that mentions a game.
type Video struct {
	URL           string
	PublishedDate string // MM/DD/YYYY
	VideoTitle    string
	Thumbnail     string
	Timestamp     *int // seconds into the video where the game's chapter starts
}

// YouTube searches one playlist through the YouTube Data API v3.
type YouTube struct {
	client     *http.Client
	apiURL     string
	apiKey     string
	playlistID string
	maxPages   int
	logger     *slog.Logger
}

func NewYouTube(cfg config.YouTubeConfig, timeout time.Duration, logger *slog.Logger) *YouTube {
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 50
	}
	return &YouTube{
		client:     &http.Client{Timeout: timeout},
		apiURL:     strings.TrimSuffix(cfg.APIURL, "/"),
		apiKey:     cfg.APIKey,
		playlistID: cfg.PlaylistID,
		maxPages:   maxPages,
		logger:     logger,
	}
}

// Enabled reports whether a playlist and API key are configured.
func (y *YouTube) Enabled() bool {
	return y.apiKey != "" && y.playlistID != ""
}

// Find pages through the playlist and returns the first video whose title or
// description contains title. It returns nil, nil when no video matches.
func (y *YouTube) Find(ctx context.Context, title string) (*Video, error) {
	needle := fold(title)
	if needle == "" {
		return nil, nil
	}

	pageToken := ""
	for page := 0; page < y.maxPages; page++ {
		resp, err := y.playlistPage(ctx, pageToken)
		if err != nil {
			return nil, err
		}
		for _, item := range resp.Items {
			if v := y.match(item, needle); v != nil {
				return v, nil
			}
		}
		if resp.NextPageToken == "" {
			return nil, nil
		}
		pageToken = resp.NextPageToken
	}

	y.logger.Warn("youtube playlist page limit reached",
		slog.String("title", title),
		slog.Int("max_pages", y.maxPages),
	)
	return nil, nil
}

type playlistItemsResponse struct {
	NextPageToken string         `json:"nextPageToken"`
	Items         []playlistItem `json:"items"`
}

type playlistItem struct {
	Snippet struct {
		PublishedAt string `json:"publishedAt"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Thumbnails  struct {
			Medium struct {
				URL string `json:"url"`
			} `json:"medium"`
		} `json:"thumbnails"`
		ResourceID struct {
			VideoID string `json:"videoId"`
		} `json:"resourceId"`
	} `json:"snippet"`
}

func (y *YouTube) playlistPage(ctx context.Context, pageToken string) (*playlistItemsResponse, error) {
	q := url.Values{}
	q.Set("part", "contentDetails,snippet")
	q.Set("playlistId", y.playlistID)
	q.Set("key", y.apiKey)
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.apiURL+"/playlistItems?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("media: building playlist request: %w", err)
	}
	res, err := y.client.Do(req)
	if err != nil {
		return nil, apperror.Upstream("YouTube", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, apperror.Upstream("YouTube", fmt.Errorf("playlistItems returned status %d", res.StatusCode))
	}

	var out playlistItemsResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, apperror.Upstream("YouTube", fmt.Errorf("decoding playlistItems: %w", err))
	}
	return &out, nil
}

func (y *YouTube) match(item playlistItem, needle string) *Video {
	sn := item.Snippet
	title := fold(sn.Title)
	desc := fold(sn.Description)
	if !strings.Contains(title, needle) && !strings.Contains(desc, needle) {
		return nil
	}

	v := &Video{
		VideoTitle: sn.Title,
		Thumbnail:  sn.Thumbnails.Medium.URL,
	}
	if published, err := time.Parse(time.RFC3339, sn.PublishedAt); err == nil {
		v.PublishedDate = published.UTC().Format("01/02/2006")
	}

	link := fmt.Sprintf("https://www.youtube.com/watch?v=%s&list=%s", sn.ResourceID.VideoID, y.playlistID)
	if ts, ok := chapterTimestamp(desc, needle); ok {
		v.Timestamp = &ts
		link += fmt.Sprintf("&t=%ds", ts)
	}
	v.URL = link
	return v
}

var minutesRe = regexp.MustCompile(`[0-9][0-9]:[0-9][0-9]`)

// chapterTimestamp finds the chapter of title in a description laid out as
// "00:00 intro ... title ... 12:34 next". Chapters start after the "00:00"
// marker; the first MM:SS after the title is its start.
func chapterTimestamp(desc, title string) (int, bool) {
	chapters := strings.Split(desc, "00:00")
	if len(chapters) < 2 {
		return 0, false
	}
	afterTitle := strings.Split(chapters[1], title)
	if len(afterTitle) < 2 {
		return 0, false
	}
	mmss := minutesRe.FindString(afterTitle[1])
	if mmss == "" {
		return 0, false
	}
	minutes, _ := strconv.Atoi(mmss[:2])
	seconds, _ := strconv.Atoi(mmss[3:])
	total := minutes*60 + seconds
	return total, total > 0
}

// fold lowercases s and strips accents, so "Café" matches "cafe".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}
