// Package mediaserver implements the typed client used by the
// poster pipeline to talk to the Jellyfin REST surface: catalog
// listing, item metadata, poster download/upload, and tag mutation.
package mediaserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aphrodite-project/aphrodite/internal/workflowerr"
)

const (
	requestTimeout = 30 * time.Second
	uploadTimeout  = 60 * time.Second
	// minSpacing enforces a ~100ms floor between outbound requests so
	// the client doesn't overwhelm the media server, implemented with
	// x/time/rate rather than a hand-rolled last-request timestamp.
	minSpacing = 100 * time.Millisecond
)

type Client struct {
	baseURL string
	apiKey  string
	userID  string
	http    *http.Client

	mu      sync.Mutex
	limiter *rate.Limiter
}

func New(baseURL, apiKey, userID string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		userID:  userID,
		http:    &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Every(minSpacing), 1),
	}
}

// throttle blocks until the global rate limiter admits the next
// request. The limiter itself is safe for concurrent use; the mutex
// additionally serializes the wait so batch workers queue in FIFO
// order rather than thundering on Wait's internal reservation.
func (c *Client) throttle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limiter.Wait(ctx)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Emby-Token", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return workflowerr.New(workflowerr.NetworkTransient, "mediaserver."+path, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(path, resp.StatusCode); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func classifyStatus(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 400 || status == 401 || status == 404:
		kind := workflowerr.ItemMissing
		if status == 400 || status == 401 {
			kind = workflowerr.InvalidInput
		}
		return workflowerr.New(kind, op, fmt.Errorf("http %d", status))
	case status >= 500:
		return workflowerr.New(workflowerr.NetworkTransient, op, fmt.Errorf("http %d", status))
	default:
		return fmt.Errorf("%s: unexpected status %d", op, status)
	}
}

// ──────────────────── catalog ────────────────────

type ServerInfo struct {
	ServerName string `json:"ServerName"`
	Version    string `json:"Version"`
	ID         string `json:"Id"`
}

func (c *Client) TestConnection(ctx context.Context) (bool, *ServerInfo, error) {
	var info ServerInfo
	if err := c.doJSON(ctx, http.MethodGet, "/System/Info", nil, &info); err != nil {
		return false, nil, err
	}
	return true, &info, nil
}

type Library struct {
	ID   string `json:"ItemId"`
	Name string `json:"Name"`
	Type string `json:"CollectionType"`
}

func (c *Client) ListLibraries(ctx context.Context) ([]Library, error) {
	var out struct {
		Items []Library `json:"Items"`
	}
	// Jellyfin's VirtualFolders endpoint returns a bare array; some
	// deployments wrap it. Try the bare-array shape first.
	var bare []Library
	path := "/Library/VirtualFolders"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &bare); err == nil && len(bare) > 0 {
		return bare, nil
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

type MediaStream struct {
	Type          string  `json:"Type"`
	Codec         string  `json:"Codec"`
	Profile       string  `json:"Profile"`
	Channels      int     `json:"Channels"`
	ChannelLayout string  `json:"ChannelLayout"`
	Bitrate       int64   `json:"BitRate"`
	SampleRate    int     `json:"SampleRate"`
	BitDepth      int     `json:"BitDepth"`
	Width         int     `json:"Width"`
	Height        int     `json:"Height"`
	IsDefault     bool    `json:"IsDefault"`
	DisplayTitle  string  `json:"DisplayTitle"`
}

type Item struct {
	ID              string        `json:"Id"`
	Name            string        `json:"Name"`
	Type            string        `json:"Type"` // Movie, Series, Episode
	SeriesID        string        `json:"SeriesId,omitempty"`
	Tags            []string      `json:"Tags"`
	MediaStreams    []MediaStream `json:"MediaStreams"`
	ProductionYear  int           `json:"ProductionYear"`
	Overview        string        `json:"Overview"`
	CommunityRating float64       `json:"CommunityRating"`
	OfficialRating  string        `json:"OfficialRating"`
	Genres          []string      `json:"Genres"`
	Studios         []studio      `json:"Studios"`
	ProviderIDs     map[string]string `json:"ProviderIds"`
	LockData        bool          `json:"LockData"`
}

type studio struct {
	Name string `json:"Name"`
}

func (c *Client) ListLibraryItems(ctx context.Context, libraryID string) ([]Item, error) {
	var out struct {
		Items []Item `json:"Items"`
	}
	path := fmt.Sprintf(
		"/Users/%s/Items?ParentId=%s&Recursive=true&Fields=Tags,MediaStreams,MediaSources,ProviderIds,Genres,Overview,ProductionYear,CommunityRating,OfficialRating",
		c.userID, libraryID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) GetItem(ctx context.Context, id string) (*Item, error) {
	var item Item
	path := fmt.Sprintf("/Users/%s/Items/%s?Fields=Tags,MediaStreams,MediaSources,ProviderIds,Genres,Overview,ProductionYear,CommunityRating,OfficialRating", c.userID, id)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &item); err != nil {
		if we, ok := err.(*workflowerr.Error); ok && (we.Kind == workflowerr.ItemMissing || we.Kind == workflowerr.InvalidInput) {
			return nil, workflowerr.New(workflowerr.ItemMissing, "GetItem", err)
		}
		return nil, err
	}
	return &item, nil
}

func (c *Client) GetSeriesEpisodes(ctx context.Context, seriesID string, limit int) ([]Item, error) {
	var out struct {
		Items []Item `json:"Items"`
	}
	path := fmt.Sprintf("/Shows/%s/Episodes?UserId=%s&Fields=MediaStreams&Limit=%d", seriesID, c.userID, limit)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// ──────────────────── poster download/upload ────────────────────

// imageSignatures lists the magic-number prefixes
// verifyImageSignature uses to recognize JPEG/PNG/GIF without a decode.
var imageSignatures = [][]byte{
	{0xFF, 0xD8, 0xFF},             // JPEG
	{0x89, 'P', 'N', 'G'},          // PNG
	{'G', 'I', 'F', '8'},           // GIF
}

func verifyImageSignature(b []byte) bool {
	for _, sig := range imageSignatures {
		if len(b) >= len(sig) && bytes.Equal(b[:len(sig)], sig) {
			return true
		}
	}
	return false
}

func (c *Client) DownloadPoster(ctx context.Context, itemID string) ([]byte, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/Items/"+itemID+"/Images/Primary", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Emby-Token", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, workflowerr.New(workflowerr.NetworkTransient, "DownloadPoster", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, workflowerr.New(workflowerr.PosterMissing, "DownloadPoster", fmt.Errorf("no primary image"))
	}
	if err := classifyStatus("DownloadPoster", resp.StatusCode); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, workflowerr.New(workflowerr.PosterMissing, "DownloadPoster", fmt.Errorf("empty body"))
	}
	return data, nil
}

// UploadPoster uploads the base64-encoded image body Jellyfin requires
// (raw multipart silently fails on some server versions), then
// re-downloads the first 256 bytes to verify a valid image signature
// before declaring success.
func (c *Client) UploadPoster(ctx context.Context, itemID string, data []byte) error {
	uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	if err := c.throttle(uploadCtx); err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	req, err := http.NewRequestWithContext(uploadCtx, http.MethodPost, c.baseURL+"/Items/"+itemID+"/Images/Primary", bytes.NewReader([]byte(encoded)))
	if err != nil {
		return err
	}
	req.Header.Set("X-Emby-Token", c.apiKey)
	req.Header.Set("Content-Type", "image/jpeg; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return workflowerr.New(workflowerr.NetworkTransient, "UploadPoster", err)
	}
	resp.Body.Close()
	if err := classifyStatus("UploadPoster", resp.StatusCode); err != nil {
		return err
	}

	return c.verifyUpload(uploadCtx, itemID)
}

func (c *Client) verifyUpload(ctx context.Context, itemID string) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/Items/"+itemID+"/Images/Primary", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Emby-Token", c.apiKey)
	req.Header.Set("Range", "bytes=0-255")

	resp, err := c.http.Do(req)
	if err != nil {
		return workflowerr.New(workflowerr.NetworkTransient, "verifyUpload", err)
	}
	defer resp.Body.Close()

	head := make([]byte, 256)
	n, _ := io.ReadFull(resp.Body, head)
	if !verifyImageSignature(head[:n]) {
		return workflowerr.New(workflowerr.UploadVerificationFailed, "verifyUpload", fmt.Errorf("non-image body"))
	}
	return nil
}

// ──────────────────── tags ────────────────────

func (c *Client) GetTags(ctx context.Context, itemID string) ([]string, error) {
	item, err := c.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return item.Tags, nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// updatePayload mirrors the essential fields Jellyfin's POST
// /Items/{id} requires to be echoed back — an update that omits them
// corrupts the item.
type updatePayload struct {
	Name            string            `json:"Name"`
	Tags            []string          `json:"Tags"`
	LockData        bool              `json:"LockData"`
	ProductionYear  int               `json:"ProductionYear"`
	Overview        string            `json:"Overview"`
	Studios         []studio          `json:"Studios"`
	Genres          []string          `json:"Genres"`
	ProviderIDs     map[string]string `json:"ProviderIds"`
	OfficialRating  string            `json:"OfficialRating"`
	CommunityRating float64           `json:"CommunityRating"`
}

func (c *Client) setTags(ctx context.Context, itemID string, tags []string) error {
	item, err := c.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	payload := updatePayload{
		Name: item.Name, Tags: tags, LockData: item.LockData,
		ProductionYear: item.ProductionYear, Overview: item.Overview,
		Studios: item.Studios, Genres: item.Genres,
		ProviderIDs: item.ProviderIDs, OfficialRating: item.OfficialRating,
		CommunityRating: item.CommunityRating,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := c.doJSON(ctx, http.MethodPost, "/Items/"+itemID, bytes.NewReader(body), nil); err != nil {
		return workflowerr.New(workflowerr.TagUpdateFailed, "setTags", err)
	}
	return nil
}

// AddTag is idempotent: adding an already-present tag returns without
// posting an update.
func (c *Client) AddTag(ctx context.Context, itemID, tag string) error {
	item, err := c.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if contains(item.Tags, tag) {
		return nil
	}
	return c.setTags(ctx, itemID, append(append([]string{}, item.Tags...), tag))
}

func (c *Client) RemoveTag(ctx context.Context, itemID, tag string) error {
	item, err := c.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if !contains(item.Tags, tag) {
		return nil
	}
	kept := make([]string, 0, len(item.Tags))
	for _, t := range item.Tags {
		if t != tag {
			kept = append(kept, t)
		}
	}
	return c.setTags(ctx, itemID, kept)
}
