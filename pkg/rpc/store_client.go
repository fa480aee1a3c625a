package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lsmrepl/pkg/store"
)

// HTTPStore is a client of the data API. Writes sent to a slave follow the
// redirect to the master.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

type ValueResponse struct {
	Value string `json:"value"`
}

func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 3 * time.Second,
			// 307 keeps method and body
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

func (s *HTTPStore) CreateDatabase(name string, comparators ...string) error {
	body, err := json.Marshal(map[string]interface{}{"name": name, "comparators": comparators})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, s.baseURL+"/api/db", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	// allows the body to be resent after a redirect
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return s.expect(req, http.StatusCreated)
}

func (s *HTTPStore) Databases() ([]store.DatabaseInfo, error) {
	resp, err := s.client.Get(s.baseURL + "/api/db")
	if err != nil {
		return nil, fmt.Errorf("GET failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("GET status=%d body=%s", resp.StatusCode, string(b))
	}
	var dbs []store.DatabaseInfo
	if err := json.NewDecoder(resp.Body).Decode(&dbs); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return dbs, nil
}

func (s *HTTPStore) Put(db string, index int, key, value string) error {
	form := url.Values{}
	form.Set("key", key)
	form.Set("value", value)
	encoded := form.Encode()

	req, err := http.NewRequest(http.MethodPut, s.indexURL(db, index), strings.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(encoded)), nil
	}
	return s.expect(req, http.StatusOK)
}

func (s *HTTPStore) Get(db string, index int, key string) (string, bool, error) {
	resp, err := s.client.Get(s.indexURL(db, index) + "?key=" + url.QueryEscape(key))
	if err != nil {
		return "", false, fmt.Errorf("GET failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", false, fmt.Errorf("GET status=%d body=%s", resp.StatusCode, string(b))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, err
	}
	var vr ValueResponse
	if err := json.Unmarshal(b, &vr); err != nil {
		return "", false, fmt.Errorf("decode: %w body=%s", err, string(b))
	}
	return vr.Value, true, nil
}

// Entry is one result of a scan.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ScanOptions select the entries returned by Entries. Empty bounds are open.
type ScanOptions struct {
	Prefix  string
	From    string
	To      string
	Limit   int
	Reverse bool
}

// Entries runs a prefix or range lookup on one index.
func (s *HTTPStore) Entries(db string, index int, opts ScanOptions) ([]Entry, error) {
	q := url.Values{}
	for name, v := range map[string]string{"prefix": opts.Prefix, "from": opts.From, "to": opts.To} {
		if v != "" {
			q.Set(name, v)
		}
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Reverse {
		q.Set("reverse", "true")
	}

	resp, err := s.client.Get(s.indexURL(db, index) + "/entries?" + q.Encode())
	if err != nil {
		return nil, fmt.Errorf("GET failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("GET status=%d body=%s", resp.StatusCode, string(b))
	}
	var er struct {
		Entries []Entry `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return er.Entries, nil
}

func (s *HTTPStore) Delete(db string, index int, key string) error {
	req, err := http.NewRequest(http.MethodDelete, s.indexURL(db, index)+"?key="+url.QueryEscape(key), nil)
	if err != nil {
		return err
	}
	return s.expect(req, http.StatusOK)
}

func (s *HTTPStore) indexURL(db string, index int) string {
	return s.baseURL + "/api/db/" + url.PathEscape(db) + "/" + strconv.Itoa(index)
}

func (s *HTTPStore) expect(req *http.Request, status int) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s failed: %w", req.Method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != status {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s status=%d body=%s", req.Method, resp.StatusCode, string(b))
	}
	return nil
}
