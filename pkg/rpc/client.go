package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/valyala/bytebufferpool"

	"lsmrepl/pkg/logentry"
	"lsmrepl/pkg/replication"
	"lsmrepl/pkg/types"
)

const contentTypeJSON = "application/json"

// Client calls the replication operations of one participant over HTTP.
type Client struct {
	addr    string
	baseURL string
	client  *http.Client
}

func NewClient(addr string, client *http.Client) *Client {
	return &Client{
		addr:    addr,
		baseURL: "http://" + strings.TrimRight(addr, "/"),
		client:  client,
	}
}

func (c *Client) Address() string {
	return c.addr
}

func (c *Client) State(ctx context.Context) (types.LSN, error) {
	var resp replication.StateResponse
	if err := c.call(ctx, http.MethodGet, "/replication/state", nil, &resp); err != nil {
		return types.LSN{}, err
	}
	return resp.LSN, nil
}

func (c *Client) Heartbeat(ctx context.Context, lsn types.LSN, port int) (types.LSN, error) {
	var resp replication.HeartbeatResponse
	req := replication.HeartbeatRequest{LSN: lsn, Port: port}
	if err := c.call(ctx, http.MethodPost, "/replication/heartbeat", req, &resp); err != nil {
		return types.LSN{}, err
	}
	return resp.LSN, nil
}

// Replica reads the streamed frames into pooled buffers.
func (c *Client) Replica(ctx context.Context, r types.Range) ([]*bytebufferpool.ByteBuffer, error) {
	resp, err := c.do(ctx, http.MethodPost, "/replication/replica", replication.ReplicaRequest{Range: r})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out []*bytebufferpool.ByteBuffer
	for {
		buf := bytebufferpool.Get()
		err := logentry.ReadFrame(resp.Body, buf)
		if errors.Is(err, io.EOF) {
			bytebufferpool.Put(buf)
			return out, nil
		}
		if err != nil {
			bytebufferpool.Put(buf)
			logentry.Release(out)
			return nil, c.bodyError(ctx, err)
		}
		out = append(out, buf)
	}
}

func (c *Client) Load(ctx context.Context, lsn types.LSN) ([]types.FileMetaData, error) {
	var resp replication.LoadResponse
	if err := c.call(ctx, http.MethodPost, "/replication/load", replication.LoadRequest{LSN: lsn}, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

func (c *Client) Chunk(ctx context.Context, ch types.Chunk) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodPost, "/replication/chunk", replication.ChunkRequest{Chunk: ch})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	compressed, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.bodyError(ctx, err)
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %s: %v", replication.ErrDecode, ch, err)
	}
	return data, nil
}

// Participants returns the accounting of a master.
func (c *Client) Participants(ctx context.Context) ([]replication.ParticipantState, error) {
	var resp replication.ParticipantsResponse
	if err := c.call(ctx, http.MethodGet, "/replication/participants", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Participants, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, dst interface{}) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return c.bodyError(ctx, err)
	}
	return nil
}

// do sends the request and turns every non-200 answer into an error.
func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", path, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		code := replication.CodeUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			code = replication.CodeTimeout
		}
		return nil, replication.ConnectionLost(code, fmt.Errorf("%s %s: %w", method, path, err))
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, statusError(c.addr, path, resp)
}

// bodyError classifies a failure while reading a response body.
func (c *Client) bodyError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return replication.ConnectionLost(replication.CodeTimeout, err)
	}
	var se *json.SyntaxError
	var te *json.UnmarshalTypeError
	if errors.As(err, &se) || errors.As(err, &te) || errors.Is(err, logentry.ErrMalformed) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", replication.ErrDecode, err)
	}
	return replication.ConnectionLost(replication.CodeUnavailable, err)
}

func statusError(addr, path string, resp *http.Response) error {
	var er struct {
		Error string `json:"error"`
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(b, &er) != nil || er.Error == "" {
		er.Error = strings.TrimSpace(string(b))
	}
	err := fmt.Errorf("%s%s: status=%d: %s", addr, path, resp.StatusCode, er.Error)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %v", replication.ErrAuthFailed, err)
	case http.StatusGone:
		return fmt.Errorf("%w: %v", replication.ErrFileUnavailable, err)
	case http.StatusRequestedRangeNotSatisfiable:
		return fmt.Errorf("%w: %v", replication.ErrRangeUnavailable, err)
	case http.StatusMisdirectedRequest:
		return replication.ConnectionLost(replication.CodeUnavailable, fmt.Errorf("%w: %v", replication.ErrNotMaster, err))
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return replication.ConnectionLost(replication.CodeBusy, err)
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return replication.ConnectionLost(replication.CodeTimeout, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return replication.ConnectionLost(replication.CodeServer, err)
	}
	return err
}

// Factory hands out one client per participant, sharing the HTTP client.
type Factory struct {
	client *http.Client

	mu      sync.Mutex
	clients map[string]*Client
}

func NewFactory(timeout time.Duration) *Factory {
	return &Factory{
		client:  &http.Client{Timeout: timeout},
		clients: make(map[string]*Client),
	}
}

func (f *Factory) Client(addr string) replication.MasterClient {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.clients[addr]
	if !ok {
		c = NewClient(addr, f.client)
		f.clients[addr] = c
	}
	return c
}
