package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/agentic-search/internal/core/domain"
	"github.com/kirillkom/agentic-search/internal/infrastructure/resilience"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// Client stores chunk embeddings in a Qdrant collection with two named
// vectors per point: a dense embedding and a hashed sparse BM25 vector. The
// two searches back the vector and lexical fusion signals.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		executor:   executor,
	}
}

func (c *Client) IndexChunks(ctx context.Context, doc *domain.Document, chunks []string, vectors [][]float32) error {
	if len(chunks) == 0 || len(vectors) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks/vectors mismatch")
	}

	if err := c.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  map[string]any `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	points := make([]point, 0, len(chunks))
	for i := range chunks {
		points = append(points, point{
			ID: uuid.NewString(),
			Vector: map[string]any{
				denseVectorName:  vectors[i],
				sparseVectorName: encodeSparseDocument(chunks[i], doc.Filename),
			},
			Payload: map[string]any{
				"doc_id":      doc.ID,
				"filename":    doc.Filename,
				"category":    doc.Category,
				"subcategory": doc.Subcategory,
				"chunk_index": i,
				"text":        chunks[i],
			},
		})
	}

	reqBody := map[string]any{"points": points}
	path := fmt.Sprintf("/collections/%s/points?wait=true", c.collection)
	return c.call(ctx, http.MethodPut, path, reqBody, nil, "upsert")
}

// Search returns the dense-similarity hits for the query vector.
func (c *Client) Search(ctx context.Context, queryVector []float32, limit int) ([]domain.EvidenceCandidate, error) {
	reqBody := map[string]any{
		"vector": map[string]any{
			"name":   denseVectorName,
			"vector": queryVector,
		},
		"limit":        limit,
		"with_payload": true,
	}

	hits, err := c.searchPoints(ctx, reqBody, "search_dense")
	if err != nil {
		return nil, err
	}
	out := make([]domain.EvidenceCandidate, 0, len(hits))
	for _, h := range hits {
		candidate := h.toCandidate()
		candidate.VectorScore = h.Score
		out = append(out, candidate)
	}
	return out, nil
}

// SearchLexical returns the sparse BM25 hits for the query text.
func (c *Client) SearchLexical(ctx context.Context, queryText string, limit int) ([]domain.EvidenceCandidate, error) {
	sparse := encodeSparseQuery(queryText)
	if len(sparse.Indices) == 0 {
		return nil, nil
	}

	reqBody := map[string]any{
		"vector": map[string]any{
			"name":   sparseVectorName,
			"vector": sparse,
		},
		"limit":        limit,
		"with_payload": true,
	}

	hits, err := c.searchPoints(ctx, reqBody, "search_sparse")
	if err != nil {
		return nil, err
	}
	out := make([]domain.EvidenceCandidate, 0, len(hits))
	for _, h := range hits {
		candidate := h.toCandidate()
		candidate.LexicalScore = h.Score
		out = append(out, candidate)
	}
	return out, nil
}

type scoredPoint struct {
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// toCandidate builds the base candidate; the caller assigns the score to the
// signal the search produced. SourceID is doc_id:chunk_index, stable across
// both searches so fusion deduplicates the same chunk.
func (p scoredPoint) toCandidate() domain.EvidenceCandidate {
	return domain.EvidenceCandidate{
		SourceID: fmt.Sprintf("%s:%s", getStringPayload(p.Payload, "doc_id"), getStringPayload(p.Payload, "chunk_index")),
		Text:     getStringPayload(p.Payload, "text"),
		Origin:   domain.OriginLocal,
	}
}

func (c *Client) searchPoints(ctx context.Context, reqBody map[string]any, operation string) ([]scoredPoint, error) {
	var searchResp struct {
		Result []scoredPoint `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", c.collection)
	if err := c.call(ctx, http.MethodPost, path, reqBody, &searchResp, operation); err != nil {
		return nil, err
	}
	return searchResp.Result, nil
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			denseVectorName: map[string]any{
				"size":     vectorSize,
				"distance": "Cosine",
			},
		},
		"sparse_vectors": map[string]any{
			sparseVectorName: map[string]any{},
		},
	}

	err := c.call(ctx, http.MethodPut, "/collections/"+c.collection, reqBody, nil, "ensure_collection")
	if err != nil {
		// 409 means the collection already exists (depends on version/config).
		var statusErr *qdrantStatusError
		if asQdrantStatus(err, &statusErr) && statusErr.StatusCode == http.StatusConflict {
			c.markCollectionEnsured(vectorSize)
			return nil
		}
		return err
	}
	c.markCollectionEnsured(vectorSize)
	return nil
}

func (c *Client) markCollectionEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}

func (c *Client) call(ctx context.Context, method, path string, payload any, out any, operation string) error {
	if c.executor == nil {
		return c.doJSON(ctx, method, path, payload, out, operation)
	}
	return c.executor.Execute(ctx, "qdrant_"+operation, func(ctx context.Context) error {
		return c.doJSON(ctx, method, path, payload, out, operation)
	}, classifyQdrantError)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &qdrantStatusError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", v)
}
