// Package tagging implements the Tagger contract: derive a hierarchical tag
// set for a node's content, biased toward reusing names already present in
// the ontology.
package tagging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MycelicMemory/htm/internal/errs"
	"github.com/MycelicMemory/htm/internal/logging"
	"github.com/MycelicMemory/htm/internal/store"
	"github.com/MycelicMemory/htm/pkg/config"
)

var log = logging.GetLogger("tagging")

const (
	maxTagsDefault  = 8
	maxDepthDefault = 5
)

// Client is a thin HTTP-backed Tagger for providers exposing an
// Ollama-style "/api/generate" chat endpoint, prompted to return a JSON
// array of hierarchical tag names.
type Client struct {
	baseURL    string
	model      string
	maxTags    int
	maxDepth   int
	httpClient *http.Client
}

// NewClient builds a Client from cfg.
func NewClient(baseURL string, cfg config.TaggingConfig) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	maxTags := cfg.MaxTags
	if maxTags <= 0 || maxTags > maxTagsDefault {
		maxTags = maxTagsDefault
	}
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 || maxDepth > maxDepthDefault {
		maxDepth = maxDepthDefault
	}
	return &Client{
		baseURL:  baseURL,
		model:    cfg.Model,
		maxTags:  maxTags,
		maxDepth: maxDepth,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// ExtractTags implements the Tagger contract. Invalid candidates returned
// by the provider are silently dropped rather than raised, per spec: a
// malformed suggestion must not block enrichment.
func (c *Client) ExtractTags(ctx context.Context, text string, existingOntology []string) ([]string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: buildPrompt(text, existingOntology, c.maxTags, c.maxDepth),
		Stream: false,
	})
	if err != nil {
		return nil, errs.Internal("marshal tag request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, errs.Internal("build tag request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.ServiceUnavailable("tag request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			return nil, errs.ServiceUnavailable("tag provider returned %d: %s", resp.StatusCode, string(raw))
		}
		return nil, errs.Validation("tag provider returned %d: %s", resp.StatusCode, string(raw))
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errs.Internal("decode tag response", err)
	}

	raw := parseCandidates(parsed.Response)
	return Normalize(raw, existingOntology, c.maxTags, c.maxDepth), nil
}

func buildPrompt(text string, existingOntology []string, maxTags, maxDepth int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Extract up to %d hierarchical tags for the note below.\n", maxTags)
	fmt.Fprintf(&b, "Each tag is lowercase, colon-separated, at most %d levels deep (e.g. \"database:postgresql\").\n", maxDepth)
	if len(existingOntology) > 0 {
		fmt.Fprintf(&b, "Prefer reusing one of these existing tags over inventing a synonym: %s\n", strings.Join(existingOntology, ", "))
	}
	b.WriteString("Respond with a JSON array of strings and nothing else.\n\n")
	b.WriteString(text)
	return b.String()
}

// parseCandidates extracts tag-like strings from the provider's raw
// response. The reference provider is asked for a JSON array; if it
// ignores the instruction, fall back to splitting on commas/newlines so a
// slightly malformed response still yields candidates instead of zero.
func parseCandidates(response string) []string {
	var asArray []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &asArray); err == nil {
		return asArray
	}

	fields := strings.FieldsFunc(response, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	})
	candidates := make([]string, 0, len(fields))
	for _, f := range fields {
		candidates = append(candidates, strings.TrimSpace(f))
	}
	return candidates
}

// Normalize applies the tag-service contract to raw candidates: lowercase
// and singularize each segment, drop anything not matching the tag
// pattern or deeper than maxDepth, deduplicate, and truncate to maxTags.
// existingOntology is consulted to keep a raw candidate's casing/synonym
// choice only insofar as log.Debug wants to note a reuse; the actual
// provider-side bias lives in the prompt, not here.
func Normalize(raw []string, existingOntology []string, maxTags, maxDepth int) []string {
	ontologySet := make(map[string]struct{}, len(existingOntology))
	for _, t := range existingOntology {
		ontologySet[t] = struct{}{}
	}

	seen := make(map[string]struct{})
	var out []string
	for _, candidate := range raw {
		name := normalizeTagName(candidate)
		if name == "" || !store.ValidTagName(name) {
			continue
		}
		if store.TagDepth(name) > maxDepth {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if _, reused := ontologySet[name]; reused {
			log.Debug("reusing existing tag", "tag", name)
		}
		out = append(out, name)
		if len(out) >= maxTags {
			break
		}
	}
	return out
}

// normalizeTagName lowercases, trims decoration, and singularizes each
// colon-separated segment of a raw candidate tag.
func normalizeTagName(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, "\"'.`")
	if s == "" {
		return ""
	}

	segments := strings.Split(s, ":")
	for i, seg := range segments {
		seg = strings.TrimSpace(seg)
		seg = strings.ReplaceAll(seg, " ", "-")
		segments[i] = singularize(seg)
	}
	return strings.Join(segments, ":")
}

// singularize strips the common English plural endings from a single
// segment. It is intentionally conservative: segments already short or
// ending in a double-s ("access") are left alone.
func singularize(seg string) string {
	switch {
	case strings.HasSuffix(seg, "ies") && len(seg) > 4:
		return seg[:len(seg)-3] + "y"
	case strings.HasSuffix(seg, "ses") && len(seg) > 4:
		return seg[:len(seg)-2]
	case strings.HasSuffix(seg, "s") && !strings.HasSuffix(seg, "ss") && len(seg) > 3:
		return seg[:len(seg)-1]
	default:
		return seg
	}
}
