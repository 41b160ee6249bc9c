package categorizer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
)

// Category is one entry of the classification taxonomy: a display name plus
// the keyword set the rule stage matches against. Representative optionally
// overrides the text used to precompute the category's embedding.
type Category struct {
	Name           string   `json:"name"`
	Keywords       []string `json:"keywords"`
	Representative string   `json:"representative,omitempty"`
}

// Model is the static classifier state, loaded once at startup and shared
// read-only across worker-pool tasks.
type Model struct {
	Categories []Category `json:"categories"`
}

// representativeText returns the text embedded for a category: either the
// explicit representative or the name plus keywords.
func (c Category) representativeText() string {
	if c.Representative != "" {
		return c.Representative
	}
	return c.Name + " " + strings.Join(c.Keywords, " ")
}

// LoadModel reads a model definition from a local path or a gs:// URI.
func LoadModel(ctx context.Context, uri string) (*Model, error) {
	var data []byte
	var err error
	if strings.HasPrefix(uri, "gs://") {
		data, err = downloadFromGCS(ctx, uri)
	} else {
		data, err = os.ReadFile(uri)
	}
	if err != nil {
		return nil, fmt.Errorf("LoadModel: reading %s: %w", uri, err)
	}

	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("LoadModel: parsing %s: %w", uri, err)
	}
	if len(m.Categories) == 0 {
		return nil, fmt.Errorf("LoadModel: %s defines no categories", uri)
	}
	return &m, nil
}

// downloadFromGCS fetches the object behind a "gs://bucket/path" URI.
func downloadFromGCS(ctx context.Context, uri string) ([]byte, error) {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return nil, fmt.Errorf("malformed GCS URI %q", uri)
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	defer client.Close()

	r, err := client.Bucket(parts[0]).Object(parts[1]).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read GCS object: %w", err)
	}
	return data, nil
}
