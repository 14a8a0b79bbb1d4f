package fetch

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp-forge/tome/pkg/document"
	"github.com/hashicorp-forge/tome/pkg/hooks"
	"github.com/hashicorp-forge/tome/pkg/media"
	"github.com/hashicorp-forge/tome/pkg/request"
	"github.com/hashicorp-forge/tome/pkg/resource"
	"github.com/hashicorp-forge/tome/pkg/storage"
	"github.com/hashicorp-forge/tome/pkg/storage/memstore"
	"github.com/hashicorp-forge/tome/pkg/versioning"
)

func boolPtr(b bool) *bool { return &b }

func versionedConfig() *Config {
	return &Config{
		BaseURL:          testBaseURL,
		ConditionalMatch: true,
		Resources: map[string]*resource.Definition{
			"notes": {
				Hateoas:    true,
				Pagination: true,
				Versioning: true,
				Schema: map[string]resource.FieldDefinition{
					"title":   {Type: "string"},
					"body":    {Type: "string"},
					"created": {Type: "string", Versioned: boolPtr(false)},
					"author":  {Relation: &resource.Relation{Resource: "people", Embeddable: true}},
				},
			},
			"people": {
				Hateoas: true,
				Schema: map[string]resource.FieldDefinition{
					"name": {Type: "string"},
				},
			},
		},
	}
}

// seedVersioned stores a latest document at version 3 plus the three deltas
// its history synthesizes from.
func seedVersioned(base time.Time) *memstore.Store {
	s := memstore.New()

	latest := document.New("n1", map[string]any{
		"title":   "third title",
		"body":    "third body",
		"created": "by import",
	})
	latest.Version = 3
	latest.Created = base
	latest.Updated = base.Add(2 * time.Hour)
	s.Insert("notes", latest)

	for v, fields := range map[int]map[string]any{
		1: {"title": "first title"},
		2: {"title": "second title", "body": "second body"},
		3: {"title": "third title", "body": "third body"},
	} {
		delta := document.New("", fields)
		delta.Fields[versioning.DocumentRefField] = "n1"
		delta.Version = v
		delta.Updated = base.Add(time.Duration(v-1) * time.Hour)
		s.Insert("notes_versions", delta)
	}
	return s
}

func TestItem(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("returns the enriched latest document", func(t *testing.T) {
		e := newTestEngine(t, versionedConfig(), seedVersioned(base), nil)

		resp, err := e.Item(ctx, "notes", nil, storage.Lookup{"_id": "n1"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Len(t, resp.ETag, 40)
		require.NotNil(t, resp.LastModified)
		assert.True(t, resp.LastModified.Equal(base.Add(2*time.Hour)))

		doc, ok := resp.Body.(*document.Document)
		require.True(t, ok)
		assert.Equal(t, "third title", doc.Fields["title"])
		assert.Equal(t, 3, doc.Version)
		assert.Equal(t, 3, doc.LatestVersion)

		assert.Equal(t, testBaseURL+"/notes/n1", doc.Links["self"].Href)
		assert.Equal(t, testBaseURL+"/notes", doc.Links["collection"].Href)
		assert.Equal(t, testBaseURL, doc.Links["parent"].Href)
	})

	t.Run("missing document is 404", func(t *testing.T) {
		e := newTestEngine(t, versionedConfig(), seedVersioned(base), nil)

		resp, err := e.Item(ctx, "notes", nil, storage.Lookup{"_id": "ghost"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.Status)
		assert.Nil(t, resp.Body)
	})

	t.Run("matching if-none-match is 304 with validators", func(t *testing.T) {
		e := newTestEngine(t, versionedConfig(), seedVersioned(base), nil)

		first, err := e.Item(ctx, "notes", nil, storage.Lookup{"_id": "n1"})
		require.NoError(t, err)
		require.NotEmpty(t, first.ETag)

		resp, err := e.Item(ctx, "notes", &request.Request{IfNoneMatch: first.ETag}, storage.Lookup{"_id": "n1"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotModified, resp.Status)
		assert.Nil(t, resp.Body)
		assert.Equal(t, first.ETag, resp.ETag)
		assert.NotNil(t, resp.LastModified)
	})

	t.Run("stale if-none-match returns the document", func(t *testing.T) {
		e := newTestEngine(t, versionedConfig(), seedVersioned(base), nil)

		resp, err := e.Item(ctx, "notes", &request.Request{IfNoneMatch: "stale"}, storage.Lookup{"_id": "n1"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Status)
	})

	t.Run("if-modified-since at the modification instant is 304", func(t *testing.T) {
		e := newTestEngine(t, versionedConfig(), seedVersioned(base), nil)

		ims := base.Add(2 * time.Hour)
		resp, err := e.Item(ctx, "notes", &request.Request{IfModifiedSince: &ims}, storage.Lookup{"_id": "n1"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotModified, resp.Status)
	})

	t.Run("if-modified-since before the modification returns the document", func(t *testing.T) {
		e := newTestEngine(t, versionedConfig(), seedVersioned(base), nil)

		ims := base
		resp, err := e.Item(ctx, "notes", &request.Request{IfModifiedSince: &ims}, storage.Lookup{"_id": "n1"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Status)
	})

	t.Run("fetch hook observes the returned item", func(t *testing.T) {
		reg := hooks.NewRegistry()
		var gotID string
		reg.OnFetchItem("notes", func(res, id string, doc *document.Document) {
			gotID = id
			doc.Fields["flagged"] = true
		})
		e := newTestEngine(t, versionedConfig(), seedVersioned(base), reg)

		resp, err := e.Item(ctx, "notes", nil, storage.Lookup{"_id": "n1"})
		require.NoError(t, err)
		assert.Equal(t, "n1", gotID)
		assert.Equal(t, true, resp.Body.(*document.Document).Fields["flagged"])
	})
}

func TestItemVersions(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("specific version is synthesized from its delta", func(t *testing.T) {
		e := newTestEngine(t, versionedConfig(), seedVersioned(base), nil)

		resp, err := e.Item(ctx, "notes", &request.Request{Version: "1"}, storage.Lookup{"_id": "n1"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Status)

		doc := resp.Body.(*document.Document)
		assert.Equal(t, "first title", doc.Fields["title"])
		assert.NotContains(t, doc.Fields, "body", "field did not exist at version 1")
		assert.Equal(t, "by import", doc.Fields["created"], "non-versioned field inherited from latest")
		assert.Equal(t, 1, doc.Version)
		assert.Equal(t, 3, doc.LatestVersion)
		assert.Len(t, doc.ETag, 40, "historical versions get their own etag")
	})

	t.Run("unknown version is 404", func(t *testing.T) {
		e := newTestEngine(t, versionedConfig(), seedVersioned(base), nil)

		resp, err := e.Item(ctx, "notes", &request.Request{Version: "9"}, storage.Lookup{"_id": "n1"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.Status)
	})

	t.Run("non-positive or non-numeric selectors are client errors", func(t *testing.T) {
		e := newTestEngine(t, versionedConfig(), seedVersioned(base), nil)

		for _, selector := range []string{"0", "-2", "latest", "1.5"} {
			resp, err := e.Item(ctx, "notes", &request.Request{Version: selector}, storage.Lookup{"_id": "n1"})
			require.NoError(t, err, selector)
			assert.Equal(t, http.StatusBadRequest, resp.Status, selector)

			body := resp.Body.(map[string]any)
			errObj := body["_error"].(map[string]any)
			assert.Equal(t, "document version number should be an int greater than 0", errObj["message"])
		}
	})

	t.Run("selector is ignored on unversioned resources", func(t *testing.T) {
		cfg := versionedConfig()
		cfg.Resources["notes"].Versioning = false
		e := newTestEngine(t, cfg, seedVersioned(base), nil)

		resp, err := e.Item(ctx, "notes", &request.Request{Version: "1"}, storage.Lookup{"_id": "n1"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, "third title", resp.Body.(*document.Document).Fields["title"])
	})

	t.Run("all versions come back as an enveloped sequence", func(t *testing.T) {
		reg := hooks.NewRegistry()
		fired := false
		reg.OnFetchItem("notes", func(string, string, *document.Document) { fired = true })
		e := newTestEngine(t, versionedConfig(), seedVersioned(base), reg)

		resp, err := e.Item(ctx, "notes", &request.Request{
			Version: "all",
			Sort:    []request.SortField{{Field: document.VersionField}},
		}, storage.Lookup{"_id": "n1"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Status)

		env, ok := resp.Body.(*Envelope)
		require.True(t, ok)
		require.Len(t, env.Items, 3)
		assert.Contains(t, env.Links, "collection")
		assert.Contains(t, env.Links, "parent")
		assert.False(t, fired, "item hooks are skipped in all-versions mode")

		for i, item := range env.Items {
			doc := item.(*document.Document)
			assert.Equal(t, i+1, doc.Version)
			assert.Equal(t, 3, doc.LatestVersion)
		}
		assert.Equal(t, "first title", env.Items[0].(*document.Document).Fields["title"])
		assert.Equal(t, "third title", env.Items[2].(*document.Document).Fields["title"])
	})

	t.Run("diffs mode yields one full version then field-level diffs", func(t *testing.T) {
		e := newTestEngine(t, versionedConfig(), seedVersioned(base), nil)

		resp, err := e.Item(ctx, "notes", &request.Request{Version: "diffs"}, storage.Lookup{"_id": "n1"})
		require.NoError(t, err)

		env := resp.Body.(*Envelope)
		require.Len(t, env.Items, 3)

		first, ok := env.Items[0].(*document.Document)
		require.True(t, ok)
		assert.Equal(t, 1, first.Version)
		assert.Equal(t, "first title", first.Fields["title"])

		second, ok := env.Items[1].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "second title", second["title"])
		assert.Equal(t, "second body", second["body"])
		assert.Equal(t, 2, second[document.VersionField])
		assert.NotContains(t, second, "created", "inherited field never differs")

		third := env.Items[2].(map[string]any)
		assert.Equal(t, "third title", third["title"])
		assert.Equal(t, 3, third[document.VersionField])
	})
}

func TestItemEmbedding(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	seed := func() *memstore.Store {
		s := seedVersioned(base)
		s.Insert("people", document.New("p1", map[string]any{"name": "alex"}))
		return s
	}

	t.Run("embeds a resolvable reference", func(t *testing.T) {
		s := seed()
		note := document.New("n2", map[string]any{"title": "authored", "author": "p1"})
		note.Updated = base
		s.Insert("notes", note)
		e := newTestEngine(t, versionedConfig(), s, nil)

		resp, err := e.Item(ctx, "notes", &request.Request{Embedded: `{"author": 1}`}, storage.Lookup{"_id": "n2"})
		require.NoError(t, err)

		doc := resp.Body.(*document.Document)
		embedded, ok := doc.Fields["author"].(*document.Document)
		require.True(t, ok)
		assert.Equal(t, "alex", embedded.Fields["name"])
	})

	t.Run("unresolvable reference keeps its stored value", func(t *testing.T) {
		s := seed()
		note := document.New("n3", map[string]any{"title": "orphaned", "author": "gone"})
		s.Insert("notes", note)
		e := newTestEngine(t, versionedConfig(), s, nil)

		resp, err := e.Item(ctx, "notes", &request.Request{Embedded: `{"author": 1}`}, storage.Lookup{"_id": "n3"})
		require.NoError(t, err)
		assert.Equal(t, "gone", resp.Body.(*document.Document).Fields["author"])
	})

	t.Run("non-embeddable names are silently dropped", func(t *testing.T) {
		e := newTestEngine(t, versionedConfig(), seed(), nil)

		resp, err := e.Item(ctx, "notes", &request.Request{Embedded: `{"title": 1, "ghost": 1}`}, storage.Lookup{"_id": "n1"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, "third title", resp.Body.(*document.Document).Fields["title"])
	})

	t.Run("malformed clause is a client error", func(t *testing.T) {
		e := newTestEngine(t, versionedConfig(), seed(), nil)

		resp, err := e.Item(ctx, "notes", &request.Request{Embedded: "{broken"}, storage.Lookup{"_id": "n1"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.Status)
	})
}

func TestItemSelfLinkLookupField(t *testing.T) {
	ctx := context.Background()

	cfg := &Config{
		BaseURL: testBaseURL,
		Resources: map[string]*resource.Definition{
			"notes": {
				Hateoas:         true,
				ItemLookupField: "slug",
				Schema: map[string]resource.FieldDefinition{
					"slug":  {Type: "string"},
					"title": {Type: "string"},
				},
			},
		},
	}

	s := memstore.New()
	s.Insert("notes",
		document.New("n1", map[string]any{"slug": "first-note", "title": "first"}),
		document.New("n2", map[string]any{"title": "second"}),
	)
	e, err := New(cfg, s, nil, nil, nil)
	require.NoError(t, err)

	t.Run("self links address the public lookup field", func(t *testing.T) {
		resp, err := e.Item(ctx, "notes", nil, storage.Lookup{"_id": "n1"})
		require.NoError(t, err)
		doc := resp.Body.(*document.Document)
		assert.Equal(t, testBaseURL+"/notes/first-note", doc.Links["self"].Href)
	})

	t.Run("missing lookup field falls back to the identity", func(t *testing.T) {
		resp, err := e.Item(ctx, "notes", nil, storage.Lookup{"_id": "n2"})
		require.NoError(t, err)
		doc := resp.Body.(*document.Document)
		assert.Equal(t, testBaseURL+"/notes/n2", doc.Links["self"].Href)
	})
}

func TestItemMediaFields(t *testing.T) {
	ctx := context.Background()

	cfg := &Config{
		BaseURL: testBaseURL,
		Resources: map[string]*resource.Definition{
			"reports": {
				Schema: map[string]resource.FieldDefinition{
					"title":      {Type: "string"},
					"attachment": {Type: resource.MediaFieldType},
				},
			},
		},
	}

	newStore := func() *memstore.Store {
		s := memstore.New()
		s.Insert("reports", document.New("r1", map[string]any{"title": "q2", "attachment": "q2.pdf"}))
		return s
	}

	t.Run("references resolve to base64 payloads", func(t *testing.T) {
		blobs := media.NewFileStore(afero.NewMemMapFs(), "media", nil)
		require.NoError(t, blobs.Put(ctx, "q2.pdf", strings.NewReader("pdf-bytes")))

		e, err := New(cfg, newStore(), blobs, nil, nil)
		require.NoError(t, err)

		resp, err := e.Item(ctx, "reports", nil, storage.Lookup{"_id": "r1"})
		require.NoError(t, err)

		doc := resp.Body.(*document.Document)
		want := base64.StdEncoding.EncodeToString([]byte("pdf-bytes"))
		assert.Equal(t, want, doc.Fields["attachment"])
	})

	t.Run("missing blob nulls the field", func(t *testing.T) {
		blobs := media.NewFileStore(afero.NewMemMapFs(), "media", nil)
		e, err := New(cfg, newStore(), blobs, nil, nil)
		require.NoError(t, err)

		resp, err := e.Item(ctx, "reports", nil, storage.Lookup{"_id": "r1"})
		require.NoError(t, err)
		assert.Nil(t, resp.Body.(*document.Document).Fields["attachment"])
	})

	t.Run("absent media collaborator nulls the field", func(t *testing.T) {
		e, err := New(cfg, newStore(), nil, nil, nil)
		require.NoError(t, err)

		resp, err := e.Item(ctx, "reports", nil, storage.Lookup{"_id": "r1"})
		require.NoError(t, err)
		assert.Nil(t, resp.Body.(*document.Document).Fields["attachment"])
	})
}
