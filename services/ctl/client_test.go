package ctl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"trustd/services/api"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{name: "valid", baseURL: "http://127.0.0.1:8080"},
		{name: "trailing slash trimmed", baseURL: "https://trustd.example.com/"},
		{name: "empty", baseURL: "", wantErr: true},
		{name: "no scheme", baseURL: "trustd.example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.baseURL, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && strings.HasSuffix(c.baseURL, "/") {
				t.Fatalf("base url %q keeps trailing slash", c.baseURL)
			}
		})
	}
}

func TestClientIngest(t *testing.T) {
	var gotPath string
	var gotBody api.IngestRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Error(err)
		}
		json.NewEncoder(w).Encode(api.IngestResponse{ID: "job-1", Status: api.IngestStatusPending})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatal(err)
	}

	out, err := client.Ingest(context.Background(), "https://example.com/pkg", []string{"base-1"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/ingest?mode=async" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotBody.ModelURL != "https://example.com/pkg" || len(gotBody.Parents) != 1 {
		t.Fatalf("body = %+v", gotBody)
	}
	if out.ID != "job-1" {
		t.Fatalf("response = %+v", out)
	}
}

func TestClientSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "job is not dead"})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Requeue(context.Background(), "job-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "409") || !strings.Contains(err.Error(), "job is not dead") {
		t.Fatalf("error = %v", err)
	}
}

func TestClientSearchParams(t *testing.T) {
	var gotQuery string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(api.SearchResponse{})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := client.Search(context.Background(), "regex", "bert.*", 2, 50); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"type=regex", "query=bert.%2A", "page=2", "limit=50"} {
		if !strings.Contains(gotQuery, want) {
			t.Fatalf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestClientLogs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jobs/job-1/logs" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"job_id": "job-1", "url": "https://store/presigned"})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatal(err)
	}

	url, err := client.Logs(context.Background(), "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://store/presigned" {
		t.Fatalf("url = %q", url)
	}
}
