package mediaserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aphrodite-project/aphrodite/internal/workflowerr"
)

func TestTestConnection_ReturnsServerInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/System/Info" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"ServerName":"home-theater","Version":"10.8.0","Id":"srv-1"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "key", "user-1")
	ok, info, err := c.TestConnection(t.Context())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || info.ServerName != "home-theater" {
		t.Fatalf("got %v %+v, want ok with ServerName home-theater", ok, info)
	}
}

func TestListLibraries_FallsBackToWrappedShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only the wrapped shape is served, so decoding it as a bare
		// array fails; the client should retry as {"Items": [...]}.
		w.Write([]byte(`{"Items":[{"ItemId":"lib-1","Name":"Movies","CollectionType":"movies"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "key", "user-1")
	libs, err := c.ListLibraries(t.Context())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(libs) != 1 || libs[0].Name != "Movies" {
		t.Fatalf("got %+v, want one library named Movies", libs)
	}
}

func TestGetItem_NotFoundMapsToItemMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "key", "user-1")
	_, err := c.GetItem(t.Context(), "missing-item")
	we, ok := err.(*workflowerr.Error)
	if !ok {
		t.Fatalf("expected a *workflowerr.Error, got %T", err)
	}
	if we.Kind != workflowerr.ItemMissing {
		t.Fatalf("got kind %v, want ItemMissing", we.Kind)
	}
}

func TestClassifyStatus_ServerErrorIsRetryable(t *testing.T) {
	err := classifyStatus("UploadPoster", http.StatusInternalServerError)
	we, ok := err.(*workflowerr.Error)
	if !ok {
		t.Fatalf("expected a *workflowerr.Error, got %T", err)
	}
	if !we.Kind.Retryable() {
		t.Fatal("expected a 5xx to classify as a retryable kind")
	}
}

func TestClassifyStatus_OKReturnsNil(t *testing.T) {
	if err := classifyStatus("GetItem", http.StatusOK); err != nil {
		t.Fatalf("unexpected error for 200: %v", err)
	}
}

func TestVerifyImageSignature_RecognizesJPEGAndRejectsGarbage(t *testing.T) {
	if !verifyImageSignature([]byte{0xFF, 0xD8, 0xFF, 0xE0}) {
		t.Fatal("expected JPEG magic bytes to be recognized")
	}
	if verifyImageSignature([]byte("not an image")) {
		t.Fatal("expected arbitrary bytes to be rejected")
	}
}
