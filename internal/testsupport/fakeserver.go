package testsupport

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// FakeDirective is a directive queued on the fake server.
type FakeDirective struct {
	ID    int64  `json:"id"`
	Op    string `json:"op"`
	Value string `json:"value"`
}

// FakePut records one data PUT against a session.
type FakePut struct {
	Session      string
	ContentRange string
	Bytes        int64
}

type fakeBlob struct {
	path     string
	md5      string
	total    int64
	data     []byte
	complete bool
}

// FakeServer emulates the collection server and its resumable blob store.
type FakeServer struct {
	*httptest.Server

	mu sync.Mutex

	AdminPassword string
	// AnyToken accepts every non-empty login token when true.
	AnyToken bool
	tokens   map[string]bool

	directives []FakeDirective
	nextID     int64
	Completed  []int64

	Saved       []map[string]any
	SaveCalls   int
	FailSaves   int
	SavedStates []map[string]any

	Prompts   []byte
	Resources map[string][]byte

	UploadRequests []url.Values
	SessionStarts  int
	StartHeaders   []http.Header
	Probes         int
	Puts           []FakePut
	VerifyCalls    int

	// Fault injection. Zero values mean normal behaviour.
	ProbeStatus   int
	ProbeRange    string
	UploadStatus  int
	VerifyStatus  int
	VerifyBody    string
	FailEndpoints map[string]int

	sessions map[string]*fakeBlob
	blobs    map[string]*fakeBlob
	nextSess int
}

// NewFakeServer starts a fake server that is closed on test cleanup.
func NewFakeServer(t testing.TB) *FakeServer {
	t.Helper()
	fs := &FakeServer{
		AdminPassword: "test-admin",
		AnyToken:      true,
		tokens:        map[string]bool{},
		Resources:     map[string][]byte{},
		FailEndpoints: map[string]int{},
		sessions:      map[string]*fakeBlob{},
		blobs:         map[string]*fakeBlob{},
	}
	fs.Server = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.Close)
	return fs
}

// AddDirective queues a directive and returns its id.
func (fs *FakeServer) AddDirective(op, value string) int64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.nextID++
	fs.directives = append(fs.directives, FakeDirective{ID: fs.nextID, Op: op, Value: value})
	return fs.nextID
}

// PendingDirectives returns directives not yet acknowledged.
func (fs *FakeServer) PendingDirectives() []FakeDirective {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]FakeDirective(nil), fs.directives...)
}

// HasToken reports whether token was registered through register_login.
func (fs *FakeServer) HasToken(token string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.tokens[token]
}

// SavedKeys returns the keys of every record received by /save.
func (fs *FakeServer) SavedKeys() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	keys := make([]string, 0, len(fs.Saved))
	for _, rec := range fs.Saved {
		if key, ok := rec["key"].(string); ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// SeedSession creates a session for path whose first committed bytes of
// content are already stored, and returns the session URL.
func (fs *FakeServer) SeedSession(path string, content []byte, committed int64) string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	sum := md5.Sum(content)
	blob := &fakeBlob{
		path:  path,
		md5:   hex.EncodeToString(sum[:]),
		total: int64(len(content)),
		data:  append([]byte(nil), content[:committed]...),
	}
	blob.complete = committed == blob.total
	fs.blobs[path] = blob
	fs.nextSess++
	id := strconv.Itoa(fs.nextSess)
	fs.sessions[id] = blob
	return fs.URL + "/blob/session/" + id
}

// Blob returns the committed bytes stored for path.
func (fs *FakeServer) Blob(path string) ([]byte, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	blob, ok := fs.blobs[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), blob.data...), blob.complete
}

// DropBlob forgets the stored blob for path, as if the server lost it.
func (fs *FakeServer) DropBlob(path string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.blobs, path)
}

func (fs *FakeServer) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasPrefix(r.URL.Path, "/blob/upload/"):
		fs.handleStartSession(w, r)
		return
	case strings.HasPrefix(r.URL.Path, "/blob/session/"):
		fs.handleSessionPut(w, r)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	endpoint := strings.TrimPrefix(r.URL.Path, "/")

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if status := fs.FailEndpoints[endpoint]; status != 0 {
		http.Error(w, "injected failure", status)
		return
	}
	token := r.PostForm.Get("login_token")
	if endpoint != "register_login" && !fs.authorized(token) {
		http.Error(w, "unknown login token", http.StatusUnauthorized)
		return
	}

	switch endpoint {
	case "is_authenticated":
		w.WriteHeader(http.StatusOK)
	case "register_login":
		if token != "admin:"+fs.AdminPassword {
			http.Error(w, "admin token required", http.StatusForbidden)
			return
		}
		fs.tokens[r.PostForm.Get("new_login_token")] = true
		w.WriteHeader(http.StatusOK)
	case "directives":
		writeJSON(w, http.StatusOK, map[string]any{"directives": fs.directives})
	case "directive_completed":
		id, _ := strconv.ParseInt(r.PostForm.Get("id"), 10, 64)
		fs.Completed = append(fs.Completed, id)
		kept := fs.directives[:0]
		for _, d := range fs.directives {
			if d.ID != id {
				kept = append(kept, d)
			}
		}
		fs.directives = kept
		w.WriteHeader(http.StatusOK)
	case "save":
		fs.SaveCalls++
		var batch []map[string]any
		if err := json.Unmarshal([]byte(r.PostForm.Get("data")), &batch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if fs.FailSaves > 0 {
			fs.FailSaves--
			http.Error(w, "save failed after receipt", http.StatusInternalServerError)
			return
		}
		fs.Saved = append(fs.Saved, batch...)
		w.WriteHeader(http.StatusOK)
	case "save_state":
		var state map[string]any
		if err := json.Unmarshal([]byte(r.PostForm.Get("state")), &state); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fs.SavedStates = append(fs.SavedStates, state)
		w.WriteHeader(http.StatusOK)
	case "prompts":
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(fs.Prompts)
	case "resource":
		data, ok := fs.Resources[r.PostForm.Get("path")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	case "upload":
		fs.UploadRequests = append(fs.UploadRequests, r.PostForm)
		path := r.PostForm.Get("path")
		total, _ := strconv.ParseInt(r.PostForm.Get("file_size"), 10, 64)
		fs.blobs[path] = &fakeBlob{path: path, md5: r.PostForm.Get("md5"), total: total}
		writeJSON(w, http.StatusOK, map[string]string{"uploadLink": fs.URL + "/blob/upload/" + url.PathEscape(path)})
	case "verify":
		fs.VerifyCalls++
		if fs.VerifyStatus != 0 {
			w.WriteHeader(fs.VerifyStatus)
			_, _ = io.WriteString(w, fs.VerifyBody)
			return
		}
		blob, ok := fs.blobs[r.PostForm.Get("path")]
		if !ok || !blob.complete {
			writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"fileNotFound": true})
			return
		}
		sum := md5.Sum(blob.data)
		verified := hex.EncodeToString(sum[:]) == r.PostForm.Get("md5")
		writeJSON(w, http.StatusOK, map[string]bool{"verified": verified})
	default:
		http.NotFound(w, r)
	}
}

func (fs *FakeServer) authorized(token string) bool {
	if token == "" {
		return false
	}
	return fs.AnyToken || fs.tokens[token]
}

func (fs *FakeServer) handleStartSession(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if r.Method != http.MethodPost || r.Header.Get("X-Goog-Resumable") != "start" {
		http.Error(w, "expected resumable start", http.StatusBadRequest)
		return
	}
	path, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/blob/upload/"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	blob, ok := fs.blobs[path]
	if !ok {
		http.Error(w, "no upload link issued", http.StatusNotFound)
		return
	}
	fs.SessionStarts++
	fs.StartHeaders = append(fs.StartHeaders, r.Header.Clone())
	blob.data = nil
	blob.complete = false
	fs.nextSess++
	id := strconv.Itoa(fs.nextSess)
	fs.sessions[id] = blob
	w.Header().Set("Location", fs.URL+"/blob/session/"+id)
	w.WriteHeader(http.StatusCreated)
}

func (fs *FakeServer) handleSessionPut(w http.ResponseWriter, r *http.Request) {
	body, readErr := io.ReadAll(r.Body)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	id := strings.TrimPrefix(r.URL.Path, "/blob/session/")
	blob, ok := fs.sessions[id]
	if !ok || r.Method != http.MethodPut {
		http.NotFound(w, r)
		return
	}
	contentRange := r.Header.Get("Content-Range")

	if strings.HasPrefix(contentRange, "bytes */") {
		fs.Probes++
		if fs.ProbeStatus != 0 {
			if fs.ProbeRange != "" {
				w.Header().Set("Range", fs.ProbeRange)
			}
			w.WriteHeader(fs.ProbeStatus)
			return
		}
		if blob.complete {
			w.WriteHeader(http.StatusOK)
			return
		}
		if fs.ProbeRange != "" {
			w.Header().Set("Range", fs.ProbeRange)
		} else if len(blob.data) > 0 {
			w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", len(blob.data)-1))
		}
		w.WriteHeader(http.StatusPermanentRedirect)
		return
	}

	fs.Puts = append(fs.Puts, FakePut{Session: id, ContentRange: contentRange, Bytes: int64(len(body))})
	if readErr != nil {
		http.Error(w, readErr.Error(), http.StatusBadRequest)
		return
	}
	if fs.UploadStatus != 0 {
		w.WriteHeader(fs.UploadStatus)
		return
	}
	var start, end, total int64
	if _, err := fmt.Sscanf(contentRange, "bytes %d-%d/%d", &start, &end, &total); err != nil {
		http.Error(w, "bad content range", http.StatusBadRequest)
		return
	}
	if start != int64(len(blob.data)) || end-start+1 != int64(len(body)) || total != blob.total {
		http.Error(w, "range mismatch", http.StatusBadRequest)
		return
	}
	blob.data = append(blob.data, body...)
	if int64(len(blob.data)) == blob.total {
		blob.complete = true
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", len(blob.data)-1))
	w.WriteHeader(http.StatusPermanentRedirect)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
