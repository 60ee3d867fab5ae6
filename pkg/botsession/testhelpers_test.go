// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package botsession

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// fakeMM is a test helper that wraps an httptest.Server simulating the
// Mattermost API. It records calls and provides canned responses.
type fakeMM struct {
	Server *httptest.Server

	mu      sync.Mutex
	calls   []endpointCall
	created []*model.Post
	uploads int

	// Users maps user ID to model.User.
	Users map[string]*model.User
	// TokenToUser maps bearer tokens to user IDs for GetMe auth.
	TokenToUser map[string]string
	// Passwords maps usernames to passwords for the login endpoint.
	Passwords map[string]string
	// Posts maps channel ID to PostList.
	Posts map[string]*model.PostList
	// Files maps file ID to model.FileInfo.
	Files map[string]*model.FileInfo
	// FileData maps file ID to its content.
	FileData map[string][]byte
	// FailEndpoints causes specific path prefixes to return 500.
	FailEndpoints map[string]bool
	// RateLimited maps path substrings to the number of 429 responses to
	// send before serving normally.
	RateLimited map[string]int
	// RateLimitHeaders are added to every 429 response.
	RateLimitHeaders map[string]string
}

func newFakeMM() *fakeMM {
	f := &fakeMM{
		Users:            make(map[string]*model.User),
		TokenToUser:      make(map[string]string),
		Passwords:        make(map[string]string),
		Posts:            make(map[string]*model.PostList),
		Files:            make(map[string]*model.FileInfo),
		FileData:         make(map[string][]byte),
		FailEndpoints:    make(map[string]bool),
		RateLimited:      make(map[string]int),
		RateLimitHeaders: map[string]string{"Retry-After": "2"},
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

// newDefaultFakeMM returns a server knowing the relay account ("me-id",
// token "test-token") and two bots: source_bot and target_bot.
func newDefaultFakeMM() *fakeMM {
	f := newFakeMM()
	f.Users["me-id"] = &model.User{Id: "me-id", Username: "relay"}
	f.Users["src-id"] = &model.User{Id: "src-id", Username: "source_bot", IsBot: true}
	f.Users["dst-id"] = &model.User{Id: "dst-id", Username: "target_bot", IsBot: true}
	f.TokenToUser["test-token"] = "me-id"
	return f
}

func (f *fakeMM) Close() {
	f.Server.Close()
}

func (f *fakeMM) record(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Path: path, Body: body})
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeMM) CallCount(method, path string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Method == method && strings.Contains(c.Path, path) {
			n++
		}
	}
	return n
}

func (f *fakeMM) Created() []*model.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]*model.Post, len(f.created))
	copy(cp, f.created)
	return cp
}

func (f *fakeMM) resolveToken(r *http.Request) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	auth := r.Header.Get("Authorization")
	for tok, uid := range f.TokenToUser {
		if auth == "BEARER "+tok || auth == "Bearer "+tok {
			return uid
		}
	}
	return ""
}

func (f *fakeMM) takeRateLimit(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for prefix, remaining := range f.RateLimited {
		if remaining > 0 && strings.Contains(path, prefix) {
			f.RateLimited[prefix] = remaining - 1
			return true
		}
	}
	return false
}

func writeAppError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": "fake.error", "message": msg, "status_code": status})
}

func (f *fakeMM) userByName(name string) *model.User {
	for _, u := range f.Users {
		if u.Username == name {
			return u
		}
	}
	return nil
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r.Method, r.URL.Path, string(body))

	for prefix := range f.FailEndpoints {
		if strings.Contains(r.URL.Path, prefix) {
			writeAppError(w, http.StatusInternalServerError, "fake error")
			return
		}
	}
	if f.takeRateLimit(r.URL.Path) {
		for k, v := range f.RateLimitHeaders {
			w.Header().Set(k, v)
		}
		writeAppError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	path := r.URL.Path

	switch {
	// POST /api/v4/users/login
	case r.Method == "POST" && path == "/api/v4/users/login":
		var req map[string]string
		_ = json.Unmarshal(body, &req)
		user := f.userByName(req["login_id"])
		if user == nil || f.Passwords[user.Username] != req["password"] {
			writeAppError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		token := "session-" + user.Id
		f.mu.Lock()
		f.TokenToUser[token] = user.Id
		f.mu.Unlock()
		w.Header().Set("Token", token)
		_ = json.NewEncoder(w).Encode(user)

	// GET /api/v4/users/me
	case r.Method == "GET" && path == "/api/v4/users/me":
		uid := f.resolveToken(r)
		if uid == "" {
			writeAppError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		_ = json.NewEncoder(w).Encode(f.Users[uid])

	// GET /api/v4/users/username/{username}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/users/username/"):
		if u := f.userByName(path[len("/api/v4/users/username/"):]); u != nil {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		writeAppError(w, http.StatusNotFound, "user not found")

	// POST /api/v4/channels/direct
	case r.Method == "POST" && path == "/api/v4/channels/direct":
		var ids []string
		_ = json.Unmarshal(body, &ids)
		other := ""
		for _, id := range ids {
			if id != "me-id" {
				other = id
			}
		}
		_ = json.NewEncoder(w).Encode(&model.Channel{Id: "dm-" + other, Type: model.ChannelTypeDirect})

	// GET /api/v4/channels/{channel_id}/posts
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/channels/") && strings.HasSuffix(path, "/posts"):
		parts := strings.Split(path, "/")
		f.mu.Lock()
		pl, ok := f.Posts[parts[4]]
		f.mu.Unlock()
		if ok {
			_ = json.NewEncoder(w).Encode(pl)
			return
		}
		_ = json.NewEncoder(w).Encode(model.NewPostList())

	// POST /api/v4/posts/{post_id}/actions/{action_id}
	case r.Method == "POST" && strings.HasPrefix(path, "/api/v4/posts/") && strings.Contains(path, "/actions/"):
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "OK"})

	// POST /api/v4/posts
	case r.Method == "POST" && path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		post.Id = "created-post-id"
		f.mu.Lock()
		f.created = append(f.created, &post)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(&post)

	// GET /api/v4/files/{file_id}/info
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/files/") && strings.HasSuffix(path, "/info"):
		parts := strings.Split(path, "/")
		if fi, ok := f.Files[parts[4]]; ok {
			_ = json.NewEncoder(w).Encode(fi)
			return
		}
		writeAppError(w, http.StatusNotFound, "file not found")

	// GET /api/v4/files/{file_id}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/files/"):
		if data, ok := f.FileData[path[len("/api/v4/files/"):]]; ok {
			_, _ = w.Write(data)
			return
		}
		writeAppError(w, http.StatusNotFound, "file not found")

	// POST /api/v4/files (upload)
	case r.Method == "POST" && path == "/api/v4/files":
		f.mu.Lock()
		f.uploads++
		id := "uploaded-" + string(rune('0'+f.uploads))
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(&model.FileUploadResponse{
			FileInfos: []*model.FileInfo{{Id: id, Name: "upload"}},
		})

	default:
		writeAppError(w, http.StatusNotFound, "not found: "+path)
	}
}

// makePostList creates a model.PostList from a slice of posts, ordered newest first.
func makePostList(posts []*model.Post) *model.PostList {
	pl := model.NewPostList()
	for _, p := range posts {
		pl.AddPost(p)
		pl.AddOrder(p.Id)
	}
	return pl
}

// newTestSession returns a connected session against fake.
func newTestSession(t *testing.T, fake *fakeMM) *MattermostSession {
	t.Helper()
	client := model.NewAPIv4Client(fake.Server.URL)
	client.SetToken("test-token")
	s := NewMattermostSession(client, zerolog.Nop())
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return s
}

// withButtons attaches interactive actions to post.
func withButtons(post *model.Post, actions ...*model.PostAction) *model.Post {
	post.AddProp("attachments", []*model.SlackAttachment{{Actions: actions}})
	return post
}
