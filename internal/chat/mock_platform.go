package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Post is one message recorded by MockPlatform.
type Post struct {
	Channel  string
	Text     string
	ThreadTS string
	TS       string
}

// MockPlatform implements Publisher and Directory for testing. It records
// every publish and answers lookups from a preset table.
type MockPlatform struct {
	mu         sync.Mutex
	posts      []Post
	profiles   map[string]Profile
	publishErr error
	lookups    int
	counter    int
}

// NewMockPlatform creates an empty MockPlatform.
func NewMockPlatform() *MockPlatform {
	return &MockPlatform{profiles: make(map[string]Profile)}
}

// Publish records the post and returns a unique synthetic timestamp.
func (m *MockPlatform) Publish(ctx context.Context, channel, text, threadTS string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return "", &PublishError{Channel: channel, Err: m.publishErr}
	}
	m.counter++
	ts := fmt.Sprintf("9000000000.%06d", m.counter)
	m.posts = append(m.posts, Post{Channel: channel, Text: text, ThreadTS: threadTS, TS: ts})
	return ts, nil
}

// LookupUser returns the preset profile or a DirectoryError.
func (m *MockPlatform) LookupUser(ctx context.Context, externalID string) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	p, ok := m.profiles[externalID]
	if !ok {
		return Profile{}, &DirectoryError{ExternalID: externalID, Err: errors.New("user_not_found")}
	}
	return p, nil
}

// --- Test helpers ---

// SetProfile makes LookupUser succeed for externalID.
func (m *MockPlatform) SetProfile(externalID string, p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[externalID] = p
}

// FailPublish makes every subsequent Publish fail with err. Pass nil to reset.
func (m *MockPlatform) FailPublish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

// Posts returns a copy of all recorded posts.
func (m *MockPlatform) Posts() []Post {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Post, len(m.posts))
	copy(out, m.posts)
	return out
}

// PostCount returns the number of successful publishes.
func (m *MockPlatform) PostCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posts)
}

// LookupCount returns the number of LookupUser calls.
func (m *MockPlatform) LookupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups
}
