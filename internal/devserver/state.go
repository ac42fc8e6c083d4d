package devserver

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type kind string

const (
	kindQuestion kind = "question"
	kindArticle  kind = "article"
)

type user struct {
	email        string
	passwordHash []byte
	verified     bool
}

type document struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	AuthorEmail string `json:"authorEmail"`
	CreatedTime string `json:"createdTime"`
	seq         int64
}

type brief struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	AuthorEmail string `json:"authorEmail"`
	CreatedTime string `json:"createdTime"`
}

func (d *document) brief() brief {
	return brief{ID: d.ID, Title: d.Title, AuthorEmail: d.AuthorEmail, CreatedTime: d.CreatedTime}
}

type answer struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	AuthorEmail string `json:"authorEmail"`
	CreatedTime string `json:"createdTime"`
}

type image struct {
	contentType string
	data        []byte
}

// state is the in-memory backend data. All access goes through its methods.
type state struct {
	mu        sync.RWMutex
	users     map[string]*user
	codes     map[string]string
	documents map[kind]map[string]*document
	answers   map[string][]answer
	images    map[string]image
	seq       int64
}

func newState() *state {
	return &state{
		users: make(map[string]*user),
		codes: make(map[string]string),
		documents: map[kind]map[string]*document{
			kindQuestion: {},
			kindArticle:  {},
		},
		answers: make(map[string][]answer),
		images:  make(map[string]image),
	}
}

func (s *state) user(email string) (user, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[email]
	if !ok {
		return user{}, false
	}
	return *u, true
}

// register stores an unverified user with a pending code. It fails when a
// verified user already owns the email.
func (s *state) register(email string, hash []byte, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[email]; ok && u.verified {
		return false
	}
	s.users[email] = &user{email: email, passwordHash: hash}
	s.codes[email] = code
	return true
}

func (s *state) code(email string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.codes[email]
	return c, ok
}

// verify consumes the pending code for email.
func (s *state) verify(email, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	want, ok := s.codes[email]
	u, exists := s.users[email]
	if !ok || !exists || want != code {
		return false
	}
	delete(s.codes, email)
	u.verified = true
	return true
}

func (s *state) addDocument(k kind, title, content, author string, now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	d := &document{
		ID:          uuid.NewString(),
		Title:       title,
		Content:     content,
		AuthorEmail: author,
		CreatedTime: now.Format(time.DateTime),
		seq:         s.seq,
	}
	s.documents[k][d.ID] = d
	return d.ID
}

func (s *state) document(k kind, id string) (document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[k][id]
	if !ok {
		return document{}, false
	}
	return *d, true
}

// briefs returns matching documents newest first.
func (s *state) briefs(k kind, match func(*document) bool) []brief {
	s.mu.RLock()
	docs := make([]*document, 0, len(s.documents[k]))
	for _, d := range s.documents[k] {
		if match == nil || match(d) {
			docs = append(docs, d)
		}
	}
	s.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool { return docs[i].seq > docs[j].seq })
	out := make([]brief, len(docs))
	for i, d := range docs {
		out[i] = d.brief()
	}
	return out
}

func (s *state) addAnswer(questionID, content, author string, now time.Time) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[kindQuestion][questionID]; !ok {
		return "", false
	}
	a := answer{
		ID:          uuid.NewString(),
		Content:     content,
		AuthorEmail: author,
		CreatedTime: now.Format(time.DateTime),
	}
	s.answers[questionID] = append(s.answers[questionID], a)
	return a.ID, true
}

func (s *state) answersFor(questionID string) ([]answer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.documents[kindQuestion][questionID]; !ok {
		return nil, false
	}
	out := make([]answer, len(s.answers[questionID]))
	copy(out, s.answers[questionID])
	return out, true
}

func (s *state) putImage(name string, img image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[name] = img
}

func (s *state) image(name string) (image, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.images[name]
	return img, ok
}
