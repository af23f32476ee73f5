package chat

import "sync"

// User is the signed-in identity a manager acts for.
type User struct {
	ID    string
	Token string
}

// AuthSource tells a manager who is signed in. Changes returns a channel
// that receives after every login or logout; a nil channel means the source
// cannot notify and the manager polls CurrentUser instead.
type AuthSource interface {
	CurrentUser() (User, bool)
	Changes() <-chan struct{}
}

// Credentials is an AuthSource updated explicitly by the embedding
// application. Every Changes call returns a fresh subscription, so any
// number of managers can follow one Credentials.
type Credentials struct {
	mu   sync.RWMutex
	user *User
	subs []chan struct{}
}

var _ AuthSource = (*Credentials)(nil)

func NewCredentials() *Credentials {
	return &Credentials{}
}

// Login signs id in, replacing any current user.
func (c *Credentials) Login(id, token string) {
	c.mu.Lock()
	c.user = &User{ID: id, Token: token}
	c.mu.Unlock()
	c.broadcast()
}

// Logout signs the current user out.
func (c *Credentials) Logout() {
	c.mu.Lock()
	c.user = nil
	c.mu.Unlock()
	c.broadcast()
}

func (c *Credentials) CurrentUser() (User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return User{}, false
	}
	return *c.user, true
}

func (c *Credentials) Changes() <-chan struct{} {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

// broadcast coalesces: a subscriber with a pending signal keeps just one.
func (c *Credentials) broadcast() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// StaticUser is an AuthSource that never changes and cannot notify.
type StaticUser struct {
	User
	SignedIn bool
}

func (s StaticUser) CurrentUser() (User, bool) { return s.User, s.SignedIn }

func (StaticUser) Changes() <-chan struct{} { return nil }
