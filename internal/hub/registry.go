// internal/hub/registry.go
package hub

import (
	"sync"

	"github.com/erilali/relay/internal/message"
)

type binding struct {
	userID string
	client *Client
}

// Registry is the set of online logical users and the connections they are
// reachable on. Bindings are kept in announce order. A user may hold several
// bindings, one per connection.
type Registry struct {
	mu       sync.RWMutex
	bindings []binding
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register binds userID to client. It is a no-op returning false when the
// client already holds a binding or userID is empty.
func (r *Registry) Register(userID string, client *Client) bool {
	if userID == "" || client == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bindings {
		if b.client == client {
			return false
		}
	}
	r.bindings = append(r.bindings, binding{userID: userID, client: client})
	return true
}

// Unregister drops every binding held by client. It reports whether anything
// was removed.
func (r *Registry) Unregister(client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.bindings[:0]
	removed := false
	for _, b := range r.bindings {
		if b.client == client {
			removed = true
			continue
		}
		kept = append(kept, b)
	}
	// clear the tail so removed clients can be collected
	for i := len(kept); i < len(r.bindings); i++ {
		r.bindings[i] = binding{}
	}
	r.bindings = kept
	return removed
}

// Lookup returns every connection bound to userID.
func (r *Registry) Lookup(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var clients []*Client
	for _, b := range r.bindings {
		if b.userID == userID {
			clients = append(clients, b.client)
		}
	}
	return clients
}

// Has reports whether userID has at least one binding.
func (r *Registry) Has(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.bindings {
		if b.userID == userID {
			return true
		}
	}
	return false
}

// Snapshot returns the public view of the registry in announce order.
func (r *Registry) Snapshot() []message.OnlineUser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]message.OnlineUser, 0, len(r.bindings))
	for _, b := range r.bindings {
		users = append(users, message.OnlineUser{UserID: b.userID, ConnectionID: b.client.ID})
	}
	return users
}

// Len is the number of bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}
