// Package keycloaktest provides an in-memory fake of the Keycloak Admin REST
// API for tests.
package keycloaktest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
)

const (
	// AdminUser and AdminPassword are the credentials the fake accepts.
	AdminUser     = "admin"
	AdminPassword = "admin"
)

// Server is a fake Keycloak. Realm and client documents are stored as raw
// JSON objects so tests can observe fields the client does not model.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	mux       *http.ServeMux
	tokens    map[string]bool
	realms    map[string]*realm
	requests  []string
	creates   int
	mutations int
	failures  map[string]int
	nextID    int
}

type realm struct {
	doc           map[string]interface{}
	clients       []map[string]interface{}
	clientRoles   map[string][]string
	secrets       map[string]string
	roles         []string
	users         []*user
	profile       map[string]interface{}
	keys          []map[string]interface{}
	realmMapping  map[string][]string
	clientMapping map[string]map[string][]string
}

type user struct {
	doc            map[string]interface{}
	serviceAccount bool
}

// NewServer starts a fake Keycloak with only the master realm.
func NewServer() *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		tokens:   map[string]bool{},
		realms:   map[string]*realm{},
		failures: map[string]int{},
	}
	s.realms["master"] = s.newRealm("master")
	s.routes()
	s.Server = httptest.NewServer(s.mux)
	return s
}

// Fail makes every request matching method and path (without the server
// URL) answer with status until the server is closed.
func (s *Server) Fail(method, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = status
}

// ClearFailures removes all injected failures.
func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = map[string]int{}
}

// Creates returns the number of resource-creating requests served.
func (s *Server) Creates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

// Mutations returns the number of successful POST and PUT requests served
// on the admin API, role mappings included.
func (s *Server) Mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutations
}

// Requests returns "METHOD path" for every admin request in arrival order.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// ResetCounters clears the request log and the counters.
func (s *Server) ResetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
	s.creates = 0
	s.mutations = 0
}

// AddRealm seeds a realm document. Keys of doc are stored as given.
func (s *Server) AddRealm(name string, doc map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.newRealm(name)
	for k, v := range doc {
		r.doc[k] = v
	}
	s.realms[name] = r
}

// AddUser seeds a user. The username is stored in lower case.
func (s *Server) AddUser(realmName, username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.realms[realmName]
	id := s.id("user")
	r.users = append(r.users, &user{doc: map[string]interface{}{
		"id":       id,
		"username": strings.ToLower(username),
		"enabled":  true,
	}})
	return id
}

// SetKeys replaces the key metadata of a realm.
func (s *Server) SetKeys(realmName string, keys []map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.realms[realmName].keys = keys
}

// RealmDoc returns a copy of the stored realm document, or nil.
func (s *Server) RealmDoc(name string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.realms[name]
	if !ok {
		return nil
	}
	return clone(r.doc)
}

// ClientDoc returns a copy of the stored client document, or nil.
func (s *Server) ClientDoc(realmName, clientID string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.realms[realmName]
	if !ok {
		return nil
	}
	if c := r.clientByClientID(clientID); c != nil {
		return clone(c)
	}
	return nil
}

// ClientSecret returns the secret the fake generated for a client.
func (s *Server) ClientSecret(realmName, clientID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.realms[realmName]
	if c := r.clientByClientID(clientID); c != nil {
		return r.secrets[c["id"].(string)]
	}
	return ""
}

// Roles returns the realm roles in creation order, default roles excluded.
func (s *Server) Roles(realmName string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, role := range s.realms[realmName].roles {
		if !isDefaultRole(realmName, role) {
			out = append(out, role)
		}
	}
	return out
}

// Usernames returns the usernames of regular users in creation order.
func (s *Server) Usernames(realmName string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, u := range s.realms[realmName].users {
		if !u.serviceAccount {
			out = append(out, u.doc["username"].(string))
		}
	}
	return out
}

// UserDoc returns a copy of the stored user document, or nil.
func (s *Server) UserDoc(realmName, username string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.realms[realmName].userByUsername(username); u != nil {
		return clone(u.doc)
	}
	return nil
}

// UserRealmRoles returns the realm roles bound to a user in binding order.
func (s *Server) UserRealmRoles(realmName, username string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.realms[realmName]
	u := r.userByUsername(username)
	if u == nil {
		return nil
	}
	return append([]string(nil), r.realmMapping[u.doc["id"].(string)]...)
}

// ServiceAccountRoles returns the sorted realm-management roles bound to the
// service account of a client.
func (s *Server) ServiceAccountRoles(realmName, clientID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.realms[realmName]
	u := r.userByUsername("service-account-" + clientID)
	rm := r.clientByClientID("realm-management")
	if u == nil || rm == nil {
		return nil
	}
	roles := append([]string(nil), r.clientMapping[u.doc["id"].(string)][rm["id"].(string)]...)
	sort.Strings(roles)
	return roles
}

// ProfileAttribute returns a copy of a user-profile attribute, or nil.
func (s *Server) ProfileAttribute(realmName, name string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	attrs, _ := s.realms[realmName].profile["attributes"].([]interface{})
	for _, a := range attrs {
		if m, ok := a.(map[string]interface{}); ok && m["name"] == name {
			return clone(m)
		}
	}
	return nil
}

// ProfileDoc returns a copy of the user-profile configuration of a realm.
func (s *Server) ProfileDoc(realmName string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.realms[realmName].profile)
}

func (s *Server) id(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%04d", prefix, s.nextID)
}

func (s *Server) newRealm(name string) *realm {
	r := &realm{
		doc: map[string]interface{}{
			"id":                    s.id("realm"),
			"realm":                 name,
			"enabled":               true,
			"sslRequired":           "external",
			"accessTokenLifespan":   float64(300),
			"ssoSessionIdleTimeout": float64(1800),
			"ssoSessionMaxLifespan": float64(36000),
			"attributes": map[string]interface{}{
				"cibaBackchannelTokenDeliveryMode": "poll",
			},
		},
		clientRoles:   map[string][]string{},
		secrets:       map[string]string{},
		roles:         []string{"offline_access", "uma_authorization", "default-roles-" + name},
		realmMapping:  map[string][]string{},
		clientMapping: map[string]map[string][]string{},
		profile: map[string]interface{}{
			"attributes": []interface{}{
				map[string]interface{}{"name": "username", "displayName": "${username}"},
				map[string]interface{}{"name": "email", "displayName": "${email}"},
			},
			"groups": []interface{}{
				map[string]interface{}{"name": "user-metadata"},
			},
		},
		keys: []map[string]interface{}{
			{"kid": "hs-" + name, "type": "OCT", "algorithm": "HS512", "use": "SIG", "status": "ACTIVE"},
			{"kid": "rsa-enc-" + name, "type": "RSA", "algorithm": "RSA-OAEP", "use": "ENC", "status": "ACTIVE", "publicKey": "enc-" + name},
			{"kid": "rsa-" + name, "type": "RSA", "algorithm": "RS256", "use": "SIG", "status": "ACTIVE", "publicKey": "MIIBIjANBgkq-" + name},
		},
	}
	rmID := s.id("client")
	r.clients = append(r.clients, map[string]interface{}{
		"id":         rmID,
		"clientId":   "realm-management",
		"enabled":    true,
		"bearerOnly": true,
	})
	r.clientRoles[rmID] = []string{"view-realm", "view-users", "manage-users", "query-users", "query-groups"}
	return r
}

func isDefaultRole(realmName, role string) bool {
	return role == "offline_access" || role == "uma_authorization" || role == "default-roles-"+realmName
}

func (r *realm) clientByClientID(clientID string) map[string]interface{} {
	for _, c := range r.clients {
		if c["clientId"] == clientID {
			return c
		}
	}
	return nil
}

func (r *realm) clientByID(id string) map[string]interface{} {
	for _, c := range r.clients {
		if c["id"] == id {
			return c
		}
	}
	return nil
}

func (r *realm) userByUsername(username string) *user {
	for _, u := range r.users {
		if strings.EqualFold(u.doc["username"].(string), username) {
			return u
		}
	}
	return nil
}

func (r *realm) userByID(id string) *user {
	for _, u := range r.users {
		if u.doc["id"] == id {
			return u
		}
	}
	return nil
}

func (r *realm) hasRole(name string) bool {
	for _, role := range r.roles {
		if role == name {
			return true
		}
	}
	return false
}

func clone(m map[string]interface{}) map[string]interface{} {
	data, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return out
}
