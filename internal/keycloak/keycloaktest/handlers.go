package keycloaktest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type handler func(w http.ResponseWriter, r *http.Request, rl *realm)

func (s *Server) routes() {
	s.mux.HandleFunc("POST /realms/master/protocol/openid-connect/token", s.token)
	s.mux.HandleFunc("GET /realms/{realm}/.well-known/openid-configuration", s.public)
	s.mux.HandleFunc("GET /realms/{realm}", s.public)
	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.mux.HandleFunc("POST /admin/realms", s.admin(s.createRealm, false))
	s.mux.HandleFunc("GET /admin/realms/{realm}", s.admin(s.getRealm, true))
	s.mux.HandleFunc("PUT /admin/realms/{realm}", s.admin(s.updateRealm, true))

	s.mux.HandleFunc("GET /admin/realms/{realm}/clients", s.admin(s.listClients, true))
	s.mux.HandleFunc("POST /admin/realms/{realm}/clients", s.admin(s.createClient, true))
	s.mux.HandleFunc("GET /admin/realms/{realm}/clients/{id}", s.admin(s.getClient, true))
	s.mux.HandleFunc("PUT /admin/realms/{realm}/clients/{id}", s.admin(s.updateClient, true))
	s.mux.HandleFunc("GET /admin/realms/{realm}/clients/{id}/client-secret", s.admin(s.clientSecret, true))
	s.mux.HandleFunc("GET /admin/realms/{realm}/clients/{id}/service-account-user", s.admin(s.serviceAccountUser, true))
	s.mux.HandleFunc("GET /admin/realms/{realm}/clients/{id}/roles", s.admin(s.listClientRoles, true))

	s.mux.HandleFunc("POST /admin/realms/{realm}/roles", s.admin(s.createRole, true))
	s.mux.HandleFunc("GET /admin/realms/{realm}/roles/{name}", s.admin(s.getRole, true))

	s.mux.HandleFunc("GET /admin/realms/{realm}/users", s.admin(s.listUsers, true))
	s.mux.HandleFunc("POST /admin/realms/{realm}/users", s.admin(s.createUser, true))
	s.mux.HandleFunc("GET /admin/realms/{realm}/users/profile", s.admin(s.getProfile, true))
	s.mux.HandleFunc("PUT /admin/realms/{realm}/users/profile", s.admin(s.updateProfile, true))
	s.mux.HandleFunc("POST /admin/realms/{realm}/users/{id}/role-mappings/realm", s.admin(s.mapRealmRoles, true))
	s.mux.HandleFunc("GET /admin/realms/{realm}/users/{id}/role-mappings/clients/{client}", s.admin(s.listClientMappings, true))
	s.mux.HandleFunc("POST /admin/realms/{realm}/users/{id}/role-mappings/clients/{client}", s.admin(s.mapClientRoles, true))

	s.mux.HandleFunc("GET /admin/realms/{realm}/keys", s.admin(s.listKeys, true))
}

// admin wraps an admin endpoint with bearer token checks, request
// recording, injected failures and realm lookup.
func (s *Server) admin(h handler, needsRealm bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !s.tokens[token] {
			writeError(w, http.StatusUnauthorized, "HTTP 401 Unauthorized")
			return
		}

		key := r.Method + " " + r.URL.Path
		s.requests = append(s.requests, key)
		if status, ok := s.failures[key]; ok {
			writeError(w, status, "injected failure")
			return
		}

		var rl *realm
		if needsRealm {
			var ok bool
			if rl, ok = s.realms[r.PathValue("realm")]; !ok {
				writeError(w, http.StatusNotFound, "Realm not found.")
				return
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r, rl)
		if r.Method != http.MethodGet && rec.status < 300 {
			s.mutations++
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.PostForm.Get("grant_type") != "password" || r.PostForm.Get("client_id") != "admin-cli" {
		writeError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}
	if r.PostForm.Get("username") != AdminUser || r.PostForm.Get("password") != AdminPassword {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Invalid user credentials",
		})
		return
	}
	token := s.id("token")
	s.tokens[token] = true
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": token,
		"expires_in":   60,
		"token_type":   "Bearer",
	})
}

func (s *Server) public(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.realms[r.PathValue("realm")]; !ok {
		writeError(w, http.StatusNotFound, "Realm does not exist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"realm": r.PathValue("realm")})
}

// ============================================================================
// Realms
// ============================================================================

func (s *Server) createRealm(w http.ResponseWriter, r *http.Request, _ *realm) {
	var body map[string]interface{}
	if !decode(w, r, &body) {
		return
	}
	name, _ := body["realm"].(string)
	if name == "" {
		writeError(w, http.StatusBadRequest, "realm name is required")
		return
	}
	if _, ok := s.realms[name]; ok {
		writeError(w, http.StatusConflict, "Conflict detected. See logs for details")
		return
	}
	rl := s.newRealm(name)
	for k, v := range body {
		rl.doc[k] = v
	}
	s.realms[name] = rl
	s.creates++
	w.Header().Set("Location", fmt.Sprintf("%s/admin/realms/%s", s.URL, name))
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) getRealm(w http.ResponseWriter, _ *http.Request, rl *realm) {
	writeJSON(w, http.StatusOK, rl.doc)
}

func (s *Server) updateRealm(w http.ResponseWriter, r *http.Request, rl *realm) {
	var body map[string]interface{}
	if !decode(w, r, &body) {
		return
	}
	// Keycloak treats a missing field as "leave unchanged" for some fields
	// and as "reset" for others; the fake resets everything so tests catch
	// partial writes.
	body["id"] = rl.doc["id"]
	rl.doc = body
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// Clients
// ============================================================================

func (s *Server) listClients(w http.ResponseWriter, r *http.Request, rl *realm) {
	clientID := r.URL.Query().Get("clientId")
	out := []map[string]interface{}{}
	for _, c := range rl.clients {
		if clientID == "" || c["clientId"] == clientID {
			out = append(out, c)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createClient(w http.ResponseWriter, r *http.Request, rl *realm) {
	var body map[string]interface{}
	if !decode(w, r, &body) {
		return
	}
	clientID, _ := body["clientId"].(string)
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "clientId is required")
		return
	}
	if rl.clientByClientID(clientID) != nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("Client %s already exists", clientID))
		return
	}
	id := s.id("client")
	body["id"] = id
	if _, ok := body["attributes"]; !ok {
		body["attributes"] = map[string]interface{}{"post.logout.redirect.uris": "+"}
	}
	rl.clients = append(rl.clients, body)
	rl.secrets[id] = "secret-" + id
	if enabled, _ := body["serviceAccountsEnabled"].(bool); enabled {
		rl.users = append(rl.users, &user{
			serviceAccount: true,
			doc: map[string]interface{}{
				"id":       s.id("user"),
				"username": "service-account-" + strings.ToLower(clientID),
				"enabled":  true,
			},
		})
	}
	s.creates++
	w.Header().Set("Location", fmt.Sprintf("%s%s/%s", s.URL, r.URL.Path, id))
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) getClient(w http.ResponseWriter, r *http.Request, rl *realm) {
	c := rl.clientByID(r.PathValue("id"))
	if c == nil {
		writeError(w, http.StatusNotFound, "Could not find client")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) updateClient(w http.ResponseWriter, r *http.Request, rl *realm) {
	id := r.PathValue("id")
	var body map[string]interface{}
	if !decode(w, r, &body) {
		return
	}
	for i, c := range rl.clients {
		if c["id"] == id {
			body["id"] = id
			rl.clients[i] = body
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Could not find client")
}

func (s *Server) clientSecret(w http.ResponseWriter, r *http.Request, rl *realm) {
	secret, ok := rl.secrets[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "Could not find client")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"type": "secret", "value": secret})
}

func (s *Server) serviceAccountUser(w http.ResponseWriter, r *http.Request, rl *realm) {
	c := rl.clientByID(r.PathValue("id"))
	if c == nil {
		writeError(w, http.StatusNotFound, "Could not find client")
		return
	}
	u := rl.userByUsername("service-account-" + c["clientId"].(string))
	if u == nil {
		writeError(w, http.StatusBadRequest, "Service account not enabled for the client")
		return
	}
	writeJSON(w, http.StatusOK, u.doc)
}

func (s *Server) listClientRoles(w http.ResponseWriter, r *http.Request, rl *realm) {
	id := r.PathValue("id")
	if rl.clientByID(id) == nil {
		writeError(w, http.StatusNotFound, "Could not find client")
		return
	}
	out := []map[string]interface{}{}
	for _, name := range rl.clientRoles[id] {
		out = append(out, map[string]interface{}{
			"id":          "role-" + name,
			"name":        name,
			"clientRole":  true,
			"containerId": id,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ============================================================================
// Roles
// ============================================================================

func (s *Server) createRole(w http.ResponseWriter, r *http.Request, rl *realm) {
	var body struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "role name is required")
		return
	}
	if rl.hasRole(body.Name) {
		writeError(w, http.StatusConflict, fmt.Sprintf("Role with name %s already exists", body.Name))
		return
	}
	rl.roles = append(rl.roles, body.Name)
	s.creates++
	w.Header().Set("Location", fmt.Sprintf("%s%s/%s", s.URL, r.URL.Path, body.Name))
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) getRole(w http.ResponseWriter, r *http.Request, rl *realm) {
	name := r.PathValue("name")
	if !rl.hasRole(name) {
		writeError(w, http.StatusNotFound, "Could not find role")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":          "role-" + name,
		"name":        name,
		"composite":   false,
		"clientRole":  false,
		"containerId": rl.doc["id"],
	})
}

// ============================================================================
// Users
// ============================================================================

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request, rl *realm) {
	query := strings.ToLower(r.URL.Query().Get("username"))
	exact := r.URL.Query().Get("exact") == "true"
	out := []map[string]interface{}{}
	for _, u := range rl.users {
		if u.serviceAccount {
			continue
		}
		name := u.doc["username"].(string)
		if query == "" || (exact && name == query) || (!exact && strings.Contains(name, query)) {
			out = append(out, u.doc)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request, rl *realm) {
	var body map[string]interface{}
	if !decode(w, r, &body) {
		return
	}
	username, _ := body["username"].(string)
	if username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	if rl.userByUsername(username) != nil {
		writeError(w, http.StatusConflict, "User exists with same username")
		return
	}
	id := s.id("user")
	body["id"] = id
	body["username"] = strings.ToLower(username)
	rl.users = append(rl.users, &user{doc: body})
	s.creates++
	w.Header().Set("Location", fmt.Sprintf("%s%s/%s", s.URL, r.URL.Path, id))
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) mapRealmRoles(w http.ResponseWriter, r *http.Request, rl *realm) {
	id := r.PathValue("id")
	if rl.userByID(id) == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	var roles []struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &roles) {
		return
	}
	for _, role := range roles {
		if !rl.hasRole(role.Name) {
			writeError(w, http.StatusNotFound, "Role not found")
			return
		}
	}
	for _, role := range roles {
		rl.realmMapping[id] = appendUnique(rl.realmMapping[id], role.Name)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listClientMappings(w http.ResponseWriter, r *http.Request, rl *realm) {
	id, client := r.PathValue("id"), r.PathValue("client")
	if rl.userByID(id) == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	out := []map[string]interface{}{}
	for _, name := range rl.clientMapping[id][client] {
		out = append(out, map[string]interface{}{"id": "role-" + name, "name": name, "clientRole": true})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) mapClientRoles(w http.ResponseWriter, r *http.Request, rl *realm) {
	id, client := r.PathValue("id"), r.PathValue("client")
	if rl.userByID(id) == nil || rl.clientByID(client) == nil {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	var roles []struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &roles) {
		return
	}
	if rl.clientMapping[id] == nil {
		rl.clientMapping[id] = map[string][]string{}
	}
	for _, role := range roles {
		rl.clientMapping[id][client] = appendUnique(rl.clientMapping[id][client], role.Name)
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// User profile and keys
// ============================================================================

func (s *Server) getProfile(w http.ResponseWriter, _ *http.Request, rl *realm) {
	writeJSON(w, http.StatusOK, rl.profile)
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request, rl *realm) {
	var body map[string]interface{}
	if !decode(w, r, &body) {
		return
	}
	rl.profile = body
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) listKeys(w http.ResponseWriter, _ *http.Request, rl *realm) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active": map[string]string{},
		"keys":   rl.keys,
	})
}

// ============================================================================
// Helpers
// ============================================================================

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"errorMessage": msg})
}
