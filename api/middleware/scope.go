/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package middleware

import "strings"

// Scope is the kind of caller a route accepts.
type Scope string

const (
	// ScopePublic routes are reachable without a key (health, metrics, provider callbacks).
	ScopePublic Scope = "public"
	// ScopePartner routes act on behalf of the partner owning the presented API key.
	ScopePartner Scope = "partner"
	// ScopeAdmin routes require the master key.
	ScopeAdmin Scope = "admin"
)

// pathToScope maps the first path segment to the scope it requires.
var pathToScope = map[string]Scope{
	"":                ScopePublic,
	"callbacks":       ScopePublic,
	"metrics":         ScopePublic,
	"disbursements":   ScopePartner,
	"balance-monitor": ScopeAdmin,
	"partners":        ScopeAdmin,
	"blocks":          ScopeAdmin,
}

// scopeFromPath determines the scope for a URL path. Unknown paths require the master key.
func scopeFromPath(path string) Scope {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if scope, ok := pathToScope[parts[0]]; ok {
		return scope
	}
	return ScopeAdmin
}
