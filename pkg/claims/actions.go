package claims

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

// Action maps part of a source document into claims. Run must not mutate
// the identity; it receives it only to inspect claims already present.
// Implementations must tolerate any document shape.
type Action interface {
	// ClaimType is the claim type the action produces, used by
	// [Actions.Remove]. MapAllAction returns "".
	ClaimType() string

	// Run returns the claims to append.
	Run(doc map[string]any, identity *Identity, issuer string) []Claim
}

// Actions is an ordered collection of claim actions. Register actions at
// configuration time; Run is then safe to call from concurrent requests
// provided each call uses its own identity.
//
// Example:
//
//	var actions claims.Actions
//	actions.MapJSONKey(claims.TypeSubject, "id")
//	actions.MapJSONKey(claims.TypeEmail, "email")
//	actions.MapJSONSubKey(claims.TypeRole, "realm_access", "roles")
//	actions.Run(userInfo, identity, "https://idp.example.com")
type Actions struct {
	actions []Action
	deletes []string
}

// Add appends a custom action.
func (a *Actions) Add(action Action) {
	a.actions = append(a.actions, action)
}

// MapJSONKey maps a top-level key. A scalar yields one claim, an array
// yields one claim per non-null element, and an object yields its JSON
// text.
func (a *Actions) MapJSONKey(claimType, jsonKey string) {
	a.Add(JSONKeyAction{Type: claimType, Key: jsonKey})
}

// MapUniqueJSONKey is MapJSONKey that adds nothing when the identity
// already holds any claim of claimType.
func (a *Actions) MapUniqueJSONKey(claimType, jsonKey string) {
	a.Add(UniqueJSONKeyAction{JSONKeyAction{Type: claimType, Key: jsonKey}})
}

// MapJSONSubKey maps doc[jsonKey][subKey] with the MapJSONKey rules.
func (a *Actions) MapJSONSubKey(claimType, jsonKey, subKey string) {
	a.Add(JSONSubKeyAction{JSONKeyAction: JSONKeyAction{Type: claimType, Key: jsonKey}, SubKey: subKey})
}

// MapAll maps every top-level key to a claim of the same name, skipping
// exact duplicates of claims the identity already holds.
func (a *Actions) MapAll() {
	a.Add(MapAllAction{})
}

// MapCustomJSON maps the string returned by resolve. An empty string
// yields no claim.
func (a *Actions) MapCustomJSON(claimType string, resolve func(doc map[string]any) string) {
	a.Add(CustomJSONAction{Type: claimType, Resolve: resolve})
}

// MapJMESPath maps the result of a JMESPath expression evaluated against
// the document. The expression is compiled once here so syntax errors
// surface at configuration time.
func (a *Actions) MapJMESPath(claimType, expression string) error {
	action, err := NewJMESPathAction(claimType, expression)
	if err != nil {
		return err
	}
	a.Add(action)
	return nil
}

// DeleteClaim removes every claim of claimType after all actions have run.
// Use it to drop claims a provider sends that the application must not
// trust.
func (a *Actions) DeleteClaim(claimType string) {
	a.deletes = append(a.deletes, claimType)
}

// Remove drops every registered action producing claimType.
func (a *Actions) Remove(claimType string) {
	kept := a.actions[:0]
	for _, act := range a.actions {
		if !strings.EqualFold(act.ClaimType(), claimType) {
			kept = append(kept, act)
		}
	}
	a.actions = kept
}

// Len returns the number of registered actions.
func (a *Actions) Len() int {
	return len(a.actions)
}

// Run applies every action in order, appending results to identity, then
// applies registered deletions. A nil document is a no-op.
func (a *Actions) Run(doc map[string]any, identity *Identity, issuer string) {
	if doc == nil || identity == nil {
		return
	}
	for _, act := range a.actions {
		identity.AddClaims(act.Run(doc, identity, issuer)...)
	}
	for _, t := range a.deletes {
		identity.RemoveClaims(t)
	}
}

// ParseDocument decodes a JSON object with numbers preserved as
// [json.Number] so large integers stringify exactly.
func ParseDocument(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidationFormat, "claims: document is not a JSON object")
	}
	return doc, nil
}

// ---------------------------------------------------------------------------
// JSONKeyAction
// ---------------------------------------------------------------------------

// JSONKeyAction maps doc[Key] to claims of Type.
type JSONKeyAction struct {
	Type      string
	Key       string
	ValueType string
}

// ClaimType implements [Action].
func (a JSONKeyAction) ClaimType() string { return a.Type }

// Run implements [Action].
func (a JSONKeyAction) Run(doc map[string]any, _ *Identity, issuer string) []Claim {
	v, ok := doc[a.Key]
	if !ok {
		return nil
	}
	return valueClaims(a.Type, v, a.ValueType, issuer)
}

// UniqueJSONKeyAction is a [JSONKeyAction] that yields nothing when the
// identity already has a claim of the same type.
type UniqueJSONKeyAction struct {
	JSONKeyAction
}

// Run implements [Action].
func (a UniqueJSONKeyAction) Run(doc map[string]any, identity *Identity, issuer string) []Claim {
	if _, exists := identity.FindFirst(a.Type); exists {
		return nil
	}
	return a.JSONKeyAction.Run(doc, identity, issuer)
}

// JSONSubKeyAction maps doc[Key][SubKey] to claims of Type.
type JSONSubKeyAction struct {
	JSONKeyAction
	SubKey string
}

// Run implements [Action].
func (a JSONSubKeyAction) Run(doc map[string]any, _ *Identity, issuer string) []Claim {
	parent, ok := doc[a.Key].(map[string]any)
	if !ok {
		return nil
	}
	v, ok := parent[a.SubKey]
	if !ok {
		return nil
	}
	return valueClaims(a.Type, v, a.ValueType, issuer)
}

// ---------------------------------------------------------------------------
// MapAllAction
// ---------------------------------------------------------------------------

// MapAllAction maps every top-level key to a claim named after the key.
// Arrays and objects become their JSON text. A claim is skipped when the
// identity already holds the same type (case-insensitive) with exactly
// the same value; the same type with a different value is kept. This
// happens routinely when a provider returns a claim in both the id_token
// and the user-info response.
type MapAllAction struct{}

// ClaimType implements [Action].
func (MapAllAction) ClaimType() string { return "" }

// Run implements [Action]. Keys are visited in sorted order.
func (MapAllAction) Run(doc map[string]any, identity *Identity, issuer string) []Claim {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Claim
	for _, k := range keys {
		value, ok := stringify(doc[k])
		if !ok {
			continue
		}
		if identity.HasClaim(k, value) {
			continue
		}
		out = append(out, NewIssued(k, value, ValueTypeString, issuer))
	}
	return out
}

// ---------------------------------------------------------------------------
// CustomJSONAction
// ---------------------------------------------------------------------------

// CustomJSONAction maps a value computed from the whole document.
type CustomJSONAction struct {
	Type      string
	ValueType string
	Resolve   func(doc map[string]any) string
}

// ClaimType implements [Action].
func (a CustomJSONAction) ClaimType() string { return a.Type }

// Run implements [Action].
func (a CustomJSONAction) Run(doc map[string]any, _ *Identity, issuer string) []Claim {
	if a.Resolve == nil {
		return nil
	}
	value := a.Resolve(doc)
	if value == "" {
		return nil
	}
	return []Claim{NewIssued(a.Type, value, a.ValueType, issuer)}
}

// ---------------------------------------------------------------------------
// JMESPathAction
// ---------------------------------------------------------------------------

// JMESPathAction maps the result of a JMESPath query. A scalar result
// yields one claim and an array result yields one claim per non-null
// element. Evaluation errors yield nothing.
type JMESPathAction struct {
	Type       string
	ValueType  string
	Expression string
}

// NewJMESPathAction validates expression and returns the action.
func NewJMESPathAction(claimType, expression string) (JMESPathAction, error) {
	if _, err := jmespath.Compile(expression); err != nil {
		return JMESPathAction{}, sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"claims: invalid JMESPath expression for claim %q", claimType)
	}
	return JMESPathAction{Type: claimType, Expression: expression}, nil
}

// ClaimType implements [Action].
func (a JMESPathAction) ClaimType() string { return a.Type }

// Run implements [Action].
func (a JMESPathAction) Run(doc map[string]any, _ *Identity, issuer string) []Claim {
	result, err := jmespath.Search(a.Expression, doc)
	if err != nil || result == nil {
		return nil
	}
	return valueClaims(a.Type, result, a.ValueType, issuer)
}

// ---------------------------------------------------------------------------
// Value conversion
// ---------------------------------------------------------------------------

// valueClaims converts v into claims: arrays fan out, scalars are
// stringified. Objects, nulls and empty strings are skipped.
func valueClaims(claimType string, v any, valueType, issuer string) []Claim {
	if isObject(v) {
		return nil
	}
	if arr, ok := v.([]any); ok {
		var out []Claim
		for _, el := range arr {
			if isObject(el) {
				continue
			}
			if s, ok := stringify(el); ok {
				out = append(out, NewIssued(claimType, s, valueType, issuer))
			}
		}
		return out
	}
	if s, ok := stringify(v); ok {
		return []Claim{NewIssued(claimType, s, valueType, issuer)}
	}
	return nil
}

func isObject(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

// stringify renders a decoded JSON value as claim text. It reports false
// for null and empty strings.
func stringify(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		s = strconv.FormatBool(t)
	case int, int32, int64, uint, uint32, uint64:
		s = fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		s = string(b)
	}
	return s, s != ""
}
