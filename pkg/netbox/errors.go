package netbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/newtron-network/nbseed/pkg/util"
)

// APIError is a non-2xx response that is neither a conflict nor a missing object.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string              // "detail" member, if the body had one
	Fields     map[string][]string // field name -> messages
	Body       string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	switch {
	case e.Detail != "":
		msg += ": " + e.Detail
	case len(e.Fields) > 0:
		msg += ": " + formatFields(e.Fields)
	case e.Body != "":
		msg += ": " + e.Body
	}
	return msg
}

// ConflictError reports that the object's natural key is already taken.
type ConflictError struct {
	Endpoint string
	Fields   []string // fields named in the uniqueness message, sorted
	Err      *APIError
}

func (e *ConflictError) Error() string {
	if len(e.Fields) == 0 {
		return e.Endpoint + ": already exists"
	}
	return fmt.Sprintf("%s: already exists (%s)", e.Endpoint, strings.Join(e.Fields, ", "))
}

// Unwrap exposes both the sentinel and the underlying response.
func (e *ConflictError) Unwrap() []error {
	return []error{util.ErrAlreadyExists, e.Err}
}

// NotFoundError reports a missing object, either the target of a lookup or a
// related object referenced by a write (Fields names the offending fields).
type NotFoundError struct {
	Endpoint string
	Query    string
	Fields   []string
	Err      *APIError
}

func (e *NotFoundError) Error() string {
	switch {
	case len(e.Fields) > 0:
		return fmt.Sprintf("%s: related object not found (%s)", e.Endpoint, strings.Join(e.Fields, ", "))
	case e.Query != "":
		return fmt.Sprintf("%s: no object matches %s", e.Endpoint, e.Query)
	}
	return e.Endpoint + ": not found"
}

// Unwrap exposes both the sentinel and the underlying response, if any.
func (e *NotFoundError) Unwrap() []error {
	if e.Err == nil {
		return []error{util.ErrNotFound}
	}
	return []error{util.ErrNotFound, e.Err}
}

// IsConflict reports whether err is a uniqueness conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is a missing-object error. When fields are
// given, it only matches related-object errors on one of those fields.
func IsNotFound(err error, fields ...string) bool {
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		return false
	}
	if len(fields) == 0 {
		return true
	}
	for _, want := range fields {
		for _, f := range nf.Fields {
			if f == want {
				return true
			}
		}
	}
	return false
}

// Phrases NetBox (Django, DRF and the model clean() methods) uses when a
// write collides with an existing object. This is the only place server
// wording is matched.
var conflictPhrases = []string{
	"already exists",
	"must make a unique set",
	"must be unique per",
	"duplicate termination found",
	"duplicate prefix found",
	"duplicate ip address found",
	"already has a cable",
}

var relatedNotFoundPhrases = []string{
	"related object not found",
	"object does not exist",
	"invalid pk",
}

// classify turns a failed response into ConflictError, NotFoundError or APIError.
func classify(method, path, endpoint string, status int, body []byte) error {
	apiErr := &APIError{
		Method:     method,
		Path:       path,
		StatusCode: status,
		Body:       strings.TrimSpace(string(body)),
	}
	apiErr.Detail, apiErr.Fields = parseErrorBody(body)

	switch status {
	case http.StatusNotFound:
		return &NotFoundError{Endpoint: endpoint, Err: apiErr}
	case http.StatusBadRequest, http.StatusConflict:
		// 409 also covers exhausted allocation pools, so it is matched by
		// phrase like 400.
		if fields := fieldsMatching(apiErr.Fields, conflictPhrases); len(fields) > 0 {
			return &ConflictError{Endpoint: endpoint, Fields: fields, Err: apiErr}
		}
		if anyContains([]string{apiErr.Detail}, conflictPhrases) {
			return &ConflictError{Endpoint: endpoint, Err: apiErr}
		}
		if fields := fieldsMatching(apiErr.Fields, relatedNotFoundPhrases); len(fields) > 0 {
			return &NotFoundError{Endpoint: endpoint, Fields: fields, Err: apiErr}
		}
	}
	return apiErr
}

// parseErrorBody reads the error shapes NetBox returns: {"detail": "..."},
// {"field": ["msg", ...]}, nested {"field": [{"sub": ["msg"]}]}, or a list of
// those for bulk requests.
func parseErrorBody(body []byte) (string, map[string][]string) {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", nil
	}
	if list, ok := raw.([]interface{}); ok && len(list) > 0 {
		raw = list[0]
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return "", nil
	}

	var detail string
	fields := make(map[string][]string)
	for k, v := range obj {
		if k == "detail" {
			detail, _ = v.(string)
			continue
		}
		fields[k] = flattenMessages(v)
	}
	return detail, fields
}

func flattenMessages(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []interface{}:
		var out []string
		for _, item := range t {
			out = append(out, flattenMessages(item)...)
		}
		return out
	case map[string]interface{}:
		var out []string
		for _, k := range sortedKeysAny(t) {
			out = append(out, flattenMessages(t[k])...)
		}
		return out
	}
	return nil
}

func fieldsMatching(fields map[string][]string, phrases []string) []string {
	var out []string
	for field, msgs := range fields {
		if anyContains(msgs, phrases) {
			out = append(out, field)
		}
	}
	sort.Strings(out)
	return out
}

func anyContains(msgs, phrases []string) bool {
	for _, m := range msgs {
		lower := strings.ToLower(m)
		for _, p := range phrases {
			if strings.Contains(lower, p) {
				return true
			}
		}
	}
	return false
}

func formatFields(fields map[string][]string) string {
	parts := make([]string, 0, len(fields))
	for _, k := range sortedKeys(fields) {
		parts = append(parts, k+": "+strings.Join(fields[k], "; "))
	}
	return strings.Join(parts, ", ")
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysAny(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
