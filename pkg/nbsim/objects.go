package nbsim

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/newtron-network/nbseed/pkg/netbox"
)

const (
	defaultPageSize = 50
	maxPageSize     = 1000
)

// ============================================================================
// Handlers
// ============================================================================

func (s *Server) handleList(k *kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		recs, err := s.store.list(ctx, s.db, k.endpoint)
		if err != nil {
			s.writeError(w, k, err)
			return
		}
		query := r.URL.Query()
		recs, err = s.filter(ctx, k, recs, query)
		if err != nil {
			s.writeError(w, k, err)
			return
		}

		limit, offset := pageBounds(query)
		end := offset + limit
		if end > len(recs) {
			end = len(recs)
		}
		results := []map[string]any{}
		if offset < len(recs) {
			for _, rec := range recs[offset:end] {
				out, err := s.render(ctx, s.db, origin(r), k, rec)
				if err != nil {
					s.writeError(w, k, err)
					return
				}
				results = append(results, out)
			}
		}

		var next, previous any
		if end < len(recs) {
			next = pageURL(r, limit, end)
		}
		if offset > 0 {
			prev := offset - limit
			if prev < 0 {
				prev = 0
			}
			previous = pageURL(r, limit, prev)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count":    len(recs),
			"next":     next,
			"previous": previous,
			"results":  results,
		})
	}
}

func (s *Server) handleGet(k *kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(r.PathValue("id"))
		if err != nil {
			s.writeError(w, k, notFound())
			return
		}
		s.respondObject(w, r, http.StatusOK, k, id)
	}
}

func (s *Server) handleCreate(k *kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		data, err := decodeBody(r)
		if err != nil {
			s.writeError(w, k, err)
			return
		}
		var id int
		err = s.store.withTx(ctx, func(tx *sql.Tx) error {
			var err error
			id, err = s.createObject(ctx, tx, k, data)
			return err
		})
		if err != nil {
			s.writeError(w, k, err)
			return
		}
		s.countCreate(k.endpoint)
		s.respondObject(w, r, http.StatusCreated, k, id)
	}
}

func (s *Server) handlePatch(k *kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := strconv.Atoi(r.PathValue("id"))
		if err != nil {
			s.writeError(w, k, notFound())
			return
		}
		data, err := decodeBody(r)
		if err != nil {
			s.writeError(w, k, err)
			return
		}
		err = s.store.withTx(ctx, func(tx *sql.Tx) error {
			rec, err := s.store.getKind(ctx, tx, k.endpoint, id)
			if errors.Is(err, errNoObject) {
				return notFound()
			}
			if err != nil {
				return err
			}
			merged, err := s.prepare(ctx, tx, k, data, rec.Data)
			if err != nil {
				return err
			}
			rec.Data = merged
			return s.store.update(ctx, tx, rec, k.keys(merged))
		})
		if err != nil {
			s.writeError(w, k, err)
			return
		}
		s.respondObject(w, r, http.StatusOK, k, id)
	}
}

func (s *Server) handleDelete(k *kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := strconv.Atoi(r.PathValue("id"))
		if err != nil {
			s.writeError(w, k, notFound())
			return
		}
		if _, err := s.store.getKind(ctx, s.db, k.endpoint, id); err != nil {
			if errors.Is(err, errNoObject) {
				err = notFound()
			}
			s.writeError(w, k, err)
			return
		}
		if _, err := s.db.ExecContext(ctx, "DELETE FROM objects WHERE id = ?", id); err != nil {
			s.writeError(w, k, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) respondObject(w http.ResponseWriter, r *http.Request, status int, k *kind, id int) {
	ctx := r.Context()
	rec, err := s.store.getKind(ctx, s.db, k.endpoint, id)
	if errors.Is(err, errNoObject) {
		s.writeError(w, k, notFound())
		return
	}
	if err != nil {
		s.writeError(w, k, err)
		return
	}
	out, err := s.render(ctx, s.db, origin(r), k, *rec)
	if err != nil {
		s.writeError(w, k, err)
		return
	}
	writeJSON(w, status, out)
}

func decodeBody(r *http.Request) (object, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, &httpError{status: http.StatusBadRequest, body: map[string]string{"detail": err.Error()}}
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return nil, &httpError{status: http.StatusBadRequest, body: map[string]string{"detail": "Bulk operations are not supported."}}
	}
	data, err := decodeObject(body)
	if err != nil {
		return nil, &httpError{status: http.StatusBadRequest, body: map[string]string{"detail": "JSON parse error - " + err.Error()}}
	}
	return data, nil
}

// ============================================================================
// Writes
// ============================================================================

// createObject validates data and inserts it inside tx.
func (s *Server) createObject(ctx context.Context, tx *sql.Tx, k *kind, data object) (int, error) {
	clean, err := s.prepare(ctx, tx, k, data, nil)
	if err != nil {
		return 0, err
	}
	id, err := s.store.insert(ctx, tx, k.endpoint, clean, k.keys(clean))
	if err != nil {
		return 0, err
	}
	if k.endpoint == netbox.EndpointDevices {
		if err := s.instantiateInterfaces(ctx, tx, id, clean); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// prepare merges data over base, drops unknown fields, applies defaults and
// resolves references. Field errors come back as a 400 httpError.
func (s *Server) prepare(ctx context.Context, q querier, k *kind, data, base object) (object, error) {
	out := object{}
	for f, v := range base {
		out[f] = v
	}
	for f, v := range data {
		if k.accepts(f) {
			out[f] = v
		}
	}
	for f, def := range k.choices {
		if text(out[f]) == "" && def != "" {
			out[f] = def
		}
	}

	errs := map[string][]string{}
	for _, f := range k.required {
		if isBlank(out[f]) {
			errs[f] = append(errs[f], "This field is required.")
		}
	}
	if len(errs) > 0 {
		return nil, badRequest(errs)
	}

	for f, endpoint := range k.refs {
		v, ok := out[f]
		if !ok || v == nil {
			continue
		}
		id, ok := refID(v)
		if !ok {
			errs[f] = append(errs[f], "Incorrect type. Expected pk value.")
			continue
		}
		if _, err := s.store.getKind(ctx, q, endpoint, id); err != nil {
			if !errors.Is(err, errNoObject) {
				return nil, err
			}
			errs[f] = append(errs[f], fmt.Sprintf("Related object not found using the provided attributes: {'pk': %d}", id))
			continue
		}
		out[f] = id
	}

	if k.tagged {
		if v, ok := out["tags"]; ok {
			ids, msgs, err := s.resolveTags(ctx, q, v)
			if err != nil {
				return nil, err
			}
			if len(msgs) > 0 {
				errs["tags"] = msgs
			} else {
				out["tags"] = ids
			}
		}
	}

	if k.assigned && !isBlank(out["assigned_object_type"]) {
		objType := text(out["assigned_object_type"])
		endpoint, ok := assignedKinds[objType]
		id, idOK := intOf(out["assigned_object_id"])
		switch {
		case !ok:
			errs["assigned_object_type"] = []string{fmt.Sprintf("Invalid content type: %s", objType)}
		case !idOK:
			errs["assigned_object_id"] = []string{"A valid integer is required."}
		default:
			if _, err := s.store.getKind(ctx, q, endpoint, id); err != nil {
				if !errors.Is(err, errNoObject) {
					return nil, err
				}
				errs["assigned_object_id"] = []string{fmt.Sprintf("Related object not found using the provided attributes: {'pk': %d}", id)}
			}
			out["assigned_object_id"] = id
		}
	}

	if k.endpoint == netbox.EndpointCables {
		for _, side := range []string{"a_terminations", "b_terminations"} {
			msgs, norm, err := s.checkTerminations(ctx, q, out[side])
			if err != nil {
				return nil, err
			}
			if len(msgs) > 0 {
				errs[side] = msgs
				continue
			}
			out[side] = norm
		}
	}

	for f, msg := range checkValues(k, out) {
		errs[f] = append(errs[f], msg)
	}

	if len(errs) > 0 {
		return nil, badRequest(errs)
	}
	return out, nil
}

// checkValues applies the per-field range and format checks NetBox does.
func checkValues(k *kind, o object) map[string]string {
	errs := map[string]string{}
	switch k.endpoint {
	case netbox.EndpointPrefixes:
		if _, err := netip.ParsePrefix(text(o["prefix"])); err != nil {
			errs["prefix"] = fmt.Sprintf("Invalid prefix: %s", text(o["prefix"]))
		}
	case netbox.EndpointIPAddresses:
		if _, err := netip.ParsePrefix(text(o["address"])); err != nil {
			errs["address"] = fmt.Sprintf("Invalid IP address format: %s", text(o["address"]))
		}
	case netbox.EndpointVLANs:
		vid, ok := intOf(o["vid"])
		switch {
		case !ok:
			errs["vid"] = "A valid integer is required."
		case vid < 1:
			errs["vid"] = "Ensure this value is greater than or equal to 1."
		case vid > 4094:
			errs["vid"] = "Ensure this value is less than or equal to 4094."
		}
	case netbox.EndpointASNs:
		asn, err := strconv.ParseInt(text(o["asn"]), 10, 64)
		switch {
		case err != nil:
			errs["asn"] = "A valid integer is required."
		case asn < 1:
			errs["asn"] = "Ensure this value is greater than or equal to 1."
		case asn > 4294967295:
			errs["asn"] = "Ensure this value is less than or equal to 4294967295."
		}
	}
	return errs
}

func (s *Server) checkTerminations(ctx context.Context, q querier, v any) ([]string, []any, error) {
	var msgs []string
	var norm []any
	for _, t := range terminations(v) {
		endpoint, ok := assignedKinds[t.ObjectType]
		if !ok || t.ObjectType != netbox.ObjectTypeInterface {
			msgs = append(msgs, fmt.Sprintf("Invalid content type: %s", t.ObjectType))
			continue
		}
		if _, err := s.store.getKind(ctx, q, endpoint, t.ObjectID); err != nil {
			if !errors.Is(err, errNoObject) {
				return nil, nil, err
			}
			msgs = append(msgs, fmt.Sprintf("Related object not found using the provided attributes: {'pk': %d}", t.ObjectID))
			continue
		}
		norm = append(norm, map[string]any{"object_type": t.ObjectType, "object_id": t.ObjectID})
	}
	if len(msgs) == 0 && len(norm) == 0 {
		msgs = append(msgs, "This field is required.")
	}
	return msgs, norm, nil
}

// resolveTags maps tag references ({"name": ..}, {"slug": ..}, {"id": ..}, a
// bare ID or a bare name) to tag IDs.
func (s *Server) resolveTags(ctx context.Context, q querier, v any) ([]int, []string, error) {
	items, ok := v.([]any)
	if !ok && v != nil {
		return nil, []string{"Expected a list of items."}, nil
	}
	tags, err := s.store.list(ctx, q, netbox.EndpointTags)
	if err != nil {
		return nil, nil, err
	}

	var ids []int
	var msgs []string
	for _, item := range items {
		attr, want := "name", ""
		switch t := item.(type) {
		case map[string]any:
			for _, a := range []string{"id", "name", "slug"} {
				if val, ok := t[a]; ok {
					attr, want = a, text(val)
					break
				}
			}
		case string:
			want = t
		default:
			attr, want = "id", text(t)
		}

		found := 0
		for _, tag := range tags {
			if (attr == "id" && strconv.Itoa(tag.ID) == want) || (attr != "id" && text(tag.Data[attr]) == want) {
				found = tag.ID
				break
			}
		}
		if found == 0 {
			msgs = append(msgs, fmt.Sprintf("Related object not found using the provided attributes: {'%s': '%s'}", attr, want))
			continue
		}
		ids = append(ids, found)
	}
	if ids == nil {
		ids = []int{}
	}
	return ids, msgs, nil
}

// instantiateInterfaces copies the device type's interface templates onto a
// new device.
func (s *Server) instantiateInterfaces(ctx context.Context, tx *sql.Tx, deviceID int, device object) error {
	dtID, _ := intOf(device["device_type"])
	templates, err := s.store.list(ctx, tx, netbox.EndpointInterfaceTemplates)
	if err != nil {
		return err
	}
	ifaces := kindsByEndpoint[netbox.EndpointInterfaces]
	for _, tpl := range templates {
		if id, _ := intOf(tpl.Data["device_type"]); id != dtID {
			continue
		}
		iface := object{
			"device": deviceID,
			"name":   tpl.Data["name"],
			"type":   tpl.Data["type"],
		}
		if _, err := s.store.insert(ctx, tx, ifaces.endpoint, iface, ifaces.keys(iface)); err != nil {
			return fmt.Errorf("instantiating %s on device %d: %w", text(tpl.Data["name"]), deviceID, err)
		}
	}
	return nil
}

// ============================================================================
// Reads
// ============================================================================

func (s *Server) render(ctx context.Context, q querier, base string, k *kind, rec record) (map[string]any, error) {
	out := map[string]any{
		"id":      rec.ID,
		"url":     objectURL(base, k.endpoint, rec.ID),
		"display": k.display(rec.ID, rec.Data),
	}
	for _, f := range k.fields {
		out[f] = rec.Data[f]
	}
	for _, f := range k.lists {
		out[f] = rec.Data[f]
	}
	for f := range k.choices {
		if v := text(rec.Data[f]); v != "" {
			out[f] = map[string]string{"value": v, "label": choiceLabel(v)}
		} else {
			out[f] = nil
		}
	}
	for f := range k.refs {
		ref, err := s.nested(ctx, q, base, rec.Data[f])
		if err != nil {
			return nil, err
		}
		out[f] = ref
	}
	if k.tagged {
		tags := []any{}
		items, _ := rec.Data["tags"].([]any)
		for _, item := range items {
			ref, err := s.nested(ctx, q, base, item)
			if err != nil {
				return nil, err
			}
			if ref != nil {
				tags = append(tags, ref)
			}
		}
		out["tags"] = tags
	}
	if k.assigned {
		out["assigned_object_type"] = rec.Data["assigned_object_type"]
		out["assigned_object_id"] = rec.Data["assigned_object_id"]
		ref, err := s.nested(ctx, q, base, rec.Data["assigned_object_id"])
		if err != nil {
			return nil, err
		}
		out["assigned_object"] = ref
	}

	if k.endpoint == netbox.EndpointInterfaces {
		n, err := s.store.countWhere(ctx, q, netbox.EndpointIPAddresses, map[string]any{
			"assigned_object_type": netbox.ObjectTypeInterface,
			"assigned_object_id":   rec.ID,
		})
		if err != nil {
			return nil, err
		}
		out["count_ipaddresses"] = n

		cableID, ok, err := s.store.keyOwner(ctx, q, netbox.EndpointCables,
			fmt.Sprintf("termination=%s:%d", netbox.ObjectTypeInterface, rec.ID))
		if err != nil {
			return nil, err
		}
		out["cable"] = nil
		if ok {
			if out["cable"], err = s.nested(ctx, q, base, cableID); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// nested renders a brief reference to the object with the given ID.
func (s *Server) nested(ctx context.Context, q querier, base string, v any) (any, error) {
	id, ok := refID(v)
	if !ok || id == 0 {
		return nil, nil
	}
	rec, err := s.store.get(ctx, q, id)
	if errors.Is(err, errNoObject) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	k := kindsByEndpoint[rec.Kind]
	ref := map[string]any{
		"id":      rec.ID,
		"url":     objectURL(base, rec.Kind, rec.ID),
		"display": k.display(rec.ID, rec.Data),
	}
	for _, f := range []string{"name", "slug", "model", "asn", "address", "prefix"} {
		if v, ok := rec.Data[f]; ok {
			ref[f] = v
		}
	}
	return ref, nil
}

// filter applies query parameters the way NetBox's filter sets do: values of
// one parameter are ORed, parameters are ANDed.
func (s *Server) filter(ctx context.Context, k *kind, recs []record, query url.Values) ([]record, error) {
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch key {
		case "limit", "offset", "brief", "ordering":
			continue
		}
		vals := query[key]
		match, err := s.matcher(ctx, k, key)
		if err != nil {
			return nil, err
		}
		kept := recs[:0:0]
		for _, rec := range recs {
			got, err := match(rec)
			if err != nil {
				return nil, err
			}
			if containsAny(got, vals) {
				kept = append(kept, rec)
			}
		}
		recs = kept
	}
	return recs, nil
}

// matcher returns the values a record offers for filter key.
func (s *Server) matcher(ctx context.Context, k *kind, key string) (func(record) ([]string, error), error) {
	if key == "id" {
		return func(rec record) ([]string, error) { return []string{strconv.Itoa(rec.ID)}, nil }, nil
	}
	if base, ok := strings.CutSuffix(key, "_id"); ok {
		if _, isRef := k.refs[base]; isRef {
			return func(rec record) ([]string, error) { return []string{text(rec.Data[base])}, nil }, nil
		}
		if k.assigned {
			objType := "dcim." + base
			if base == "vlan" {
				objType = netbox.ObjectTypeVLAN
			}
			if _, known := assignedKinds[objType]; known {
				return func(rec record) ([]string, error) {
					if text(rec.Data["assigned_object_type"]) != objType {
						return nil, nil
					}
					return []string{text(rec.Data["assigned_object_id"])}, nil
				}, nil
			}
		}
	}
	if _, isRef := k.refs[key]; isRef {
		return func(rec record) ([]string, error) {
			id, ok := refID(rec.Data[key])
			if !ok {
				return nil, nil
			}
			target, err := s.store.get(ctx, s.db, id)
			if errors.Is(err, errNoObject) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return []string{text(target.Data["slug"]), text(target.Data["name"]), strconv.Itoa(id)}, nil
		}, nil
	}
	if key == "tag" && k.tagged {
		return func(rec record) ([]string, error) {
			var slugs []string
			items, _ := rec.Data["tags"].([]any)
			for _, item := range items {
				id, _ := refID(item)
				tag, err := s.store.get(ctx, s.db, id)
				if err != nil {
					continue
				}
				slugs = append(slugs, text(tag.Data["slug"]))
			}
			return slugs, nil
		}, nil
	}
	if k.accepts(key) {
		return func(rec record) ([]string, error) { return []string{text(rec.Data[key])}, nil }, nil
	}
	return nil, fieldError(key, "Unknown filter.")
}

// ============================================================================
// Helpers
// ============================================================================

func refID(v any) (int, bool) {
	if m, ok := v.(map[string]any); ok {
		return intOf(m["id"])
	}
	return intOf(v)
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	}
	return false
}

func containsAny(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h != "" && h == w {
				return true
			}
		}
	}
	return false
}

func choiceLabel(v string) string {
	words := strings.Fields(strings.ReplaceAll(v, "-", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func origin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func objectURL(base, endpoint string, id int) string {
	return fmt.Sprintf("%s/api/%s/%d/", base, endpoint, id)
}

func pageBounds(q url.Values) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		limit = v
		if limit <= 0 || limit > maxPageSize {
			limit = maxPageSize
		}
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func pageURL(r *http.Request, limit, offset int) string {
	q := r.URL.Query()
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return origin(r) + r.URL.Path + "?" + q.Encode()
}
