package netbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler, token string) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, token)
	require.NoError(t, err)
	return c
}

func TestNewClientRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8000", "ftp://netbox", "http://"} {
		_, err := NewClient(raw, "")
		assert.Error(t, err, "NewClient(%q)", raw)
	}
}

func TestClientOptionsLeaveSharedHTTPClientAlone(t *testing.T) {
	shared := &http.Client{Timeout: time.Minute}
	c, err := NewClient("http://netbox.example", "", WithHTTPClient(shared), WithTimeout(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, time.Minute, shared.Timeout)
	assert.Equal(t, 5*time.Second, c.httpClient.Timeout)

	c, err = NewClient("http://netbox.example", "", WithHTTPClient(nil), WithTimeout(5*time.Second))
	require.NoError(t, err)
	require.NotNil(t, c.httpClient)
	assert.Equal(t, 5*time.Second, c.httpClient.Timeout)
}

func TestCreateSendsTokenAndBody(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody SiteRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 7, "name": "lab", "slug": "lab", "status": {"value": "active", "label": "Active"}}`)
	}), "s3cret")

	site, err := Create[Site](context.Background(), c, EndpointSites, SiteRequest{Name: "lab", Slug: "lab", Status: StatusActive})
	require.NoError(t, err)

	assert.Equal(t, "Token s3cret", gotAuth)
	assert.Equal(t, "/api/dcim/sites/", gotPath)
	assert.Equal(t, "lab", gotBody.Name)
	assert.Equal(t, 7, site.ID)
	assert.Equal(t, "active", site.Status.Value)
}

func TestNoTokenNoHeader(t *testing.T) {
	var sawHeader bool
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawHeader = r.Header["Authorization"]
		fmt.Fprint(w, `{"netbox-version": "4.1.0"}`)
	}), "")

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, sawHeader)
	assert.Equal(t, "4.1.0", st.NetBoxVersion)
}

func TestCreateConflict(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"name": ["site with this name already exists."]}`)
	}), "")

	_, err := Create[Site](context.Background(), c, EndpointSites, SiteRequest{Name: "lab", Slug: "lab"})
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.Contains(t, err.Error(), "dcim/sites")
}

func TestListFollowsPagination(t *testing.T) {
	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("/api/dcim/devices/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") == "" {
			fmt.Fprintf(w, `{"count": 3, "next": "%s/api/dcim/devices/?limit=2&offset=2&site=lab", "results": [{"id": 1, "name": "a"}, {"id": 2, "name": "b"}]}`, srvURL)
			return
		}
		assert.Equal(t, "lab", r.URL.Query().Get("site"))
		fmt.Fprint(w, `{"count": 3, "next": null, "results": [{"id": 3, "name": "c"}]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	// Report a different host in next links, as a NetBox behind a tunnel does.
	srvURL = "http://netbox.internal:8000"

	c, err := NewClient(srv.URL, "")
	require.NoError(t, err)

	devices, err := List[Device](context.Background(), c, EndpointDevices, Query("site", "lab"))
	require.NoError(t, err)
	require.Len(t, devices, 3)
	assert.Equal(t, "c", devices[2].Name)
}

func TestGetCardinality(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("name") {
		case "none":
			fmt.Fprint(w, `{"count": 0, "next": null, "results": []}`)
		case "one":
			fmt.Fprint(w, `{"count": 1, "next": null, "results": [{"id": 4, "name": "one"}]}`)
		default:
			fmt.Fprint(w, `{"count": 2, "next": null, "results": [{"id": 4}, {"id": 5}]}`)
		}
	}), "")
	ctx := context.Background()

	_, err := Get[Tag](ctx, c, EndpointTags, Query("name", "none"))
	assert.True(t, IsNotFound(err), "zero matches should be NotFoundError, got %v", err)

	tag, err := Get[Tag](ctx, c, EndpointTags, Query("name", "one"))
	require.NoError(t, err)
	assert.Equal(t, 4, tag.ID)

	_, err = Get[Tag](ctx, c, EndpointTags, Query("name", "many"))
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
}

func TestAllocatePaths(t *testing.T) {
	var paths []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		if r.URL.Path == "/api/ipam/prefixes/9/available-prefixes/" {
			fmt.Fprint(w, `{"id": 10, "prefix": "10.0.0.0/31"}`)
			return
		}
		fmt.Fprint(w, `{"id": 11, "address": "10.0.0.0/31"}`)
	}), "")
	ctx := context.Background()

	p, err := c.AllocatePrefix(ctx, 9, AvailablePrefixRequest{PrefixLength: 31})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/31", p.Prefix)

	ip, err := c.AllocateIP(ctx, p.ID, AvailableIPRequest{AssignedObjectType: ObjectTypeInterface, AssignedObjectID: 3})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/31", ip.Address)

	assert.Equal(t, []string{
		"POST /api/ipam/prefixes/9/available-prefixes/",
		"POST /api/ipam/prefixes/10/available-ips/",
	}, paths)
}

func TestBaseURLPathPrefix(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"id": 1, "name": "Ethernet1", "type": {"value": "1000base-t"}, "count_ipaddresses": 2}`)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL+"/netbox/", "")
	require.NoError(t, err)

	iface, err := GetByID[Interface](context.Background(), c, EndpointInterfaces, 1)
	require.NoError(t, err)
	assert.Equal(t, "/netbox/api/dcim/interfaces/1/", gotPath)
	assert.Equal(t, 2, iface.CountIPAddresses)
	assert.True(t, iface.Physical())
}

func TestChoiceDecoding(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"value": "virtual", "label": "Virtual"}`, "virtual"},
		{`"virtual"`, "virtual"},
	}
	for _, tt := range tests {
		var c Choice
		if err := json.Unmarshal([]byte(tt.in), &c); err != nil {
			t.Fatalf("Unmarshal(%s): %v", tt.in, err)
		}
		if c.Value != tt.want {
			t.Errorf("Unmarshal(%s).Value = %q, want %q", tt.in, c.Value, tt.want)
		}
	}
}

func TestTagRefs(t *testing.T) {
	assert.Nil(t, TagRefs(nil))
	assert.Equal(t, []TagRef{{Name: "a"}, {Name: "b"}}, TagRefs([]string{"a", "b"}))
}
