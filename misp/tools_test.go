package misp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sid6224/misp-mcp/mcp"
	"github.com/sid6224/misp-mcp/mcpservice"
)

type recorded struct {
	method string
	path   string
	body   string
}

type recorder struct {
	mu   sync.Mutex
	reqs []recorded
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.reqs...)
}

// fakeMISP answers every request with the body registered for its path and
// records what it received.
func fakeMISP(t *testing.T, routes map[string]string) (*mcpservice.Registry, *recorder) {
	t.Helper()
	seen := &recorder{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen.mu.Lock()
		seen.reqs = append(seen.reqs, recorded{r.Method, r.URL.EscapedPath(), string(b)})
		seen.mu.Unlock()
		body, ok := routes[r.URL.EscapedPath()]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	reg := mcpservice.NewRegistry()
	Register(reg, c)
	return reg, seen
}

func call(t *testing.T, reg *mcpservice.Registry, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	raw := make(map[string]json.RawMessage, len(args))
	for k, v := range args {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		raw[k] = b
	}
	res, err := reg.Execute(context.Background(), name, raw)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	return res.Content[0].Text
}

func TestRegisterCatalogue(t *testing.T) {
	reg, _ := fakeMISP(t, nil)
	assert.Equal(t, 39, reg.Len())

	for _, d := range reg.List() {
		assert.NotEmpty(t, d.Description, d.Name)
		assert.Equal(t, "object", d.InputSchema.Type, d.Name)
	}

	tool, ok := reg.Lookup("get_user")
	require.True(t, ok)
	assert.Equal(t, "Retrieve a specific user by ID from MISP", tool.Descriptor.Description)
	assert.Equal(t, []string{"user_id"}, tool.Descriptor.InputSchema.Required)

	tool, ok = reg.Lookup("search_galaxy_clusters")
	require.True(t, ok)
	assert.Equal(t, []string{"galaxy_id"}, tool.Descriptor.InputSchema.Required)

	tool, ok = reg.Lookup("list_analyst_data")
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"Note", "Opinion", "Relationship"}, tool.Descriptor.InputSchema.Properties["analyst_type"].Enum)

	tool, ok = reg.Lookup("events_rest_search")
	require.True(t, ok)
	require.NotNil(t, tool.Descriptor.InputSchema.AdditionalProperties)
	assert.True(t, *tool.Descriptor.InputSchema.AdditionalProperties)
}

func TestPassthroughRendersIndentedJSON(t *testing.T) {
	reg, seen := fakeMISP(t, map[string]string{
		"/admin/users/view/5": `{"User":{"id":"5","email":"a@b"}}`,
	})

	res := call(t, reg, "get_user", map[string]any{"user_id": "5"})
	assert.False(t, res.IsError)
	assert.Equal(t, "{\n  \"User\": {\n    \"id\": \"5\",\n    \"email\": \"a@b\"\n  }\n}", text(t, res))
	require.Len(t, seen.all(), 1)
	assert.Equal(t, recorded{http.MethodGet, "/admin/users/view/5", ""}, seen.all()[0])
}

func TestNumericIDsAreAccepted(t *testing.T) {
	reg, seen := fakeMISP(t, map[string]string{"/galaxies/view/12.json": `{}`})

	res := call(t, reg, "get_galaxy", map[string]any{"galaxy_id": 12})
	assert.False(t, res.IsError, text(t, res))
	assert.Equal(t, "/galaxies/view/12.json", seen.all()[0].path)
}

func TestPathSegmentsAreEscaped(t *testing.T) {
	reg, seen := fakeMISP(t, map[string]string{"/tags/search/tlp:red%2Fx": `[]`})

	res := call(t, reg, "search_tags", map[string]any{"search_term": "tlp:red/x"})
	assert.False(t, res.IsError, text(t, res))
	assert.Equal(t, "/tags/search/tlp:red%2Fx", seen.all()[0].path)
}

func TestUnwrapsSingleObjects(t *testing.T) {
	tests := []struct {
		tool string
		args map[string]any
		path string
		body string
		want string
	}{
		{"get_warninglist_by_id", map[string]any{"warninglist_id": "3"}, "/warninglists/view/3", `{"Warninglist":{"id":"3"}}`, `{"id":"3"}`},
		{"get_noticelist_by_id", map[string]any{"noticelist_id": "4"}, "/noticelists/view/4", `{"Noticelist":{"id":"4"}}`, `{"id":"4"}`},
		{"get_event_report_by_id", map[string]any{"event_report_id": "5"}, "/eventReports/view/5", `{"EventReport":{"id":"5"}}`, `{"id":"5"}`},
		{"get_collection_by_id", map[string]any{"collection_id": "6"}, "/collections/view/6", `{"Collection":{"id":"6"}}`, `{"id":"6"}`},
		{"get_attribute_by_id", map[string]any{"attribute_id": "7"}, "/attributes/view/7", `{"Attribute":{"id":"7"}}`, `{"id":"7"}`},
		{"get_object", map[string]any{"object_id": "8"}, "/objects/view/8", `{"Object":{"id":"8"}}`, `{"id":"8"}`},
		{"get_tags", nil, "/tags.json", `{"Tag":[{"id":"1","name":"tlp:white"}]}`, `[{"id":"1","name":"tlp:white"}]`},
		{"describe_attribute_types", nil, "/attributes/describeTypes", `{"result":{"types":["ip-src"]}}`, `{"types":["ip-src"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			reg, _ := fakeMISP(t, map[string]string{tt.path: tt.body})
			res := call(t, reg, tt.tool, tt.args)
			require.False(t, res.IsError, text(t, res))
			assert.JSONEq(t, tt.want, text(t, res))
		})
	}
}

func TestUnwrapMissingKeyIsErrorResult(t *testing.T) {
	reg, _ := fakeMISP(t, map[string]string{"/warninglists/view/3": `{"message":"nope"}`})

	res := call(t, reg, "get_warninglist_by_id", map[string]any{"warninglist_id": "3"})
	assert.True(t, res.IsError)
	assert.Equal(t, `Failed to get warninglist 3: response has no "Warninglist" field`, text(t, res))
}

func TestObjectsRestSearchFlattens(t *testing.T) {
	reg, seen := fakeMISP(t, map[string]string{
		"/objects/restsearch": `{"response":[{"Object":{"id":"1"}},{"Other":{}},{"Object":{"id":"2"}}]}`,
	})

	res := call(t, reg, "objects_rest_search", map[string]any{"limit": 2, "object_name": "file"})
	require.False(t, res.IsError, text(t, res))
	assert.JSONEq(t, `[{"id":"1"},{"id":"2"}]`, text(t, res))
	assert.JSONEq(t, `{"limit":2,"object_name":"file"}`, seen.all()[0].body)
}

func TestObjectsRestSearchWithoutResponseArray(t *testing.T) {
	reg, _ := fakeMISP(t, map[string]string{"/objects/restsearch": `{}`})

	res := call(t, reg, "objects_rest_search", nil)
	assert.True(t, res.IsError)
	assert.Equal(t, `Failed to search objects: response has no "response" array`, text(t, res))
}

func TestPostBodies(t *testing.T) {
	tests := []struct {
		tool string
		args map[string]any
		path string
		body string
	}{
		{"search_galaxies", map[string]any{"value": "apt"}, "/galaxies", `{"value":"apt"}`},
		{"search_warninglists", map[string]any{"value": "8.8.8.8"}, "/warninglists", `{"value":"8.8.8.8"}`},
		{"search_galaxy_clusters", map[string]any{"galaxy_id": "1", "context": "all", "searchall": "emotet"}, "/galaxy_clusters/index/1", `{"context":"all","searchall":"emotet"}`},
		{"search_galaxy_clusters", map[string]any{"galaxy_id": "1"}, "/galaxy_clusters/index/1", `{}`},
		{"search_collections", map[string]any{"filter": "my_collections", "name": "c2"}, "/collections/index/my_collections", `{"name":"c2"}`},
		{"attributes_rest_search", map[string]any{"filter_json": `{"value":"1.2.3.4"}`}, "/attributes/restSearch", `{"value":"1.2.3.4"}`},
		{"attributes_rest_search", map[string]any{"type": "ip-dst", "limit": 5}, "/attributes/restSearch", `{"type":"ip-dst","limit":5}`},
		{"search_events", map[string]any{"request_json": `{"eventinfo":"phish"}`}, "/events/index", `{"eventinfo":"phish"}`},
		{"events_rest_search", map[string]any{"tags": []string{"tlp:red"}}, "/events/restSearch", `{"tags":["tlp:red"]}`},
		{"events_rest_search", nil, "/events/restSearch", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			reg, seen := fakeMISP(t, map[string]string{tt.path: `[]`})
			res := call(t, reg, tt.tool, tt.args)
			require.False(t, res.IsError, text(t, res))
			require.Len(t, seen.all(), 1)
			assert.Equal(t, http.MethodPost, seen.all()[0].method)
			assert.JSONEq(t, tt.body, seen.all()[0].body)
		})
	}
}

func TestSearchRejectsNonObjectFilter(t *testing.T) {
	reg, seen := fakeMISP(t, nil)

	res := call(t, reg, "attributes_rest_search", map[string]any{"filter_json": "[1,2]"})
	assert.True(t, res.IsError)
	assert.Equal(t, "Failed to search attributes: filter_json must encode a JSON object", text(t, res))
	assert.Empty(t, seen.all())
}

func TestAttributeStatistics(t *testing.T) {
	reg, seen := fakeMISP(t, map[string]string{"/attributes/attributeStatistics/type/1": `{"ip-src":"50%"}`})

	res := call(t, reg, "get_attribute_statistics", map[string]any{"context": "type", "percentage": 1})
	require.False(t, res.IsError, text(t, res))
	assert.Len(t, seen.all(), 1)

	res = call(t, reg, "get_attribute_statistics", map[string]any{"context": "type", "percentage": 3})
	assert.True(t, res.IsError)
	assert.Equal(t, "Failed to get attribute statistics for context 'type' and percentage '3': percentage must be 0 or 1", text(t, res))
	assert.Len(t, seen.all(), 1)
}

func TestFailuresBecomeErrorResults(t *testing.T) {
	reg, _ := fakeMISP(t, nil)

	tests := []struct {
		tool string
		args map[string]any
		want string
	}{
		{"get_users", nil, "Failed to get users: resource not found: "},
		{"get_user", map[string]any{"user_id": "5"}, "Failed to get user 5: resource not found: "},
		{"get_event_by_id", map[string]any{"event_id": "9"}, "Failed to get event for event_id '9': resource not found: "},
		{"search_tags", map[string]any{"search_term": "x"}, "Failed to search tags: resource not found: "},
		{"get_analyst_data_by_id", map[string]any{"analyst_type": "Note", "analyst_data_id": "1"}, "Failed to get analyst data Note/1: resource not found: "},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			res := call(t, reg, tt.tool, tt.args)
			assert.True(t, res.IsError)
			assert.Contains(t, text(t, res), tt.want)
		})
	}
}

func TestMissingRequiredArgument(t *testing.T) {
	reg, seen := fakeMISP(t, nil)

	res := call(t, reg, "get_user", nil)
	assert.True(t, res.IsError)
	assert.Equal(t, "invalid arguments: user_id is required", text(t, res))
	assert.Empty(t, seen.all())
}

func TestUnknownArgumentRejected(t *testing.T) {
	reg, seen := fakeMISP(t, nil)

	res := call(t, reg, "get_user", map[string]any{"user_id": "1", "extra": true})
	assert.True(t, res.IsError)
	assert.Empty(t, seen.all())
}
