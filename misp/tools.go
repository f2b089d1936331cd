package misp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/sid6224/misp-mcp/mcpservice"
)

// ID is a MISP identifier. It accepts a JSON string (numeric id or UUID) or
// a JSON number.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number")
	}
	*id = ID(n.String())
	return nil
}

func (id ID) seg() string { return url.PathEscape(string(id)) }

type noArgs struct{}

type userArgs struct {
	UserID ID `json:"user_id" jsonschema:"description=User ID"`
}

type galaxyArgs struct {
	GalaxyID ID `json:"galaxy_id" jsonschema:"description=Galaxy ID or UUID"`
}

type valueArgs struct {
	Value string `json:"value" jsonschema:"description=Value to search for"`
}

type galaxyClusterArgs struct {
	GalaxyClusterID ID `json:"galaxy_cluster_id" jsonschema:"description=Galaxy cluster ID or UUID"`
}

type galaxyClusterSearchArgs struct {
	GalaxyID  ID     `json:"galaxy_id" jsonschema:"description=Galaxy ID to search within"`
	Context   string `json:"context,omitempty" jsonschema:"description=Search context,enum=all,enum=default,enum=org,enum=deleted"`
	SearchAll string `json:"searchall,omitempty" jsonschema:"description=Search term to filter clusters"`
}

type organisationArgs struct {
	OrganisationID ID `json:"organisation_id" jsonschema:"description=Organisation ID or UUID"`
}

type tagArgs struct {
	TagID ID `json:"tag_id" jsonschema:"description=Tag ID"`
}

type tagSearchArgs struct {
	SearchTerm string `json:"search_term" jsonschema:"description=Search term to filter tags"`
}

type taxonomyArgs struct {
	TaxonomyID ID `json:"taxonomy_id" jsonschema:"description=Taxonomy ID"`
}

type eventArgs struct {
	EventID ID `json:"event_id" jsonschema:"description=Event ID or UUID"`
}

type warninglistArgs struct {
	WarninglistID ID `json:"warninglist_id" jsonschema:"description=Warninglist ID"`
}

type noticelistArgs struct {
	NoticelistID ID `json:"noticelist_id" jsonschema:"description=Noticelist ID"`
}

type eventReportArgs struct {
	EventReportID ID `json:"event_report_id" jsonschema:"description=Event report ID"`
}

type collectionArgs struct {
	CollectionID ID `json:"collection_id" jsonschema:"description=Collection ID or UUID"`
}

type collectionSearchArgs struct {
	Filter string `json:"filter" jsonschema:"description=Which collections to list,enum=my_collections,enum=org_collections"`
	UUID   string `json:"uuid,omitempty" jsonschema:"description=Collection UUID"`
	Type   string `json:"type,omitempty" jsonschema:"description=Collection type"`
	Name   string `json:"name,omitempty" jsonschema:"description=Collection name"`
}

type analystTypeArgs struct {
	AnalystType string `json:"analyst_type" jsonschema:"description=Analyst data type,enum=Note,enum=Opinion,enum=Relationship"`
}

type analystDataArgs struct {
	AnalystType   string `json:"analyst_type" jsonschema:"description=Analyst data type,enum=Note,enum=Opinion,enum=Relationship"`
	AnalystDataID ID     `json:"analyst_data_id" jsonschema:"description=Analyst data ID or UUID"`
}

type attributeArgs struct {
	AttributeID ID `json:"attribute_id" jsonschema:"description=Attribute ID or UUID"`
}

type attributeStatsArgs struct {
	Context    string `json:"context" jsonschema:"description=Group statistics by,enum=type,enum=category"`
	Percentage int    `json:"percentage" jsonschema:"description=0 for counts or 1 for percentages,minimum=0,maximum=1"`
}

type attributeSearchArgs struct {
	FilterJSON string `json:"filter_json,omitempty" jsonschema:"description=restSearch filters as a JSON object string; other arguments are sent as filters when omitted"`
}

type eventSearchArgs struct {
	RequestJSON string `json:"request_json,omitempty" jsonschema:"description=events/index filters as a JSON object string; other arguments are sent as filters when omitted"`
}

type restSearchArgs struct {
	Page         int    `json:"page,omitempty" jsonschema:"description=Page number,minimum=1"`
	Limit        int    `json:"limit,omitempty" jsonschema:"description=Results per page,minimum=1"`
	Value        string `json:"value,omitempty" jsonschema:"description=Value to match"`
	Type         string `json:"type,omitempty" jsonschema:"description=Type to match"`
	ReturnFormat string `json:"returnFormat,omitempty" jsonschema:"description=Response format"`
}

type objectArgs struct {
	ObjectID ID `json:"object_id" jsonschema:"description=Object ID or UUID"`
}

// addTool registers a tool that performs one MISP call and renders the body
// as indented JSON. A failed call becomes an error result whose text starts
// with failure(args).
func addTool[A any](reg *mcpservice.Registry, name, desc string,
	call func(ctx context.Context, r *mcpservice.ToolRequest[A]) (json.RawMessage, error),
	failure func(a A) string,
	opts ...mcpservice.ToolOption,
) {
	opts = append([]mcpservice.ToolOption{mcpservice.WithToolDescription(desc)}, opts...)
	reg.Register(mcpservice.NewTool(name, func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[A]) error {
		body, err := call(ctx, r)
		if err != nil {
			w.SetError(true)
			return w.AppendText(fmt.Sprintf("%s: %v", failure(r.Args()), err))
		}
		return w.AppendJSON(body)
	}, opts...))
}

func fixed(msg string) func(noArgs) string {
	return func(noArgs) string { return msg }
}

func get[A any](c *Client, path func(a A) string) func(context.Context, *mcpservice.ToolRequest[A]) (json.RawMessage, error) {
	return func(ctx context.Context, r *mcpservice.ToolRequest[A]) (json.RawMessage, error) {
		return c.Get(ctx, path(r.Args()))
	}
}

func getUnwrapped[A any](c *Client, key string, path func(a A) string) func(context.Context, *mcpservice.ToolRequest[A]) (json.RawMessage, error) {
	return func(ctx context.Context, r *mcpservice.ToolRequest[A]) (json.RawMessage, error) {
		raw, err := c.Get(ctx, path(r.Args()))
		if err != nil {
			return nil, err
		}
		return unwrap(raw, key)
	}
}

func static(p string) func(noArgs) string {
	return func(noArgs) string { return p }
}

// Register adds the MISP tool catalogue to reg.
func Register(reg *mcpservice.Registry, c *Client) {
	registerDirectory(reg, c)
	registerGalaxies(reg, c)
	registerTags(reg, c)
	registerLists(reg, c)
	registerCollections(reg, c)
	registerAttributes(reg, c)
	registerEvents(reg, c)
}

func registerDirectory(reg *mcpservice.Registry, c *Client) {
	addTool(reg, "get_users", "Retrieve all users from MISP",
		get(c, static("/admin/users")), fixed("Failed to get users"))
	addTool(reg, "get_user", "Retrieve a specific user by ID from MISP",
		get(c, func(a userArgs) string { return "/admin/users/view/" + a.UserID.seg() }),
		func(a userArgs) string { return fmt.Sprintf("Failed to get user %s", a.UserID) })
	addTool(reg, "get_organisations", "Get all organisations from the MISP instance",
		get(c, static("/organisations.json")), fixed("Failed to get organisations"))
	addTool(reg, "get_organisation_by_id", "Get a specific organisation by its ID from the MISP instance",
		get(c, func(a organisationArgs) string { return "/organisations/view/" + a.OrganisationID.seg() }),
		func(a organisationArgs) string { return fmt.Sprintf("Failed to get organisation %s", a.OrganisationID) })
}

func registerGalaxies(reg *mcpservice.Registry, c *Client) {
	addTool(reg, "get_galaxies", "Retrieve all galaxies from MISP",
		get(c, static("/galaxies")), fixed("Failed to get galaxies"))
	addTool(reg, "get_galaxy", "Retrieve a specific galaxy by ID from MISP",
		get(c, func(a galaxyArgs) string { return "/galaxies/view/" + a.GalaxyID.seg() + ".json" }),
		func(a galaxyArgs) string { return fmt.Sprintf("Failed to get galaxy %s", a.GalaxyID) })
	addTool(reg, "search_galaxies", "Search MISP galaxies by value filter",
		func(ctx context.Context, r *mcpservice.ToolRequest[valueArgs]) (json.RawMessage, error) {
			return c.Post(ctx, "/galaxies", map[string]string{"value": r.Args().Value})
		},
		func(a valueArgs) string { return fmt.Sprintf("Failed to search galaxies with value '%s'", a.Value) })
	addTool(reg, "get_galaxy_clusters", "Get galaxy clusters for a specific galaxy by ID",
		get(c, func(a galaxyArgs) string { return "/galaxy_clusters/index/" + a.GalaxyID.seg() + ".json" }),
		func(a galaxyArgs) string {
			return fmt.Sprintf("Failed to get galaxy clusters for galaxy_id '%s'", a.GalaxyID)
		})
	addTool(reg, "get_galaxy_cluster_by_id", "Get detailed information about a specific galaxy cluster by ID",
		get(c, func(a galaxyClusterArgs) string {
			return "/galaxy_clusters/view/" + a.GalaxyClusterID.seg() + ".json"
		}),
		func(a galaxyClusterArgs) string {
			return fmt.Sprintf("Failed to get galaxy cluster for galaxy_cluster_id '%s'", a.GalaxyClusterID)
		})
	addTool(reg, "search_galaxy_clusters", "Search galaxy clusters within a specific galaxy using search criteria",
		func(ctx context.Context, r *mcpservice.ToolRequest[galaxyClusterSearchArgs]) (json.RawMessage, error) {
			a := r.Args()
			body := struct {
				Context   string `json:"context,omitempty"`
				SearchAll string `json:"searchall,omitempty"`
			}{a.Context, a.SearchAll}
			return c.Post(ctx, "/galaxy_clusters/index/"+a.GalaxyID.seg(), body)
		},
		func(galaxyClusterSearchArgs) string { return "Failed to search galaxy clusters" })
}

func registerTags(reg *mcpservice.Registry, c *Client) {
	addTool(reg, "get_tags", "Get all tags from the MISP instance",
		getUnwrapped(c, "Tag", static("/tags.json")), fixed("Failed to get tags"))
	addTool(reg, "get_tag_by_id", "Get a specific tag by ID from the MISP instance",
		get(c, func(a tagArgs) string { return "/tags/view/" + a.TagID.seg() }),
		func(tagArgs) string { return "Failed to get tag by ID" })
	addTool(reg, "search_tags", "Search for tags by search term in the MISP instance",
		get(c, func(a tagSearchArgs) string { return "/tags/search/" + url.PathEscape(a.SearchTerm) }),
		func(tagSearchArgs) string { return "Failed to search tags" })
	addTool(reg, "get_taxonomies", "Get all taxonomies from the MISP instance",
		get(c, static("/taxonomies")), fixed("Failed to get taxonomies"))
	addTool(reg, "get_taxonomy_by_id", "Get a specific taxonomy by its ID from the MISP instance",
		get(c, func(a taxonomyArgs) string { return "/taxonomies/view/" + a.TaxonomyID.seg() }),
		func(taxonomyArgs) string { return "Failed to get taxonomy by ID" })
	addTool(reg, "get_taxonomy_extended_with_tags", "Get a taxonomy with its extended tags from the MISP instance",
		get(c, func(a taxonomyArgs) string { return "/taxonomies/taxonomy_tags/" + a.TaxonomyID.seg() }),
		func(taxonomyArgs) string { return "Failed to get taxonomy extended with tags" })
}

func registerLists(reg *mcpservice.Registry, c *Client) {
	addTool(reg, "get_warninglists", "Retrieve all warninglists from MISP",
		get(c, static("/warninglists")), fixed("Failed to get warninglists"))
	addTool(reg, "get_warninglist_by_id", "Retrieve a specific warninglist by its ID from MISP",
		getUnwrapped(c, "Warninglist", func(a warninglistArgs) string {
			return "/warninglists/view/" + a.WarninglistID.seg()
		}),
		func(a warninglistArgs) string { return fmt.Sprintf("Failed to get warninglist %s", a.WarninglistID) })
	addTool(reg, "search_warninglists", "Search warninglists by value in MISP",
		func(ctx context.Context, r *mcpservice.ToolRequest[valueArgs]) (json.RawMessage, error) {
			return c.Post(ctx, "/warninglists", map[string]string{"value": r.Args().Value})
		},
		func(a valueArgs) string { return fmt.Sprintf("Failed to search warninglists with value '%s'", a.Value) })
	addTool(reg, "get_noticelists", "Retrieve all noticelists from MISP",
		get(c, static("/noticelists")), fixed("Failed to get noticelists"))
	addTool(reg, "get_noticelist_by_id", "Retrieve a specific noticelist by its ID from MISP",
		getUnwrapped(c, "Noticelist", func(a noticelistArgs) string {
			return "/noticelists/view/" + a.NoticelistID.seg()
		}),
		func(a noticelistArgs) string { return fmt.Sprintf("Failed to get noticelist %s", a.NoticelistID) })
	addTool(reg, "get_sightings_by_event_id", "Retrieve sightings for a specific event by ID or UUID from MISP",
		get(c, func(a eventArgs) string { return "/sightings/index/" + a.EventID.seg() }),
		func(a eventArgs) string { return fmt.Sprintf("Failed to get sightings for event_id '%s'", a.EventID) })
}

func registerCollections(reg *mcpservice.Registry, c *Client) {
	addTool(reg, "get_eventreports", "Retrieve all event reports from MISP",
		get(c, static("/eventReports/index")), fixed("Failed to get event reports"))
	addTool(reg, "get_event_report_by_id", "Retrieve a single event report by its ID from MISP",
		getUnwrapped(c, "EventReport", func(a eventReportArgs) string {
			return "/eventReports/view/" + a.EventReportID.seg()
		}),
		func(a eventReportArgs) string { return fmt.Sprintf("Failed to get event report %s", a.EventReportID) })
	addTool(reg, "get_collection_by_id", "Retrieve a single collection by its ID from MISP",
		getUnwrapped(c, "Collection", func(a collectionArgs) string {
			return "/collections/view/" + a.CollectionID.seg()
		}),
		func(a collectionArgs) string { return fmt.Sprintf("Failed to get collection %s", a.CollectionID) })
	addTool(reg, "search_collections", "Search for collections with filtering from MISP",
		func(ctx context.Context, r *mcpservice.ToolRequest[collectionSearchArgs]) (json.RawMessage, error) {
			a := r.Args()
			body := struct {
				UUID string `json:"uuid,omitempty"`
				Type string `json:"type,omitempty"`
				Name string `json:"name,omitempty"`
			}{a.UUID, a.Type, a.Name}
			return c.Post(ctx, "/collections/index/"+url.PathEscape(a.Filter), body)
		},
		func(a collectionSearchArgs) string {
			return fmt.Sprintf("Failed to search collections for filter '%s'", a.Filter)
		})
	addTool(reg, "list_analyst_data", "List analyst data of a given type (Note, Opinion, Relationship) from MISP",
		get(c, func(a analystTypeArgs) string { return "/analystData/index/" + url.PathEscape(a.AnalystType) }),
		func(a analystTypeArgs) string {
			return fmt.Sprintf("Failed to list analyst data for type '%s'", a.AnalystType)
		})
	addTool(reg, "get_analyst_data_by_id", "Get a single analyst data object by type and ID from MISP",
		get(c, func(a analystDataArgs) string {
			return "/analystData/view/" + url.PathEscape(a.AnalystType) + "/" + a.AnalystDataID.seg()
		}),
		func(a analystDataArgs) string {
			return fmt.Sprintf("Failed to get analyst data %s/%s", a.AnalystType, a.AnalystDataID)
		})
}

func registerAttributes(reg *mcpservice.Registry, c *Client) {
	addTool(reg, "list_attributes", "List all attributes in the MISP instance.",
		get(c, static("/attributes")), fixed("Failed to list attributes"))
	addTool(reg, "get_attribute_by_id", "Get a single attribute by its ID or UUID.",
		getUnwrapped(c, "Attribute", func(a attributeArgs) string {
			return "/attributes/view/" + a.AttributeID.seg()
		}),
		func(a attributeArgs) string { return fmt.Sprintf("Failed to get attribute for id '%s'", a.AttributeID) })
	addTool(reg, "get_attribute_statistics", "Get attribute statistics by context (type/category) and count/percentage.",
		func(ctx context.Context, r *mcpservice.ToolRequest[attributeStatsArgs]) (json.RawMessage, error) {
			a := r.Args()
			if a.Percentage != 0 && a.Percentage != 1 {
				return nil, errors.New("percentage must be 0 or 1")
			}
			return c.Get(ctx, fmt.Sprintf("/attributes/attributeStatistics/%s/%d", url.PathEscape(a.Context), a.Percentage))
		},
		func(a attributeStatsArgs) string {
			return fmt.Sprintf("Failed to get attribute statistics for context '%s' and percentage '%d'", a.Context, a.Percentage)
		})
	addTool(reg, "describe_attribute_types", "Get list of available attribute types, categories, and sane defaults.",
		getUnwrapped(c, "result", static("/attributes/describeTypes")), fixed("Failed to describe attribute types"))
	addTool(reg, "attributes_rest_search", "Search attributes using the /attributes/restSearch endpoint",
		func(ctx context.Context, r *mcpservice.ToolRequest[attributeSearchArgs]) (json.RawMessage, error) {
			body, err := searchBody(r.RawArguments(), "filter_json", r.Args().FilterJSON)
			if err != nil {
				return nil, err
			}
			return c.Post(ctx, "/attributes/restSearch", body)
		},
		func(attributeSearchArgs) string { return "Failed to search attributes" },
		mcpservice.WithToolAllowAdditionalProperties(true))
}

func registerEvents(reg *mcpservice.Registry, c *Client) {
	addTool(reg, "get_events", "Retrieve all events from MISP",
		get(c, static("/events")), fixed("Failed to get events"))
	addTool(reg, "get_event_by_id", "Retrieve a single event by its ID from MISP",
		get(c, func(a eventArgs) string { return "/events/view/" + a.EventID.seg() }),
		func(a eventArgs) string { return fmt.Sprintf("Failed to get event for event_id '%s'", a.EventID) })
	addTool(reg, "search_events", "Search for events using POST /events/index with flexible filters",
		func(ctx context.Context, r *mcpservice.ToolRequest[eventSearchArgs]) (json.RawMessage, error) {
			body, err := searchBody(r.RawArguments(), "request_json", r.Args().RequestJSON)
			if err != nil {
				return nil, err
			}
			return c.Post(ctx, "/events/index", body)
		},
		func(eventSearchArgs) string { return "Failed to search events" },
		mcpservice.WithToolAllowAdditionalProperties(true))
	addTool(reg, "events_rest_search", "Search events using the /events/restSearch endpoint",
		func(ctx context.Context, r *mcpservice.ToolRequest[restSearchArgs]) (json.RawMessage, error) {
			return c.Post(ctx, "/events/restSearch", argumentsBody(r.RawArguments()))
		},
		func(restSearchArgs) string { return "Failed to search events" },
		mcpservice.WithToolAllowAdditionalProperties(true))
	addTool(reg, "get_object", "Retrieve a specific object by ID or UUID from MISP",
		getUnwrapped(c, "Object", func(a objectArgs) string { return "/objects/view/" + a.ObjectID.seg() }),
		func(a objectArgs) string { return fmt.Sprintf("Failed to get object %s", a.ObjectID) })
	addTool(reg, "objects_rest_search", "Get a filtered and paginated list of objects from MISP",
		func(ctx context.Context, r *mcpservice.ToolRequest[restSearchArgs]) (json.RawMessage, error) {
			raw, err := c.Post(ctx, "/objects/restsearch", argumentsBody(r.RawArguments()))
			if err != nil {
				return nil, err
			}
			return collect(raw, "response", "Object")
		},
		func(restSearchArgs) string { return "Failed to search objects" },
		mcpservice.WithToolAllowAdditionalProperties(true))
}

// argumentsBody forwards the tool arguments object as a request body.
func argumentsBody(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return json.RawMessage("{}")
	}
	return raw
}

// searchBody builds a search request body. A non-empty encoded string under
// key wins; otherwise the remaining arguments are the filters.
func searchBody(raw json.RawMessage, key, encoded string) (json.RawMessage, error) {
	if encoded != "" {
		var filters map[string]json.RawMessage
		if err := json.Unmarshal([]byte(encoded), &filters); err != nil || filters == nil {
			return nil, fmt.Errorf("%s must encode a JSON object", key)
		}
		return json.RawMessage(encoded), nil
	}
	var args map[string]json.RawMessage
	if err := json.Unmarshal(argumentsBody(raw), &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	delete(args, key)
	if args == nil {
		args = map[string]json.RawMessage{}
	}
	return json.Marshal(args)
}
