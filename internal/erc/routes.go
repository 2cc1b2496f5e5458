package erc

// Tool routes exposed by the enterprise API. The planner proposes calls by
// route; the gateway knows each route's dispatch policy.
const (
	RouteWhoAmI = "/whoami"

	RouteEmployeesList   = "/employees/list"
	RouteEmployeesSearch = "/employees/search"
	RouteEmployeesGet    = "/employees/get"
	RouteEmployeesUpdate = "/employees/update"

	RouteCustomersList   = "/customers/list"
	RouteCustomersSearch = "/customers/search"
	RouteCustomersGet    = "/customers/get"

	RouteProjectsList         = "/projects/list"
	RouteProjectsSearch       = "/projects/search"
	RouteProjectsGet          = "/projects/get"
	RouteProjectsTeamUpdate   = "/projects/team/update"
	RouteProjectsStatusUpdate = "/projects/status/update"

	RouteWikiLoad   = "/wiki/load"
	RouteWikiSearch = "/wiki/search"
	RouteWikiUpdate = "/wiki/update"

	RouteTimeLog               = "/time/log"
	RouteTimeUpdate            = "/time/update"
	RouteTimeGet               = "/time/get"
	RouteTimeSearch            = "/time/search"
	RouteTimeSummaryByProject  = "/time/summary/project"
	RouteTimeSummaryByEmployee = "/time/summary/employee"

	RouteRespond                 = "/respond"
	RouteLoadRespondInstructions = "/load-respond-instructions"
)

type routeSpec struct {
	write     bool
	paginated bool
	itemsKey  string
}

// routes maps every dispatchable tool route to its policy. List and search
// endpoints are autopaginated; writes dispatch exactly once.
var routes = map[string]routeSpec{
	RouteWhoAmI: {},

	RouteEmployeesList:   {paginated: true, itemsKey: "employees"},
	RouteEmployeesSearch: {paginated: true, itemsKey: "employees"},
	RouteEmployeesGet:    {},
	RouteEmployeesUpdate: {write: true},

	RouteCustomersList:   {paginated: true, itemsKey: "companies"},
	RouteCustomersSearch: {paginated: true, itemsKey: "companies"},
	RouteCustomersGet:    {},

	RouteProjectsList:         {paginated: true, itemsKey: "projects"},
	RouteProjectsSearch:       {paginated: true, itemsKey: "projects"},
	RouteProjectsGet:          {},
	RouteProjectsTeamUpdate:   {write: true},
	RouteProjectsStatusUpdate: {write: true},

	RouteWikiLoad:   {},
	RouteWikiSearch: {},
	RouteWikiUpdate: {write: true},

	RouteTimeLog:               {write: true},
	RouteTimeUpdate:            {write: true},
	RouteTimeGet:               {},
	RouteTimeSearch:            {paginated: true, itemsKey: "entries"},
	RouteTimeSummaryByProject:  {},
	RouteTimeSummaryByEmployee: {},

	RouteRespond: {write: true},
}

// KnownRoute reports whether the gateway can dispatch the given tool.
func KnownRoute(tool string) bool {
	if tool == RouteLoadRespondInstructions {
		return true
	}
	_, ok := routes[tool]
	return ok
}
