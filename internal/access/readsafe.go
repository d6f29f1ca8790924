package access

// ReadSafeService is a backend service that only reads state and may be
// invoked on read-tier entities. CrossDomain services accept entities of any
// domain.
type ReadSafeService struct {
	Domain      string
	Service     string
	CrossDomain bool
}

// ReadSafe lists the services exempt from the confirm/control requirement.
// They also skip schedule checks and parameter clamping and never require
// confirmation.
var ReadSafe = []ReadSafeService{
	{Domain: "homeassistant", Service: "update_entity", CrossDomain: true},
	{Domain: "weather", Service: "get_forecasts"},
	{Domain: "calendar", Service: "get_events"},
	{Domain: "todo", Service: "get_items"},
}

// LookupReadSafe returns the read-safe table entry for domain.service.
func LookupReadSafe(domain, service string) (ReadSafeService, bool) {
	for _, rs := range ReadSafe {
		if rs.Domain == domain && rs.Service == service {
			return rs, true
		}
	}

	return ReadSafeService{}, false
}

// IsReadSafe reports whether domain.service is in the read-safe table.
func IsReadSafe(domain, service string) bool {
	_, ok := LookupReadSafe(domain, service)
	return ok
}

// DomainMatches reports whether an entity of entityDomain may be targeted by
// domain.service.
func DomainMatches(entityDomain, domain, service string) bool {
	if entityDomain == domain {
		return true
	}

	rs, ok := LookupReadSafe(domain, service)

	return ok && rs.CrossDomain
}
