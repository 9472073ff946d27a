package ogc

const csaBase = "http://www.opengis.net/spec/ogcapi-connectedsystems-1/1.0/conf/"

var conformance = []string{
	"http://www.opengis.net/spec/ogcapi-common-1/1.0/conf/core",
	"http://www.opengis.net/spec/ogcapi-common-1/1.0/conf/landing-page",
	"http://www.opengis.net/spec/ogcapi-common-1/1.0/conf/json",
	"http://www.opengis.net/spec/ogcapi-common-2/1.0/conf/collections",
	csaBase + "core",
	csaBase + "system-features",
	csaBase + "subsystems",
	csaBase + "deployment-features",
	csaBase + "procedure-features",
	csaBase + "sf",
	csaBase + "property-definitions",
	csaBase + "advanced-filtering",
	csaBase + "create-replace-delete",
	csaBase + "update",
	csaBase + "geojson",
	csaBase + "sensorml",
	"http://www.opengis.net/spec/ogcapi-connectedsystems-2/1.0/conf/datastreams",
	"http://www.opengis.net/spec/ogcapi-connectedsystems-2/1.0/conf/create-replace-delete",
	"http://www.opengis.net/spec/ogcapi-connectedsystems-2/1.0/conf/json",
	"http://www.opengis.net/spec/ogcapi-connectedsystems-2/1.0/conf/om-json",
}

// Conformance returns the conformance classes advertised at /conformance
func Conformance() []string {
	out := make([]string, len(conformance))
	copy(out, conformance)
	return out
}
