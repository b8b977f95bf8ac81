package spacex

import (
	"sort"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/singer"
)

func str(col, src string) Field     { return Field{Column: col, Source: src, Type: TypeString} }
func integer(col, src string) Field { return Field{Column: col, Source: src, Type: TypeInteger} }
func number(col, src string) Field  { return Field{Column: col, Source: src, Type: TypeNumber} }
func boolean(col, src string) Field { return Field{Column: col, Source: src, Type: TypeBoolean} }

// array and object default a missing value to an empty collection; nested
// leaves a missing value NULL
func array(col, src string) Field {
	return Field{Column: col, Source: src, Type: TypeArray, Empty: []interface{}{}}
}

func object(col, src string) Field {
	return Field{Column: col, Source: src, Type: TypeObject, Empty: map[string]interface{}{}}
}

func nested(col, src string) Field { return Field{Column: col, Source: src, Type: TypeObject} }

func dateTime(col, src string) Field {
	return Field{Column: col, Source: src, Type: TypeString, Format: "date-time"}
}

func described(f Field, description string) Field {
	f.Description = description
	return f
}

var (
	Company = &Entity{
		Name:      "company",
		Path:      "company",
		Singleton: true,
		Fields: []Field{
			str("ID", "id"),
			str("NAME", "name"),
			str("FOUNDER", "founder"),
			integer("FOUNDED", "founded"),
			integer("EMPLOYEES", "employees"),
			integer("VEHICLES", "vehicles"),
			integer("LAUNCH_SITES", "launch_sites"),
			integer("TEST_SITES", "test_sites"),
			str("CEO", "ceo"),
			str("CTO", "cto"),
			str("COO", "coo"),
			str("CTO_PROPULSION", "cto_propulsion"),
			number("VALUATION", "valuation"),
			object("HEADQUARTERS", "headquarters"),
			object("LINKS", "links"),
			str("SUMMARY", "summary"),
		},
	}

	Capsules = &Entity{
		Name: "capsules",
		Path: "capsules",
		Fields: []Field{
			str("CAPSULE_ID", "id"),
			str("SERIAL", "serial"),
			str("STATUS", "status"),
			str("DRAGON", "dragon"),
			integer("REUSE_COUNT", "reuse_count"),
			integer("WATER_LANDINGS", "water_landings"),
			integer("LAND_LANDINGS", "land_landings"),
			str("LAST_UPDATE", "last_update"),
			array("LAUNCHES", "launches"),
		},
	}

	Cores = &Entity{
		Name: "cores",
		Path: "cores",
		Fields: []Field{
			described(str("CORE_ID", "id"), "Unique identifier for the core"),
			str("SERIAL", "serial"),
			integer("BLOCK", "block"),
			str("STATUS", "status"),
			integer("REUSE_COUNT", "reuse_count"),
			integer("RTLS_ATTEMPTS", "rtls_attempts"),
			integer("RTLS_LANDINGS", "rtls_landings"),
			integer("ASDS_ATTEMPTS", "asds_attempts"),
			integer("ASDS_LANDINGS", "asds_landings"),
			str("LAST_UPDATE", "last_update"),
			array("LAUNCHES", "launches"),
		},
	}

	Crew = &Entity{
		Name: "crew",
		Path: "crew",
		Fields: []Field{
			described(str("CREW_ID", "id"), "Unique identifier for the crew member"),
			str("NAME", "name"),
			str("AGENCY", "agency"),
			str("IMAGE", "image"),
			str("WIKIPEDIA", "wikipedia"),
			str("STATUS", "status"),
			array("LAUNCHES", "launches"),
		},
	}

	Dragons = &Entity{
		Name: "dragons",
		Path: "dragons",
		Fields: []Field{
			described(str("DRAGON_ID", "id"), "Unique identifier for the dragon"),
			str("NAME", "name"),
			str("TYPE", "type"),
			boolean("ACTIVE", "active"),
			integer("CREW_CAPACITY", "crew_capacity"),
			number("SIDEWALL_ANGLE_DEG", "sidewall_angle_deg"),
			integer("ORBIT_DURATION_YR", "orbit_duration_yr"),
			integer("DRY_MASS_KG", "dry_mass_kg"),
			integer("DRY_MASS_LB", "dry_mass_lb"),
			str("FIRST_FLIGHT", "first_flight"),
			nested("HEAT_SHIELD", "heat_shield"),
			array("THRUSTERS", "thrusters"),
			nested("LAUNCH_PAYLOAD_MASS", "launch_payload_mass"),
			nested("LAUNCH_PAYLOAD_VOL", "launch_payload_vol"),
			nested("RETURN_PAYLOAD_MASS", "return_payload_mass"),
			nested("RETURN_PAYLOAD_VOL", "return_payload_vol"),
			nested("PRESSURIZED_CAPSULE", "pressurized_capsule"),
			nested("TRUNK", "trunk"),
			nested("HEIGHT_W_TRUNK", "height_w_trunk"),
			nested("DIAMETER", "diameter"),
			str("WIKIPEDIA", "wikipedia"),
			str("DESCRIPTION", "description"),
			array("FLICKR_IMAGES", "flickr_images"),
		},
	}

	History = &Entity{
		Name: "history",
		Path: "history",
		Fields: []Field{
			described(str("HISTORY_ID", "id"), "Unique identifier for the historical event"),
			str("TITLE", "title"),
			dateTime("EVENT_DATE_UTC", "event_date_utc"),
			integer("EVENT_DATE_UNIX", "event_date_unix"),
			str("DETAILS", "details"),
			object("LINKS", "links"),
			integer("FLIGHT_NUMBER", "flight_number"),
		},
	}

	Launches = &Entity{
		Name: "launches",
		Path: "launches",
		Fields: []Field{
			described(str("LAUNCH_ID", "id"), "Unique identifier for the launch"),
			integer("FLIGHT_NUMBER", "flight_number"),
			str("NAME", "name"),
			dateTime("DATE_UTC", "date_utc"),
			integer("DATE_UNIX", "date_unix"),
			str("DATE_LOCAL", "date_local"),
			str("DATE_PRECISION", "date_precision"),
			dateTime("STATIC_FIRE_DATE_UTC", "static_fire_date_utc"),
			integer("STATIC_FIRE_DATE_UNIX", "static_fire_date_unix"),
			boolean("NET", "net"),
			integer("WINDOW", "window"),
			str("ROCKET", "rocket"),
			boolean("SUCCESS", "success"),
			array("FAILURES", "failures"),
			boolean("UPCOMING", "upcoming"),
			str("DETAILS", "details"),
			object("FAIRINGS", "fairings"),
			array("CREW", "crew"),
			array("SHIPS", "ships"),
			array("CAPSULES", "capsules"),
			array("PAYLOADS", "payloads"),
			str("LAUNCHPAD", "launchpad"),
			array("CORES", "cores"),
			object("LINKS", "links"),
			boolean("AUTO_UPDATE", "auto_update"),
			str("LAUNCH_LIBRARY_ID", "launch_library_id"),
		},
	}

	Launchpads = &Entity{
		Name: "launchpads",
		Path: "launchpads",
		Fields: []Field{
			described(str("LAUNCHPAD_ID", "id"), "Unique identifier for the launch pad"),
			str("NAME", "name"),
			str("FULL_NAME", "full_name"),
			str("STATUS", "status"),
			str("LOCALITY", "locality"),
			str("REGION", "region"),
			str("TIMEZONE", "timezone"),
			number("LATITUDE", "latitude"),
			number("LONGITUDE", "longitude"),
			integer("LAUNCH_ATTEMPTS", "launch_attempts"),
			integer("LAUNCH_SUCCESSES", "launch_successes"),
			array("ROCKETS", "rockets"),
			array("LAUNCHES", "launches"),
			str("DETAILS", "details"),
			object("IMAGES", "images"),
		},
	}

	Landpads = &Entity{
		Name: "landpads",
		Path: "landpads",
		Fields: []Field{
			described(str("LANDPAD_ID", "id"), "Unique identifier for the landing pad"),
			str("NAME", "name"),
			str("FULL_NAME", "full_name"),
			str("STATUS", "status"),
			str("TYPE", "type"),
			str("LOCALITY", "locality"),
			str("REGION", "region"),
			number("LATITUDE", "latitude"),
			number("LONGITUDE", "longitude"),
			integer("LANDING_ATTEMPTS", "landing_attempts"),
			integer("LANDING_SUCCESSES", "landing_successes"),
			str("WIKIPEDIA", "wikipedia"),
			str("DETAILS", "details"),
			array("LAUNCHES", "launches"),
			object("IMAGES", "images"),
		},
	}

	Payloads = &Entity{
		Name: "payloads",
		Path: "payloads",
		Fields: []Field{
			described(str("PAYLOAD_ID", "id"), "Unique identifier for the payload"),
			str("NAME", "name"),
			str("TYPE", "type"),
			boolean("REUSED", "reused"),
			str("LAUNCH", "launch"),
			array("CUSTOMERS", "customers"),
			array("NORAD_IDS", "norad_ids"),
			array("NATIONALITIES", "nationalities"),
			array("MANUFACTURERS", "manufacturers"),
			number("MASS_KG", "mass_kg"),
			number("MASS_LBS", "mass_lbs"),
			str("ORBIT", "orbit"),
			str("REFERENCE_SYSTEM", "reference_system"),
			str("REGIME", "regime"),
			number("LONGITUDE", "longitude"),
			number("SEMI_MAJOR_AXIS_KM", "semi_major_axis_km"),
			number("ECCENTRICITY", "eccentricity"),
			number("PERIAPSIS_KM", "periapsis_km"),
			number("APOAPSIS_KM", "apoapsis_km"),
			number("INCLINATION_DEG", "inclination_deg"),
			number("PERIOD_MIN", "period_min"),
			number("LIFESPAN_YEARS", "lifespan_years"),
			dateTime("EPOCH", "epoch"),
			number("MEAN_MOTION", "mean_motion"),
			number("RAAN", "raan"),
			number("ARG_OF_PERICENTER", "arg_of_pericenter"),
			number("MEAN_ANOMALY", "mean_anomaly"),
			object("DRAGON", "dragon"),
		},
	}

	Roadster = &Entity{
		Name:      "roadster",
		Path:      "roadster",
		Singleton: true,
		Fields: []Field{
			described(str("ROADSTER_ID", "id"), "Unique identifier for the roadster"),
			str("NAME", "name"),
			dateTime("LAUNCH_DATE_UTC", "launch_date_utc"),
			integer("LAUNCH_DATE_UNIX", "launch_date_unix"),
			number("LAUNCH_MASS_KG", "launch_mass_kg"),
			number("LAUNCH_MASS_LBS", "launch_mass_lbs"),
			integer("NORAD_ID", "norad_id"),
			described(number("EPOCH_JD", "epoch_jd"), "Julian Date of epoch"),
			str("ORBIT_TYPE", "orbit_type"),
			number("APOAPSIS_AU", "apoapsis_au"),
			number("PERIAPSIS_AU", "periapsis_au"),
			number("SEMI_MAJOR_AXIS_AU", "semi_major_axis_au"),
			number("ECCENTRICITY", "eccentricity"),
			number("INCLINATION", "inclination"),
			number("LONGITUDE", "longitude"),
			number("PERIOD_DAYS", "period_days"),
			number("SPEED_KPH", "speed_kph"),
			number("SPEED_MPH", "speed_mph"),
			number("EARTH_DISTANCE_KM", "earth_distance_km"),
			number("EARTH_DISTANCE_MI", "earth_distance_mi"),
			number("MARS_DISTANCE_KM", "mars_distance_km"),
			number("MARS_DISTANCE_MI", "mars_distance_mi"),
			str("WIKIPEDIA", "wikipedia"),
			str("DETAILS", "details"),
			str("VIDEO", "video"),
			array("FLICKR_IMAGES", "flickr_images"),
		},
	}

	Rockets = &Entity{
		Name: "rockets",
		Path: "rockets",
		Fields: []Field{
			described(str("ROCKET_ID", "id"), "Unique identifier for the rocket"),
			str("NAME", "name"),
			str("TYPE", "type"),
			boolean("ACTIVE", "active"),
			integer("STAGES", "stages"),
			integer("BOOSTERS", "boosters"),
			integer("COST_PER_LAUNCH", "cost_per_launch"),
			integer("SUCCESS_RATE_PCT", "success_rate_pct"),
			{Column: "FIRST_FLIGHT", Source: "first_flight", Type: TypeString, Format: "date"},
			str("COUNTRY", "country"),
			str("COMPANY", "company"),
			number("HEIGHT_METERS", "height.meters"),
			number("HEIGHT_FEET", "height.feet"),
			number("DIAMETER_METERS", "diameter.meters"),
			number("DIAMETER_FEET", "diameter.feet"),
			number("MASS_KG", "mass.kg"),
			number("MASS_LBS", "mass.lb"),
			array("PAYLOAD_WEIGHTS", "payload_weights"),
			object("FIRST_STAGE", "first_stage"),
			object("SECOND_STAGE", "second_stage"),
			object("ENGINES", "engines"),
			object("LANDING_LEGS", "landing_legs"),
			array("FLICKR_IMAGES", "flickr_images"),
			str("WIKIPEDIA", "wikipedia"),
			str("DESCRIPTION", "description"),
		},
	}

	Starlink = &Entity{
		Name: "starlink",
		Path: "starlink",
		Fields: []Field{
			described(str("STARLINK_ID", "id"), "Unique identifier for the Starlink satellite"),
			str("VERSION", "version"),
			described(str("LAUNCH", "launch"), "Associated launch ID"),
			number("LONGITUDE", "longitude"),
			number("LATITUDE", "latitude"),
			number("HEIGHT_KM", "height_km"),
			number("VELOCITY_KMS", "velocity_kms"),
			described(object("SPACETRACK", "spaceTrack"), "Space-Track.org data"),
			str("LAUNCH_DATE", "spaceTrack.LAUNCH_DATE"),
			str("OBJECT_NAME", "spaceTrack.OBJECT_NAME"),
			str("OBJECT_ID", "spaceTrack.OBJECT_ID"),
			str("EPOCH", "spaceTrack.EPOCH"),
			number("PERIOD_MIN", "spaceTrack.PERIOD"),
			number("INCLINATION_DEG", "spaceTrack.INCLINATION"),
			number("APOAPSIS_KM", "spaceTrack.APOAPSIS"),
			number("PERIAPSIS_KM", "spaceTrack.PERIAPSIS"),
			number("ECCENTRICITY", "spaceTrack.ECCENTRICITY"),
			number("MEAN_MOTION", "spaceTrack.MEAN_MOTION"),
			number("MEAN_ANOMALY", "spaceTrack.MEAN_ANOMALY"),
			number("ARG_OF_PERICENTER", "spaceTrack.ARG_OF_PERICENTER"),
			described(number("RAAN", "spaceTrack.RA_OF_ASC_NODE"), "Right Ascension of the Ascending Node"),
			number("SEMI_MAJOR_AXIS_KM", "spaceTrack.SEMIMAJOR_AXIS"),
		},
	}

	Ships = &Entity{
		Name: "ships",
		Path: "ships",
		Fields: []Field{
			described(str("SHIP_ID", "id"), "Unique identifier for the ship"),
			str("NAME", "name"),
			described(str("LEGACY_ID", "legacy_id"), "Legacy identifier if exists"),
			str("MODEL", "model"),
			str("TYPE", "type"),
			boolean("ACTIVE", "active"),
			described(integer("IMO", "imo"), "International Maritime Organization number"),
			described(integer("MMSI", "mmsi"), "Maritime Mobile Service Identity number"),
			described(integer("ABS", "abs"), "American Bureau of Shipping identification"),
			integer("CLASS", "class"),
			integer("MASS_KG", "mass_kg"),
			integer("MASS_LBS", "mass_lbs"),
			integer("YEAR_BUILT", "year_built"),
			str("HOME_PORT", "home_port"),
			str("STATUS", "status"),
			described(number("SPEED_KN", "speed_kn"), "Speed in knots"),
			described(number("COURSE_DEG", "course_deg"), "Course in degrees"),
			number("LATITUDE", "latitude"),
			number("LONGITUDE", "longitude"),
			dateTime("LAST_AIS_UPDATE", "last_ais_update"),
			described(str("LINK", "link"), "URL to Marine Traffic page"),
			described(str("IMAGE", "image"), "URL to ship image"),
			array("LAUNCHES", "launches"),
			array("ROLES", "roles"),
		},
	}
)

var registry = map[string]*Entity{}

func init() {
	for _, e := range []*Entity{
		Company, Capsules, Cores, Crew, Dragons,
		History, Launches, Launchpads, Landpads, Payloads,
		Roadster, Rockets, Starlink, Ships,
	} {
		registry[e.Name] = e
	}
}

// Lookup returns the entity named name
func Lookup(name string) (*Entity, error) {
	e, ok := registry[name]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "unknown entity %q", name)
	}
	return e, nil
}

// All returns every entity sorted by name
func All() []*Entity {
	out := make([]*Entity, 0, len(registry))
	for _, e := range registry {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CatalogEntry describes one stream for discovery
type CatalogEntry struct {
	Entity        string         `json:"entity" yaml:"entity"`
	Stream        string         `json:"stream" yaml:"stream"`
	Endpoint      string         `json:"endpoint" yaml:"endpoint"`
	KeyProperties []string       `json:"key_properties" yaml:"key_properties"`
	Schema        *singer.Schema `json:"schema" yaml:"schema"`
}

// Catalog describes every entity, naming streams with tableName
func Catalog(tableName func(entity string) string) []CatalogEntry {
	entities := All()
	out := make([]CatalogEntry, 0, len(entities))
	for _, e := range entities {
		out = append(out, CatalogEntry{
			Entity:        e.Name,
			Stream:        tableName(e.Name),
			Endpoint:      e.Path,
			KeyProperties: []string{e.Key()},
			Schema:        e.Schema(),
		})
	}
	return out
}
